package distlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisLockExclusive(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)

	a := NewRedisLock(rdb, "claim-sweep", time.Minute)
	b := NewRedisLock(rdb, "claim-sweep", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	// b releasing must not free a's lock
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("lock:claim-sweep"))

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("lock:claim-sweep"))
}

func TestRedisLockExtend(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)

	l := NewRedisLock(rdb, "k", time.Second)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Extend(ctx, time.Minute))
	assert.Greater(t, mr.TTL("lock:k"), 30*time.Second)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, l.Extend(ctx, time.Minute), ErrNotOwned)
}

func TestWithLock(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)

	holder := NewRedisLock(rdb, "job", time.Minute)
	ran, err := WithLock(ctx, NewRedisLock(rdb, "job", time.Minute), func(ctx context.Context) error {
		ok, err := holder.Acquire(ctx)
		require.NoError(t, err)
		assert.False(t, ok, "lock is held while fn runs")
		return errors.New("boom")
	})
	assert.True(t, ran)
	assert.EqualError(t, err, "boom")

	ok, err := holder.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lock released after fn")
}

func TestNewLockBackends(t *testing.T) {
	_, err := NewLock(nil, nil, "k", time.Minute)
	assert.ErrorIs(t, err, ErrNoBackend)

	_, rdb := newRedis(t)
	l, err := NewLock(rdb, nil, "k", time.Minute)
	require.NoError(t, err)
	assert.IsType(t, &RedisLock{}, l)
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPGAdvisoryLock(db, "claim-sweep")
	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(l.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(l.lockID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Release(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
