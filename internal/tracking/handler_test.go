package tracking

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/mailing"
	"github.com/ignite/investor-outreach/internal/repository/memory"
	"github.com/ignite/investor-outreach/internal/service/outreach"
)

type failingRecorder struct{}

func (failingRecorder) RecordOpen(context.Context, string) (bool, error) {
	return false, errors.New("db down")
}

func (failingRecorder) RecordClick(context.Context, string, string) (bool, error) {
	return false, errors.New("db down")
}

func setup(t *testing.T) (*memory.Store, http.Handler) {
	t.Helper()
	store := memory.New()
	sent := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Outreach().Create(context.Background(), &domain.Outreach{
		ID: "o1", TrackingID: "tid-1", Status: domain.OutreachSent, Type: domain.StepEmail, SentAt: &sent,
	}))
	tracker := outreach.NewTracker(store.Outreach(), nil, clockwork.NewFakeClockAt(sent.Add(time.Hour)))
	return store, NewHandler(tracker).Routes()
}

func status(t *testing.T, store *memory.Store) domain.OutreachStatus {
	t.Helper()
	o, err := store.Outreach().GetByTrackingID(context.Background(), "tid-1")
	require.NoError(t, err)
	return o.Status
}

func TestOpenServesPixelAndRecords(t *testing.T) {
	store, h := setup(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, mailing.OpenPath+"?tid=tid-1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	assert.Equal(t, pixelGIF, rec.Body.Bytes())
	assert.Equal(t, domain.OutreachOpened, status(t, store))
}

func TestOpenUnknownOrMissingTrackingID(t *testing.T) {
	_, h := setup(t)
	for _, target := range []string{mailing.OpenPath, mailing.OpenPath + "?tid=unknown"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, pixelGIF, rec.Body.Bytes(), target)
	}
}

func TestClickRedirectsAndRecords(t *testing.T) {
	store, h := setup(t)
	dest := "https://deck.example.com/a?b=1&c=2"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, mailing.ClickPath+"?tid=tid-1&url="+url.QueryEscape(dest), nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, dest, rec.Header().Get("Location"))
	assert.Equal(t, domain.OutreachClicked, status(t, store))

	// a late open never downgrades the click
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, mailing.OpenPath+"?tid=tid-1", nil))
	assert.Equal(t, domain.OutreachClicked, status(t, store))
}

func TestTrackingErrorsAreSwallowed(t *testing.T) {
	h := NewHandler(failingRecorder{}).Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, mailing.OpenPath+"?tid=x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, mailing.ClickPath+"?tid=x&url="+url.QueryEscape("https://example.com"), nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Location"))
}

func TestClickRejectsUnsafeDestinations(t *testing.T) {
	_, h := setup(t)
	for _, dest := range []string{"", "javascript:alert(1)", "/relative", "ftp://files.example.com"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, mailing.ClickPath+"?tid=tid-1&url="+url.QueryEscape(dest), nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, dest)
	}
}

func TestPreparedLinksRoundTrip(t *testing.T) {
	store, h := setup(t)
	p := mailing.NewPreparer("https://t.example.com")
	dest := "https://example.com/path?x=1&y=two"

	u, err := url.Parse(p.ClickURL("tid-1", dest))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	assert.Equal(t, dest, rec.Header().Get("Location"))
	assert.Equal(t, domain.OutreachClicked, status(t, store))
}
