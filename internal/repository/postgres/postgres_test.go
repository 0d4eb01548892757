package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/service/directory"
	"github.com/ignite/investor-outreach/internal/service/enrollment"
	"github.com/ignite/investor-outreach/internal/service/outreach"
	"github.com/ignite/investor-outreach/internal/service/sequence"
)

var now = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var enrollmentCols = []string{
	"id", "sequence_id", "investor_id", "campaign_id", "organization_id", "status",
	"current_step_order", "next_send_at", "enrolled_at", "started_at", "completed_at",
	"claim_token", "claim_expires_at",
}

func enrollmentRow(rows *sqlmock.Rows, id string, status string, order int, next any, token any) *sqlmock.Rows {
	return rows.AddRow(id, "seq-1", "inv-"+id, nil, "org-1", status, order, next, now.Add(-time.Hour), now.Add(-time.Hour), nil, token, nil)
}

func TestSequenceGet(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSequenceRepo(db)

	mock.ExpectQuery("SELECT id, organization_id, campaign_id, name, status, created_at").
		WithArgs("seq-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "campaign_id", "name", "status", "created_at"}).
			AddRow("seq-1", "org-1", "camp-1", "Seed", "active", now))

	s, err := repo.Get(context.Background(), "seq-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SequenceActive, s.Status)
	require.NotNil(t, s.CampaignID)
	assert.Equal(t, "camp-1", *s.CampaignID)

	mock.ExpectQuery("SELECT id, organization_id, campaign_id, name, status, created_at").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, sequence.ErrNotFound)
}

func TestSequenceAddStepAppends(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSequenceRepo(db)

	content := "Hi"
	step := &domain.Step{ID: "st-4", SequenceID: "seq-1", Type: domain.StepEmail, DelayDays: 2, Content: &content}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM sequences").WithArgs("seq-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("seq-1"))
	mock.ExpectQuery("SELECT COALESCE").WithArgs("seq-1").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(4))
	mock.ExpectExec("INSERT INTO sequence_steps").
		WithArgs("st-4", "seq-1", 4, "email", 2, nil, nil, "Hi").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := repo.AddStep(context.Background(), step)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Order)
	assert.Zero(t, step.Order, "input is not mutated")
}

func TestSequenceAddStepUnknownSequence(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSequenceRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM sequences").WithArgs("nope").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.AddStep(context.Background(), &domain.Step{ID: "st", SequenceID: "nope", Type: domain.StepWait})
	assert.ErrorIs(t, err, sequence.ErrNotFound)
}

func TestSequenceDeleteStepRenumbers(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSequenceRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM sequence_steps").WithArgs("st-2", "seq-1").
		WillReturnRows(sqlmock.NewRows([]string{"step_order"}).AddRow(2))
	mock.ExpectExec("SET CONSTRAINTS sequence_steps_order_key DEFERRED").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE sequence_steps SET step_order = step_order - 1").
		WithArgs("seq-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.DeleteStep(context.Background(), "seq-1", "st-2"))
}

func TestSequenceDeleteStepNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSequenceRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("DELETE FROM sequence_steps").WithArgs("st-9", "seq-1").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	assert.ErrorIs(t, repo.DeleteStep(context.Background(), "seq-1", "st-9"), sequence.ErrStepNotFound)
}

func TestSequenceActivateStampsStartedAt(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSequenceRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sequences SET status").WithArgs("active", "seq-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sequence_enrollments SET started_at").WithArgs(now, "seq-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, repo.SetStatus(context.Background(), "seq-1", domain.SequenceActive, now))
}

func TestSequenceStepAt(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSequenceRepo(db)
	cols := []string{"id", "sequence_id", "step_order", "type", "delay_days", "template_id", "subject", "content"}

	mock.ExpectQuery("FROM sequence_steps").WithArgs("seq-1", 1).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("st-1", "seq-1", 1, "email", 0, "tpl-1", nil, nil))
	st, err := repo.StepAt(context.Background(), "seq-1", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StepEmail, st.Type)
	require.NotNil(t, st.TemplateID)
	assert.Equal(t, "tpl-1", *st.TemplateID)
	assert.Nil(t, st.Content)

	mock.ExpectQuery("FROM sequence_steps").WithArgs("seq-1", 2).WillReturnError(sql.ErrNoRows)
	_, err = repo.StepAt(context.Background(), "seq-1", 2)
	assert.ErrorIs(t, err, sequence.ErrStepNotFound)
}

func TestEnrollInsertsWithConflictSkip(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEnrollmentRepo(db)

	next := now
	batch := []*domain.Enrollment{
		{ID: "e1", SequenceID: "seq-1", InvestorID: "inv-1", OrganizationID: "org-1", Status: domain.EnrollmentActive, NextSendAt: &next, EnrolledAt: now},
		{ID: "e2", SequenceID: "seq-1", InvestorID: "inv-2", OrganizationID: "org-1", Status: domain.EnrollmentActive, NextSendAt: &next, EnrolledAt: now},
	}

	mock.ExpectExec("INSERT INTO sequence_enrollments").
		WithArgs(pq.Array([]string{"e1", "e2"}), pq.Array([]string{"inv-1", "inv-2"}), "seq-1", nil, "org-1", "active", now, now, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.Enroll(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnrollUnknownInvestor(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEnrollmentRepo(db)

	mock.ExpectExec("INSERT INTO sequence_enrollments").
		WillReturnError(&pq.Error{Code: "23503", Message: "violates foreign key constraint"})

	_, err := repo.Enroll(context.Background(), []*domain.Enrollment{{ID: "e1", SequenceID: "seq-1", InvestorID: "ghost"}})
	assert.ErrorIs(t, err, enrollment.ErrInvestorNotFound)
}

func TestEnrollEmptyBatch(t *testing.T) {
	db, _ := newMock(t)
	n, err := NewEnrollmentRepo(db).Enroll(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClaimDueOrdersResults(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEnrollmentRepo(db)

	earlier := now.Add(-2 * time.Hour)
	rows := sqlmock.NewRows(enrollmentCols)
	enrollmentRow(rows, "b", "active", 1, now, "run:b")
	enrollmentRow(rows, "c", "active", 0, earlier, "run:c")
	enrollmentRow(rows, "a", "active", 1, now, "run:a")

	mock.ExpectQuery("WITH due AS").
		WithArgs(now, 10, sqlmock.AnyArg(), now.Add(5*time.Minute)).
		WillReturnRows(rows)

	out, err := repo.ClaimDue(context.Background(), now, 10, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{out[0].ID, out[1].ID, out[2].ID})
	assert.Equal(t, "run:c", out[0].ClaimToken)
}

func TestAdvanceClaimLost(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEnrollmentRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM sequence_enrollments e WHERE").WithArgs("e1", "stale").
		WillReturnRows(sqlmock.NewRows(enrollmentCols))
	mock.ExpectRollback()

	err := repo.Advance(context.Background(), enrollment.AdvanceInput{EnrollmentID: "e1", ClaimToken: "stale", StepOrder: 1, Now: now})
	assert.ErrorIs(t, err, enrollment.ErrClaimLost)
}

func TestAdvanceCompletesAndClearsClaim(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEnrollmentRepo(db)

	rows := sqlmock.NewRows(enrollmentCols)
	enrollmentRow(rows, "e1", "active", 2, now, "tok")

	mock.ExpectBegin()
	mock.ExpectQuery("FROM sequence_enrollments e WHERE").WithArgs("e1", "tok").WillReturnRows(rows)
	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("e1", "completed", 3, nil, now, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Advance(context.Background(), enrollment.AdvanceInput{
		EnrollmentID: "e1", ClaimToken: "tok", StepOrder: 3, Status: domain.EnrollmentCompleted, Now: now,
	})
	require.NoError(t, err)
}

func TestBulkSetStatusSkipsTerminal(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEnrollmentRepo(db)

	past := now.Add(-48 * time.Hour)
	rows := sqlmock.NewRows(enrollmentCols)
	enrollmentRow(rows, "e1", "paused", 1, past, nil)
	enrollmentRow(rows, "e2", "completed", 3, nil, nil)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM sequence_enrollments e WHERE").
		WithArgs(pq.Array([]string{"e1", "e2"})).
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE sequence_enrollments").
		WithArgs("e1", "active", 1, now, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.BulkSetStatus(context.Background(), []string{"e1", "e2"}, domain.EnrollmentActive, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReleaseRequiresToken(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEnrollmentRepo(db)

	mock.ExpectExec("UPDATE sequence_enrollments SET claim_token = NULL").WithArgs("e1", "tok").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Release(context.Background(), "e1", "tok"), enrollment.ErrClaimLost)

	mock.ExpectExec("UPDATE sequence_enrollments SET claim_token = NULL").WithArgs("e1", "tok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.Release(context.Background(), "e1", "tok"))
}

func TestReleaseExpired(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("UPDATE sequence_enrollments SET claim_token = NULL").WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := NewEnrollmentRepo(db).ReleaseExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestEnrollmentStats(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("COUNT").WithArgs(now, now.Add(-time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"due", "overdue", "active", "paused", "completed", "cancelled", "claimed"}).
			AddRow(5, 2, 40, 3, 10, 1, 4))

	st, err := NewEnrollmentRepo(db).Stats(context.Background(), now, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, enrollment.Stats{Due: 5, Overdue: 2, Active: 40, Paused: 3, Completed: 10, Cancelled: 1, Claimed: 4}, *st)
}

func TestEnrollmentListAttachesInvestor(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEnrollmentRepo(db)

	mock.ExpectQuery("SELECT COUNT").WithArgs("seq-1", "active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	cols := append(append([]string{}, enrollmentCols...), "iid", "first_name", "last_name", "email", "firm")
	mock.ExpectQuery("LEFT JOIN investors").WithArgs("seq-1", "active", 2, 4).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e1", "seq-1", "inv-1", nil, "org-1", "active", 0, now, now, nil, nil, nil, nil,
				"inv-1", "Ada", "Lovelace", "ada@fund.vc", "Analytical"))

	list, total, err := repo.List(context.Background(), "seq-1", enrollment.ListFilter{Status: domain.EnrollmentActive, Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Investor)
	assert.Equal(t, "Ada Lovelace", list[0].Investor.Name)
}

func TestOutreachUpgradeIsConditional(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOutreachRepo(db)

	mock.ExpectExec("UPDATE outreach SET status = \\$1, opened_at = \\$2").
		WithArgs("opened", now, "tid-1", pq.Array([]string{"sent"})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.Upgrade(context.Background(), "tid-1", domain.OutreachOpened, now)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("UPDATE outreach SET status = \\$1, clicked_at = \\$2").
		WithArgs("clicked", now, "tid-1", pq.Array([]string{"sent", "opened"})).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.Upgrade(context.Background(), "tid-1", domain.OutreachClicked, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOutreachGetByTrackingIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("FROM outreach").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := NewOutreachRepo(db).GetByTrackingID(context.Background(), "nope")
	assert.ErrorIs(t, err, outreach.ErrNotFound)
}

func TestDirectoryInvestor(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDirectoryRepo(db)

	mock.ExpectQuery("FROM investors").WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "first_name", "last_name", "email", "firm", "title", "linkedin_url"}).
			AddRow("inv-1", "org-1", "Ada", "Lovelace", "ada@fund.vc", "Analytical", "Partner", ""))
	inv, err := repo.Investor(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "Partner", inv.Title)

	mock.ExpectQuery("FROM templates").WithArgs("tpl-x").WillReturnError(sql.ErrNoRows)
	_, err = repo.Template(context.Background(), "tpl-x")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}
