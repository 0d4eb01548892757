package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/service/enrollment"
)

// EnrollmentRepo implements enrollment.Repository against PostgreSQL.
type EnrollmentRepo struct{ db *sql.DB }

// NewEnrollmentRepo creates a Postgres-backed enrollment repository.
func NewEnrollmentRepo(db *sql.DB) *EnrollmentRepo { return &EnrollmentRepo{db: db} }

const enrollmentColumns = `e.id, e.sequence_id, e.investor_id, e.campaign_id, e.organization_id, e.status,
		       e.current_step_order, e.next_send_at, e.enrolled_at, e.started_at, e.completed_at,
		       e.claim_token, e.claim_expires_at`

func scanEnrollment(row rowScanner, extra ...any) (*domain.Enrollment, error) {
	e := &domain.Enrollment{}
	var campaignID, claimToken sql.NullString
	var nextSendAt, startedAt, completedAt, claimExpires sql.NullTime
	dest := append([]any{
		&e.ID, &e.SequenceID, &e.InvestorID, &campaignID, &e.OrganizationID, &e.Status,
		&e.CurrentStepOrder, &nextSendAt, &e.EnrolledAt, &startedAt, &completedAt,
		&claimToken, &claimExpires,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	e.CampaignID = strPtr(campaignID)
	e.NextSendAt = timePtr(nextSendAt)
	e.EnrolledAt = e.EnrolledAt.UTC()
	e.StartedAt = timePtr(startedAt)
	e.CompletedAt = timePtr(completedAt)
	e.ClaimToken = claimToken.String
	e.ClaimExpiresAt = timePtr(claimExpires)
	return e, nil
}

func (r *EnrollmentRepo) Enroll(ctx context.Context, batch []*domain.Enrollment) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	ids := make([]string, len(batch))
	investorIDs := make([]string, len(batch))
	for i, e := range batch {
		ids[i] = e.ID
		investorIDs[i] = e.InvestorID
	}
	first := batch[0]

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sequence_enrollments
			(id, sequence_id, investor_id, campaign_id, organization_id, status,
			 current_step_order, next_send_at, enrolled_at, started_at)
		SELECT t.id, $3, t.investor_id, $4, $5, $6, 0, $7, $8, $9
		FROM UNNEST($1::text[], $2::text[]) AS t(id, investor_id)
		ON CONFLICT (sequence_id, investor_id) DO NOTHING
	`, pq.Array(ids), pq.Array(investorIDs), first.SequenceID, first.CampaignID, first.OrganizationID,
		first.Status, first.NextSendAt, first.EnrolledAt, first.StartedAt)
	if isPQCode(err, codeForeignKeyViolation) {
		return 0, fmt.Errorf("%w: %v", enrollment.ErrInvestorNotFound, err)
	}
	if err != nil {
		return 0, fmt.Errorf("enroll: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("enroll rows affected: %w", err)
	}
	return int(n), nil
}

func (r *EnrollmentRepo) Unenroll(ctx context.Context, sequenceID string, investorIDs []string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sequence_enrollments WHERE sequence_id = $1 AND investor_id = ANY($2)`,
		sequenceID, pq.Array(investorIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("unenroll: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *EnrollmentRepo) List(ctx context.Context, sequenceID string, f enrollment.ListFilter) ([]domain.Enrollment, int, error) {
	where := ` WHERE e.sequence_id = $1`
	args := []interface{}{sequenceID}
	if f.Status != "" {
		where += ` AND e.status = $2`
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sequence_enrollments e`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = enrollment.DefaultPageSize
	}
	q := `
		SELECT ` + enrollmentColumns + `,
		       i.id, COALESCE(i.first_name, ''), COALESCE(i.last_name, ''), COALESCE(i.email, ''), COALESCE(i.firm, '')
		FROM sequence_enrollments e
		LEFT JOIN investors i ON i.id = e.investor_id` + where +
		fmt.Sprintf(` ORDER BY e.enrolled_at, e.id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	out := []domain.Enrollment{}
	for rows.Next() {
		var (
			invID                  sql.NullString
			first, last, email, fm string
		)
		e, err := scanEnrollment(rows, &invID, &first, &last, &email, &fm)
		if err != nil {
			return nil, 0, fmt.Errorf("scan enrollment: %w", err)
		}
		if invID.Valid {
			inv := domain.Investor{ID: invID.String, FirstName: first, LastName: last, Email: email, Firm: fm}
			sum := inv.Summary()
			e.Investor = &sum
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}

// lockForUpdate loads enrollments under a row lock inside tx.
func lockForUpdate(ctx context.Context, tx *sql.Tx, where string, args ...any) ([]*domain.Enrollment, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+enrollmentColumns+` FROM sequence_enrollments e WHERE `+where+` FOR UPDATE`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// writeState persists the mutable scheduling fields of e.
func writeState(ctx context.Context, tx *sql.Tx, e *domain.Enrollment) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE sequence_enrollments
		SET status = $2, current_step_order = $3, next_send_at = $4, completed_at = $5,
		    claim_token = $6, claim_expires_at = $7
		WHERE id = $1
	`, e.ID, e.Status, e.CurrentStepOrder, e.NextSendAt, e.CompletedAt, nullString(e.ClaimToken), e.ClaimExpiresAt)
	return err
}

func (r *EnrollmentRepo) BulkSetStatus(ctx context.Context, ids []string, status domain.EnrollmentStatus, now time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk status: %w", err)
	}
	defer tx.Rollback()

	list, err := lockForUpdate(ctx, tx, `e.id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("lock enrollments: %w", err)
	}
	n := 0
	for _, e := range list {
		if !e.ApplyStatus(status, now) {
			continue
		}
		if err := writeState(ctx, tx, e); err != nil {
			return 0, fmt.Errorf("update enrollment %s: %w", e.ID, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk status: %w", err)
	}
	return n, nil
}

// ClaimDue leases due rows in one statement. Rows locked by a concurrent
// claim are skipped rather than waited on.
func (r *EnrollmentRepo) ClaimDue(ctx context.Context, now time.Time, limit int, ttl time.Duration) ([]domain.Enrollment, error) {
	now = now.UTC()
	rows, err := r.db.QueryContext(ctx, `
		WITH due AS (
			SELECT e.id
			FROM sequence_enrollments e
			JOIN sequences s ON s.id = e.sequence_id
			WHERE e.status = 'active'
			  AND s.status = 'active'
			  AND e.next_send_at <= $1
			  AND (e.claim_token IS NULL OR e.claim_expires_at <= $1)
			ORDER BY e.next_send_at, e.id
			LIMIT $2
			FOR UPDATE OF e SKIP LOCKED
		)
		UPDATE sequence_enrollments e
		SET claim_token = $3 || ':' || e.id,
		    claim_expires_at = $4
		FROM due
		WHERE e.id = due.id
		RETURNING `+enrollmentColumns+`
	`, now, limit, uuid.NewString(), now.Add(ttl))
	if err != nil {
		return nil, fmt.Errorf("claim due enrollments: %w", err)
	}
	defer rows.Close()

	out := []domain.Enrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed enrollment: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// UPDATE ... RETURNING does not preserve the CTE order.
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].NextSendAt, out[j].NextSendAt
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *EnrollmentRepo) Advance(ctx context.Context, in enrollment.AdvanceInput) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin advance: %w", err)
	}
	defer tx.Rollback()

	list, err := lockForUpdate(ctx, tx, `e.id = $1 AND e.claim_token = $2`, in.EnrollmentID, in.ClaimToken)
	if err != nil {
		return fmt.Errorf("lock enrollment: %w", err)
	}
	if len(list) == 0 {
		return enrollment.ErrClaimLost
	}
	e := list[0]
	e.ApplyAdvance(in.StepOrder, in.NextSendAt, in.Status, in.Now)
	if err := writeState(ctx, tx, e); err != nil {
		return fmt.Errorf("advance enrollment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit advance: %w", err)
	}
	return nil
}

func (r *EnrollmentRepo) Release(ctx context.Context, id, claimToken string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sequence_enrollments SET claim_token = NULL, claim_expires_at = NULL
		WHERE id = $1 AND claim_token = $2
	`, id, claimToken)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enrollment.ErrClaimLost
	}
	return nil
}

func (r *EnrollmentRepo) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sequence_enrollments SET claim_token = NULL, claim_expires_at = NULL
		WHERE claim_token IS NOT NULL AND claim_expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("release expired claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *EnrollmentRepo) Stats(ctx context.Context, now, overdueBefore time.Time) (*enrollment.Stats, error) {
	st := &enrollment.Stats{}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE e.status = 'active' AND s.status = 'active' AND e.next_send_at <= $1),
			COUNT(*) FILTER (WHERE e.status = 'active' AND s.status = 'active' AND e.next_send_at < $2),
			COUNT(*) FILTER (WHERE e.status = 'active'),
			COUNT(*) FILTER (WHERE e.status = 'paused'),
			COUNT(*) FILTER (WHERE e.status = 'completed'),
			COUNT(*) FILTER (WHERE e.status = 'cancelled'),
			COUNT(*) FILTER (WHERE e.claim_token IS NOT NULL AND e.claim_expires_at > $1)
		FROM sequence_enrollments e
		JOIN sequences s ON s.id = e.sequence_id
	`, now.UTC(), overdueBefore.UTC()).Scan(
		&st.Due, &st.Overdue, &st.Active, &st.Paused, &st.Completed, &st.Cancelled, &st.Claimed,
	)
	if err != nil {
		return nil, fmt.Errorf("enrollment stats: %w", err)
	}
	return st, nil
}

var _ enrollment.Repository = (*EnrollmentRepo)(nil)
