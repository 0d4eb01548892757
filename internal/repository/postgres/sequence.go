package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/service/sequence"
)

// SequenceRepo implements sequence.Repository against PostgreSQL.
type SequenceRepo struct{ db *sql.DB }

// NewSequenceRepo creates a Postgres-backed sequence repository.
func NewSequenceRepo(db *sql.DB) *SequenceRepo { return &SequenceRepo{db: db} }

func (r *SequenceRepo) Create(ctx context.Context, s *domain.Sequence) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sequences (id, organization_id, campaign_id, name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.OrganizationID, s.CampaignID, s.Name, s.Status, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create sequence: %w", err)
	}
	return nil
}

func (r *SequenceRepo) Get(ctx context.Context, id string) (*domain.Sequence, error) {
	s := &domain.Sequence{}
	var campaignID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, campaign_id, name, status, created_at
		FROM sequences
		WHERE id = $1
	`, id).Scan(&s.ID, &s.OrganizationID, &campaignID, &s.Name, &s.Status, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sequence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	s.CampaignID = strPtr(campaignID)
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

const stepColumns = `id, sequence_id, step_order, type, delay_days, template_id, subject, content`

func scanStep(row rowScanner) (*domain.Step, error) {
	st := &domain.Step{}
	var templateID, subject, content sql.NullString
	if err := row.Scan(&st.ID, &st.SequenceID, &st.Order, &st.Type, &st.DelayDays, &templateID, &subject, &content); err != nil {
		return nil, err
	}
	st.TemplateID = strPtr(templateID)
	st.Subject = strPtr(subject)
	st.Content = strPtr(content)
	return st, nil
}

func (r *SequenceRepo) Steps(ctx context.Context, sequenceID string) ([]domain.Step, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stepColumns+`
		FROM sequence_steps
		WHERE sequence_id = $1
		ORDER BY step_order
	`, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	out := []domain.Step{}
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (r *SequenceRepo) StepAt(ctx context.Context, sequenceID string, order int) (*domain.Step, error) {
	st, err := scanStep(r.db.QueryRowContext(ctx, `
		SELECT `+stepColumns+`
		FROM sequence_steps
		WHERE sequence_id = $1 AND step_order = $2
	`, sequenceID, order))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sequence.ErrStepNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get step %d: %w", order, err)
	}
	return st, nil
}

// AddStep locks the sequence row so concurrent appends serialize on the
// max(step_order) read.
func (r *SequenceRepo) AddStep(ctx context.Context, step *domain.Step) (*domain.Step, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin add step: %w", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM sequences WHERE id = $1 FOR UPDATE`, step.SequenceID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sequence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock sequence: %w", err)
	}

	var order int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(step_order), 0) + 1 FROM sequence_steps WHERE sequence_id = $1`,
		step.SequenceID,
	).Scan(&order); err != nil {
		return nil, fmt.Errorf("next step order: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sequence_steps (`+stepColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, step.ID, step.SequenceID, order, step.Type, step.DelayDays, step.TemplateID, step.Subject, step.Content); err != nil {
		return nil, fmt.Errorf("insert step: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add step: %w", err)
	}

	out := *step
	out.Order = order
	return &out, nil
}

// DeleteStep removes the step and closes the gap in one transaction. The
// (sequence_id, step_order) constraint is deferred so the shift cannot
// collide with itself mid-statement.
func (r *SequenceRepo) DeleteStep(ctx context.Context, sequenceID, stepID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete step: %w", err)
	}
	defer tx.Rollback()

	var order int
	err = tx.QueryRowContext(ctx,
		`DELETE FROM sequence_steps WHERE id = $1 AND sequence_id = $2 RETURNING step_order`,
		stepID, sequenceID,
	).Scan(&order)
	if errors.Is(err, sql.ErrNoRows) {
		return sequence.ErrStepNotFound
	}
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `SET CONSTRAINTS sequence_steps_order_key DEFERRED`); err != nil {
		return fmt.Errorf("defer order constraint: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sequence_steps SET step_order = step_order - 1
		WHERE sequence_id = $1 AND step_order > $2
	`, sequenceID, order); err != nil {
		return fmt.Errorf("renumber steps: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete step: %w", err)
	}
	return nil
}

func (r *SequenceRepo) SetStatus(ctx context.Context, id string, status domain.SequenceStatus, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set status: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE sequences SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update sequence status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sequence.ErrNotFound
	}

	if status == domain.SequenceActive {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sequence_enrollments SET started_at = $1
			WHERE sequence_id = $2 AND started_at IS NULL
		`, now.UTC(), id); err != nil {
			return fmt.Errorf("stamp started_at: %w", err)
		}
	}
	return tx.Commit()
}

var _ sequence.Repository = (*SequenceRepo)(nil)
