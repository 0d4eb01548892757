package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/investor-outreach/internal/domain"
	"github.com/ignite/investor-outreach/internal/service/directory"
)

// DirectoryRepo implements directory.Directory against the CRM tables.
type DirectoryRepo struct{ db *sql.DB }

// NewDirectoryRepo creates a Postgres-backed directory.
func NewDirectoryRepo(db *sql.DB) *DirectoryRepo { return &DirectoryRepo{db: db} }

func (r *DirectoryRepo) Investor(ctx context.Context, id string) (*domain.Investor, error) {
	i := &domain.Investor{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, first_name, last_name, email, firm, title, linkedin_url
		FROM investors
		WHERE id = $1
	`, id).Scan(&i.ID, &i.OrganizationID, &i.FirstName, &i.LastName, &i.Email, &i.Firm, &i.Title, &i.LinkedInURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get investor: %w", err)
	}
	return i, nil
}

func (r *DirectoryRepo) Template(ctx context.Context, id string) (*domain.Template, error) {
	t := &domain.Template{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, subject, content FROM templates WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Subject, &t.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (r *DirectoryRepo) Campaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, sender_name, sender_email FROM campaigns WHERE id = $1`, id,
	).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.SenderName, &c.SenderEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

var _ directory.Directory = (*DirectoryRepo)(nil)
