// Package directory is the read-only view of CRM records owned by other
// parts of the product: investors, templates and campaigns. The sequence
// processor only reads them.
package directory

import (
	"context"
	"errors"

	"github.com/ignite/investor-outreach/internal/domain"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// Directory looks up the records a step needs to render and address a
// message.
type Directory interface {
	Investor(ctx context.Context, id string) (*domain.Investor, error)
	Template(ctx context.Context, id string) (*domain.Template, error)
	Campaign(ctx context.Context, id string) (*domain.Campaign, error)
}
