package category

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Sentinel errors for the category package.
var ErrNotFound = errors.New("category not found")

// Category groups channels in the sidebar. Ordering is by position ascending, ties broken by id.
type Category struct {
	ID       uuid.UUID
	Name     string
	Position int
}

// Repository defines the data-access contract for category operations.
type Repository interface {
	List(ctx context.Context) ([]Category, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Category, error)
	Create(ctx context.Context, name string, position int) (*Category, error)
}
