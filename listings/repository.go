package listings

import (
	"context"

	"github.com/google/uuid"

	"github.com/aryangodara/dalil/location"
)

// Repository persists listings.
type Repository interface {
	Create(ctx context.Context, l *Listing) error
	// Get returns ErrNotFound when no listing has id.
	Get(ctx context.Context, id uuid.UUID) (*Listing, error)
	// UpdateStatus moves a listing from one status to another. It returns
	// ErrInvalidStatus when no listing with id is currently in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) error
	UpdateLocation(ctx context.Context, id uuid.UUID, p location.ProcessedLocation) error
	// Search returns approved listings only, newest first.
	Search(ctx context.Context, f SearchFilter) ([]Listing, error)
	// ListUnverifiedLocations returns listings whose location nobody has verified, oldest first.
	ListUnverifiedLocations(ctx context.Context, limit int) ([]Listing, error)
}
