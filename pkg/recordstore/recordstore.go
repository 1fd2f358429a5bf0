// Package recordstore provides the transactional record store the
// circulation engine runs against: a Postgres implementation for production
// and an in-memory implementation for tests and local development. Every
// engine operation executes as one atomic unit via WithinTx.
package recordstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("write conflict")
)

// Status is one entry in the circulation status vocabulary.
type Status struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Asset is a physical item tracked by the library.
type Asset struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	StatusID   uuid.UUID `json:"status_id"`
	StatusName string    `json:"status_name"`
}

// Checkout is an active loan. At most one exists per asset; the store
// rejects a second with ErrConflict.
type Checkout struct {
	ID      uuid.UUID `json:"id"`
	AssetID uuid.UUID `json:"asset_id"`
	CardID  uuid.UUID `json:"card_id"`
	Since   time.Time `json:"since"`
	Until   time.Time `json:"until"`
}

// CheckoutHistory is an append-only audit record of a loan interval.
// A nil CheckedIn marks the entry as open.
type CheckoutHistory struct {
	ID         uuid.UUID  `json:"id"`
	AssetID    uuid.UUID  `json:"asset_id"`
	CardID     uuid.UUID  `json:"card_id"`
	CheckedOut time.Time  `json:"checked_out"`
	CheckedIn  *time.Time `json:"checked_in,omitempty"`
}

// Hold is a reservation queued against an asset.
type Hold struct {
	ID         uuid.UUID `json:"id"`
	AssetID    uuid.UUID `json:"asset_id"`
	CardID     uuid.UUID `json:"card_id"`
	HoldPlaced time.Time `json:"hold_placed"`
}

// LibraryCard is a patron's borrowing credential. Fees are kept in cents
// and are read-only here.
type LibraryCard struct {
	ID        uuid.UUID `json:"id"`
	FeesCents int64     `json:"fees_cents"`
}

// Patron owns a library card; the engine only reads it to resolve display
// names on checkout and hold projections.
type Patron struct {
	ID        uuid.UUID `json:"id"`
	CardID    uuid.UUID `json:"card_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

// Tx is the record-level surface available inside one transaction. Lookups
// return ErrNotFound rather than nil records.
type Tx interface {
	GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error)
	CreateAsset(ctx context.Context, asset *Asset) error
	UpdateAssetStatus(ctx context.Context, assetID, statusID uuid.UUID) error

	// GetStatusByName is the status registry: a pure lookup over the fixed
	// vocabulary seeded by migrations.
	GetStatusByName(ctx context.Context, name string) (*Status, error)

	CreateCheckout(ctx context.Context, checkout *Checkout) error
	DeleteCheckout(ctx context.Context, id uuid.UUID) error
	GetCheckoutByAsset(ctx context.Context, assetID uuid.UUID) (*Checkout, error)
	GetLatestCheckout(ctx context.Context, assetID uuid.UUID) (*Checkout, error)

	CreateHistory(ctx context.Context, history *CheckoutHistory) error
	GetOpenHistory(ctx context.Context, assetID uuid.UUID) (*CheckoutHistory, error)
	CloseHistory(ctx context.Context, id uuid.UUID, checkedIn time.Time) error
	ListHistoryByAsset(ctx context.Context, assetID uuid.UUID) ([]CheckoutHistory, error)

	CreateHold(ctx context.Context, hold *Hold) error
	DeleteHold(ctx context.Context, id uuid.UUID) error
	GetHold(ctx context.Context, id uuid.UUID) (*Hold, error)
	// ListHoldsByAsset returns holds ordered by HoldPlaced ascending,
	// arrival order breaking ties.
	ListHoldsByAsset(ctx context.Context, assetID uuid.UUID) ([]Hold, error)

	GetCard(ctx context.Context, id uuid.UUID) (*LibraryCard, error)
	CreateCard(ctx context.Context, card *LibraryCard) error
	GetPatronByCard(ctx context.Context, cardID uuid.UUID) (*Patron, error)
	CreatePatron(ctx context.Context, patron *Patron) error
}

// Store runs functions inside atomic transactions. A non-nil error from fn
// rolls the transaction back; otherwise it commits. Commit failures surface
// as ErrConflict or a wrapped driver error, never silently.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
