// internal/circulation/domain.go
package circulation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status names recognized by the engine. The registry is an open lookup
// table; anything beyond these four is configuration, not engine logic.
const (
	StatusAvailable  = "Available"
	StatusCheckedOut = "Checked Out"
	StatusOnHold     = "On Hold"
	StatusLost       = "Lost"
)

// loanPeriod is the fixed due-date policy: Until = Since + 30 days.
const loanPeriod = 30 * 24 * time.Hour

var (
	// ErrAlreadyCheckedOut signals a checkout attempt on an asset that
	// already has a live checkout.
	ErrAlreadyCheckedOut = errors.New("asset is already checked out")

	ErrAssetNotFound = errors.New("asset not found")
	ErrCardNotFound  = errors.New("library card not found")
	ErrHoldNotFound  = errors.New("hold not found")
)

// CheckoutView is the projection of an active loan returned to callers.
type CheckoutView struct {
	ID      uuid.UUID `json:"id"`
	AssetID uuid.UUID `json:"asset_id"`
	CardID  uuid.UUID `json:"card_id"`
	Since   time.Time `json:"since"`
	Until   time.Time `json:"until"`
}

// HistoryView is the projection of one audit-trail interval. A nil
// CheckedIn means the loan is still open.
type HistoryView struct {
	ID         uuid.UUID  `json:"id"`
	AssetID    uuid.UUID  `json:"asset_id"`
	CardID     uuid.UUID  `json:"card_id"`
	CheckedOut time.Time  `json:"checked_out"`
	CheckedIn  *time.Time `json:"checked_in,omitempty"`
}

// HoldView is the projection of a pending hold.
type HoldView struct {
	ID         uuid.UUID `json:"id"`
	AssetID    uuid.UUID `json:"asset_id"`
	CardID     uuid.UUID `json:"card_id"`
	HoldPlaced time.Time `json:"hold_placed"`
}
