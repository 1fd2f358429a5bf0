// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the circulation engine.
type Service interface {
	CheckOutItem(ctx context.Context, assetID, cardID uuid.UUID) error
	CheckInItem(ctx context.Context, assetID uuid.UUID) error
	MarkFound(ctx context.Context, assetID uuid.UUID) error
	MarkLost(ctx context.Context, assetID uuid.UUID) error
	PlaceHold(ctx context.Context, assetID, cardID uuid.UUID) error

	IsCheckedOut(ctx context.Context, assetID uuid.UUID) (bool, error)
	GetLatestCheckout(ctx context.Context, assetID uuid.UUID) (*CheckoutView, error)
	GetCheckoutHistory(ctx context.Context, assetID uuid.UUID) ([]HistoryView, error)
	GetCurrentHolds(ctx context.Context, assetID uuid.UUID) ([]HoldView, error)
	GetCurrentCheckoutPatron(ctx context.Context, assetID uuid.UUID) (string, error)
	GetCurrentHoldPatronName(ctx context.Context, holdID uuid.UUID) (string, error)
	GetCurrentHoldPlaced(ctx context.Context, holdID uuid.UUID) (time.Time, error)
}
