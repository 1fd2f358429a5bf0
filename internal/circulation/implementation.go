// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"circulib/pkg/recordstore"
)

// service implements the Service interface. Every state-changing operation
// runs as one store transaction under a per-asset mutex, so the
// read-decide-write sequence for an asset is serialized against any other
// operation on the same asset. Operations on different assets proceed in
// parallel.
type service struct {
	store  recordstore.Store
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	assetLocks map[uuid.UUID]*sync.Mutex
}

// NewService creates a new circulation engine instance.
func NewService(store recordstore.Store, logger *zap.Logger) Service {
	return &service{
		store:      store,
		logger:     logger,
		now:        time.Now,
		assetLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *service) lockAsset(assetID uuid.UUID) func() {
	s.mu.Lock()
	lock, ok := s.assetLocks[assetID]
	if !ok {
		lock = &sync.Mutex{}
		s.assetLocks[assetID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// CheckOutItem loans an asset to a card: status becomes Checked Out, a
// checkout with a 30-day due date is created and a new history entry is
// opened. Checking out an asset that already has a live checkout fails
// with ErrAlreadyCheckedOut.
func (s *service) CheckOutItem(ctx context.Context, assetID, cardID uuid.UUID) error {
	defer s.lockAsset(assetID)()

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
		return s.checkOut(ctx, tx, assetID, cardID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("asset checked out",
		zap.String("asset_id", assetID.String()),
		zap.String("card_id", cardID.String()),
	)
	return nil
}

// checkOut performs the checkout mutations inside an already-open
// transaction. CheckInItem reuses it to promote the earliest hold without
// committing an intermediate state.
func (s *service) checkOut(ctx context.Context, tx recordstore.Tx, assetID, cardID uuid.UUID) error {
	asset, err := tx.GetAsset(ctx, assetID)
	if err != nil {
		return assetErr(err, assetID)
	}

	card, err := tx.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
		}
		return fmt.Errorf("get card: %w", err)
	}

	if _, err := tx.GetCheckoutByAsset(ctx, assetID); err == nil {
		return ErrAlreadyCheckedOut
	} else if !errors.Is(err, recordstore.ErrNotFound) {
		return fmt.Errorf("get live checkout: %w", err)
	}

	status, err := tx.GetStatusByName(ctx, StatusCheckedOut)
	if err != nil {
		return fmt.Errorf("look up status %q: %w", StatusCheckedOut, err)
	}
	if err := tx.UpdateAssetStatus(ctx, asset.ID, status.ID); err != nil {
		return fmt.Errorf("update asset status: %w", err)
	}

	now := s.now()
	checkout := &recordstore.Checkout{
		ID:      uuid.New(),
		AssetID: asset.ID,
		CardID:  card.ID,
		Since:   now,
		Until:   now.Add(loanPeriod),
	}
	if err := tx.CreateCheckout(ctx, checkout); err != nil {
		return fmt.Errorf("create checkout: %w", err)
	}

	history := &recordstore.CheckoutHistory{
		ID:         uuid.New(),
		AssetID:    asset.ID,
		CardID:     card.ID,
		CheckedOut: now,
	}
	if err := tx.CreateHistory(ctx, history); err != nil {
		return fmt.Errorf("open history entry: %w", err)
	}

	return nil
}

// CheckInItem returns an asset: the live checkout is removed, the open
// history entry is closed, and if holds are pending the asset is checked
// out to the card with the earliest hold inside the same transaction. The
// status only becomes Available when the queue is empty.
func (s *service) CheckInItem(ctx context.Context, assetID uuid.UUID) error {
	defer s.lockAsset(assetID)()

	var promotedTo uuid.UUID
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
		promotedTo = uuid.Nil

		asset, err := tx.GetAsset(ctx, assetID)
		if err != nil {
			return assetErr(err, assetID)
		}

		now := s.now()
		if err := s.settleLoan(ctx, tx, assetID, now); err != nil {
			return err
		}

		holds, err := tx.ListHoldsByAsset(ctx, assetID)
		if err != nil {
			return fmt.Errorf("list holds: %w", err)
		}

		if len(holds) > 0 {
			earliest := holds[0]
			if err := tx.DeleteHold(ctx, earliest.ID); err != nil {
				return fmt.Errorf("consume hold: %w", err)
			}
			// Re-enters the checkout path directly; the asset never
			// passes through Available.
			if err := s.checkOut(ctx, tx, assetID, earliest.CardID); err != nil {
				return fmt.Errorf("check out to earliest hold: %w", err)
			}
			promotedTo = earliest.CardID
			return nil
		}

		status, err := tx.GetStatusByName(ctx, StatusAvailable)
		if err != nil {
			return fmt.Errorf("look up status %q: %w", StatusAvailable, err)
		}
		if err := tx.UpdateAssetStatus(ctx, asset.ID, status.ID); err != nil {
			return fmt.Errorf("update asset status: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if promotedTo != uuid.Nil {
		s.logger.Info("asset checked in and promoted to earliest hold",
			zap.String("asset_id", assetID.String()),
			zap.String("card_id", promotedTo.String()),
		)
	} else {
		s.logger.Info("asset checked in", zap.String("asset_id", assetID.String()))
	}
	return nil
}

// settleLoan removes the live checkout and closes the open history entry,
// tolerating the absence of either.
func (s *service) settleLoan(ctx context.Context, tx recordstore.Tx, assetID uuid.UUID, now time.Time) error {
	checkout, err := tx.GetCheckoutByAsset(ctx, assetID)
	switch {
	case err == nil:
		if err := tx.DeleteCheckout(ctx, checkout.ID); err != nil {
			return fmt.Errorf("remove checkout: %w", err)
		}
	case !errors.Is(err, recordstore.ErrNotFound):
		return fmt.Errorf("get live checkout: %w", err)
	}

	history, err := tx.GetOpenHistory(ctx, assetID)
	switch {
	case err == nil:
		if err := tx.CloseHistory(ctx, history.ID, now); err != nil {
			return fmt.Errorf("close history entry: %w", err)
		}
	case !errors.Is(err, recordstore.ErrNotFound):
		return fmt.Errorf("get open history entry: %w", err)
	}

	return nil
}

// MarkFound records an item recovered outside the check-in desk flow: the
// loan is settled and the asset goes straight to Available. Unlike
// CheckInItem it does not consult the hold queue.
func (s *service) MarkFound(ctx context.Context, assetID uuid.UUID) error {
	defer s.lockAsset(assetID)()

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
		asset, err := tx.GetAsset(ctx, assetID)
		if err != nil {
			return assetErr(err, assetID)
		}

		status, err := tx.GetStatusByName(ctx, StatusAvailable)
		if err != nil {
			return fmt.Errorf("look up status %q: %w", StatusAvailable, err)
		}
		if err := tx.UpdateAssetStatus(ctx, asset.ID, status.ID); err != nil {
			return fmt.Errorf("update asset status: %w", err)
		}

		return s.settleLoan(ctx, tx, assetID, s.now())
	})
	if err != nil {
		return err
	}

	s.logger.Info("asset marked found", zap.String("asset_id", assetID.String()))
	return nil
}

// MarkLost sets the asset's status to Lost. Checkout, history and hold
// records are left untouched; calling it twice leaves the same state.
func (s *service) MarkLost(ctx context.Context, assetID uuid.UUID) error {
	defer s.lockAsset(assetID)()

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
		asset, err := tx.GetAsset(ctx, assetID)
		if err != nil {
			return assetErr(err, assetID)
		}

		status, err := tx.GetStatusByName(ctx, StatusLost)
		if err != nil {
			return fmt.Errorf("look up status %q: %w", StatusLost, err)
		}
		return tx.UpdateAssetStatus(ctx, asset.ID, status.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("asset marked lost", zap.String("asset_id", assetID.String()))
	return nil
}

// PlaceHold appends a hold for the card. Holds may be placed regardless of
// the asset's current status; an Available asset additionally moves to On
// Hold so it is not re-shelved as browsable.
func (s *service) PlaceHold(ctx context.Context, assetID, cardID uuid.UUID) error {
	defer s.lockAsset(assetID)()

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
		asset, err := tx.GetAsset(ctx, assetID)
		if err != nil {
			return assetErr(err, assetID)
		}

		card, err := tx.GetCard(ctx, cardID)
		if err != nil {
			if errors.Is(err, recordstore.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
			}
			return fmt.Errorf("get card: %w", err)
		}

		if asset.StatusName == StatusAvailable {
			status, err := tx.GetStatusByName(ctx, StatusOnHold)
			if err != nil {
				return fmt.Errorf("look up status %q: %w", StatusOnHold, err)
			}
			if err := tx.UpdateAssetStatus(ctx, asset.ID, status.ID); err != nil {
				return fmt.Errorf("update asset status: %w", err)
			}
		}

		hold := &recordstore.Hold{
			ID:         uuid.New(),
			AssetID:    asset.ID,
			CardID:     card.ID,
			HoldPlaced: s.now(),
		}
		if err := tx.CreateHold(ctx, hold); err != nil {
			return fmt.Errorf("create hold: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("hold placed",
		zap.String("asset_id", assetID.String()),
		zap.String("card_id", cardID.String()),
	)
	return nil
}

// IsCheckedOut reports whether a live checkout exists for the asset.
func (s *service) IsCheckedOut(ctx context.Context, assetID uuid.UUID) (bool, error) {
	var checkedOut bool
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
		_, err := tx.GetCheckoutByAsset(ctx, assetID)
		if errors.Is(err, recordstore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		checkedOut = true
		return nil
	})
	return checkedOut, err
}

// GetLatestCheckout returns the most recent live checkout for the asset, or
// nil when none exists.
func (s *service) GetLatestCheckout(ctx context.Context, assetID uuid.UUID) (*CheckoutView, error) {
	var view *CheckoutView
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
		checkout, err := tx.GetLatestCheckout(ctx, assetID)
		if errors.Is(err, recordstore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		view = checkoutView(checkout)
		return nil
	})
	return view, err
}

// GetCheckoutHistory returns the asset's full audit trail, oldest first.
func (s *service) GetCheckoutHistory(ctx context.Context, assetID uuid.UUID) ([]HistoryView, error) {
	var views []HistoryView
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
		entries, err := tx.ListHistoryByAsset(ctx, assetID)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			views = append(views, HistoryView{
				ID:         entry.ID,
				AssetID:    entry.AssetID,
				CardID:     entry.CardID,
				CheckedOut: entry.CheckedOut,
				CheckedIn:  entry.CheckedIn,
			})
		}
		return nil
	})
	return views, err
}

// GetCurrentHolds returns the asset's pending holds in queue order.
func (s *service) GetCurrentHolds(ctx context.Context, assetID uuid.UUID) ([]HoldView, error) {
	var views []HoldView
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
		holds, err := tx.ListHoldsByAsset(ctx, assetID)
		if err != nil {
			return err
		}
		for _, hold := range holds {
			views = append(views, HoldView{
				ID:         hold.ID,
				AssetID:    hold.AssetID,
				CardID:     hold.CardID,
				HoldPlaced: hold.HoldPlaced,
			})
		}
		return nil
	})
	return views, err
}

// GetCurrentCheckoutPatron resolves the display name of the patron holding
// the asset's live checkout. It returns an empty string, not an error, when
// there is no live checkout or no patron on the card.
func (s *service) GetCurrentCheckoutPatron(ctx context.Context, assetID uuid.UUID) (string, error) {
	var name string
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
		checkout, err := tx.GetCheckoutByAsset(ctx, assetID)
		if errors.Is(err, recordstore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		name, err = patronName(ctx, tx, checkout.CardID)
		return err
	})
	return name, err
}

// GetCurrentHoldPatronName resolves the display name of the patron behind a
// hold. A missing hold is an explicit ErrHoldNotFound.
func (s *service) GetCurrentHoldPatronName(ctx context.Context, holdID uuid.UUID) (string, error) {
	var name string
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
		hold, err := tx.GetHold(ctx, holdID)
		if errors.Is(err, recordstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrHoldNotFound, holdID)
		}
		if err != nil {
			return err
		}

		name, err = patronName(ctx, tx, hold.CardID)
		return err
	})
	return name, err
}

// GetCurrentHoldPlaced returns when a hold was placed. A missing hold is
// an explicit ErrHoldNotFound.
func (s *service) GetCurrentHoldPlaced(ctx context.Context, holdID uuid.UUID) (time.Time, error) {
	var placed time.Time
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
		hold, err := tx.GetHold(ctx, holdID)
		if errors.Is(err, recordstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrHoldNotFound, holdID)
		}
		if err != nil {
			return err
		}
		placed = hold.HoldPlaced
		return nil
	})
	return placed, err
}

func patronName(ctx context.Context, tx recordstore.Tx, cardID uuid.UUID) (string, error) {
	patron, err := tx.GetPatronByCard(ctx, cardID)
	if errors.Is(err, recordstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return patron.FirstName + " " + patron.LastName, nil
}

func checkoutView(checkout *recordstore.Checkout) *CheckoutView {
	return &CheckoutView{
		ID:      checkout.ID,
		AssetID: checkout.AssetID,
		CardID:  checkout.CardID,
		Since:   checkout.Since,
		Until:   checkout.Until,
	}
}

func assetErr(err error, assetID uuid.UUID) error {
	if errors.Is(err, recordstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, assetID)
	}
	return fmt.Errorf("get asset: %w", err)
}
