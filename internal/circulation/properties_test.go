// internal/circulation/properties_test.go
package circulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"circulib/pkg/recordstore"
)

// assetModel is the reference model the engine is checked against: status,
// current holder, and the hold queue in service order.
type assetModel struct {
	status string
	holder uuid.UUID
	queue  []uuid.UUID
}

func (m *assetModel) checkOut(card uuid.UUID) bool {
	if m.holder != uuid.Nil {
		return false
	}
	m.holder = card
	m.status = StatusCheckedOut
	return true
}

func (m *assetModel) checkIn() {
	if len(m.queue) > 0 {
		m.holder = m.queue[0]
		m.queue = m.queue[1:]
		m.status = StatusCheckedOut
		return
	}
	m.holder = uuid.Nil
	m.status = StatusAvailable
}

func (m *assetModel) placeHold(card uuid.UUID) {
	if m.status == StatusAvailable {
		m.status = StatusOnHold
	}
	m.queue = append(m.queue, card)
}

func (m *assetModel) markFound() {
	m.holder = uuid.Nil
	m.status = StatusAvailable
}

func (m *assetModel) markLost() {
	m.status = StatusLost
}

// TestEngineMatchesModel drives random operation sequences against the
// engine and a reference model, asserting after every step that status,
// holder, hold queue order and the open-history invariant all agree.
func TestEngineMatchesModel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		store := recordstore.NewMemoryStore()
		clock := newFakeClock()
		svc := NewService(store, zap.NewNop()).(*service)
		svc.now = clock.Now

		assets := []uuid.UUID{uuid.New(), uuid.New()}
		cards := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

		err := store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
			available, err := tx.GetStatusByName(ctx, StatusAvailable)
			if err != nil {
				return err
			}
			for i, id := range assets {
				if err := tx.CreateAsset(ctx, &recordstore.Asset{
					ID:       id,
					Title:    []string{"Moby-Dick", "Dracula"}[i],
					StatusID: available.ID,
				}); err != nil {
					return err
				}
			}
			for _, id := range cards {
				if err := tx.CreateCard(ctx, &recordstore.LibraryCard{ID: id}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			rt.Fatalf("seed: %v", err)
		}

		models := map[uuid.UUID]*assetModel{}
		for _, id := range assets {
			models[id] = &assetModel{status: StatusAvailable}
		}

		steps := rapid.IntRange(1, 50).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			clock.Advance(time.Minute)

			assetID := rapid.SampledFrom(assets).Draw(rt, "asset")
			cardID := rapid.SampledFrom(cards).Draw(rt, "card")
			model := models[assetID]

			op := rapid.SampledFrom([]string{"checkout", "checkin", "hold", "found", "lost"}).Draw(rt, "op")
			switch op {
			case "checkout":
				err := svc.CheckOutItem(ctx, assetID, cardID)
				if model.checkOut(cardID) {
					if err != nil {
						rt.Fatalf("checkout: %v", err)
					}
				} else if !errors.Is(err, ErrAlreadyCheckedOut) {
					rt.Fatalf("expected ErrAlreadyCheckedOut, got %v", err)
				}
			case "checkin":
				if err := svc.CheckInItem(ctx, assetID); err != nil {
					rt.Fatalf("checkin: %v", err)
				}
				model.checkIn()
			case "hold":
				if err := svc.PlaceHold(ctx, assetID, cardID); err != nil {
					rt.Fatalf("place hold: %v", err)
				}
				model.placeHold(cardID)
			case "found":
				if err := svc.MarkFound(ctx, assetID); err != nil {
					rt.Fatalf("mark found: %v", err)
				}
				model.markFound()
			case "lost":
				if err := svc.MarkLost(ctx, assetID); err != nil {
					rt.Fatalf("mark lost: %v", err)
				}
				model.markLost()
			}

			checkAgainstModel(rt, svc, store, assetID, model)
		}
	})
}

func checkAgainstModel(rt *rapid.T, svc *service, store *recordstore.MemoryStore, assetID uuid.UUID, model *assetModel) {
	ctx := context.Background()

	checkedOut, err := svc.IsCheckedOut(ctx, assetID)
	if err != nil {
		rt.Fatalf("IsCheckedOut: %v", err)
	}
	if checkedOut != (model.holder != uuid.Nil) {
		rt.Fatalf("IsCheckedOut = %v, model holder = %v", checkedOut, model.holder)
	}

	holds, err := svc.GetCurrentHolds(ctx, assetID)
	if err != nil {
		rt.Fatalf("GetCurrentHolds: %v", err)
	}
	if len(holds) != len(model.queue) {
		rt.Fatalf("hold queue length %d, model %d", len(holds), len(model.queue))
	}
	for i, hold := range holds {
		if hold.CardID != model.queue[i] {
			rt.Fatalf("hold %d is for card %v, model expects %v", i, hold.CardID, model.queue[i])
		}
	}

	err = store.WithinTx(ctx, func(ctx context.Context, tx recordstore.Tx) error {
		asset, err := tx.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if asset.StatusName != model.status {
			rt.Fatalf("status %q, model %q", asset.StatusName, model.status)
		}

		if model.holder != uuid.Nil {
			checkout, err := tx.GetCheckoutByAsset(ctx, assetID)
			if err != nil {
				return err
			}
			if checkout.CardID != model.holder {
				rt.Fatalf("live checkout for card %v, model holder %v", checkout.CardID, model.holder)
			}
		}

		entries, err := tx.ListHistoryByAsset(ctx, assetID)
		if err != nil {
			return err
		}
		open := 0
		for _, entry := range entries {
			if entry.CheckedIn == nil {
				open++
			}
		}
		if open > 1 {
			rt.Fatalf("%d open history entries for one asset", open)
		}
		if (open == 1) != (model.holder != uuid.Nil) {
			rt.Fatalf("open history entries = %d with model holder %v", open, model.holder)
		}
		return nil
	})
	if err != nil {
		rt.Fatalf("inspect store: %v", err)
	}
}
