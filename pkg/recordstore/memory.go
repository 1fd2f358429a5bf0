package recordstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// statusNames is the seed vocabulary, mirroring the migration.
var statusNames = []string{"Available", "Checked Out", "On Hold", "Lost"}

type memoryState struct {
	statuses  map[uuid.UUID]Status
	assets    map[uuid.UUID]Asset
	cards     map[uuid.UUID]LibraryCard
	patrons   map[uuid.UUID]Patron
	checkouts map[uuid.UUID]Checkout
	history   map[uuid.UUID]CheckoutHistory
	holds     map[uuid.UUID]Hold

	// arrival order, so equal HoldPlaced timestamps resolve FIFO
	holdOrder    []uuid.UUID
	historyOrder []uuid.UUID
}

func newMemoryState() memoryState {
	state := memoryState{
		statuses:  map[uuid.UUID]Status{},
		assets:    map[uuid.UUID]Asset{},
		cards:     map[uuid.UUID]LibraryCard{},
		patrons:   map[uuid.UUID]Patron{},
		checkouts: map[uuid.UUID]Checkout{},
		history:   map[uuid.UUID]CheckoutHistory{},
		holds:     map[uuid.UUID]Hold{},
	}
	for _, name := range statusNames {
		id := uuid.New()
		state.statuses[id] = Status{ID: id, Name: name}
	}
	return state
}

func (s memoryState) clone() memoryState {
	next := memoryState{
		statuses:     make(map[uuid.UUID]Status, len(s.statuses)),
		assets:       make(map[uuid.UUID]Asset, len(s.assets)),
		cards:        make(map[uuid.UUID]LibraryCard, len(s.cards)),
		patrons:      make(map[uuid.UUID]Patron, len(s.patrons)),
		checkouts:    make(map[uuid.UUID]Checkout, len(s.checkouts)),
		history:      make(map[uuid.UUID]CheckoutHistory, len(s.history)),
		holds:        make(map[uuid.UUID]Hold, len(s.holds)),
		holdOrder:    append([]uuid.UUID(nil), s.holdOrder...),
		historyOrder: append([]uuid.UUID(nil), s.historyOrder...),
	}
	for id, record := range s.statuses {
		next.statuses[id] = record
	}
	for id, record := range s.assets {
		next.assets[id] = record
	}
	for id, record := range s.cards {
		next.cards[id] = record
	}
	for id, record := range s.patrons {
		next.patrons[id] = record
	}
	for id, record := range s.checkouts {
		next.checkouts[id] = record
	}
	for id, record := range s.history {
		next.history[id] = record
	}
	for id, record := range s.holds {
		next.holds[id] = record
	}
	return next
}

// MemoryStore is an in-memory Store with the same transactional semantics as
// the Postgres implementation: a transaction works on a copy of the state and
// the copy replaces the live state only on commit.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
}

// NewMemoryStore returns a store pre-seeded with the status vocabulary.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// WithinTx serializes all transactions behind one mutex; snapshot isolation
// via copy-on-commit makes rollback free.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(ctx, &memoryTx{state: &working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) GetAsset(_ context.Context, id uuid.UUID) (*Asset, error) {
	asset, ok := t.state.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if status, ok := t.state.statuses[asset.StatusID]; ok {
		asset.StatusName = status.Name
	}
	return &asset, nil
}

func (t *memoryTx) CreateAsset(_ context.Context, asset *Asset) error {
	if _, exists := t.state.assets[asset.ID]; exists {
		return ErrConflict
	}
	t.state.assets[asset.ID] = *asset
	return nil
}

func (t *memoryTx) UpdateAssetStatus(_ context.Context, assetID, statusID uuid.UUID) error {
	asset, ok := t.state.assets[assetID]
	if !ok {
		return ErrNotFound
	}
	asset.StatusID = statusID
	t.state.assets[assetID] = asset
	return nil
}

func (t *memoryTx) GetStatusByName(_ context.Context, name string) (*Status, error) {
	for _, status := range t.state.statuses {
		if status.Name == name {
			s := status
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) CreateCheckout(_ context.Context, checkout *Checkout) error {
	for _, existing := range t.state.checkouts {
		if existing.AssetID == checkout.AssetID {
			return ErrConflict
		}
	}
	t.state.checkouts[checkout.ID] = *checkout
	return nil
}

func (t *memoryTx) DeleteCheckout(_ context.Context, id uuid.UUID) error {
	delete(t.state.checkouts, id)
	return nil
}

func (t *memoryTx) GetCheckoutByAsset(_ context.Context, assetID uuid.UUID) (*Checkout, error) {
	for _, checkout := range t.state.checkouts {
		if checkout.AssetID == assetID {
			c := checkout
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) GetLatestCheckout(ctx context.Context, assetID uuid.UUID) (*Checkout, error) {
	return t.GetCheckoutByAsset(ctx, assetID)
}

func (t *memoryTx) CreateHistory(_ context.Context, history *CheckoutHistory) error {
	if history.CheckedIn == nil {
		for _, existing := range t.state.history {
			if existing.AssetID == history.AssetID && existing.CheckedIn == nil {
				return ErrConflict
			}
		}
	}
	t.state.history[history.ID] = *history
	t.state.historyOrder = append(t.state.historyOrder, history.ID)
	return nil
}

func (t *memoryTx) GetOpenHistory(_ context.Context, assetID uuid.UUID) (*CheckoutHistory, error) {
	for _, entry := range t.state.history {
		if entry.AssetID == assetID && entry.CheckedIn == nil {
			e := entry
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) CloseHistory(_ context.Context, id uuid.UUID, checkedIn time.Time) error {
	entry, ok := t.state.history[id]
	if !ok {
		return ErrNotFound
	}
	at := checkedIn
	entry.CheckedIn = &at
	t.state.history[id] = entry
	return nil
}

func (t *memoryTx) ListHistoryByAsset(_ context.Context, assetID uuid.UUID) ([]CheckoutHistory, error) {
	var entries []CheckoutHistory
	for _, id := range t.state.historyOrder {
		entry, ok := t.state.history[id]
		if ok && entry.AssetID == assetID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (t *memoryTx) CreateHold(_ context.Context, hold *Hold) error {
	if _, exists := t.state.holds[hold.ID]; exists {
		return ErrConflict
	}
	t.state.holds[hold.ID] = *hold
	t.state.holdOrder = append(t.state.holdOrder, hold.ID)
	return nil
}

func (t *memoryTx) DeleteHold(_ context.Context, id uuid.UUID) error {
	delete(t.state.holds, id)
	return nil
}

func (t *memoryTx) GetHold(_ context.Context, id uuid.UUID) (*Hold, error) {
	hold, ok := t.state.holds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &hold, nil
}

func (t *memoryTx) ListHoldsByAsset(_ context.Context, assetID uuid.UUID) ([]Hold, error) {
	var holds []Hold
	for _, id := range t.state.holdOrder {
		hold, ok := t.state.holds[id]
		if ok && hold.AssetID == assetID {
			holds = append(holds, hold)
		}
	}
	sort.SliceStable(holds, func(i, j int) bool {
		return holds[i].HoldPlaced.Before(holds[j].HoldPlaced)
	})
	return holds, nil
}

func (t *memoryTx) GetCard(_ context.Context, id uuid.UUID) (*LibraryCard, error) {
	card, ok := t.state.cards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &card, nil
}

func (t *memoryTx) CreateCard(_ context.Context, card *LibraryCard) error {
	if _, exists := t.state.cards[card.ID]; exists {
		return ErrConflict
	}
	t.state.cards[card.ID] = *card
	return nil
}

func (t *memoryTx) GetPatronByCard(_ context.Context, cardID uuid.UUID) (*Patron, error) {
	for _, patron := range t.state.patrons {
		if patron.CardID == cardID {
			p := patron
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) CreatePatron(_ context.Context, patron *Patron) error {
	if _, exists := t.state.patrons[patron.ID]; exists {
		return ErrConflict
	}
	t.state.patrons[patron.ID] = *patron
	return nil
}
