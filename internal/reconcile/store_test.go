package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/meridian-erp/meridian/internal/ledger"
)

// memStore is an in-memory Store used across the engine tests. LocationID
// zero on a movement stands for the legacy NULL location.
type memStore struct {
	movements     []ledger.Movement
	stocks        map[string]ledger.LocationStock
	variants      map[int64]int64
	locations     []ledger.Location
	orders        map[int64]string
	nextID        int64
	failRecompute map[int64]bool
}

func newMemStore() *memStore {
	return &memStore{
		stocks:        make(map[string]ledger.LocationStock),
		variants:      make(map[int64]int64),
		orders:        make(map[int64]string),
		failRecompute: make(map[int64]bool),
	}
}

func (s *memStore) addLocation(loc ledger.Location) {
	s.locations = append(s.locations, loc)
}

func (s *memStore) addMovement(m ledger.Movement) ledger.Movement {
	if m.ID == 0 {
		s.nextID++
		m.ID = s.nextID
	} else if m.ID > s.nextID {
		s.nextID = m.ID
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.movements = append(s.movements, m)
	return m
}

func (s *memStore) setStock(variantID, locationID, quantity int64) {
	s.stocks[memStockKey(variantID, locationID)] = ledger.LocationStock{
		ProductVariantID: variantID,
		LocationID:       locationID,
		Quantity:         quantity,
	}
}

func memStockKey(variantID, locationID int64) string {
	return fmt.Sprintf("%d:%d", variantID, locationID)
}

func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, &memTx{store: s})
}

func (s *memStore) DuplicateSaleGroups(ctx context.Context) ([]DuplicateSaleGroup, error) {
	type key struct{ order, variant int64 }
	byKey := make(map[key][]ledger.Movement)
	for _, m := range s.movements {
		if m.Type == ledger.MovementTypeSale && m.OrderID != 0 {
			k := key{m.OrderID, m.ProductVariantID}
			byKey[k] = append(byKey[k], m)
		}
	}
	var groups []DuplicateSaleGroup
	for k, members := range byKey {
		if len(members) < 2 {
			continue
		}
		ledger.SortChronological(members)
		ids := make([]int64, len(members))
		for i, m := range members {
			ids[i] = m.ID
		}
		groups = append(groups, DuplicateSaleGroup{OrderID: k.order, ProductVariantID: k.variant, MovementIDs: ids})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].OrderID < groups[j].OrderID })
	return groups, nil
}

func (s *memStore) NullLocationMovements(ctx context.Context) ([]ledger.Movement, error) {
	var out []ledger.Movement
	for _, m := range s.movements {
		if m.LocationID == 0 {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) DefaultLocation(ctx context.Context) (ledger.Location, error) {
	if len(s.locations) == 0 {
		return ledger.Location{}, ErrNoLocationConfigured
	}
	for _, loc := range s.locations {
		if loc.IsDefault {
			return loc, nil
		}
	}
	earliest := s.locations[0]
	for _, loc := range s.locations[1:] {
		if loc.CreatedAt.Before(earliest.CreatedAt) {
			earliest = loc
		}
	}
	return earliest, nil
}

func (s *memStore) CancelledOrdersWithSales(ctx context.Context) ([]int64, error) {
	seen := make(map[int64]struct{})
	var out []int64
	for _, m := range s.movements {
		if m.Type != ledger.MovementTypeSale || m.OrderID == 0 {
			continue
		}
		if s.orders[m.OrderID] != "cancelled" {
			continue
		}
		if _, ok := seen[m.OrderID]; ok {
			continue
		}
		seen[m.OrderID] = struct{}{}
		out = append(out, m.OrderID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *memStore) DuplicateRestorations(ctx context.Context) ([]RestorationPair, error) {
	var pairs []RestorationPair
	for _, c := range s.movements {
		if c.Type != ledger.MovementTypeCancellation || c.OrderID == 0 {
			continue
		}
		for _, ret := range s.movements {
			if ret.Type == ledger.MovementTypeReturn && ret.OrderID == c.OrderID && ret.ProductVariantID == c.ProductVariantID {
				pairs = append(pairs, RestorationPair{
					OrderID:          c.OrderID,
					ProductVariantID: c.ProductVariantID,
					CancellationID:   c.ID,
					ReturnID:         ret.ID,
				})
			}
		}
	}
	return pairs, nil
}

func (s *memStore) MovementScopes(ctx context.Context) ([]Scope, error) {
	seen := make(map[string]struct{})
	var scopes []Scope
	for _, m := range s.movements {
		if m.LocationID == 0 {
			continue
		}
		k := memStockKey(m.ProductVariantID, m.LocationID)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		scopes = append(scopes, Scope{ProductVariantID: m.ProductVariantID, LocationID: m.LocationID})
	}
	sort.Slice(scopes, func(i, j int) bool {
		if scopes[i].ProductVariantID == scopes[j].ProductVariantID {
			return scopes[i].LocationID < scopes[j].LocationID
		}
		return scopes[i].ProductVariantID < scopes[j].ProductVariantID
	})
	return scopes, nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) GetLocation(ctx context.Context, id int64) (ledger.Location, error) {
	for _, loc := range t.store.locations {
		if loc.ID == id {
			return loc, nil
		}
	}
	return ledger.Location{}, ledger.ErrLocationNotFound
}

func (t *memTx) GetLocationStockForUpdate(ctx context.Context, variantID, locationID int64) (ledger.LocationStock, error) {
	if stock, ok := t.store.stocks[memStockKey(variantID, locationID)]; ok {
		return stock, nil
	}
	return ledger.LocationStock{ProductVariantID: variantID, LocationID: locationID}, ledger.ErrStockNotFound
}

func (t *memTx) InsertMovement(ctx context.Context, m ledger.Movement) (int64, error) {
	added := t.store.addMovement(m)
	return added.ID, nil
}

func (t *memTx) HasRestorativeMovement(ctx context.Context, orderID, variantID int64) (bool, error) {
	for _, m := range t.store.movements {
		if m.OrderID == orderID && m.ProductVariantID == variantID && m.Type.Restorative() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) UpsertLocationStock(ctx context.Context, stock ledger.LocationStock) error {
	t.store.stocks[memStockKey(stock.ProductVariantID, stock.LocationID)] = stock
	return nil
}

func (t *memTx) RecomputeVariantStock(ctx context.Context, variantID int64) error {
	if t.store.failRecompute[variantID] {
		return errors.New("recompute failure injected")
	}
	var total int64
	for _, stock := range t.store.stocks {
		if stock.ProductVariantID == variantID {
			total += stock.Quantity
		}
	}
	t.store.variants[variantID] = total
	return nil
}

func (t *memTx) DeleteMovements(ctx context.Context, ids []int64) (int64, error) {
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	var kept []ledger.Movement
	var deleted int64
	for _, m := range t.store.movements {
		if _, ok := drop[m.ID]; ok {
			deleted++
			continue
		}
		kept = append(kept, m)
	}
	t.store.movements = kept
	return deleted, nil
}

func (t *memTx) DeleteOrderMovements(ctx context.Context, orderID int64, types []ledger.MovementType) ([]int64, error) {
	match := make(map[ledger.MovementType]struct{}, len(types))
	for _, typ := range types {
		match[typ] = struct{}{}
	}
	var kept []ledger.Movement
	var variants []int64
	for _, m := range t.store.movements {
		if _, ok := match[m.Type]; ok && m.OrderID == orderID {
			variants = append(variants, m.ProductVariantID)
			continue
		}
		kept = append(kept, m)
	}
	t.store.movements = kept
	return variants, nil
}

func (t *memTx) SetMovementLocation(ctx context.Context, movementID, locationID int64) error {
	for i := range t.store.movements {
		if t.store.movements[i].ID == movementID {
			t.store.movements[i].LocationID = locationID
			return nil
		}
	}
	return fmt.Errorf("movement %d not found", movementID)
}

func (t *memTx) UpdateMovementSnapshot(ctx context.Context, fix ledger.SnapshotFix) error {
	for i := range t.store.movements {
		if t.store.movements[i].ID == fix.MovementID {
			t.store.movements[i].QuantityBefore = fix.QuantityBefore
			t.store.movements[i].QuantityAfter = fix.QuantityAfter
			return nil
		}
	}
	return fmt.Errorf("movement %d not found", fix.MovementID)
}

func (t *memTx) ScopeMovements(ctx context.Context, variantID, locationID int64) ([]ledger.Movement, error) {
	var out []ledger.Movement
	for _, m := range t.store.movements {
		if m.ProductVariantID == variantID && m.LocationID == locationID {
			out = append(out, m)
		}
	}
	ledger.SortChronological(out)
	return out, nil
}

func (t *memTx) VariantLocations(ctx context.Context, variantID int64) ([]int64, error) {
	seen := make(map[int64]struct{})
	for _, m := range t.store.movements {
		if m.ProductVariantID == variantID && m.LocationID != 0 {
			seen[m.LocationID] = struct{}{}
		}
	}
	for _, stock := range t.store.stocks {
		if stock.ProductVariantID == variantID {
			seen[stock.LocationID] = struct{}{}
		}
	}
	var out []int64
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
