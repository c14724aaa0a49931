// Package memory is a single-process implementation of every storage port,
// used in dev mode and in tests. One mutex guards all state, which makes the
// multi-write operations trivially atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NAVEED261/Reusable-shop/internal/inventory"
	"github.com/NAVEED261/Reusable-shop/internal/orders"
	"github.com/NAVEED261/Reusable-shop/internal/outbox"
	"github.com/NAVEED261/Reusable-shop/internal/reconcile"
)

type Store struct {
	mu sync.RWMutex

	products     map[string]orders.Product
	orderRows    map[string]*orders.Order
	byIdemKey    map[string]string
	byIntent     map[string]string
	reservations map[string][]*inventory.Reservation
	events       map[string]reconcile.EventRecord
	outboxRows   []*outbox.Row
	nextOutboxID int64
}

func New() *Store {
	return &Store{
		products:     make(map[string]orders.Product),
		orderRows:    make(map[string]*orders.Order),
		byIdemKey:    make(map[string]string),
		byIntent:     make(map[string]string),
		reservations: make(map[string][]*inventory.Reservation),
		events:       make(map[string]reconcile.EventRecord),
		nextOutboxID: 1,
	}
}

func cloneOrder(o *orders.Order) *orders.Order {
	cp := *o
	cp.Items = make([]orders.LineItem, len(o.Items))
	copy(cp.Items, o.Items)
	return &cp
}

// --- orders.Catalog ---

func (s *Store) SeedProducts(ps []orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		s.products[p.ID] = p
	}
}

func (s *Store) ProductsByID(_ context.Context, ids []string) (map[string]orders.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]orders.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) ListProducts(_ context.Context) ([]orders.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orders.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

// --- inventory.Ledger ---

func (s *Store) Reserve(_ context.Context, orderID string, lines []inventory.Line, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.reservations[orderID] {
		if r.Status == inventory.StatusReserved {
			return nil // already holds a reservation
		}
	}

	var shortages []inventory.Shortage
	for _, line := range lines {
		p, ok := s.products[line.ProductID]
		if !ok || p.Stock < line.Qty {
			var have int64
			if ok {
				have = p.Stock
			}
			shortages = append(shortages, inventory.Shortage{
				ProductID: line.ProductID,
				Required:  line.Qty,
				Available: have,
			})
		}
	}
	if len(shortages) > 0 {
		return &inventory.UnavailableError{Shortages: shortages}
	}

	now := time.Now().UTC()
	for _, line := range lines {
		p := s.products[line.ProductID]
		p.Stock -= line.Qty
		p.UpdatedAt = now
		s.products[line.ProductID] = p
		s.reservations[orderID] = append(s.reservations[orderID], &inventory.Reservation{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			ProductID: line.ProductID,
			Qty:       line.Qty,
			Status:    inventory.StatusReserved,
			ExpiresAt: expiresAt,
			CreatedAt: now,
		})
	}
	return nil
}

func (s *Store) Commit(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitLocked(orderID)
	return nil
}

func (s *Store) Release(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(orderID)
	return nil
}

func (s *Store) commitLocked(orderID string) {
	for _, r := range s.reservations[orderID] {
		if r.Status == inventory.StatusReserved {
			r.Status = inventory.StatusCommitted
		}
	}
}

func (s *Store) releaseLocked(orderID string) {
	now := time.Now().UTC()
	for _, r := range s.reservations[orderID] {
		if r.Status == inventory.StatusReserved {
			r.Status = inventory.StatusReleased
			p := s.products[r.ProductID]
			p.Stock += r.Qty
			p.UpdatedAt = now
			s.products[r.ProductID] = p
		}
	}
}

func (s *Store) Available(_ context.Context, productID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, nil
	}
	return p.Stock, nil
}

// --- orders.Store ---

func (s *Store) CreateOrder(_ context.Context, o *orders.Order, note *outbox.Row) (*orders.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byIdemKey[o.IdempotencyKey]; ok {
		return cloneOrder(s.orderRows[id]), false, nil
	}
	s.orderRows[o.ID] = cloneOrder(o)
	s.byIdemKey[o.IdempotencyKey] = o.ID
	s.appendNoteLocked(note)
	return cloneOrder(o), true, nil
}

func (s *Store) OrderByID(_ context.Context, id string) (*orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orderRows[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) OrderByIdempotencyKey(_ context.Context, key string) (*orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIdemKey[key]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneOrder(s.orderRows[id]), nil
}

func (s *Store) OrderByIntent(_ context.Context, intentID string) (*orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIntent[intentID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneOrder(s.orderRows[id]), nil
}

func (s *Store) OrdersByCustomer(_ context.Context, customerID string, limit int) ([]*orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*orders.Order
	for _, o := range s.orderRows {
		if o.CustomerID == customerID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AttachIntent(_ context.Context, orderID, intentID string, expectedVersion int64, note *outbox.Row) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orderRows[orderID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	if o.Status != orders.StatusCreated || o.Version != expectedVersion {
		return nil, orders.ErrConflict
	}
	o.PaymentIntentID = intentID
	o.Status = orders.StatusAwaitingPayment
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	s.byIntent[intentID] = orderID
	s.appendNoteLocked(note)
	return cloneOrder(o), nil
}

func (s *Store) Transition(_ context.Context, orderID string, from, to orders.Status, expectedVersion int64, reason string, note *outbox.Row) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(orderID, from, to, expectedVersion, reason, note)
}

func (s *Store) transitionLocked(orderID string, from, to orders.Status, expectedVersion int64, reason string, note *outbox.Row) (*orders.Order, error) {
	o, ok := s.orderRows[orderID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	if o.Status != from || o.Version != expectedVersion {
		return nil, orders.ErrConflict
	}
	o.Status = to
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	if reason != "" {
		o.FailureReason = reason
	}
	s.appendNoteLocked(note)
	return cloneOrder(o), nil
}

func (s *Store) SweepCandidates(_ context.Context, cutoff time.Time, limit int) ([]*orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*orders.Order
	for id, o := range s.orderRows {
		if o.Status != orders.StatusCreated && o.Status != orders.StatusAwaitingPayment {
			continue
		}
		for _, r := range s.reservations[id] {
			if r.Status == inventory.StatusReserved && !r.ExpiresAt.After(cutoff) {
				out = append(out, cloneOrder(o))
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) OrphanedHolds(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, rs := range s.reservations {
		o, ok := s.orderRows[id]
		if !ok || !orders.IsTerminal(o.Status) {
			continue
		}
		for _, r := range rs {
			if r.Status == inventory.StatusReserved {
				out = append(out, id)
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- reconcile.Store ---

func (s *Store) EventKnown(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *Store) RecordEvent(_ context.Context, rec reconcile.EventRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[rec.EventID]; ok {
		return false, nil
	}
	s.events[rec.EventID] = rec
	return true, nil
}

func (s *Store) ApplyEvent(_ context.Context, ch reconcile.Change) (*orders.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[ch.Event.EventID]; ok {
		return nil, true, nil
	}
	applied, err := s.transitionLocked(ch.OrderID, ch.From, ch.To, ch.ExpectedVersion, ch.Reason, ch.Note)
	if err != nil {
		return nil, false, err
	}
	s.events[ch.Event.EventID] = ch.Event
	switch ch.Effect {
	case reconcile.EffectCommit:
		s.commitLocked(ch.OrderID)
	case reconcile.EffectRelease:
		s.releaseLocked(ch.OrderID)
	}
	return applied, false, nil
}

// --- outbox.Source ---

func (s *Store) appendNoteLocked(note *outbox.Row) {
	if note == nil {
		return
	}
	now := time.Now().UTC()
	row := *note
	row.ID = s.nextOutboxID
	row.Status = outbox.StatusPending
	row.NextRetry = now
	row.CreatedAt = now
	s.nextOutboxID++
	s.outboxRows = append(s.outboxRows, &row)
}

func (s *Store) Claim(_ context.Context, limit int, hold time.Duration) ([]outbox.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var out []outbox.Row
	for _, row := range s.outboxRows {
		if len(out) >= limit {
			break
		}
		due := !row.NextRetry.After(now)
		if (row.Status == outbox.StatusPending && due) || (row.Status == outbox.StatusProcessing && due) {
			row.Status = outbox.StatusProcessing
			row.NextRetry = now.Add(hold)
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *Store) MarkSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.outboxRows {
		if row.ID == id {
			row.Status = outbox.StatusSent
			return nil
		}
	}
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id int64, nextRetry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.outboxRows {
		if row.ID == id {
			row.Status = outbox.StatusPending
			row.Attempts++
			row.NextRetry = nextRetry
			return nil
		}
	}
	return nil
}

// PendingOutbox returns a snapshot of unsent rows, newest last. Test helper.
func (s *Store) PendingOutbox() []outbox.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []outbox.Row
	for _, row := range s.outboxRows {
		if row.Status != outbox.StatusSent {
			out = append(out, *row)
		}
	}
	return out
}

// ReservationsFor returns a snapshot of the order's reservation rows. Test
// helper.
func (s *Store) ReservationsFor(orderID string) []inventory.Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.Reservation, 0, len(s.reservations[orderID]))
	for _, r := range s.reservations[orderID] {
		out = append(out, *r)
	}
	return out
}
