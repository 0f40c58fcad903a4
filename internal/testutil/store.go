// Package testutil provides in-memory stand-ins for the Postgres repositories
// and the transactor. Transactions are serialized and rolled back on error so
// tests observe the same all-or-nothing behaviour as the database.
package testutil

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/sand/storefront-payments/backend/internal/entities"
	"github.com/sand/storefront-payments/backend/internal/usecases/repository"
)

type txKey struct{}

type state struct {
	orders   map[string]entities.Order
	payments map[string]entities.Payment // keyed by order id
	events   []entities.PaymentEvent
}

func (s state) clone() state {
	out := state{
		orders:   make(map[string]entities.Order, len(s.orders)),
		payments: make(map[string]entities.Payment, len(s.payments)),
		events:   slices.Clone(s.events),
	}
	for k, v := range s.orders {
		out.orders[k] = v
	}
	for k, v := range s.payments {
		v.Flags = slices.Clone(v.Flags)
		out.payments[k] = v
	}
	return out
}

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	data   state
	failOn map[string]error
}

func NewStore() *Store {
	return &Store{
		data: state{
			orders:   map[string]entities.Order{},
			payments: map[string]entities.Payment{},
		},
		failOn: map[string]error{},
	}
}

// FailOn makes the named repository method return err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, method)
		return
	}
	s.failOn[method] = err
}

func (s *Store) injected(method string) error {
	return s.failOn[method]
}

// SeedOrder stores o as is.
func (s *Store) SeedOrder(o entities.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.orders[o.ID] = o
}

func (s *Store) Order(id string) (entities.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.data.orders[id]
	return o, ok
}

func (s *Store) Payment(orderID string) (entities.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.payments[orderID]
	return p, ok
}

func (s *Store) AllPayments() []entities.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entities.Payment, 0, len(s.data.payments))
	for _, p := range s.data.payments {
		out = append(out, p)
	}
	return out
}

func (s *Store) Events(orderID string) []entities.PaymentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.PaymentEvent
	for _, e := range s.data.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Orders() *Orders         { return &Orders{s: s} }
func (s *Store) Payments() *Payments     { return &Payments{s: s} }
func (s *Store) Transactor() *Transactor { return &Transactor{s: s} }

type Transactor struct {
	s *Store
}

// WithinTransaction runs fn exclusively and restores the previous state if it fails.
// Nested calls join the outer transaction. Because transactions never overlap,
// races with a concurrent commit are staged by wrapping a repository and
// serving the reads that commit would have invalidated.
func (t *Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	t.s.txMu.Lock()
	defer t.s.txMu.Unlock()

	t.s.mu.Lock()
	snapshot := t.s.data.clone()
	t.s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		t.s.mu.Lock()
		t.s.data = snapshot
		t.s.mu.Unlock()
		return err
	}

	return nil
}

type Orders struct {
	s *Store
}

func (r *Orders) InsertOrder(_ context.Context, order *entities.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("InsertOrder"); err != nil {
		return err
	}
	r.s.data.orders[order.ID] = *order
	return nil
}

func (r *Orders) FindOrderByID(_ context.Context, id string) (*entities.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("FindOrderByID"); err != nil {
		return nil, err
	}
	o, ok := r.s.data.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r *Orders) FindUserOrders(_ context.Context, userID string) ([]entities.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []entities.Order
	for _, o := range r.s.data.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Orders) TransitionPaymentStatus(_ context.Context, t entities.StatusTransition) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("TransitionPaymentStatus"); err != nil {
		return false, err
	}

	o, ok := r.s.data.orders[t.OrderID]
	if !ok || !slices.Contains(t.From, o.PaymentStatus) {
		return false, nil
	}

	o.PaymentStatus = t.To
	if t.ReferenceCode != nil {
		ref := *t.ReferenceCode
		o.ReferenceCode = &ref
	}
	o.UpdatedAt = t.At
	r.s.data.orders[t.OrderID] = o
	return true, nil
}

type Payments struct {
	s *Store
}

func (r *Payments) UpsertActivePayment(_ context.Context, p *entities.Payment) (*entities.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("UpsertActivePayment"); err != nil {
		return nil, err
	}

	current, ok := r.s.data.payments[p.OrderID]
	if !ok {
		current = *p
		current.Attempts = 1
		current.Flags = slices.Clone(p.Flags)
		r.s.data.payments[p.OrderID] = current
		return &current, nil
	}
	if current.Verified {
		return nil, repository.ErrPaymentVerified
	}

	current.Method = p.Method
	current.Amount = p.Amount
	current.ReferenceCode = p.ReferenceCode
	current.Flags = slices.Clone(p.Flags)
	current.VerifiedBy, current.VerifiedAt = nil, nil
	current.RejectionReason, current.RejectedBy, current.RejectedAt = nil, nil, nil
	current.Attempts++
	current.UpdatedAt = p.UpdatedAt
	r.s.data.payments[p.OrderID] = current

	return &current, nil
}

func (r *Payments) FindPaymentByOrderID(_ context.Context, orderID string) (*entities.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.payments[orderID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *Payments) mutate(paymentID, referenceCode string, fn func(p *entities.Payment)) (*entities.Payment, error) {
	for orderID, p := range r.s.data.payments {
		if p.ID != paymentID {
			continue
		}
		if p.Verified || p.ReferenceCode != referenceCode {
			return nil, repository.ErrPaymentChanged
		}
		fn(&p)
		r.s.data.payments[orderID] = p
		return &p, nil
	}
	return nil, repository.ErrPaymentChanged
}

func (r *Payments) MarkPaymentVerified(_ context.Context, paymentID, referenceCode, adminID string, at time.Time) (*entities.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("MarkPaymentVerified"); err != nil {
		return nil, err
	}
	return r.mutate(paymentID, referenceCode, func(p *entities.Payment) {
		p.Verified = true
		p.VerifiedBy, p.VerifiedAt = &adminID, &at
		p.RejectionReason, p.RejectedBy, p.RejectedAt = nil, nil, nil
		p.UpdatedAt = at
	})
}

func (r *Payments) MarkPaymentRejected(_ context.Context, paymentID, referenceCode, adminID string, reason *string, at time.Time) (*entities.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("MarkPaymentRejected"); err != nil {
		return nil, err
	}
	return r.mutate(paymentID, referenceCode, func(p *entities.Payment) {
		p.RejectionReason, p.RejectedBy, p.RejectedAt = reason, &adminID, &at
		p.UpdatedAt = at
	})
}

func (r *Payments) CountReferenceUse(_ context.Context, referenceCode, excludeOrderID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, p := range r.s.data.payments {
		if p.ReferenceCode == referenceCode && p.OrderID != excludeOrderID {
			n++
		}
	}
	return n, nil
}

func (r *Payments) ListPayments(_ context.Context, filter entities.PaymentFilter) ([]entities.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("ListPayments"); err != nil {
		return nil, err
	}

	out := []entities.Payment{}
	for _, p := range r.s.data.payments {
		if filter.Verified != nil && p.Verified != *filter.Verified {
			continue
		}
		if filter.Status != nil && p.Status() != *filter.Status {
			continue
		}
		if filter.From != nil && p.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && p.CreatedAt.After(*filter.To) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Payments) FindUserPayments(_ context.Context, userID string) ([]entities.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []entities.Payment
	for _, p := range r.s.data.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Payments) FindAwaitingOlderThan(_ context.Context, cutoff time.Time) ([]entities.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("FindAwaitingOlderThan"); err != nil {
		return nil, err
	}
	var out []entities.Payment
	for _, p := range r.s.data.payments {
		if p.Status() == entities.LedgerStatusAwaiting && p.UpdatedAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (r *Payments) ScanPayments(_ context.Context, fn func(*entities.Payment) error) error {
	r.s.mu.Lock()
	rows := make([]entities.Payment, 0, len(r.s.data.payments))
	for _, p := range r.s.data.payments {
		rows = append(rows, p)
	}
	err := r.s.injected("ScanPayments")
	r.s.mu.Unlock()
	if err != nil {
		return err
	}

	for i := range rows {
		if err = fn(&rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Payments) AppendEvent(_ context.Context, e *entities.PaymentEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("AppendEvent"); err != nil {
		return err
	}
	r.s.data.events = append(r.s.data.events, *e)
	return nil
}

func (r *Payments) FindEventsByOrderID(_ context.Context, orderID string) ([]entities.PaymentEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []entities.PaymentEvent{}
	for _, e := range r.s.data.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}
