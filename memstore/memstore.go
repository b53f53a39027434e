// Package memstore keeps vouchers and orders in process memory. It backs the
// "memory" store driver and the pipeline tests.
package memstore

import (
	"context"
	"sync"

	"github.com/anchel/voucher-seckill/lib/clock"
	"github.com/anchel/voucher-seckill/model"
)

type pair struct {
	userID    int64
	voucherID int64
}

type state struct {
	nextVoucherID int64
	vouchers      map[int64]model.Voucher
	orders        map[int64]model.Order
	byUser        map[pair]int64
}

func (s state) clone() state {
	c := state{
		nextVoucherID: s.nextVoucherID,
		vouchers:      make(map[int64]model.Voucher, len(s.vouchers)),
		orders:        make(map[int64]model.Order, len(s.orders)),
		byUser:        make(map[pair]int64, len(s.byUser)),
	}
	for k, v := range s.vouchers {
		c.vouchers[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.byUser {
		c.byUser[k] = v
	}
	return c
}

type Store struct {
	mu    sync.Mutex
	st    state
	clock clock.Clock
}

type txKey struct{}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Store{
		st: state{
			vouchers: make(map[int64]model.Voucher),
			orders:   make(map[int64]model.Order),
			byUser:   make(map[pair]int64),
		},
		clock: clk,
	}
}

// WithTx serialises fn against every other store call and restores the
// previous state when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) InsertVoucher(ctx context.Context, v model.Voucher) (int64, error) {
	defer s.lock(ctx)()

	s.st.nextVoucherID++
	v.ID = s.st.nextVoucherID
	now := s.clock.Now()
	v.CreatedAt, v.UpdatedAt = now, now
	s.st.vouchers[v.ID] = v
	return v.ID, nil
}

func (s *Store) GetVoucher(ctx context.Context, id int64) (*model.Voucher, error) {
	defer s.lock(ctx)()

	v, ok := s.st.vouchers[id]
	if !ok {
		return nil, model.ErrVoucherNotFound
	}
	return &v, nil
}

func (s *Store) UpdateVoucher(ctx context.Context, v model.Voucher) error {
	defer s.lock(ctx)()

	cur, ok := s.st.vouchers[v.ID]
	if !ok {
		return model.ErrVoucherNotFound
	}
	cur.Title = v.Title
	cur.BeginTime = v.BeginTime
	cur.EndTime = v.EndTime
	cur.UpdatedAt = s.clock.Now()
	s.st.vouchers[v.ID] = cur
	return nil
}

func (s *Store) DecrementStockIfPositive(ctx context.Context, voucherID int64) (bool, error) {
	defer s.lock(ctx)()

	v, ok := s.st.vouchers[voucherID]
	if !ok || v.Stock <= 0 {
		return false, nil
	}
	v.Stock--
	s.st.vouchers[voucherID] = v
	return true, nil
}

func (s *Store) InsertOrder(ctx context.Context, o model.Order) error {
	defer s.lock(ctx)()

	k := pair{o.UserID, o.VoucherID}
	if _, ok := s.st.orders[o.ID]; ok {
		return model.ErrOrderConflict
	}
	if _, ok := s.st.byUser[k]; ok {
		return model.ErrOrderConflict
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.clock.Now()
	}
	s.st.orders[o.ID] = o
	s.st.byUser[k] = o.ID
	return nil
}

func (s *Store) CountOrders(ctx context.Context, userID, voucherID int64) (int64, error) {
	defer s.lock(ctx)()

	if _, ok := s.st.byUser[pair{userID, voucherID}]; ok {
		return 1, nil
	}
	return 0, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	defer s.lock(ctx)()

	o, ok := s.st.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *Store) GetOrderByUser(ctx context.Context, userID, voucherID int64) (*model.Order, error) {
	defer s.lock(ctx)()

	id, ok := s.st.byUser[pair{userID, voucherID}]
	if !ok {
		return nil, nil
	}
	o := s.st.orders[id]
	return &o, nil
}

// Orders returns every stored order for a voucher.
func (s *Store) Orders(voucherID int64) []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Order
	for _, o := range s.st.orders {
		if o.VoucherID == voucherID {
			out = append(out, o)
		}
	}
	return out
}

func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

