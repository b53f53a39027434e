package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/anchel/voucher-seckill/lib/clock"
	"github.com/anchel/voucher-seckill/lib/redislock"
	"github.com/anchel/voucher-seckill/model"
	"github.com/anchel/voucher-seckill/obs"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultOrderLockTTL = 10 * time.Second
	compensationTTL     = 24 * time.Hour
	sinkTimeout         = 2 * time.Second
)

// SettlementSink receives the terminal outcome of every ticket. Failures are
// logged by the caller and never block acknowledgement.
type SettlementSink interface {
	Name() string
	Settled(ctx context.Context, s model.Settlement) error
}

// TicketHandler persists one ticket. A nil error means the entry may be acknowledged.
type TicketHandler interface {
	Handle(ctx context.Context, streamID string, t model.Ticket) (model.Outcome, error)
}

type OrderHandler struct {
	store   OrderStore
	rdb     redis.Cmdable
	locker  *redislock.Locker
	sinks   []SettlementSink
	lockTTL time.Duration
	clock   clock.Clock
	metrics *obs.Metrics
	tracer  trace.Tracer
}

func NewOrderHandler(store OrderStore, rdb redis.Cmdable, locker *redislock.Locker, lockTTL time.Duration, clk clock.Clock, m *obs.Metrics, sinks ...SettlementSink) *OrderHandler {
	if lockTTL <= 0 {
		lockTTL = DefaultOrderLockTTL
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &OrderHandler{
		store:   store,
		rdb:     rdb,
		locker:  locker,
		sinks:   sinks,
		lockTTL: lockTTL,
		clock:   clk,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}
}

func (h *OrderHandler) Handle(ctx context.Context, streamID string, t model.Ticket) (model.Outcome, error) {
	ctx = obs.ExtractTrace(ctx, t.Trace)
	ctx, span := h.tracer.Start(ctx, "seckill.HandleTicket", trace.WithAttributes(
		attribute.Int64("order.id", t.OrderID),
		attribute.Int64("voucher.id", t.VoucherID),
		attribute.Int64("user.id", t.UserID),
	))
	defer span.End()
	start := time.Now()

	var outcome model.Outcome
	err := h.locker.WithLock(ctx, "order:"+strconv.FormatInt(t.UserID, 10), h.lockTTL, func(ctx context.Context) error {
		var err error
		outcome, err = CreateVoucherOrder(ctx, h.store, model.Order{
			ID:        t.OrderID,
			UserID:    t.UserID,
			VoucherID: t.VoucherID,
			CreatedAt: h.clock.Now(),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, redislock.ErrBusy) {
			return model.OutcomeUnknown, ErrLockBusy
		}
		return model.OutcomeUnknown, err
	}
	h.metrics.ObserveMS("handle", float64(time.Since(start).Microseconds())/1000)

	switch outcome {
	case model.Duplicate:
		log.Error("OrderHandler storage holds another order for the user, discarding ticket",
			"orderID", t.OrderID, "userID", t.UserID, "voucherID", t.VoucherID)
		h.compensate(ctx, t)
	case model.SoldOut:
		log.Warn("OrderHandler durable stock exhausted for an admitted ticket",
			"orderID", t.OrderID, "voucherID", t.VoucherID)
	case model.Replayed:
		log.Info("OrderHandler ticket already persisted", "orderID", t.OrderID)
	}
	h.metrics.Outcome(outcome.String())
	span.SetAttributes(attribute.String("order.outcome", outcome.String()))

	h.settle(ctx, model.Settlement{
		Ticket:    t,
		Outcome:   outcome,
		StreamID:  streamID,
		SettledAt: h.clock.Now(),
	})
	return outcome, nil
}

// compensate hands the ticket's admission stock back.
func (h *OrderHandler) compensate(ctx context.Context, t model.Ticket) {
	keys := []string{StockKey(t.VoucherID), OrderSetKey(t.VoucherID), compensatedKey(t.OrderID)}
	n, err := compensateScript.Run(ctx, h.rdb, keys, t.UserID, int64(compensationTTL/time.Second)).Int64()
	if err != nil {
		log.Error("OrderHandler compensate", "orderID", t.OrderID, "err", err)
		return
	}
	if n == 1 {
		log.Warn("OrderHandler returned admission stock", "orderID", t.OrderID, "voucherID", t.VoucherID)
	}
}

func (h *OrderHandler) settle(ctx context.Context, s model.Settlement) {
	for _, sink := range h.sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := sink.Settled(sctx, s); err != nil {
			h.metrics.SinkError(sink.Name())
			log.Warn("OrderHandler sink", "sink", sink.Name(), "orderID", s.Ticket.OrderID, "err", err)
		}
		cancel()
	}
}

// CreateVoucherOrder persists order inside one transaction: existing order
// check, guarded stock decrement, insert. Durable storage decides the outcome.
func CreateVoucherOrder(ctx context.Context, store OrderStore, order model.Order) (model.Outcome, error) {
	var outcome model.Outcome
	err := store.WithTx(ctx, func(ctx context.Context) error {
		n, err := store.CountOrders(ctx, order.UserID, order.VoucherID)
		if err != nil {
			return err
		}
		if n > 0 {
			existing, err := store.GetOrderByUser(ctx, order.UserID, order.VoucherID)
			if err != nil {
				return err
			}
			outcome = classifyExisting(existing, order)
			return nil
		}

		ok, err := store.DecrementStockIfPositive(ctx, order.VoucherID)
		if err != nil {
			return err
		}
		if !ok {
			outcome = model.SoldOut
			return nil
		}

		if err := store.InsertOrder(ctx, order); err != nil {
			return err
		}
		outcome = model.Persisted
		return nil
	})
	if errors.Is(err, ErrOrderConflict) {
		// a concurrent writer got there first; the decrement was rolled back
		existing, rerr := store.GetOrderByUser(ctx, order.UserID, order.VoucherID)
		if rerr != nil {
			return model.OutcomeUnknown, rerr
		}
		if existing == nil {
			existing, rerr = store.GetOrder(ctx, order.ID)
			if rerr != nil {
				return model.OutcomeUnknown, rerr
			}
		}
		if existing == nil {
			return model.OutcomeUnknown, fmt.Errorf("order %d: %w", order.ID, err)
		}
		return classifyExisting(existing, order), nil
	}
	if err != nil {
		return model.OutcomeUnknown, fmt.Errorf("create order %d: %w", order.ID, err)
	}
	return outcome, nil
}

func classifyExisting(existing *model.Order, order model.Order) model.Outcome {
	if existing != nil && existing.ID == order.ID {
		return model.Replayed
	}
	return model.Duplicate
}
