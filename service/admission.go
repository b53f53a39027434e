package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anchel/voucher-seckill/lib/clock"
	"github.com/anchel/voucher-seckill/lib/idworker"
	"github.com/anchel/voucher-seckill/model"
	"github.com/anchel/voucher-seckill/obs"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/anchel/voucher-seckill/service"

// WindowChecker decides whether a voucher is inside its sale window.
// AdmitUnknown means admission may proceed.
type WindowChecker interface {
	CheckWindow(ctx context.Context, voucherID int64) (model.AdmitStatus, error)
}

// Gate makes the atomic admission decision for a (voucher, user) pair and
// enqueues the ticket of every admitted request.
type Gate struct {
	rdb     redis.Scripter
	ids     *idworker.Worker
	window  WindowChecker
	breaker *gobreaker.CircuitBreaker
	clock   clock.Clock
	metrics *obs.Metrics
	tracer  trace.Tracer
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "seckill-admit",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		// caller cancellations say nothing about the store
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
}

// NewGate builds a Gate. window may be nil to skip the sale window check.
func NewGate(rdb redis.Scripter, ids *idworker.Worker, window WindowChecker, clk clock.Clock, m *obs.Metrics) *Gate {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Gate{
		rdb:     rdb,
		ids:     ids,
		window:  window,
		breaker: newBreaker(),
		clock:   clk,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}
}

// Admit returns Admitted with the new order id, or NoStock, DuplicateOrder,
// NotStarted, Ended. Those are results; err is reserved for failures, with
// ErrStoreUnavailable meaning the caller may retry.
func (g *Gate) Admit(ctx context.Context, voucherID, userID int64) (res model.AdmitResult, err error) {
	ctx, span := g.tracer.Start(ctx, "seckill.Admit", trace.WithAttributes(
		attribute.Int64("voucher.id", voucherID),
		attribute.Int64("user.id", userID),
	))
	start := time.Now()
	defer func() {
		g.metrics.ObserveMS("admit", float64(time.Since(start).Microseconds())/1000)
		if err != nil {
			g.metrics.Admit("error")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			g.metrics.Admit(res.Status.String())
			span.SetAttributes(attribute.String("admit.status", res.Status.String()))
		}
		span.End()
	}()

	if g.window != nil {
		status, err := g.window.CheckWindow(ctx, voucherID)
		if err != nil {
			return model.AdmitResult{}, err
		}
		if status != model.AdmitUnknown {
			return model.AdmitResult{Status: status}, nil
		}
	}

	orderID, err := g.ids.NextID(ctx, orderIDNamespace)
	if err != nil {
		log.Error("Gate Admit NextID", "voucherID", voucherID, "userID", userID, "err", err)
		return model.AdmitResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	args, err := ticketArgs(model.Ticket{
		OrderID:    orderID,
		UserID:     userID,
		VoucherID:  voucherID,
		AdmittedAt: g.clock.Now().UnixMilli(),
		Trace:      obs.InjectTrace(ctx),
	})
	if err != nil {
		return model.AdmitResult{}, err
	}

	out, err := g.breaker.Execute(func() (any, error) {
		return admitScript.Run(ctx, g.rdb,
			[]string{StockKey(voucherID), OrderSetKey(voucherID), StreamOrders},
			args...).Int64()
	})
	if err != nil {
		log.Error("Gate Admit script", "voucherID", voucherID, "userID", userID, "err", err)
		return model.AdmitResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	switch out.(int64) {
	case admitOK:
		log.Info("Gate Admit admitted", "voucherID", voucherID, "userID", userID, "orderID", orderID)
		return model.AdmitResult{Status: model.Admitted, OrderID: orderID}, nil
	case admitNoStock:
		return model.AdmitResult{Status: model.NoStock}, nil
	case admitDuplicate:
		return model.AdmitResult{Status: model.DuplicateOrder}, nil
	}
	return model.AdmitResult{}, fmt.Errorf("unexpected admission result %d", out.(int64))
}
