package service

import (
	"context"
	"errors"
	"time"

	"github.com/anchel/voucher-seckill/model"
	"github.com/charmbracelet/log"
)

type InquireStatus int32

const (
	InquireQueueing InquireStatus = iota
	InquireSuccess
	InquireFailed
)

func (s InquireStatus) String() string {
	switch s {
	case InquireSuccess:
		return "SUCCESS"
	case InquireFailed:
		return "FAILED"
	}
	return "QUEUEING"
}

var ErrOrderNotFound = errors.New("order not found")

// ResultLookup reads recorded outcomes of settled tickets.
type ResultLookup interface {
	FindOutcome(ctx context.Context, orderID int64) (model.Outcome, bool, error)
}

type InquireResult struct {
	Status InquireStatus
	Order  *model.Order
}

type Inquirer struct {
	store   OrderStore
	sub     *Subscriber
	results ResultLookup
	timeout time.Duration
}

// NewInquirer builds an Inquirer; sub and results are optional.
func NewInquirer(store OrderStore, sub *Subscriber, results ResultLookup, timeout time.Duration) *Inquirer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Inquirer{store: store, sub: sub, results: results, timeout: timeout}
}

// InquireOrder reports whether the order admitted for userID is durable.
// Unsettled orders wait up to the inquiry timeout for a settlement notice.
func (q *Inquirer) InquireOrder(ctx context.Context, orderID, userID int64) (InquireResult, error) {
	var notify <-chan model.Outcome
	if q.sub != nil {
		ch, cancel := q.sub.Wait(orderID)
		defer cancel()
		notify = ch
	}

	res, done, err := q.lookup(ctx, orderID, userID)
	if err != nil || done {
		return res, err
	}
	if notify == nil {
		return InquireResult{Status: InquireQueueing}, nil
	}

	wctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	select {
	case <-wctx.Done():
		return InquireResult{Status: InquireQueueing}, nil
	case outcome := <-notify:
		log.Info("InquireOrder notify receive", "orderID", orderID, "outcome", outcome.String())
		if !outcome.Succeeded() {
			return InquireResult{Status: InquireFailed}, nil
		}
		res, done, err := q.lookup(ctx, orderID, userID)
		if err != nil || done {
			return res, err
		}
		return InquireResult{Status: InquireQueueing}, nil
	}
}

func (q *Inquirer) lookup(ctx context.Context, orderID, userID int64) (InquireResult, bool, error) {
	o, err := q.store.GetOrder(ctx, orderID)
	if err != nil {
		return InquireResult{}, true, err
	}
	if o != nil {
		if o.UserID != userID {
			return InquireResult{}, true, ErrOrderNotFound
		}
		return InquireResult{Status: InquireSuccess, Order: o}, true, nil
	}

	if q.results != nil {
		outcome, found, err := q.results.FindOutcome(ctx, orderID)
		if err != nil {
			log.Warn("InquireOrder FindOutcome", "orderID", orderID, "err", err)
		} else if found && !outcome.Succeeded() {
			return InquireResult{Status: InquireFailed}, true, nil
		}
	}
	return InquireResult{}, false, nil
}
