package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/anchel/voucher-seckill/model"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

type SubscribeNotifyMessage struct {
	OrderID   int64  `json:"order_id"`
	UserID    int64  `json:"user_id"`
	VoucherID int64  `json:"voucher_id"`
	Outcome   string `json:"outcome"`
}

func (snm SubscribeNotifyMessage) MarshalBinary() ([]byte, error) {
	return json.Marshal(snm)
}

// RedisNotifier announces settlements on the notify channel so every
// instance can wake its waiting inquiries.
type RedisNotifier struct {
	rdb redis.Cmdable
}

func NewRedisNotifier(rdb redis.Cmdable) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Name() string { return "redis" }

func (n *RedisNotifier) Settled(ctx context.Context, s model.Settlement) error {
	msg := SubscribeNotifyMessage{
		OrderID:   s.Ticket.OrderID,
		UserID:    s.Ticket.UserID,
		VoucherID: s.Ticket.VoucherID,
		Outcome:   s.Outcome.String(),
	}
	if err := n.rdb.Publish(ctx, NotifyChannel, msg).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", NotifyChannel, err)
	}
	return nil
}

// Subscriber delivers notify channel messages to in-process waiters by order id.
type Subscriber struct {
	rdb       redis.UniversalClient
	waiters   sync.Map // order id -> chan model.Outcome
	received  atomic.Int64
	ready     chan struct{}
	readyOnce sync.Once
}

func NewSubscriber(rdb redis.UniversalClient) *Subscriber {
	return &Subscriber{rdb: rdb, ready: make(chan struct{})}
}

// Ready is closed once the subscription is confirmed by the server.
func (s *Subscriber) Ready() <-chan struct{} {
	return s.ready
}

func (s *Subscriber) Received() int64 {
	return s.received.Load()
}

// Wait registers interest in orderID. The returned cancel must be called.
func (s *Subscriber) Wait(orderID int64) (<-chan model.Outcome, func()) {
	ch := make(chan model.Outcome, 1)
	actual, _ := s.waiters.LoadOrStore(orderID, ch)
	return actual.(chan model.Outcome), func() {
		s.waiters.CompareAndDelete(orderID, actual)
	}
}

func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.rdb.Subscribe(ctx, NotifyChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", NotifyChannel, err)
	}
	s.readyOnce.Do(func() { close(s.ready) })

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.received.Add(1)
			log.Debug("subscribe notify receive msg", "msg", msg.Payload)

			var snm SubscribeNotifyMessage
			if err := json.Unmarshal([]byte(msg.Payload), &snm); err != nil {
				log.Error("subscribe notify Unmarshal error", "err", err)
				continue
			}
			if val, ok := s.waiters.Load(snm.OrderID); ok {
				select {
				case val.(chan model.Outcome) <- model.ParseOutcome(snm.Outcome):
				default:
				}
			}
		}
	}
}
