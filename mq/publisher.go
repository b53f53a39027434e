package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anchel/voucher-seckill/model"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	KeyOrderCreated  = "order.created"
	KeyOrderRejected = "order.rejected"
)

type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *Publisher) PublishJSON(ctx context.Context, key string, v any, headers amqp.Table) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         b,
	})
}

type OrderEvent struct {
	OrderID    int64     `json:"order_id"`
	UserID     int64     `json:"user_id"`
	VoucherID  int64     `json:"voucher_id"`
	Outcome    string    `json:"outcome"`
	AdmittedAt time.Time `json:"admitted_at"`
	SettledAt  time.Time `json:"settled_at"`
}

func NewOrderEvent(s model.Settlement) OrderEvent {
	return OrderEvent{
		OrderID:    s.Ticket.OrderID,
		UserID:     s.Ticket.UserID,
		VoucherID:  s.Ticket.VoucherID,
		Outcome:    s.Outcome.String(),
		AdmittedAt: time.UnixMilli(s.Ticket.AdmittedAt).UTC(),
		SettledAt:  s.SettledAt,
	}
}

func RoutingKey(o model.Outcome) string {
	if o.Succeeded() {
		return KeyOrderCreated
	}
	return KeyOrderRejected
}

// traceHeaders forwards the ticket's trace carrier as message headers.
func traceHeaders(carrier map[string]string) amqp.Table {
	if len(carrier) == 0 {
		return nil
	}
	h := amqp.Table{}
	for k, v := range carrier {
		h[k] = v
	}
	return h
}

func (p *Publisher) Name() string { return "rabbitmq" }

func (p *Publisher) Settled(ctx context.Context, s model.Settlement) error {
	return p.PublishJSON(ctx, RoutingKey(s.Outcome), NewOrderEvent(s), traceHeaders(s.Ticket.Trace))
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
