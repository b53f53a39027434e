package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anchel/voucher-seckill/lib/redisop"
	"github.com/anchel/voucher-seckill/obs"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultStreamGroup     = "g1"
	DefaultStreamBlock     = 2 * time.Second
	DefaultRecoveryBackoff = 20 * time.Millisecond
)

type PipelineOptions struct {
	Group           string
	Consumer        string
	Block           time.Duration
	RecoveryBackoff time.Duration
}

// Pipeline is the single stream consumer of an instance. Every entry is
// acknowledged only after its ticket has been handled; anything else stays in
// the consumer's pending list and is replayed by the recovery loop.
type Pipeline struct {
	rdb     redis.Cmdable
	handler TicketHandler
	opts    PipelineOptions
	metrics *obs.Metrics
}

func NewPipeline(rdb redis.Cmdable, handler TicketHandler, opts PipelineOptions, m *obs.Metrics) *Pipeline {
	if opts.Group == "" {
		opts.Group = DefaultStreamGroup
	}
	if opts.Consumer == "" {
		opts.Consumer = "c1"
	}
	if opts.Block <= 0 {
		opts.Block = DefaultStreamBlock
	}
	if opts.RecoveryBackoff <= 0 {
		opts.RecoveryBackoff = DefaultRecoveryBackoff
	}
	return &Pipeline{rdb: rdb, handler: handler, opts: opts, metrics: m}
}

func (p *Pipeline) ensureGroup(ctx context.Context) error {
	err := p.rdb.XGroupCreateMkStream(ctx, StreamOrders, p.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", p.opts.Group, err)
	}
	return nil
}

// Run drains the consumer's pending entries, then consumes new ones until ctx ends.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.ensureGroup(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.Info("order pipeline started", "group", p.opts.Group, "consumer", p.opts.Consumer)

	p.recoverPending(ctx)

	for {
		if ctx.Err() != nil {
			log.Info("order pipeline stopped", "consumer", p.opts.Consumer)
			return nil
		}

		msg, ok, err := p.read(ctx, ">", p.opts.Block)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error("order pipeline read", "err", err)
			p.sleep(ctx)
			continue
		}
		if !ok {
			continue
		}

		if err := p.process(ctx, msg); err != nil {
			log.Error("order pipeline process", "id", msg.ID, "err", err)
			p.recoverPending(ctx)
		}
	}
}

// recoverPending replays this consumer's unacknowledged entries from the
// start of its pending list until the list is empty or ctx ends.
func (p *Pipeline) recoverPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		msg, ok, err := p.read(ctx, "0", -1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.metrics.Recovery("retry")
			log.Error("order pipeline recovery read", "err", err)
			p.sleep(ctx)
			continue
		}
		if !ok {
			p.metrics.Recovery("drained")
			return
		}

		if err := p.process(ctx, msg); err != nil {
			p.metrics.Recovery("retry")
			log.Warn("order pipeline recovery process", "id", msg.ID, "err", err)
			p.sleep(ctx)
		}
	}
}

// read fetches one entry. block < 0 sends no BLOCK argument.
func (p *Pipeline) read(ctx context.Context, id string, block time.Duration) (redis.XMessage, bool, error) {
	streams, err := p.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    p.opts.Group,
		Consumer: p.opts.Consumer,
		Streams:  []string{StreamOrders, id},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redis.XMessage{}, false, nil
		}
		return redis.XMessage{}, false, err
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return redis.XMessage{}, false, nil
	}
	return streams[0].Messages[0], true, nil
}

func (p *Pipeline) process(ctx context.Context, msg redis.XMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling entry %s: %v", msg.ID, r)
		}
	}()

	t, derr := DecodeTicket(msg.Values)
	if derr != nil {
		p.metrics.Malformed()
		log.Error("order pipeline discarding malformed entry", "id", msg.ID, "values", msg.Values, "err", derr)
		return p.ack(ctx, msg.ID)
	}

	if _, err := p.handler.Handle(ctx, msg.ID, t); err != nil {
		return err
	}
	return p.ack(ctx, msg.ID)
}

func (p *Pipeline) ack(ctx context.Context, id string) error {
	return redisop.XAck(context.WithoutCancel(ctx), p.rdb, StreamOrders, p.opts.Group, id)
}

func (p *Pipeline) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.opts.RecoveryBackoff):
	}
}
