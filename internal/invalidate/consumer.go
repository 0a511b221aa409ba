package invalidate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/geoprox/proxcache/internal/observability"
)

// RadiusInvalidator drops every cached cell within radiusKm of a point;
// satisfied by *geocache.Engine.
type RadiusInvalidator interface {
	InvalidateRadius(ctx context.Context, lat, lng, radiusKm float64) (int, error)
}

// Consumer applies invalidation events from Kafka to the local geohash
// cache, so a fleet of cache instances stay consistent when one of them
// processes a property write (spec section 4.4).
type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  RadiusInvalidator
	seen   *dedupe
}

func New(cfg Config, logger *slog.Logger, cache RadiusInvalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, cache: cache, seen: newDedupe(cfg.DedupeCacheSize)}
}

func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("invalidate: missing cache dependency")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("invalidate: create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.processOne}

	c.logger.Info("invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("invalidation consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

func (c *Consumer) processOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("invalidate: decode event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalidate: invalid event: %w", err)
	}

	if !c.seen.shouldApply(ev) {
		c.logger.Debug("invalidation event skipped as duplicate/stale", "op", ev.Op, "lat", ev.Lat, "lng", ev.Lng)
		return nil
	}

	n, err := c.cache.InvalidateRadius(ctx, ev.Lat, ev.Lng, ev.RadiusKm)
	if err != nil {
		observability.ObserveCacheOp("invalidate_consume", err, time.Since(start).Seconds())
		return fmt.Errorf("invalidate: apply event: %w", err)
	}

	observability.ObserveCacheOp("invalidate_consume", nil, time.Since(start).Seconds())
	c.logger.Debug("invalidation applied", "op", ev.Op, "cells_removed", n)
	return nil
}

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

type groupHandler struct {
	process messageProcessor
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim context done: %w", ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
