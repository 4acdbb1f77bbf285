// Package kafkaconsumer applies cache-clear commands read from a Kafka topic.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/animita-app/animitas-sub001/internal/core/model"
	obs "github.com/animita-app/animitas-sub001/internal/core/observability"
	"github.com/animita-app/animitas-sub001/internal/invalidation"
	mylog "github.com/animita-app/animitas-sub001/internal/logger"
)

type BoundaryClearer interface {
	ClearCache(ctx context.Context) (int, error)
	ClearPlace(ctx context.Context, name string) (int, error)
}

type LayerClearer interface {
	ClearCache(ctx context.Context) (int, error)
	ClearLayer(ctx context.Context, t model.LayerType) (int, error)
	ClearEntry(ctx context.Context, t model.LayerType, bb model.BBox) (int, error)
}

type Consumer struct {
	cfg        Config
	logger     *slog.Logger
	boundaries BoundaryClearer
	layers     LayerClearer
}

func New(cfg Config, logger *slog.Logger, b BoundaryClearer, l LayerClearer) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, boundaries: b, layers: l}
}

// consumes clear commands from kafka until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if c.boundaries == nil || c.layers == nil {
		return errors.New("kafkaconsumer: missing dependencies (boundaries/layers)")
	}

	if err := c.cfg.Validate(); err != nil {
		return err
	}
	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, c.cfg.saramaConfig())
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	handler := &groupHandler{apply: c.ProcessOne, log: c.logger}

	go func() {
		for err := range group.Errors() {
			obs.IncKafkaConsumerError("group")
			c.logger.WarnContext(ctx, "kafka group error", "err", err)
		}
	}()

	c.logger.InfoContext(ctx, "kafka cache-clear consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "kafka cache-clear consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.logger.ErrorContext(ctx, "kafka consumer error",
					"err", err, "brokers", c.cfg.Brokers, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne applies a single command. Undecodable or invalid commands are
// logged and skipped so they cannot block the partition; a failed clear is
// returned so the message is redelivered. Clear metrics are recorded by the
// caches themselves.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var cmd invalidation.Command
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		obs.IncKafkaConsumerError("decode")
		c.logger.WarnContext(ctx, "skipping undecodable command",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := cmd.Validate(); err != nil {
		obs.IncKafkaConsumerError("validate")
		c.logger.WarnContext(ctx, "skipping invalid command",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}

	n, err := c.apply(ctx, cmd)
	if err != nil {
		obs.IncKafkaConsumerError("clear")
		c.logger.ErrorContext(ctx, "cache clear failed",
			"scope", cmd.Scope, "place", cmd.Place, "layer", cmd.Layer,
			"partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("clear %s: %w", cmd.Scope, err)
	}

	c.logger.InfoContext(ctx, "cache cleared",
		"scope", cmd.Scope, "place", cmd.Place, "layer", cmd.Layer, "keys", n)
	return nil
}

func (c *Consumer) apply(ctx context.Context, cmd invalidation.Command) (int, error) {
	switch cmd.Scope {
	case invalidation.ScopeBoundaries:
		if cmd.Place != "" {
			return c.boundaries.ClearPlace(ctx, cmd.Place)
		}
		return c.boundaries.ClearCache(ctx)
	case invalidation.ScopeLayers:
		if cmd.Layer == "" {
			return c.layers.ClearCache(ctx)
		}
		t, err := model.ParseLayerType(cmd.Layer)
		if err != nil {
			return 0, err
		}
		if len(cmd.BBox) == 0 {
			return c.layers.ClearLayer(ctx, t)
		}
		bb, err := cmd.Bounds()
		if err != nil {
			return 0, err
		}
		return c.layers.ClearEntry(ctx, t, bb)
	}
	return 0, fmt.Errorf("unknown scope %q", cmd.Scope)
}
