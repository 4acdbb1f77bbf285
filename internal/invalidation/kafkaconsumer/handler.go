package kafkaconsumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

type applyFunc func(context.Context, *sarama.ConsumerMessage) error

// groupHandler feeds one claim's clear commands to apply in offset order.
// A command is marked only once applied; an apply error ends the claim so
// the command is delivered again after the rebalance. Empty values
// (compaction tombstones) carry no command and are marked straight away.
type groupHandler struct {
	apply applyFunc
	log   *slog.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) logger() *slog.Logger {
	if h.log == nil {
		return slog.Default()
	}
	return h.log
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	applied := 0
	defer func() {
		h.logger().DebugContext(ctx, "cache-clear claim released",
			"topic", claim.Topic(), "partition", claim.Partition(), "applied", applied)
	}()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim on partition %d: %w", claim.Partition(), ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if len(msg.Value) == 0 {
				sess.MarkMessage(msg, "")
				continue
			}
			if err := h.apply(ctx, msg); err != nil {
				return fmt.Errorf("apply command at %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
			}
			applied++
			sess.MarkMessage(msg, "")
		}
	}
}
