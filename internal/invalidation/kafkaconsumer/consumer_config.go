package kafkaconsumer

import (
	"errors"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/animita-app/animitas-sub001/internal/core/config"
)

type Config struct {
	Brokers          []string
	Topic            string
	GroupID          string
	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	// FromOldest replays retained commands for a group with no committed
	// offset. Off by default: a clear only concerns caches that are alive.
	FromOldest bool
}

// FromConfig derives the consumer settings from INVALIDATION_*.
func FromConfig(ic config.InvalidationCfg) Config {
	var brokers []string
	for _, b := range strings.Split(ic.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return Config{
		Brokers:          brokers,
		Topic:            strings.TrimSpace(ic.Topic),
		GroupID:          strings.TrimSpace(ic.GroupID),
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
	}
}

func (c Config) Validate() error {
	switch {
	case len(c.Brokers) == 0:
		return errors.New("kafkaconsumer: no brokers")
	case c.Topic == "":
		return errors.New("kafkaconsumer: empty topic")
	case c.GroupID == "":
		return errors.New("kafkaconsumer: empty group id")
	case c.Heartbeat >= c.SessionTimeout:
		return errors.New("kafkaconsumer: heartbeat must be shorter than the session timeout")
	}
	return nil
}

// saramaConfig commits offsets in the background; only applied or skipped
// commands are ever marked, so a crash replays at most the unmarked tail.
func (c Config) saramaConfig() *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.ClientID = "geoengine-" + c.GroupID
	sc.Consumer.Group.Session.Timeout = c.SessionTimeout
	sc.Consumer.Group.Heartbeat.Interval = c.Heartbeat
	sc.Consumer.Group.Rebalance.Timeout = c.RebalanceTimeout
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	if c.FromOldest {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Return.Errors = true
	return sc
}
