// Command geoengine-clear publishes one cache-clear command to the topic the
// geoengine instances consume.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/animita-app/animitas-sub001/internal/invalidation"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

func main() {
	brokers := flag.String("brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "comma-separated kafka brokers")
	topic := flag.String("topic", getenv("KAFKA_TOPIC", "geoengine-cache-clear"), "cache-clear topic")
	scope := flag.String("scope", invalidation.ScopeLayers, "boundaries|layers")
	place := flag.String("place", "", "clear one place name (scope boundaries)")
	layer := flag.String("layer", "", "clear one layer type (scope layers)")
	bbox := flag.String("bbox", "", "minLng,minLat,maxLng,maxLat; clear one entry (needs -layer)")
	flag.Parse()

	cmd := invalidation.Command{
		Version: 1,
		Op:      invalidation.OpClear,
		Scope:   *scope,
		Place:   *place,
		Layer:   *layer,
		TS:      time.Now().UTC(),
	}
	if *bbox != "" {
		b, err := parseFloats(*bbox)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bbox:", err)
			os.Exit(2)
		}
		cmd.BBox = b
	}
	if err := cmd.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid command:", err)
		os.Exit(2)
	}

	if err := publish(strings.Split(*brokers, ","), *topic, cmd); err != nil {
		fmt.Fprintln(os.Stderr, "publish:", err)
		os.Exit(1)
	}
}

func publish(brokers []string, topic string, cmd invalidation.Command) error {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Version = sarama.V2_1_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	part, off, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(cmd.Scope),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Printf("published %s (partition=%d offset=%d)\n", body, part, off)
	return nil
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}
