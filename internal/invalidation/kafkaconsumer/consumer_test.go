package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/animita-app/animitas-sub001/internal/cache/redisstore"
	"github.com/animita-app/animitas-sub001/internal/core/config"
	"github.com/animita-app/animitas-sub001/internal/core/model"
	"github.com/animita-app/animitas-sub001/internal/invalidation"
	"github.com/animita-app/animitas-sub001/internal/layers"
	"github.com/animita-app/animitas-sub001/internal/metrics"
)

type fakeClearer struct {
	mu        sync.Mutex
	calls     []string
	failFirst bool
}

func (f *fakeClearer) note(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	if f.failFirst {
		f.failFirst = false
		return errors.New("boom")
	}
	return nil
}

func (f *fakeClearer) ClearCache(context.Context) (int, error) { return 3, f.note("all") }
func (f *fakeClearer) ClearPlace(_ context.Context, name string) (int, error) {
	return 0, f.note("place:" + name)
}
func (f *fakeClearer) ClearLayer(_ context.Context, t model.LayerType) (int, error) {
	return 2, f.note("layer:" + string(t))
}
func (f *fakeClearer) ClearEntry(_ context.Context, t model.LayerType, bb model.BBox) (int, error) {
	return 1, f.note("entry:" + string(t) + ":" + bb.String())
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "geoengine-cache-clear" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func cmdBytes(cmd invalidation.Command) []byte {
	cmd.Version, cmd.Op = 1, invalidation.OpClear
	b, _ := json.Marshal(cmd)
	return b
}

func newConsumerForTest(b BoundaryClearer, l LayerClearer) *Consumer {
	cfg := FromConfig(config.InvalidationCfg{Brokers: "x", Topic: "geoengine-cache-clear", GroupID: "g"})
	return New(cfg, quiet(), b, l)
}

func TestProcessOne_DispatchesByScope(t *testing.T) {
	b, l := &fakeClearer{}, &fakeClearer{}
	c := newConsumerForTest(b, l)
	ctx := context.Background()

	cmds := []invalidation.Command{
		{Scope: invalidation.ScopeBoundaries},
		{Scope: invalidation.ScopeBoundaries, Place: "Providencia"},
		{Scope: invalidation.ScopeLayers},
		{Scope: invalidation.ScopeLayers, Layer: "bars"},
		{Scope: invalidation.ScopeLayers, Layer: "bars", BBox: []float64{-70.7, -33.5, -70.6, -33.4}},
	}
	for i, cmd := range cmds {
		msg := &sarama.ConsumerMessage{Offset: int64(i), Value: cmdBytes(cmd)}
		if err := c.ProcessOne(ctx, msg); err != nil {
			t.Fatalf("cmd %d: %v", i, err)
		}
	}
	if got := b.calls; len(got) != 2 || got[0] != "all" || got[1] != "place:Providencia" {
		t.Fatalf("boundary calls=%v", got)
	}
	wantLayers := []string{"all", "layer:bars", "entry:bars:-70.700000,-33.500000,-70.600000,-33.400000"}
	if len(l.calls) != 3 {
		t.Fatalf("layer calls=%v want %v", l.calls, wantLayers)
	}
	for i := range wantLayers {
		if l.calls[i] != wantLayers[i] {
			t.Fatalf("layer calls=%v want %v", l.calls, wantLayers)
		}
	}
}

func TestProcessOne_SkipsMalformedCommands(t *testing.T) {
	b, l := &fakeClearer{}, &fakeClearer{}
	c := newConsumerForTest(b, l)
	for _, raw := range []string{`not json`, `{"version":1,"op":"clear","scope":"sessions"}`} {
		if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: []byte(raw)}); err != nil {
			t.Fatalf("%s: malformed commands must be skipped, got %v", raw, err)
		}
	}
	if len(b.calls)+len(l.calls) != 0 {
		t.Fatalf("nothing should be cleared: %v %v", b.calls, l.calls)
	}
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	b, l := &fakeClearer{}, &fakeClearer{}
	c := newConsumerForTest(b, l)

	g := &groupHandler{apply: c.ProcessOne, log: quiet()}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Partition: 0, Offset: 10, Value: cmdBytes(invalidation.Command{Scope: invalidation.ScopeLayers, Layer: "bars"})}
	ch <- &sarama.ConsumerMessage{Partition: 0, Offset: 11, Value: cmdBytes(invalidation.Command{Scope: invalidation.ScopeLayers, Layer: "churches"})}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if len(l.calls) != 2 || l.calls[0] != "layer:bars" || l.calls[1] != "layer:churches" {
		t.Fatalf("calls=%v", l.calls)
	}
}

func TestTombstone_MarkedWithoutClearing(t *testing.T) {
	b, l := &fakeClearer{}, &fakeClearer{}
	c := newConsumerForTest(b, l)
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Offset: 7}
	ch <- &sarama.ConsumerMessage{Offset: 8, Value: cmdBytes(invalidation.Command{Scope: invalidation.ScopeLayers})}
	close(ch)

	if err := (&groupHandler{apply: c.ProcessOne, log: quiet()}).ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 7 || s.marked[1] != 8 {
		t.Fatalf("marked=%v want [7 8]", s.marked)
	}
	if len(b.calls) != 0 || len(l.calls) != 1 || l.calls[0] != "all" {
		t.Fatalf("calls b=%v l=%v want only layers clear-all", b.calls, l.calls)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	b, l := &fakeClearer{failFirst: true}, &fakeClearer{}
	c := newConsumerForTest(b, l)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Partition: 0, Offset: 5, Value: cmdBytes(invalidation.Command{Scope: invalidation.ScopeBoundaries})}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{apply: c.ProcessOne, log: quiet()}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestFailedClear_StopsClaimWithoutMarking(t *testing.T) {
	b, l := &fakeClearer{failFirst: true}, &fakeClearer{}
	c := newConsumerForTest(b, l)
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Offset: 1, Value: cmdBytes(invalidation.Command{Scope: invalidation.ScopeBoundaries})}
	ch <- &sarama.ConsumerMessage{Offset: 2, Value: cmdBytes(invalidation.Command{Scope: invalidation.ScopeBoundaries})}
	close(ch)

	if err := (&groupHandler{apply: c.ProcessOne, log: quiet()}).ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatal("expected error")
	}
	if len(s.marked) != 0 {
		t.Fatalf("failed message must not be marked: %v", s.marked)
	}
}

type staticProvider struct{}

func (staticProvider) Name() string { return "static" }
func (staticProvider) Fetch(context.Context, model.LayerType, model.BBox) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{-70.65, -33.45}))
	return fc, nil
}

func TestIntegration_ClearLayerRemovesRedisKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	ctx := context.Background()
	bb := model.BBox{MinLng: -70.7, MinLat: -33.5, MaxLng: -70.6, MaxLat: -33.4}
	f := layers.NewFetcher(staticProvider{}, layers.Options{Remote: rc, Logger: quiet()})
	f.FetchLayer(ctx, model.LayerBars, bb)
	f.FetchLayer(ctx, model.LayerChurches, bb)
	if len(mr.Keys()) != 2 {
		t.Fatalf("keys=%v want 2", mr.Keys())
	}

	p := metrics.Init(metrics.Config{})
	cmdsBefore := scrape(t, p, `cache_clear_commands_total{result="ok",scope="layers"}`)
	keysBefore := scrape(t, p, `cache_clear_keys_total{scope="layers"}`)

	c := newConsumerForTest(&fakeClearer{}, f)
	msg := &sarama.ConsumerMessage{Value: cmdBytes(invalidation.Command{Scope: invalidation.ScopeLayers, Layer: "bars"})}
	if err := c.ProcessOne(ctx, msg); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	keys := mr.Keys()
	if len(keys) != 1 || keys[0] != "layer:churches:-70.70,-33.50,-70.60,-33.40" {
		t.Fatalf("remaining keys=%v", keys)
	}

	if d := scrape(t, p, `cache_clear_commands_total{result="ok",scope="layers"}`) - cmdsBefore; d != 1 {
		t.Fatalf("clear commands recorded %v times, want 1", d)
	}
	if d := scrape(t, p, `cache_clear_keys_total{scope="layers"}`) - keysBefore; d != 2 {
		t.Fatalf("cleared keys recorded=%v want 2 (memory + redis)", d)
	}
}

// scrape returns the value of one exposition line, or 0 when absent.
func scrape(t *testing.T, p *metrics.Provider, series string) float64 {
	t.Helper()
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, metrics.DefaultPath, nil))
	for ln := range strings.SplitSeq(rr.Body.String(), "\n") {
		if v, ok := strings.CutPrefix(ln, series+" "); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				t.Fatalf("parse %q: %v", ln, err)
			}
			return f
		}
	}
	return 0
}
