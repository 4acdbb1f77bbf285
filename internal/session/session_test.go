package session

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/animita-app/animitas-sub001/internal/core/model"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func base() []model.Memorial {
	return []model.Memorial{
		{ID: "1", Lng: 0, Lat: 0, Properties: map[string]any{"typology": "cruz"}},
		{ID: "2", Lng: 1, Lat: 1, Properties: map[string]any{"typology": "iglesia"}},
	}
}

func TestCreateGetDelete(t *testing.T) {
	r := NewRegistry(base(), Options{Logger: quiet()})
	id, c := r.Create()
	if id == "" || len(c.Filtered()) != 2 {
		t.Fatalf("id=%q filtered=%d", id, len(c.Filtered()))
	}
	got, err := r.Get(id)
	if err != nil || got != c {
		t.Fatalf("get: %v", err)
	}
	if err := r.Delete(id); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
	if err := r.Delete(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err=%v", err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	r := NewRegistry(base(), Options{Logger: quiet()})
	_, a := r.Create()
	_, b := r.Create()
	if err := a.ToggleFilter("typology", "cruz"); err != nil {
		t.Fatal(err)
	}
	if len(a.Filtered()) != 1 || len(b.Filtered()) != 2 {
		t.Fatalf("a=%d b=%d want 1 and 2", len(a.Filtered()), len(b.Filtered()))
	}
}

func TestIdleExpiryIsSliding(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	r := NewRegistry(base(), Options{IdleTTL: time.Minute, Logger: quiet()}).WithClock(clk.now)
	id, _ := r.Create()

	clk.advance(50 * time.Second)
	if _, err := r.Get(id); err != nil {
		t.Fatalf("still active: %v", err)
	}
	clk.advance(50 * time.Second)
	if _, err := r.Get(id); err != nil {
		t.Fatalf("access must restart the idle timer: %v", err)
	}
	clk.advance(61 * time.Second)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("swept=%d want 1", n)
	}
	if _, err := r.Get(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestMaxEntriesEvictsLeastRecent(t *testing.T) {
	r := NewRegistry(nil, Options{MaxEntries: 2, Logger: quiet()})
	first, _ := r.Create()
	second, _ := r.Create()
	if _, err := r.Get(first); err != nil {
		t.Fatal(err)
	}
	_, _ = r.Create()
	if _, err := r.Get(second); !errors.Is(err, ErrNotFound) {
		t.Fatalf("least recently used session should be evicted, err=%v", err)
	}
	if _, err := r.Get(first); err != nil {
		t.Fatalf("recently used session evicted: %v", err)
	}
}

func TestSetBase_AffectsNewSessionsOnly(t *testing.T) {
	r := NewRegistry(base(), Options{Logger: quiet()})
	_, old := r.Create()
	r.SetBase(base()[:1])
	_, fresh := r.Create()
	if len(old.Filtered()) != 2 || len(fresh.Filtered()) != 1 {
		t.Fatalf("old=%d fresh=%d", len(old.Filtered()), len(fresh.Filtered()))
	}
}
