// Package session keeps the per-client pipeline contexts, keyed by an opaque
// id, with an idle timeout and an optional LRU bound.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animita-app/animitas-sub001/internal/cache/memstore"
	"github.com/animita-app/animitas-sub001/internal/core/model"
	"github.com/animita-app/animitas-sub001/internal/core/observability"
	"github.com/animita-app/animitas-sub001/internal/pipeline"
)

var ErrNotFound = errors.New("session not found")

type Options struct {
	IdleTTL    time.Duration
	MaxEntries int
	Logger     *slog.Logger
}

type Registry struct {
	store *memstore.Store[*pipeline.Context]
	log   *slog.Logger

	mu   sync.RWMutex
	base []model.Memorial
}

func NewRegistry(base []model.Memorial, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		store: memstore.New[*pipeline.Context](memstore.Policy{
			MaxEntries: opts.MaxEntries,
			TTL:        opts.IdleTTL,
			Sliding:    true,
		}),
		log:  opts.Logger,
		base: slices.Clone(base),
	}
}

// WithClock replaces the time source used for idle expiry.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.store.WithClock(now)
	return r
}

// Create starts a session over the current base dataset.
func (r *Registry) Create() (string, *pipeline.Context) {
	id := uuid.NewString()
	r.mu.RLock()
	c := pipeline.NewContext(r.base)
	r.mu.RUnlock()
	r.store.Set(id, c)
	observability.SetActiveSessions(r.store.Len())
	r.log.Debug("session created", "session_id", id)
	return id, c
}

// Get returns the session and restarts its idle timer.
func (r *Registry) Get(id string) (*pipeline.Context, error) {
	c, ok := r.store.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (r *Registry) Delete(id string) error {
	if !r.store.Delete(id) {
		return ErrNotFound
	}
	observability.SetActiveSessions(r.store.Len())
	return nil
}

// Base returns the dataset new sessions start from.
func (r *Registry) Base() []model.Memorial {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.base)
}

// SetBase replaces the dataset for sessions created afterwards.
func (r *Registry) SetBase(base []model.Memorial) {
	r.mu.Lock()
	r.base = slices.Clone(base)
	r.mu.Unlock()
}

func (r *Registry) Len() int { return r.store.Len() }

// Sweep drops idle sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	n := r.store.Sweep()
	observability.SetActiveSessions(r.store.Len())
	return n
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Sweep(); n > 0 {
				r.log.Info("expired idle sessions", "count", n)
			}
		}
	}
}
