// Package boundary resolves free-text place names to simplified boundary
// geometry. Strategies are tried in order; successes are cached per
// normalized name and failures are never cached.
package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/singleflight"

	"github.com/animita-app/animitas-sub001/internal/cache"
	"github.com/animita-app/animitas-sub001/internal/cache/keys"
	"github.com/animita-app/animitas-sub001/internal/cache/memstore"
	"github.com/animita-app/animitas-sub001/internal/core/observability"
	"github.com/animita-app/animitas-sub001/internal/geo"
	mylog "github.com/animita-app/animitas-sub001/internal/logger"
)

const (
	DefaultTolerance = 0.001
	DefaultTimeout   = 30 * time.Second
)

// Strategy is one gazetteer. A nil geometry with a nil error means the
// provider answered but had nothing usable.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, name string) (orb.Geometry, error)
}

type Options struct {
	Tolerance float64
	Timeout   time.Duration
	Memory    memstore.Policy
	// Remote is the optional shared tier; nil disables it.
	Remote    cache.Interface
	RemoteTTL time.Duration
	OpTimeout time.Duration
	Logger    *slog.Logger
}

type Resolver struct {
	strategies []Strategy
	tolerance  float64
	timeout    time.Duration
	mem        *memstore.Store[orb.Geometry]
	remote     cache.Interface
	remoteTTL  time.Duration
	opTimeout  time.Duration
	log        *slog.Logger
	group      singleflight.Group
}

func New(strategies []Strategy, opts Options) *Resolver {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		strategies: strategies,
		tolerance:  opts.Tolerance,
		timeout:    opts.Timeout,
		mem:        memstore.New[orb.Geometry](opts.Memory),
		remote:     opts.Remote,
		remoteTTL:  opts.RemoteTTL,
		opTimeout:  opts.OpTimeout,
		log:        opts.Logger.With("component", "boundary"),
	}
}

// Key is the cache key of a place name.
func Key(name string) string { return keys.BoundaryName(name) }

// Resolve returns the simplified boundary of name, or nil when no strategy
// produced usable geometry. Errors are logged, never returned.
func (r *Resolver) Resolve(ctx context.Context, name string) orb.Geometry {
	key := Key(name)
	if key == "" {
		return nil
	}
	ctx = mylog.WithPlace(ctx, key)
	if g, ok := r.mem.Get(key); ok {
		observability.IncCacheResult("boundaries", "memory", "hit")
		return orb.Clone(g)
	}
	observability.IncCacheResult("boundaries", "memory", "miss")

	v, _, _ := r.group.Do(key, func() (any, error) {
		if g, ok := r.mem.Get(key); ok {
			return g, nil
		}
		if g := r.fromRemote(ctx, key); g != nil {
			r.mem.Set(key, g)
			return g, nil
		}
		g := r.lookup(ctx, name)
		if g == nil {
			return nil, nil
		}
		r.mem.Set(key, g)
		r.toRemote(ctx, key, g)
		return g, nil
	})
	g, _ := v.(orb.Geometry)
	if g == nil {
		return nil
	}
	return orb.Clone(g)
}

// lookup runs the strategies under one hard deadline. The deadline is
// detached from the caller so coalesced waiters are not cut short by the
// first caller going away.
func (r *Resolver) lookup(ctx context.Context, name string) orb.Geometry {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	for _, s := range r.strategies {
		start := time.Now()
		g, err := s.Resolve(ctx, name)
		observability.ObserveUpstreamLatency(s.Name(), time.Since(start).Seconds())
		if err != nil {
			observability.IncBoundaryResolution(s.Name(), "error")
			r.log.WarnContext(ctx, "boundary strategy failed", "strategy", s.Name(), "place", name, "err", err)
			continue
		}
		if !usable(g) {
			observability.IncBoundaryResolution(s.Name(), "empty")
			r.log.DebugContext(ctx, "boundary strategy empty", "strategy", s.Name(), "place", name)
			continue
		}
		observability.IncBoundaryResolution(s.Name(), "ok")
		return geo.Simplify(g, r.tolerance)
	}
	r.log.InfoContext(ctx, "boundary unresolved", "place", name)
	return nil
}

func usable(g orb.Geometry) bool {
	switch t := g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return geo.ValidatePolygonal(t) == nil
	case orb.LineString:
		return len(t) >= 2
	case orb.MultiLineString:
		for _, ls := range t {
			if len(ls) >= 2 {
				return true
			}
		}
	}
	return false
}

func (r *Resolver) fromRemote(ctx context.Context, key string) orb.Geometry {
	if r.remote == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	rk := keys.Boundary(key)
	got, err := r.remote.MGet(ctx, []string{rk})
	if err != nil {
		r.log.WarnContext(ctx, "boundary remote get", "err", err)
		return nil
	}
	raw, ok := got[rk]
	if !ok {
		observability.IncCacheResult("boundaries", "redis", "miss")
		return nil
	}
	gj, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		r.log.WarnContext(ctx, "boundary remote decode", "key", rk, "err", err)
		return nil
	}
	observability.IncCacheResult("boundaries", "redis", "hit")
	return gj.Geometry()
}

func (r *Resolver) toRemote(ctx context.Context, key string, g orb.Geometry) {
	if r.remote == nil {
		return
	}
	raw, err := json.Marshal(geojson.NewGeometry(g))
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opTimeout)
	defer cancel()
	if err := r.remote.Set(ctx, keys.Boundary(key), raw, r.remoteTTL); err != nil {
		r.log.WarnContext(ctx, "boundary remote set", "err", err)
	}
}

// ClearCache drops every cached boundary in both tiers and reports how many
// entries were removed.
func (r *Resolver) ClearCache(ctx context.Context) (int, error) {
	start := time.Now()
	n := r.mem.Clear()
	var err error
	if r.remote != nil {
		var rn int
		rn, err = r.remote.DelPrefix(ctx, keys.BoundaryPrefix)
		n += rn
		if err != nil {
			err = fmt.Errorf("clear remote boundaries: %w", err)
		}
	}
	observability.ObserveCacheClear("boundaries", n, time.Since(start), err)
	return n, err
}

// ClearPlace forgets one place name and reports how many cached entries
// were removed across both tiers.
func (r *Resolver) ClearPlace(ctx context.Context, name string) (int, error) {
	key := Key(name)
	if key == "" {
		return 0, nil
	}
	start := time.Now()
	n := 0
	if r.mem.Delete(key) {
		n++
	}
	var err error
	if r.remote != nil {
		var rn int
		rn, err = r.remote.Del(ctx, keys.Boundary(key))
		n += rn
		if err != nil {
			err = fmt.Errorf("clear remote boundary: %w", err)
		}
	}
	observability.ObserveCacheClear("boundaries", n, time.Since(start), err)
	return n, err
}

// Cached reports whether name currently has a cached result in memory.
func (r *Resolver) Cached(name string) bool {
	_, ok := r.mem.Get(Key(name))
	return ok
}
