// Package layers fetches typed context layers (roads, churches, bars...) for
// a bounding box and caches them per layer type and rounded bbox.
package layers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/animita-app/animitas-sub001/internal/cache"
	"github.com/animita-app/animitas-sub001/internal/cache/keys"
	"github.com/animita-app/animitas-sub001/internal/cache/memstore"
	"github.com/animita-app/animitas-sub001/internal/core/model"
	"github.com/animita-app/animitas-sub001/internal/core/observability"
	mylog "github.com/animita-app/animitas-sub001/internal/logger"
)

// gridDecimals is the rounding applied to every bbox before keying and fetching.
const gridDecimals = 2

type Options struct {
	Memory memstore.Policy
	// Remote is the optional shared tier; nil disables it.
	Remote      cache.Interface
	RemoteTTL   time.Duration
	OpTimeout   time.Duration
	Parallelism int
	Logger      *slog.Logger
}

type Fetcher struct {
	provider    Provider
	mem         *memstore.Store[*geojson.FeatureCollection]
	remote      cache.Interface
	remoteTTL   time.Duration
	opTimeout   time.Duration
	parallelism int
	log         *slog.Logger
	group       singleflight.Group
}

func NewFetcher(p Provider, opts Options) *Fetcher {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 250 * time.Millisecond
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Fetcher{
		provider:    p,
		mem:         memstore.New[*geojson.FeatureCollection](opts.Memory),
		remote:      opts.Remote,
		remoteTTL:   opts.RemoteTTL,
		opTimeout:   opts.OpTimeout,
		parallelism: opts.Parallelism,
		log:         opts.Logger.With("component", "layers", "provider", p.Name()),
	}
}

func (f *Fetcher) Provider() string { return f.provider.Name() }

// GridBox is the bbox actually fetched for bb: rounded to the cache grid and
// widened by one cell on any axis the rounding collapsed.
func GridBox(bb model.BBox) model.BBox {
	r := bb.Rounded(gridDecimals)
	const cell = 0.01
	if r.MaxLng <= r.MinLng {
		r.MaxLng = r.MinLng + cell
	}
	if r.MaxLat <= r.MinLat {
		r.MaxLat = r.MinLat + cell
	}
	return r
}

// FetchLayer returns the features of t in bb. It never fails: any provider
// or decode error yields an empty collection that is not cached. The result
// is a copy the caller may modify.
func (f *Fetcher) FetchLayer(ctx context.Context, t model.LayerType, bb model.BBox) *geojson.FeatureCollection {
	ctx = mylog.WithLayer(ctx, string(t))
	if !t.Valid() {
		f.log.WarnContext(ctx, "unknown layer type", "layer", t)
		return geojson.NewFeatureCollection()
	}
	if err := bb.Validate(); err != nil {
		f.log.WarnContext(ctx, "invalid bbox", "layer", t, "err", err)
		return geojson.NewFeatureCollection()
	}
	key := keys.Layer(t, bb)
	if fc, ok := f.mem.Get(key); ok {
		observability.IncCacheResult("layers", "memory", "hit")
		return cloneCollection(fc)
	}
	observability.IncCacheResult("layers", "memory", "miss")

	v, _, _ := f.group.Do(key, func() (any, error) {
		if fc, ok := f.mem.Get(key); ok {
			return fc, nil
		}
		if fc := f.fromRemote(ctx, key); fc != nil {
			f.mem.Set(key, fc)
			return fc, nil
		}
		fc, err := f.fetch(ctx, t, GridBox(bb))
		if err != nil {
			return nil, err
		}
		f.mem.Set(key, fc)
		f.toRemote(ctx, key, fc)
		return fc, nil
	})
	fc, _ := v.(*geojson.FeatureCollection)
	if fc == nil {
		return geojson.NewFeatureCollection()
	}
	return cloneCollection(fc)
}

// fetch runs the provider detached from ctx so a departing caller does not
// abort a request other keys may be waiting on.
func (f *Fetcher) fetch(ctx context.Context, t model.LayerType, bb model.BBox) (*geojson.FeatureCollection, error) {
	start := time.Now()
	fc, err := f.provider.Fetch(context.WithoutCancel(ctx), t, bb)
	observability.ObserveUpstreamLatency("layers_"+f.provider.Name(), time.Since(start).Seconds())
	if err == nil && fc == nil {
		err = fmt.Errorf("provider returned no collection")
	}
	if err != nil {
		observability.IncLayerFetch(string(t), f.provider.Name(), "error")
		f.log.WarnContext(ctx, "layer fetch failed", "layer", t, "bbox", bb.String(), "err", err)
		return nil, err
	}
	observability.IncLayerFetch(string(t), f.provider.Name(), "ok")
	f.log.DebugContext(ctx, "layer fetched", "layer", t, "bbox", bb.String(), "features", len(fc.Features))
	return fc, nil
}

// FetchMany fetches every distinct type concurrently and joins the results.
func (f *Fetcher) FetchMany(ctx context.Context, types []model.LayerType, bb model.BBox) map[model.LayerType]*geojson.FeatureCollection {
	uniq := make([]model.LayerType, 0, len(types))
	seen := make(map[model.LayerType]struct{}, len(types))
	for _, t := range types {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		uniq = append(uniq, t)
	}

	out := make([]*geojson.FeatureCollection, len(uniq))
	var g errgroup.Group
	g.SetLimit(f.parallelism)
	for i, t := range uniq {
		g.Go(func() error {
			out[i] = f.FetchLayer(ctx, t, bb)
			return nil
		})
	}
	_ = g.Wait()

	res := make(map[model.LayerType]*geojson.FeatureCollection, len(uniq))
	for i, t := range uniq {
		res[t] = out[i]
	}
	return res
}

func (f *Fetcher) fromRemote(ctx context.Context, key string) *geojson.FeatureCollection {
	if f.remote == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, f.opTimeout)
	defer cancel()

	got, err := f.remote.MGet(ctx, []string{key})
	if err != nil {
		f.log.WarnContext(ctx, "layer remote get", "err", err)
		return nil
	}
	raw, ok := got[key]
	if !ok {
		observability.IncCacheResult("layers", "redis", "miss")
		return nil
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		f.log.WarnContext(ctx, "layer remote decode", "key", key, "err", err)
		return nil
	}
	observability.IncCacheResult("layers", "redis", "hit")
	return fc
}

func (f *Fetcher) toRemote(ctx context.Context, key string, fc *geojson.FeatureCollection) {
	if f.remote == nil {
		return
	}
	raw, err := fc.MarshalJSON()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opTimeout)
	defer cancel()
	if err := f.remote.Set(ctx, key, raw, f.remoteTTL); err != nil {
		f.log.WarnContext(ctx, "layer remote set", "err", err)
	}
}

// ClearCache drops every cached layer in both tiers.
func (f *Fetcher) ClearCache(ctx context.Context) (int, error) {
	return f.clearPrefix(ctx, keys.LayerPrefix, f.mem.Clear)
}

// ClearLayer drops every cached bbox of one layer type.
func (f *Fetcher) ClearLayer(ctx context.Context, t model.LayerType) (int, error) {
	prefix := keys.LayerTypePrefix(t)
	return f.clearPrefix(ctx, prefix, func() int { return f.mem.DeletePrefix(prefix) })
}

// ClearEntry drops the single entry serving (t, bb).
func (f *Fetcher) ClearEntry(ctx context.Context, t model.LayerType, bb model.BBox) (int, error) {
	start := time.Now()
	key := keys.Layer(t, bb)
	n := 0
	if f.mem.Delete(key) {
		n++
	}
	var err error
	if f.remote != nil {
		var rn int
		rn, err = f.remote.Del(ctx, key)
		n += rn
		if err != nil {
			err = fmt.Errorf("clear remote layer: %w", err)
		}
	}
	observability.ObserveCacheClear("layers", n, time.Since(start), err)
	return n, err
}

func (f *Fetcher) clearPrefix(ctx context.Context, prefix string, local func() int) (int, error) {
	start := time.Now()
	n := local()
	var err error
	if f.remote != nil {
		var rn int
		rn, err = f.remote.DelPrefix(ctx, prefix)
		n += rn
		if err != nil {
			err = fmt.Errorf("clear remote layers: %w", err)
		}
	}
	observability.ObserveCacheClear("layers", n, time.Since(start), err)
	return n, err
}

func cloneCollection(fc *geojson.FeatureCollection) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	out.Features = make([]*geojson.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		cp := *f
		cp.Geometry = orb.Clone(f.Geometry)
		cp.Properties = f.Properties.Clone()
		out.Features = append(out.Features, &cp)
	}
	return out
}
