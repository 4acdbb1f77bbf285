package layers

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"slices"
	"sync"

	"github.com/MeKo-Christian/go-overpass"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/animita-app/animitas-sub001/internal/core/model"
)

// Provider produces the raw features of one layer type inside bb.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, t model.LayerType, bb model.BBox) (*geojson.FeatureCollection, error)
}

// OverpassProvider runs the layer templates against an Overpass endpoint.
// The client library has no per-request cancellation, so ctx is only
// checked before the query is issued.
type OverpassProvider struct {
	client overpass.Client
}

func NewOverpassProvider(endpoint string, maxParallel int, hc *http.Client) *OverpassProvider {
	if maxParallel <= 0 {
		maxParallel = 2
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &OverpassProvider{client: overpass.NewWithSettings(endpoint, maxParallel, hc)}
}

func (p *OverpassProvider) Name() string { return "overpass" }

func (p *OverpassProvider) Fetch(ctx context.Context, t model.LayerType, bb model.BBox) (*geojson.FeatureCollection, error) {
	q, err := Query(t, bb)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := p.client.Query(q)
	if err != nil {
		return nil, fmt.Errorf("overpass %s: %w", t, err)
	}
	return toFeatures(t, &res), nil
}

// toFeatures turns tagged nodes into points and ways into lines (line
// layers) or bbox-center points (point layers). Output is ordered by id.
func toFeatures(t model.LayerType, res *overpass.Result) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	line := t.Kind() == model.KindLine

	if !line {
		ids := make([]int64, 0, len(res.Nodes))
		for id, n := range res.Nodes {
			if len(n.Tags) > 0 {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)
		for _, id := range ids {
			n := res.Nodes[id]
			fc.Append(newFeature(t, "node", id, n.Tags, orb.Point{n.Lon, n.Lat}))
		}
	}

	ids := make([]int64, 0, len(res.Ways))
	for id := range res.Ways {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		w := res.Ways[id]
		ls := make(orb.LineString, 0, len(w.Nodes))
		for _, n := range w.Nodes {
			if n == nil || (n.Lat == 0 && n.Lon == 0) {
				continue
			}
			ls = append(ls, orb.Point{n.Lon, n.Lat})
		}
		if len(ls) == 0 {
			continue
		}
		var g orb.Geometry
		switch {
		case line && len(ls) >= 2:
			g = ls
		case line:
			continue
		default:
			g = ls.Bound().Center()
		}
		fc.Append(newFeature(t, "way", id, w.Tags, g))
	}
	return fc
}

func newFeature(t model.LayerType, kind string, id int64, tags map[string]string, g orb.Geometry) *geojson.Feature {
	f := geojson.NewFeature(g)
	f.ID = fmt.Sprintf("%s/%d", kind, id)
	for k, v := range tags {
		f.Properties[k] = v
	}
	f.Properties["layer"] = string(t)
	return f
}

// MockArea is where MockProvider places its synthetic features (Santiago, Chile).
var MockArea = model.BBox{MinLng: -70.80, MinLat: -33.60, MaxLng: -70.50, MaxLat: -33.35}

// MockProvider synthesizes Count random features inside MockArea without
// touching the network. The requested bbox is ignored.
type MockProvider struct {
	Count int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMockProvider(count int, seed uint64) *MockProvider {
	if count < 0 {
		count = 0
	}
	return &MockProvider{Count: count, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Fetch(_ context.Context, t model.LayerType, _ model.BBox) (*geojson.FeatureCollection, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown layer type %q", t)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	fc := geojson.NewFeatureCollection()
	for i := range p.Count {
		start := p.randomPoint()
		var g orb.Geometry = start
		if t.Kind() == model.KindLine {
			g = p.randomLine(start)
		}
		f := geojson.NewFeature(g)
		f.ID = fmt.Sprintf("mock/%s/%d", t, i)
		f.Properties["layer"] = string(t)
		f.Properties["name"] = fmt.Sprintf("%s %d", t, i+1)
		f.Properties["mock"] = true
		fc.Append(f)
	}
	return fc, nil
}

func (p *MockProvider) randomPoint() orb.Point {
	return orb.Point{
		MockArea.MinLng + p.rng.Float64()*(MockArea.MaxLng-MockArea.MinLng),
		MockArea.MinLat + p.rng.Float64()*(MockArea.MaxLat-MockArea.MinLat),
	}
}

// randomLine walks 2 to 4 short steps from start, staying inside MockArea.
func (p *MockProvider) randomLine(start orb.Point) orb.LineString {
	ls := orb.LineString{start}
	cur := start
	steps := 2 + p.rng.IntN(3)
	for range steps {
		next := orb.Point{
			clamp(cur[0]+(p.rng.Float64()-0.5)*0.01, MockArea.MinLng, MockArea.MaxLng),
			clamp(cur[1]+(p.rng.Float64()-0.5)*0.01, MockArea.MinLat, MockArea.MaxLat),
		}
		ls = append(ls, next)
		cur = next
	}
	return ls
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
