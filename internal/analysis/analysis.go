// Package analysis derives chartable distributions from a filtered point set
// and its context layers.
package analysis

import (
	"context"
	"log/slog"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/animita-app/animitas-sub001/internal/core/model"
	"github.com/animita-app/animitas-sub001/internal/enrich"
	"github.com/animita-app/animitas-sub001/internal/mapper"
	h3mapper "github.com/animita-app/animitas-sub001/internal/mapper/h3"
)

const (
	DefaultH3Res = 8
	DefaultTopN  = 10
)

// DistanceBuckets are the nearest-road histogram labels, in meters.
var DistanceBuckets = []string{"0-50", "50-100", "100-250", "250-500", "500-1000", "1000+"}

var bucketUpper = []float64{50, 100, 250, 500, 1000}

type Series struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

type Result struct {
	Density Series `json:"density"`
	// DensityCells outlines the Density cells in the same order, with a
	// "cell" and "count" property each.
	DensityCells         *geojson.FeatureCollection `json:"density_cells"`
	ContextCounts        Series                     `json:"context_counts"`
	DistanceHistogram    Series                     `json:"distance_histogram"`
	TypologyDistribution Series                     `json:"typology_distribution"`
}

type Options struct {
	H3Res  int
	TopN   int
	Mapper mapper.Interface
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.H3Res < 0 || o.H3Res > 15 {
		o.H3Res = DefaultH3Res
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	if o.Mapper == nil {
		o.Mapper = h3mapper.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// RunFullAnalysis is pure: the same records and layers give the same result.
func RunFullAnalysis(records []model.Record, contextLayers map[model.LayerType]*geojson.FeatureCollection, opts Options) Result {
	opts = opts.withDefaults()
	d := density(records, opts)
	return Result{
		Density:              d,
		DensityCells:         densityCells(d, opts),
		ContextCounts:        contextCounts(contextLayers),
		DistanceHistogram:    distanceHistogram(records, contextLayers),
		TypologyDistribution: TypologyDistribution(records),
	}
}

// TypologyDistribution counts records per typology in first-seen order.
// Values sum to len(records).
func TypologyDistribution(records []model.Record) Series {
	s := Series{Labels: []string{}, Values: []float64{}}
	idx := make(map[string]int)
	for _, r := range records {
		label := model.AttrString(r.Attrs[model.AttrTypology])
		if label == "" {
			label = model.Unknown
		}
		i, ok := idx[label]
		if !ok {
			i = len(s.Labels)
			idx[label] = i
			s.Labels = append(s.Labels, label)
			s.Values = append(s.Values, 0)
		}
		s.Values[i]++
	}
	return s
}

// density is the top-N H3 cells by point count; ties break on cell id.
func density(records []model.Record, opts Options) Series {
	counts := make(map[string]float64)
	for _, r := range records {
		if r.Lat < -90 || r.Lat > 90 || r.Lng < -180 || r.Lng > 180 {
			continue
		}
		cell, err := opts.Mapper.CellForPoint(orb.Point{r.Lng, r.Lat}, opts.H3Res)
		if err != nil {
			opts.Logger.Debug("density: skip point", "id", r.ID, "err", err)
			continue
		}
		counts[cell]++
	}
	cells := make([]string, 0, len(counts))
	for c := range counts {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool {
		if counts[cells[i]] != counts[cells[j]] {
			return counts[cells[i]] > counts[cells[j]]
		}
		return cells[i] < cells[j]
	})
	if len(cells) > opts.TopN {
		cells = cells[:opts.TopN]
	}
	s := Series{Labels: cells, Values: make([]float64, len(cells))}
	for i, c := range cells {
		s.Values[i] = counts[c]
	}
	return s
}

// densityCells draws each density cell; a cell the grid cannot outline is
// left out of the collection but stays in the series.
func densityCells(d Series, opts Options) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	for i, cell := range d.Labels {
		poly, err := opts.Mapper.CellBoundary(cell)
		if err != nil {
			opts.Logger.Debug("density: no cell outline", "cell", cell, "err", err)
			continue
		}
		f := geojson.NewFeature(poly)
		f.Properties["cell"] = cell
		f.Properties["count"] = d.Values[i]
		out.Append(f)
	}
	return out
}

// contextCounts lists supplied layers only, in canonical layer order.
func contextCounts(layers map[model.LayerType]*geojson.FeatureCollection) Series {
	s := Series{Labels: []string{}, Values: []float64{}}
	for _, t := range model.LayerTypes {
		fc, ok := layers[t]
		if !ok || fc == nil {
			continue
		}
		s.Labels = append(s.Labels, string(t))
		s.Values = append(s.Values, float64(len(fc.Features)))
	}
	return s
}

// distanceHistogram buckets the nearest-road distance of each record. Records
// without a road distance are not counted.
func distanceHistogram(records []model.Record, layers map[model.LayerType]*geojson.FeatureCollection) Series {
	s := Series{Labels: append([]string(nil), DistanceBuckets...), Values: make([]float64, len(DistanceBuckets))}
	roads := enrich.LayersFromContext(layers).Roads
	if roads == nil {
		return s
	}
	for _, r := range records {
		if d, ok := enrich.NearestDistance(orb.Point{r.Lng, r.Lat}, roads); ok {
			s.Values[bucket(d)]++
		}
	}
	return s
}

func bucket(d float64) int {
	for i, upper := range bucketUpper {
		if d < upper {
			return i
		}
	}
	return len(bucketUpper)
}

// LayerSource fetches several context layers for one bbox.
type LayerSource interface {
	FetchMany(ctx context.Context, types []model.LayerType, bb model.BBox) map[model.LayerType]*geojson.FeatureCollection
}

// Service joins a layer fetch with an analysis pass.
type Service struct {
	layers LayerSource
	opts   Options
}

func NewService(src LayerSource, opts Options) *Service {
	return &Service{layers: src, opts: opts.withDefaults()}
}

// Run fetches the requested layers concurrently, then analyses records
// against them. No types means no context layers.
func (s *Service) Run(ctx context.Context, records []model.Record, bb model.BBox, types []model.LayerType) Result {
	return RunFullAnalysis(records, s.fetch(ctx, bb, types), s.opts)
}

// Insights fetches the requested layers and returns per-point proximity insights.
func (s *Service) Insights(ctx context.Context, records []model.Record, bb model.BBox, types []model.LayerType) []enrich.Insight {
	return enrich.ComputeInsights(records, enrich.LayersFromContext(s.fetch(ctx, bb, types)), nil)
}

func (s *Service) fetch(ctx context.Context, bb model.BBox, types []model.LayerType) map[model.LayerType]*geojson.FeatureCollection {
	if len(types) == 0 {
		return nil
	}
	return s.layers.FetchMany(ctx, types, bb)
}
