// Package enrich attaches nearest-feature distances from context layers to
// point records.
package enrich

import (
	"maps"
	"math"
	"math/rand/v2"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/animita-app/animitas-sub001/internal/core/model"
	"github.com/animita-app/animitas-sub001/internal/geo"
)

// LandUseLabels is the fixed label set of the placeholder land-use tag. The
// tag is drawn at random; it is not a classifier.
var LandUseLabels = []string{"residential", "commercial", "industrial", "green", "institutional", "rural"}

// Layers are the context layers of one join. A nil Roads or a missing POI
// category means that layer was not supplied.
type Layers struct {
	Roads *geojson.FeatureCollection
	POIs  map[string]*geojson.FeatureCollection
}

type EnrichedPoint struct {
	model.Record
	NearestRoadDistance *float64           `json:"nearest_road_distance,omitempty"`
	Distances           map[string]float64 `json:"distances,omitempty"`
	LandUse             string             `json:"land_use"`
}

type Insight struct {
	ID                  string   `json:"id"`
	NearestRoadDistance *float64 `json:"nearest_road_distance,omitempty"`
	NearestPOIDistance  *float64 `json:"nearest_poi_distance,omitempty"`
	LandUse             string   `json:"land_use"`
}

// LayersFromContext splits fetched context layers into one merged road
// layer (all line types) and one POI category per point type.
func LayersFromContext(ctx map[model.LayerType]*geojson.FeatureCollection) Layers {
	var out Layers
	for _, t := range model.LayerTypes {
		fc, ok := ctx[t]
		if !ok || fc == nil {
			continue
		}
		if t.Kind() == model.KindLine {
			if out.Roads == nil {
				out.Roads = geojson.NewFeatureCollection()
			}
			out.Roads.Features = append(out.Roads.Features, fc.Features...)
			continue
		}
		if out.POIs == nil {
			out.POIs = make(map[string]*geojson.FeatureCollection)
		}
		out.POIs[string(t)] = fc
	}
	return out
}

// SpatialJoin returns one enriched point per record, in input order. rng
// drives the land-use draw; nil uses the global source.
func SpatialJoin(records []model.Record, layers Layers, rng *rand.Rand) []EnrichedPoint {
	draw := rand.IntN
	if rng != nil {
		draw = rng.IntN
	}

	out := make([]EnrichedPoint, 0, len(records))
	for _, r := range records {
		ep := EnrichedPoint{Record: r, LandUse: LandUseLabels[draw(len(LandUseLabels))]}
		ep.Attrs = maps.Clone(r.Attrs)
		p := orb.Point{r.Lng, r.Lat}

		if d, ok := NearestDistance(p, layers.Roads); ok {
			ep.NearestRoadDistance = &d
		}
		for cat, fc := range layers.POIs {
			if fc == nil {
				continue
			}
			d, ok := NearestDistance(p, fc)
			if !ok {
				continue
			}
			if ep.Distances == nil {
				ep.Distances = make(map[string]float64, len(layers.POIs))
			}
			ep.Distances[cat] = d
		}
		out = append(out, ep)
	}
	return out
}

// ComputeInsights projects SpatialJoin to ids and the nearest distance over
// all supplied POI categories.
func ComputeInsights(records []model.Record, layers Layers, rng *rand.Rand) []Insight {
	joined := SpatialJoin(records, layers, rng)
	out := make([]Insight, 0, len(joined))
	for _, ep := range joined {
		in := Insight{ID: ep.ID, NearestRoadDistance: ep.NearestRoadDistance, LandUse: ep.LandUse}
		if len(ep.Distances) > 0 {
			best := math.Inf(1)
			for _, d := range ep.Distances {
				best = math.Min(best, d)
			}
			in.NearestPOIDistance = &best
		}
		out = append(out, in)
	}
	return out
}

// NearestDistance is the meters from p to the closest feature of fc. ok is
// false when fc is nil or has no measurable geometry.
func NearestDistance(p orb.Point, fc *geojson.FeatureCollection) (d float64, ok bool) {
	if fc == nil {
		return 0, false
	}
	best := math.Inf(1)
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		best = math.Min(best, geo.DistanceToGeometry(p, f.Geometry))
	}
	if math.IsInf(best, 1) {
		return 0, false
	}
	return best, true
}
