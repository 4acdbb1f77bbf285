// Package pipeline holds the per-session spatial context (active area,
// attribute filters, synthetic points) and derives the filtered dataset
// from it.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/animita-app/animitas-sub001/internal/core/model"
	"github.com/animita-app/animitas-sub001/internal/geo"
)

var ErrInvalidArea = errors.New("invalid active area")

// ActiveArea restricts the dataset to a polygon feature or to the union of
// the polygon members of a collection. Exactly one of Feature or Collection
// is set.
type ActiveArea struct {
	Feature    *geojson.Feature
	Collection *geojson.FeatureCollection
	Label      string
}

func (a *ActiveArea) Validate() error {
	switch {
	case a == nil:
		return fmt.Errorf("%w: nil area", ErrInvalidArea)
	case a.Feature != nil && a.Collection != nil:
		return fmt.Errorf("%w: both feature and collection set", ErrInvalidArea)
	case a.Feature != nil:
		if err := geo.ValidatePolygonal(a.Feature.Geometry); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidArea, err)
		}
	case a.Collection != nil:
		for i, f := range a.Collection.Features {
			if f == nil || !polygonal(f.Geometry) {
				continue
			}
			if err := geo.ValidatePolygonal(f.Geometry); err != nil {
				return fmt.Errorf("%w: member %d: %w", ErrInvalidArea, i, err)
			}
		}
	default:
		return fmt.Errorf("%w: empty area", ErrInvalidArea)
	}
	return nil
}

func polygonal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	}
	return false
}

// MarshalJSON renders the area as {"label": ..., "area": <Feature|FeatureCollection>}.
func (a ActiveArea) MarshalJSON() ([]byte, error) {
	var area any
	if a.Feature != nil {
		area = a.Feature
	} else if a.Collection != nil {
		area = a.Collection
	}
	return json.Marshal(struct {
		Label string `json:"label"`
		Area  any    `json:"area"`
	}{a.Label, area})
}

// ParseArea decodes a GeoJSON Feature or FeatureCollection into an area.
func ParseArea(raw json.RawMessage, label string) (*ActiveArea, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArea, err)
	}
	a := &ActiveArea{Label: label}
	switch head.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArea, err)
		}
		a.Feature = f
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArea, err)
		}
		a.Collection = fc
	default:
		return nil, fmt.Errorf("%w: unsupported GeoJSON type %q", ErrInvalidArea, head.Type)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Filters maps an attribute to its allowed values. A key is present only
// while its value set is non-empty. Filters are treated as immutable:
// every change returns a new map.
type Filters map[string]map[string]struct{}

func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = maps.Clone(v)
	}
	return out
}

// Set replaces the value set of attr; no values removes the key.
func (f Filters) Set(attr string, values []string) Filters {
	out := f.Clone()
	if len(values) == 0 {
		delete(out, attr)
		return out
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	out[attr] = set
	return out
}

// Toggle adds value to attr or removes it if present; removing the last
// value removes the key.
func (f Filters) Toggle(attr, value string) Filters {
	out := f.Clone()
	set, ok := out[attr]
	if !ok {
		out[attr] = map[string]struct{}{value: {}}
		return out
	}
	if _, on := set[value]; on {
		delete(set, value)
		if len(set) == 0 {
			delete(out, attr)
		}
		return out
	}
	set[value] = struct{}{}
	return out
}

// Values lists the allowed values of attr in sorted order.
func (f Filters) Values(attr string) []string {
	return slices.Sorted(maps.Keys(f[attr]))
}

func (f Filters) MarshalJSON() ([]byte, error) {
	out := make(map[string][]string, len(f))
	for k := range f {
		out[k] = f.Values(k)
	}
	return json.Marshal(out)
}

// State is the full input of Recompute besides the base dataset.
type State struct {
	Area      *ActiveArea      `json:"active_area,omitempty"`
	Filters   Filters          `json:"filters"`
	Synthetic []model.Memorial `json:"synthetic_points,omitempty"`
}

func (s State) clone() State {
	return State{
		Area:      s.Area,
		Filters:   s.Filters.Clone(),
		Synthetic: slices.Clone(s.Synthetic),
	}
}
