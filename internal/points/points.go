// Package points loads the base memorial dataset from a GeoJSON file or a
// Postgres table.
package points

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/animita-app/animitas-sub001/internal/core/model"
)

type Source interface {
	Name() string
	Load(ctx context.Context) ([]model.Memorial, error)
}

// Empty serves no points.
type Empty struct{}

func (Empty) Name() string                                   { return "none" }
func (Empty) Load(context.Context) ([]model.Memorial, error) { return nil, nil }

// File reads a GeoJSON FeatureCollection of Point features.
type File struct {
	Path string
}

func NewFile(path string) *File { return &File{Path: path} }

func (f *File) Name() string { return "file" }

func (f *File) Load(_ context.Context) ([]model.Memorial, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read points: %w", err)
	}
	return Decode(raw)
}

// Decode converts Point features into memorials. The id comes from the
// feature id, then the "id" property; "name" is lifted out of properties.
// Non-point features are rejected.
func Decode(raw []byte) ([]model.Memorial, error) {
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("decode points: %w", err)
	}
	out := make([]model.Memorial, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f == nil {
			continue
		}
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("feature %d: want Point, got %T", i, f.Geometry)
		}
		props := f.Properties.Clone()
		m := model.Memorial{ID: featureID(f, props), Lng: p[0], Lat: p[1]}
		if n, ok := props["name"].(string); ok {
			m.Name = n
			delete(props, "name")
		}
		delete(props, "id")
		if len(props) > 0 {
			m.Properties = props
		}
		if m.ID == "" {
			return nil, fmt.Errorf("feature %d: %w", i, errMissingID)
		}
		out = append(out, m)
	}
	return out, nil
}

var errMissingID = errors.New("missing id")

func featureID(f *geojson.Feature, props geojson.Properties) string {
	if f.ID != nil {
		return model.AttrString(f.ID)
	}
	return model.AttrString(props["id"])
}
