// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// BBox is a lon/lat extent in EPSG:4326.
type BBox struct {
	MinLng, MinLat float64
	MaxLng, MaxLat float64
}

// String renders minLng,minLat,maxLng,maxLat
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLng, b.MinLat, b.MaxLng, b.MaxLat)
}

// Overpass renders the (south,west,north,east) filter form
func (b BBox) Overpass() string {
	return fmt.Sprintf("(%g,%g,%g,%g)", b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)
}

// Rounded snaps every edge to the given number of decimals. Edges that
// round to zero come back as +0.
func (b BBox) Rounded(decimals int) BBox {
	p := math.Pow(10, float64(decimals))
	r := func(v float64) float64 { return math.Round(v*p)/p + 0 }
	return BBox{MinLng: r(b.MinLng), MinLat: r(b.MinLat), MaxLng: r(b.MaxLng), MaxLat: r(b.MaxLat)}
}

// ParseBBox reads "minLng,minLat,maxLng,maxLat" and validates it.
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, errors.New("bbox must have 4 comma-separated numbers")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("bbox[%d]: %w", i, err)
		}
		v[i] = f
	}
	b := BBox{MinLng: v[0], MinLat: v[1], MaxLng: v[2], MaxLat: v[3]}
	if err := b.Validate(); err != nil {
		return BBox{}, err
	}
	return b, nil
}

func (b BBox) Validate() error {
	if !(b.MinLng >= -180 && b.MinLng <= 180 && b.MaxLng >= -180 && b.MaxLng <= 180) {
		return errors.New("longitude must be in [-180,180]")
	}
	if !(b.MinLat >= -90 && b.MinLat <= 90 && b.MaxLat >= -90 && b.MaxLat <= 90) {
		return errors.New("latitude must be in [-90,90]")
	}
	if b.MaxLng <= b.MinLng || b.MaxLat <= b.MinLat {
		return errors.New("coordinates must satisfy maxLng>minLng and maxLat>minLat")
	}
	return nil
}

type GeometryKind string

const (
	KindPoint GeometryKind = "point"
	KindLine  GeometryKind = "line"
)

type LayerType string

const (
	LayerHighways      LayerType = "highways"
	LayerCemeteries    LayerType = "cemeteries"
	LayerBars          LayerType = "bars"
	LayerChurches      LayerType = "churches"
	LayerHospitals     LayerType = "hospitals"
	LayerSchools       LayerType = "schools"
	LayerUniversities  LayerType = "universities"
	LayerPolice        LayerType = "police"
	LayerFireStations  LayerType = "fire_stations"
	LayerPlazas        LayerType = "plazas"
	LayerPrisons       LayerType = "prisons"
	LayerJunctions     LayerType = "junctions"
	LayerTrafficLights LayerType = "traffic_lights"
	LayerRoundabouts   LayerType = "roundabouts"
	LayerHazards       LayerType = "hazards"
	LayerUnlitRoads    LayerType = "unlit_roads"
	LayerMemorials     LayerType = "memorials"
	LayerAltars        LayerType = "altars"
)

// LayerTypes lists every layer type in canonical order.
var LayerTypes = []LayerType{
	LayerHighways, LayerCemeteries, LayerBars, LayerChurches, LayerHospitals, LayerSchools,
	LayerUniversities, LayerPolice, LayerFireStations, LayerPlazas, LayerPrisons, LayerJunctions,
	LayerTrafficLights, LayerRoundabouts, LayerHazards, LayerUnlitRoads, LayerMemorials, LayerAltars,
}

var layerKinds = map[LayerType]GeometryKind{
	LayerHighways:      KindLine,
	LayerCemeteries:    KindPoint,
	LayerBars:          KindPoint,
	LayerChurches:      KindPoint,
	LayerHospitals:     KindPoint,
	LayerSchools:       KindPoint,
	LayerUniversities:  KindPoint,
	LayerPolice:        KindPoint,
	LayerFireStations:  KindPoint,
	LayerPlazas:        KindPoint,
	LayerPrisons:       KindPoint,
	LayerJunctions:     KindPoint,
	LayerTrafficLights: KindPoint,
	LayerRoundabouts:   KindLine,
	LayerHazards:       KindPoint,
	LayerUnlitRoads:    KindLine,
	LayerMemorials:     KindPoint,
	LayerAltars:        KindPoint,
}

func (t LayerType) Kind() GeometryKind { return layerKinds[t] }

func (t LayerType) Valid() bool {
	_, ok := layerKinds[t]
	return ok
}

func ParseLayerType(s string) (LayerType, error) {
	t := LayerType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown layer type %q", s)
	}
	return t, nil
}

// Memorial is a base point record as supplied by the persistence layer.
type Memorial struct {
	ID         string         `json:"id"`
	Lng        float64        `json:"lng"`
	Lat        float64        `json:"lat"`
	Name       string         `json:"name,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

const (
	AttrTypology      = "typology"
	AttrDeathCause    = "death_cause"
	AttrSize          = "size"
	AttrAntiquityYear = "antiquity_year"

	Unknown = "unknown"
)

// Record is a flattened point with canonical attributes always present.
type Record struct {
	ID    string         `json:"id"`
	Lng   float64        `json:"lng"`
	Lat   float64        `json:"lat"`
	Attrs map[string]any `json:"attrs"`
}

// nested locations searched when a canonical attribute is not top-level
var attrPaths = map[string][]string{
	AttrTypology:      {"insights.patrimonial.typology", "insights.typology"},
	AttrDeathCause:    {"insights.memorial.death_cause", "insights.death_cause"},
	AttrSize:          {"insights.patrimonial.size", "insights.size"},
	AttrAntiquityYear: {"insights.patrimonial.antiquity_year", "insights.antiquity_year"},
}

var attrDefaults = map[string]any{
	AttrTypology:      Unknown,
	AttrDeathCause:    Unknown,
	AttrSize:          Unknown,
	AttrAntiquityYear: 0,
}

// Flatten copies top-level scalar properties and lifts the canonical
// attributes to top-level keys, defaulting to their sentinels.
func Flatten(m Memorial) Record {
	attrs := make(map[string]any, len(m.Properties)+len(attrDefaults)+1)
	for k, v := range m.Properties {
		if _, nested := v.(map[string]any); nested {
			continue
		}
		attrs[k] = v
	}
	if m.Name != "" {
		attrs["name"] = m.Name
	}
	for attr, def := range attrDefaults {
		if v, ok := attrs[attr]; ok && v != nil && v != "" {
			continue
		}
		attrs[attr] = def
		for _, p := range attrPaths[attr] {
			if v, ok := lookup(m.Properties, p); ok && v != nil && v != "" {
				attrs[attr] = v
				break
			}
		}
	}
	return Record{ID: m.ID, Lng: m.Lng, Lat: m.Lat, Attrs: attrs}
}

func lookup(props map[string]any, path string) (any, bool) {
	var cur any = props
	for part := range strings.SplitSeq(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// AttrString coerces an attribute value to the string form used by filters.
func AttrString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case float32:
		return AttrString(float64(t))
	default:
		return fmt.Sprint(t)
	}
}
