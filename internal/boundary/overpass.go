package boundary

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmgeojson"

	"github.com/animita-app/animitas-sub001/internal/geo"
)

// OverpassStrategy is the generic fallback: an OR of boundary, highway and
// route filters on the exact name, converted from OSM XML to GeoJSON.
type OverpassStrategy struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

func NewOverpass(endpoint string, timeout time.Duration, client *http.Client) *OverpassStrategy {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OverpassStrategy{endpoint: endpoint, client: client, timeout: timeout}
}

func (s *OverpassStrategy) Name() string { return "overpass" }

// Query renders the Overpass QL used for name.
func (s *OverpassStrategy) Query(name string) string {
	n := quoteQL(name)
	var b strings.Builder
	fmt.Fprintf(&b, "[out:xml][timeout:%d];\n(\n", int(s.timeout/time.Second))
	fmt.Fprintf(&b, "  relation[\"boundary\"=\"administrative\"][\"name\"=\"%s\"];\n", n)
	fmt.Fprintf(&b, "  way[\"highway\"][\"name\"=\"%s\"];\n", n)
	fmt.Fprintf(&b, "  relation[\"route\"][\"name\"=\"%s\"];\n", n)
	b.WriteString(");\nout body;\n>;\nout skel qt;\n")
	return b.String()
}

func quoteQL(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(strings.TrimSpace(s))
}

func (s *OverpassStrategy) Resolve(ctx context.Context, name string) (orb.Geometry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body := url.Values{"data": {s.Query(name)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("overpass request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overpass do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("overpass status %d", resp.StatusCode)
	}

	var o osm.OSM
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&o); err != nil {
		return nil, fmt.Errorf("overpass decode: %w", err)
	}
	fc, err := osmgeojson.Convert(&o, osmgeojson.NoMeta(true))
	if err != nil {
		return nil, fmt.Errorf("overpass convert: %w", err)
	}
	return pickFeature(fc), nil
}

// pickFeature prefers relation polygons, then any valid polygon, then all
// lines merged into one MultiLineString.
func pickFeature(fc *geojson.FeatureCollection) orb.Geometry {
	if fc == nil {
		return nil
	}
	var poly orb.Geometry
	var lines orb.MultiLineString
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
			if geo.ValidatePolygonal(g) != nil {
				continue
			}
			if fromRelation(f) {
				return g
			}
			if poly == nil {
				poly = g
			}
		case orb.LineString:
			lines = append(lines, g)
		case orb.MultiLineString:
			lines = append(lines, g...)
		}
	}
	if poly != nil {
		return poly
	}
	if len(lines) == 0 {
		return nil
	}
	return lines
}

func fromRelation(f *geojson.Feature) bool {
	if t, ok := f.Properties["type"].(string); ok && t == "relation" {
		return true
	}
	id, _ := f.ID.(string)
	return strings.HasPrefix(id, "relation/")
}
