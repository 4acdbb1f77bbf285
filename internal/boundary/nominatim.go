package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/time/rate"

	"github.com/animita-app/animitas-sub001/internal/geo"
)

const maxResponseBytes = 32 << 20

// NominatimStrategy queries a Nominatim-compatible /search endpoint for
// candidates with embedded polygon geometry.
type NominatimStrategy struct {
	baseURL string
	limit   int
	client  *http.Client
	limiter *rate.Limiter
}

// NewNominatim builds the strategy; rps <= 0 disables rate limiting.
func NewNominatim(baseURL string, limit int, rps float64, client *http.Client) *NominatimStrategy {
	if limit <= 0 {
		limit = 5
	}
	if client == nil {
		client = http.DefaultClient
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &NominatimStrategy{
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   limit,
		client:  client,
		limiter: lim,
	}
}

func (s *NominatimStrategy) Name() string { return "nominatim" }

type place struct {
	OSMType string `json:"osm_type"`
	// jsonv2 calls it category, the older formats class.
	Class    string          `json:"class"`
	Category string          `json:"category"`
	GeoJSON  json.RawMessage `json:"geojson"`
}

func (p place) adminRelation() bool {
	class := p.Category
	if class == "" {
		class = p.Class
	}
	return p.OSMType == "relation" && class == "boundary"
}

func (s *NominatimStrategy) Resolve(ctx context.Context, name string) (orb.Geometry, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("nominatim rate limit: %w", err)
	}

	q := url.Values{}
	q.Set("q", name)
	q.Set("format", "jsonv2")
	q.Set("polygon_geojson", "1")
	q.Set("limit", strconv.Itoa(s.limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("nominatim request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("nominatim status %d", resp.StatusCode)
	}

	var places []place
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&places); err != nil {
		return nil, fmt.Errorf("nominatim decode: %w", err)
	}
	return pickCandidate(places), nil
}

// pickCandidate puts administrative relations first, then returns the first
// polygonal geometry, else the first linear one.
func pickCandidate(places []place) orb.Geometry {
	sort.SliceStable(places, func(i, j int) bool {
		return places[i].adminRelation() && !places[j].adminRelation()
	})

	var line orb.Geometry
	for _, p := range places {
		if len(p.GeoJSON) == 0 {
			continue
		}
		gj, err := geojson.UnmarshalGeometry(p.GeoJSON)
		if err != nil {
			continue
		}
		switch g := gj.Geometry().(type) {
		case orb.Polygon, orb.MultiPolygon:
			if geo.ValidatePolygonal(g) == nil {
				return g
			}
		case orb.LineString, orb.MultiLineString:
			if line == nil {
				line = g
			}
		}
	}
	return line
}
