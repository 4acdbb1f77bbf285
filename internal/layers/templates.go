package layers

import (
	"fmt"
	"strings"

	"github.com/animita-app/animitas-sub001/internal/core/model"
)

// Templates holds the Overpass selectors of each layer type. Each selector is
// suffixed with the bbox filter when the query is rendered.
var Templates = map[model.LayerType][]string{
	model.LayerHighways: {
		`way["highway"~"^(motorway|trunk|primary|secondary|tertiary)(_link)?$"]`,
	},
	model.LayerCemeteries: {
		`node["landuse"="cemetery"]`,
		`way["landuse"="cemetery"]`,
		`node["amenity"="grave_yard"]`,
		`way["amenity"="grave_yard"]`,
	},
	model.LayerBars: {
		`node["amenity"~"^(bar|pub|nightclub)$"]`,
	},
	model.LayerChurches: {
		`node["amenity"="place_of_worship"]`,
		`way["amenity"="place_of_worship"]`,
	},
	model.LayerHospitals: {
		`node["amenity"~"^(hospital|clinic)$"]`,
		`way["amenity"~"^(hospital|clinic)$"]`,
	},
	model.LayerSchools: {
		`node["amenity"="school"]`,
		`way["amenity"="school"]`,
	},
	model.LayerUniversities: {
		`node["amenity"~"^(university|college)$"]`,
		`way["amenity"~"^(university|college)$"]`,
	},
	model.LayerPolice: {
		`node["amenity"="police"]`,
		`way["amenity"="police"]`,
	},
	model.LayerFireStations: {
		`node["amenity"="fire_station"]`,
		`way["amenity"="fire_station"]`,
	},
	model.LayerPlazas: {
		`node["place"="square"]`,
		`way["place"="square"]`,
		`way["leisure"="park"]["name"~"^Plaza",i]`,
	},
	model.LayerPrisons: {
		`node["amenity"="prison"]`,
		`way["amenity"="prison"]`,
	},
	model.LayerJunctions: {
		`node["highway"="motorway_junction"]`,
		`node["junction"="yes"]`,
	},
	model.LayerTrafficLights: {
		`node["highway"="traffic_signals"]`,
	},
	model.LayerRoundabouts: {
		`way["junction"="roundabout"]`,
	},
	model.LayerHazards: {
		`node["hazard"]`,
		`node["highway"="speed_camera"]`,
	},
	model.LayerUnlitRoads: {
		`way["highway"]["lit"="no"]`,
	},
	model.LayerMemorials: {
		`node["historic"="memorial"]`,
	},
	model.LayerAltars: {
		`node["historic"="wayside_shrine"]`,
	},
}

// Query renders the Overpass QL for one layer type in bb.
func Query(t model.LayerType, bb model.BBox) (string, error) {
	sels, ok := Templates[t]
	if !ok {
		return "", fmt.Errorf("no query template for layer %q", t)
	}
	box := bb.Overpass()
	var b strings.Builder
	b.WriteString("[out:json][timeout:25];\n(\n")
	for _, s := range sels {
		fmt.Fprintf(&b, "  %s%s;\n", s, box)
	}
	b.WriteString(");\nout body;\n>;\nout skel qt;\n")
	return b.String(), nil
}
