// Package invalidation defines the cache-clear commands accepted over Kafka.
package invalidation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animita-app/animitas-sub001/internal/core/model"
)

const (
	OpClear = "clear"

	ScopeBoundaries = "boundaries"
	ScopeLayers     = "layers"
)

// Command clears part of a cache. With scope "boundaries" an optional place
// narrows it to one name. With scope "layers" an optional layer narrows it to
// one type, and a bbox (which needs a layer) to one entry.
type Command struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Scope   string    `json:"scope"`
	Place   string    `json:"place,omitempty"`
	Layer   string    `json:"layer,omitempty"`
	BBox    []float64 `json:"bbox,omitempty"`
	TS      time.Time `json:"ts,omitzero"`
}

func (c Command) Validate() error {
	if c.Version != 1 {
		return errors.New("version must be 1")
	}
	if c.Op != OpClear {
		return fmt.Errorf("op must be %q", OpClear)
	}
	switch c.Scope {
	case ScopeBoundaries:
		if c.Layer != "" || len(c.BBox) > 0 {
			return errors.New("layer and bbox apply to scope layers only")
		}
	case ScopeLayers:
		if strings.TrimSpace(c.Place) != "" {
			return errors.New("place applies to scope boundaries only")
		}
		if c.Layer != "" {
			if _, err := model.ParseLayerType(c.Layer); err != nil {
				return err
			}
		}
		if len(c.BBox) > 0 {
			if c.Layer == "" {
				return errors.New("bbox requires layer")
			}
			if _, err := c.Bounds(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("scope must be %s|%s", ScopeBoundaries, ScopeLayers)
	}
	return nil
}

// Bounds converts the [minLng,minLat,maxLng,maxLat] array.
func (c Command) Bounds() (model.BBox, error) {
	if len(c.BBox) != 4 {
		return model.BBox{}, errors.New("bbox must have 4 numbers")
	}
	bb := model.BBox{MinLng: c.BBox[0], MinLat: c.BBox[1], MaxLng: c.BBox[2], MaxLat: c.BBox[3]}
	if err := bb.Validate(); err != nil {
		return model.BBox{}, fmt.Errorf("bbox: %w", err)
	}
	return bb, nil
}
