// Package keys builds the cache keys shared by the memory and Redis tiers.
package keys

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/animita-app/animitas-sub001/internal/core/model"
)

const (
	LayerPrefix    = "layer:"
	BoundaryPrefix = "boundary:"

	bboxDecimals    = 2
	maxBoundarySlug = 96
)

// BoundaryName normalizes a free-text place name into the boundary cache key.
func BoundaryName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Layer is the cache key of one layer fetch: layer:<type>:<bbox at 2dp>.
// Nearby boxes that round to the same grid share a key.
func Layer(layer model.LayerType, bb model.BBox) string {
	r := bb.Rounded(bboxDecimals)
	return fmt.Sprintf("%s%.2f,%.2f,%.2f,%.2f", LayerTypePrefix(layer), r.MinLng, r.MinLat, r.MaxLng, r.MaxLat)
}

// LayerTypePrefix matches every cached bbox of one layer type.
func LayerTypePrefix(layer model.LayerType) string {
	return LayerPrefix + slug(string(layer), 0) + ":"
}

// Boundary is the shared-tier key for a normalized place name. The readable
// slug is truncated; the hash of the full name keeps distinct names apart.
func Boundary(normalized string) string {
	return fmt.Sprintf("%s%s:h=%016x", BoundaryPrefix, slug(normalized, maxBoundarySlug), xxhash.Sum64String(normalized))
}

// slug keeps ASCII letters, digits and "._-". Whitespace runs become one
// '_' and any other run (non-ASCII included) one '-'. Leading and trailing
// whitespace is dropped. limit <= 0 means no limit.
func slug(s string, limit int) string {
	s = strings.TrimFunc(s, isASCIISpace)
	var b strings.Builder
	b.Grow(len(s))
	var prev byte
	for _, r := range s {
		var c byte
		switch {
		case isASCIISpace(r):
			c = '_'
		case r < 0x80 && (isAlnum(byte(r)) || r == '.' || r == '_' || r == '-'):
			c = byte(r)
		default:
			c = '-'
		}
		if (c == '_' || c == '-') && c == prev {
			continue
		}
		if limit > 0 && b.Len() == limit {
			break
		}
		b.WriteByte(c)
		prev = c
	}
	return b.String()
}

func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func isAlnum(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}
