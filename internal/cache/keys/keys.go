// Package keys builds the Redis and in-process keys of the region lookup
// cache.
package keys

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/bchartier/cadastre.gouv/internal/core/model"
)

const (
	lookupPrefix = "regions"
	indexPrefix  = "regidx"
)

// LookupKey identifies the region set of one (layer, CRS, bbox) lookup.
// The bbox components are expected to be already truncated.
func LookupKey(layer string, b model.BBox) string {
	box := fmt.Sprintf("%d:%s,%s,%s,%s", b.EPSG, num(b.XMin), num(b.YMin), num(b.XMax), num(b.YMax))
	ln := sanitizeLayer(strings.TrimSpace(layer))
	sum := xxhash.Sum64String(ln + "|" + box)
	return fmt.Sprintf("%s:%s:%s:h=%016x", lookupPrefix, ln, box, sum)
}

// RegionIndexKey names the Redis set listing every lookup key whose
// region set contains region.
func RegionIndexKey(layer, region string) string {
	return fmt.Sprintf("%s:%s:%s", indexPrefix, sanitizeLayer(strings.TrimSpace(layer)), sanitizeLayer(region))
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func sanitizeLayer(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '.' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
