package keys

import (
	"regexp"
	"strings"
	"testing"
	"unicode"

	"github.com/bchartier/cadastre.gouv/internal/core/model"
)

var box = model.BBox{XMin: 652000, YMin: 6861000, XMax: 652280, YMax: 6861280, EPSG: 2154}

func TestLookupKeyDeterministic(t *testing.T) {
	k1 := LookupKey("cadastre.communes", box)
	k2 := LookupKey(" cadastre.communes ", box)
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
	if !strings.HasPrefix(k1, "regions:cadastre.communes:2154:652000,6861000,652280,6861280:h=") {
		t.Fatalf("unexpected layout: %s", k1)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9.:,_=\-]+$`).MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
}

func TestLookupKeyDiffersByCRS(t *testing.T) {
	other := box
	other.EPSG = 3857
	if LookupKey("communes", box) == LookupKey("communes", other) {
		t.Fatalf("crs must be part of the key")
	}
}

func TestNegativeCoordinates(t *testing.T) {
	k := LookupKey("communes", model.BBox{XMin: -5, YMin: -1, XMax: 3, YMax: 2, EPSG: 4326})
	if !strings.Contains(k, ":4326:-5,-1,3,2:") {
		t.Fatalf("key=%s", k)
	}
}

func TestRegionIndexKeyASCII(t *testing.T) {
	k := RegionIndexKey("communes géo", "2A004")
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if !strings.HasSuffix(k, ":2A004") || !strings.HasPrefix(k, "regidx:communes_g") {
		t.Fatalf("key=%s", k)
	}
}
