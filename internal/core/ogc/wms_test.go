package ogc

import (
	"strings"
	"testing"

	"github.com/bchartier/cadastre.gouv/internal/core/wms"
)

func TestTargetWithAndWithoutKey(t *testing.T) {
	p := wms.ParseParams("SERVICE=WMS&REQUEST=GetMap&LAYERS=CP.CadastralParcel")

	keyless, err := NewEndpoint("https://inspire.cadastre.gouv.fr/scpc/", "")
	if err != nil {
		t.Fatal(err)
	}
	got := keyless.Target("75056", p)
	want := "https://inspire.cadastre.gouv.fr/scpc/75056.wms?SERVICE=WMS&REQUEST=GetMap&LAYERS=CP.CadastralParcel"
	if got.URL != want || got.Region != "75056" {
		t.Fatalf("got %+v\nwant %s", got, want)
	}

	keyed, err := NewEndpoint("https://inspire.cadastre.gouv.fr/scpc", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if u := keyed.Target("2A004", p).URL; !strings.HasPrefix(u, "https://inspire.cadastre.gouv.fr/scpc/abc123/2A004.wms?") {
		t.Fatalf("keyed url=%s", u)
	}
}

func TestNewEndpointRejectsRelative(t *testing.T) {
	if _, err := NewEndpoint("/scpc", ""); err == nil {
		t.Fatalf("expected error for relative base")
	}
}

func TestMergeParamsForcesTransparency(t *testing.T) {
	p := wms.ParseParams("request=GetMap&TRANSPARENT=false&layers=BU.Building")
	m := MergeParams(p)
	if v := m.Value("transparent"); v != "true" {
		t.Fatalf("transparent=%q", v)
	}
	if p.Value("transparent") != "false" {
		t.Fatalf("original params mutated")
	}
	if !strings.Contains(m.Encode(), "TRANSPARENT=true") {
		t.Fatalf("key spelling not kept: %s", m.Encode())
	}
}
