package wms

import "testing"

func TestParamsCaseInsensitiveGet(t *testing.T) {
	p := ParseParams("Service=WMS&LAYERS=a%2Cb&flag")
	if v, _ := p.Get("service"); v != "WMS" {
		t.Fatalf("service=%q", v)
	}
	if v := p.Value("layers"); v != "a,b" {
		t.Fatalf("layers=%q", v)
	}
	if !p.Has("FLAG") {
		t.Fatalf("valueless key lost")
	}
	if p.Encode() != "Service=WMS&LAYERS=a%2Cb&flag" {
		t.Fatalf("encode=%q", p.Encode())
	}
}

func TestParamsSetReplacesAndDropsDuplicates(t *testing.T) {
	p := ParseParams("transparent=false&a=1&TRANSPARENT=false")
	p.Set("transparent", "true")
	if got := p.Encode(); got != "transparent=true&a=1" {
		t.Fatalf("encode=%q", got)
	}
	p.Set("b", "x y")
	if got := p.Encode(); got != "transparent=true&a=1&b=x+y" {
		t.Fatalf("encode=%q", got)
	}
}

func TestParamsRenameKeepsExistingTarget(t *testing.T) {
	p := ParseParams("srs=EPSG:3857&crs=EPSG:2154")
	p.Rename("srs", "crs")
	if got := p.Encode(); got != "crs=EPSG:2154" {
		t.Fatalf("encode=%q", got)
	}
}

func TestParamsCloneIsIndependent(t *testing.T) {
	p := ParseParams("a=1")
	cp := p.Clone()
	cp.Set("a", "2")
	if p.Value("a") != "1" {
		t.Fatalf("clone shares storage")
	}
}
