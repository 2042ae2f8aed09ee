package model

import "testing"

func TestRegionSetDedupKeepsFirstOccurrence(t *testing.T) {
	rs := RegionSet{"75056", "92012", "75056", "93001", "92012"}
	got := rs.Dedup()
	want := RegionSet{"75056", "92012", "93001"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestBBoxWKT(t *testing.T) {
	b := BBox{XMin: 1, YMin: 2, XMax: 3, YMax: 4, EPSG: 2154}
	want := "POLYGON((1 2,3 2,3 4,1 4,1 2))"
	if got := b.WKT(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if b.String() != "1,2,3,4" {
		t.Fatalf("string=%q", b.String())
	}
}
