package footprint

import (
	"context"
	"sort"
	"testing"
	"time"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/ode-browse-cache/internal/core/query"
	"github.com/mohammed-shakir/ode-browse-cache/internal/hotness/expdecay"
)

func cellLng(t *testing.T, s string) float64 {
	t.Helper()
	var c h3.Cell
	if err := c.UnmarshalText([]byte(s)); err != nil {
		t.Fatalf("parse cell %q: %v", s, err)
	}
	ll, err := c.LatLng()
	if err != nil {
		t.Fatalf("cell latlng: %v", err)
	}
	return ll.Lng
}

func TestCells_SortedUnique(t *testing.T) {
	cells, res, err := Cells(Bounds{West: 10, East: 20, South: -5, North: 5}, 3)
	if err != nil {
		t.Fatalf("Cells: %v", err)
	}
	if res != 3 || len(cells) == 0 {
		t.Fatalf("res=%d cells=%d", res, len(cells))
	}
	if !sort.StringsAreSorted(cells) {
		t.Fatalf("cells must be sorted")
	}
	seen := map[string]bool{}
	for _, c := range cells {
		if seen[c] {
			t.Fatalf("duplicate cell %s", c)
		}
		seen[c] = true
	}
}

func TestCells_EasternHalfMapsToNegativeLongitudes(t *testing.T) {
	cells, _, err := Cells(Bounds{West: 200, East: 220, South: 0, North: 10}, 2)
	if err != nil {
		t.Fatalf("Cells: %v", err)
	}
	for _, c := range cells {
		lng := cellLng(t, c)
		if lng > -130 || lng < -170 {
			t.Fatalf("cell %s at lng %v outside the window", c, lng)
		}
	}
}

func TestCells_WrapAcrossZero(t *testing.T) {
	cells, _, err := Cells(Bounds{West: 350, East: 10, South: -10, North: 10}, 2)
	if err != nil {
		t.Fatalf("Cells: %v", err)
	}
	var west, east bool
	for _, c := range cells {
		lng := cellLng(t, c)
		if lng < 0 {
			west = true
		}
		if lng > 0 {
			east = true
		}
		if lng < -15 || lng > 15 {
			t.Fatalf("cell %s at %v outside the wrapped window", c, lng)
		}
	}
	if !west || !east {
		t.Fatalf("wrapped window must cover both sides of 0")
	}
}

func TestCells_WholePlanetCoarsens(t *testing.T) {
	cells, res, err := Cells(Bounds{West: 0, East: 360, South: -90, North: 90}, 8)
	if err != nil {
		t.Fatalf("Cells: %v", err)
	}
	if res >= 8 || len(cells) > MaxCells || len(cells) == 0 {
		t.Fatalf("res=%d cells=%d", res, len(cells))
	}
}

func TestCells_TinyWindowUsesCenter(t *testing.T) {
	cells, _, err := Cells(Bounds{West: 77.5, East: 77.5, South: 18.4, North: 18.4}, 1)
	if err != nil {
		t.Fatalf("Cells: %v", err)
	}
	if len(cells) != 1 {
		t.Fatalf("want the single center cell, got %v", cells)
	}
}

func TestCells_Rejects(t *testing.T) {
	if _, _, err := Cells(Bounds{West: 0, East: 10}, 16); err == nil {
		t.Fatalf("res 16 must fail")
	}
	if _, _, err := Cells(Bounds{West: -1, East: 10}, 2); err == nil {
		t.Fatalf("negative longitude must fail")
	}
}

func TestFromDescriptor_Defaults(t *testing.T) {
	p := query.DefaultParams("Mars", "MRO", "HIRISE", "RDRV11")
	p.MinLat = query.Float(10)
	d, err := query.New(p)
	if err != nil {
		t.Fatal(err)
	}
	b := FromDescriptor(d)
	if b != (Bounds{West: 0, East: 360, South: 10, North: 90}) {
		t.Fatalf("bounds=%+v", b)
	}
}

func TestTracker_RecordAccumulates(t *testing.T) {
	p := query.DefaultParams("Mars", "MRO", "HIRISE", "RDRV11")
	p.WesternLon, p.EasternLon = query.Float(130), query.Float(140)
	p.MinLat, p.MaxLat = query.Float(-10), query.Float(0)
	d, err := query.New(p)
	if err != nil {
		t.Fatal(err)
	}

	hot := expdecay.New(time.Hour)
	tr := NewTracker(nil, hot, 3)
	cells, err := tr.Record(context.Background(), d)
	if err != nil || len(cells) == 0 {
		t.Fatalf("cells=%v err=%v", cells, err)
	}
	if _, err := tr.Record(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	if hot.Size() != len(cells) {
		t.Fatalf("tracked=%d cells=%d", hot.Size(), len(cells))
	}
	if got := tr.Score(d); got < float64(2*len(cells))-0.01 {
		t.Fatalf("score=%v want about %d", got, 2*len(cells))
	}
}
