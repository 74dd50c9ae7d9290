// Package footprint maps a query's lon/lat window onto H3 cells so repeated
// interest in the same area can be tracked.
package footprint

import (
	"fmt"
	"math"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/ode-browse-cache/internal/core/query"
)

// MaxCells caps the polyfill size. Wider windows are mapped at a coarser
// resolution.
const MaxCells = 20000

// polyfill breaks down on edges longer than 180 degrees
const chunkDeg = 90

// keep rectangle corners off the poles
const maxLat = 89.999

// Bounds is a query window with longitudes in ODE's 0..360 convention. West
// greater than East wraps across the 0/360 meridian.
type Bounds struct {
	West, East   float64
	South, North float64
}

// FromDescriptor fills unset bounds with the full range.
func FromDescriptor(d query.Descriptor) Bounds {
	b := Bounds{West: 0, East: 360, South: -90, North: 90}
	if v, ok := d.WesternLon(); ok {
		b.West = v
	}
	if v, ok := d.EasternLon(); ok {
		b.East = v
	}
	if v, ok := d.MinLat(); ok {
		b.South = v
	}
	if v, ok := d.MaxLat(); ok {
		b.North = v
	}
	if b.South > b.North {
		b.South, b.North = b.North, b.South
	}
	return b
}

func (b Bounds) validate() error {
	for _, v := range []float64{b.West, b.East} {
		if !(v >= 0 && v <= 360) {
			return fmt.Errorf("longitude %v not in [0,360]", v)
		}
	}
	for _, v := range []float64{b.South, b.North} {
		if !(v >= -90 && v <= 90) {
			return fmt.Errorf("latitude %v not in [-90,90]", v)
		}
	}
	return nil
}

// intervals returns the longitude ranges covered, in 0..360.
func (b Bounds) intervals() [][2]float64 {
	if b.West <= b.East {
		return [][2]float64{{b.West, b.East}}
	}
	return [][2]float64{{b.West, 360}, {0, b.East}}
}

func (b Bounds) lonSpan() float64 {
	s := 0.0
	for _, iv := range b.intervals() {
		s += iv[1] - iv[0]
	}
	return s
}

// Center is the middle of the window in signed degrees.
func (b Bounds) Center() h3.LatLng {
	lon := b.West + b.lonSpan()/2
	if lon >= 360 {
		lon -= 360
	}
	return h3.LatLng{Lat: (b.South + b.North) / 2, Lng: toSigned(lon)}
}

// chunks splits the window on the 90 degree meridians so no piece crosses 180.
func (b Bounds) chunks() [][2]float64 {
	var out [][2]float64
	for _, iv := range b.intervals() {
		lo := iv[0]
		for lo < iv[1] {
			hi := math.Min(iv[1], (math.Floor(lo/chunkDeg)+1)*chunkDeg)
			out = append(out, [2]float64{lo, hi})
			lo = hi
		}
	}
	return out
}

func toSigned(lon float64) float64 {
	if lon > 180 {
		return lon - 360
	}
	return lon
}

// EstimateCells approximates how many res-level cells cover b.
func EstimateCells(b Bounds, res int) float64 {
	area := (math.Sin(b.North*math.Pi/180) - math.Sin(b.South*math.Pi/180)) *
		(b.lonSpan() * math.Pi / 180) / (4 * math.Pi)
	total := 2 + 120*math.Pow(7, float64(res))
	return area * total
}

// Cells returns the sorted, unique H3 cells covering b, at res or the finest
// coarser resolution that stays under MaxCells. The resolution used is
// returned. A window too small to contain a cell centre maps to the cell at its
// centre.
func Cells(b Bounds, res int) ([]string, int, error) {
	if res < 0 || res > 15 {
		return nil, 0, fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	if err := b.validate(); err != nil {
		return nil, 0, err
	}
	for res > 0 && EstimateCells(b, res) > MaxCells {
		res--
	}

	south, north := clampLat(b.South), clampLat(b.North)
	seen := map[string]struct{}{}
	var out []string
	if north > south {
		for _, c := range b.chunks() {
			if c[1] <= c[0] {
				continue
			}
			// a chunk starting at 180 belongs to the western hemisphere
			w, e := c[0], toSigned(c[1])
			if w >= 180 {
				w -= 360
			}
			loop := h3.GeoLoop{
				{Lat: south, Lng: w},
				{Lat: south, Lng: e},
				{Lat: north, Lng: e},
				{Lat: north, Lng: w},
			}
			cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, res)
			if err != nil {
				return nil, 0, fmt.Errorf("h3 polyfill: %w", err)
			}
			for _, cell := range cells {
				s := cell.String()
				if _, ok := seen[s]; ok {
					continue
				}
				seen[s] = struct{}{}
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		c, err := h3.LatLngToCell(b.Center(), res)
		if err != nil {
			return nil, 0, fmt.Errorf("h3 center cell: %w", err)
		}
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out, res, nil
}

func clampLat(v float64) float64 {
	return math.Max(-maxLat, math.Min(maxLat, v))
}
