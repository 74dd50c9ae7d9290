package query

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func valid() Params {
	return DefaultParams("mars", "MRO", "HIRISE", "RDRV11")
}

func TestNew_DefaultsAndCanonicalTarget(t *testing.T) {
	d, err := New(valid())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.Target() != "Mars" {
		t.Fatalf("target=%q want Mars", d.Target())
	}
	if d.Limit() != 10 || d.Offset() != 0 || d.FileName() != "*" || !d.RemoveNoData() {
		t.Fatalf("unexpected defaults: limit=%d offset=%d file=%q ndv=%v",
			d.Limit(), d.Offset(), d.FileName(), d.RemoveNoData())
	}
	if d.ResourceType() != "Browse" {
		t.Fatalf("resource type=%q want Browse", d.ResourceType())
	}
	if _, ok := d.WesternLon(); ok {
		t.Fatalf("western lon must be unset")
	}
}

func TestNew_RejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name  string
		field string
		mut   func(*Params)
	}{
		{"west>360", "western_lon", func(p *Params) { p.WesternLon = Float(360.5) }},
		{"east<0", "eastern_lon", func(p *Params) { p.EasternLon = Float(-0.1) }},
		{"minlat<-90", "min_lat", func(p *Params) { p.MinLat = Float(-91) }},
		{"maxlat>90", "max_lat", func(p *Params) { p.MaxLat = Float(90.01) }},
		{"limit0", "limit", func(p *Params) { p.Limit = 0 }},
		{"limit101", "limit", func(p *Params) { p.Limit = 101 }},
		{"offset", "offset", func(p *Params) { p.Offset = -1 }},
		{"target", "target", func(p *Params) { p.Target = "Pluto" }},
		{"mission", "mission", func(p *Params) { p.Mission = " " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := valid()
			tc.mut(&p)
			_, err := New(p)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("want ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("field=%q want %q", ve.Field, tc.field)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("errors.Is(ErrValidation) must hold")
			}
		})
	}
}

func TestNew_BoundsInclusive(t *testing.T) {
	p := valid()
	p.WesternLon, p.EasternLon = Float(0), Float(360)
	p.MinLat, p.MaxLat = Float(-90), Float(90)
	p.Limit = 100
	if _, err := New(p); err != nil {
		t.Fatalf("inclusive bounds rejected: %v", err)
	}
}

func TestDescriptor_IsImmutable(t *testing.T) {
	p := valid()
	west := 10.0
	p.WesternLon = &west
	d, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	west = 500
	if v, _ := d.WesternLon(); v != 10 {
		t.Fatalf("descriptor changed with caller's pointer: %v", v)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a, _ := New(valid())
	b, _ := New(valid())
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprint not deterministic")
	}
	p := valid()
	p.Offset = 10
	c, _ := New(p)
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatalf("different params must differ")
	}
}

func TestProperty_LongitudeRange(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 500
	properties := gopter.NewProperties(params)

	outside := gen.OneGenOf(
		gen.Float64Range(-1e6, -1e-9),
		gen.Float64Range(360+1e-9, 1e6),
	)

	properties.Property("longitudes outside [0,360] always fail", prop.ForAll(
		func(lon float64) bool {
			p := valid()
			p.EasternLon = Float(lon)
			_, err := New(p)
			return errors.Is(err, ErrValidation)
		},
		outside,
	))

	properties.Property("longitudes inside [0,360] succeed", prop.ForAll(
		func(lon float64) bool {
			p := valid()
			p.WesternLon = Float(lon)
			_, err := New(p)
			return err == nil
		},
		gen.Float64Range(0, 360),
	))

	properties.Property("latitudes succeed iff inside [-90,90]", prop.ForAll(
		func(lat float64) bool {
			p := valid()
			p.MinLat = Float(lat)
			_, err := New(p)
			inside := lat >= -90 && lat <= 90
			return inside == (err == nil)
		},
		gen.Float64Range(-500, 500),
	))

	properties.TestingRun(t)
}
