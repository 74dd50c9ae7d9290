// Package query defines the validated search descriptor sent to the ODE catalog.
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultLimit    = 10
	MaxLimit        = 100
	DefaultFileName = "*"

	// only browse products are fetched by this pipeline
	browseResourceType = "Browse"
)

var ErrValidation = errors.New("invalid query parameters")

// ValidationError reports the first parameter that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

var targets = map[string]string{
	"mars":    "Mars",
	"mercury": "Mercury",
	"moon":    "Moon",
	"phobos":  "Phobos",
	"venus":   "Venus",
}

// Params is the caller-facing set of search parameters. Use DefaultParams to
// get the documented defaults and override what is needed.
type Params struct {
	Target      string
	Mission     string
	Instrument  string
	ProductType string

	WesternLon *float64
	EasternLon *float64
	MinLat     *float64
	MaxLat     *float64

	MinObTime string
	MaxObTime string

	ProductID string
	FileName  string

	Limit  int
	Offset int

	RemoveNoData bool
}

func DefaultParams(target, mission, instrument, productType string) Params {
	return Params{
		Target:       target,
		Mission:      mission,
		Instrument:   instrument,
		ProductType:  productType,
		FileName:     DefaultFileName,
		Limit:        DefaultLimit,
		RemoveNoData: true,
	}
}

// Float is a helper for filling the optional bounds.
func Float(v float64) *float64 { return &v }

// Descriptor is an immutable, validated query.
type Descriptor struct {
	target      string
	mission     string
	instrument  string
	productType string

	westernLon, easternLon *float64
	minLat, maxLat         *float64

	minObTime, maxObTime string
	productID, fileName  string

	limit, offset int
	removeNoData  bool
}

func New(p Params) (Descriptor, error) {
	target, ok := targets[strings.ToLower(strings.TrimSpace(p.Target))]
	if !ok {
		return Descriptor{}, &ValidationError{Field: "target", Reason: fmt.Sprintf("unknown planetary body %q", p.Target)}
	}
	for _, f := range []struct{ name, v string }{
		{"mission", p.Mission},
		{"instrument", p.Instrument},
		{"product_type", p.ProductType},
	} {
		if strings.TrimSpace(f.v) == "" {
			return Descriptor{}, &ValidationError{Field: f.name, Reason: "is required"}
		}
	}

	if err := checkRange("western_lon", p.WesternLon, 0, 360); err != nil {
		return Descriptor{}, err
	}
	if err := checkRange("eastern_lon", p.EasternLon, 0, 360); err != nil {
		return Descriptor{}, err
	}
	if err := checkRange("min_lat", p.MinLat, -90, 90); err != nil {
		return Descriptor{}, err
	}
	if err := checkRange("max_lat", p.MaxLat, -90, 90); err != nil {
		return Descriptor{}, err
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		return Descriptor{}, &ValidationError{Field: "limit", Reason: fmt.Sprintf("%d not in [1,%d]", p.Limit, MaxLimit)}
	}
	if p.Offset < 0 {
		return Descriptor{}, &ValidationError{Field: "offset", Reason: fmt.Sprintf("%d is negative", p.Offset)}
	}

	fileName := strings.TrimSpace(p.FileName)
	if fileName == "" {
		fileName = DefaultFileName
	}

	return Descriptor{
		target:       target,
		mission:      strings.TrimSpace(p.Mission),
		instrument:   strings.TrimSpace(p.Instrument),
		productType:  strings.TrimSpace(p.ProductType),
		westernLon:   clone(p.WesternLon),
		easternLon:   clone(p.EasternLon),
		minLat:       clone(p.MinLat),
		maxLat:       clone(p.MaxLat),
		minObTime:    strings.TrimSpace(p.MinObTime),
		maxObTime:    strings.TrimSpace(p.MaxObTime),
		productID:    strings.TrimSpace(p.ProductID),
		fileName:     fileName,
		limit:        p.Limit,
		offset:       p.Offset,
		removeNoData: p.RemoveNoData,
	}, nil
}

// NaN fails both comparisons and is rejected here as well.
func checkRange(field string, v *float64, lo, hi float64) error {
	if v == nil {
		return nil
	}
	if !(*v >= lo && *v <= hi) {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("%v not in [%v,%v]", *v, lo, hi)}
	}
	return nil
}

func clone(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func (d Descriptor) Target() string      { return d.target }
func (d Descriptor) Mission() string     { return d.mission }
func (d Descriptor) Instrument() string  { return d.instrument }
func (d Descriptor) ProductType() string { return d.productType }

func (d Descriptor) WesternLon() (float64, bool) { return deref(d.westernLon) }
func (d Descriptor) EasternLon() (float64, bool) { return deref(d.easternLon) }
func (d Descriptor) MinLat() (float64, bool)     { return deref(d.minLat) }
func (d Descriptor) MaxLat() (float64, bool)     { return deref(d.maxLat) }

func (d Descriptor) MinObTime() string  { return d.minObTime }
func (d Descriptor) MaxObTime() string  { return d.maxObTime }
func (d Descriptor) ProductID() string  { return d.productID }
func (d Descriptor) FileName() string   { return d.fileName }
func (d Descriptor) Limit() int         { return d.limit }
func (d Descriptor) Offset() int        { return d.offset }
func (d Descriptor) RemoveNoData() bool { return d.removeNoData }

// ResourceType is the product file type the resolver keeps. It is not settable.
func (d Descriptor) ResourceType() string { return browseResourceType }

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Fingerprint is a stable hash of the canonical parameters, used to correlate logs.
func (d Descriptor) Fingerprint() string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(d.canonical()))
}

func (d Descriptor) canonical() string {
	var b strings.Builder
	for _, s := range []string{
		d.target, d.mission, d.instrument, d.productType,
		fmtBound(d.westernLon), fmtBound(d.easternLon), fmtBound(d.minLat), fmtBound(d.maxLat),
		d.minObTime, d.maxObTime, d.productID, d.fileName,
		strconv.Itoa(d.limit), strconv.Itoa(d.offset), strconv.FormatBool(d.removeNoData),
	} {
		b.WriteString(s)
		b.WriteByte('|')
	}
	return b.String()
}

func fmtBound(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
