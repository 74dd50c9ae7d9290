// Package ode talks to the Orbital Data Explorer REST interface and resolves a
// query into the browse files it should download.
package ode

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/ode-browse-cache/internal/core/query"
)

const DefaultBaseURL = "https://oderest.rsl.wustl.edu/live2/"

// RESTEndpoint normalises the configured base so a query string can be appended.
func RESTEndpoint(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + "/"
}

// BuildProductQueryParams maps a descriptor onto the ODE product query. Optional
// bounds are only sent when set. The result set is always product files (fp) in XML.
func BuildProductQueryParams(d query.Descriptor) url.Values {
	params := url.Values{}
	params.Set("target", d.Target())
	params.Set("ihid", d.Mission())
	params.Set("iid", d.Instrument())
	params.Set("pt", d.ProductType())

	for _, b := range []struct {
		key string
		get func() (float64, bool)
	}{
		{"westernlon", d.WesternLon},
		{"easternlon", d.EasternLon},
		{"minlat", d.MinLat},
		{"maxlat", d.MaxLat},
	} {
		if v, ok := b.get(); ok {
			params.Set(b.key, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}

	if v := d.MinObTime(); v != "" {
		params.Set("mincreationtime", v)
	}
	if v := d.MaxObTime(); v != "" {
		params.Set("maxcreationtime", v)
	}

	params.Set("query", "product")
	params.Set("results", "fp")
	params.Set("output", "XML")
	params.Set("limit", strconv.Itoa(d.Limit()))
	params.Set("offset", strconv.Itoa(d.Offset()))

	if v := d.ProductID(); v != "" {
		params.Set("productid", v)
	}
	return params
}
