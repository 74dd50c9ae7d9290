package ode

import (
	"encoding/xml"
	"strings"
)

// odeResults mirrors the parts of the ODE "fp" XML response we read.
type odeResults struct {
	XMLName  xml.Name     `xml:"ODEResults"`
	Error    string       `xml:"Error"`
	Status   string       `xml:"Status"`
	Products []odeProduct `xml:"Products>Product"`
}

type odeProduct struct {
	PDSID string        `xml:"pdsid"`
	Files []productFile `xml:"Product_files>Product_file"`
}

type productFile struct {
	FileName    string `xml:"FileName"`
	Type        string `xml:"Type"`
	URL         string `xml:"URL"`
	Description string `xml:"Description"`
}

// name returns the last path segment of the file URL, falling back to FileName.
func (f productFile) name() string {
	u := strings.TrimSpace(f.URL)
	if i := strings.LastIndexByte(u, '/'); i >= 0 {
		u = u[i+1:]
	}
	if u == "" {
		return strings.TrimSpace(f.FileName)
	}
	return u
}
