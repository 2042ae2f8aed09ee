// Package ogc builds the per-commune upstream WMS endpoints.
package ogc

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bchartier/cadastre.gouv/internal/core/wms"
)

// Target is the fully qualified upstream URL serving one commune.
type Target struct {
	Region string
	URL    string
}

// Endpoint renders {base}[/{apiKey}]/{region}.wms?{query}.
type Endpoint struct {
	base   string
	apiKey string
}

func NewEndpoint(base, apiKey string) (*Endpoint, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream url %q: scheme and host are required", base)
	}
	return &Endpoint{
		base:   strings.TrimRight(base, "/"),
		apiKey: strings.Trim(strings.TrimSpace(apiKey), "/"),
	}, nil
}

// Path returns the endpoint for region without a query string.
func (e *Endpoint) Path(region string) string {
	var b strings.Builder
	b.WriteString(e.base)
	if e.apiKey != "" {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(e.apiKey))
	}
	b.WriteByte('/')
	b.WriteString(url.PathEscape(region))
	b.WriteString(".wms")
	return b.String()
}

func (e *Endpoint) Target(region string, p *wms.Params) Target {
	u := e.Path(region)
	if q := p.Encode(); q != "" {
		u += "?" + q
	}
	return Target{Region: region, URL: u}
}

// MergeParams returns a copy of p suitable for fetching layers that will
// be composited: transparency is forced on.
func MergeParams(p *wms.Params) *wms.Params {
	c := p.Clone()
	c.Set("transparent", "true")
	return c
}
