// Package capabilities renders the WMS GetCapabilities document of the
// proxy from the boundary index extent.
package capabilities

import (
	_ "embed"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/edisonguo/jet"

	"github.com/bchartier/cadastre.gouv/internal/core/model"
	"github.com/bchartier/cadastre.gouv/internal/core/scale"
	"github.com/bchartier/cadastre.gouv/internal/core/wms"
)

const ContentType = "text/xml"

//go:embed capabilities.xml.jet
var source string

type Layer struct {
	Name     string
	Title    string
	MaxScale string
}

// DefaultLayers are the layers the cadastral upstream publishes.
var DefaultLayers = []Layer{
	{Name: scale.LayerParcel, Title: "Parcelles cadastrales", MaxScale: num(scale.MaxDetailScale)},
	{Name: scale.LayerBuilding, Title: "Bâtiments", MaxScale: num(scale.MaxDetailScale)},
	{Name: "CP.CadastralZoning", Title: "Sections cadastrales", MaxScale: num(scale.MaxScale)},
}

type view struct {
	Title          string
	OnlineResource string
	MaxWidth       int
	NativeCRS      string
	MinX, MinY     string
	MaxX, MaxY     string
	West, East     string
	South, North   string
	Layers         []Layer
}

type Renderer struct {
	tmpl   *jet.Template
	title  string
	layers []Layer
}

func New(title string) (*Renderer, error) {
	set := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		_ = xml.EscapeText(w, b)
	}))
	tmpl, err := set.LoadTemplate("/capabilities.xml", source)
	if err != nil {
		return nil, fmt.Errorf("load capabilities template: %w", err)
	}
	return &Renderer{tmpl: tmpl, title: title, layers: DefaultLayers}, nil
}

// Render writes the document for ext, advertising self as the endpoint.
func (r *Renderer) Render(w io.Writer, ext model.Extent, self string) error {
	v := view{
		Title:          r.title,
		OnlineResource: self,
		MaxWidth:       wms.MaxWidth,
		NativeCRS:      "EPSG:" + strconv.Itoa(ext.Native.EPSG),
		MinX:           num(ext.Native.XMin),
		MinY:           num(ext.Native.YMin),
		MaxX:           num(ext.Native.XMax),
		MaxY:           num(ext.Native.YMax),
		West:           num(ext.Geographic.XMin),
		East:           num(ext.Geographic.XMax),
		South:          num(ext.Geographic.YMin),
		North:          num(ext.Geographic.YMax),
		Layers:         r.layers,
	}
	if err := r.tmpl.Execute(w, make(jet.VarMap), v); err != nil {
		return fmt.Errorf("render capabilities: %w", err)
	}
	return nil
}

// SelfURL rebuilds the public URL of r, honouring reverse proxy headers.
func SelfURL(r *http.Request) string {
	proto := firstHeader(r, "X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	host := firstHeader(r, "X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if host == "" {
		host = "localhost"
	}
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return proto + "://" + host + path
}

func firstHeader(r *http.Request, name string) string {
	v := r.Header.Get(name)
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
