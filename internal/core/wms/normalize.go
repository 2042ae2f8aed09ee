// Package wms validates inbound WMS requests and rewrites them into the
// form the cadastral upstream accepts.
package wms

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bchartier/cadastre.gouv/internal/core/model"
	"github.com/bchartier/cadastre.gouv/internal/core/scale"
)

const (
	// MaxWidth is the widest viewport the upstream renders.
	MaxWidth = 1280
	// MaxDimension bounds both sides of any requested viewport, including
	// the ones answered locally with a placeholder.
	MaxDimension = 4096

	DefaultEPSG  = 2154
	ImageFormat  = "image/png"
	Version130   = "1.3.0"
	MsgWideImage = "width too large"
)

// Placeholder marks a request answered locally with a transparent image.
type Placeholder struct {
	Reason  string
	Message string
}

// Request is a validated WMS request. Params holds the query forwarded
// upstream, already rewritten.
type Request struct {
	Operation   model.Operation
	Version     string
	EPSG        int
	BBox        model.BBox
	Width       int
	Height      int
	Format      string
	Layers      string
	QueryLayers string
	InfoFormat  string
	I, J        int
	Params      *Params
	Placeholder *Placeholder
}

var (
	digitsRe   = regexp.MustCompile(`^[0-9]+$`)
	bboxPartRe = regexp.MustCompile(`^[-+]?([0-9]+\.?[0-9]*|\.[0-9]+)$`)
)

// Normalize validates rawQuery. The first failing check wins and is
// returned as a *ValidationError.
func Normalize(rawQuery string) (*Request, error) {
	p := ParseParams(rawQuery)

	service, ok := p.Get("service")
	if !ok || strings.TrimSpace(service) == "" {
		return nil, invalidf("service parameter is mandatory")
	}
	if !strings.EqualFold(strings.TrimSpace(service), "wms") {
		return nil, invalidf("unknown service type, only wms is supported")
	}

	reqName, ok := p.Get("request")
	if !ok || strings.TrimSpace(reqName) == "" {
		return nil, invalidf("request parameter is mandatory")
	}
	req := &Request{Params: p, Version: p.Value("version")}
	switch strings.ToLower(strings.TrimSpace(reqName)) {
	case "getcapabilities":
		req.Operation = model.OpGetCapabilities
		return req, nil
	case "getmap":
		req.Operation = model.OpGetMap
	case "getfeatureinfo":
		req.Operation = model.OpGetFeatureInfo
	default:
		return nil, invalidf("unknown request type %s, only getcapabilities, getmap and getfeatureinfo are supported", reqName)
	}
	op := strings.ToLower(string(req.Operation))

	for _, k := range []string{"bbox", "width", "height", "layers"} {
		if p.Value(k) == "" {
			return nil, invalidf("bbox, width, height & layers parameters are mandatory for %s", op)
		}
	}
	req.EPSG = ParseEPSG(crsValue(p))
	req.Layers = p.Value("layers")

	var rawI, rawJ string
	if req.Operation == model.OpGetFeatureInfo {
		rawI, rawJ = aliased(p, "i", "x"), aliased(p, "j", "y")
		if rawI == "" || rawJ == "" {
			return nil, invalidf("i and j (or x and y) parameters are mandatory for %s", op)
		}
	}

	if req.Operation == model.OpGetMap {
		req.Format = strings.ToLower(p.Value("format"))
		if req.Format != ImageFormat {
			return nil, invalidf("unsupported image format %q, only %s is supported", p.Value("format"), ImageFormat)
		}
	}

	w, h := p.Value("width"), p.Value("height")
	if !digitsRe.MatchString(w) || !digitsRe.MatchString(h) {
		return nil, invalidf("height and width should be numeric values")
	}
	var errW, errH error
	req.Width, errW = strconv.Atoi(w)
	req.Height, errH = strconv.Atoi(h)
	if errW != nil || errH != nil {
		return nil, invalidf("height and width should be numeric values")
	}
	if req.Width <= 0 || req.Height <= 0 {
		return nil, invalidf("height and width should be positive values")
	}
	if req.Width > MaxDimension || req.Height > MaxDimension {
		return nil, invalidf("height and width should not exceed %d", MaxDimension)
	}
	if req.Operation == model.OpGetFeatureInfo {
		if !digitsRe.MatchString(rawI) || !digitsRe.MatchString(rawJ) {
			return nil, invalidf("i and j should be numeric values")
		}
		var errI, errJ error
		req.I, errI = strconv.Atoi(rawI)
		req.J, errJ = strconv.Atoi(rawJ)
		if errI != nil || errJ != nil {
			return nil, invalidf("i and j should be numeric values")
		}
	}

	if req.Operation == model.OpGetMap && req.Width > MaxWidth {
		req.Placeholder = &Placeholder{Reason: "width", Message: MsgWideImage}
		return req, nil
	}

	bbox, err := ParseBBox(p.Value("bbox"), req.EPSG)
	if err != nil {
		return nil, err
	}
	req.BBox = bbox

	switch req.Operation {
	case model.OpGetMap:
		if d := scale.Evaluate(bbox.Width(), req.Width, req.Layers); d.Suppress {
			req.Placeholder = &Placeholder{Reason: "scale", Message: d.Message()}
		}
	case model.OpGetFeatureInfo:
		if RewriteLegacy(p) {
			req.Version = Version130
		}
		req.downscale()
		req.QueryLayers = p.Value("query_layers")
		if fb := FallbackLayer(req.QueryLayers); fb != req.QueryLayers {
			p.Set("layers", fb)
			p.Set("query_layers", fb)
			req.Layers, req.QueryLayers = fb, fb
		}
		req.InfoFormat = p.Value("info_format")
	}
	return req, nil
}

// ParseEPSG extracts the numeric code of an "AUTH:CODE" reference,
// defaulting to 2154.
func ParseEPSG(crs string) int {
	_, code, ok := strings.Cut(strings.TrimSpace(crs), ":")
	if !ok || !digitsRe.MatchString(code) {
		return DefaultEPSG
	}
	n, err := strconv.Atoi(code)
	if err != nil || n <= 0 {
		return DefaultEPSG
	}
	return n
}

// ParseBBox splits a four-component bbox and truncates each component at
// the decimal point.
func ParseBBox(raw string, epsg int) (model.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return model.BBox{}, invalidf("bbox should look like xmin,ymin,xmax,ymax with only numeric values")
	}
	var v [4]float64
	for i, s := range parts {
		s = strings.TrimSpace(s)
		if !bboxPartRe.MatchString(s) {
			return model.BBox{}, invalidf("bbox should look like xmin,ymin,xmax,ymax with only numeric values")
		}
		f, ok := truncate(s)
		if !ok {
			return model.BBox{}, invalidf("bbox should look like xmin,ymin,xmax,ymax with only numeric values")
		}
		v[i] = f
	}
	return model.BBox{XMin: v[0], YMin: v[1], XMax: v[2], YMax: v[3], EPSG: epsg}, nil
}

// truncate drops the fractional part of a bbox component. ok is false
// when the integer part does not fit an int64.
func truncate(s string) (float64, bool) {
	s, _, _ = strings.Cut(s, ".")
	switch s {
	case "", "-", "+":
		return 0, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return float64(n), true
}

func crsValue(p *Params) string {
	return aliased(p, "crs", "srs")
}

func aliased(p *Params, name, legacy string) string {
	if v := p.Value(name); v != "" {
		return v
	}
	return p.Value(legacy)
}

// RewriteLegacy upgrades a pre-1.3.0 feature info query in place:
// version, srs to crs, x/y to i/j, and default format and styles. It
// reports whether anything changed and is a no-op on a 1.3.0 query.
func RewriteLegacy(p *Params) bool {
	if p.Value("version") == Version130 {
		return false
	}
	p.Set("version", Version130)
	p.Rename("srs", "crs")
	p.Rename("x", "i")
	p.Rename("y", "j")
	p.SetDefault("format", ImageFormat)
	p.SetDefault("styles", "")
	return true
}

// downscale shrinks an oversized feature info viewport to MaxWidth and
// moves the queried pixel by the same ratios.
func (r *Request) downscale() {
	if r.Width <= MaxWidth {
		return
	}
	nw := MaxWidth
	nh := r.Height * MaxWidth / r.Width
	if nh < 1 {
		nh = 1
	}
	ni := r.I * nw / r.Width
	nj := r.J * nh / r.Height

	r.Params.Set("width", strconv.Itoa(nw))
	r.Params.Set("height", strconv.Itoa(nh))
	r.Params.Rename("x", "i")
	r.Params.Rename("y", "j")
	r.Params.Set("i", strconv.Itoa(ni))
	r.Params.Set("j", strconv.Itoa(nj))
	r.Width, r.Height, r.I, r.J = nw, nh, ni, nj
}

// FallbackLayer maps a query_layers value onto one of the two layers the
// upstream can answer feature info for. Exact matches pass through.
func FallbackLayer(q string) string {
	if q == scale.LayerParcel || q == scale.LayerBuilding {
		return q
	}
	if strings.Contains(q, scale.LayerParcel) || !strings.Contains(q, scale.LayerBuilding) {
		return scale.LayerParcel
	}
	return scale.LayerBuilding
}
