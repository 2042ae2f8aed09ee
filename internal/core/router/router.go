// Package router serves the WMS endpoint: it validates the query, answers
// GetCapabilities and placeholders locally and hands everything else to
// the dispatcher.
package router

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bchartier/cadastre.gouv/internal/capabilities"
	"github.com/bchartier/cadastre.gouv/internal/core/model"
	"github.com/bchartier/cadastre.gouv/internal/core/observability"
	"github.com/bchartier/cadastre.gouv/internal/core/wms"
	"github.com/bchartier/cadastre.gouv/internal/dispatch"
	"github.com/bchartier/cadastre.gouv/internal/imaging"
	mylog "github.com/bchartier/cadastre.gouv/internal/logger"
)

const route = "/wms"

type Resolver interface {
	Resolve(ctx context.Context, bbox model.BBox) (model.RegionSet, error)
	Extent(ctx context.Context) (model.Extent, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req *wms.Request, regions model.RegionSet) (*dispatch.Result, error)
}

type CapabilitiesRenderer interface {
	Render(w io.Writer, ext model.Extent, self string) error
}

type Handler struct {
	log  *slog.Logger
	res  Resolver
	disp Dispatcher
	caps CapabilitiesRenderer
}

func New(logger *slog.Logger, res Resolver, disp Dispatcher, caps CapabilitiesRenderer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{log: logger, res: res, disp: disp, caps: caps}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
	op := "invalid"
	defer func() {
		observability.ObserveHTTP(r.Method, route, op, sw.code, time.Since(start).Seconds())
	}()

	req, err := wms.Normalize(r.URL.RawQuery)
	if err != nil {
		if ve, ok := wms.AsValidation(err); ok {
			h.log.DebugContext(r.Context(), "wms request rejected", "reason", ve.Msg)
			writeText(sw, http.StatusMethodNotAllowed, ve.Msg)
			return
		}
		h.log.ErrorContext(r.Context(), "normalize failed", "err", err)
		writeText(sw, http.StatusInternalServerError, "internal server error")
		return
	}
	op = string(req.Operation)
	ctx := mylog.WithOperation(r.Context(), op)

	switch {
	case req.Operation == model.OpGetCapabilities:
		h.capabilities(ctx, sw, r)
	case req.Placeholder != nil:
		h.placeholder(ctx, sw, req)
	default:
		h.dispatch(ctx, sw, req)
	}
}

func (h *Handler) capabilities(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ext, err := h.res.Extent(ctx)
	if err != nil {
		h.log.ErrorContext(ctx, "service extent unavailable", "err", err)
		writeText(w, http.StatusInternalServerError, "service extent unavailable")
		return
	}
	var buf bytes.Buffer
	if err := h.caps.Render(&buf, ext, capabilities.SelfURL(r)); err != nil {
		h.log.ErrorContext(ctx, "capabilities render failed", "err", err)
		writeText(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeBody(w, capabilities.ContentType, buf.Bytes())
}

func (h *Handler) placeholder(ctx context.Context, w http.ResponseWriter, req *wms.Request) {
	body, err := imaging.Placeholder(req.Width, req.Height, req.Placeholder.Message)
	if err != nil {
		h.log.ErrorContext(ctx, "placeholder failed", "err", err)
		writeText(w, http.StatusInternalServerError, "internal server error")
		return
	}
	observability.IncPlaceholder(req.Placeholder.Reason)
	h.log.DebugContext(ctx, "placeholder served", "reason", req.Placeholder.Reason, "message", req.Placeholder.Message)
	writeBody(w, imaging.ContentTypePNG, body)
}

func (h *Handler) dispatch(ctx context.Context, w http.ResponseWriter, req *wms.Request) {
	regions, err := h.res.Resolve(ctx, req.BBox)
	if err != nil {
		h.log.ErrorContext(ctx, "region lookup failed", "bbox", req.BBox.String(), "err", err)
		writeText(w, http.StatusInternalServerError, "region lookup failed")
		return
	}

	res, err := h.disp.Dispatch(ctx, req, regions)
	if err != nil {
		h.log.ErrorContext(ctx, "dispatch failed", "regions", len(regions), "err", err)
		writeText(w, http.StatusBadGateway, "upstream error")
		return
	}
	h.log.DebugContext(ctx, "dispatched",
		"mode", string(res.Mode),
		"regions", res.Regions,
		"failed", res.Failed)

	if res.Mode == dispatch.ModeRedirect {
		w.Header().Set("Location", res.Redirect)
		w.WriteHeader(http.StatusFound)
		return
	}
	writeBody(w, res.ContentType, res.Body)
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, msg)
}

func writeBody(w http.ResponseWriter, contentType string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
