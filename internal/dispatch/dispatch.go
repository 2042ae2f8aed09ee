// Package dispatch fans a validated WMS request out to the per-commune
// upstream endpoints and folds the answers back into one response.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bchartier/cadastre.gouv/internal/aggregate"
	"github.com/bchartier/cadastre.gouv/internal/core/executor"
	"github.com/bchartier/cadastre.gouv/internal/core/model"
	"github.com/bchartier/cadastre.gouv/internal/core/observability"
	"github.com/bchartier/cadastre.gouv/internal/core/ogc"
	"github.com/bchartier/cadastre.gouv/internal/core/wms"
	"github.com/bchartier/cadastre.gouv/internal/events"
	"github.com/bchartier/cadastre.gouv/internal/imaging"
	"github.com/bchartier/cadastre.gouv/internal/logger"
)

type Mode string

const (
	ModeRedirect   Mode = "redirect"
	ModeMerge      Mode = "merge"
	ModeEmpty      Mode = "empty"
	ModeFirstMatch Mode = "first_match"
	ModeLast       Mode = "last"
)

// DefaultInfoFormat is the content type of an empty GetFeatureInfo answer
// when the request named none.
const DefaultInfoFormat = "text/plain"

// Result is either a redirect or a body to write with status 200.
type Result struct {
	Mode        Mode
	Redirect    string
	ContentType string
	Body        []byte
	Regions     int
	Failed      int
}

func (r *Result) Status() int {
	if r.Mode == ModeRedirect {
		return http.StatusFound
	}
	return http.StatusOK
}

type Publisher interface {
	Publish(events.Event)
}

type Options struct {
	MaxConcurrency int
	Logger         *slog.Logger
	Events         Publisher
}

type Dispatcher struct {
	ep      *ogc.Endpoint
	exec    executor.Interface
	workers int
	log     *slog.Logger
	events  Publisher
}

func New(ep *ogc.Endpoint, exec executor.Interface, opts Options) *Dispatcher {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	return &Dispatcher{
		ep:      ep,
		exec:    exec,
		workers: opts.MaxConcurrency,
		log:     opts.Logger,
		events:  opts.Events,
	}
}

// Dispatch answers req for the communes in regions, preserving their order.
func (d *Dispatcher) Dispatch(ctx context.Context, req *wms.Request, regions model.RegionSet) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch {
	case len(regions) == 0:
		res, err = d.empty(req)
	case len(regions) == 1:
		t := d.ep.Target(regions[0], req.Params)
		res = &Result{Mode: ModeRedirect, Redirect: t.URL, Regions: 1}
	case req.Operation == model.OpGetFeatureInfo:
		res, err = d.featureInfo(ctx, req, regions)
	default:
		res, err = d.mergeMap(ctx, req, regions)
	}
	if err != nil {
		return nil, err
	}

	observability.IncDispatch(string(req.Operation), string(res.Mode), len(regions))
	d.events.Publish(events.Event{
		RequestID: logger.RequestID(ctx),
		Operation: string(req.Operation),
		Mode:      string(res.Mode),
		EPSG:      req.EPSG,
		BBox:      req.BBox.String(),
		Regions:   regions,
		Failed:    res.Failed,
		TS:        time.Now().UTC(),
	})
	return res, nil
}

func (d *Dispatcher) empty(req *wms.Request) (*Result, error) {
	if req.Operation == model.OpGetFeatureInfo {
		ct := req.InfoFormat
		if ct == "" {
			ct = DefaultInfoFormat
		}
		return &Result{Mode: ModeEmpty, ContentType: ct, Body: []byte{}}, nil
	}
	body, err := imaging.Placeholder(req.Width, req.Height, "")
	if err != nil {
		return nil, fmt.Errorf("empty map: %w", err)
	}
	return &Result{Mode: ModeEmpty, ContentType: imaging.ContentTypePNG, Body: body}, nil
}

func (d *Dispatcher) targets(req *wms.Request, regions model.RegionSet) []ogc.Target {
	p := ogc.MergeParams(req.Params)
	out := make([]ogc.Target, len(regions))
	for i, r := range regions {
		out[i] = d.ep.Target(r, p)
	}
	return out
}

func (d *Dispatcher) mergeMap(ctx context.Context, req *wms.Request, regions model.RegionSet) (*Result, error) {
	slots := d.fetchAll(ctx, d.targets(req, regions))

	parts := make([]aggregate.Part, 0, len(slots))
	failed := 0
	for _, s := range slots {
		<-s.done
		if s.err != nil {
			failed++
			d.logFailure(ctx, s.target.Region, s.err)
			continue
		}
		parts = append(parts, aggregate.Part{Region: s.target.Region, ContentType: s.resp.ContentType, Body: s.resp.Body})
	}

	merged, err := aggregate.Images{Width: req.Width, Height: req.Height}.Merge(parts)
	if err != nil && !errors.Is(err, aggregate.ErrNoImage) {
		return nil, fmt.Errorf("merge map: %w", err)
	}
	for _, sk := range merged.Skipped {
		failed++
		observability.IncUpstreamFetch("decode")
		d.logFailure(ctx, sk.Region, sk.Err)
	}
	return &Result{
		Mode:        ModeMerge,
		ContentType: merged.ContentType,
		Body:        merged.Body,
		Regions:     len(regions),
		Failed:      failed,
	}, nil
}

// featureInfo returns the first response, in commune order, that describes
// a feature. Fetches still running at that point are cancelled. When none
// matches the last usable response is returned as is.
func (d *Dispatcher) featureInfo(ctx context.Context, req *wms.Request, regions model.RegionSet) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := d.fetchAll(ctx, d.targets(req, regions))

	var last *executor.Response
	failed := 0
	for _, s := range slots {
		<-s.done
		if s.err != nil {
			failed++
			d.logFailure(ctx, s.target.Region, s.err)
			continue
		}
		if aggregate.HasFeature(s.resp.ContentType, s.resp.Body) {
			cancel()
			return &Result{
				Mode:        ModeFirstMatch,
				ContentType: s.resp.ContentType,
				Body:        s.resp.Body,
				Regions:     len(regions),
				Failed:      failed,
			}, nil
		}
		last = s.resp
	}

	if last == nil {
		res, err := d.empty(req)
		if err != nil {
			return nil, err
		}
		res.Regions, res.Failed = len(regions), failed
		return res, nil
	}
	return &Result{
		Mode:        ModeLast,
		ContentType: last.ContentType,
		Body:        last.Body,
		Regions:     len(regions),
		Failed:      failed,
	}, nil
}

func (d *Dispatcher) logFailure(ctx context.Context, region string, err error) {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return
	}
	d.log.WarnContext(ctx, "upstream region skipped", "region", region, "err", err)
}

type slot struct {
	target ogc.Target
	resp   *executor.Response
	err    error
	done   chan struct{}
}

// fetchAll starts fetching every target on a bounded pool and returns at
// once. Each slot's done channel closes when its fetch finished or was
// abandoned because ctx ended.
func (d *Dispatcher) fetchAll(ctx context.Context, targets []ogc.Target) []*slot {
	slots := make([]*slot, len(targets))
	for i, t := range targets {
		slots[i] = &slot{target: t, done: make(chan struct{})}
	}

	jobs := make(chan *slot)
	for range min(d.workers, len(slots)) {
		go func() {
			for s := range jobs {
				if err := ctx.Err(); err != nil {
					s.err = err
				} else {
					s.resp, s.err = d.exec.Fetch(ctx, s.target)
				}
				close(s.done)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, s := range slots {
			select {
			case jobs <- s:
			case <-ctx.Done():
				for _, rest := range slots[i:] {
					rest.err = ctx.Err()
					close(rest.done)
				}
				return
			}
		}
	}()

	return slots
}
