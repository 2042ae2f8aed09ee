// Package executor fetches upstream WMS responses for single communes.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bchartier/cadastre.gouv/internal/core/observability"
	"github.com/bchartier/cadastre.gouv/internal/core/ogc"
)

// MaxBodyBytes caps one upstream body.
const MaxBodyBytes = 32 << 20

// StatusError reports an upstream status outside 2xx other than 503.
type StatusError struct {
	Region string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s status %d: %s", e.Region, e.Status, e.Body)
}

var ErrBodyTooLarge = errors.New("upstream body too large")

type Response struct {
	Region      string
	Status      int
	ContentType string
	Body        []byte
}

type Interface interface {
	Fetch(ctx context.Context, t ogc.Target) (*Response, error)
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	timeout  time.Duration
	startNow func() time.Time // for tests
}

// New returns an executor. timeout applies to each fetch on top of the
// caller's context; zero leaves only the context.
func New(logger *slog.Logger, client *http.Client, timeout time.Duration) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{
		logger:   logger,
		client:   client,
		timeout:  timeout,
		startNow: time.Now,
	}
}

// Fetch performs one GET against t. A 503 is handed back like a success:
// the upstream answers 503 with a usable body for some empty communes.
func (e *Executor) Fetch(ctx context.Context, t ogc.Target) (*Response, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		observability.IncUpstreamFetch("error")
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := e.startNow()
	resp, err := e.client.Do(req)
	if err != nil {
		observability.IncUpstreamFetch("error")
		return nil, fmt.Errorf("fetch %s: %w", t.Region, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusServiceUnavailable && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		observability.IncUpstreamFetch("status")
		return nil, &StatusError{Region: t.Region, Status: resp.StatusCode, Body: string(b)}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		observability.IncUpstreamFetch("error")
		return nil, fmt.Errorf("read %s body: %w", t.Region, err)
	}
	if len(b) > MaxBodyBytes {
		observability.IncUpstreamFetch("error")
		return nil, fmt.Errorf("%s: %w", t.Region, ErrBodyTooLarge)
	}

	dur := time.Since(start)
	observability.ObserveUpstreamLatency("cadastre", dur.Seconds())
	observability.IncUpstreamFetch("ok")
	e.logger.DebugContext(ctx, "upstream fetched",
		"region", t.Region,
		"status", resp.StatusCode,
		"bytes", len(b),
		"duration", dur.String())

	return &Response{
		Region:      t.Region,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        b,
	}, nil
}
