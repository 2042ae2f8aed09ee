package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bchartier/cadastre.gouv/internal/core/health"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func testRouter(readyErr error) http.Handler {
	wms := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "wms:"+r.URL.Path)
	})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "metrics")
	})
	return NewRouter(discard(), Routes{
		WMS:         wms,
		Metrics:     metrics,
		MetricsPath: "/metrics",
		Ready:       []health.Check{{Name: "boundary", Pinger: pinger{err: readyErr}}},
	})
}

func TestRoutes(t *testing.T) {
	h := testRouter(nil)
	cases := []struct{ path, want string }{
		{"/", "wms:/"},
		{"/scpc/wms", "wms:/scpc/wms"},
		{"/metrics", "metrics"},
		{"/healthz", "ok"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rr.Code != http.StatusOK || rr.Body.String() != tc.want {
			t.Fatalf("%s: code=%d body=%q", tc.path, rr.Code, rr.Body.String())
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s: missing request id", tc.path)
		}
	}
}

func TestReadyzReflectsIndex(t *testing.T) {
	rr := httptest.NewRecorder()
	testRouter(errors.New("index closed")).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("code=%d", rr.Code)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", false)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, ln, discard(), testRouter(nil)) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server not reachable: %v", err)
	}
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
