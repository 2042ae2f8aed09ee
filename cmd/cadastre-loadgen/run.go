package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"
)

type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Request   string
	Status    int
	ErrorMsg  string
	BoxIndex  int
	BBox      string
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	RedirectCount int64     `json:"redirects"`
	ErrorCount    int64     `json:"errors"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	ZipfS         float64   `json:"zipf_s"`
	ZipfV         float64   `json:"zipf_v"`
	BBoxes        int       `json:"bboxes"`
	TargetURL     string    `json:"target"`
	Layers        string    `json:"layers"`
}

// newClient does not follow redirects: a 302 to a single commune service
// is a complete answer from the proxy.
func newClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1024,
			MaxIdleConnsPerHost:   256,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   4 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func requestURL(base *url.URL, layers string, b bbox, info bool) string {
	u := *base
	q := url.Values{}
	q.Set("SERVICE", "WMS")
	q.Set("VERSION", "1.3.0")
	q.Set("LAYERS", layers)
	q.Set("STYLES", "")
	q.Set("CRS", "EPSG:2154")
	q.Set("BBOX", b.String())
	q.Set("WIDTH", "1024")
	q.Set("HEIGHT", "512")
	q.Set("FORMAT", "image/png")
	if info {
		q.Set("REQUEST", "GetFeatureInfo")
		q.Set("QUERY_LAYERS", layers)
		q.Set("INFO_FORMAT", "text/html")
		q.Set("I", "512")
		q.Set("J", "256")
	} else {
		q.Set("REQUEST", "GetMap")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// run drives cfg.Concurrency workers until ctx ends, writing one CSV row
// per request to csvOut.
func run(ctx context.Context, cfg Config, boxes []bbox, client *http.Client, seed int64, csvOut io.Writer) (summary, error) {
	base, err := url.Parse(cfg.TargetURL)
	if err != nil {
		return summary{}, fmt.Errorf("target: %w", err)
	}
	if len(boxes) == 0 {
		return summary{}, fmt.Errorf("no bboxes")
	}
	conc := max(cfg.Concurrency, 1)
	imax := uint64(len(boxes)) - 1

	samples := make(chan sample, 4096)
	type agg struct {
		total, success, redirects, errors int64
		latMs                             []float64
	}
	results := make(chan agg, 1)
	go func() {
		w := csv.NewWriter(csvOut)
		_ = w.Write([]string{"timestamp", "latency_ms", "request", "status", "error", "bbox_idx", "bbox"})
		var a agg
		for s := range samples {
			a.total++
			switch {
			case s.ErrorMsg != "":
				a.errors++
			case s.Status == http.StatusFound:
				a.redirects++
				a.success++
				a.latMs = append(a.latMs, float64(s.Latency.Microseconds())/1000.0)
			default:
				a.success++
				a.latMs = append(a.latMs, float64(s.Latency.Microseconds())/1000.0)
			}
			_ = w.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				fmt.Sprintf("%.3f", float64(s.Latency.Microseconds())/1000.0),
				s.Request,
				fmt.Sprintf("%d", s.Status),
				s.ErrorMsg,
				fmt.Sprintf("%d", s.BoxIndex),
				s.BBox,
			})
		}
		w.Flush()
		results <- a
	}()

	start := time.Now()
	var wg sync.WaitGroup
	for id := range conc {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed + int64(id) + 1))
			zipf := rand.NewZipf(r, cfg.ZipfS, cfg.ZipfV, imax)
			for ctx.Err() == nil {
				idx := int(zipf.Uint64())
				info := r.Float64() < cfg.InfoRatio
				s := fire(ctx, client, requestURL(base, cfg.Layers, boxes[idx], info))
				if ctx.Err() != nil && s.ErrorMsg != "" {
					return
				}
				s.BoxIndex, s.BBox = idx, boxes[idx].String()
				select {
				case samples <- s:
				case <-ctx.Done():
					return
				}
			}
		}(id)
	}
	wg.Wait()
	close(samples)

	a := <-results
	end := time.Now()
	elapsed := end.Sub(start).Seconds()
	sort.Float64s(a.latMs)
	return summary{
		StartTime:     start.UTC(),
		EndTime:       end.UTC(),
		DurationSec:   elapsed,
		TotalRequests: a.total,
		SuccessCount:  a.success,
		RedirectCount: a.redirects,
		ErrorCount:    a.errors,
		ThroughputRPS: float64(a.total) / elapsed,
		P50Ms:         percentile(a.latMs, 50),
		P95Ms:         percentile(a.latMs, 95),
		P99Ms:         percentile(a.latMs, 99),
		Concurrency:   conc,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		BBoxes:        len(boxes),
		TargetURL:     cfg.TargetURL,
		Layers:        cfg.Layers,
	}, nil
}

func fire(ctx context.Context, client *http.Client, target string) sample {
	s := sample{Timestamp: time.Now(), Request: "GetMap"}
	if u, err := url.Parse(target); err == nil {
		s.Request = u.Query().Get("REQUEST")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	resp, err := client.Do(req)
	s.Latency = time.Since(s.Timestamp)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	s.Status = resp.StatusCode
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusFound && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		s.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
	}
	return s
}

// percentile interpolates linearly between the closest ranks of a sorted
// slice. Empty input yields NaN.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	k := (p / 100.0) * float64(len(sorted)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	d := k - f
	return sorted[i]*(1-d) + sorted[i+1]*d
}
