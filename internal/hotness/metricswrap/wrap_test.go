package metricswrap

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bchartier/cadastre.gouv/internal/hotness/expdecay"
)

func Test_HotnessGauge_Updates(t *testing.T) {
	g := NewGauge()
	w := New(expdecay.New(30*time.Second), 0, g, nil)

	w.Inc("75056")
	w.Inc("92012")
	w.Reset("75056")

	if got := testutil.ToFloat64(g); got != 1 {
		t.Fatalf("tracked regions gauge=%v want 1", got)
	}
}

func Test_HotThresholdLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	w := New(expdecay.New(time.Hour), 3, nil, log)

	for range 5 {
		w.Inc("75056")
	}
	if n := strings.Count(buf.String(), "commune became hot"); n != 1 {
		t.Fatalf("hot log lines=%d want 1:\n%s", n, buf.String())
	}
	if !w.Hot("75056") || w.Hot("92012") {
		t.Fatalf("Hot() mismatch")
	}
}
