package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/bchartier/cadastre.gouv/internal/boundary/boundarytest"
	"github.com/bchartier/cadastre.gouv/internal/cache/regioncache"
	"github.com/bchartier/cadastre.gouv/internal/core/model"
	"github.com/bchartier/cadastre.gouv/internal/hotness/expdecay"
	"github.com/bchartier/cadastre.gouv/internal/invalidation"
)

type fakeCache struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	seen      [][]string
}

func (f *fakeCache) InvalidateRegions(_ context.Context, regions ...string) (int, error) {
	f.mu.Lock()
	f.seen = append(f.seen, regions)
	f.mu.Unlock()
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return 0, errors.New("boom")
	}
	return len(regions), nil
}

type fakeHot struct {
	reset [][]string
	mu    sync.Mutex
}

func (f *fakeHot) Reset(regions ...string) {
	f.mu.Lock()
	f.reset = append(f.reset, regions)
	f.mu.Unlock()
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "cadastre-boundaries" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(ev invalidation.Event) []byte {
	if ev.Version == 0 {
		ev.Version = 1
	}
	if ev.Op == "" {
		ev.Op = "update"
	}
	if ev.Layer == "" {
		ev.Layer = "communes"
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	b, _ := json.Marshal(ev)
	return b
}

func eventBytesRegions(regions ...string) []byte {
	return eventBytes(invalidation.Event{Regions: regions})
}

func index() *boundarytest.Index {
	return boundarytest.New(
		boundarytest.Region{Code: "75056", Box: model.BBox{XMin: 0, YMin: 0, XMax: 100, YMax: 100}},
		boundarytest.Region{Code: "92012", Box: model.BBox{XMin: 100, YMin: 0, XMax: 200, YMax: 100}},
	)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newConsumerForTest(fc RegionInvalidator, hm HotnessResetter) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "cadastre-boundaries", GroupID: "g"}
	return New(cfg, discard(), nil, fc, index(), hm)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fc := &fakeCache{}
	hm := &fakeHot{}
	c := newConsumerForTest(fc, hm)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	cl := &claim{part: 0, msgs: ch}

	ch <- &sarama.ConsumerMessage{Topic: "cadastre-boundaries", Partition: 0, Offset: 10, Value: eventBytesRegions("75056")}
	ch <- &sarama.ConsumerMessage{Topic: "cadastre-boundaries", Partition: 0, Offset: 11, Value: eventBytesRegions("92012")}
	close(ch)

	if err := g.ConsumeClaim(s, cl); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if len(fc.seen) != 2 || fc.seen[0][0] != "75056" || fc.seen[1][0] != "92012" {
		t.Fatalf("invalidated=%v", fc.seen)
	}
	if len(hm.reset) != 2 {
		t.Fatalf("expected hotness Reset per event, got %v", hm.reset)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fc := &fakeCache{}
	fc.failFirst.Store(true)
	c := newConsumerForTest(fc, &fakeHot{})
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "cadastre-boundaries", Partition: 0, Offset: 5, Value: eventBytesRegions("75056")}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestMalformedEventsAreAcknowledged(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc, nil)
	for _, v := range [][]byte{[]byte("{not json"), eventBytes(invalidation.Event{Version: 9, Regions: []string{"1"}})} {
		if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: v}); err != nil {
			t.Fatalf("malformed event should not block the partition: %v", err)
		}
	}
	if len(fc.seen) != 0 {
		t.Fatalf("nothing should be invalidated: %v", fc.seen)
	}
}

func TestBBoxEventResolvesThroughIndex(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc, nil)
	v := eventBytes(invalidation.Event{BBox: &invalidation.BBox{XMin: 150, YMin: 10, XMax: 160, YMax: 20}})
	if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: v}); err != nil {
		t.Fatal(err)
	}
	if len(fc.seen) != 1 || len(fc.seen[0]) != 1 || fc.seen[0][0] != "92012" {
		t.Fatalf("invalidated=%v", fc.seen)
	}
}

func TestRevisionDedupe(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc, nil)
	ctx := context.Background()
	send := func(rev uint64) {
		v := eventBytes(invalidation.Event{Revision: rev, Regions: []string{"75056"}})
		if err := c.ProcessOne(ctx, &sarama.ConsumerMessage{Value: v}); err != nil {
			t.Fatal(err)
		}
	}
	send(3)
	send(3)
	send(2)
	send(4)
	if len(fc.seen) != 2 {
		t.Fatalf("applied %d events, want 2 (rev 3 then 4): %v", len(fc.seen), fc.seen)
	}
}

func TestInvalidatesRealCacheAndHotness(t *testing.T) {
	mem, err := regioncache.NewMemory(16)
	if err != nil {
		t.Fatal(err)
	}
	hot := expdecay.New(time.Hour)
	ctx := context.Background()
	mem.Put(ctx, "a", model.RegionSet{"75056", "92012"}, time.Hour)
	mem.Put(ctx, "b", model.RegionSet{"93001"}, time.Hour)
	hot.Inc("75056")

	c := newConsumerForTest(mem, hot)
	if err := c.ProcessOne(ctx, &sarama.ConsumerMessage{Value: eventBytesRegions("75056")}); err != nil {
		t.Fatal(err)
	}
	if _, ok := mem.Get(ctx, "a"); ok {
		t.Fatalf("lookup touching 75056 survived")
	}
	if _, ok := mem.Get(ctx, "b"); !ok {
		t.Fatalf("unrelated lookup was dropped")
	}
	if hot.Score("75056") != 0 {
		t.Fatalf("hotness not reset")
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	c := newConsumerForTest(&fakeCache{}, &fakeHot{})
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: eventBytesRegions("75056")}
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 2, Value: eventBytesRegions("75056")}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 1, Value: eventBytesRegions("92012")}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 2, Value: eventBytesRegions("92012")}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestFailedRevisionIsRetried(t *testing.T) {
	fc := &fakeCache{}
	fc.failFirst.Store(true)
	c := newConsumerForTest(fc, nil)
	ctx := context.Background()
	msg := &sarama.ConsumerMessage{Value: eventBytes(invalidation.Event{Revision: 5, Regions: []string{"75056"}})}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatal("expected cache error")
	}
	if err := c.ProcessOne(ctx, msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(fc.seen) != 2 {
		t.Fatalf("redelivered revision was not applied: %v", fc.seen)
	}
}
