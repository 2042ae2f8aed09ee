package redisstore

import (
	"context"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestSetIndexedGetMembersDel(t *testing.T) {
	rc, _ := newMini(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.SetIndexed(ctx, "k1", []byte(`["75056"]`), time.Minute, "idx:75056"); err != nil {
		t.Fatalf("SetIndexed: %v", err)
	}
	if err := rc.SetIndexed(ctx, "k2", []byte(`["75056","92012"]`), time.Minute, "idx:75056", "idx:92012"); err != nil {
		t.Fatalf("SetIndexed: %v", err)
	}

	v, ok, err := rc.Get(ctx, "k2")
	if err != nil || !ok || string(v) != `["75056","92012"]` {
		t.Fatalf("Get: v=%s ok=%v err=%v", v, ok, err)
	}
	if _, ok, err := rc.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}

	members, err := rc.Members(ctx, "idx:75056")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	sort.Strings(members)
	if len(members) != 2 || members[0] != "k1" || members[1] != "k2" {
		t.Fatalf("members=%v", members)
	}

	n, err := rc.Del(ctx, "k1", "k2", "nope")
	if err != nil || n != 2 {
		t.Fatalf("Del n=%d err=%v", n, err)
	}
	if n, err := rc.Del(ctx); n != 0 || err != nil {
		t.Fatalf("empty Del n=%d err=%v", n, err)
	}
}

func TestTTLAppliesToIndexes(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	if err := rc.SetIndexed(ctx, "ttl-key", []byte("v"), 2*time.Second, "ttl-idx"); err != nil {
		t.Fatalf("SetIndexed: %v", err)
	}
	mr.FastForward(3 * time.Second)

	if _, ok, _ := rc.Get(ctx, "ttl-key"); ok {
		t.Fatalf("value should have expired")
	}
	if mr.Exists("ttl-idx") {
		t.Fatalf("index should have expired")
	}
}

func TestIndexOutlivesItsLongestMember(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	if err := rc.SetIndexed(ctx, "hot", []byte("v"), time.Hour, "idx"); err != nil {
		t.Fatalf("SetIndexed hot: %v", err)
	}
	if err := rc.SetIndexed(ctx, "cold", []byte("v"), 10*time.Minute, "idx"); err != nil {
		t.Fatalf("SetIndexed cold: %v", err)
	}
	if ttl := mr.TTL("idx"); ttl != time.Hour {
		t.Fatalf("index ttl=%v, shorter member must not shrink it", ttl)
	}
	mr.FastForward(11 * time.Minute)

	members, err := rc.Members(ctx, "idx")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	found := false
	for _, m := range members {
		if m == "hot" {
			found = true
		}
	}
	if !found {
		t.Fatalf("index lost the live key: members=%v", members)
	}

	if err := rc.SetIndexed(ctx, "longer", []byte("v"), 2*time.Hour, "idx"); err != nil {
		t.Fatalf("SetIndexed longer: %v", err)
	}
	if ttl := mr.TTL("idx"); ttl != 2*time.Hour {
		t.Fatalf("index ttl=%v, want extended to 2h", ttl)
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.SetIndexed(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected error on SetIndexed with canceled context")
	}
	if _, _, err := rc.Get(ctx, "k"); err == nil {
		t.Fatalf("expected error on Get with canceled context")
	}
	if _, err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
}

func TestNewRejectsEmptyAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatalf("expected error")
	}
}
