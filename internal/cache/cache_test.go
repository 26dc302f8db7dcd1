package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
)

func TestKey_String(t *testing.T) {
	page := funnel.PageRef{FunnelID: "f1", PageID: "p1"}

	tests := []struct {
		key  Key
		want string
	}{
		{PageDetail(page), "page-detail:f1:p1"},
		{FunnelDetail("f1"), "funnel-detail:f1"},
	}

	for _, tt := range tests {
		if got := tt.key.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		parsed, err := ParseKey(tt.want)
		if err != nil {
			t.Fatalf("ParseKey(%q) error = %v", tt.want, err)
		}
		if parsed != tt.key {
			t.Errorf("ParseKey(%q) = %+v, want %+v", tt.want, parsed, tt.key)
		}
	}

	for _, bad := range []string{"", "page-detail:f1", "other:f1", "funnel-detail:f1:p1"} {
		if _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) expected error", bad)
		}
	}
}

func TestBus_Invalidate(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var order []string
	unsubA := bus.Subscribe(func(_ context.Context, keys []Key) {
		order = append(order, "a:"+keys[0].String())
	})
	bus.Subscribe(func(_ context.Context, keys []Key) {
		order = append(order, "b:"+keys[0].String())
	})

	if err := bus.Invalidate(ctx, FunnelDetail("f1")); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if len(order) != 2 || order[0] != "a:funnel-detail:f1" || order[1] != "b:funnel-detail:f1" {
		t.Fatalf("deliveries = %v", order)
	}

	unsubA()
	order = nil
	bus.Invalidate(ctx, FunnelDetail("f2"))
	if len(order) != 1 || order[0] != "b:funnel-detail:f2" {
		t.Errorf("deliveries after unsubscribe = %v", order)
	}

	order = nil
	bus.Invalidate(ctx)
	if len(order) != 0 {
		t.Errorf("empty invalidation delivered: %v", order)
	}

	bus.Close()
	bus.Invalidate(ctx, FunnelDetail("f3"))
	if len(order) != 0 {
		t.Errorf("delivery after Close: %v", order)
	}
}

func TestNewRedisPublisher_Errors(t *testing.T) {
	if _, err := NewRedisPublisher(context.Background(), "", "", nil); err == nil {
		t.Error("expected error for empty address")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisPublisher(ctx, "127.0.0.1:1", "", nil); err == nil {
		t.Error("expected ping error for unreachable redis")
	}
}

func TestDecodeMessage(t *testing.T) {
	keys, err := decodeMessage(`{"keys":["page-detail:f:p","funnel-detail:f"]}`)
	if err != nil {
		t.Fatalf("decodeMessage() error = %v", err)
	}
	if len(keys) != 2 || keys[0].PageID != "p" || keys[1].Kind != KindFunnelDetail {
		t.Errorf("decodeMessage() = %+v", keys)
	}

	if _, err := decodeMessage(`{"keys":["nope"]}`); err == nil {
		t.Error("expected error for invalid key")
	}
	if _, err := decodeMessage(`not json`); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

// Runs only against a live server: REDIS_ADDR=localhost:6379 go test ./internal/cache
func TestRedisPublisher_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, err := NewRedisPublisher(ctx, addr, "draftkit:test", nil)
	if err != nil {
		t.Fatalf("NewRedisPublisher() error = %v", err)
	}
	defer pub.Close()

	got := make(chan []Key, 1)
	if err := pub.Listen(ctx, func(_ context.Context, keys []Key) { got <- keys }); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	page := funnel.PageRef{FunnelID: "f1", PageID: "p1"}
	if err := pub.Invalidate(ctx, PageDetail(page), FunnelDetail("f1")); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	select {
	case keys := <-got:
		if len(keys) != 2 || keys[0] != PageDetail(page) {
			t.Errorf("received %+v", keys)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for invalidation")
	}
}
