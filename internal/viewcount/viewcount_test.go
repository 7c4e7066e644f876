package viewcount

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCounter(t *testing.T) *Counter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCounter(client)
}

func TestBumpAndDrain(t *testing.T) {
	counter := newTestCounter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := counter.Bump(ctx, "sale-1"); err != nil {
			t.Fatalf("bump sale-1: %v", err)
		}
	}
	if err := counter.Bump(ctx, "sale-2"); err != nil {
		t.Fatalf("bump sale-2: %v", err)
	}

	counts, err := counter.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if counts["sale-1"] != 3 || counts["sale-2"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestDrainClearsCounters(t *testing.T) {
	counter := newTestCounter(t)
	ctx := context.Background()

	if err := counter.Bump(ctx, "sale-1"); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if _, err := counter.Drain(ctx); err != nil {
		t.Fatalf("first drain: %v", err)
	}
	counts, err := counter.Drain(ctx)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(counts) != 0 {
		t.Fatalf("expected empty second drain, got %v", counts)
	}
}

func TestBumpIgnoresBlankSaleID(t *testing.T) {
	counter := newTestCounter(t)
	if err := counter.Bump(context.Background(), "  "); err != nil {
		t.Fatalf("bump blank: %v", err)
	}
	counts, err := counter.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(counts) != 0 {
		t.Fatalf("expected no counters, got %v", counts)
	}
}
