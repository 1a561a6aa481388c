package service

import (
	"fmt"
	"testing"

	"mep_go/internal/domain"
)

func TestRegistry_EnsureAndRemove(t *testing.T) {
	r := NewRegistry()

	conn := r.Ensure("t1")
	if conn == nil {
		t.Fatal("Ensure should create state")
	}
	if again := r.Ensure("t1"); again != conn {
		t.Error("Ensure should be idempotent per tenant")
	}

	push := &fakePush{}
	conn.SetPush(push)
	conn.CacheQuote(domain.Quote{Symbol: "AL30", Bid: level(1, 1), Ask: level(2, 1)})

	r.Remove("t1")
	if !push.closed {
		t.Error("Remove should close the push channel")
	}
	if _, ok := r.Lookup("t1"); ok {
		t.Error("Remove should drop the tenant")
	}

	// A late push into the old conn must not resurrect registry state.
	conn.CacheQuote(domain.Quote{Symbol: "GD30", Bid: level(1, 1), Ask: level(2, 1)})
	if _, ok := r.Lookup("t1"); ok {
		t.Error("Late writes must not re-register the tenant")
	}
}

func TestTenantConn_OrderHistoryBounded(t *testing.T) {
	conn := NewRegistry().Ensure("t1")

	for i := 0; i < 150; i++ {
		conn.RecordOrderUpdate(domain.OrderUpdate{ClientOrderID: fmt.Sprintf("o-%d", i)})
	}

	updates := conn.OrderUpdates()
	if len(updates) != 100 {
		t.Fatalf("Expected history capped at 100, got %d", len(updates))
	}
	if updates[0].ClientOrderID != "o-50" {
		t.Errorf("Oldest entries should be evicted first, got %s", updates[0].ClientOrderID)
	}
	if updates[99].ClientOrderID != "o-149" {
		t.Errorf("Newest entry should survive, got %s", updates[99].ClientOrderID)
	}
}

func TestTenantConn_QueueDropsWhenFull(t *testing.T) {
	conn := NewRegistry().Ensure("t1")

	for i := 0; i < quoteQueueCap+10; i++ {
		conn.Enqueue(domain.QuoteUpdate{
			Tenant: "t1",
			Quote:  domain.Quote{Symbol: fmt.Sprintf("S%d", i), Bid: level(1, 1), Ask: level(2, 1)},
		})
	}

	// Enqueue never blocks; the overflow was dropped.
	if applied := conn.Drain(); applied != quoteQueueCap {
		t.Errorf("Expected %d applied updates, got %d", quoteQueueCap, applied)
	}
	if _, ok := conn.CachedQuote("S0"); !ok {
		t.Error("First enqueued quote should have been applied")
	}
	if _, ok := conn.CachedQuote(fmt.Sprintf("S%d", quoteQueueCap+5)); ok {
		t.Error("Overflow quote should have been dropped")
	}
}

func TestTenantConn_DrainAppliesLastWriteWins(t *testing.T) {
	conn := NewRegistry().Ensure("t1")

	conn.Enqueue(domain.QuoteUpdate{Quote: domain.Quote{Symbol: "AL30", Bid: level(1, 1), Ask: level(2, 1)}})
	conn.Enqueue(domain.QuoteUpdate{Quote: domain.Quote{Symbol: "AL30", Bid: level(3, 1), Ask: level(4, 1)}})

	conn.Drain()
	q, ok := conn.CachedQuote("al30")
	if !ok {
		t.Fatal("Quote should be cached, lookup case-insensitive")
	}
	if !q.Bid.Price.Equal(dec(3)) {
		t.Errorf("Last write should win, got bid %s", q.Bid.Price)
	}
}

func TestTenantConn_Subscriptions(t *testing.T) {
	conn := NewRegistry().Ensure("t1")

	fresh := conn.AddSubs([]string{"A", "B"})
	if len(fresh) != 2 {
		t.Fatalf("Expected 2 fresh subs, got %d", len(fresh))
	}
	fresh = conn.AddSubs([]string{"B", "C"})
	if len(fresh) != 1 || fresh[0] != "C" {
		t.Errorf("Only C should be fresh, got %v", fresh)
	}
	if subs := conn.Subs(); len(subs) != 3 {
		t.Errorf("Expected 3 subscriptions, got %v", subs)
	}
}

func TestTenantConn_DroppedFlag(t *testing.T) {
	conn := NewRegistry().Ensure("t1")
	conn.SetPush(&fakePush{})

	if conn.Dropped() {
		t.Fatal("Fresh channel should not be dropped")
	}
	conn.MarkDropped()
	if !conn.Dropped() {
		t.Fatal("MarkDropped should set the flag")
	}
	if _, initialized := conn.Push(); initialized {
		t.Error("A dropped channel is no longer initialized")
	}

	conn.SetPush(&fakePush{})
	if conn.Dropped() {
		t.Error("Installing a new channel should clear the flag")
	}
}
