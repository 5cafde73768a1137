package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testRoute(id string) Route {
	return Route{
		ID:            id,
		Origin:        "JFK",
		Destination:   "SFO",
		DepartureDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Currency:      "USD",
		Threshold:     decimal.NewFromInt(200),
		Recipient:     "alice@example.com",
	}
}

func TestRouteSetRejectsDuplicates(t *testing.T) {
	if _, err := NewRouteSet([]Route{testRoute("a"), testRoute("a")}); err == nil {
		t.Fatal("duplicate route ids should be rejected")
	}
	if _, err := NewRouteSet([]Route{testRoute("")}); err == nil {
		t.Fatal("empty route id should be rejected")
	}
}

func TestRouteSetSetThreshold(t *testing.T) {
	set, err := NewRouteSet([]Route{testRoute("a"), testRoute("b")})
	if err != nil {
		t.Fatalf("new route set: %v", err)
	}

	if err := set.SetThreshold("a", decimal.NewFromInt(150)); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	r, err := set.Get("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !r.Threshold.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("threshold = %s, want 150", r.Threshold)
	}

	if err := set.SetThreshold("missing", decimal.NewFromInt(1)); !errors.Is(err, ErrUnknownRoute) {
		t.Fatalf("expected ErrUnknownRoute, got %v", err)
	}
	if err := set.SetThreshold("a", decimal.Zero); !errors.Is(err, ErrInvalidThreshold) {
		t.Fatalf("expected ErrInvalidThreshold, got %v", err)
	}

	snap := set.Snapshot()
	if len(snap) != 2 || snap[0].ID != "a" || snap[1].ID != "b" {
		t.Fatalf("snapshot should keep configuration order: %#v", snap)
	}
}

func TestQuotePriceString(t *testing.T) {
	q := Quote{Price: decimal.RequireFromString("180.50"), Currency: "USD"}
	if got := q.PriceString(); got != "180.5 USD" {
		t.Fatalf("PriceString() = %q", got)
	}
}
