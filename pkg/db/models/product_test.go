package models

import (
	"testing"
	"time"
)

func TestProductAvailableQty(t *testing.T) {
	product := Product{StockQty: 10, ReservedQty: 4, AllocatedQty: 3}
	if got := product.AvailableQty(); got != 3 {
		t.Fatalf("expected available 3, got %d", got)
	}

	// over-committed counters floor at zero rather than going negative
	product = Product{StockQty: 5, ReservedQty: 4, AllocatedQty: 3}
	if got := product.AvailableQty(); got != 0 {
		t.Fatalf("expected available 0, got %d", got)
	}
}

func TestProductCanReserve(t *testing.T) {
	tracked := Product{StockQty: 10, ReservedQty: 6, TrackInventory: true}
	if !tracked.CanReserve(4) {
		t.Fatal("expected reserve of exactly available to pass")
	}
	if tracked.CanReserve(5) {
		t.Fatal("expected reserve beyond available to fail")
	}

	untracked := Product{StockQty: 0, TrackInventory: false}
	if !untracked.CanReserve(1000) {
		t.Fatal("untracked products accept any quantity")
	}
}

func TestProductIsLowStock(t *testing.T) {
	product := Product{StockQty: 10, ReservedQty: 5, TrackInventory: true, LowStockThreshold: 5}
	if !product.IsLowStock() {
		t.Fatal("available at threshold must flag low stock")
	}
	product.ReservedQty = 4
	if product.IsLowStock() {
		t.Fatal("available above threshold must not flag")
	}
	product.TrackInventory = false
	product.ReservedQty = 10
	if product.IsLowStock() {
		t.Fatal("untracked products never flag low stock")
	}
}

func TestReservationIsExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	open := StockReservation{}
	if open.IsExpired(now) {
		t.Fatal("reservation without expiry never expires")
	}

	past := now.Add(-time.Second)
	expired := StockReservation{ExpiresAt: &past}
	if !expired.IsExpired(now) {
		t.Fatal("past expiry must report expired")
	}

	exact := StockReservation{ExpiresAt: &now}
	if exact.IsExpired(now) {
		t.Fatal("expiry instant itself is not yet expired")
	}
}
