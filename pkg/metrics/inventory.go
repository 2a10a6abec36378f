package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// InventoryMetrics counts reservation outcomes and sweeper releases. All
// methods are safe on a nil receiver so services can run without a registry.
type InventoryMetrics struct {
	reserveOutcomes *prometheus.CounterVec
	sweptTotal      prometheus.Counter
}

// NewInventoryMetrics registers the inventory counters on the provided registerer.
func NewInventoryMetrics(reg prometheus.Registerer) *InventoryMetrics {
	if reg == nil {
		return &InventoryMetrics{}
	}
	reserveOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reserve_total",
		Help: "Reservation attempts by outcome.",
	}, []string{"outcome"})
	sweptTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_swept_reservations_total",
		Help: "Expired reservations released by the sweeper.",
	})
	reg.MustRegister(reserveOutcomes, sweptTotal)
	return &InventoryMetrics{
		reserveOutcomes: reserveOutcomes,
		sweptTotal:      sweptTotal,
	}
}

// IncReserveOutcome increments the reserve counter for the given outcome label.
func (m *InventoryMetrics) IncReserveOutcome(outcome string) {
	if m == nil || m.reserveOutcomes == nil {
		return
	}
	m.reserveOutcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// AddSweptReservations adds to the count of holds released by sweeps.
func (m *InventoryMetrics) AddSweptReservations(n int) {
	if m == nil || m.sweptTotal == nil || n <= 0 {
		return
	}
	m.sweptTotal.Add(float64(n))
}
