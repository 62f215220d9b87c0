// Package metrics exposes prometheus counters for the trade, merge, recycle
// and drop services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// tradeTransitions counts trade sessions entering each state.
	// Labels: status
	tradeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckforge",
		Subsystem: "trade",
		Name:      "transitions_total",
		Help:      "Trade sessions entering each state",
	}, []string{"status"})

	// cardsMoved counts instances reassigned by completed trades.
	cardsMoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deckforge",
		Subsystem: "trade",
		Name:      "cards_moved_total",
		Help:      "Card instances moved by completed trades",
	})

	// merges counts successful merges by rarity and resulting level.
	merges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckforge",
		Subsystem: "merge",
		Name:      "completed_total",
		Help:      "Completed merges",
	}, []string{"rarity", "level"})

	// recycled counts recycled instances by rarity.
	recycled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckforge",
		Subsystem: "recycle",
		Name:      "cards_total",
		Help:      "Recycled card instances",
	}, []string{"rarity"})

	// packsOpened counts opened packs by type.
	packsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckforge",
		Subsystem: "drop",
		Name:      "packs_opened_total",
		Help:      "Opened card packs",
	}, []string{"pack_type"})

	// cardsDropped counts cards produced by packs by rarity.
	cardsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckforge",
		Subsystem: "drop",
		Name:      "cards_total",
		Help:      "Card instances produced by opened packs",
	}, []string{"rarity"})

	// opErrors counts failed operations by error kind.
	// Labels: op (trade.request, trade.finalize, merge, ...), kind
	opErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckforge",
		Name:      "operation_errors_total",
		Help:      "Failed operations by error kind",
	}, []string{"op", "kind"})

	// panics counts handler panics caught by the recovery middleware.
	// Labels: route
	panics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckforge",
		Subsystem: "http",
		Name:      "panics_total",
		Help:      "Recovered handler panics",
	}, []string{"route"})

	// opLatency measures operation latency.
	opLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "deckforge",
		Name:      "operation_seconds",
		Help:      "Operation latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"op"})
)

// TradeTransition records a trade entering status.
func TradeTransition(status string) {
	tradeTransitions.WithLabelValues(status).Inc()
}

// CardsMoved records instances moved by a trade.
func CardsMoved(n int) {
	cardsMoved.Add(float64(n))
}

// MergeCompleted records a merge reaching level.
func MergeCompleted(rarity string, level int) {
	merges.WithLabelValues(rarity, strconv.Itoa(level)).Inc()
}

// Recycled records n recycled instances.
func Recycled(rarity string, n int) {
	recycled.WithLabelValues(rarity).Add(float64(n))
}

// PacksOpened records n opened packs of a type.
func PacksOpened(packType string, n int) {
	packsOpened.WithLabelValues(packType).Add(float64(n))
}

// CardDropped records one card produced by a pack.
func CardDropped(rarity string) {
	cardsDropped.WithLabelValues(rarity).Inc()
}

// Panicked counts a recovered panic on route.
func Panicked(route string) {
	panics.WithLabelValues(route).Inc()
}

// Observe records the latency of op and, when err is non-nil, its kind.
// Use as: defer metrics.Observe("merge", time.Now(), &err)
func Observe(op string, start time.Time, err *error) {
	opLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil && *err != nil {
		kind := gameerr.Kind(*err)
		if kind == "" {
			kind = "Internal"
		}
		opErrors.WithLabelValues(op, kind).Inc()
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
