package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gftdcojp/storage-tiers/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Capacity reports. Values are converted from exact sizes and may lose
	// precision above 2^53 bytes; the API keeps the exact figures.
	TierCapacityBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tiers_tier_capacity_bytes",
		Help: "Last reported tier capacity per metric (used, total, free, real, ...)",
	}, []string{"system", "tier", "metric"})

	PolicyCapacityBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tiers_policy_capacity_bytes",
		Help: "Last reported tiering policy capacity per metric",
	}, []string{"system", "policy", "metric"})

	ReportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tiers_report_duration_seconds",
		Help:    "Time to build a capacity report, stats fetch included",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"kind"})

	PlacementDefects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiers_placement_defects_total",
		Help: "Capacity reports computed for a tier with an unrecognized data placement",
	}, []string{"system", "tier"})

	// Admin operations
	AdminOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiers_admin_ops_total",
		Help: "Administrative operations by outcome code",
	}, []string{"op", "code"})

	// Live pool stats
	StatsReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiers_stats_reports_total",
		Help: "Node storage reports received from agents",
	}, []string{"status"})

	StatsNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tiers_stats_nodes",
		Help: "Nodes with a report younger than the stats ttl",
	})

	// NATS connection
	NATSConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tiers_nats_connected",
		Help: "1 while the daemon holds a live NATS connection",
	})

	NATSConnectionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiers_nats_connection_events_total",
		Help: "NATS disconnects, reconnects and async errors",
	}, []string{"event"})

	// Activity
	ActivityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiers_activity_events_total",
		Help: "Audit events dispatched",
	}, []string{"event", "status"})
)

// RunServer starts the Prometheus metrics HTTP server.
func RunServer(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
