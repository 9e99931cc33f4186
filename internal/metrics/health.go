package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gftdcojp/storage-tiers/internal/config"
	"github.com/gftdcojp/storage-tiers/pkg/s3util"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

// HealthStatus represents the overall health state.
type HealthStatus struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks,omitempty"`
}

// Check represents an individual health check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Pinger is anything whose liveness can be probed, such as the config store.
type Pinger interface {
	Ping() error
}

// HealthChecker runs health probes.
type HealthChecker struct {
	natsConn *nats.Conn
	meta     Pinger
	clouds   []*s3util.Client
}

// NewHealthChecker creates a new health checker. Every cloud pool client is
// probed on readiness.
func NewHealthChecker(nc *nats.Conn, metaStore Pinger, clouds []*s3util.Client) *HealthChecker {
	return &HealthChecker{
		natsConn: nc,
		meta:     metaStore,
		clouds:   clouds,
	}
}

// Liveness checks if the process is alive.
func (h *HealthChecker) Liveness() HealthStatus {
	return HealthStatus{OK: true}
}

// Readiness checks if the service can handle requests.
func (h *HealthChecker) Readiness() HealthStatus {
	status := HealthStatus{OK: true}

	// Check NATS connection
	if h.natsConn != nil && !h.natsConn.IsConnected() {
		status.OK = false
		status.Checks = append(status.Checks, Check{
			Name: "nats", Status: "disconnected",
		})
	} else if h.natsConn != nil {
		status.Checks = append(status.Checks, Check{
			Name: "nats", Status: "connected",
		})
	}

	// Check config store
	if h.meta != nil {
		if err := h.meta.Ping(); err != nil {
			status.OK = false
			status.Checks = append(status.Checks, Check{
				Name: "metadata", Status: "error", Error: err.Error(),
			})
		} else {
			status.Checks = append(status.Checks, Check{
				Name: "metadata", Status: "ok",
			})
		}
	}

	// Cloud pool endpoints, probed concurrently
	if len(h.clouds) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		checks := make([]Check, len(h.clouds))
		var mu sync.Mutex
		var g errgroup.Group
		for i, c := range h.clouds {
			g.Go(func() error {
				check := Check{Name: "cloud_pool:" + c.Pool, Status: "ok"}
				if err := c.Ping(ctx); err != nil {
					check.Status = "error"
					check.Error = err.Error()
					mu.Lock()
					status.OK = false
					mu.Unlock()
				}
				checks[i] = check
				return nil
			})
		}
		g.Wait()
		status.Checks = append(status.Checks, checks...)
	}

	return status
}

// Handler serves the liveness and readiness probes.
func (h *HealthChecker) Handler(cfg config.HealthConfig) http.Handler {
	livenessPath := cfg.LivenessPath
	if livenessPath == "" {
		livenessPath = "/healthz"
	}
	readinessPath := cfg.ReadinessPath
	if readinessPath == "" {
		readinessPath = "/readyz"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(livenessPath, func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, h.Liveness())
	})
	mux.HandleFunc(readinessPath, func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, h.Readiness())
	})
	return mux
}

func writeStatus(w http.ResponseWriter, status HealthStatus) {
	code := http.StatusOK
	if !status.OK {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// RunHealthServer starts the health check HTTP server.
func RunHealthServer(ctx context.Context, cfg config.HealthConfig, checker *HealthChecker) error {
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: checker.Handler(cfg),
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
