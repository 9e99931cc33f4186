package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gftdcojp/storage-tiers/internal/metrics"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ReportSubject is the subject a node agent publishes its reports on.
func ReportSubject(prefix, systemID string) string {
	return prefix + ".report." + systemID
}

// Publish sends one node report.
func Publish(nc *nats.Conn, prefix string, r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return nc.Publish(ReportSubject(prefix, r.System), data)
}

// RunSubscriber feeds node reports published under {prefix}.report.> into
// the cache until ctx is done. Expired samples are pruned every ttl.
func RunSubscriber(ctx context.Context, nc *nats.Conn, cache *Cache, prefix string, logger *zap.Logger) error {
	subject := prefix + ".report.>"
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var r Report
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			metrics.StatsReports.WithLabelValues("invalid").Inc()
			logger.Warn("dropping undecodable storage report",
				zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if r.System == "" || r.Pool == "" || r.Node == "" {
			metrics.StatsReports.WithLabelValues("invalid").Inc()
			logger.Warn("dropping incomplete storage report",
				zap.String("subject", msg.Subject))
			return
		}
		cache.Record(r)
		metrics.StatsReports.WithLabelValues("ok").Inc()
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	logger.Info("stats subscriber started", zap.String("subject", subject))

	ticker := time.NewTicker(cache.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return nil
		case <-ticker.C:
			metrics.StatsNodes.Set(float64(cache.Prune()))
		}
	}
}
