// Package activity records audit events for administrative changes.
package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gftdcojp/storage-tiers/internal/metrics"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// EventEditPolicy is raised when a tier bound to a bucket's policy changes.
const EventEditPolicy = "bucket.edit_policy"

// Event is one audit trail entry.
type Event struct {
	Event  string    `json:"event"`
	Level  string    `json:"level"`
	System string    `json:"system"`
	Actor  string    `json:"actor,omitempty"`
	Bucket string    `json:"bucket,omitempty"`
	Desc   string    `json:"desc"`
	Time   time.Time `json:"time"`
}

// Dispatcher accepts audit events. Delivery is fire-and-forget: failures
// are logged, never returned.
type Dispatcher interface {
	Activity(ctx context.Context, ev Event)
}

// NATSDispatcher publishes events as JSON on a fixed subject.
type NATSDispatcher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSDispatcher creates a dispatcher publishing on subject.
func NewNATSDispatcher(nc *nats.Conn, subject string, logger *zap.Logger) *NATSDispatcher {
	return &NATSDispatcher{nc: nc, subject: subject, logger: logger}
}

func (d *NATSDispatcher) Activity(_ context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err == nil {
		err = d.nc.Publish(d.subject, data)
	}
	if err != nil {
		metrics.ActivityEvents.WithLabelValues(ev.Event, "error").Inc()
		d.logger.Warn("failed to publish activity",
			zap.String("event", ev.Event),
			zap.String("system", ev.System),
			zap.Error(err),
		)
		return
	}
	metrics.ActivityEvents.WithLabelValues(ev.Event, "ok").Inc()
}

// LogDispatcher writes events to the log only.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Activity(_ context.Context, ev Event) {
	metrics.ActivityEvents.WithLabelValues(ev.Event, "ok").Inc()
	d.logger.Info("activity",
		zap.String("event", ev.Event),
		zap.String("level", ev.Level),
		zap.String("system", ev.System),
		zap.String("actor", ev.Actor),
		zap.String("bucket", ev.Bucket),
		zap.String("desc", ev.Desc),
	)
}
