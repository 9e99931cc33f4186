// Package natsutil connects tierd to NATS. Connection state is mirrored into
// the tiers_nats_* metrics so dashboards see outages that readiness only
// reports while they last.
package natsutil

import (
	"fmt"
	"time"

	"github.com/gftdcojp/storage-tiers/internal/config"
	"github.com/gftdcojp/storage-tiers/internal/metrics"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultConnectionName is announced to the server when the config leaves
// connection_name empty.
const DefaultConnectionName = "tierd"

// Stats reports are small and frequent; a short buffer is enough to ride out
// a reconnect without holding stale reports for long.
const reconnectBufSize = 4 * 1024 * 1024

// Options builds the connection options for cfg. Handlers log through logger
// and update the connection metrics.
func Options(cfg config.NATSConfig, logger *zap.Logger) ([]nats.Option, error) {
	name := cfg.ConnectionName
	if name == "" {
		name = DefaultConnectionName
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait.Duration()),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			metrics.NATSConnected.Set(0)
			metrics.NATSConnectionEvents.WithLabelValues("disconnect").Inc()
			if err != nil {
				logger.Warn("NATS disconnected, stats reports paused", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			metrics.NATSConnected.Set(1)
			metrics.NATSConnectionEvents.WithLabelValues("reconnect").Inc()
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			metrics.NATSConnected.Set(0)
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			metrics.NATSConnectionEvents.WithLabelValues("async_error").Inc()
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			logger.Error("NATS async error", fields...)
		}),
		nats.ReconnectBufSize(reconnectBufSize),
		nats.PingInterval(20 * time.Second),
	}

	if cfg.CredentialsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
	}

	if cfg.NKeySeedFile != "" {
		opt, err := nats.NkeyOptionFromSeed(cfg.NKeySeedFile)
		if err != nil {
			return nil, fmt.Errorf("loading nkey seed: %w", err)
		}
		opts = append(opts, opt)
	}

	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		opts = append(opts, nats.ClientCert(cfg.TLS.CertFile, cfg.TLS.KeyFile))
	}
	if cfg.TLS.CAFile != "" {
		opts = append(opts, nats.RootCAs(cfg.TLS.CAFile))
	}
	return opts, nil
}

// Connect dials cfg.URL with Options.
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts, err := Options(cfg, logger)
	if err != nil {
		return nil, err
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	metrics.NATSConnected.Set(1)

	logger.Info("connected to NATS",
		zap.String("url", nc.ConnectedUrl()),
		zap.String("server_id", nc.ConnectedServerId()),
		zap.String("name", nc.Opts.Name),
	)
	return nc, nil
}
