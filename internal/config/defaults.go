package config

import "time"

func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			ConnectionName: "tierd",
			MaxReconnects:  -1,
			ReconnectWait:  Duration(2 * time.Second),
		},
		Metadata: MetadataConfig{
			Path: "/var/lib/tierd/config.db",
		},
		API: APIConfig{
			Enabled:         true,
			Listen:          ":8080",
			MaxRequestBytes: ByteSize(1024 * 1024), // 1MB
			RequestTimeout:  Duration(30 * time.Second),
			NATSResponder: NATSResponderConfig{
				Enabled:       false,
				SubjectPrefix: "tiers",
			},
		},
		Stats: StatsConfig{
			SubjectPrefix: "tiers.stats",
			TTL:           Duration(time.Minute),
		},
		Activity: ActivityConfig{
			Enabled: false,
			Subject: "tiers.activity",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Health: HealthConfig{
				Enabled:       true,
				Listen:        ":8081",
				LivenessPath:  "/healthz",
				ReadinessPath: "/readyz",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stderr",
			},
		},
	}
}
