package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS          NATSConfig          `yaml:"nats"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	API           APIConfig           `yaml:"api"`
	Stats         StatsConfig         `yaml:"stats"`
	Activity      ActivityConfig      `yaml:"activity"`
	Observability ObservabilityConfig `yaml:"observability"`
	Systems       []SystemConfig      `yaml:"systems"`
}

type NATSConfig struct {
	URL             string    `yaml:"url"`
	CredentialsFile string    `yaml:"credentials_file"`
	NKeySeedFile    string    `yaml:"nkey_seed_file"`
	TLS             TLSConfig `yaml:"tls"`
	ConnectionName  string    `yaml:"connection_name"`
	MaxReconnects   int       `yaml:"max_reconnects"`
	ReconnectWait   Duration  `yaml:"reconnect_wait"`
}

type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type MetadataConfig struct {
	Path string `yaml:"path"`
}

type APIConfig struct {
	Enabled         bool                `yaml:"enabled"`
	Listen          string              `yaml:"listen"`
	AuthToken       string              `yaml:"auth_token"`
	MaxRequestBytes ByteSize            `yaml:"max_request_bytes"`
	RequestTimeout  Duration            `yaml:"request_timeout"`
	NATSResponder   NATSResponderConfig `yaml:"nats_responder"`
}

type NATSResponderConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// StatsConfig controls the live pool-stats aggregator. Agents publish node
// reports on {subject_prefix}.report.{system}; a report older than ttl no
// longer counts toward its pool.
type StatsConfig struct {
	SubjectPrefix string   `yaml:"subject_prefix"`
	TTL           Duration `yaml:"ttl"`
}

type ActivityConfig struct {
	Enabled bool   `yaml:"enabled"`
	Subject string `yaml:"subject"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SystemConfig declares a system that must exist at startup.
type SystemConfig struct {
	ID      string         `yaml:"id"`
	Name    string         `yaml:"name"`
	Pools   []PoolConfig   `yaml:"pools"`
	Buckets []BucketConfig `yaml:"buckets"`
}

// PoolConfig declares a pool. A pool with a cloud section is a cloud pool.
type PoolConfig struct {
	Name  string           `yaml:"name"`
	Cloud *CloudPoolConfig `yaml:"cloud"`
}

type CloudPoolConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

type BucketConfig struct {
	Name          string `yaml:"name"`
	TieringPolicy string `yaml:"tiering_policy"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}

	if c.Metadata.Path == "" {
		return fmt.Errorf("metadata.path is required")
	}

	if (c.API.Enabled || c.API.NATSResponder.Enabled) && c.API.AuthToken == "" {
		return fmt.Errorf("api.auth_token is required when the api or its nats responder is enabled")
	}

	if c.Stats.SubjectPrefix == "" {
		return fmt.Errorf("stats.subject_prefix is required")
	}
	if c.Stats.TTL <= 0 {
		return fmt.Errorf("stats.ttl must be > 0")
	}

	if c.Activity.Enabled && c.Activity.Subject == "" {
		return fmt.Errorf("activity.subject is required when activity is enabled")
	}

	systemIDs := make(map[string]bool)
	for i, sc := range c.Systems {
		if sc.ID == "" {
			return fmt.Errorf("systems[%d].id is required", i)
		}
		if systemIDs[sc.ID] {
			return fmt.Errorf("systems[%d]: duplicate id %q", i, sc.ID)
		}
		systemIDs[sc.ID] = true
		if sc.Name == "" {
			return fmt.Errorf("systems[%d] (%s): name is required", i, sc.ID)
		}

		pools := make(map[string]bool)
		for j, pc := range sc.Pools {
			if pc.Name == "" {
				return fmt.Errorf("systems[%d].pools[%d].name is required", i, j)
			}
			if pools[pc.Name] {
				return fmt.Errorf("systems[%d] (%s): duplicate pool %q", i, sc.ID, pc.Name)
			}
			pools[pc.Name] = true
			if pc.Cloud != nil {
				if pc.Cloud.Endpoint == "" {
					return fmt.Errorf("systems[%d] (%s): cloud pool %s requires endpoint", i, sc.ID, pc.Name)
				}
				if pc.Cloud.Bucket == "" {
					return fmt.Errorf("systems[%d] (%s): cloud pool %s requires bucket", i, sc.ID, pc.Name)
				}
			}
		}

		for j, bc := range sc.Buckets {
			if bc.Name == "" {
				return fmt.Errorf("systems[%d].buckets[%d].name is required", i, j)
			}
		}
	}

	return nil
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5m", "24h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize wraps int64 for YAML unmarshaling of strings like "64KB", "1MB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		// Try as integer
		var n int64
		if err2 := value.Decode(&n); err2 != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	parsed, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

func parseByteSize(s string) (int64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty byte size")
	}

	var multiplier int64 = 1
	numStr := s

	switch {
	case len(s) >= 2 && s[len(s)-2:] == "KB":
		multiplier = 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "MB":
		multiplier = 1024 * 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "GB":
		multiplier = 1024 * 1024 * 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "TB":
		multiplier = 1024 * 1024 * 1024 * 1024
		numStr = s[:len(s)-2]
	case s[len(s)-1] == 'B':
		numStr = s[:len(s)-1]
	}

	var n int64
	_, err := fmt.Sscanf(numStr, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n * multiplier, nil
}
