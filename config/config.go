package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bookflow  BookflowConfig  `yaml:"bookflow"`
	Coinbase  CoinbaseConfig  `yaml:"coinbase"`
	Feed      FeedConfig      `yaml:"feed"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Session   SessionConfig   `yaml:"session"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Processor ProcessorConfig `yaml:"processor"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type BookflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// CoinbaseConfig describes the exchange endpoints and credentials. Credentials
// are optional for the public level3 feed but, when present, are attached to
// the subscribe request and REST calls. Environment variables override the
// file values so secrets never need to live in the YAML.
type CoinbaseConfig struct {
	WebsocketURL string   `yaml:"websocket_url"`
	RestURL      string   `yaml:"rest_url"`
	Products     []string `yaml:"products"`
	Key          string   `yaml:"key"`
	Secret       string   `yaml:"secret"`
	Passphrase   string   `yaml:"passphrase"`
}

// HasCredentials reports whether a complete API credential set is configured.
func (c CoinbaseConfig) HasCredentials() bool {
	return c.Key != "" && c.Secret != "" && c.Passphrase != ""
}

type FeedConfig struct {
	ReadTimeout     Duration `yaml:"read_timeout"`
	PingInterval    Duration `yaml:"ping_interval"`
	ReconnectDelay  Duration `yaml:"reconnect_delay"`
	ReconnectMax    Duration `yaml:"reconnect_max"`
	ReadBufferBytes int      `yaml:"read_buffer_bytes"`
}

type SnapshotConfig struct {
	RequestTimeout    Duration `yaml:"request_timeout"`
	RequestsPerSecond int      `yaml:"requests_per_second"`
	BurstSize         int      `yaml:"burst_size"`
	MaxIdleConns      int      `yaml:"max_idle_conns"`
	MaxConnsPerHost   int      `yaml:"max_conns_per_host"`
	IdleConnTimeout   Duration `yaml:"idle_conn_timeout"`
}

// SessionConfig tunes the per-product reconstruction loop: how many events may
// buffer before reconciliation, how snapshot fetches are retried, and when a
// session gives up on the current stream and resynchronizes.
type SessionConfig struct {
	BufferCapacity    int      `yaml:"buffer_capacity"`
	MinBufferedEvents int      `yaml:"min_buffered_events"`
	SnapshotRetries   int      `yaml:"snapshot_retries"`
	SnapshotDelay     Duration `yaml:"snapshot_delay"`
	SnapshotDelayMax  Duration `yaml:"snapshot_delay_max"`
	ResyncDelay       Duration `yaml:"resync_delay"`
	ResyncDelayMax    Duration `yaml:"resync_delay_max"`
	AnomalyThreshold  int      `yaml:"anomaly_threshold"`
	DepthLevels       int      `yaml:"depth_levels"`
}

type ChannelsConfig struct {
	RawBuffer     int `yaml:"raw_buffer"`
	EventBuffer   int `yaml:"event_buffer"`
	ControlBuffer int `yaml:"control_buffer"`
	UpdateBuffer  int `yaml:"update_buffer"`
}

type ProcessorConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	BatchSize    int      `yaml:"batch_size"`
	BatchTimeout Duration `yaml:"batch_timeout"`
}

type MetricsConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Address     string           `yaml:"address"`
	ChannelSize bool             `yaml:"channel_size"`
	CloudWatch  CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Region    string   `yaml:"region"`
	Namespace string   `yaml:"namespace"`
	Interval  Duration `yaml:"interval"`
}

type DashboardConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Address         string   `yaml:"address"`
	RefreshInterval Duration `yaml:"refresh_interval"`
	LogHistory      int      `yaml:"log_history"`
	MetricsHistory  int      `yaml:"metrics_history"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override credentials from environment variables if available
	if v := os.Getenv("COINBASE_KEY"); v != "" {
		config.Coinbase.Key = strings.TrimSpace(v)
	}
	if v := os.Getenv("COINBASE_SECRET"); v != "" {
		config.Coinbase.Secret = strings.TrimSpace(v)
	}
	if v := os.Getenv("COINBASE_PASSPHRASE"); v != "" {
		config.Coinbase.Passphrase = strings.TrimSpace(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers := make([]string, 0, 4)
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		config.Kafka.Brokers = brokers
	}
	if config.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}

	normalizeProducts(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// defaultConfig carries the values a section falls back to when the YAML
// leaves it out entirely.
func defaultConfig() *Config {
	return &Config{
		Coinbase: CoinbaseConfig{
			WebsocketURL: "wss://ws-feed.exchange.coinbase.com",
			RestURL:      "https://api.exchange.coinbase.com",
		},
		Feed: FeedConfig{
			ReadTimeout:     Duration(10 * time.Second),
			PingInterval:    Duration(30 * time.Second),
			ReconnectDelay:  Duration(time.Second),
			ReconnectMax:    Duration(time.Minute),
			ReadBufferBytes: 1 << 20,
		},
		Snapshot: SnapshotConfig{
			RequestTimeout:    Duration(10 * time.Second),
			RequestsPerSecond: 10,
			BurstSize:         15,
			MaxIdleConns:      10,
			MaxConnsPerHost:   10,
			IdleConnTimeout:   Duration(90 * time.Second),
		},
		Session: SessionConfig{
			BufferCapacity:    50000,
			MinBufferedEvents: 1,
			SnapshotRetries:   5,
			SnapshotDelay:     Duration(2 * time.Second),
			SnapshotDelayMax:  Duration(time.Minute),
			ResyncDelay:       Duration(time.Second),
			ResyncDelayMax:    Duration(30 * time.Second),
			DepthLevels:       10,
		},
		Channels: ChannelsConfig{
			RawBuffer:     10000,
			EventBuffer:   10000,
			ControlBuffer: 256,
			UpdateBuffer:  5000,
		},
		Processor: ProcessorConfig{
			MaxWorkers: 2,
		},
		Kafka: KafkaConfig{
			Topic:        "bookflow.updates",
			BatchSize:    100,
			BatchTimeout: Duration(time.Second),
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			Address:     "0.0.0.0:2112",
			ChannelSize: true,
			CloudWatch: CloudWatchConfig{
				Namespace: "Bookflow",
				Interval:  Duration(time.Minute),
			},
		},
		Dashboard: DashboardConfig{
			Address:         "0.0.0.0:8080",
			RefreshInterval: Duration(5 * time.Second),
			LogHistory:      200,
			MetricsHistory:  200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			MaxAge: 7,
		},
	}
}

func normalizeProducts(cfg *Config) {
	products := make([]string, 0, len(cfg.Coinbase.Products))
	seen := make(map[string]struct{}, len(cfg.Coinbase.Products))
	for _, p := range cfg.Coinbase.Products {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		products = append(products, p)
	}
	cfg.Coinbase.Products = products
}

func validateConfig(cfg *Config) error {
	if cfg.Bookflow.Name == "" {
		return fmt.Errorf("bookflow.name is required")
	}

	if cfg.Bookflow.Version == "" {
		return fmt.Errorf("bookflow.version is required")
	}

	if cfg.Coinbase.WebsocketURL == "" {
		return fmt.Errorf("coinbase.websocket_url is required")
	}
	if cfg.Coinbase.RestURL == "" {
		return fmt.Errorf("coinbase.rest_url is required")
	}
	if len(cfg.Coinbase.Products) == 0 {
		return fmt.Errorf("coinbase.products must list at least one product")
	}
	for _, p := range cfg.Coinbase.Products {
		if !isValidProduct(p) {
			return fmt.Errorf("coinbase.products entry '%s' is invalid", p)
		}
	}

	if cfg.Feed.ReadTimeout <= 0 {
		return fmt.Errorf("feed.read_timeout must be greater than 0")
	}
	if cfg.Feed.PingInterval <= 0 {
		return fmt.Errorf("feed.ping_interval must be greater than 0")
	}

	if cfg.Snapshot.RequestTimeout <= 0 {
		return fmt.Errorf("snapshot.request_timeout must be greater than 0")
	}
	if cfg.Snapshot.RequestsPerSecond <= 0 {
		return fmt.Errorf("snapshot.requests_per_second must be greater than 0")
	}
	if cfg.Snapshot.BurstSize < cfg.Snapshot.RequestsPerSecond {
		return fmt.Errorf("snapshot.burst_size must be at least snapshot.requests_per_second")
	}

	if cfg.Session.BufferCapacity < 0 {
		return fmt.Errorf("session.buffer_capacity must not be negative")
	}
	if cfg.Session.MinBufferedEvents <= 0 {
		return fmt.Errorf("session.min_buffered_events must be greater than 0")
	}
	if cfg.Session.SnapshotRetries <= 0 {
		return fmt.Errorf("session.snapshot_retries must be greater than 0")
	}
	if cfg.Session.AnomalyThreshold < 0 {
		return fmt.Errorf("session.anomaly_threshold must not be negative")
	}
	if cfg.Session.DepthLevels <= 0 {
		return fmt.Errorf("session.depth_levels must be greater than 0")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.EventBuffer <= 0 {
		return fmt.Errorf("channels.event_buffer must be greater than 0")
	}
	if cfg.Channels.UpdateBuffer <= 0 {
		return fmt.Errorf("channels.update_buffer must be greater than 0")
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if !isValidKafkaTopic(cfg.Kafka.Topic) {
			return fmt.Errorf("kafka.topic '%s' is invalid", cfg.Kafka.Topic)
		}
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		return fmt.Errorf("metrics.cloudwatch.region is required when cloudwatch is enabled")
	}

	return nil
}

var productRegexp = regexp.MustCompile(`^[A-Z0-9]+-[A-Z0-9]+$`)

// isValidProduct checks the BASE-QUOTE shape shared by all exchange product
// identifiers, e.g. BTC-USD.
func isValidProduct(id string) bool {
	return productRegexp.MatchString(id)
}

var kafkaTopicRegexp = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func isValidKafkaTopic(name string) bool {
	if len(name) == 0 || len(name) > 249 {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	return kafkaTopicRegexp.MatchString(name)
}
