package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/seismerge/internal/models"
)

// Subscription transports.
const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
)

// Config represents the complete application configuration
type Config struct {
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Workspace    WorkspaceConfig    `mapstructure:"workspace"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// GatewayConfig holds the GraphQL gateway configuration
type GatewayConfig struct {
	URL            string        `mapstructure:"url"`
	WSURL          string        `mapstructure:"ws_url"`
	Encoding       string        `mapstructure:"encoding"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	AckTimeout     time.Duration `mapstructure:"ack_timeout"`
}

// SubscriptionConfig selects where subscription pushes come from
type SubscriptionConfig struct {
	Transport      string        `mapstructure:"transport"`
	NATSURL        string        `mapstructure:"nats_url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ResubscribeGap time.Duration `mapstructure:"resubscribe_gap"`
}

// WorkspaceConfig describes the analyst session
type WorkspaceConfig struct {
	Analyst        string   `mapstructure:"analyst"`
	Activity       string   `mapstructure:"activity"`
	StartTimeSecs  float64  `mapstructure:"start_time_secs"`
	EndTimeSecs    float64  `mapstructure:"end_time_secs"`
	Stations       []string `mapstructure:"stations"`
	RestraintOrder []string `mapstructure:"restraint_order"`
	AutoOpen       bool     `mapstructure:"auto_open"`
	// AlignPhase aligns stations on this phase when an event opens; empty aligns on time.
	AlignPhase string `mapstructure:"align_phase"`
}

// CacheConfig holds query cache and snapshot configuration
type CacheConfig struct {
	Expiration   time.Duration `mapstructure:"expiration"`
	SnapshotPath string        `mapstructure:"snapshot_path"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// SEISMERGE_GATEWAY_URL overrides gateway.url
	v.SetEnvPrefix("SEISMERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Gateway defaults
	v.SetDefault("gateway.encoding", "json")
	v.SetDefault("gateway.timeout", "30s")
	v.SetDefault("gateway.max_retries", 3)
	v.SetDefault("gateway.retry_delay_base", "1s")
	v.SetDefault("gateway.ack_timeout", "10s")

	// Subscription defaults
	v.SetDefault("subscription.transport", TransportWebSocket)
	v.SetDefault("subscription.subject_prefix", "gms")
	v.SetDefault("subscription.max_reconnects", 10)
	v.SetDefault("subscription.reconnect_wait", "2s")
	v.SetDefault("subscription.connect_timeout", "5s")
	v.SetDefault("subscription.resubscribe_gap", "5s")

	// Workspace defaults
	v.SetDefault("workspace.activity", string(models.ActivityEventRefinement))
	v.SetDefault("workspace.restraint_order", []string{
		string(models.DepthRestraintUnrestrained),
		string(models.DepthRestraintFixedAtSurface),
		string(models.DepthRestraintFixedAtDepth),
	})
	v.SetDefault("workspace.auto_open", true)
	v.SetDefault("workspace.align_phase", "")

	// Cache defaults
	v.SetDefault("cache.expiration", "0s")
	v.SetDefault("cache.snapshot_path", "./data/seismerge-cache.json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Gateway config
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if err := validateURL(c.Gateway.URL, "http", "https"); err != nil {
		return fmt.Errorf("gateway.url: %w", err)
	}
	validEncodings := map[string]bool{"json": true, "transit": true, "msgpack": true}
	if !validEncodings[c.Gateway.Encoding] {
		return fmt.Errorf("gateway.encoding must be one of: json, transit, msgpack")
	}
	if c.Gateway.Timeout < time.Second {
		return fmt.Errorf("gateway.timeout must be at least 1 second")
	}
	if c.Gateway.MaxRetries < 1 {
		return fmt.Errorf("gateway.max_retries must be at least 1")
	}
	if c.Gateway.RetryDelayBase <= 0 {
		return fmt.Errorf("gateway.retry_delay_base must be positive")
	}

	// Validate Subscription config
	switch c.Subscription.Transport {
	case TransportWebSocket:
		if c.Gateway.WSURL == "" {
			return fmt.Errorf("gateway.ws_url is required when subscription.transport is websocket")
		}
		if err := validateURL(c.Gateway.WSURL, "ws", "wss"); err != nil {
			return fmt.Errorf("gateway.ws_url: %w", err)
		}
		if c.Gateway.AckTimeout <= 0 {
			return fmt.Errorf("gateway.ack_timeout must be positive")
		}
	case TransportNATS:
		if c.Subscription.NATSURL == "" {
			return fmt.Errorf("subscription.nats_url is required when subscription.transport is nats")
		}
		if c.Subscription.MaxReconnects < -1 {
			return fmt.Errorf("subscription.max_reconnects must be -1 (unlimited) or more")
		}
	default:
		return fmt.Errorf("subscription.transport must be one of: websocket, nats")
	}
	if c.Subscription.ResubscribeGap <= 0 {
		return fmt.Errorf("subscription.resubscribe_gap must be positive")
	}

	// Validate Workspace config
	if c.Workspace.Analyst == "" {
		return fmt.Errorf("workspace.analyst is required")
	}
	if !models.AnalystActivity(c.Workspace.Activity).Valid() {
		return fmt.Errorf("workspace.activity must be one of: EventRefinement, GlobalScan, RegionScan")
	}
	if c.Workspace.EndTimeSecs < c.Workspace.StartTimeSecs {
		return fmt.Errorf("workspace.end_time_secs must be >= workspace.start_time_secs")
	}
	if len(c.Workspace.RestraintOrder) == 0 {
		return fmt.Errorf("workspace.restraint_order must contain at least one restraint type")
	}
	for _, r := range c.Workspace.RestraintOrder {
		if !models.DepthRestraintType(r).Valid() {
			return fmt.Errorf("workspace.restraint_order contains unknown restraint type %q", r)
		}
	}

	// Validate Cache config
	if c.Cache.Expiration < 0 {
		return fmt.Errorf("cache.expiration must not be negative")
	}
	if c.Cache.SnapshotPath == "" {
		return fmt.Errorf("cache.snapshot_path is required")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Metrics config
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host")
			}
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of: %s", strings.Join(schemes, ", "))
}

// Interval returns the workspace time interval
func (c *Config) Interval() models.TimeInterval {
	return models.TimeInterval{StartTimeSecs: c.Workspace.StartTimeSecs, EndTimeSecs: c.Workspace.EndTimeSecs}
}

// RestraintOrder returns the configured depth restraint preference
func (c *Config) RestraintOrder() []models.DepthRestraintType {
	order := make([]models.DepthRestraintType, 0, len(c.Workspace.RestraintOrder))
	for _, r := range c.Workspace.RestraintOrder {
		order = append(order, models.DepthRestraintType(r))
	}
	return order
}
