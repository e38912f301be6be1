// Package config loads and validates snapshot configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultTargetURL is used when no target is configured.
const DefaultTargetURL = "https://example.com"

// DefaultExecPath is where the container image installs Chromium.
const DefaultExecPath = "/usr/bin/chromium"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Target     TargetConfig     `mapstructure:"target"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Navigation NavigationConfig `mapstructure:"navigation"`
	Settle     SettleConfig     `mapstructure:"settle"`
	Output     OutputConfig     `mapstructure:"output"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

// TargetConfig names the page to capture.
type TargetConfig struct {
	URL string `mapstructure:"url"`
}

// BrowserConfig controls the Chrome process.
type BrowserConfig struct {
	ExecPath             string        `mapstructure:"exec_path"`
	LaunchTimeout        time.Duration `mapstructure:"launch_timeout"`
	Headless             bool          `mapstructure:"headless"`
	BlockResources       bool          `mapstructure:"block_resources"`
	BlockedResourceTypes []string      `mapstructure:"blocked_resource_types"`
	ExtraFlags           []string      `mapstructure:"extra_flags"`
}

// NavigationConfig bounds page loads and retries.
type NavigationConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	Timeout        time.Duration `mapstructure:"timeout"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	WaitUntil      string        `mapstructure:"wait_until"`
}

// SettleConfig controls the wait between load and extraction.
type SettleConfig struct {
	Strategy     string        `mapstructure:"strategy"`
	Delay        time.Duration `mapstructure:"delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	QuietPeriod  time.Duration `mapstructure:"quiet_period"`
}

// OutputConfig selects where the record is written.
type OutputConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	File      string `mapstructure:"file"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// NotifyConfig holds optional run notifications.
type NotifyConfig struct {
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGESNAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if strings.TrimSpace(cfg.Target.URL) == "" {
		cfg.Target.URL = DefaultTargetURL
	}
	cfg.Settle.Strategy = strings.ToLower(strings.TrimSpace(cfg.Settle.Strategy))
	cfg.Navigation.WaitUntil = strings.ToLower(strings.TrimSpace(cfg.Navigation.WaitUntil))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindLegacyEnv keeps the variable names the container image has always
// used. The prefixed names win when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	if err := v.BindEnv("target.url", "PAGESNAP_TARGET_URL", "SCRAPE_URL"); err != nil {
		return fmt.Errorf("bind target.url: %w", err)
	}
	if err := v.BindEnv("browser.exec_path", "PAGESNAP_BROWSER_EXEC_PATH", "PUPPETEER_EXECUTABLE_PATH"); err != nil {
		return fmt.Errorf("bind browser.exec_path: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target.url", DefaultTargetURL)
	v.SetDefault("browser.exec_path", DefaultExecPath)
	v.SetDefault("browser.launch_timeout", 90*time.Second)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.block_resources", true)
	v.SetDefault("browser.blocked_resource_types", []string{"image", "stylesheet", "font"})
	v.SetDefault("browser.extra_flags", []string{})
	v.SetDefault("navigation.max_attempts", 3)
	v.SetDefault("navigation.retry_delay", 2*time.Second)
	v.SetDefault("navigation.timeout", 60*time.Second)
	v.SetDefault("navigation.default_timeout", 90*time.Second)
	v.SetDefault("navigation.wait_until", "domcontentloaded")
	v.SetDefault("settle.strategy", "fixed")
	v.SetDefault("settle.delay", 3*time.Second)
	v.SetDefault("settle.poll_interval", 250*time.Millisecond)
	v.SetDefault("settle.quiet_period", 500*time.Millisecond)
	v.SetDefault("output.backend", "local")
	v.SetDefault("output.dir", "")
	v.SetDefault("output.file", "scraped_data.json")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.gcs_prefix", "")
	v.SetDefault("server.port", 5000)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Browser.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be > 0")
	}
	if c.Navigation.MaxAttempts <= 0 {
		return fmt.Errorf("navigation.max_attempts must be > 0")
	}
	if c.Navigation.RetryDelay < 0 {
		return fmt.Errorf("navigation.retry_delay must be >= 0")
	}
	if c.Navigation.Timeout < 0 || c.Navigation.DefaultTimeout < 0 {
		return fmt.Errorf("navigation.timeout and navigation.default_timeout must be >= 0")
	}
	switch strings.ToLower(c.Navigation.WaitUntil) {
	case "", "domcontentloaded", "load", "networkidle0", "networkidle2":
	default:
		return fmt.Errorf("navigation.wait_until %q is not supported", c.Navigation.WaitUntil)
	}
	switch strings.ToLower(strings.TrimSpace(c.Settle.Strategy)) {
	case "fixed":
	case "quiescent":
		if c.Settle.PollInterval <= 0 {
			return fmt.Errorf("settle.poll_interval must be > 0 for the quiescent strategy")
		}
	default:
		return fmt.Errorf("settle.strategy %q is not supported", c.Settle.Strategy)
	}
	if c.Settle.Delay < 0 {
		return fmt.Errorf("settle.delay must be >= 0")
	}
	if strings.TrimSpace(c.Output.File) == "" {
		return fmt.Errorf("output.file must be set")
	}
	switch c.Output.Backend {
	case "local":
	case "gcs":
		if c.Output.GCSBucket == "" {
			return fmt.Errorf("output.gcs_bucket must be set when output.backend is gcs")
		}
	default:
		return fmt.Errorf("output.backend %q is not supported", c.Output.Backend)
	}
	if (c.Notify.PubSub.ProjectID == "") != (c.Notify.PubSub.Topic == "") {
		return fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic must be set together")
	}
	return nil
}
