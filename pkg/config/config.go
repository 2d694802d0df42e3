package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the Zerochan watcher
type Config struct {
	// Source site endpoints and request identity
	Zerochan ZerochanConfig `yaml:"zerochan" json:"zerochan"`

	// Crawl pacing and bounds
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Headless rendering fallback
	Render RenderConfig `yaml:"render" json:"render"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ZerochanConfig holds site-specific configuration
type ZerochanConfig struct {
	BaseURL   string `yaml:"base_url" json:"base_url"`
	StaticURL string `yaml:"static_url" json:"static_url"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	Referer   string `yaml:"referer" json:"referer"`
}

// CrawlConfig holds pacing and page-range configuration
type CrawlConfig struct {
	PagesPerSubscription int           `yaml:"pages_per_subscription" json:"pages_per_subscription"`
	RequestDelay         time.Duration `yaml:"request_delay" json:"request_delay"`
	RequestTimeout       time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxRetries           int           `yaml:"max_retries" json:"max_retries"`
}

// OutputConfig holds archive directory configuration
type OutputConfig struct {
	BaseDirectory     string `yaml:"base_directory" json:"base_directory"`
	SubscriptionsFile string `yaml:"subscriptions_file" json:"subscriptions_file"`
	SaveRawHTML       bool   `yaml:"save_raw_html" json:"save_raw_html"`
	DebugDirectory    string `yaml:"debug_directory" json:"debug_directory"`
}

// RenderConfig holds headless rendering fallback configuration
type RenderConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
	ContainerWait     time.Duration `yaml:"container_wait" json:"container_wait"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Zerochan: ZerochanConfig{
			BaseURL:   "https://www.zerochan.net",
			StaticURL: "https://static.zerochan.net",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			Referer:   "https://www.zerochan.net/",
		},
		Crawl: CrawlConfig{
			PagesPerSubscription: 3,
			RequestDelay:         2 * time.Second,
			RequestTimeout:       20 * time.Second,
			MaxRetries:           1,
		},
		Output: OutputConfig{
			BaseDirectory:     filepath.Join(home, "Pictures", "Zerochan"),
			SubscriptionsFile: "subscriptions.txt",
			SaveRawHTML:       false,
			DebugDirectory:    "",
		},
		Render: RenderConfig{
			Enabled:           true,
			NavigationTimeout: 45 * time.Second,
			ContainerWait:     10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if baseURL := os.Getenv("ZEROWATCH_BASE_URL"); baseURL != "" {
		c.Zerochan.BaseURL = baseURL
	}
	if staticURL := os.Getenv("ZEROWATCH_STATIC_URL"); staticURL != "" {
		c.Zerochan.StaticURL = staticURL
	}
	if userAgent := os.Getenv("ZEROWATCH_USER_AGENT"); userAgent != "" {
		c.Zerochan.UserAgent = userAgent
	}

	if pages := os.Getenv("ZEROWATCH_PAGES_PER_SUBSCRIPTION"); pages != "" {
		var val int
		fmt.Sscanf(pages, "%d", &val)
		if val > 0 {
			c.Crawl.PagesPerSubscription = val
		}
	}
	if delay := os.Getenv("ZEROWATCH_REQUEST_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil && d >= 0 {
			c.Crawl.RequestDelay = d
		}
	}

	if outputDir := os.Getenv("ZEROWATCH_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if subsFile := os.Getenv("ZEROWATCH_SUBSCRIPTIONS_FILE"); subsFile != "" {
		c.Output.SubscriptionsFile = subsFile
	}
	if saveRaw := os.Getenv("ZEROWATCH_SAVE_RAW_HTML"); saveRaw != "" {
		c.Output.SaveRawHTML = strings.ToLower(saveRaw) == "true"
	}

	if render := os.Getenv("ZEROWATCH_RENDER_ENABLED"); render != "" {
		c.Render.Enabled = strings.ToLower(render) == "true"
	}

	if logLevel := os.Getenv("ZEROWATCH_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".zerowatch.yaml",
		".zerowatch.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "zerowatch", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "zerowatch", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".zerowatch.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Zerochan.BaseURL == "" {
		errs = append(errs, errors.New("zerochan base URL is required"))
	}
	if c.Zerochan.StaticURL == "" {
		errs = append(errs, errors.New("zerochan static URL is required"))
	}
	if c.Zerochan.UserAgent == "" {
		errs = append(errs, errors.New("user agent is required"))
	}

	if c.Crawl.PagesPerSubscription <= 0 {
		errs = append(errs, errors.New("pages per subscription must be positive"))
	}
	if c.Crawl.RequestDelay < 0 {
		errs = append(errs, errors.New("request delay cannot be negative"))
	}
	if c.Crawl.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Crawl.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Output.SubscriptionsFile == "" {
		errs = append(errs, errors.New("subscriptions file is required"))
	}
	if c.Output.SaveRawHTML && c.Output.DebugDirectory == "" {
		// Dump next to the archive when no explicit debug dir is set.
		c.Output.DebugDirectory = filepath.Join(c.Output.BaseDirectory, "_debug")
	}

	if c.Render.Enabled {
		if c.Render.NavigationTimeout <= 0 {
			errs = append(errs, errors.New("render navigation timeout must be positive"))
		}
		if c.Render.ContainerWait <= 0 {
			errs = append(errs, errors.New("render container wait must be positive"))
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if subsFile, ok := flags["subscriptions"].(string); ok && subsFile != "" {
		c.Output.SubscriptionsFile = subsFile
	}
	if pages, ok := flags["pages"].(int); ok && pages > 0 {
		c.Crawl.PagesPerSubscription = pages
	}
	if delay, ok := flags["delay"].(time.Duration); ok && delay >= 0 {
		c.Crawl.RequestDelay = delay
	}
	if saveRaw, ok := flags["save-raw-html"].(bool); ok {
		c.Output.SaveRawHTML = saveRaw
	}
	if render, ok := flags["render"].(bool); ok {
		c.Render.Enabled = render
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".zerowatch.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
