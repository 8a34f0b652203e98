package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Logging     LoggingConfig    `toml:"logging"`
	Storage     StorageConfig    `toml:"storage"`
	Catalog     CatalogConfig    `toml:"catalog"`
	UI          UIConfig         `toml:"ui"`
	Automation  AutomationConfig `toml:"automation"`
	History     HistoryConfig    `toml:"history"`
	Watcher     WatcherConfig    `toml:"watcher"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	Host string `toml:"host" validate:"required"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// CatalogConfig configures the catalog GraphQL API client
type CatalogConfig struct {
	Endpoint   string        `toml:"endpoint" validate:"required,url"` // GraphQL endpoint, e.g. http://localhost:9999/graphql
	APIKey     string        `toml:"api_key"`                          // Optional ApiKey header value
	Timeout    time.Duration `toml:"timeout"`                          // Per-request timeout
	RatePerSec float64       `toml:"rate_per_sec"`                     // Max requests per second to the catalog
}

// UIConfig configures the DevTools-driven catalog UI driver
type UIConfig struct {
	DevToolsURL   string        `toml:"devtools_url"`   // ws:// DevTools endpoint of the browser showing the catalog; empty = launch headless
	BaseURL       string        `toml:"base_url"`       // Catalog web UI base URL (used when launching headless)
	NavTimeout    time.Duration `toml:"nav_timeout"`    // Page navigation timeout
	ActionTimeout time.Duration `toml:"action_timeout"` // Locate/invoke timeout
}

// SourceConfig describes one external reference source
type SourceConfig struct {
	ID       string `toml:"id" validate:"required"` // Stable identifier, e.g. "stashdb"
	Name     string `toml:"name"`                   // Display name
	Endpoint string `toml:"endpoint"`               // Source endpoint as stored in catalog external refs
	Enabled  bool   `toml:"enabled"`                // Include this source in automation plans
}

// AutomationConfig configures workflow behavior
type AutomationConfig struct {
	Sources                []SourceConfig `toml:"sources" validate:"dive"`
	AutoApply              bool           `toml:"auto_apply"`               // Apply scraped data without waiting for review
	SkipAlreadyScraped     bool           `toml:"skip_already_scraped"`     // Plan a source only when not already detected
	OrganizeEnabled        bool           `toml:"organize_enabled"`         // Toggle the organized flag at the end of a run
	ReviewTimeout          time.Duration  `toml:"review_timeout"`           // Bound on the manual-apply review wait
	SettleTimeout          time.Duration  `toml:"settle_timeout"`           // Bound on waiting for scrape results to appear
	RichMetadataHeuristic  bool           `toml:"rich_metadata_heuristic"`  // Treat rich metadata as weak scrape evidence (low confidence)
	RichMetadataConfidence int            `toml:"rich_metadata_confidence"` // Confidence assigned to the rich-metadata strategy
}

// HistoryConfig configures the run-history ledger
type HistoryConfig struct {
	MaxEntries      int    `toml:"max_entries" validate:"gt=0"` // Cap; oldest entries evicted beyond this
	PruneMaxAgeDays int    `toml:"prune_max_age_days"`          // Entries older than this are pruned by the scheduler
	PruneSchedule   string `toml:"prune_schedule"`              // Cron schedule for the prune job; empty disables it
}

// WatcherConfig configures the debounced change-driven refresh
type WatcherConfig struct {
	MinRefreshInterval time.Duration `toml:"min_refresh_interval"` // Minimum interval between detection refreshes
}

// EnabledSources returns the configured sources with Enabled set
func (c *AutomationConfig) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Source looks up a configured source by id
func (c *AutomationConfig) Source(id string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings should be exposed in curator.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 9280,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Catalog: CatalogConfig{
			Endpoint:   "http://localhost:9999/graphql",
			Timeout:    15 * time.Second,
			RatePerSec: 4, // Stay polite against a local catalog instance
		},
		UI: UIConfig{
			BaseURL:       "http://localhost:9999",
			NavTimeout:    20 * time.Second,
			ActionTimeout: 5 * time.Second,
		},
		Automation: AutomationConfig{
			Sources: []SourceConfig{
				{ID: "stashdb", Name: "StashDB", Endpoint: "https://stashdb.org/graphql", Enabled: true},
				{ID: "tpdb", Name: "ThePornDB", Endpoint: "https://theporndb.net/graphql", Enabled: true},
			},
			AutoApply:              false, // Manual review by default - operator confirms scraped data
			SkipAlreadyScraped:     true,
			OrganizeEnabled:        true,
			ReviewTimeout:          60 * time.Second,
			SettleTimeout:          8 * time.Second,
			RichMetadataHeuristic:  false, // Optional weak-evidence strategy, off pending confirmation
			RichMetadataConfidence: 40,
		},
		History: HistoryConfig{
			MaxEntries:      100,
			PruneMaxAgeDays: 90,
			PruneSchedule:   "0 0 3 * * *", // Daily at 03:00
		},
		Watcher: WatcherConfig{
			MinRefreshInterval: 2 * time.Second,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier
// files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against its struct tags
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CURATOR_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("CURATOR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CURATOR_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("CURATOR_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Catalog configuration
	if endpoint := os.Getenv("CURATOR_CATALOG_ENDPOINT"); endpoint != "" {
		config.Catalog.Endpoint = endpoint
	}
	if apiKey := os.Getenv("CURATOR_CATALOG_API_KEY"); apiKey != "" {
		config.Catalog.APIKey = apiKey
	}

	// UI configuration
	if devtools := os.Getenv("CURATOR_UI_DEVTOOLS_URL"); devtools != "" {
		config.UI.DevToolsURL = devtools
	}

	// Logging configuration
	if level := os.Getenv("CURATOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CURATOR_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction reports whether the environment is production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
