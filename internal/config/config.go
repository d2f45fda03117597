package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can use duration syntax
// ("250ms", "5m") instead of raw nanosecond counts.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML renders the duration in time.Duration syntax.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML parses duration syntax or a bare integer nanosecond count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		var ns int64
		if nerr := value.Decode(&ns); nerr == nil {
			*d = Duration(ns)
			return nil
		}
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the full server configuration. Zero values are filled from
// Default; a YAML file overlays the defaults.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Archive ArchiveConfig `yaml:"archive"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string `yaml:"log_format"` // Log format: text, json
	DBPath    string `yaml:"db_path"`    // SQLite database path (":memory:" for testing)

	// APIKeys maps bearer keys to account addresses. When empty and
	// AllowAnonymous is set, callers identify via the X-Caller header.
	APIKeys        map[string]string `yaml:"api_keys"`
	AllowAnonymous bool              `yaml:"allow_anonymous"`
}

// EngineConfig holds the scheduling engine parameters.
type EngineConfig struct {
	// SlotDuration maps wall time onto slots.
	SlotDuration Duration `yaml:"slot_duration"`

	// Genesis anchors slot zero. Defaults to the Unix epoch so slots
	// line up with Unix seconds at the default slot duration.
	Genesis time.Time `yaml:"genesis"`

	// MaxScheduleDistance bounds how far ahead, in slots, a task may
	// be scheduled. MaxLookahead bounds schedule preview windows.
	MaxScheduleDistance uint64 `yaml:"max_schedule_distance"`
	MaxLookahead        uint64 `yaml:"max_lookahead"`

	// TargetDelay and GrowthRateBps seed the congestion pricing state.
	TargetDelay   uint64 `yaml:"target_delay"`
	GrowthRateBps uint64 `yaml:"growth_rate_bps"`

	// Pool accounts receiving the protocol and validator fee shares,
	// and the escrow account holding fees between schedule and payout.
	EscrowAccount string `yaml:"escrow_account"`
	ProtocolPool  string `yaml:"protocol_pool"`
	ValidatorPool string `yaml:"validator_pool"`
}

// LedgerConfig holds the bonded-balance ledger configuration.
type LedgerConfig struct {
	DBPath string `yaml:"db_path"` // Separate SQLite database for balances
}

// ArchiveConfig controls the optional retention sweeper. Disabled by
// default: consumed tasks stay queryable forever.
type ArchiveConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Bucket         string   `yaml:"bucket"`
	Prefix         string   `yaml:"prefix"`
	Region         string   `yaml:"region"`
	RetentionSlots uint64   `yaml:"retention_slots"`
	Interval       Duration `yaml:"interval"`
	BatchSize      int      `yaml:"batch_size"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`

	// OutputFile receives exported spans; empty means stdout.
	OutputFile string `yaml:"output_file"`
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:      ":8080",
			LogLevel:  "info",
			LogFormat: "text",
			DBPath:    "slotq.db",
		},
		Engine: EngineConfig{
			SlotDuration:        Duration(time.Second),
			Genesis:             time.Unix(0, 0).UTC(),
			MaxScheduleDistance: 100_000,
			MaxLookahead:        512,
			TargetDelay:         60,
			GrowthRateBps:       25,
			EscrowAccount:       "sys:escrow",
			ProtocolPool:        "sys:protocol",
			ValidatorPool:       "sys:validators",
		},
		Ledger: LedgerConfig{
			DBPath: "ledger.db",
		},
		Archive: ArchiveConfig{
			RetentionSlots: 1_209_600, // 14 days of one-second slots
			Interval:       Duration(5 * time.Minute),
			BatchSize:      256,
		},
		Tracing: TracingConfig{
			ServiceName: "slotq",
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.SlotDuration <= 0 {
		return fmt.Errorf("engine.slot_duration must be positive, got %s", c.Engine.SlotDuration)
	}
	if c.Engine.MaxScheduleDistance == 0 {
		return fmt.Errorf("engine.max_schedule_distance must be positive")
	}
	if c.Engine.MaxLookahead > c.Engine.MaxScheduleDistance {
		return fmt.Errorf("engine.max_lookahead %d exceeds max_schedule_distance %d",
			c.Engine.MaxLookahead, c.Engine.MaxScheduleDistance)
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket required when archive is enabled")
	}
	return nil
}
