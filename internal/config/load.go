package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Defaults applied when fields are omitted. Phrase lists follow the original
// assistant triggers; override them in config to localize.
var (
	DefaultGoodNightPhrases = []string{
		"good night", "goodnight", "gn!", "going to bed", "heading to bed",
		"sleep well", "im off to sleep", "i'm off to sleep",
	}
	DefaultMorningPhrases = []string{
		"good morning", "goodmorning", "gm!", "morning!", "im up", "i'm up",
		"im awake", "i'm awake",
	}
)

const (
	DefaultWindowStart       = "22:30"
	DefaultWindowEnd         = "05:00"
	DefaultGoodNightBuffer   = 30 * time.Minute
	DefaultActivityThreshold = 10 * time.Minute
	DefaultTickInterval      = 5 * time.Minute
	DefaultMaxCyclesPerNight = 10
	DefaultRetryMax          = 3
)

// Load reads, decodes and validates a config file (JSON, or YAML by extension).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	jsonBytes, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s config: %w", format, err)
	}

	var cfg Config
	if err := decodeStrict(jsonBytes, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	n := &cfg.Night
	if strings.TrimSpace(n.WindowStart) == "" {
		n.WindowStart = DefaultWindowStart
	}
	if strings.TrimSpace(n.WindowEnd) == "" {
		n.WindowEnd = DefaultWindowEnd
	}
	if n.MaxCyclesPerNight <= 0 {
		n.MaxCyclesPerNight = DefaultMaxCyclesPerNight
	}
	if n.RetryMax <= 0 {
		n.RetryMax = DefaultRetryMax
	}
	if len(n.GoodNightPhrases) == 0 {
		n.GoodNightPhrases = append([]string(nil), DefaultGoodNightPhrases...)
	}
	if len(n.MorningPhrases) == 0 {
		n.MorningPhrases = append([]string(nil), DefaultMorningPhrases...)
	}
}

// Validate checks the parts of the config that would otherwise fail late.
func Validate(cfg *Config) error {
	if _, _, err := ParseClock("night.window_start", cfg.Night.WindowStart); err != nil {
		return err
	}
	if _, _, err := ParseClock("night.window_end", cfg.Night.WindowEnd); err != nil {
		return err
	}
	if _, err := ParseDurationField("night.good_night_buffer", cfg.Night.GoodNightBuffer); err != nil {
		return err
	}
	if _, err := ParseDurationField("night.activity_threshold", cfg.Night.ActivityThreshold); err != nil {
		return err
	}
	if _, err := ParseDurationField("night.tick_interval", cfg.Night.TickInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Night.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("night.timezone: unknown zone %q: %w", tz, err)
		}
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if cfg.Notifier != nil {
		if _, err := ParseDurationField("notifier.dedup_window", cfg.Notifier.DedupWindow); err != nil {
			return err
		}
	}
	return nil
}
