package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/zhaobenny/cptop/internal/model"
	"github.com/zhaobenny/cptop/internal/parser"
	"github.com/zhaobenny/cptop/internal/pricing"
)

// DefaultIdleAfter is how long a log must be untouched before it counts as complete
const DefaultIdleAfter = 10 * time.Minute

// Config holds the CLI configuration
type Config struct {
	Plan                string             `yaml:"plan,omitempty"`
	Seats               int                `yaml:"seats,omitempty"`
	BillingCycleDay     int                `yaml:"billing_cycle_day,omitempty"`
	Timezone            string             `yaml:"timezone,omitempty"`
	LogDir              string             `yaml:"log_dir,omitempty"`
	DBPath              string             `yaml:"db_path,omitempty"`
	IdleAfter           time.Duration      `yaml:"idle_after,omitempty"`
	CustomPlan          *model.Plan        `yaml:"custom_plan,omitempty"`
	MultiplierOverrides map[string]float64 `yaml:"multiplier_overrides,omitempty"`
	LogLevel            string             `yaml:"log_level,omitempty"`
	LogFormat           string             `yaml:"log_format,omitempty"`
	MetricsTextfile     string             `yaml:"metrics_textfile,omitempty"`
}

// Effective is the configuration resolved into values the core consumes
type Effective struct {
	Plan      model.Plan
	Seats     int
	Table     pricing.Table
	Location  *time.Location
	LogDir    string
	DBPath    string
	IdleAfter time.Duration
}

// DefaultPath returns the config file location under the XDG config home
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "cptop", "config.yaml")
}

// DefaultDBPath returns the event cache location under the XDG data home
func DefaultDBPath() string {
	return filepath.Join(xdg.DataHome, "cptop", "cptop.db")
}

// Load loads the configuration from disk. A missing file yields an empty config.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	// Model names contain dots, so keys are split on "::" instead.
	k := koanf.New("::")
	if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Save saves the configuration to disk
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Resolve applies defaults, picks the plan and merges multiplier overrides.
// Plan problems are returned wrapping model.ErrInvalidPlan.
func (c *Config) Resolve() (*Effective, error) {
	eff := &Effective{
		Seats:     c.Seats,
		LogDir:    c.LogDir,
		DBPath:    c.DBPath,
		IdleAfter: c.IdleAfter,
	}

	switch {
	case c.CustomPlan != nil:
		eff.Plan = *c.CustomPlan
		if eff.Plan.Key == "" {
			eff.Plan.Key = "custom"
		}
		if eff.Plan.Name == "" {
			eff.Plan.Name = "Custom"
		}
		if eff.Plan.BillingCycleStartDay == 0 {
			eff.Plan.BillingCycleStartDay = 1
		}
	default:
		key := c.Plan
		if key == "" {
			key = pricing.DefaultPlanKey
		}
		p, ok := pricing.GetPlan(key)
		if !ok {
			return nil, fmt.Errorf("%w: unknown plan %q", model.ErrInvalidPlan, key)
		}
		eff.Plan = p
	}
	if c.BillingCycleDay != 0 {
		eff.Plan.BillingCycleStartDay = c.BillingCycleDay
	}
	if eff.Seats == 0 {
		eff.Seats = 1
	}
	if err := pricing.ValidatePlan(eff.Plan, eff.Seats); err != nil {
		return nil, err
	}

	table, err := pricing.NewTable(pricing.GetEmbeddedMultipliers(), c.MultiplierOverrides)
	if err != nil {
		return nil, fmt.Errorf("multiplier overrides: %w", err)
	}
	eff.Table = table

	eff.Location = time.Local
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
		eff.Location = loc
	}

	if eff.LogDir == "" {
		dir, err := parser.DefaultLogDir()
		if err != nil {
			return nil, err
		}
		eff.LogDir = dir
	}
	if eff.DBPath == "" {
		eff.DBPath = DefaultDBPath()
	}
	if eff.IdleAfter <= 0 {
		eff.IdleAfter = DefaultIdleAfter
	}

	return eff, nil
}
