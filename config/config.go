// Package config loads the process configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Duration is a time.Duration written as a string such as "60s" or "100ms".
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: duration %q: %w", ErrInvalidConfig, s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds all configuration settings
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Log        LogConfig          `yaml:"log"`
	Bus        BusConfig          `yaml:"bus"`
	Pipeline   PipelineConfig     `yaml:"pipeline"`
	Engine     EngineConfig       `yaml:"engine"`
	Session    SessionConfig      `yaml:"session"`
	TradingDay string             `yaml:"trading_day"`
	Instrument []InstrumentConfig `yaml:"instruments"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	DepthLimit      uint32   `yaml:"depth_limit"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type BusConfig struct {
	Capacity int64    `yaml:"capacity"`
	IdleWait Duration `yaml:"idle_wait"`
}

type PipelineConfig struct {
	Timeout  Duration `yaml:"timeout"`
	IdleWait Duration `yaml:"idle_wait"`
}

type EngineConfig struct {
	QueueSize int `yaml:"queue_size"`
}

type SessionConfig struct {
	// StartOrderID is the internal id counter's starting point; the first order gets StartOrderID+1.
	StartOrderID uint64 `yaml:"start_order_id"`
}

type InstrumentConfig struct {
	ID         string `yaml:"id"`
	ExchangeID string `yaml:"exchange_id"`
	Multiplier int64  `yaml:"multiplier"`
	PriceTick  string `yaml:"price_tick"`
}

// Default returns the configuration used for every field the file leaves out.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration(10 * time.Second),
			DepthLimit:      20,
		},
		Log: LogConfig{
			Level: "info",
		},
		Bus: BusConfig{
			Capacity: 4096,
			IdleWait: Duration(100 * time.Millisecond),
		},
		Pipeline: PipelineConfig{
			Timeout:  Duration(60 * time.Second),
			IdleWait: Duration(100 * time.Millisecond),
		},
		Engine: EngineConfig{
			QueueSize: 32768,
		},
	}
}

// Load reads the configuration from a YAML file
func Load(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values the core cannot start with.
func (c Config) Validate() error {
	if c.Bus.Capacity <= 0 || c.Bus.Capacity&(c.Bus.Capacity-1) != 0 {
		return fmt.Errorf("%w: bus.capacity must be a power of 2, got %d", ErrInvalidConfig, c.Bus.Capacity)
	}

	if c.Pipeline.Timeout <= 0 {
		return fmt.Errorf("%w: pipeline.timeout must be positive", ErrInvalidConfig)
	}

	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("%w: engine.queue_size must be positive", ErrInvalidConfig)
	}

	seen := make(map[string]struct{}, len(c.Instrument))
	for _, ins := range c.Instrument {
		if ins.ID == "" {
			return fmt.Errorf("%w: instrument without id", ErrInvalidConfig)
		}
		if _, ok := seen[ins.ID]; ok {
			return fmt.Errorf("%w: duplicate instrument %q", ErrInvalidConfig, ins.ID)
		}
		seen[ins.ID] = struct{}{}

		if ins.PriceTick != "" {
			if _, err := decimal.NewFromString(ins.PriceTick); err != nil {
				return fmt.Errorf("%w: instrument %q price_tick: %w", ErrInvalidConfig, ins.ID, err)
			}
		}
	}

	return nil
}

// SlogLevel maps Log.Level to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Save writes the configuration as YAML.
func Save(filename string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
