package main

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Zereker/xcpudp"
)

// Config is the configuration file of xcpserver.
type Config struct {
	Listen         string        `yaml:"listen"`
	Mode           string        `yaml:"mode"`
	Layout         string        `yaml:"layout"`
	QueueDepth     int           `yaml:"queue_depth"`
	MTU            int           `yaml:"mtu"`
	MaxCTO         int           `yaml:"max_cto"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	SendBufferSize int           `yaml:"send_buffer_size"`
	AnySender      bool          `yaml:"any_sender"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	LogLevel       string        `yaml:"log_level"`
	Demo           DemoConfig    `yaml:"demo"`
}

// DemoConfig configures the synthetic measurement producers.
type DemoConfig struct {
	Producers int           `yaml:"producers"`
	Interval  time.Duration `yaml:"interval"`
	Size      int           `yaml:"size"`
}

func defaultConfig() *Config {
	return &Config{
		Listen:         ":5555",
		Mode:           xcpudp.ModeQueue.String(),
		Layout:         xcpudp.CounterFirst.String(),
		QueueDepth:     xcpudp.DefaultQueueDepth,
		MTU:            xcpudp.DefaultMTU,
		MaxCTO:         xcpudp.DefaultMaxCTO,
		ReceiveTimeout: xcpudp.DefaultReceiveTimeout,
		FlushInterval:  xcpudp.DefaultFlushInterval,
		SendBufferSize: xcpudp.DefaultSendBufferSize,
		LogLevel:       "info",
		Demo: DemoConfig{
			Interval: time.Millisecond,
			Size:     8,
		},
	}
}

// LoadConfig reads the YAML file at path on top of the defaults.
// An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate checks the values that are not validated by the transport itself.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if _, err := parseMode(c.Mode); err != nil {
		return err
	}
	if _, err := parseLayout(c.Layout); err != nil {
		return err
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Demo.Producers < 0 {
		return errors.Errorf("demo producers must not be negative, got %d", c.Demo.Producers)
	}
	if c.Demo.Producers > 0 {
		if c.Demo.Interval <= 0 {
			return errors.Errorf("demo interval must be positive, got %v", c.Demo.Interval)
		}
		if c.Demo.Size < demoHeaderSize || c.Demo.Size > xcpudp.MaxPayload(c.MTU) {
			return errors.Errorf("demo size must be in [%d, %d], got %d", demoHeaderSize, xcpudp.MaxPayload(c.MTU), c.Demo.Size)
		}
	}
	return nil
}

// Options converts the configuration into transport options.
func (c *Config) Options() ([]xcpudp.Option, error) {
	mode, err := parseMode(c.Mode)
	if err != nil {
		return nil, err
	}
	layout, err := parseLayout(c.Layout)
	if err != nil {
		return nil, err
	}

	return []xcpudp.Option{
		xcpudp.ModeOption(mode),
		xcpudp.FrameLayoutOption(layout),
		xcpudp.QueueDepthOption(c.QueueDepth),
		xcpudp.MTUOption(c.MTU),
		xcpudp.MaxCTOOption(c.MaxCTO),
		xcpudp.ReceiveTimeoutOption(c.ReceiveTimeout),
		xcpudp.FlushIntervalOption(c.FlushInterval),
		xcpudp.SendBufferSizeOption(c.SendBufferSize),
		xcpudp.AnySenderOption(c.AnySender),
	}, nil
}

func parseMode(s string) (xcpudp.Mode, error) {
	for _, m := range []xcpudp.Mode{xcpudp.ModeQueue, xcpudp.ModeSingleBuffer} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, errors.Errorf("unknown mode %q (want queue or single-buffer)", s)
}

func parseLayout(s string) (xcpudp.FrameLayout, error) {
	for _, l := range []xcpudp.FrameLayout{xcpudp.CounterFirst, xcpudp.LengthFirst} {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	return 0, errors.Errorf("unknown layout %q (want counter-first or length-first)", s)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.Errorf("unknown log level %q", s)
	}
	return level, nil
}
