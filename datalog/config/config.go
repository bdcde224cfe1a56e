// Package config loads the YAML configuration shared by the cliodb binaries
// and builds their logger.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/loganmhb/cliodb/datalog/index"
	"github.com/loganmhb/cliodb/datalog/metrics"
	"github.com/loganmhb/cliodb/datalog/transactor"
)

// validate is a singleton validator instance
var validate = validator.New()

// Config is the configuration of a transactor or peer process
type Config struct {
	// Store is the block store URI, see storage.ParseLocation
	Store string `yaml:"store" validate:"required"`

	// Listen is the transactor's mangos address, e.g. tcp://127.0.0.1:9876
	Listen string `yaml:"listen" validate:"required,contains=://"`

	// MetricsAddr serves /metrics over HTTP when set
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`

	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	Transactor TransactorConfig `yaml:"transactor"`
	Index      IndexConfig      `yaml:"index"`
}

// TransactorConfig tunes the write path
type TransactorConfig struct {
	ReindexThreshold int `yaml:"reindex_threshold" validate:"min=1"`
	QueueSize        int `yaml:"queue_size" validate:"min=1"`
}

// IndexConfig shapes the durable trees
type IndexConfig struct {
	LeafCapacity int   `yaml:"leaf_capacity" validate:"min=4"`
	NodeCapacity int   `yaml:"node_capacity" validate:"min=3"`
	CacheBytes   int64 `yaml:"cache_bytes" validate:"min=0"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	tx := transactor.DefaultOptions()
	return Config{
		Store:    "badger://./cliodb-data",
		Listen:   "tcp://127.0.0.1:9876",
		LogLevel: "info",
		Transactor: TransactorConfig{
			ReindexThreshold: tx.ReindexThreshold,
			QueueSize:        tx.QueueSize,
		},
		Index: IndexConfig{
			LeafCapacity: tx.Index.LeafCapacity,
			NodeCapacity: tx.Index.NodeCapacity,
			CacheBytes:   tx.Index.CacheBytes,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError reports the first failed constraint
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return fmt.Errorf("invalid config: %w", err)
	}

	e := validationErrs[0]
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required":
		return fmt.Errorf("invalid config: %s is required", field)
	case "min":
		return fmt.Errorf("invalid config: %s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Errorf("invalid config: %s must be one of %s", field, e.Param())
	default:
		return fmt.Errorf("invalid config: %s failed %s validation", field, e.Tag())
	}
}

// IndexOptions returns the tree shape for index.NewNodeStore
func (c *Config) IndexOptions() index.Options {
	return index.Options{
		LeafCapacity: c.Index.LeafCapacity,
		NodeCapacity: c.Index.NodeCapacity,
		CacheBytes:   c.Index.CacheBytes,
	}
}

// TransactorOptions returns the transactor settings
func (c *Config) TransactorOptions(logger *slog.Logger, reg *metrics.Registry) transactor.Options {
	return transactor.Options{
		ReindexThreshold: c.Transactor.ReindexThreshold,
		QueueSize:        c.Transactor.QueueSize,
		Index:            c.IndexOptions(),
		Logger:           logger,
		Metrics:          reg,
	}
}

// ParseLevel maps a level name to a slog level
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}

// NewLogger returns a tint logger writing to f, colored when f is a terminal
func NewLogger(f *os.File, level slog.Leveler) *slog.Logger {
	return slog.New(tint.NewHandler(colorable.NewColorable(f), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(f.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Drop empty values.
			if a.Value.Kind() == slog.KindString && a.Value.String() == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}
