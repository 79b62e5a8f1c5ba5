// Package config loads typed salespipe configuration from YAML or JSON
// files and converts it into the option sets the core components take.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/salespipe/pkg/salespipe/analytics"
	"github.com/randalmurphal/salespipe/pkg/salespipe/ingest"
)

// File is the root of a salespipe configuration file.
type File struct {
	Engine    Engine    `yaml:"engine" json:"engine"`
	Ingest    Ingest    `yaml:"ingest" json:"ingest"`
	Analytics Analytics `yaml:"analytics" json:"analytics"`
	Logging   Logging   `yaml:"logging" json:"logging"`
}

// Engine configures the job engine.
type Engine struct {
	Workers       int   `yaml:"workers" json:"workers"`
	QueueCapacity int   `yaml:"queue_capacity" json:"queue_capacity"`
	Retry         Retry `yaml:"retry" json:"retry"`
}

// Retry configures the transient-failure retry policy.
type Retry struct {
	MaxAttempts    int      `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff" json:"max_backoff"`
	BackoffFactor  float64  `yaml:"backoff_factor" json:"backoff_factor"`
	Jitter         float64  `yaml:"jitter" json:"jitter"`
}

// Ingest configures the parse side of the ingestion pipeline.
type Ingest struct {
	Delimiter        string            `yaml:"delimiter" json:"delimiter"`
	DateFormat       string            `yaml:"date_format" json:"date_format"`
	Columns          map[string]string `yaml:"columns" json:"columns"`
	ProgressRows     int               `yaml:"progress_rows" json:"progress_rows"`
	ProgressInterval Duration          `yaml:"progress_interval" json:"progress_interval"`
}

// Analytics configures KPI materialization and alerting.
type Analytics struct {
	TopN  int              `yaml:"top_n" json:"top_n"`
	Rules []analytics.Rule `yaml:"rules" json:"rules"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Duration accepts Go duration strings ("250ms", "2s") in both YAML and
// JSON, plus bare numbers interpreted as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	case float64:
		*d = Duration(int64(v))
	default:
		return fmt.Errorf("cannot parse %T as duration", raw)
	}
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

var (
	validOperators = map[analytics.Operator]bool{
		analytics.OpGreater: true, analytics.OpLess: true,
		analytics.OpGreaterEqual: true, analytics.OpLessEqual: true,
		analytics.OpEqual: true,
	}
	validMetrics = map[analytics.MetricKind]bool{
		analytics.MetricRevenue: true, analytics.MetricUnits: true,
		analytics.MetricReceipts: true, analytics.MetricAvgBasket: true,
	}
	validSeverities = map[analytics.Severity]bool{
		analytics.SeverityInfo: true, analytics.SeverityWarning: true,
		analytics.SeverityCritical: true,
	}
)

// Validate checks the configuration for values that would misconfigure
// a component at runtime. Zero values are fine; they mean defaults.
func (f *File) Validate() error {
	if f.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative")
	}
	if f.Engine.QueueCapacity < 0 {
		return fmt.Errorf("engine.queue_capacity must not be negative")
	}
	if f.Ingest.Delimiter != "" && utf8.RuneCountInString(f.Ingest.Delimiter) != 1 {
		return fmt.Errorf("ingest.delimiter must be a single character, got %q", f.Ingest.Delimiter)
	}
	for i, rule := range f.Analytics.Rules {
		if rule.ID == "" {
			return fmt.Errorf("analytics.rules[%d]: id is required", i)
		}
		if !validMetrics[rule.Metric] {
			return fmt.Errorf("analytics.rules[%d] (%s): metric %q is not alertable", i, rule.ID, rule.Metric)
		}
		if !validOperators[rule.Operator] {
			return fmt.Errorf("analytics.rules[%d] (%s): unknown operator %q", i, rule.ID, rule.Operator)
		}
		if !validSeverities[rule.Severity] {
			return fmt.Errorf("analytics.rules[%d] (%s): unknown severity %q", i, rule.ID, rule.Severity)
		}
	}
	if f.Logging.Level != "" {
		if _, err := parseLevel(f.Logging.Level); err != nil {
			return err
		}
	}
	switch strings.ToLower(f.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", f.Logging.Format)
	}
	return nil
}

// PipelineConfig converts the ingest section into the pipeline's parse
// configuration. Unset fields keep the pipeline defaults.
func (f *File) PipelineConfig() ingest.Config {
	cfg := ingest.Config{
		DateFormat:       f.Ingest.DateFormat,
		ProgressRows:     f.Ingest.ProgressRows,
		ProgressInterval: f.Ingest.ProgressInterval.Std(),
	}
	if f.Ingest.Delimiter != "" {
		cfg.Delimiter, _ = utf8.DecodeRuneInString(f.Ingest.Delimiter)
	}
	if len(f.Ingest.Columns) > 0 {
		cfg.Columns = make(map[string]ingest.Field, len(f.Ingest.Columns))
		for col, field := range f.Ingest.Columns {
			cfg.Columns[col] = ingest.Field(field)
		}
	}
	return cfg
}

// MaterializerOptions converts the analytics section into materializer
// options.
func (f *File) MaterializerOptions() []analytics.MaterializerOption {
	var opts []analytics.MaterializerOption
	if f.Analytics.TopN > 0 {
		opts = append(opts, analytics.WithTopN(f.Analytics.TopN))
	}
	if len(f.Analytics.Rules) > 0 {
		opts = append(opts, analytics.WithRules(f.Analytics.Rules))
	}
	return opts
}

// Logger builds a slog.Logger per the logging section, writing to w.
func (f *File) Logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if f.Logging.Level != "" {
		level, _ = parseLevel(f.Logging.Level)
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(f.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
