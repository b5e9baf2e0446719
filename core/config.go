package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the design: EFE coefficients, monitor
// thresholds and windows, memory/store settings, and the ambient logging
// configuration. It supports the same three-layer priority as the framework
// this module is built on:
//
//  1. Default values (set by applyDefaults; the default tags mirror them,
//     lowest priority)
//  2. Environment variables (the HCC_* set read by LoadFromEnv, medium
//     priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := core.NewConfig(
//	    core.WithEFECoefficients(3.0, 2.0, 1.5, 1.5, 2.0),
//	    core.WithMonitorThresholds(0.45, 0.35),
//	)
type Config struct {
	Name string `json:"name" env:"HCC_AGENT_NAME" default:"hcc-agent"`

	EFE       EFEConfig       `json:"efe"`
	Monitor   MonitorConfig   `json:"monitor"`
	Memory    MemoryConfig    `json:"memory"`
	Store     StoreConfig     `json:"store"`
	Planner   PlannerConfig   `json:"planner"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Logging   LoggingConfig   `json:"logging"`

	logger Logger    `json:"-"`
	tracer Telemetry `json:"-"`
}

// EFEConfig holds the Expected-Free-Energy coefficients (§4.1) and the
// cost/history windows they're evaluated against. These are configuration,
// not contract — spec.md §9 explicitly warns against silently re-tuning them.
type EFEConfig struct {
	Alpha float64 `json:"alpha" env:"HCC_EFE_ALPHA" default:"3.0"`
	Beta  float64 `json:"beta" env:"HCC_EFE_BETA" default:"2.0"`
	Gamma float64 `json:"gamma" env:"HCC_EFE_GAMMA" default:"1.5"`
	Delta float64 `json:"delta" env:"HCC_EFE_DELTA" default:"1.5"`
	Eps   float64 `json:"epsilon" env:"HCC_EFE_EPSILON" default:"2.0"`

	HabitWindow   int `json:"habit_window" env:"HCC_EFE_HABIT_WINDOW" default:"10"`
	RecentHistory int `json:"recent_history" env:"HCC_EFE_RECENT_HISTORY" default:"5"`
}

// MonitorConfig holds every threshold and window the Critical-State Monitor
// (§4.6) is evaluated against.
type MonitorConfig struct {
	HighEntropy float64 `json:"high_entropy" env:"HCC_MONITOR_HIGH_ENTROPY" default:"0.45"`
	LowEntropy  float64 `json:"low_entropy" env:"HCC_MONITOR_LOW_ENTROPY" default:"0.35"`
	NoveltyTh   float64 `json:"novelty_threshold" env:"HCC_MONITOR_NOVELTY" default:"0.8"`

	DeadlockWindow      int `json:"deadlock_window" env:"HCC_MONITOR_DEADLOCK_WINDOW" default:"4"`
	OscillationWindow   int `json:"oscillation_window" env:"HCC_MONITOR_OSCILLATION_WINDOW" default:"5"`
	OscillationMaxTrans int `json:"oscillation_max_transitions" env:"HCC_MONITOR_OSCILLATION_MAX" default:"2"`

	HubrisStreak    int     `json:"hubris_streak" env:"HCC_MONITOR_HUBRIS_STREAK" default:"5"`
	HubrisEntropyMax float64 `json:"hubris_entropy_max" env:"HCC_MONITOR_HUBRIS_ENTROPY_MAX" default:"0.1"`

	ScarcityFactor float64 `json:"scarcity_factor" env:"HCC_MONITOR_SCARCITY_FACTOR" default:"1.2"`

	MemoryVetoThreshold float64 `json:"memory_veto_threshold" env:"HCC_MONITOR_MEMORY_VETO" default:"0.5"`
	MemoryVetoMinUses   int     `json:"memory_veto_min_uses" env:"HCC_MONITOR_MEMORY_VETO_MIN_USES" default:"3"`

	CreditAssignmentDepth int `json:"credit_assignment_depth" env:"HCC_MONITOR_CREDIT_DEPTH" default:"3"`

	FallbackAction string `json:"fallback_action" env:"HCC_MONITOR_FALLBACK_ACTION" default:"look"`
}

// MemoryConfig controls procedural/episodic memory backends (§4.2, §4.3).
type MemoryConfig struct {
	RedisURL        string        `json:"redis_url" env:"HCC_REDIS_URL"`
	RetrievalTopK   int           `json:"retrieval_top_k" env:"HCC_MEMORY_TOP_K" default:"5"`
	RecencyDecay    time.Duration `json:"recency_decay" env:"HCC_MEMORY_RECENCY_DECAY" default:"336h"`
	JaccardThreshold float64      `json:"jaccard_threshold" env:"HCC_MEMORY_JACCARD_THRESHOLD" default:"0.6"`
}

// StoreConfig controls the graph store connection (§6).
type StoreConfig struct {
	Provider string        `json:"provider" env:"HCC_STORE_PROVIDER" default:"memory"`
	URL      string        `json:"url" env:"HCC_ARANGO_URL"`
	Username string        `json:"username" env:"HCC_ARANGO_USERNAME"`
	Password string        `json:"password" env:"HCC_ARANGO_PASSWORD"`
	Database string        `json:"database" env:"HCC_ARANGO_DATABASE" default:"hcc"`
	Deadline time.Duration `json:"deadline" env:"HCC_STORE_DEADLINE" default:"5s"`
}

// PlannerConfig controls the external planner oracle (§6).
type PlannerConfig struct {
	Enabled bool          `json:"enabled" env:"HCC_PLANNER_ENABLED" default:"false"`
	APIKey  string        `json:"api_key" env:"HCC_OPENAI_API_KEY"`
	Model   string        `json:"model" env:"HCC_PLANNER_MODEL" default:"gpt-4"`
	Timeout time.Duration `json:"timeout" env:"HCC_PLANNER_TIMEOUT" default:"30s"`
}

// TelemetryConfig controls the OpenTelemetry exporter used for spans around
// planner/store suspension points and metrics on critical-state transitions.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled" env:"HCC_TELEMETRY_ENABLED" default:"false"`
	Endpoint string `json:"endpoint" env:"HCC_OTEL_ENDPOINT"`
}

// LoggingConfig controls the default ProductionLogger.
type LoggingConfig struct {
	Level  string `json:"level" env:"HCC_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"HCC_LOG_FORMAT" default:"json"`
	Output string `json:"output" env:"HCC_LOG_OUTPUT" default:"stdout"`
}

// Option mutates a Config during construction; see NewConfig.
type Option func(*Config) error

// DefaultConfig returns a Config populated purely from the built-in defaults
// in applyDefaults (the same values the struct tags' default entries list).
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	cfg.Name = "hcc-agent"
	cfg.EFE = EFEConfig{Alpha: 3.0, Beta: 2.0, Gamma: 1.5, Delta: 1.5, Eps: 2.0, HabitWindow: 10, RecentHistory: 5}
	cfg.Monitor = MonitorConfig{
		HighEntropy: 0.45, LowEntropy: 0.35, NoveltyTh: 0.8,
		DeadlockWindow: 4, OscillationWindow: 5, OscillationMaxTrans: 2,
		HubrisStreak: 5, HubrisEntropyMax: 0.1, ScarcityFactor: 1.2,
		MemoryVetoThreshold: 0.5, MemoryVetoMinUses: 3,
		CreditAssignmentDepth: 3, FallbackAction: "look",
	}
	cfg.Memory = MemoryConfig{RetrievalTopK: 5, RecencyDecay: 336 * time.Hour, JaccardThreshold: 0.6}
	cfg.Store = StoreConfig{Provider: "memory", Database: "hcc", Deadline: 5 * time.Second}
	cfg.Planner = PlannerConfig{Model: "gpt-4", Timeout: 30 * time.Second}
	cfg.Logging = LoggingConfig{Level: "info", Format: "json", Output: "stdout"}
}

// LoadFromEnv overlays environment variables onto cfg. Only a fixed set of
// variables is consulted: HCC_AGENT_NAME, HCC_LOG_LEVEL, HCC_LOG_FORMAT,
// HCC_ARANGO_URL, HCC_ARANGO_USERNAME, HCC_ARANGO_PASSWORD, HCC_REDIS_URL,
// HCC_OPENAI_API_KEY, HCC_OTEL_ENDPOINT and HCC_EFE_ALPHA. The other names in
// the env tags above are not read. Unknown HCC_* variables are ignored rather
// than erroring, matching the teacher's permissive env-loading behaviour.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("HCC_AGENT_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("HCC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HCC_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("HCC_ARANGO_URL"); v != "" {
		c.Store.URL = v
		c.Store.Provider = "arangodb"
	}
	if v := os.Getenv("HCC_ARANGO_USERNAME"); v != "" {
		c.Store.Username = v
	}
	if v := os.Getenv("HCC_ARANGO_PASSWORD"); v != "" {
		c.Store.Password = v
	}
	if v := os.Getenv("HCC_REDIS_URL"); v != "" {
		c.Memory.RedisURL = v
	}
	if v := os.Getenv("HCC_OPENAI_API_KEY"); v != "" {
		c.Planner.APIKey = v
		c.Planner.Enabled = true
	}
	if v := os.Getenv("HCC_OTEL_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("HCC_EFE_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.EFE.Alpha = f
		}
	}
	return nil
}

// Validate enforces the "config error" class of §7: invalid coefficients or
// missing required external services are fatal at startup.
func (c *Config) Validate() error {
	if c.EFE.Gamma < 0 {
		return NewFrameworkError("config.Validate", "config", ErrInvalidConfiguration)
	}
	if c.Monitor.LowEntropy > c.Monitor.HighEntropy {
		return NewFrameworkError("config.Validate", "config", ErrInvalidConfiguration)
	}
	if c.Store.Provider == "arangodb" && (c.Store.URL == "" || c.Store.Username == "" || c.Store.Database == "") {
		return NewFrameworkError("config.Validate", "config", ErrMissingConfiguration)
	}
	if c.Planner.Enabled && c.Planner.APIKey == "" {
		return NewFrameworkError("config.Validate", "config", ErrMissingConfiguration)
	}
	return nil
}

// Functional options.

func WithName(name string) Option {
	return func(c *Config) error { c.Name = name; return nil }
}

func WithEFECoefficients(alpha, beta, gamma, delta, eps float64) Option {
	return func(c *Config) error {
		c.EFE.Alpha, c.EFE.Beta, c.EFE.Gamma, c.EFE.Delta, c.EFE.Eps = alpha, beta, gamma, delta, eps
		return nil
	}
}

func WithMonitorThresholds(highEntropy, lowEntropy float64) Option {
	return func(c *Config) error {
		if lowEntropy > highEntropy {
			return NewFrameworkError("WithMonitorThresholds", "config", ErrInvalidConfiguration)
		}
		c.Monitor.HighEntropy, c.Monitor.LowEntropy = highEntropy, lowEntropy
		return nil
	}
}

func WithArangoStore(url, username, password, database string) Option {
	return func(c *Config) error {
		c.Store.Provider = "arangodb"
		c.Store.URL, c.Store.Username, c.Store.Password, c.Store.Database = url, username, password, database
		return nil
	}
}

func WithRedisMemory(url string) Option {
	return func(c *Config) error { c.Memory.RedisURL = url; return nil }
}

func WithPlanner(apiKey, model string) Option {
	return func(c *Config) error {
		c.Planner.Enabled = true
		c.Planner.APIKey, c.Planner.Model = apiKey, model
		return nil
	}
}

func WithTelemetry(endpoint string) Option {
	return func(c *Config) error { c.Telemetry.Enabled = true; c.Telemetry.Endpoint = endpoint; return nil }
}

func WithLogLevel(level string) Option {
	return func(c *Config) error { c.Logging.Level = level; return nil }
}

func WithLogFormat(format string) Option {
	return func(c *Config) error { c.Logging.Format = format; return nil }
}

func WithLogger(logger Logger) Option {
	return func(c *Config) error { c.logger = logger; return nil }
}

// WithConfigFile overlays a YAML file onto cfg. Applied as an option so it
// participates in the normal option-ordering precedence (later options win).
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return NewFrameworkError("WithConfigFile", "config", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return NewFrameworkError("WithConfigFile", "config", err)
		}
		return nil
	}
}

// Logger returns the configured logger, constructing a default
// ProductionLogger lazily if none was set via WithLogger.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		logger := NewProductionLogger(c.Logging, c.Name)
		if pl, ok := logger.(*ProductionLogger); ok {
			trackLogger(pl)
		}
		c.logger = logger
	}
	return c.logger
}

// NewConfig applies defaults, then environment variables, then the given
// options, then validates — the three-layer precedence documented on Config.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	_ = cfg.Logger() // force lazy construction + metrics tracking

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ============================================================================
// ProductionLogger — layered observability, same shape as the framework this
// grew out of: human/JSON dual format, optional metrics emission once a
// MetricsRegistry is wired in via SetMetricsRegistry.
// ============================================================================

// ProductionLogger is the default Logger implementation.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer

	metricsEnabled bool
}

// NewProductionLogger creates a logger from LoggingConfig.
func NewProductionLogger(logging LoggingConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}
	return &ProductionLogger{
		level:       strings.ToLower(logging.Level),
		debug:       strings.ToLower(logging.Level) == "debug",
		serviceName: serviceName,
		format:      logging.Format,
		output:      output,
	}
}

// EnableMetrics is called by SetMetricsRegistry to turn on the metrics layer.
func (p *ProductionLogger) EnableMetrics() { p.metricsEnabled = true }

// WithComponent returns a logger tagging its output with component.
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)
	component := p.component
	if component == "" {
		component = "core"
	}

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": component,
			"message":   msg,
		}
		if ctx != nil && p.metricsEnabled {
			for k, v := range getContextBaggage(ctx) {
				logEntry["trace."+k] = v
			}
		}
		for k, v := range fields {
			logEntry[k] = v
		}
		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}
		fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s\n",
			timestamp, level, p.serviceName, component, msg, fieldStr.String())
	}

	if p.metricsEnabled {
		p.emitFrameworkMetric(level, msg, fields, ctx)
	}
}

func (p *ProductionLogger) emitFrameworkMetric(level, msg string, fields map[string]interface{}, ctx context.Context) {
	labels := []string{"level", level, "service", p.serviceName, "component", p.component}
	for k, v := range fields {
		switch k {
		case "operation", "status", "critical_state", "skill_id":
			labels = append(labels, k, fmt.Sprintf("%v", v))
		}
	}
	if ctx != nil {
		emitMetricWithContext(ctx, "hcc.core.operations", 1.0, labels...)
	} else {
		emitMetric("hcc.core.operations", 1.0, labels...)
	}
}

func emitMetric(name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.Counter(name, labels...)
	}
}

func emitMetricWithContext(ctx context.Context, name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.EmitWithContext(ctx, name, value, labels...)
	}
}

func getContextBaggage(ctx context.Context) map[string]string {
	if globalMetricsRegistry != nil {
		return globalMetricsRegistry.GetBaggage(ctx)
	}
	return make(map[string]string)
}
