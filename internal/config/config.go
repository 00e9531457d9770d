// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// DefaultTieMargin is the score gap below which two readings of a step, or two
// candidate elements, are treated as equally good.
const DefaultTieMargin = 0.05

// Ambiguity policies applied by the step orchestrator.
const (
	AmbiguityFail      = "fail"       // Report Ambiguous and let the tester rewrite the step.
	AmbiguityPickFirst = "pick_first" // Act on the first candidate in document order.
)

// Session contention policies.
const (
	ContentionReject = "reject" // A second concurrent step fails immediately.
	ContentionQueue  = "queue"  // A second concurrent step waits for the first.
)

// Browser drivers.
const (
	DriverChromedp = "chromedp"
	DriverDOM      = "dom"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Pipeline() PipelineConfig
	Parser() ParserConfig
	Resolver() ResolverConfig
	Retry() RetryConfig
	Validator() ValidatorConfig
	Agent() AgentConfig
	Metrics() MetricsConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserDriver(string)
	SetBrowserConcurrency(int)

	// Pipeline Setters
	SetPipelineAmbiguityPolicy(string)
	SetPipelineStepTimeout(time.Duration)

	// Parser Setters
	SetParserSuggesterEnabled(bool)
}

// Config holds the entire application configuration. Sections are exported so
// viper can unmarshal into them; components read them through Interface.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	PipelineCfg  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	ParserCfg    ParserConfig    `mapstructure:"parser" yaml:"parser"`
	ResolverCfg  ResolverConfig  `mapstructure:"resolver" yaml:"resolver"`
	RetryCfg     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	ValidatorCfg ValidatorConfig `mapstructure:"validator" yaml:"validator"`
	AgentCfg     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	MetricsCfg   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Pipeline() PipelineConfig   { return c.PipelineCfg }
func (c *Config) Parser() ParserConfig       { return c.ParserCfg }
func (c *Config) Resolver() ResolverConfig   { return c.ResolverCfg }
func (c *Config) Retry() RetryConfig         { return c.RetryCfg }
func (c *Config) Validator() ValidatorConfig { return c.ValidatorCfg }
func (c *Config) Agent() AgentConfig         { return c.AgentCfg }
func (c *Config) Metrics() MetricsConfig     { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)      { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserDriver(d string)      { c.BrowserCfg.Driver = d }
func (c *Config) SetBrowserConcurrency(n int)    { c.BrowserCfg.Concurrency = n }
func (c *Config) SetParserSuggesterEnabled(b bool) { c.ParserCfg.SuggesterEnabled = b }

func (c *Config) SetPipelineAmbiguityPolicy(p string) { c.PipelineCfg.AmbiguityPolicy = p }
func (c *Config) SetPipelineStepTimeout(d time.Duration) {
	c.PipelineCfg.StepTimeout = d
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browser each session drives.
type BrowserConfig struct {
	Driver            string            `mapstructure:"driver" yaml:"driver"`
	Headless          bool              `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Concurrency       int               `mapstructure:"concurrency" yaml:"concurrency"`
	ExecPath          string            `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent         string            `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string          `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int    `mapstructure:"viewport" yaml:"viewport"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration     `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	PollInterval      time.Duration     `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// PipelineConfig tunes the step orchestrator.
type PipelineConfig struct {
	StepTimeout        time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	ValidationTimeout  time.Duration `mapstructure:"validation_timeout" yaml:"validation_timeout"`
	AmbiguityPolicy    string        `mapstructure:"ambiguity_policy" yaml:"ambiguity_policy"`
	SessionContention  string        `mapstructure:"session_contention" yaml:"session_contention"`
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout" yaml:"session_idle_timeout"`
	ReaperInterval     time.Duration `mapstructure:"reaper_interval" yaml:"reaper_interval"`
	ScreenshotOnFail   bool          `mapstructure:"screenshot_on_failure" yaml:"screenshot_on_failure"`
	ArtifactDir        string        `mapstructure:"artifact_dir" yaml:"artifact_dir"`
}

// ParserConfig tunes intent parsing.
type ParserConfig struct {
	MinConfidence    float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
	TieMargin        float64       `mapstructure:"tie_margin" yaml:"tie_margin"`
	SuggesterEnabled bool          `mapstructure:"suggester_enabled" yaml:"suggester_enabled"`
	SuggesterTimeout time.Duration `mapstructure:"suggester_timeout" yaml:"suggester_timeout"`
}

// ResolverConfig tunes target resolution. Weights scale the text similarity
// produced by each strategy.
type ResolverConfig struct {
	MinScore         float64 `mapstructure:"min_score" yaml:"min_score"`
	TieMargin        float64 `mapstructure:"tie_margin" yaml:"tie_margin"`
	MaxCandidates    int     `mapstructure:"max_candidates" yaml:"max_candidates"`
	RoleWeight       float64 `mapstructure:"role_weight" yaml:"role_weight"`
	TestIDWeight     float64 `mapstructure:"test_id_weight" yaml:"test_id_weight"`
	LabelWeight      float64 `mapstructure:"label_weight" yaml:"label_weight"`
	TextWeight       float64 `mapstructure:"text_weight" yaml:"text_weight"`
	StructuralWeight float64 `mapstructure:"structural_weight" yaml:"structural_weight"`
	AliasWeight      float64 `mapstructure:"alias_weight" yaml:"alias_weight"`
	HintBoost        float64 `mapstructure:"hint_boost" yaml:"hint_boost"`
}

// RetryConfig is the single retry policy shared by the executor and the
// resolver re-invocation on stale locators.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
}

// ValidatorConfig tunes assertions.
type ValidatorConfig struct {
	VisualSimilarityThreshold float64 `mapstructure:"visual_similarity_threshold" yaml:"visual_similarity_threshold"`
	VisualCompareSize         int     `mapstructure:"visual_compare_size" yaml:"visual_compare_size"`
	ExactTextByDefault        bool    `mapstructure:"exact_text_by_default" yaml:"exact_text_by_default"`
}

// MetricsConfig controls the prometheus exporter.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	Address   string `mapstructure:"address" yaml:"address"`
}

// AgentConfig holds settings for the optional language-model suggester.
type AgentConfig struct {
	LLM       LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	RateLimit float64         `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second.
	Burst     int             `mapstructure:"burst" yaml:"burst"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"-"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "stepdriver")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.concurrency", 4)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 800})
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.post_load_wait", "300ms")
	v.SetDefault("browser.poll_interval", "100ms")

	// -- Pipeline --
	v.SetDefault("pipeline.step_timeout", "30s")
	v.SetDefault("pipeline.validation_timeout", "10s")
	v.SetDefault("pipeline.ambiguity_policy", AmbiguityFail)
	v.SetDefault("pipeline.session_contention", ContentionReject)
	v.SetDefault("pipeline.session_idle_timeout", "15m")
	v.SetDefault("pipeline.reaper_interval", "1m")
	v.SetDefault("pipeline.screenshot_on_failure", false)

	// -- Parser --
	v.SetDefault("parser.min_confidence", 0.55)
	v.SetDefault("parser.tie_margin", DefaultTieMargin)
	v.SetDefault("parser.suggester_enabled", false)
	v.SetDefault("parser.suggester_timeout", "5s")

	// -- Resolver --
	v.SetDefault("resolver.min_score", 0.5)
	v.SetDefault("resolver.tie_margin", DefaultTieMargin)
	v.SetDefault("resolver.max_candidates", 5)
	v.SetDefault("resolver.role_weight", 1.0)
	v.SetDefault("resolver.test_id_weight", 1.0)
	v.SetDefault("resolver.label_weight", 0.95)
	v.SetDefault("resolver.text_weight", 0.9)
	v.SetDefault("resolver.structural_weight", 0.7)
	v.SetDefault("resolver.alias_weight", 1.0)
	v.SetDefault("resolver.hint_boost", 0.03)

	// -- Retry --
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_interval", "200ms")
	v.SetDefault("retry.max_interval", "2s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_elapsed_time", "10s")

	// -- Validator --
	v.SetDefault("validator.visual_similarity_threshold", 0.95)
	v.SetDefault("validator.visual_compare_size", 64)
	v.SetDefault("validator.exact_text_by_default", false)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "stepdriver")
	v.SetDefault("metrics.address", ":9464")

	// -- Agent --
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.rate_limit", 2.0)
	v.SetDefault("agent.burst", 2)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("agent.api_key", "STEPDRIVER_GEMINI_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Model entries without their own key inherit the shared one.
	apiKey := v.GetString("agent.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	for name, model := range cfg.AgentCfg.LLM.Models {
		if model.APIKey == "" && model.Provider == ProviderGemini {
			model.APIKey = apiKey
			cfg.AgentCfg.LLM.Models[name] = model
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.Concurrency <= 0 {
		return fmt.Errorf("browser.concurrency must be a positive integer")
	}
	if c.BrowserCfg.Driver != DriverChromedp && c.BrowserCfg.Driver != DriverDOM {
		return fmt.Errorf("browser.driver must be one of [%s, %s], got '%s'", DriverChromedp, DriverDOM, c.BrowserCfg.Driver)
	}
	if err := c.PipelineCfg.Validate(); err != nil {
		return fmt.Errorf("pipeline configuration invalid: %w", err)
	}
	if err := c.ParserCfg.Validate(); err != nil {
		return fmt.Errorf("parser configuration invalid: %w", err)
	}
	if err := c.ResolverCfg.Validate(); err != nil {
		return fmt.Errorf("resolver configuration invalid: %w", err)
	}
	if err := c.RetryCfg.Validate(); err != nil {
		return fmt.Errorf("retry configuration invalid: %w", err)
	}
	if t := c.ValidatorCfg.VisualSimilarityThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("validator.visual_similarity_threshold must be in (0, 1]")
	}
	return nil
}

// Validate checks the orchestrator settings.
func (p *PipelineConfig) Validate() error {
	if p.StepTimeout <= 0 {
		return fmt.Errorf("step_timeout must be a positive duration")
	}
	if p.AmbiguityPolicy != AmbiguityFail && p.AmbiguityPolicy != AmbiguityPickFirst {
		return fmt.Errorf("ambiguity_policy must be '%s' or '%s'", AmbiguityFail, AmbiguityPickFirst)
	}
	if p.SessionContention != ContentionReject && p.SessionContention != ContentionQueue {
		return fmt.Errorf("session_contention must be '%s' or '%s'", ContentionReject, ContentionQueue)
	}
	return nil
}

// Validate checks the parser thresholds.
func (p *ParserConfig) Validate() error {
	if p.MinConfidence < 0.0 || p.MinConfidence > 1.0 {
		return fmt.Errorf("min_confidence must be between 0.0 and 1.0")
	}
	if p.TieMargin < 0.0 || p.TieMargin >= 1.0 {
		return fmt.Errorf("tie_margin must be in [0.0, 1.0)")
	}
	return nil
}

// Validate checks the resolver thresholds.
func (r *ResolverConfig) Validate() error {
	if r.MinScore < 0.0 || r.MinScore > 1.0 {
		return fmt.Errorf("min_score must be between 0.0 and 1.0")
	}
	if r.TieMargin < 0.0 || r.TieMargin >= 1.0 {
		return fmt.Errorf("tie_margin must be in [0.0, 1.0)")
	}
	if r.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be a positive integer")
	}
	return nil
}

// Validate checks the retry policy.
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be a positive integer")
	}
	if r.InitialInterval <= 0 || r.MaxInterval < r.InitialInterval {
		return fmt.Errorf("initial_interval must be positive and not exceed max_interval")
	}
	if r.Multiplier < 1.0 {
		return fmt.Errorf("multiplier must be at least 1.0")
	}
	return nil
}
