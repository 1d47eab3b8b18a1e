package restwrap

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Build-time variables - inject via ldflags
// Example: go build -ldflags "-X restwrap.ruCaptchaAPIKey=YOUR_KEY"
var (
	ruCaptchaAPIKey  string // -X restwrap.ruCaptchaAPIKey=...
	twoCaptchaAPIKey string // -X restwrap.twoCaptchaAPIKey=...
	capSolverAPIKey  string // -X restwrap.capSolverAPIKey=...
)

// Environment variables read by LoadConfig.
const (
	EnvRuCaptchaKey  = "RUCAPTCHA_KEY"
	EnvTwoCaptchaKey = "2CAP_KEY"
	EnvCapSolverKey  = "CAPSOLVER_KEY"
	EnvProxy         = "RESTWRAP_PROXY"
)

// Config is everything needed to build a Session, Logger, Solver and
// Dispatcher.
type Config struct {
	Proxy   string
	Headers map[string]string
	Timeout time.Duration

	RetryAttempts int
	RetryBackoff  time.Duration

	LogConsole bool
	LogFile    bool
	LogPath    string
	LogPretty  bool
	LogLevel   string

	Solver        string // rucaptcha, 2captcha, capsolver, auto
	SolverTimeout time.Duration
	RuCaptchaKey  string
	TwoCaptchaKey string
	CapSolverKey  string
}

func DefaultConfig() Config {
	return Config{
		RetryAttempts: defaultRetryAttempts,
		RetryBackoff:  defaultRetryBackoff,
		LogConsole:    true,
		LogPath:       "restwrap.log",
		LogPretty:     true,
		LogLevel:      "info",
		Solver:        "auto",
		SolverTimeout: defaultSolveTimeout,
	}
}

type fileConfig struct {
	Proxy         string            `toml:"proxy"`
	Headers       map[string]string `toml:"headers"`
	Timeout       string            `toml:"timeout"`
	RetryAttempts int               `toml:"retry_attempts"`
	RetryBackoff  string            `toml:"retry_backoff"`
	LogConsole    bool              `toml:"log_console"`
	LogFile       bool              `toml:"log_file"`
	LogPath       string            `toml:"log_path"`
	LogPretty     bool              `toml:"log_pretty"`
	LogLevel      string            `toml:"log_level"`
	Solver        string            `toml:"solver"`
	SolverTimeout string            `toml:"solver_timeout"`
	RuCaptchaKey  string            `toml:"rucaptcha_key"`
	TwoCaptchaKey string            `toml:"twocaptcha_key"`
	CapSolverKey  string            `toml:"capsolver_key"`
}

// LoadConfig builds a Config from defaults, the TOML file at path (skipped
// when path is empty), build-time keys and the environment, later sources
// winning.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := applyConfigFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyKeyOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyConfigFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("proxy") {
		cfg.Proxy = strings.TrimSpace(raw.Proxy)
	}
	if meta.IsDefined("headers") {
		cfg.Headers = raw.Headers
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("retry_attempts") {
		cfg.RetryAttempts = raw.RetryAttempts
	}
	if meta.IsDefined("retry_backoff") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RetryBackoff))
		if err != nil {
			return fmt.Errorf("parse retry_backoff: %w", err)
		}
		cfg.RetryBackoff = d
	}
	if meta.IsDefined("log_console") {
		cfg.LogConsole = raw.LogConsole
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = raw.LogFile
	}
	if meta.IsDefined("log_path") {
		cfg.LogPath = strings.TrimSpace(raw.LogPath)
	}
	if meta.IsDefined("log_pretty") {
		cfg.LogPretty = raw.LogPretty
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("solver") {
		cfg.Solver = strings.ToLower(strings.TrimSpace(raw.Solver))
	}
	if meta.IsDefined("solver_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SolverTimeout))
		if err != nil {
			return fmt.Errorf("parse solver_timeout: %w", err)
		}
		cfg.SolverTimeout = d
	}
	if meta.IsDefined("rucaptcha_key") {
		cfg.RuCaptchaKey = raw.RuCaptchaKey
	}
	if meta.IsDefined("twocaptcha_key") {
		cfg.TwoCaptchaKey = raw.TwoCaptchaKey
	}
	if meta.IsDefined("capsolver_key") {
		cfg.CapSolverKey = raw.CapSolverKey
	}
	return nil
}

// applyKeyOverrides layers build-time keys, then environment variables, over cfg.
func applyKeyOverrides(cfg *Config) {
	override := func(dst *string, buildTime, env string) {
		if buildTime != "" {
			*dst = buildTime
		}
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	override(&cfg.RuCaptchaKey, ruCaptchaAPIKey, EnvRuCaptchaKey)
	override(&cfg.TwoCaptchaKey, twoCaptchaAPIKey, EnvTwoCaptchaKey)
	override(&cfg.CapSolverKey, capSolverAPIKey, EnvCapSolverKey)
	override(&cfg.Proxy, "", EnvProxy)
}

func (c Config) Validate() error {
	var errs []error
	if c.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("retry_attempts must be positive, got %d", c.RetryAttempts))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry_backoff must not be negative"))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative"))
	}
	if c.Proxy != "" {
		if _, _, ok := ParseProxy(c.Proxy); !ok {
			errs = append(errs, fmt.Errorf("invalid proxy %q", c.Proxy))
		}
	}
	switch c.Solver {
	case "auto", "rucaptcha", "2captcha", "capsolver", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown solver %q", c.Solver))
	}
	return errors.Join(errs...)
}

// LogConfig returns the per-call sink selection.
func (c Config) LogConfig() LogConfig {
	return LogConfig{Console: c.LogConsole, File: c.LogFile}
}

// NewLogger builds the ZeroLogger described by c.
func (c Config) NewLogger() (*ZeroLogger, error) {
	lc := LoggerConfig{Level: c.LogLevel, Pretty: c.LogPretty}
	if c.LogFile {
		lc.FilePath = c.LogPath
	}
	return NewLogger(lc)
}

// NewSolver builds the configured solver. It returns nil when no provider
// has a key, or the solver is "none".
func (c Config) NewSolver() Solver {
	var providers []*TaskSolver
	switch c.Solver {
	case "none":
		return nil
	case "rucaptcha":
		providers = append(providers, NewRuCaptcha(c.RuCaptchaKey))
	case "2captcha":
		providers = append(providers, NewTwoCaptcha(c.TwoCaptchaKey))
	case "capsolver":
		providers = append(providers, NewCapSolver(c.CapSolverKey))
	default:
		providers = append(providers,
			NewRuCaptcha(c.RuCaptchaKey),
			NewTwoCaptcha(c.TwoCaptchaKey),
			NewCapSolver(c.CapSolverKey),
		)
	}
	for _, p := range providers {
		p.Timeout = c.SolverTimeout
		p.UserAgent = DefaultProfile.UserAgent
	}

	pm := NewProviderManager(providers...)
	if pm.Count() == 0 {
		return nil
	}
	return pm
}

// NewSession builds a base session from the default browser profile with
// the configured headers and proxy applied. New headers are appended to the
// wire order sorted by name.
func (c Config) NewSession() (*Session, error) {
	s := DefaultProfile.NewSession()
	keys := make([]string, 0, len(c.Headers))
	for k := range c.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.SetHeader(k, c.Headers[k])
	}
	if c.Proxy != "" {
		proxyURL, _, ok := ParseProxy(c.Proxy)
		if !ok {
			return nil, fmt.Errorf("invalid proxy %q", c.Proxy)
		}
		s.Proxy = proxyURL
	}
	return s, nil
}

// NewDispatcher builds a Dispatcher from c.
func (c Config) NewDispatcher(logger Logger, solver Solver, opts ...Option) *Dispatcher {
	base := []Option{
		WithLogger(logger),
		WithRetry(c.RetryAttempts, c.RetryBackoff),
	}
	if solver != nil {
		base = append(base, WithSolver(solver))
	}
	return NewDispatcher(append(base, opts...)...)
}
