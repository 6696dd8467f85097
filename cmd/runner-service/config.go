package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"nextgen/internal/common/cache"
	"nextgen/internal/common/http/middleware"
	"nextgen/internal/common/ratelimit"
	"nextgen/internal/execution/model"
	"nextgen/internal/sandbox/profile"
	"nextgen/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "RUNNER_"

	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultMaxBodyBytes    = 256 * 1024

	defaultCompileTimeout = 10 * time.Second
	defaultRunTimeout     = 5 * time.Second
	defaultMaxOutputBytes = 64 * 1024
	defaultMaxSourceBytes = 64 * 1024
	defaultMaxInputBytes  = 64 * 1024
	defaultAdmissionWait  = 2 * time.Second
	defaultWaitDelay      = 500 * time.Millisecond
	defaultRedisTimeout   = 200 * time.Millisecond
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	MaxBodyBytes int64         `yaml:"maxBodyBytes"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	MaxConcurrentJobs int           `yaml:"maxConcurrentJobs"`
	QueueSize         int           `yaml:"queueSize"`
	AdmissionWait     time.Duration `yaml:"admissionWait"`
}

// LimitsConfig bounds every job.
type LimitsConfig struct {
	CompileTimeout time.Duration `yaml:"compileTimeout"`
	RunTimeout     time.Duration `yaml:"runTimeout"`
	MaxOutputBytes int64         `yaml:"maxOutputBytes"`
	MaxSourceBytes int           `yaml:"maxSourceBytes"`
	MaxInputBytes  int           `yaml:"maxInputBytes"`
	CPUTimeSec     uint64        `yaml:"cpuTimeSec"`
	MemoryMB       uint64        `yaml:"memoryMB"`
	FileSizeMB     uint64        `yaml:"fileSizeMB"`
}

// SandboxConfig holds sandbox engine settings.
type SandboxConfig struct {
	WorkRoot     string `yaml:"workRoot"`
	CompilerPath string `yaml:"compilerPath"`
	// KeepRunningOnOutputLimit discards extra output instead of killing the program.
	KeepRunningOnOutputLimit bool          `yaml:"keepRunningOnOutputLimit"`
	EnableRlimits            bool          `yaml:"enableRlimits"`
	WaitDelay                time.Duration `yaml:"waitDelay"`
	SweepOnStart             bool          `yaml:"sweepOnStart"`
	// CgroupRoot is a delegated cgroup v2 directory for per-run cgroups.
	CgroupRoot string `yaml:"cgroupRoot"`
	PIDsLimit  int64  `yaml:"pidsLimit"`
	// PIDNamespace defaults to true when unset.
	PIDNamespace *bool `yaml:"pidNamespace"`
}

// RateLimitConfig holds per-client throttling settings.
type RateLimitConfig struct {
	Max          int           `yaml:"max"`
	Window       time.Duration `yaml:"window"`
	RedisTimeout time.Duration `yaml:"redisTimeout"`
	KeyPrefix    string        `yaml:"keyPrefix"`
}

func (c RateLimitConfig) policy() ratelimit.Policy {
	return ratelimit.Policy{Max: c.Max, Window: c.Window}
}

// LanguageConfig holds language definitions.
type LanguageConfig struct {
	Languages []profile.LanguageSpec `yaml:"languages"`
}

// AppConfig holds runner-service config.
type AppConfig struct {
	Server    ServerConfig          `yaml:"server"`
	Logger    logger.Config         `yaml:"logger"`
	Redis     cache.RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig       `yaml:"rateLimit"`
	CORS      middleware.CORSConfig `yaml:"cors"`
	Worker    WorkerConfig          `yaml:"worker"`
	Limits    LimitsConfig          `yaml:"limits"`
	Sandbox   SandboxConfig         `yaml:"sandbox"`
	Language  LanguageConfig        `yaml:"language"`
}

func (c *AppConfig) jobLimits() model.Limits {
	return model.Limits{
		CompileTimeout: c.Limits.CompileTimeout,
		RunTimeout:     c.Limits.RunTimeout,
		MaxOutputBytes: c.Limits.MaxOutputBytes,
		CPUTimeSec:     c.Limits.CPUTimeSec,
		MemoryMB:       c.Limits.MemoryMB,
		FileSizeMB:     c.Limits.FileSizeMB,
	}
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads the YAML file, then .env, then RUNNER_* overrides.
// A missing file is only an error when the path was given explicitly.
func loadAppConfig(path string, explicit bool) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()
	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type lookupFunc func(key string) (string, bool)

func applyEnvOverrides(cfg *AppConfig, lookup lookupFunc) error {
	if port, ok := lookup("PORT"); ok && port != "" {
		cfg.Server.Addr = ":" + port
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	str("ADDR", &cfg.Server.Addr)
	if port, ok := lookup(envPrefix + "PORT"); ok && port != "" {
		cfg.Server.Addr = ":" + port
	}
	if v, ok := lookup(envPrefix + "COMPILER_PATH"); ok && v != "" {
		cfg.Sandbox.CompilerPath = v
		for i := range cfg.Language.Languages {
			if isBuiltinC(cfg.Language.Languages[i]) {
				cfg.Language.Languages[i].Compiler = v
			}
		}
	}
	str("WORK_ROOT", &cfg.Sandbox.WorkRoot)
	str("CGROUP_ROOT", &cfg.Sandbox.CgroupRoot)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("LOG_LEVEL", &cfg.Logger.Level)
	str("LOG_FORMAT", &cfg.Logger.Format)

	var errs []error
	millis := func(key string, dst *time.Duration) {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s%s must be a positive integer", envPrefix, key))
			return
		}
		*dst = time.Duration(n) * time.Millisecond
	}
	integer := func(key string, set func(n int64)) {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s%s must be a positive integer", envPrefix, key))
			return
		}
		set(n)
	}
	millis("COMPILE_TIMEOUT_MS", &cfg.Limits.CompileTimeout)
	millis("RUN_TIMEOUT_MS", &cfg.Limits.RunTimeout)
	integer("MAX_OUTPUT_BYTES", func(n int64) { cfg.Limits.MaxOutputBytes = n })
	integer("MAX_SOURCE_BYTES", func(n int64) { cfg.Limits.MaxSourceBytes = int(n) })
	integer("MAX_INPUT_BYTES", func(n int64) { cfg.Limits.MaxInputBytes = int(n) })
	integer("MAX_CONCURRENT_JOBS", func(n int64) { cfg.Worker.MaxConcurrentJobs = int(n) })
	integer("QUEUE_SIZE", func(n int64) { cfg.Worker.QueueSize = int(n) })
	integer("RATE_LIMIT_MAX", func(n int64) { cfg.RateLimit.Max = int(n) })
	return errors.Join(errs...)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Limits.CompileTimeout == 0 {
		cfg.Limits.CompileTimeout = defaultCompileTimeout
	}
	if cfg.Limits.RunTimeout == 0 {
		cfg.Limits.RunTimeout = defaultRunTimeout
	}
	if cfg.Limits.MaxOutputBytes <= 0 {
		cfg.Limits.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.Limits.MaxSourceBytes <= 0 {
		cfg.Limits.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.Limits.MaxInputBytes <= 0 {
		cfg.Limits.MaxInputBytes = defaultMaxInputBytes
	}
	if cfg.Worker.MaxConcurrentJobs <= 0 {
		cfg.Worker.MaxConcurrentJobs = 4
	}
	if cfg.Worker.QueueSize < 0 {
		cfg.Worker.QueueSize = 0
	}
	if cfg.Worker.AdmissionWait == 0 {
		cfg.Worker.AdmissionWait = defaultAdmissionWait
	}
	if cfg.Sandbox.WorkRoot == "" {
		cfg.Sandbox.WorkRoot = filepath.Join(os.TempDir(), "nextgen-runner")
	}
	if cfg.Sandbox.WaitDelay == 0 {
		cfg.Sandbox.WaitDelay = defaultWaitDelay
	}
	if cfg.Sandbox.PIDNamespace == nil {
		enabled := true
		cfg.Sandbox.PIDNamespace = &enabled
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.RateLimit.RedisTimeout == 0 {
		cfg.RateLimit.RedisTimeout = defaultRedisTimeout
	}
	if cfg.RateLimit.KeyPrefix == "" {
		cfg.RateLimit.KeyPrefix = "runner:rate:ip:"
	}
	if len(cfg.CORS.AllowedMethods) == 0 {
		cfg.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.CORS.AllowedHeaders) == 0 {
		cfg.CORS.AllowedHeaders = []string{"Content-Type"}
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	cfg.Language.Languages = withDefaultLanguages(cfg.Language.Languages, cfg.Sandbox.CompilerPath)
}

func isBuiltinC(lang profile.LanguageSpec) bool {
	return strings.EqualFold(strings.TrimSpace(lang.ID), "c")
}

// withDefaultLanguages fills the built-in C toolchain and any template fields
// a configured entry left blank.
func withDefaultLanguages(langs []profile.LanguageSpec, compilerPath string) []profile.LanguageSpec {
	builtin := profile.DefaultC(compilerPath)
	found := false
	for i := range langs {
		if !isBuiltinC(langs[i]) {
			continue
		}
		found = true
		lang := &langs[i]
		if lang.Compiler == "" {
			lang.Compiler = builtin.Compiler
		}
		if lang.Name == "" {
			lang.Name = builtin.Name
		}
		if lang.Version == "" {
			lang.Version = builtin.Version
		}
		if lang.SourceFile == "" {
			lang.SourceFile = builtin.SourceFile
		}
		if lang.BinaryFile == "" {
			lang.BinaryFile = builtin.BinaryFile
		}
		if lang.CompileCmdTpl == "" {
			lang.CompileCmdTpl = builtin.CompileCmdTpl
		}
		if lang.RunCmdTpl == "" {
			lang.RunCmdTpl = builtin.RunCmdTpl
		}
		if len(lang.Env) == 0 {
			lang.Env = builtin.Env
		}
	}
	if !found {
		langs = append(langs, builtin)
	}
	return langs
}

func validateConfig(cfg *AppConfig) error {
	if cfg.Limits.RunTimeout < 0 || cfg.Limits.CompileTimeout < 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if cfg.RateLimit.Max < 0 {
		return fmt.Errorf("rate limit max must not be negative")
	}
	if cfg.Sandbox.PIDsLimit < 0 {
		return fmt.Errorf("sandbox pids limit must not be negative")
	}
	for _, lang := range cfg.Language.Languages {
		if lang.SourceFile == "" || lang.BinaryFile == "" || strings.ContainsAny(lang.SourceFile+lang.BinaryFile, `/\`) {
			return fmt.Errorf("language %s: source and binary file names must be plain names", lang.ID)
		}
	}
	return nil
}
