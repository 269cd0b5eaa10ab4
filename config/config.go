package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "config/config.yaml"

	StoreMemory = "memory"
	StoreRedis  = "redis"

	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

var (
	configOnce sync.Once
	appConfig  *Config
	configErr  error
)

// Config 服务配置
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Upload     UploadConfig     `yaml:"upload"`
	Preprocess PreprocessConfig `yaml:"preprocess"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	LLM        LLMConfig        `yaml:"llm"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowOrigins    []string      `yaml:"allowOrigins"`
}

type LogConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"outputPaths"`
}

type UploadConfig struct {
	MaxFileSize  int64    `yaml:"maxFileSize"`
	AllowedTypes []string `yaml:"allowedTypes"`
}

type PreprocessConfig struct {
	MaxWidth    int  `yaml:"maxWidth"`
	JPEGQuality int  `yaml:"jpegQuality"`
	AutoOrient  bool `yaml:"autoOrient"`
	// MaxPixels bounds width*height, checked from the header before decoding.
	MaxPixels int64 `yaml:"maxPixels"`
}

type AnalysisConfig struct {
	MaxPayloadSize int64       `yaml:"maxPayloadSize"`
	Retry          RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	Multiplier   float64       `yaml:"multiplier"`
}

type LLMConfig struct {
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"baseURL"`
	APIKey   string        `yaml:"apiKey"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
	// MaxConcurrent bounds in-flight calls to a local model (ollama only).
	MaxConcurrent int `yaml:"maxConcurrent"`
}

type StoreConfig struct {
	Backend         string        `yaml:"backend"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Concurrency int            `yaml:"concurrency"`
	Queues      map[string]int `yaml:"queues"`
	// Priority selects the queue for submitted tasks: 1 critical, 2 default, 3 low.
	Priority       int           `yaml:"priority"`
	ProcessTimeout time.Duration `yaml:"processTimeout"`
}

// Default 返回默认配置
func Default() *Config {
	retry := models.DefaultRetryPolicy()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    4 * time.Minute,
			ShutdownTimeout: 5 * time.Second,
			AllowOrigins:    []string{"*"},
		},
		Log: LogConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout"},
		},
		Upload: UploadConfig{
			MaxFileSize:  10 << 20,
			AllowedTypes: []string{"JPEG", "PNG", "PDF"},
		},
		Preprocess: PreprocessConfig{
			MaxWidth:    1200,
			JPEGQuality: 90,
			MaxPixels:   40_000_000,
		},
		Analysis: AnalysisConfig{
			MaxPayloadSize: 5 << 20,
			Retry: RetryConfig{
				MaxAttempts:  retry.MaxAttempts,
				InitialDelay: retry.InitialDelay,
				Multiplier:   retry.Multiplier,
			},
		},
		LLM: LLMConfig{
			Provider:      ProviderOpenAI,
			Model:         "gpt-4o-mini",
			Timeout:       60 * time.Second,
			MaxConcurrent: 5,
		},
		Store: StoreConfig{
			Backend:         StoreMemory,
			TTL:             24 * time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Queue: QueueConfig{
			Concurrency:    10,
			Priority:       2,
			ProcessTimeout: 5 * time.Minute,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	}
}

// GetConfig 加载进程级配置, 只执行一次
func GetConfig() (*Config, error) {
	configOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.Printf("Warning: .env file not found, falling back to environment variables")
		}

		path := os.Getenv("CONFIG_PATH")
		explicit := path != ""
		if !explicit {
			path = DefaultConfigPath
		}

		cfg, err := Load(path)
		if err != nil && !explicit && errors.Is(err, os.ErrNotExist) {
			log.Printf("Warning: config file not found at %s, using defaults", path)
			cfg, err = FromEnv(Default())
		}
		appConfig, configErr = cfg, err
	})
	return appConfig, configErr
}

// Load reads path over the defaults, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return FromEnv(cfg)
}

// Parse decodes YAML over the defaults without touching the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv applies environment overrides to cfg and validates the result.
func FromEnv(cfg *Config) (*Config, error) {
	applyEnv(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	set(&cfg.LLM.Provider, "LLM_PROVIDER")
	set(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	set(&cfg.LLM.APIKey, "LLM_API_KEY", "OPENAI_API_KEY")
	set(&cfg.LLM.Model, "LLM_MODEL")
	set(&cfg.Redis.Addr, "REDIS_ADDR")
	set(&cfg.Server.Addr, "SERVER_ADDR")
	set(&cfg.Log.Level, "LOG_LEVEL")
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, errors.New("upload.maxFileSize must be positive"))
	}
	if _, err := c.AllowedTypes(); err != nil {
		errs = append(errs, err)
	}
	if c.Preprocess.MaxWidth <= 0 {
		errs = append(errs, errors.New("preprocess.maxWidth must be positive"))
	}
	if q := c.Preprocess.JPEGQuality; q < 1 || q > 100 {
		errs = append(errs, fmt.Errorf("preprocess.jpegQuality %d out of range 1-100", q))
	}
	if c.Preprocess.MaxPixels <= 0 {
		errs = append(errs, errors.New("preprocess.maxPixels must be positive"))
	}
	if c.Analysis.MaxPayloadSize <= 0 {
		errs = append(errs, errors.New("analysis.maxPayloadSize must be positive"))
	}
	r := c.Analysis.Retry
	if r.MaxAttempts < 1 {
		errs = append(errs, errors.New("analysis.retry.maxAttempts must be at least 1"))
	}
	if r.InitialDelay < 0 {
		errs = append(errs, errors.New("analysis.retry.initialDelay must not be negative"))
	}
	if r.Multiplier < 1 {
		errs = append(errs, errors.New("analysis.retry.multiplier must be at least 1"))
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	switch c.Store.Backend {
	case StoreMemory, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	if c.Store.TTL <= 0 {
		errs = append(errs, errors.New("store.ttl must be positive"))
	}
	if c.Store.CleanupInterval <= 0 {
		errs = append(errs, errors.New("store.cleanupInterval must be positive"))
	}
	if c.Queue.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when the queue is enabled"))
	}
	if p := c.Queue.Priority; p < 1 || p > 3 {
		errs = append(errs, fmt.Errorf("queue.priority %d out of range 1-3", p))
	}

	// 同步请求和异步任务都必须能等到最坏情况下的分析结束
	if r.MaxAttempts >= 1 && c.LLM.Timeout > 0 {
		budget := c.RetryPolicy().Budget(c.LLM.Timeout)
		if w := c.Server.WriteTimeout; w > 0 && w <= budget {
			errs = append(errs, fmt.Errorf("server.writeTimeout %s must exceed the worst-case analysis time %s", w, budget))
		}
		if pt := c.Queue.ProcessTimeout; pt > 0 && pt <= budget {
			errs = append(errs, fmt.Errorf("queue.processTimeout %s must exceed the worst-case analysis time %s", pt, budget))
		}
	}
	return errors.Join(errs...)
}

// AllowedTypes 解析允许的文件类型
func (c *Config) AllowedTypes() ([]models.DetectedType, error) {
	if len(c.Upload.AllowedTypes) == 0 {
		return nil, errors.New("upload.allowedTypes must not be empty")
	}
	types := make([]models.DetectedType, 0, len(c.Upload.AllowedTypes))
	for _, s := range c.Upload.AllowedTypes {
		t, ok := models.ParseDetectedType(strings.ToUpper(strings.TrimSpace(s)))
		if !ok {
			return nil, fmt.Errorf("upload.allowedTypes: unknown type %q", s)
		}
		types = append(types, t)
	}
	return types, nil
}

// RetryPolicy 返回分析重试策略
func (c *Config) RetryPolicy() models.RetryPolicy {
	return models.RetryPolicy{
		MaxAttempts:  c.Analysis.Retry.MaxAttempts,
		InitialDelay: c.Analysis.Retry.InitialDelay,
		Multiplier:   c.Analysis.Retry.Multiplier,
	}
}
