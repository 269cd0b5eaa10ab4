package llm

import (
	"fmt"

	"github.com/feichai0017/receipt-analyzer/config"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

const defaultOllamaEndpoint = "http://localhost:11434"

// NewProvider 根据配置创建模型提供方
func NewProvider(log logger.Logger, cfg config.LLMConfig) (Provider, error) {
	log.Info("Creating model provider",
		logger.String("provider", cfg.Provider),
		logger.String("model", cfg.Model),
	)

	switch cfg.Provider {
	case config.ProviderOpenAI:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIProvider(log, OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	case config.ProviderOllama:
		endpoint := cfg.BaseURL
		if endpoint == "" {
			endpoint = defaultOllamaEndpoint
		}
		return NewOllamaProvider(log, &OllamaConfig{
			Endpoint:    endpoint,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout,
			MaxPoolSize: cfg.MaxConcurrent,
			PoolTimeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
