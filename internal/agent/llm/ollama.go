package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

// OllamaConfig 本地 Ollama 模型配置
type OllamaConfig struct {
	Endpoint    string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxPoolSize int           // 连接池大小
	PoolTimeout time.Duration // 连接池超时时间
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Format   string                 `json:"format"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// OllamaResponse 定义 Ollama /api/chat 响应结构
type OllamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	TotalDuration   int64         `json:"total_duration,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

type OllamaClient struct {
	endpoint    string
	model       string
	temperature float64
	httpClient  *http.Client
}

func NewOllamaClient(config *OllamaConfig) *OllamaClient {
	return &OllamaClient{
		endpoint:    strings.TrimRight(config.Endpoint, "/"),
		model:       config.Model,
		temperature: config.Temperature,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Chat 发送一次非流式对话请求
func (c *OllamaClient) Chat(ctx context.Context, req *Request) (string, int, error) {
	reqBody := ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: req.SystemPrompt},
			{
				Role:    "user",
				Content: req.UserPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(req.Media.Data)},
			},
		},
		Format:  "json",
		Stream:  false,
		Options: map[string]interface{}{"temperature": c.temperature},
	}

	reqData, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(reqData))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", resp.StatusCode, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var result OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != "" {
		return "", resp.StatusCode, fmt.Errorf("ollama error: %s", result.Error)
	}
	return result.Message.Content, resp.StatusCode, nil
}

func (c *OllamaClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// ErrPoolTimeout is returned when no client frees up within PoolTimeout.
var ErrPoolTimeout = errors.New("timeout waiting for available client")

type OllamaClientPool struct {
	clients chan *OllamaClient
	config  *OllamaConfig
}

func NewOllamaClientPool(config *OllamaConfig) *OllamaClientPool {
	size := config.MaxPoolSize
	if size < 1 {
		size = 1
	}
	pool := &OllamaClientPool{
		clients: make(chan *OllamaClient, size),
		config:  config,
	}

	// 预创建客户端
	for i := 0; i < size; i++ {
		pool.clients <- NewOllamaClient(config)
	}
	return pool
}

func (p *OllamaClientPool) Get(ctx context.Context) (*OllamaClient, error) {
	timer := time.NewTimer(p.config.PoolTimeout)
	defer timer.Stop()

	select {
	case client := <-p.clients:
		return client, nil
	case <-timer.C:
		return nil, ErrPoolTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *OllamaClientPool) Put(client *OllamaClient) {
	select {
	case p.clients <- client:
	default:
		// 池已满，丢弃客户端
	}
}

func (p *OllamaClientPool) Close() error {
	close(p.clients)
	for client := range p.clients {
		client.Close()
	}
	return nil
}

// OllamaProvider 通过连接池调用本地 Ollama 视觉模型
type OllamaProvider struct {
	pool   *OllamaClientPool
	logger logger.Logger
}

func NewOllamaProvider(log logger.Logger, cfg *OllamaConfig) *OllamaProvider {
	return &OllamaProvider{
		pool:   NewOllamaClientPool(cfg),
		logger: log.Named("llm.ollama"),
	}
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func (p *OllamaProvider) Complete(ctx context.Context, req *Request) (string, error) {
	client, err := p.pool.Get(ctx)
	if err != nil {
		if errors.Is(err, ErrPoolTimeout) {
			return "", &Error{Kind: KindTransient, Provider: p.Name(), Err: err}
		}
		return "", classify(p.Name(), err)
	}
	defer p.pool.Put(client)

	p.logger.Debug("Sending chat request", logger.Int("mediaBytes", len(req.Media.Data)))

	content, status, err := client.Chat(ctx, req)
	if err != nil {
		if status != 0 && status != http.StatusOK {
			return "", &Error{Kind: KindForStatus(status), Provider: p.Name(), StatusCode: status, Err: err}
		}
		return "", classify(p.Name(), err)
	}

	p.logger.Debug("Chat response received", logger.Int("responseBytes", len(content)))
	return content, nil
}

// Close releases pooled clients.
func (p *OllamaProvider) Close() error {
	return p.pool.Close()
}
