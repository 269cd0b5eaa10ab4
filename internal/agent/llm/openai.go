package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

// OpenAIConfig 兼容 OpenAI 接口的模型配置
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIProvider 通过 chat completions 接口调用视觉模型
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger logger.Logger
}

func NewOpenAIProvider(log logger.Logger, cfg OpenAIConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: log.Named("llm.openai"),
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", req.Media.MIMEType, base64.StdEncoding.EncodeToString(req.Media.Data))

	chatReq := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: req.UserPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	}

	p.logger.Debug("Sending chat completion",
		logger.String("model", p.model),
		logger.Int("mediaBytes", len(req.Media.Data)),
	)

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindUnknown, Provider: p.Name(), Err: errors.New("no choices in response")}
	}

	content := resp.Choices[0].Message.Content
	p.logger.Debug("Chat completion received",
		logger.Int("responseBytes", len(content)),
		logger.Int("promptTokens", resp.Usage.PromptTokens),
		logger.Int("completionTokens", resp.Usage.CompletionTokens),
		logger.Duration("elapsed", time.Since(start)),
	)
	return content, nil
}

func (p *OpenAIProvider) wrapError(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &Error{Kind: KindForStatus(apiErr.HTTPStatusCode), Provider: p.Name(), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &Error{Kind: KindForStatus(reqErr.HTTPStatusCode), Provider: p.Name(), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return classify(p.Name(), err)
}
