package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"ragbase/backend/go/internal/rag_service/rag/errs"
)

// OpenAI 是一个用于 OpenAI 兼容接口（DeepSeek、OpenAI）的补全客户端。
type OpenAI struct {
	client    *openai.Client
	provider  string
	model     string
	apiKey    string
	maxTokens int
}

// NewOpenAICompatible 创建一个新的 OpenAI 兼容客户端。
//
// 参数:
//
//	provider: 提供商名称，仅用于日志与健康检查。
//	model: 要使用的模型名称，例如 "deepseek-chat"。
//	apiKey: API 密钥；为空时客户端仍可创建，但 Complete 会返回 ErrMissingCredentials。
//	baseURL: 服务根地址，例如 "https://api.deepseek.com"，会自动补全 "/v1"。
//	maxTokens: 单次回答的最大 token 数。
func NewOpenAICompatible(provider, model, apiKey, baseURL string, maxTokens int) (*OpenAI, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = versionedBaseURL(baseURL)
	}
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(config),
		provider:  strings.ToLower(provider),
		model:     model,
		apiKey:    apiKey,
		maxTokens: maxTokens,
	}, nil
}

// versionedBaseURL 保证地址以 /v1 结尾，客户端会在其后拼接 /chat/completions。
func versionedBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// Provider 返回提供商名称。
func (o *OpenAI) Provider() string { return o.provider }

// Complete 使用 chat completions 接口生成回答。
func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if o.apiKey == "" {
		return "", ErrMissingCredentials
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}
	temperature := req.Temperature
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: req.Prompt}},
		Temperature: &temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", errs.Wrap(errs.KindUpstream, "llm."+o.provider, fmt.Errorf("failed to create chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", errs.E(errs.KindUpstream, "llm."+o.provider, "response contained no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Health 仅检查凭证是否配置，不发起计费请求。
func (o *OpenAI) Health(ctx context.Context) Health {
	if o.apiKey == "" {
		return Health{Status: "error", ModelType: o.provider, Message: o.provider + " API key is not configured"}
	}
	return Health{Status: "ok", ModelType: o.provider, ModelName: o.model}
}
