package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	olla "github.com/ollama/ollama/api"

	"ragbase/backend/go/internal/rag_service/rag/errs"
)

// Ollama 是一个用于 Ollama API 的补全客户端。
type Ollama struct {
	client  *olla.Client
	model   string
	baseURL string
}

// NewOllama 创建一个新的 Ollama 客户端。
//
// 参数:
//
//	model: 要使用的模型名称。
//	baseURL: Ollama 服务的基准 URL。如果为空，则默认为 "http://localhost:11434"。
func NewOllama(model, baseURL string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	// 超时由调用方的 context 控制。
	client := olla.NewClient(parsedURL, &http.Client{})
	return &Ollama{client: client, model: model, baseURL: baseURL}, nil
}

// Provider 返回提供商名称。
func (o *Ollama) Provider() string { return "ollama" }

// Complete 使用 /api/generate 非流式生成回答。
func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	stream := false
	var result strings.Builder
	err := o.client.Generate(ctx, &olla.GenerateRequest{
		Model:   o.model,
		Prompt:  req.Prompt,
		Stream:  &stream,
		Options: map[string]interface{}{"temperature": req.Temperature},
	}, func(resp olla.GenerateResponse) error {
		result.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", errs.Wrap(errs.KindUpstream, "llm.ollama", fmt.Errorf("failed to generate content with ollama: %w", err))
	}
	return strings.TrimSpace(result.String()), nil
}

// Health 通过 /api/tags 探测 Ollama 服务。
func (o *Ollama) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := o.client.List(ctx); err != nil {
		return Health{Status: "error", ModelType: "ollama", URL: o.baseURL, Message: fmt.Sprintf("Ollama 服务不可用: %v", err)}
	}
	return Health{Status: "ok", ModelType: "ollama", ModelName: o.model, URL: o.baseURL}
}
