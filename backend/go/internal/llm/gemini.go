package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"ragbase/backend/go/internal/rag_service/rag/errs"
)

// Gemini 是一个用于 Gemini API 的补全客户端。
type Gemini struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGemini 创建一个新的 Gemini 客户端。
//
// 参数:
//
//	ctx: 上下文，用于控制客户端的生命周期。
//	model: 要使用的 Gemini 模型名称。
//	apiKey: Gemini API 密钥，为空时 Complete 返回 ErrMissingCredentials。
//	maxTokens: 单次回答的最大 token 数。
func NewGemini(ctx context.Context, model, apiKey string, maxTokens int) (*Gemini, error) {
	g := &Gemini{model: model, maxTokens: maxTokens}
	if apiKey == "" {
		return g, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "llm.gemini", err)
	}
	g.client = client
	return g, nil
}

// Provider 返回提供商名称。
func (g *Gemini) Provider() string { return "gemini" }

// Complete 发送单轮请求并拼接首个候选的全部文本片段。
func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	if g.client == nil {
		return "", ErrMissingCredentials
	}
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(req.Temperature)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	if maxTokens > 0 {
		model.SetMaxOutputTokens(int32(maxTokens))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", errs.Wrap(errs.KindUpstream, "llm.gemini", fmt.Errorf("failed to generate content: %w", err))
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errs.E(errs.KindUpstream, "llm.gemini", "response contained no candidates")
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// Health 仅检查凭证是否配置。
func (g *Gemini) Health(ctx context.Context) Health {
	if g.client == nil {
		return Health{Status: "error", ModelType: "gemini", Message: "gemini API key is not configured"}
	}
	return Health{Status: "ok", ModelType: "gemini", ModelName: g.model}
}

// Close 释放底层客户端。
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
