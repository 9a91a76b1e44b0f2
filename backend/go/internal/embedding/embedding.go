package embedding

import (
	"fmt"
	"strings"

	rhttp "ragbase/backend/go/pkg/http"
)

// Options 是创建 Embedding 模型所需的参数。
type Options struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	// Dim 是期望的向量维度，哈希模型直接使用它。
	Dim int
	// HTTPClient 供基于 HTTP 的提供商使用，可携带熔断器。为空时使用默认客户端。
	HTTPClient *rhttp.Client
}

// NewEmdModel 根据指定的提供商创建并返回一个新的 Embedding 模型实例。
//
// 参数:
//
//	opts: 提供商 (例如: "gemini", "openai", "huggingface", "ollama", "hash")、模型名称与凭证。
//
// 返回值:
//
//	Embedding: 新创建的 Embedding 模型实例。
//	error: 如果提供商不支持或模型初始化失败，则返回错误。
func NewEmdModel(opts Options) (Embedding, error) {
	switch ModelType(strings.ToLower(opts.Provider)) {
	case Google:
		return NewGoogleModel(opts.APIKey, opts.Model)
	case OpenAI:
		return NewOpenAIModel(opts.APIKey, opts.Model, opts.BaseURL)
	case HuggingFace:
		return NewHuggingFaceModel(opts.APIKey, opts.Model, opts.BaseURL, opts.HTTPClient)
	case Ollama:
		return NewOllamaModel(opts.Model, opts.BaseURL)
	case Hash:
		return NewHashModel(opts.Dim)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", opts.Provider)
	}
}
