package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ragbase/backend/go/internal/config"
	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/interfaces"
	"ragbase/backend/go/pkg/circuitbreaker"
)

// ErrMissingCredentials 表示补全后端未配置 API 密钥，调用方应直接走降级路径。
var ErrMissingCredentials = errors.New("llm: API key is not configured")

// 各提供商的默认单次调用超时。
const (
	DefaultRemoteTimeout = 30 * time.Second
	DefaultOllamaTimeout = 60 * time.Second
)

// Request 是一次补全请求。
type Request struct {
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Health 描述补全后端的可用状态。
type Health struct {
	Status    string `json:"status"` // ok 或 error
	ModelType string `json:"model_type,omitempty"`
	ModelName string `json:"model_name,omitempty"`
	URL       string `json:"url,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Completer 定义了所有补全后端客户端必须实现的通用接口。
type Completer interface {
	// Complete 返回模型生成的文本。失败时返回 UpstreamError 或 ErrMissingCredentials。
	Complete(ctx context.Context, req Request) (string, error)
	// Health 探测后端是否可用，不返回错误。
	Health(ctx context.Context) Health
	// Provider 返回提供商名称。
	Provider() string
}

// NewCompleter 是一个工厂函数，根据配置创建补全客户端，并在启用时套上熔断器。
func NewCompleter(cfg config.LLMConfig) (Completer, error) {
	var (
		c       Completer
		err     error
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	)
	switch strings.ToLower(cfg.Provider) {
	case "deepseek", "openai":
		c, err = NewOpenAICompatible(cfg.Provider, cfg.Model, cfg.APIKey, cfg.BaseURL, cfg.MaxTokens)
		if timeout <= 0 {
			timeout = DefaultRemoteTimeout
		}
	case "ollama":
		c, err = NewOllama(cfg.Model, cfg.OllamaURL)
		if timeout <= 0 {
			timeout = DefaultOllamaTimeout
		}
	case "gemini":
		c, err = NewGemini(context.Background(), cfg.Model, cfg.APIKey, cfg.MaxTokens)
		if timeout <= 0 {
			timeout = DefaultRemoteTimeout
		}
	default:
		return nil, errs.E(errs.KindValidation, "llm.NewCompleter", "unsupported LLM provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	var breaker *circuitbreaker.Breaker
	if cfg.CircuitBreaker.Enabled {
		cb := cfg.CircuitBreaker
		breaker, err = circuitbreaker.FromConfig("llm:"+c.Provider(), cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout)
		if err != nil {
			return nil, err
		}
	}
	return Guard(c, breaker, timeout), nil
}

// guarded 为每次调用加上超时与熔断保护。
type guarded struct {
	Completer
	breaker *circuitbreaker.Breaker
	timeout time.Duration
}

// Guard wraps c so that every Complete call is bounded by timeout and,
// when breaker is non-nil, short-circuited while the breaker is open.
// Missing credentials never count as a breaker failure.
func Guard(c Completer, breaker *circuitbreaker.Breaker, timeout time.Duration) Completer {
	return &guarded{Completer: c, breaker: breaker, timeout: timeout}
}

func (g *guarded) Complete(ctx context.Context, req Request) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var out string
	var credErr error
	err := g.breaker.Execute(func() error {
		var err error
		out, err = g.Completer.Complete(ctx, req)
		if errors.Is(err, ErrMissingCredentials) {
			credErr = err
			return nil
		}
		return err
	})
	if credErr != nil {
		return "", credErr
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return "", errs.Wrap(errs.KindUpstream, "llm."+g.Provider(), err)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", errs.Wrap(errs.KindUpstream, "llm."+g.Provider(), fmt.Errorf("timed out after %s: %w", g.timeout, err))
		}
		if errs.KindOf(err) == errs.KindInternal {
			return "", errs.Wrap(errs.KindUpstream, "llm."+g.Provider(), err)
		}
		return "", err
	}
	return out, nil
}

// Generator adapts a Completer to interfaces.LLM with fixed sampling settings.
type Generator struct {
	Completer   Completer
	Temperature float32
	MaxTokens   int
}

// Generate implements interfaces.LLM.
func (g Generator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.Completer.Complete(ctx, Request{Prompt: prompt, Temperature: g.Temperature, MaxTokens: g.MaxTokens})
}

var _ interfaces.LLM = Generator{}
