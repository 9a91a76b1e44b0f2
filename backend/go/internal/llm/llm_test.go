package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ragbase/backend/go/internal/config"
	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/pkg/circuitbreaker"
)

func TestOpenAICompatibleComplete(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  巴黎  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAICompatible("deepseek", "deepseek-chat", "sk-test", srv.URL, 0)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Complete(context.Background(), Request{Prompt: "法国的首都？", Temperature: 0.7})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "巴黎" {
		t.Errorf("out = %q", out)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %s", gotPath)
	}
	if mt, _ := gotBody["max_tokens"].(float64); mt != 1000 {
		t.Errorf("max_tokens = %v", gotBody["max_tokens"])
	}
	if temp, ok := gotBody["temperature"].(float64); !ok || math.Abs(temp-0.7) > 1e-6 {
		t.Errorf("temperature = %v, want 0.7", gotBody["temperature"])
	}
}

func TestOpenAICompatibleMissingKey(t *testing.T) {
	c, _ := NewOpenAICompatible("deepseek", "deepseek-chat", "", "http://127.0.0.1:1", 0)
	if _, err := c.Complete(context.Background(), Request{Prompt: "q"}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	h := c.Health(context.Background())
	if h.Status != "error" || h.Message == "" {
		t.Errorf("health = %+v", h)
	}
}

func TestOpenAICompatibleUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := NewOpenAICompatible("openai", "gpt", "sk", srv.URL+"/v1", 0)
	_, err := c.Complete(context.Background(), Request{Prompt: "q"})
	if errs.KindOf(err) != errs.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestVersionedBaseURL(t *testing.T) {
	cases := map[string]string{
		"https://api.deepseek.com":  "https://api.deepseek.com/v1",
		"https://api.deepseek.com/": "https://api.deepseek.com/v1",
		"https://api.openai.com/v1": "https://api.openai.com/v1",
		"http://localhost:8080/v1/": "http://localhost:8080/v1",
	}
	for in, want := range cases {
		if got := versionedBaseURL(in); got != want {
			t.Errorf("versionedBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOllamaCompleteAndHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			var req map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req["stream"] != false {
				t.Errorf("stream = %v", req["stream"])
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"model":"llama3","response":"你好","done":true}`))
		case "/api/tags":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"models":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewOllama("llama3", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Complete(context.Background(), Request{Prompt: "hi", Temperature: 0.2})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "你好" {
		t.Errorf("out = %q", out)
	}
	if h := c.Health(context.Background()); h.Status != "ok" {
		t.Errorf("health = %+v", h)
	}
}

func TestOllamaHealthDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := NewOllama("llama3", url)
	if h := c.Health(context.Background()); h.Status != "error" {
		t.Errorf("expected error status, got %+v", h)
	}
}

type stubCompleter struct {
	calls int
	err   error
	delay time.Duration
}

func (s *stubCompleter) Complete(ctx context.Context, req Request) (string, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return "ok", nil
}

func (s *stubCompleter) Health(context.Context) Health { return Health{Status: "ok"} }
func (s *stubCompleter) Provider() string              { return "stub" }

func TestGuardOpensBreaker(t *testing.T) {
	stub := &stubCompleter{err: errors.New("503")}
	b := circuitbreaker.New(circuitbreaker.Settings{Name: "t", FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour})
	c := Guard(stub, b, 0)

	for i := 0; i < 2; i++ {
		if _, err := c.Complete(context.Background(), Request{}); errs.KindOf(err) != errs.KindUpstream {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
	}
	_, err := c.Complete(context.Background(), Request{})
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if stub.calls != 2 {
		t.Errorf("calls = %d, want 2", stub.calls)
	}
}

func TestGuardMissingCredentialsDoesNotTrip(t *testing.T) {
	stub := &stubCompleter{err: ErrMissingCredentials}
	b := circuitbreaker.New(circuitbreaker.Settings{Name: "t", FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	c := Guard(stub, b, 0)
	for i := 0; i < 3; i++ {
		if _, err := c.Complete(context.Background(), Request{}); !errors.Is(err, ErrMissingCredentials) {
			t.Fatalf("expected ErrMissingCredentials, got %v", err)
		}
	}
	if b.State() != circuitbreaker.Closed {
		t.Errorf("state = %v", b.State())
	}
}

func TestGuardTimeout(t *testing.T) {
	stub := &stubCompleter{delay: time.Second}
	c := Guard(stub, nil, 20*time.Millisecond)
	_, err := c.Complete(context.Background(), Request{})
	if errs.KindOf(err) != errs.KindUpstream || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected upstream timeout, got %v", err)
	}
}

func TestNewCompleterProviders(t *testing.T) {
	for _, p := range []string{"deepseek", "openai", "ollama", "gemini"} {
		c, err := NewCompleter(config.LLMConfig{Provider: p, Model: "m"})
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if c.Provider() != p {
			t.Errorf("provider = %s, want %s", c.Provider(), p)
		}
	}
	if _, err := NewCompleter(config.LLMConfig{Provider: "nope"}); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestGeneratorUsesSettings(t *testing.T) {
	stub := &stubCompleter{}
	g := Generator{Completer: stub, Temperature: 0.3}
	out, err := g.Generate(context.Background(), "p")
	if err != nil || out != "ok" {
		t.Fatalf("Generate = %q, %v", out, err)
	}
}
