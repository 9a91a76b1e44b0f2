package rerankers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/schema"
)

func hits(texts ...string) []schema.Hit {
	out := make([]schema.Hit, len(texts))
	for i, t := range texts {
		out[i] = schema.Hit{Document: &schema.Document{Text: t, Metadata: map[string]interface{}{"filename": "a.txt"}}, Score: float32(1 - 0.1*float64(i))}
	}
	return out
}

func TestCohereRerankReorders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rerank" || r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("Authorization"))
		}
		var req cohereRerankRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Documents) != 3 || req.Query != "q" {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.2},{"index":2,"relevance_score":0.9},{"index":7,"relevance_score":1}]}`))
	}))
	defer srv.Close()

	in := hits("a", "b", "c")
	r := NewCohereReranker("key", "rerank-multilingual-v3.0", srv.URL, 0, nil)
	out, err := r.Rerank(context.Background(), "q", in)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(out) != 2 || out[0].Document.Text != "c" || out[1].Document.Text != "a" {
		t.Fatalf("out = %+v", out)
	}
	if out[0].Document.Metadata[MetadataKeyRerankScore] != 0.9 {
		t.Errorf("rerank score = %v", out[0].Document.Metadata[MetadataKeyRerankScore])
	}
	if _, ok := in[2].Document.Metadata[MetadataKeyRerankScore]; ok {
		t.Error("input metadata mutated")
	}
}

func TestCohereRerankUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewCohereReranker("key", "m", srv.URL, 0, nil).Rerank(context.Background(), "q", hits("a"))
	if errs.KindOf(err) != errs.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestCohereRerankEmpty(t *testing.T) {
	out, err := NewCohereReranker("key", "m", "http://127.0.0.1:1", 0, nil).Rerank(context.Background(), "q", nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("out = %v, err = %v", out, err)
	}
}
