package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	rhttp "ragbase/backend/go/pkg/http"
)

func TestNormalizeBase(t *testing.T) {
	tests := map[string]string{
		"http://rag:8000":  "http://rag:8000",
		"https://rag.test": "https://rag.test",
		"10.0.0.5:8000":    "http://10.0.0.5:8000",
		":8000":            "http://localhost:8000",
	}
	for in, want := range tests {
		if got := normalizeBase(in); got != want {
			t.Errorf("normalizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUploadSendsMultipart(t *testing.T) {
	var gotName, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/upload/" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		gotName, gotBody = hdr.Filename, string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"filename":"notes.txt","msg":"Upload successful"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := newAPIClient(srv.URL+"/", rhttp.NewClient())
	var out map[string]interface{}
	if err := c.upload(context.Background(), path, &out); err != nil {
		t.Fatal(err)
	}
	if gotName != "notes.txt" || gotBody != "hello" {
		t.Errorf("server got %q/%q", gotName, gotBody)
	}
	if out["msg"] != "Upload successful" {
		t.Errorf("out = %v", out)
	}
}

func TestErrorBodyIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unsupported file type", "type": "unsupported_format"})
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL, rhttp.NewClient())
	err := c.postJSON(context.Background(), "/api/embed/", map[string]interface{}{"filenames": []string{"a.docx"}}, nil)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *apiError", err)
	}
	if apiErr.Status != http.StatusUnsupportedMediaType || apiErr.Type != "unsupported_format" || apiErr.Message != "unsupported file type" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestPostJSONDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"answer": "echo: " + body["question"].(string)})
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL, rhttp.NewClient())
	var out struct {
		Answer string `json:"answer"`
	}
	if err := c.postJSON(context.Background(), "/api/query/", map[string]interface{}{"question": "hi"}, &out); err != nil {
		t.Fatal(err)
	}
	if out.Answer != "echo: hi" {
		t.Errorf("answer = %q", out.Answer)
	}
}
