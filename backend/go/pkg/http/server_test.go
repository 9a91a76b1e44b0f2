package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"ragbase/backend/go/pkg/circuitbreaker"
	"ragbase/backend/go/pkg/logger"
)

func TestNewServer_WithAddress(t *testing.T) {
	srv := NewServer(http.NotFoundHandler(), WithAddress(":9999"), WithLogger(logger.Discard()))
	if srv.Addr() != ":9999" {
		t.Errorf("Expected server address to be :9999, but got %s", srv.Addr())
	}
}

func TestServerShutdownReturnsNil(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}), WithAddress(addr), WithLogger(logger.Discard()))

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("ListenAndServe after Shutdown = %v", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestClientBreakerOpensOnServerErrors(t *testing.T) {
	calls := 0
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{StatusCode: http.StatusBadGateway, Body: http.NoBody, Request: r}, nil
	})
	b := circuitbreaker.New(circuitbreaker.Settings{FailureThreshold: 2, Timeout: time.Hour})
	c := NewClient(WithTransport(rt), WithBreaker(b))

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, "http://upstream.invalid/", nil)
		resp, err := c.Do(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("status = %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	req, _ := http.NewRequest(http.MethodGet, "http://upstream.invalid/", nil)
	if _, err := c.Do(req); err != circuitbreaker.ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 2 {
		t.Errorf("transport called %d times", calls)
	}
}
