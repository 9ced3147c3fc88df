// internal/providers/openrouter/provider_test.go
package openrouter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mwiater/chorus/internal/providers"
)

func hostedDescriptor(endpoint, key string) providers.Descriptor {
	return providers.Descriptor{
		ID:         "openai/gpt-4o-mini",
		Name:       "GPT-4o Mini",
		Kind:       providers.KindHosted,
		Protocol:   providers.ProtocolAggregator,
		Endpoint:   endpoint,
		Credential: key,
		Timeout:    5 * time.Second,
		Enabled:    true,
	}
}

func TestQueryMissingKeyMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	p := New(WithClient(server.Client()))
	res := p.Query(context.Background(), "hi", hostedDescriptor(server.URL, "  "), providers.Limits{})
	if res.OK() || res.ErrorKind != providers.ErrorKindConfiguration {
		t.Fatalf("expected configuration failure, got %+v", res)
	}
	if res.ErrorMessage != MissingKeyMessage {
		t.Fatalf("unexpected message: %q", res.ErrorMessage)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no network calls, got %d", calls.Load())
	}
}

// TestQuerySuccess verifies the request envelope, attribution headers, and usage passthrough.
func TestQuerySuccess(t *testing.T) {
	t.Parallel()

	var (
		payload map[string]any
		headers http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"gen-1","model":"openai/gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer server.Close()

	p := New(WithClient(server.Client()), WithAttribution("https://chorus.example", "Chorus"))
	res := p.Query(context.Background(), "hello", hostedDescriptor(server.URL, "sk-or-test"), providers.Limits{MaxTokens: 100, Temperature: 0.5})
	if !res.OK() || res.Content != "hi" || res.Model != "openai/gpt-4o-mini" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Usage == nil || *res.Usage != (providers.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}) {
		t.Fatalf("unexpected usage: %+v", res.Usage)
	}

	if got := headers.Get("Authorization"); got != "Bearer sk-or-test" {
		t.Fatalf("unexpected authorization header: %q", got)
	}
	if headers.Get("HTTP-Referer") != "https://chorus.example" || headers.Get("X-Title") != "Chorus" {
		t.Fatalf("unexpected attribution headers: %v", headers)
	}
	if payload["model"] != "openai/gpt-4o-mini" || payload["max_tokens"] != float64(100) || payload["temperature"] != 0.5 {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if stream, ok := payload["stream"].(bool); !ok || stream {
		t.Fatalf("expected stream=false, got %v", payload["stream"])
	}
}

func TestQueryErrorEnvelope(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("bare") != "" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`<html>bad gateway</html>`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"No auth credentials found","code":401}}`))
	}))
	defer server.Close()

	p := New(WithClient(server.Client()))
	res := p.Query(context.Background(), "hi", hostedDescriptor(server.URL, "sk"), providers.Limits{})
	if res.ErrorKind != providers.ErrorKindProtocol || res.ErrorMessage != "No auth credentials found" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res = p.Query(context.Background(), "hi", hostedDescriptor(server.URL+"?bare=1", "sk"), providers.Limits{})
	if res.ErrorKind != providers.ErrorKindProtocol || res.ErrorMessage != "HTTP 502" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestQueryEmptyChoices(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	p := New(WithClient(server.Client()))
	res := p.Query(context.Background(), "hi", hostedDescriptor(server.URL, "sk"), providers.Limits{})
	if !res.OK() || res.Content != providers.NoContentPlaceholder {
		t.Fatalf("expected placeholder, got %+v", res)
	}
	if res.Usage == nil || *res.Usage != (providers.Usage{}) {
		t.Fatalf("expected zero usage when the body has none, got %+v", res.Usage)
	}

	res = p.Query(context.Background(), "hi", hostedDescriptor(server.URL, "sk"), providers.Limits{StrictContent: true})
	if res.OK() || res.ErrorKind != providers.ErrorKindProtocol {
		t.Fatalf("expected strict failure, got %+v", res)
	}
}

func TestQueryMalformedBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	res := New(WithClient(server.Client())).Query(context.Background(), "hi", hostedDescriptor(server.URL, "sk"), providers.Limits{})
	if res.OK() || res.ErrorKind != providers.ErrorKindProtocol {
		t.Fatalf("expected protocol failure, got %+v", res)
	}
}
