// internal/providers/ollama/provider_test.go
package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mwiater/chorus/internal/providers"
)

func testDescriptor(endpoint string) providers.Descriptor {
	return providers.Descriptor{
		ID:       "local-llama",
		Name:     "llama2",
		Model:    "llama2",
		Kind:     providers.KindSelfHosted,
		Protocol: providers.ProtocolGenerateChat,
		Endpoint: endpoint,
		Timeout:  5 * time.Second,
		Enabled:  true,
	}
}

func TestResolveEndpoint(t *testing.T) {
	tests := []struct {
		in       string
		want     string
		wantChat bool
	}{
		{"http://localhost:11434", "http://localhost:11434/api/chat", true},
		{"http://localhost:11434/", "http://localhost:11434/api/chat", true},
		{"http://localhost:11434/v1/whatever?x=1", "http://localhost:11434/api/chat", true},
		{"http://localhost:11434/api/chat", "http://localhost:11434/api/chat", true},
		{"http://localhost:11434/api/generate", "http://localhost:11434/api/generate", false},
	}
	for _, tt := range tests {
		got, isChat, err := ResolveEndpoint(tt.in)
		if err != nil {
			t.Fatalf("ResolveEndpoint(%q) returned error: %v", tt.in, err)
		}
		if got != tt.want || isChat != tt.wantChat {
			t.Fatalf("ResolveEndpoint(%q) = (%q, %v), want (%q, %v)", tt.in, got, isChat, tt.want, tt.wantChat)
		}
	}

	for _, bad := range []string{"", "localhost:11434", "://nope"} {
		if _, _, err := ResolveEndpoint(bad); err == nil {
			t.Fatalf("expected error for endpoint %q", bad)
		}
	}
}

// TestQueryChatShape verifies the chat route receives a messages envelope and that usage
// is the sum of the prompt and completion counters.
func TestQueryChatShape(t *testing.T) {
	t.Parallel()

	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama2","message":{"role":"assistant","content":"yo"},"done":true,"prompt_eval_count":3,"eval_count":1}`))
	}))
	defer server.Close()

	res := New(server.Client()).Query(context.Background(), "hello", testDescriptor(server.URL), providers.Limits{MaxTokens: 50, Temperature: 0.2})
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Model != "local-llama" || res.Content != "yo" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 4 || res.Usage.PromptTokens != 3 || res.Usage.CompletionTokens != 1 {
		t.Fatalf("unexpected usage: %+v", res.Usage)
	}

	if payload["model"] != "llama2" {
		t.Fatalf("expected model llama2, got %v", payload["model"])
	}
	if stream, ok := payload["stream"].(bool); !ok || stream {
		t.Fatalf("expected stream=false, got %v", payload["stream"])
	}
	msgs, ok := payload["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("expected single message, got %v", payload["messages"])
	}
	if _, present := payload["prompt"]; present {
		t.Fatal("chat payload should not carry a prompt")
	}
	opts, _ := payload["options"].(map[string]any)
	if opts["temperature"] != 0.2 || opts["num_predict"] != float64(50) {
		t.Fatalf("unexpected options: %v", opts)
	}
}

func TestQueryGenerateShape(t *testing.T) {
	t.Parallel()

	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		_, _ = w.Write([]byte(`{"model":"llama2","response":"generated","done":true}`))
	}))
	defer server.Close()

	res := New(server.Client()).Query(context.Background(), "hello", testDescriptor(server.URL+"/api/generate"), providers.Limits{Temperature: 0.7})
	if !res.OK() || res.Content != "generated" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if payload["prompt"] != "hello" {
		t.Fatalf("expected prompt field, got %v", payload)
	}
	if _, present := payload["messages"]; present {
		t.Fatal("generate payload should not carry messages")
	}
}

func TestQueryErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model 'llama2' not found"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`oops`))
		}
	}))
	defer server.Close()

	p := New(server.Client())
	res := p.Query(context.Background(), "hi", testDescriptor(server.URL), providers.Limits{})
	if res.OK() || res.ErrorKind != providers.ErrorKindProtocol {
		t.Fatalf("expected protocol failure, got %+v", res)
	}
	if res.ErrorMessage != "HTTP 404: model 'llama2' not found" {
		t.Fatalf("unexpected error message: %q", res.ErrorMessage)
	}

	res = p.Query(context.Background(), "hi", testDescriptor(server.URL+"/api/generate"), providers.Limits{})
	if res.ErrorMessage != "HTTP 500: Unknown Ollama error" {
		t.Fatalf("unexpected error message: %q", res.ErrorMessage)
	}
}

func TestQueryMissingContent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"llama2","done":true}`))
	}))
	defer server.Close()

	p := New(server.Client())
	res := p.Query(context.Background(), "hi", testDescriptor(server.URL), providers.Limits{})
	if !res.OK() || res.Content != providers.NoContentPlaceholder {
		t.Fatalf("expected placeholder content, got %+v", res)
	}

	res = p.Query(context.Background(), "hi", testDescriptor(server.URL), providers.Limits{StrictContent: true})
	if res.OK() || res.ErrorKind != providers.ErrorKindProtocol {
		t.Fatalf("expected strict protocol failure, got %+v", res)
	}
}

func TestQueryInvalidEndpoint(t *testing.T) {
	res := New(nil).Query(context.Background(), "hi", testDescriptor("not a url"), providers.Limits{})
	if res.OK() || res.ErrorKind != providers.ErrorKindConfiguration {
		t.Fatalf("expected configuration failure, got %+v", res)
	}
	if !strings.Contains(res.ErrorMessage, "invalid endpoint") {
		t.Fatalf("unexpected message: %q", res.ErrorMessage)
	}
}

func TestQueryHonorsDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	desc := testDescriptor(server.URL)
	desc.Timeout = 50 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), desc.Timeout)
	defer cancel()

	res := New(server.Client()).Query(ctx, "hi", desc, providers.Limits{})
	if res.ErrorKind != providers.ErrorKindTimeout {
		t.Fatalf("expected timeout failure, got %+v", res)
	}
	if !strings.Contains(res.ErrorMessage, "timed out") {
		t.Fatalf("unexpected message: %q", res.ErrorMessage)
	}
}
