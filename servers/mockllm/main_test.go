// servers/mockllm/main_test.go
package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mwiater/chorus/internal/appconfig"
	"github.com/mwiater/chorus/internal/catalog"
	"github.com/mwiater/chorus/internal/dispatch"
	"github.com/mwiater/chorus/internal/providers"
	"github.com/mwiater/chorus/internal/providers/multiplex"
	"github.com/mwiater/chorus/internal/providers/ollama"
	"github.com/mwiater/chorus/internal/providers/openaicompat"
	"github.com/mwiater/chorus/internal/providers/openrouter"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 8001 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	path := filepath.Join(t.TempDir(), "mockllm.yml")
	yml := "port: 9100\ndelay_ms: 5\nmodels:\n  flaky:\n    fail: \"503\"\n  canned:\n    reply: hello there\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig error: %v", err)
	}
	if cfg.Port != 9100 || cfg.DelayMS != 5 || cfg.Models["flaky"].Fail != "503" || cfg.Models["canned"].Reply != "hello there" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("port: [oops"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFailureQueryOverride(t *testing.T) {
	r := newRouter(&Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions?fail=429", strings.NewReader(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Rate limit exceeded") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

// TestMockServesEveryAdapter runs a real round through each protocol adapter against the mock.
func TestMockServesEveryAdapter(t *testing.T) {
	mock := &Config{Models: map[string]Behavior{
		"flaky":  {Fail: "503"},
		"canned": {Reply: "hello there"},
		"slow":   {DelayMS: 500},
	}}
	ts := httptest.NewServer(newRouter(mock))
	defer ts.Close()

	cfg := appconfig.Config{
		OpenRouterAPIKey: "sk-test",
		OpenRouterURL:    ts.URL + "/api/v1/chat/completions",
		Backends: []appconfig.Backend{
			{ID: "local-chat", Model: "canned", Endpoint: ts.URL + "/api/chat", Protocol: "ollama", Enabled: true},
			{ID: "local-gen", Model: "llama", Endpoint: ts.URL + "/api/generate", Protocol: "ollama", Enabled: true},
			{ID: "compat", Model: "flaky", Endpoint: ts.URL + "/v1/chat/completions", Protocol: "openai", Enabled: true},
			{ID: "slowpoke", Model: "slow", Endpoint: ts.URL + "/v1/chat/completions", Protocol: "openai", Enabled: true},
		},
	}
	cfg.LocalTimeoutSeconds = 5
	cfg.ApplyDefaults()

	client := providers.NewHTTPClient()
	adapter := multiplex.New(map[providers.Protocol]providers.Adapter{
		providers.ProtocolAggregator:       openrouter.New(openrouter.WithClient(client)),
		providers.ProtocolGenerateChat:     ollama.New(client),
		providers.ProtocolOpenAICompatible: openaicompat.New(client),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	round, err := dispatch.New(adapter).Batch(ctx, catalog.NewResolver(cfg), dispatch.QueryRequest{
		Message:  "ping",
		ModelIDs: []string{"openai/gpt-4o-mini", "local-chat", "local-gen", "compat", "slowpoke"},
	})
	if err != nil {
		t.Fatalf("Batch error: %v", err)
	}

	results := round.Results()
	if got := results[0]; !got.OK() || got.Content != "[openai/gpt-4o-mini] You said: ping" {
		t.Fatalf("unexpected hosted result %+v", got)
	}
	if got := results[1]; !got.OK() || got.Content != "hello there" {
		t.Fatalf("unexpected chat result %+v", got)
	}
	if got := results[2]; !got.OK() || got.Content != "[llama] You said: ping" || got.Usage == nil || got.Usage.TotalTokens != 5 {
		t.Fatalf("unexpected generate result %+v (usage %+v)", got, got.Usage)
	}
	if got := results[3]; got.OK() || got.ErrorKind != providers.ErrorKindProtocol || !strings.Contains(got.ErrorMessage, "503") {
		t.Fatalf("unexpected failure result %+v", got)
	}
	if got := results[4]; !got.OK() {
		t.Fatalf("expected delayed reply within its deadline, got %+v", got)
	}
}
