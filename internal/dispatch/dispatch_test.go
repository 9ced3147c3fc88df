// internal/dispatch/dispatch_test.go
package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mwiater/chorus/internal/providers"
	"github.com/mwiater/chorus/internal/providers/multiplex"
	"github.com/mwiater/chorus/internal/providers/ollama"
	"github.com/mwiater/chorus/internal/providers/openrouter"
)

func stubResolver(timeout time.Duration) ResolverFunc {
	return func(id string) (providers.Descriptor, error) {
		if strings.HasPrefix(id, "unknown") {
			return providers.Descriptor{}, providers.Errorf(providers.ErrConfiguration, "unknown model %q", id)
		}
		return providers.Descriptor{
			ID:          id,
			Name:        id,
			Kind:        providers.KindSelfHosted,
			Protocol:    providers.ProtocolGenerateChat,
			Endpoint:    "http://stub.invalid",
			MaxTokens:   100,
			Temperature: 0.7,
			Timeout:     timeout,
			Enabled:     !strings.HasPrefix(id, "disabled"),
		}, nil
	}
}

func echoAdapter() providers.AdapterFunc {
	return func(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) providers.Result {
		return providers.Success(desc.ID, desc.ID+":"+message, nil)
	}
}

func TestBatchSettlesEveryEntry(t *testing.T) {
	t.Parallel()

	ids := []string{"m1", "m2", "m3", "m4", "m5"}
	adapter := providers.AdapterFunc(func(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) providers.Result {
		time.Sleep(time.Duration(len(desc.ID)*3) * time.Millisecond)
		return providers.Success(desc.ID, "ok", nil)
	})

	round, err := New(adapter).Batch(context.Background(), stubResolver(time.Second), QueryRequest{Message: "hello", ModelIDs: ids})
	if err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	if len(round.Entries) != len(ids) {
		t.Fatalf("expected %d entries, got %d", len(ids), len(round.Entries))
	}
	if !round.Complete() {
		t.Fatal("expected round to be complete")
	}
	for i, e := range round.Entries {
		if e.ModelID != ids[i] || e.Result.Model != ids[i] || e.State != StateSettled {
			t.Fatalf("entry %d out of order or unsettled: %+v", i, e)
		}
	}
	if round.Elapsed() <= 0 {
		t.Fatal("expected a positive elapsed time")
	}
}

func TestBatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	adapter := providers.AdapterFunc(func(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) providers.Result {
		if desc.ID == "A" {
			return providers.Failure(desc.ID, providers.ErrorKindProtocol, "HTTP 500")
		}
		return providers.Success(desc.ID, "fine", nil)
	})

	round, err := New(adapter).Batch(context.Background(), stubResolver(time.Second), QueryRequest{Message: "hi", ModelIDs: []string{"A", "B"}})
	if err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	a, b := round.Entries[0].Result, round.Entries[1].Result
	if a.OK() || a.ErrorMessage != "HTTP 500" || a.Content != "" {
		t.Fatalf("expected failure for A, got %+v", a)
	}
	if !b.OK() || b.Content != "fine" || b.ErrorMessage != "" {
		t.Fatalf("expected success for B, got %+v", b)
	}
	if len(round.Failures()) != 1 {
		t.Fatalf("expected exactly one failure, got %d", len(round.Failures()))
	}
}

// TestBatchTimeoutIsolation verifies a backend that never answers settles as a timeout by its
// own deadline while its sibling succeeds normally.
func TestBatchTimeoutIsolation(t *testing.T) {
	t.Parallel()

	hang := make(chan struct{})
	defer close(hang)

	adapter := providers.AdapterFunc(func(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) providers.Result {
		if desc.ID == "slow" {
			<-hang
			return providers.Success(desc.ID, "too late", nil)
		}
		return providers.Success(desc.ID, "fast", nil)
	})
	resolver := ResolverFunc(func(id string) (providers.Descriptor, error) {
		desc, _ := stubResolver(5 * time.Second)(id)
		if id == "slow" {
			desc.Timeout = 50 * time.Millisecond
		}
		return desc, nil
	})

	start := time.Now()
	round, err := New(adapter).Batch(context.Background(), resolver, QueryRequest{Message: "hi", ModelIDs: []string{"slow", "fast"}})
	if err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("round took %v, expected it to end near the 50ms deadline", elapsed)
	}
	slow := round.Entries[0].Result
	if slow.ErrorKind != providers.ErrorKindTimeout || !strings.Contains(slow.ErrorMessage, "timed out") {
		t.Fatalf("expected timeout failure, got %+v", slow)
	}
	if fast := round.Entries[1].Result; !fast.OK() || fast.Content != "fast" {
		t.Fatalf("expected fast success, got %+v", fast)
	}
}

func TestBatchUnknownAndDisabledModels(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	adapter := providers.AdapterFunc(func(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) providers.Result {
		calls.Add(1)
		return providers.Success(desc.ID, "ok", nil)
	})

	round, err := New(adapter).Batch(context.Background(), stubResolver(time.Second), QueryRequest{Message: "hi", ModelIDs: []string{"unknown-x", "disabled-y", "real"}})
	if err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	for _, e := range round.Entries[:2] {
		if e.Result.ErrorKind != providers.ErrorKindConfiguration {
			t.Fatalf("expected configuration failure for %s, got %+v", e.ModelID, e.Result)
		}
	}
	if !round.Entries[2].Result.OK() {
		t.Fatalf("expected success for real model, got %+v", round.Entries[2].Result)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one adapter call, got %d", calls.Load())
	}
}

func TestBatchMissingCredentialMakesNoCalls(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	resolver := ResolverFunc(func(id string) (providers.Descriptor, error) {
		return providers.Descriptor{
			ID:       id,
			Kind:     providers.KindHosted,
			Protocol: providers.ProtocolAggregator,
			Endpoint: server.URL,
			Timeout:  time.Second,
			Enabled:  true,
		}, nil
	})
	adapter := openrouter.New(openrouter.WithClient(server.Client()))

	round, err := New(adapter).Batch(context.Background(), resolver, QueryRequest{Message: "hi", ModelIDs: []string{"openai/gpt-4o-mini", "anthropic/claude-3-haiku"}})
	if err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	for _, e := range round.Entries {
		if e.Result.OK() || !strings.Contains(e.Result.ErrorMessage, "API Key is missing") {
			t.Fatalf("expected missing key failure, got %+v", e.Result)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("expected zero network calls, got %d", calls.Load())
	}
}

// TestBatchMixedBackends runs one hosted and one self-hosted model against mock servers.
func TestBatchMixedBackends(t *testing.T) {
	t.Parallel()

	hosted := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer hosted.Close()

	paths := make(chan string, 1)
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"content":"yo"},"prompt_eval_count":3,"eval_count":1}`))
	}))
	defer local.Close()

	resolver := ResolverFunc(func(id string) (providers.Descriptor, error) {
		switch id {
		case "hosted/modelX":
			return providers.Descriptor{ID: id, Kind: providers.KindHosted, Protocol: providers.ProtocolAggregator, Endpoint: hosted.URL, Credential: "sk-test", Timeout: time.Second, Enabled: true}, nil
		case "selfhosted/ollamaY":
			return providers.Descriptor{ID: id, Name: "ollamaY", Kind: providers.KindSelfHosted, Protocol: providers.ProtocolGenerateChat, Endpoint: local.URL, Timeout: time.Second, Enabled: true}, nil
		}
		return providers.Descriptor{}, providers.Errorf(providers.ErrConfiguration, "unknown model %q", id)
	})
	adapter := multiplex.New(map[providers.Protocol]providers.Adapter{
		providers.ProtocolAggregator:   openrouter.New(openrouter.WithClient(hosted.Client())),
		providers.ProtocolGenerateChat: ollama.New(local.Client()),
	})

	round, err := New(adapter).Batch(context.Background(), resolver, QueryRequest{Message: "hello", ModelIDs: []string{"hosted/modelX", "selfhosted/ollamaY"}})
	if err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	results := round.Results()

	if results[0].Model != "hosted/modelX" || results[0].Content != "hi" || results[0].Usage == nil || results[0].Usage.TotalTokens != 7 {
		t.Fatalf("unexpected hosted result: %+v", results[0])
	}
	if results[1].Model != "selfhosted/ollamaY" || results[1].Content != "yo" || results[1].Usage == nil || results[1].Usage.TotalTokens != 4 {
		t.Fatalf("unexpected self-hosted result: %+v", results[1])
	}
	if path := <-paths; path != "/api/chat" {
		t.Fatalf("expected request against /api/chat, got %q", path)
	}
}

func TestIncrementalDeliversEachSlotOnce(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	adapter := providers.AdapterFunc(func(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) providers.Result {
		if desc.ID == "b" {
			<-release
		}
		return providers.Success(desc.ID, "done", nil)
	})

	var (
		mu    sync.Mutex
		seen  = map[int]int{}
		first = make(chan Update, 3)
	)
	onUpdate := func(u Update) {
		mu.Lock()
		seen[u.Slot]++
		mu.Unlock()
		first <- u
	}

	h, err := New(adapter).Incremental(context.Background(), stubResolver(5*time.Second), QueryRequest{Message: "hi", ModelIDs: []string{"a", "a", "b"}}, onUpdate)
	if err != nil {
		t.Fatalf("Incremental returned error: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case u := <-first:
			if u.ModelID != "a" {
				t.Fatalf("expected the unblocked model first, got %+v", u)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for early updates")
		}
	}
	select {
	case <-h.Done():
		t.Fatal("round drained while a model was still pending")
	default:
	}

	close(release)
	round := h.Round()
	if !round.Complete() {
		t.Fatal("expected complete round after drain")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected updates for 3 slots, got %v", seen)
	}
	for slot, n := range seen {
		if n != 1 {
			t.Fatalf("slot %d delivered %d times", slot, n)
		}
	}
}

func TestDispatchPolicies(t *testing.T) {
	t.Parallel()

	d := New(echoAdapter())
	req := QueryRequest{Message: "x", ModelIDs: []string{"m1", "m2"}}

	var count atomic.Int32
	round, h, err := d.Dispatch(context.Background(), stubResolver(time.Second), req, PolicyBatch, func(Update) { count.Add(1) })
	if err != nil || round == nil || h != nil {
		t.Fatalf("batch: round=%v handle=%v err=%v", round, h, err)
	}
	if count.Load() != 2 {
		t.Fatalf("batch: expected 2 updates, got %d", count.Load())
	}

	round, h, err = d.Dispatch(context.Background(), stubResolver(time.Second), req, PolicyIncremental, nil)
	if err != nil || round != nil || h == nil {
		t.Fatalf("incremental: round=%v handle=%v err=%v", round, h, err)
	}
	if got := h.Round().Entries[1].Result.Content; got != "m2:x" {
		t.Fatalf("unexpected content %q", got)
	}

	if _, _, err := d.Dispatch(context.Background(), stubResolver(time.Second), req, Policy(99), nil); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestProgrammerErrors(t *testing.T) {
	d := New(echoAdapter())
	if _, err := d.Batch(context.Background(), stubResolver(time.Second), QueryRequest{Message: "  ", ModelIDs: []string{"m"}}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := d.Incremental(context.Background(), stubResolver(time.Second), QueryRequest{Message: "hi"}, nil); !errors.Is(err, ErrNoModels) {
		t.Fatalf("expected ErrNoModels, got %v", err)
	}
	hot := 2.5
	if _, err := d.Batch(context.Background(), stubResolver(time.Second), QueryRequest{Message: "hi", ModelIDs: []string{"m"}, Temperature: &hot}); !errors.Is(err, ErrInvalidLimits) {
		t.Fatalf("expected ErrInvalidLimits for temperature, got %v", err)
	}
	if _, err := d.Batch(context.Background(), stubResolver(time.Second), QueryRequest{Message: "hi", ModelIDs: []string{"m"}, MaxTokens: -1}); !errors.Is(err, ErrInvalidLimits) {
		t.Fatalf("expected ErrInvalidLimits for maxTokens, got %v", err)
	}
	if _, err := d.Batch(context.Background(), nil, QueryRequest{Message: "hi", ModelIDs: []string{"m"}}); !errors.Is(err, ErrNoResolver) {
		t.Fatalf("expected ErrNoResolver, got %v", err)
	}
}

func TestAdapterPanicIsIsolated(t *testing.T) {
	t.Parallel()

	adapter := providers.AdapterFunc(func(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) providers.Result {
		if desc.ID == "boom" {
			panic("adapter exploded")
		}
		return providers.Success(desc.ID, "ok", nil)
	})

	round, err := New(adapter).Batch(context.Background(), stubResolver(time.Second), QueryRequest{Message: "hi", ModelIDs: []string{"boom", "ok"}})
	if err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	boom := round.Entries[0].Result
	if boom.ErrorKind != providers.ErrorKindInternal || !strings.Contains(boom.ErrorMessage, "adapter exploded") {
		t.Fatalf("expected internal failure, got %+v", boom)
	}
	if !round.Entries[1].Result.OK() {
		t.Fatalf("expected sibling success, got %+v", round.Entries[1].Result)
	}
}

func TestResolverPanicIsIsolated(t *testing.T) {
	t.Parallel()

	base := stubResolver(time.Second)
	resolver := ResolverFunc(func(id string) (providers.Descriptor, error) {
		if id == "boom" {
			panic("resolver exploded")
		}
		return base(id)
	})

	h, err := New(echoAdapter()).Incremental(context.Background(), resolver, QueryRequest{Message: "hi", ModelIDs: []string{"a", "boom"}}, nil)
	if err != nil {
		t.Fatalf("Incremental returned error: %v", err)
	}
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("round never settled")
	}

	round := h.Round()
	if !round.Entries[0].Result.OK() {
		t.Fatalf("expected sibling success, got %+v", round.Entries[0].Result)
	}
	boom := round.Entries[1].Result
	if boom.ErrorKind != providers.ErrorKindInternal || !strings.Contains(boom.ErrorMessage, "resolver exploded") {
		t.Fatalf("expected internal failure, got %+v", boom)
	}
}

func TestLimitsOverrideDescriptorDefaults(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []providers.Limits
	)
	adapter := providers.AdapterFunc(func(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) providers.Result {
		mu.Lock()
		got = append(got, limits)
		mu.Unlock()
		return providers.Success(desc.ID, "ok", nil)
	})
	d := New(adapter, WithStrictContent(true))

	if _, err := d.Batch(context.Background(), stubResolver(time.Second), QueryRequest{Message: "hi", ModelIDs: []string{"m"}}); err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	zero := 0.0
	if _, err := d.Batch(context.Background(), stubResolver(time.Second), QueryRequest{Message: "hi", ModelIDs: []string{"m"}, MaxTokens: 42, Temperature: &zero}); err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}

	if got[0] != (providers.Limits{MaxTokens: 100, Temperature: 0.7, StrictContent: true}) {
		t.Fatalf("expected descriptor defaults, got %+v", got[0])
	}
	if got[1] != (providers.Limits{MaxTokens: 42, Temperature: 0, StrictContent: true}) {
		t.Fatalf("expected request overrides, got %+v", got[1])
	}
}

func TestCancelledParentSettlesEverySlot(t *testing.T) {
	t.Parallel()

	adapter := providers.AdapterFunc(func(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) providers.Result {
		<-ctx.Done()
		return providers.Fail(desc.ID, ctx.Err())
	})
	ctx, cancel := context.WithCancel(context.Background())

	h, err := New(adapter).Incremental(ctx, stubResolver(5*time.Second), QueryRequest{Message: "hi", ModelIDs: []string{"a", "b"}}, nil)
	if err != nil {
		t.Fatalf("Incremental returned error: %v", err)
	}
	cancel()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("round did not drain after cancellation")
	}
	for _, e := range h.Round().Entries {
		if e.State != StateSettled || e.Result.ErrorKind != providers.ErrorKindCancelled {
			t.Fatalf("expected cancelled failure, got %+v", e)
		}
	}
}
