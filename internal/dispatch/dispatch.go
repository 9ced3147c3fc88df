// internal/dispatch/dispatch.go
// Package dispatch fans one message out to several model backends concurrently and collects
// the per-model results under a batch or incremental completion policy.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/mwiater/chorus/internal/logging"
	"github.com/mwiater/chorus/internal/providers"
)

var (
	// ErrEmptyMessage is returned when a round is requested without a message.
	ErrEmptyMessage = errors.New("dispatch: message is required")
	// ErrNoModels is returned when a round is requested without any model ids.
	ErrNoModels = errors.New("dispatch: at least one model is required")
	// ErrNoResolver is returned when a round is requested without a resolver.
	ErrNoResolver = errors.New("dispatch: resolver is required")
	// ErrInvalidLimits is returned when a request override is out of range.
	ErrInvalidLimits = errors.New("dispatch: invalid limits")
)

// MaxTemperature is the upper bound of a temperature override.
const MaxTemperature = 2.0

// Policy selects how a round's results are delivered.
type Policy int

const (
	// PolicyBatch waits for every model to settle and returns the whole round.
	PolicyBatch Policy = iota + 1
	// PolicyIncremental reports each model as it settles and returns immediately.
	PolicyIncremental
)

// String returns the flag spelling of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyBatch:
		return "batch"
	case PolicyIncremental:
		return "incremental"
	default:
		return "unknown"
	}
}

// Resolver turns a model id into a backend descriptor. It is consulted once per task, so
// credentials are read at invocation time.
type Resolver interface {
	Resolve(id string) (providers.Descriptor, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(id string) (providers.Descriptor, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(id string) (providers.Descriptor, error) {
	return f(id)
}

// QueryRequest is the immutable input of one round.
type QueryRequest struct {
	Message  string
	ModelIDs []string
	// MaxTokens overrides the descriptor default when positive.
	MaxTokens int
	// Temperature overrides the descriptor default when set.
	Temperature *float64
}

// Validate reports the programmer errors that prevent a round from starting.
func (r QueryRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if len(r.ModelIDs) == 0 {
		return ErrNoModels
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("%w: maxTokens %d must not be negative", ErrInvalidLimits, r.MaxTokens)
	}
	if t := r.Temperature; t != nil && (*t < 0 || *t > MaxTemperature) {
		return fmt.Errorf("%w: temperature %.2f is outside [0, 2]", ErrInvalidLimits, *t)
	}
	return nil
}

// Update is delivered once per requested slot under the incremental policy.
type Update struct {
	// Slot is the position of the model id in QueryRequest.ModelIDs.
	Slot    int
	ModelID string
	Result  providers.Result
}

// UpdateFunc receives incremental updates. It may be called from several goroutines at once.
type UpdateFunc func(Update)

// Dispatcher runs rounds against an Adapter. It holds no per-round state.
type Dispatcher struct {
	adapter       providers.Adapter
	strictContent bool
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithStrictContent makes adapters fail responses that carry no content.
func WithStrictContent(strict bool) Option {
	return func(d *Dispatcher) {
		d.strictContent = strict
	}
}

// New constructs a Dispatcher that sends every query through adapter.
func New(adapter providers.Adapter, opts ...Option) *Dispatcher {
	d := &Dispatcher{adapter: adapter}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs req under policy. Batch rounds are returned settled with a nil Handle;
// incremental rounds return a Handle immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, resolver Resolver, req QueryRequest, policy Policy, onUpdate UpdateFunc) (*Round, *Handle, error) {
	switch policy {
	case PolicyBatch:
		round, err := d.Batch(ctx, resolver, req)
		if err != nil {
			return nil, nil, err
		}
		if onUpdate != nil {
			for i, entry := range round.Entries {
				onUpdate(Update{Slot: i, ModelID: entry.ModelID, Result: entry.Result})
			}
		}
		return round, nil, nil
	case PolicyIncremental:
		h, err := d.Incremental(ctx, resolver, req, onUpdate)
		if err != nil {
			return nil, nil, err
		}
		return nil, h, nil
	default:
		return nil, nil, fmt.Errorf("dispatch: unknown policy %d", policy)
	}
}

// Batch queries every model concurrently and returns once all of them have settled.
// A failing model never fails the call.
func (d *Dispatcher) Batch(ctx context.Context, resolver Resolver, req QueryRequest) (*Round, error) {
	h, err := d.start(ctx, resolver, req, nil)
	if err != nil {
		return nil, err
	}
	return h.Round(), nil
}

// Incremental starts every query and returns immediately. onUpdate is invoked exactly once
// per requested slot as soon as that slot settles, in completion order.
func (d *Dispatcher) Incremental(ctx context.Context, resolver Resolver, req QueryRequest, onUpdate UpdateFunc) (*Handle, error) {
	return d.start(ctx, resolver, req, onUpdate)
}

func (d *Dispatcher) start(ctx context.Context, resolver Resolver, req QueryRequest, onUpdate UpdateFunc) (*Handle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, ErrNoResolver
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req.ModelIDs = append([]string(nil), req.ModelIDs...)
	round := newRound(req)
	h := &Handle{round: round, done: make(chan struct{})}

	logging.WithFields(logging.Fields{
		"round":  round.ID,
		"models": len(req.ModelIDs),
	}).Debug("dispatch round started")

	var wg conc.WaitGroup
	for i, id := range req.ModelIDs {
		wg.Go(func() {
			res := d.runTask(ctx, resolver, req, id)
			round.settle(i, res)
			logSettled(round.ID, id, res)
			if onUpdate != nil {
				notify(onUpdate, Update{Slot: i, ModelID: id, Result: res})
			}
		})
	}

	go func() {
		wg.Wait()
		round.SettledAt = time.Now()
		close(h.done)
		logging.WithFields(logging.Fields{
			"round":    round.ID,
			"failures": len(round.Failures()),
			"elapsed":  round.SettledAt.Sub(round.StartedAt).String(),
		}).Debug("dispatch round settled")
	}()

	return h, nil
}

// runTask resolves id and queries its backend under the descriptor deadline.
func (d *Dispatcher) runTask(ctx context.Context, resolver Resolver, req QueryRequest, id string) providers.Result {
	desc, err := resolve(resolver, id)
	if err != nil {
		return providers.Fail(id, err)
	}
	if !desc.Enabled {
		return providers.Failure(id, providers.ErrorKindConfiguration, fmt.Sprintf("model %q is disabled", id))
	}

	limits := providers.Limits{
		MaxTokens:     desc.MaxTokens,
		Temperature:   desc.Temperature,
		StrictContent: d.strictContent,
	}
	if req.MaxTokens > 0 {
		limits.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		limits.Temperature = *req.Temperature
	}

	taskCtx, cancel := withDeadline(ctx, desc.Timeout)
	defer cancel()

	results := make(chan providers.Result, 1)
	go func() {
		results <- d.invoke(taskCtx, req.Message, desc, limits)
	}()

	select {
	case res := <-results:
		res.Model = id
		return res
	case <-taskCtx.Done():
		return deadlineFailure(id, desc, taskCtx.Err())
	}
}

// resolve looks up id, converting a resolver panic into an internal error for that id.
func resolve(resolver Resolver, id string) (desc providers.Descriptor, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		desc, err = resolver.Resolve(id)
	})
	if r := pc.Recovered(); r != nil {
		logging.WithFields(logging.Fields{"model": id}).Errorf("resolver panicked: %v", r.Value)
		return providers.Descriptor{}, providers.Errorf(providers.ErrInternal, "internal error: %v", r.Value)
	}
	return desc, err
}

// invoke calls the adapter, converting a panic into an internal failure.
func (d *Dispatcher) invoke(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) (res providers.Result) {
	var pc panics.Catcher
	pc.Try(func() {
		res = d.adapter.Query(ctx, message, desc, limits)
	})
	if r := pc.Recovered(); r != nil {
		logging.WithFields(logging.Fields{"model": desc.ID}).Errorf("adapter panicked: %v", r.Value)
		return providers.Failure(desc.ID, providers.ErrorKindInternal, fmt.Sprintf("internal error: %v", r.Value))
	}
	return res
}

// withDeadline bounds ctx by timeout. A zero timeout leaves only the parent's deadline.
func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func deadlineFailure(id string, desc providers.Descriptor, err error) providers.Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return providers.Failure(id, providers.ErrorKindTimeout, fmt.Sprintf("request timed out after %s", desc.Timeout))
	}
	return providers.Failure(id, providers.ErrorKindCancelled, "request cancelled")
}

func notify(onUpdate UpdateFunc, u Update) {
	var pc panics.Catcher
	pc.Try(func() { onUpdate(u) })
	if r := pc.Recovered(); r != nil {
		logging.WithFields(logging.Fields{"model": u.ModelID}).Errorf("update callback panicked: %v", r.Value)
	}
}

func logSettled(roundID, id string, res providers.Result) {
	entry := logging.WithFields(logging.Fields{"round": roundID, "model": id})
	if res.OK() {
		entry.Debug("model settled")
		return
	}
	entry.WithField("kind", res.ErrorKind.String()).Warnf("model failed: %s", res.ErrorMessage)
}

func newRoundID() string {
	return uuid.NewString()
}
