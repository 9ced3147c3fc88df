package dispatch

import (
	"time"

	"github.com/mwiater/chorus/internal/providers"
)

// EntryState is the lifecycle state of one slot in a round.
type EntryState int

const (
	// StatePending means the slot's task has not settled yet.
	StatePending EntryState = iota
	// StateSettled means the slot holds its final Result.
	StateSettled
)

// String returns a lowercase name for the state.
func (s EntryState) String() string {
	if s == StateSettled {
		return "settled"
	}
	return "pending"
}

// Entry is one requested model slot in a round.
type Entry struct {
	ModelID string
	State   EntryState
	Result  providers.Result
}

// Round groups a request with one entry per requested model id, in request order.
// Each entry is written exactly once by its own task.
type Round struct {
	ID        string
	Request   QueryRequest
	Entries   []Entry
	StartedAt time.Time
	SettledAt time.Time
}

func newRound(req QueryRequest) *Round {
	entries := make([]Entry, len(req.ModelIDs))
	for i, id := range req.ModelIDs {
		entries[i] = Entry{ModelID: id, State: StatePending}
	}
	return &Round{
		ID:        newRoundID(),
		Request:   req,
		Entries:   entries,
		StartedAt: time.Now(),
	}
}

func (r *Round) settle(slot int, res providers.Result) {
	r.Entries[slot].Result = res
	r.Entries[slot].State = StateSettled
}

// Complete reports whether every entry has settled.
func (r *Round) Complete() bool {
	for _, e := range r.Entries {
		if e.State == StatePending {
			return false
		}
	}
	return true
}

// Results returns the settled results in request order.
func (r *Round) Results() []providers.Result {
	out := make([]providers.Result, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Result
	}
	return out
}

// Failures returns the failed results in request order.
func (r *Round) Failures() []providers.Result {
	var out []providers.Result
	for _, e := range r.Entries {
		if e.State == StateSettled && !e.Result.OK() {
			out = append(out, e.Result)
		}
	}
	return out
}

// Elapsed returns how long the round took to settle, or zero while it is running.
func (r *Round) Elapsed() time.Duration {
	if r.SettledAt.IsZero() {
		return 0
	}
	return r.SettledAt.Sub(r.StartedAt)
}

// Handle tracks an incremental round until every slot has settled.
type Handle struct {
	round *Round
	done  chan struct{}
}

// Done is closed once every slot has settled and every update has been delivered.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the round has drained.
func (h *Handle) Wait() {
	<-h.done
}

// Round waits for the round to drain and returns it.
func (h *Handle) Round() *Round {
	h.Wait()
	return h.round
}

// ID returns the round identifier without waiting.
func (h *Handle) ID() string {
	return h.round.ID
}
