// internal/tracker/tracker.go
// Package tracker keeps the per-model records of a chat session. Every record enters the
// loading state when its query is dispatched and leaves it exactly once.
package tracker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwiater/chorus/internal/providers"
)

// State is the lifecycle state of a record.
type State int

const (
	// StateLoading means the model's query has been dispatched but has not settled.
	StateLoading State = iota
	// StateSuccess is terminal and carries content.
	StateSuccess
	// StateError is terminal and carries an error message.
	StateError
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError
}

// Role identifies who authored a record.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Record is one entry of the session history.
type Record struct {
	ID           string
	Role         Role
	ModelID      string
	State        State
	Content      string
	ErrorMessage string
	Usage        *providers.Usage
	CreatedAt    time.Time
	SettledAt    time.Time
}

// Session is the ordered record history of one chat session. It is safe for concurrent use.
type Session struct {
	mu      sync.RWMutex
	records []*Record
	byID    map[string]*Record
	now     func() time.Time
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		byID: make(map[string]*Record),
		now:  time.Now,
	}
}

// AddUser appends a settled user record holding message.
func (s *Session) AddUser(message string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.appendLocked(Record{Role: RoleUser, State: StateSuccess, Content: message})
	rec.SettledAt = rec.CreatedAt
	return *rec
}

// Begin appends one loading record per model id, in order, and returns them. Record ids are
// unique across the whole session, so the same model may appear in several rounds.
func (s *Session) Begin(modelIDs []string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(modelIDs))
	for _, id := range modelIDs {
		rec := s.appendLocked(Record{Role: RoleAssistant, ModelID: id, State: StateLoading})
		out = append(out, *rec)
	}
	return out
}

func (s *Session) appendLocked(rec Record) *Record {
	rec.ID = uuid.NewString()
	rec.CreatedAt = s.now()
	p := &rec
	s.records = append(s.records, p)
	s.byID[rec.ID] = p
	return p
}

// Settle moves the loading record recordID to its terminal state. It reports false, leaving
// the record untouched, when the record is unknown or has already settled.
func (s *Session) Settle(recordID string, res providers.Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[recordID]
	if !ok || rec.State.Terminal() {
		return false
	}
	if res.OK() {
		rec.State = StateSuccess
		rec.Content = res.Content
		rec.Usage = res.Usage
	} else {
		rec.State = StateError
		rec.ErrorMessage = res.ErrorMessage
	}
	rec.SettledAt = s.now()
	return true
}

// Get returns a copy of the record with the given id.
func (s *Session) Get(recordID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[recordID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records returns a copy of the history in insertion order.
func (s *Session) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	for i, rec := range s.records {
		out[i] = *rec
	}
	return out
}

// Pending returns the number of records still loading.
func (s *Session) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.records {
		if rec.State == StateLoading {
			n++
		}
	}
	return n
}

// Len returns the number of records.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear drops every record. Settling a dropped record afterwards is a no-op.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.byID = make(map[string]*Record)
}
