// Package supervisor implements the per-session supervision engine:
// a PTY-attached child CLI agent, its terminal stream parser, idle/respawn
// state machine, and auto-accept/token policies. Adapted from the
// teacher's internal/egg (PTY/session lifecycle) and internal/agent
// (stream-json parsing) packages.
package supervisor

import (
	"sync"
	"time"
)

// Mode is the session's operational mode (spec §3).
type Mode int

const (
	ModeAgentInteractive Mode = iota
	ModeAgentOneShot
	ModeShell
)

func (m Mode) String() string {
	switch m {
	case ModeAgentInteractive:
		return "agent-interactive"
	case ModeAgentOneShot:
		return "agent-oneshot"
	case ModeShell:
		return "shell"
	default:
		return "unknown"
	}
}

// Status is the session's externally-observable state (spec §3).
type Status int

const (
	StatusIdle Status = iota
	StatusBusy
	StatusStopped
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusStopped:
		return "stopped"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Numeric invariants pulled into one place (spec §4.7).
const (
	MaxSessionTokens    = 500_000
	MaxTokensPerMessage = 100_000
	MaxTokenDeltaPerMsg = 100_000
)

// ToolInvocation is an entry in the recent tool-invocation descriptions
// mapping (spec §3: "bounded ordered mapping timestamp -> short string").
type ToolInvocation struct {
	At          time.Time
	Description string
}

const (
	toolInvocationCapacity = 100
	toolInvocationMaxAge   = 5 * time.Minute
)

// toolInvocations is the bounded, age-pruned recent-descriptions mapping
// used by the Terminal Parser (spec §4.G.2) and queried by name-near-time.
type toolInvocations struct {
	mu      sync.Mutex
	entries []ToolInvocation
}

func (t *toolInvocations) insert(at time.Time, desc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, ToolInvocation{At: at, Description: desc})
	t.prune(at)
}

// prune must be called with the lock held.
func (t *toolInvocations) prune(now time.Time) {
	cutoff := now.Add(-toolInvocationMaxAge)
	i := 0
	for i < len(t.entries) && t.entries[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.entries = append(t.entries[:0], t.entries[i:]...)
	}
	if len(t.entries) > toolInvocationCapacity {
		excess := len(t.entries) - toolInvocationCapacity
		t.entries = append(t.entries[:0], t.entries[excess:]...)
	}
}

// near returns the description whose timestamp is within window w of t,
// closest first, or "" if none qualifies.
func (t *toolInvocations) near(at time.Time, w time.Duration) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	best := -1
	var bestDelta time.Duration
	for i, e := range t.entries {
		delta := e.At.Sub(at)
		if delta < 0 {
			delta = -delta
		}
		if delta > w {
			continue
		}
		if best == -1 || delta < bestDelta {
			best = i
			bestDelta = delta
		}
	}
	if best == -1 {
		return "", false
	}
	return t.entries[best].Description, true
}

// TodoStatus is the lifecycle state of a parsed todo item (spec §4.G.6).
type TodoStatus int

const (
	TodoPending TodoStatus = iota
	TodoInProgress
	TodoCompleted
)

// Todo is a single extracted todo-list item, upserted by content.
type Todo struct {
	Content string
	Status  TodoStatus
}

const maxTodos = 50

// todoList is the bounded, content-keyed todo collection (spec §4.G.6).
type todoList struct {
	mu    sync.Mutex
	order []string
	items map[string]Todo
}

func newTodoList() *todoList {
	return &todoList{items: make(map[string]Todo)}
}

// upsert inserts or updates a todo by content, enforcing the ≤50 cap by
// dropping the oldest non-in-progress entry first. Returns true if the
// collection changed.
func (l *todoList) upsert(content string, status TodoStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.items[content]; ok {
		if existing.Status == status {
			return false
		}
		l.items[content] = Todo{Content: content, Status: status}
		return true
	}

	if len(l.order) >= maxTodos {
		l.evictOldestNonInProgress()
	}
	l.order = append(l.order, content)
	l.items[content] = Todo{Content: content, Status: status}
	return true
}

// evictOldestNonInProgress must be called with the lock held.
func (l *todoList) evictOldestNonInProgress() {
	for i, c := range l.order {
		if l.items[c].Status != TodoInProgress {
			delete(l.items, c)
			l.order = append(l.order[:i], l.order[i+1:]...)
			return
		}
	}
	// All in-progress: drop the oldest regardless, to guarantee the cap.
	if len(l.order) > 0 {
		oldest := l.order[0]
		delete(l.items, oldest)
		l.order = l.order[1:]
	}
}

func (l *todoList) snapshot() []Todo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Todo, 0, len(l.order))
	for _, c := range l.order {
		out = append(out, l.items[c])
	}
	return out
}

// TokenState tracks input/output/cost counters with the saturating,
// monotone-non-decreasing validation of spec §4.7.
type TokenState struct {
	mu     sync.Mutex
	Input  int
	Output int
	Cost   float64
}

// applyUsage applies a parsed assistant-message usage update, dropping
// (zero-delta) any field whose value exceeds MaxTokensPerMessage, and
// rejecting (entirely, logged by the caller) any update that would push
// input+output above MaxSessionTokens.
func (s *TokenState) applyUsage(inputTokens, outputTokens int) (applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inputTokens > MaxTokensPerMessage {
		inputTokens = 0
	}
	if outputTokens > MaxTokensPerMessage {
		outputTokens = 0
	}
	if inputTokens == 0 && outputTokens == 0 {
		return false
	}
	if s.Input+inputTokens+s.Output+outputTokens > MaxSessionTokens {
		return false
	}
	s.Input += inputTokens
	s.Output += outputTokens
	return true
}

// applyCost adds a non-negative cost delta.
func (s *TokenState) applyCost(delta float64) {
	if delta < 0 {
		return
	}
	s.mu.Lock()
	s.Cost += delta
	s.mu.Unlock()
}

// applyStatusLineTotal applies a status-line-parsed token total using the
// approximate 60/40 input/output split (spec open question decision),
// only when it strictly increases the tracked total and the delta does
// not exceed MaxTokenDeltaPerMsg.
func (s *TokenState) applyStatusLineTotal(total int) (applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.Input + s.Output
	if total <= current {
		return false
	}
	delta := total - current
	if delta > MaxTokenDeltaPerMsg {
		return false
	}
	if total > MaxSessionTokens {
		return false
	}
	s.Input = int(float64(total) * 0.6)
	s.Output = total - s.Input
	return true
}

// snapshot returns the current counters for toState()/restoreTokens().
func (s *TokenState) snapshot() (input, output int, cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Input, s.Output, s.Cost
}

// restore implements restoreTokens(): rejects negatives and above-ceiling
// values, leaving counters unchanged on rejection (spec §4.7, §8).
func (s *TokenState) restore(input, output int, cost float64) bool {
	if input < 0 || output < 0 || cost < 0 {
		return false
	}
	if input > MaxSessionTokens || output > MaxSessionTokens || input+output > MaxSessionTokens {
		return false
	}
	s.mu.Lock()
	s.Input, s.Output, s.Cost = input, output, cost
	s.mu.Unlock()
	return true
}

// reset zeroes token counters (used whenever /clear is sent: the respawn
// clear step and the auto-clear policy).
func (s *TokenState) reset() {
	s.mu.Lock()
	s.Input, s.Output, s.Cost = 0, 0, 0
	s.mu.Unlock()
}

// State snapshot returned by toState() for higher-layer persistence
// (spec §6 "Persisted state").
type State struct {
	ID              string
	PID             int
	Status          Status
	CWD             string
	TaskID          string
	CreatedAt       time.Time
	Name            string
	Mode            Mode
	AutoClearOn     bool
	AutoClearAt     int
	AutoCompactOn   bool
	AutoCompactAt   int
	InputTokens     int
	OutputTokens    int
	TotalCost       float64
	ParentSessionID string
	ChildSessionIDs []string
	Priority        int
	ColorTag        string
	ReportedChildID string
}
