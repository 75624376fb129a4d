package supervisor

// EventKind discriminates the Session's outbound event surface (spec §4.H
// "Lifecycle events" and §4.J "Emitted events"). Modeled as a tagged
// struct rather than a runtime pub-sub bus (spec §9 "prefer typed channels
// ... with explicit unsubscribe on session stop").
type EventKind int

const (
	EventOutput EventKind = iota
	EventMessage
	EventError
	EventExit
	EventCompletion
	EventTerminal
	EventClearTerminal
	EventAutoClear
	EventAutoCompact
	EventStateChanged
	EventRespawnCycleStarted
	EventRespawnCycleCompleted
	EventStepSent
	EventStepCompleted
	EventAICheckStarted
	EventPlanCheckStarted
	EventAutoAcceptSent
	EventLog
)

// Event is the single outbound envelope type delivered to subscribers.
// Only the field(s) relevant to Kind are populated.
type Event struct {
	Kind EventKind

	Text       string // output/error/log text
	Message    Message // one-shot JSON message (see messages.go)
	ExitCode   int
	Result     string
	Cost       float64
	RawBytes   []byte
	StepName   string
	CycleN     int
	PrevState  RespawnState
	NewState   RespawnState
}

// Subscriber receives events for one session. Late subscribers are not
// replayed (spec §6 "Event surface").
type Subscriber func(Event)

// eventBus fans out events to zero or more subscribers, all invoked on
// the session's single executor goroutine (spec §5) — no locking needed
// for delivery itself, only for the subscriber slice mutation.
type eventBus struct {
	subs []Subscriber
}

func (b *eventBus) subscribe(s Subscriber) {
	b.subs = append(b.subs, s)
}

// unsubscribeAll drops every subscriber, matching the teardown contract
// spec §9 calls out explicitly (the source's own memory-leak history).
func (b *eventBus) unsubscribeAll() {
	b.subs = nil
}

func (b *eventBus) emit(e Event) {
	for _, s := range b.subs {
		s(e)
	}
}
