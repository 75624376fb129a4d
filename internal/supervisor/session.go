package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"claudeman/internal/agentprofile"
	"claudeman/internal/classifier"
	"claudeman/internal/config"
	"claudeman/internal/logger"
)

// Caller-visible error kinds (spec §7), matched with errors.Is.
var (
	ErrAlreadyAttached = errors.New("supervisor: session already attached")
	ErrNotAttached     = errors.New("supervisor: session not attached")
	ErrSessionStopped  = errors.New("supervisor: session stopped")
)

const defaultCols, defaultRows = 120, 40

type oneShotResult struct {
	Result string
	Cost   float64
	Err    error
}

// Session is the Session Supervisor (spec §4.H): the top-level per-child
// orchestrator wiring the PTY/Multiplexer adapters, Stream Filters,
// Terminal Parser, and the Idle Detector / Respawn Controller /
// Auto-Accept / Token Policies together. Grounded on the teacher's
// internal/egg.Session + RunSession (the nearest architectural analogue:
// one struct per child process, one goroutine pair reading/waiting on it),
// generalized from the teacher's gRPC-served single-agent-profile session
// into the full spec §4.H public-operation surface. A single mutex stands
// in for spec §5's "single cooperative executor per session": the PTY
// adapter's read/wait goroutines are the only real concurrency a session
// has, and every path that touches session state takes s.mu, serializing
// them the same way a single-threaded event loop would.
type Session struct {
	mu sync.Mutex

	ID      string
	cfg     config.Config
	profile agentprofile.Profile

	bus eventBus
	bag *timerBag

	rawBuf  *boundedBuffer // raw terminal bytes, ANSI-safe trim
	textBuf *boundedBuffer // processed plain-text output

	pty *ptyAdapter
	mux *muxAdapter

	filters *streamFilters
	parser  *terminalParser
	idle    *idleDetector
	respawn *respawnController
	accept  *autoAccept
	policy  *tokenPolicy

	tokens TokenState

	mode   Mode
	status Status

	attached          bool
	usingMux          bool
	freshMuxSession    bool
	promptProbeActive bool
	promptProbeID     int

	isStoppedFlag bool

	oneShotCh   chan oneShotResult
	oneShotDone bool

	// reportedChildID is the child agent's own session_id, first observed
	// on a "system" message (spec §4.F "first observed becomes the
	// child's reported id"); later system messages do not overwrite it.
	reportedChildID string
}

// NewSession wires every component for one session id. cls may be nil
// (disables all AI-confirmation gates regardless of cfg).
func NewSession(id string, cfg config.Config, profile agentprofile.Profile, cls classifier.Classifier) *Session {
	cfg.Normalize()

	s := &Session{
		ID:      id,
		cfg:     cfg,
		profile: profile,
		bag:     newTimerBag(),
		rawBuf:  newBoundedBuffer(2<<20, 1<<20, true),
		textBuf: newBoundedBuffer(1<<20, 512<<10, false),
	}
	s.pty = newPTYAdapter(s.handlePTYData, s.handlePTYExit)
	s.mux = newMuxAdapter()

	s.filters = newStreamFilters(s.bag, func(line string) {
		s.parser.processLine(line)
	}, func(line string) {
		s.parser.processLine(line)
	})

	var idleCls, menuCls classifier.Classifier
	if cfg.AIConfirmEnabled && cls != nil {
		idleCls = classifier.NewGated(cls, cfg.AICheckCooldown)
	}
	if cfg.AutoAcceptAIGated && cls != nil {
		menuCls = classifier.NewGated(cls, cfg.AICheckCooldown)
	}

	log := logger.Session(id)

	s.idle = newIdleDetector(s.bag, cfg.NoOutputTimeout, cfg.CompletionConfirm, cfg.WorkingAbsenceWin, cfg.AICheckTimeout, idleCls, s.transcriptTail)
	s.idle.onConfirmedIdle = s.handleConfirmedIdle
	s.idle.onAICheckStarted = func() { s.emit(Event{Kind: EventAICheckStarted}) }
	s.idle.onLog = func(msg string) { log.Debug(msg) }

	s.respawn = newRespawnController(s.bag, cfg.RespawnEnabled, cfg.UpdatePrompt, cfg.SendClear, cfg.SendInit, cfg.InitPrompt, cfg.InterStepDelay, cfg.NoOutputTimeout, s.preferredWrite)
	s.respawn.onLog = func(msg string) { log.Debug(msg) }
	s.respawn.onStateChanged = func(prev, next RespawnState) {
		s.accept.onRespawnStateChanged(next)
		s.emit(Event{Kind: EventStateChanged, PrevState: prev, NewState: next})
	}
	s.respawn.onCycleStarted = func(n int) { s.emit(Event{Kind: EventRespawnCycleStarted, CycleN: n}) }
	s.respawn.onCycleCompleted = func() { s.emit(Event{Kind: EventRespawnCycleCompleted}) }
	s.respawn.onStepSent = func(name string) {
		if name == "clear" {
			s.tokens.reset()
		}
		s.emit(Event{Kind: EventStepSent, StepName: name})
	}
	s.respawn.onStepCompleted = func(name string) { s.emit(Event{Kind: EventStepCompleted, StepName: name}) }

	delay := config.DefaultAutoAcceptDelay
	if cfg.AutoAcceptDelay != nil {
		delay = *cfg.AutoAcceptDelay
	}
	s.accept = newAutoAccept(s.bag, cfg.AutoAcceptEnabled, delay, cfg.AutoAcceptAIGated, cfg.AICheckTimeout, menuCls, s.preferredWrite, s.rawTail)
	s.accept.onSent = func() { s.emit(Event{Kind: EventAutoAcceptSent}) }

	s.policy = newTokenPolicy(s.bag, &s.tokens,
		cfg.AutoCompactEnabled, cfg.AutoCompactThreshold, cfg.AutoCompactPrompt, config.DefaultCompactPostSendGuard,
		cfg.AutoClearEnabled, cfg.AutoClearThreshold, config.DefaultClearPostSendGuard,
		time.Second, s.preferredWrite, s.isStopped, s.isIdleForPolicy)
	s.policy.onAutoCompact = func() { s.emit(Event{Kind: EventAutoCompact}) }
	s.policy.onAutoClear = func() { s.emit(Event{Kind: EventAutoClear}) }
	s.policy.onLog = func(msg string) { log.Debug(msg) }

	return s
}

// Subscribe registers a subscriber for this session's event surface.
func (s *Session) Subscribe(sub Subscriber) { s.bus.subscribe(sub) }

func (s *Session) emit(e Event) { s.bus.emit(e) }

// newParserForMode (re)builds the Terminal Parser for the mode about to
// start and wires its callbacks into the rest of the session (spec §4.F
// one-shot gating: the JSON Message Parser only runs in ModeAgentOneShot).
func (s *Session) newParserForMode(oneShot bool) {
	p := newTerminalParser(oneShot, &s.tokens)

	p.onTokenUpdate = func(applied bool, input, output int) {
		if applied {
			s.policy.onTokenUpdate()
		}
	}
	var checkWorkingAbsence func()
	checkWorkingAbsence = func() {
		if p.workingAbsenceFor(time.Now()) >= s.cfg.WorkingAbsenceWin {
			p.clearWorking()
			return
		}
		s.bag.after(s.cfg.WorkingAbsenceWin, checkWorkingAbsence)
	}
	p.onWorkingChanged = func(working bool) {
		if working {
			s.idle.onWorkingOrSubstantialOutput()
			s.respawn.onWorkingDetected()
			s.accept.onWorkingDetected()
			s.bag.after(s.cfg.WorkingAbsenceWin, checkWorkingAbsence)
		}
	}
	p.onSubstantialOutput = func() { s.idle.onWorkingOrSubstantialOutput() }
	p.onPromptSeen = s.handlePromptSeen
	p.onCompletionMsg = s.idle.onCompletionMessage
	p.onCompletionPhrase = func(token string) {
		s.emit(Event{Kind: EventLog, Text: fmt.Sprintf("completion phrase: %s", token)})
	}
	p.onTodoUpdate = func(todos []Todo) {}
	p.onMessage = s.handleMessage
	p.onPlainText = func(text string) {
		s.textBuf.append([]byte(text))
		s.emit(Event{Kind: EventOutput, Text: text})
	}

	s.parser = p
}

func (s *Session) handleMessage(m Message) {
	s.emit(Event{Kind: EventMessage, Message: m})
	if m.Type == MessageTypeSystem && m.SessionID != "" {
		s.captureReportedChildID(m.SessionID)
	}
	if m.Type != MessageTypeResult {
		return
	}
	if m.IsError {
		s.resolveOneShot(oneShotResult{Err: fmt.Errorf("supervisor: agent result error: %s", m.Result)})
		return
	}
	s.resolveOneShot(oneShotResult{Result: m.Result, Cost: m.TotalCostUSD})
	s.emit(Event{Kind: EventCompletion, Result: m.Result, Cost: m.TotalCostUSD})
}

func (s *Session) handleConfirmedIdle(confidence int) {
	s.mu.Lock()
	if s.status != StatusStopped {
		s.status = StatusIdle
	}
	s.mu.Unlock()

	// A confirmedIdle while a respawn step is waiting completes that step
	// (spec §4.J "wait for the step to complete using the same Idle
	// Detector contract"); otherwise it may start a new maintenance cycle.
	if s.respawn.awaitingStep() {
		s.respawn.onStepIdleConfirmed()
		return
	}
	s.respawn.onConfirmedIdle()
}

// captureReportedChildID implements the "first observed wins" rule of
// spec §4.F for the child agent's own reported session id: once set, a
// later system message's session_id is ignored.
func (s *Session) captureReportedChildID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reportedChildID == "" {
		s.reportedChildID = id
	}
}

// ReportedChildID returns the child agent's own session_id as first
// observed on a "system" message, or "" if none has arrived yet.
func (s *Session) ReportedChildID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reportedChildID
}

func (s *Session) transcriptTail() string { return string(s.textBuf.value()) }
func (s *Session) rawTail() string        { return string(s.rawBuf.value()) }

// preferredWrite routes a write through the multiplexer when attached
// through one, else falls back to a direct PTY write (spec §4.J/§4.K/§4.L
// "preferred write path (multiplexer if available)").
func (s *Session) preferredWrite(data []byte) error {
	s.mu.Lock()
	usingMux := s.usingMux
	stopped := s.isStoppedFlag
	s.mu.Unlock()
	if stopped {
		return ErrSessionStopped
	}
	if usingMux && s.mux.isAvailable() {
		return s.mux.sendInput(context.Background(), s.ID, data)
	}
	if !s.pty.write(data) {
		return ErrNotAttached
	}
	return nil
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isStoppedFlag
}

func (s *Session) isIdleForPolicy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusIdle
}

func (s *Session) handlePTYData(data []byte) {
	now := time.Now()

	s.mu.Lock()
	s.rawBuf.append(data)
	stripFF := s.mode != ModeShell
	s.mu.Unlock()

	s.emit(Event{Kind: EventTerminal, RawBytes: data})

	s.parser.processChunk(data)
	s.idle.onByte(now)
	s.accept.onChunk(string(data), stripANSI(string(data)), now)

	filtered := s.filters.preFilter(data, stripFF)
	s.filters.feed(filtered)
}

func (s *Session) handlePTYExit(code int) {
	s.mu.Lock()
	stopped := s.isStoppedFlag
	usingMux := s.usingMux
	if !stopped {
		if code == 0 {
			s.status = StatusIdle
		} else {
			s.status = StatusError
		}
	}
	s.mu.Unlock()

	s.emit(Event{Kind: EventExit, ExitCode: code})

	if usingMux {
		// Child crashed (or exited): detach without killing the
		// multiplexer session (spec §4.H failure semantics).
		s.mux.setAttached(s.ID, false)
	}

	if code != 0 {
		s.resolveOneShot(oneShotResult{Err: fmt.Errorf("supervisor: agent exited with code %d", code)})
	} else {
		s.resolveOneShot(oneShotResult{Err: ErrSessionStopped})
	}
}

func (s *Session) resolveOneShot(r oneShotResult) {
	s.mu.Lock()
	if s.oneShotDone || s.oneShotCh == nil {
		s.mu.Unlock()
		return
	}
	s.oneShotDone = true
	ch := s.oneShotCh
	s.mu.Unlock()
	ch <- r
}

// handlePromptSeen implements the fresh-multiplexer-session probe of spec
// §4.H: the first prompt seen within the bounded window strips leading
// ANSI/whitespace from the raw buffer and emits clearTerminal. Reattached
// sessions never arm the probe, so clients simply fetch the buffer as-is.
func (s *Session) handlePromptSeen() {
	s.mu.Lock()
	active := s.promptProbeActive
	if active {
		s.promptProbeActive = false
		s.bag.cancel(s.promptProbeID)
		trimmed := trimLeadingPromptNoise(string(s.rawBuf.value()))
		s.rawBuf.set([]byte(trimmed))
	}
	s.mu.Unlock()
	if active {
		s.emit(Event{Kind: EventClearTerminal})
	}
}

func (s *Session) schedulePromptProbe() {
	s.promptProbeActive = true
	s.promptProbeID = s.bag.after(5*time.Second, func() {
		s.mu.Lock()
		s.promptProbeActive = false
		s.mu.Unlock()
	})
}

// StartInteractive spawns (or reattaches) the configured agent, wrapped in
// the multiplexer when available and configured, else a bare PTY.
func (s *Session) StartInteractive() error {
	s.mu.Lock()
	if s.attached {
		s.mu.Unlock()
		return ErrAlreadyAttached
	}
	s.mode = ModeAgentInteractive
	s.mu.Unlock()

	s.newParserForMode(false)

	binary, err := agentprofile.ResolveBinary(s.profile)
	if err != nil {
		s.failAttach(err)
		return err
	}
	args := s.profile.Args(s.ID, "", true, false)
	env := agentprofile.EnvSlice(agentprofile.BuildEnv(hostEnvMap(), s.profile, s.ID, ""))

	usingMux := false
	fresh := false
	if s.cfg.UseMultiplexer && s.mux.isAvailable() {
		ctx := context.Background()
		fresh = !s.mux.exists(ctx, s.ID)
		if muxErr := s.tryAttachMux(ctx, fresh, binary, args, env); muxErr != nil {
			s.emit(Event{Kind: EventLog, Text: "multiplexer unavailable, falling back to bare pty: " + muxErr.Error()})
		} else {
			usingMux = true
		}
	}
	if !usingMux {
		if err := s.pty.spawn(binary, args, env, s.cfg.CWD, defaultCols, defaultRows); err != nil {
			s.failAttach(err)
			return err
		}
	}

	s.mu.Lock()
	s.attached = true
	s.usingMux = usingMux
	s.freshMuxSession = fresh
	s.status = StatusBusy
	s.mu.Unlock()

	if usingMux {
		s.mux.setAttached(s.ID, true)
	}
	if usingMux && fresh {
		s.schedulePromptProbe()
	}
	return nil
}

func (s *Session) tryAttachMux(ctx context.Context, fresh bool, binary string, args, env []string) error {
	if fresh {
		if err := s.mux.createSession(ctx, s.ID, s.cfg.CWD, defaultCols, defaultRows, binary, args); err != nil {
			return err
		}
	}
	return s.pty.spawn("screen", s.mux.attachArgs(s.ID), env, s.cfg.CWD, defaultCols, defaultRows)
}

func (s *Session) failAttach(err error) {
	s.mu.Lock()
	s.status = StatusError
	s.mu.Unlock()
	s.emit(Event{Kind: EventError, Text: err.Error()})
}

// StartOneShot spawns the agent with the one-shot and structured-output
// flags set, blocking until the parsed result (or ctx's deadline, or an
// error exit) resolves it exactly once.
func (s *Session) StartOneShot(ctx context.Context, prompt string) (result string, cost float64, err error) {
	s.mu.Lock()
	if s.attached {
		s.mu.Unlock()
		return "", 0, ErrAlreadyAttached
	}
	s.mode = ModeAgentOneShot
	s.oneShotCh = make(chan oneShotResult, 1)
	s.oneShotDone = false
	s.mu.Unlock()

	s.newParserForMode(true)

	binary, rerr := agentprofile.ResolveBinary(s.profile)
	if rerr != nil {
		s.failAttach(rerr)
		return "", 0, rerr
	}
	args := s.profile.Args(s.ID, prompt, true, true)
	env := agentprofile.EnvSlice(agentprofile.BuildEnv(hostEnvMap(), s.profile, s.ID, ""))

	if err := s.pty.spawn(binary, args, env, s.cfg.CWD, defaultCols, defaultRows); err != nil {
		s.failAttach(err)
		return "", 0, err
	}

	s.mu.Lock()
	s.attached = true
	s.status = StatusBusy
	ch := s.oneShotCh
	s.mu.Unlock()

	select {
	case r := <-ch:
		return r.Result, r.Cost, r.Err
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}
}

// StartShell spawns the user's default shell, with or without multiplexer
// wrap, and marks the session idle after a fixed ready delay.
func (s *Session) StartShell() error {
	s.mu.Lock()
	if s.attached {
		s.mu.Unlock()
		return ErrAlreadyAttached
	}
	s.mode = ModeShell
	s.mu.Unlock()

	s.newParserForMode(false)

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}
	if err := s.pty.spawn(shell, nil, hostEnv(), s.cfg.CWD, defaultCols, defaultRows); err != nil {
		s.failAttach(err)
		return err
	}

	s.mu.Lock()
	s.attached = true
	s.status = StatusBusy
	s.mu.Unlock()

	s.bag.after(500*time.Millisecond, func() {
		s.mu.Lock()
		if !s.isStoppedFlag {
			s.status = StatusIdle
		}
		s.mu.Unlock()
	})
	return nil
}

// Write passes bytes through to the PTY; a no-op (returns false) after
// stop or before attach.
func (s *Session) Write(data []byte) bool {
	if s.isStopped() {
		return false
	}
	return s.pty.write(data)
}

// WriteViaMultiplexer is the preferred path when attached through a
// multiplexer; returns false if neither path is available.
func (s *Session) WriteViaMultiplexer(data []byte) bool {
	s.mu.Lock()
	usingMux := s.usingMux
	stopped := s.isStoppedFlag
	s.mu.Unlock()
	if stopped || !usingMux || !s.mux.isAvailable() {
		return false
	}
	return s.mux.sendInput(context.Background(), s.ID, data) == nil
}

func (s *Session) Resize(cols, rows int) error {
	return s.pty.resize(cols, rows)
}

// Stop is idempotent: it flips isStoppedFlag (preventing any new timer
// from being scheduled) before canceling timers, rejects any pending
// one-shot promise, attempts graceful-then-forceful PTY termination, and
// detaches from (or kills) the multiplexer session (spec §4.H).
func (s *Session) Stop(killMultiplexerSession bool) {
	s.mu.Lock()
	if s.isStoppedFlag {
		s.mu.Unlock()
		return
	}
	s.isStoppedFlag = true
	usingMux := s.usingMux
	s.mu.Unlock()

	s.bag.stopAll()

	s.mu.Lock()
	if !s.oneShotDone && s.oneShotCh != nil {
		s.oneShotDone = true
		ch := s.oneShotCh
		s.mu.Unlock()
		ch <- oneShotResult{Err: ErrSessionStopped}
	} else {
		s.mu.Unlock()
	}

	s.pty.stop(100 * time.Millisecond)

	if usingMux {
		s.mux.setAttached(s.ID, false)
		if killMultiplexerSession {
			_ = s.mux.killSession(context.Background(), s.ID)
		}
	}

	s.mu.Lock()
	s.status = StatusStopped
	s.mu.Unlock()

	s.bus.unsubscribeAll()
	logger.Closed(s.ID)
}

// ToState returns a persistable snapshot of the session (spec §6
// "persisted state").
func (s *Session) ToState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	input, output, cost := s.tokens.snapshot()
	return State{
		ID:              s.ID,
		PID:             s.pty.pid(),
		Status:          s.status,
		CWD:             s.cfg.CWD,
		Mode:            s.mode,
		InputTokens:     input,
		OutputTokens:    output,
		TotalCost:       cost,
		ReportedChildID: s.reportedChildID,
	}
}

// RestoreTokens implements the restoreTokens() operation of spec §6/§4.7:
// rejects negatives and above-ceiling values, leaving counters unchanged
// on rejection.
func (s *Session) RestoreTokens(input, output int, cost float64) bool {
	return s.tokens.restore(input, output, cost)
}

func hostEnv() []string { return os.Environ() }

// hostEnvMap is the map-shaped form agentprofile.BuildEnv expects.
func hostEnvMap() map[string]string {
	entries := os.Environ()
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if ok {
			m[k] = v
		}
	}
	return m
}
