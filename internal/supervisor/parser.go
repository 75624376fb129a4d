package supervisor

import (
	"strings"
	"time"
)

// Terminal Parser (spec §4.G). Runs on every raw chunk in addition to the
// line splitter, extracting token usage, tool invocations, working/idle
// heuristics, completion signals, todo items, and iteration/cycle
// counters. Grounded on the teacher's internal/egg/server.go chunk
// pipeline (readPTY -> replay.Write, with cursor tracking folded into the
// write path) and internal/agent/claude.go's line-scoped JSON parsing,
// generalized to spec §4.G's superset of signals.
type terminalParser struct {
	oneShot bool // JSON Message Parser only runs in one-shot mode (spec §4.F)

	tools     toolInvocations
	todos     *todoList
	tokens    *TokenState
	messages  messageList

	iteration      int
	iterationTotal int
	cycle          int
	elapsedHours   float64

	lastActivityAt    time.Time
	lastWorkingAt     time.Time
	lastOutputBytesAt time.Time

	working bool

	onTokenUpdate      func(applied bool, input, output int)
	onToolInvocation   func(ToolInvocation)
	onWorkingChanged   func(working bool)
	onPromptSeen       func()
	onCompletionMsg    func()
	onCompletionPhrase func(token string)
	onTodoUpdate        func([]Todo)
	onMessage           func(Message)
	onPlainText         func(text string)
	onSubstantialOutput func()
}

func newTerminalParser(oneShot bool, tokens *TokenState) *terminalParser {
	return &terminalParser{
		oneShot: oneShot,
		todos:   newTodoList(),
		tokens:  tokens,
	}
}

// processChunk runs the per-chunk extraction steps of spec §4.G.1-3 and
// §4.G.8. Line-scoped steps (4-7, and the JSON parser) run in
// processLine, invoked once per completed line by the Stream Filters.
func (p *terminalParser) processChunk(chunk []byte) {
	now := time.Now()
	p.lastActivityAt = now

	text := string(chunk)

	// 1. Token-usage extraction: cheap substring pre-check before regex.
	if strings.Contains(text, "token") {
		stripped := stripANSI(text)
		if count, ok := parseTokenStatus(stripped); ok {
			applied := p.tokens.applyStatusLineTotal(count)
			if p.onTokenUpdate != nil {
				input, output, _ := p.tokens.snapshot()
				p.onTokenUpdate(applied, input, output)
			}
		}
	}

	// 2. Tool-invocation extraction: cheap pre-check before per-line regex.
	if strings.Contains(text, "(") && strings.Contains(text, ")") {
		for _, line := range strings.Split(text, "\n") {
			stripped := stripANSI(line)
			for _, m := range findToolInvocations(stripped) {
				desc := m.Name + "(" + m.Args + ")"
				p.tools.insert(now, desc)
				if p.onToolInvocation != nil {
					p.onToolInvocation(ToolInvocation{At: now, Description: desc})
				}
			}
		}
	}

	// 3. Working/idle heuristics.
	stripped := stripANSI(text)
	if hasWorkingLexeme(stripped) {
		if !p.working {
			p.working = true
			if p.onWorkingChanged != nil {
				p.onWorkingChanged(true)
			}
		}
		p.lastWorkingAt = now
	} else if hasPrompt(text) {
		if p.onPromptSeen != nil {
			p.onPromptSeen()
		}
	}

	if substantialOutput(text) {
		p.lastOutputBytesAt = now
		if p.onSubstantialOutput != nil {
			p.onSubstantialOutput()
		}
	}
}

// processLine runs the line-scoped extraction steps of spec §4.G.4-7 plus
// the JSON Message Parser (§4.F, one-shot mode only). line is a completed
// line as delivered by the Stream Filters (not yet ANSI-stripped).
func (p *terminalParser) processLine(line string) {
	stripped := stripANSI(line)

	if p.oneShot {
		if msg, ok := parseMessageLine(stripped); ok {
			p.messages.append(msg)
			if msg.Type == MessageTypeAssistant {
				if msg.Usage != nil {
					applied := p.tokens.applyUsage(msg.Usage.InputTokens, msg.Usage.OutputTokens)
					if p.onTokenUpdate != nil {
						input, output, _ := p.tokens.snapshot()
						p.onTokenUpdate(applied, input, output)
					}
				}
				if text := msg.assistantText(); text != "" && p.onPlainText != nil {
					p.onPlainText(text)
				}
			}
			if msg.Type == MessageTypeResult && msg.TotalCostUSD > 0 {
				p.tokens.applyCost(msg.TotalCostUSD)
			}
			if p.onMessage != nil {
				p.onMessage(msg)
			}
			return
		}
		// Failed parse (or non-JSON-looking line): falls through to plain
		// text buffer with a trailing newline (spec §4.F).
		if p.onPlainText != nil {
			p.onPlainText(line + "\n")
		}
	}

	// 4. Completion-message detection: forwarded to the Idle Detector.
	if hasCompletionMessage(stripped) && p.onCompletionMsg != nil {
		p.onCompletionMsg()
	}

	// 5. Completion-phrase detection.
	if token, ok := findCompletionPhrase(stripped); ok && p.onCompletionPhrase != nil {
		p.onCompletionPhrase(token)
	}

	// 6. Todo extraction.
	if content, status, ok := matchTodoLine(stripped); ok {
		if p.todos.upsert(content, status) && p.onTodoUpdate != nil {
			p.onTodoUpdate(p.todos.snapshot())
		}
	}

	// 7. Iteration and cycle counters, monotonically updated.
	if n, total, ok := matchIteration(stripped); ok {
		if n > p.iteration {
			p.iteration = n
		}
		if total > p.iterationTotal {
			p.iterationTotal = total
		}
	}
	if n, ok := matchCycle(stripped); ok && n > p.cycle {
		p.cycle = n
	}
	if hours, ok := matchElapsedHours(stripped); ok && hours > p.elapsedHours {
		p.elapsedHours = hours
	}
}

// workingAbsenceFor reports how long it has been since any working
// lexeme was last observed (spec §4.I signal 3 window computation).
func (p *terminalParser) workingAbsenceFor(now time.Time) time.Duration {
	if p.lastWorkingAt.IsZero() {
		return now.Sub(p.lastActivityAt)
	}
	return now.Sub(p.lastWorkingAt)
}

// isWorking reports the parser's current working/idle classification.
func (p *terminalParser) isWorking() bool {
	return p.working
}

// clearWorking is invoked once a working-absence window elapses, so the
// next working lexeme re-raises onWorkingChanged(true).
func (p *terminalParser) clearWorking() {
	if p.working {
		p.working = false
		if p.onWorkingChanged != nil {
			p.onWorkingChanged(false)
		}
	}
}
