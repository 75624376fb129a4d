package supervisor

import "testing"

func TestTerminalParserTokenUsageFromChunk(t *testing.T) {
	tokens := &TokenState{}
	p := newTerminalParser(false, tokens)
	var applied bool
	p.onTokenUpdate = func(a bool, input, output int) { applied = a }

	p.processChunk([]byte("\x1b[2m 123.4k tokens \x1b[0m"))

	if !applied {
		t.Fatalf("expected token update to be applied")
	}
	input, output, _ := tokens.snapshot()
	if input+output != 123400 {
		t.Fatalf("input+output = %d, want 123400", input+output)
	}
}

func TestTerminalParserWorkingTransitions(t *testing.T) {
	tokens := &TokenState{}
	p := newTerminalParser(false, tokens)
	var transitions []bool
	p.onWorkingChanged = func(w bool) { transitions = append(transitions, w) }

	p.processChunk([]byte("Thinking... ⠋"))
	if !p.isWorking() {
		t.Fatalf("expected working=true after working lexeme")
	}
	if len(transitions) != 1 || transitions[0] != true {
		t.Fatalf("unexpected transitions: %v", transitions)
	}

	p.clearWorking()
	if p.isWorking() {
		t.Fatalf("expected working=false after clearWorking")
	}
	if len(transitions) != 2 || transitions[1] != false {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}

func TestTerminalParserPromptSeen(t *testing.T) {
	tokens := &TokenState{}
	p := newTerminalParser(false, tokens)
	seen := false
	p.onPromptSeen = func() { seen = true }

	p.processChunk([]byte("\x1b[32m❯\x1b[0m "))
	if !seen {
		t.Fatalf("expected prompt-seen callback to fire")
	}
}

func TestTerminalParserToolInvocation(t *testing.T) {
	tokens := &TokenState{}
	p := newTerminalParser(false, tokens)
	var got []ToolInvocation
	p.onToolInvocation = func(ti ToolInvocation) { got = append(got, ti) }

	p.processChunk([]byte("Running Bash(ls -la)"))
	if len(got) != 1 || got[0].Description != "Bash(ls -la)" {
		t.Fatalf("unexpected tool invocations: %+v", got)
	}
}

func TestTerminalParserTodoExtraction(t *testing.T) {
	tokens := &TokenState{}
	p := newTerminalParser(false, tokens)
	var snapshot []Todo
	p.onTodoUpdate = func(t []Todo) { snapshot = t }

	p.processLine("- [ ] write tests")
	if len(snapshot) != 1 || snapshot[0].Content != "write tests" || snapshot[0].Status != TodoPending {
		t.Fatalf("unexpected todos: %+v", snapshot)
	}
}

func TestTerminalParserIterationAndCycleMonotone(t *testing.T) {
	tokens := &TokenState{}
	p := newTerminalParser(false, tokens)

	p.processLine("Iteration 2/10")
	p.processLine("Iteration 1/10") // must not regress
	if p.iteration != 2 {
		t.Fatalf("iteration = %d, want monotone max 2", p.iteration)
	}

	p.processLine("cycle #5")
	p.processLine("cycle #3")
	if p.cycle != 5 {
		t.Fatalf("cycle = %d, want monotone max 5", p.cycle)
	}
}

func TestTerminalParserCompletionMessageForwarded(t *testing.T) {
	tokens := &TokenState{}
	p := newTerminalParser(false, tokens)
	fired := false
	p.onCompletionMsg = func() { fired = true }

	p.processLine("✻ Worked for 2m 46s")
	if !fired {
		t.Fatalf("expected completion-message callback")
	}
}

func TestTerminalParserCompletionPhrase(t *testing.T) {
	tokens := &TokenState{}
	p := newTerminalParser(false, tokens)
	var token string
	p.onCompletionPhrase = func(tok string) { token = tok }

	p.processLine("all done <promise>LOOP_DONE</promise>")
	if token != "LOOP_DONE" {
		t.Fatalf("token = %q", token)
	}
}

func TestTerminalParserOneShotParsesJSONLine(t *testing.T) {
	tokens := &TokenState{}
	p := newTerminalParser(true, tokens)
	var msgs []Message
	p.onMessage = func(m Message) { msgs = append(msgs, m) }

	p.processLine(`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":10,"output_tokens":2}}}`)
	if len(msgs) != 1 || msgs[0].Type != MessageTypeAssistant {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	input, output, _ := tokens.snapshot()
	if input != 10 || output != 2 {
		t.Fatalf("tokens = %d/%d, want 10/2", input, output)
	}
}

func TestTerminalParserOneShotFallsBackToPlainText(t *testing.T) {
	tokens := &TokenState{}
	p := newTerminalParser(true, tokens)
	var plain string
	p.onPlainText = func(s string) { plain += s }

	p.processLine("not json at all")
	if plain != "not json at all\n" {
		t.Fatalf("plain = %q", plain)
	}
}
