package supervisor

import (
	"regexp"
	"strconv"
	"strings"
)

// Pattern Library (spec §4.B). Every recognizer here is centralized and
// individually testable, as spec §9 "Regex-driven parsing" calls for.
// Regex-table shape grounded on the teacher's internal/parse/parse.go
// (scheduleRe/memoryRe/attrRe as a centralized, precompiled pattern set).
var (
	// ansiCSIPattern strips ESC [ ?[digits;]* final, where final is a letter.
	ansiCSIPattern = regexp.MustCompile(`\x1b\[\??[0-9;]*[a-zA-Z]`)

	// focusReportPattern matches "enable/disable focus reporting" and
	// "focus-in/out" sequences (ESC [?1004h/l and ESC [I / ESC [O).
	focusReportPattern = regexp.MustCompile(`\x1b\[\?1004[hl]|\x1b\[[IO]`)

	formFeed = []byte{0x0C}

	// leadingANSIWhitespacePattern consumes a run of ANSI CSI sequences
	// and whitespace at the start of a buffer.
	leadingANSIWhitespacePattern = regexp.MustCompile(`^(?:\x1b\[\??[0-9;]*[a-zA-Z]|\s)+`)

	// tokenStatusPattern matches "N[.M]? (k|K|m|M)? tokens".
	tokenStatusPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([kKmM])?\s*tokens`)

	// toolInvocationPattern matches tool-call descriptions on
	// ANSI-stripped text.
	toolInvocationPattern = regexp.MustCompile(`\b(Explore|Task|Bash|Plan|general-purpose)\(([^)]+)\)`)

	// promptPattern is the heavy-right-angle prompt glyph.
	promptPattern = regexp.MustCompile(`❯`)

	// completionMessagePattern matches "Worked for" followed by a
	// minute/second duration, e.g. "Worked for 2m 46s".
	completionMessagePattern = regexp.MustCompile(`Worked for\s+(?:\d+m\s*)?\d+s`)

	// completionPhrasePattern matches <promise>TOKEN</promise> sentinels.
	completionPhrasePattern = regexp.MustCompile(`<promise>([A-Z0-9_-]+)</promise>`)

	// todoPatterns covers the three recognized todo-line forms.
	todoChecklistPattern = regexp.MustCompile(`-\s*\[( |x|X)\]\s*(.+)`)
	todoGlyphPattern      = regexp.MustCompile(`([◐☐✓✅⏳])\s*(.+)`)
	todoSuffixPattern     = regexp.MustCompile(`(.+?)\s*\((pending|in_progress|completed)\)`)

	// iterationPattern matches "Iteration N[/M]" or "[N/M]".
	iterationPattern = regexp.MustCompile(`(?:Iteration\s+(\d+)(?:/(\d+))?|\[(\d+)/(\d+)\])`)

	// cyclePattern matches "cycle #N" case-insensitively.
	cyclePattern = regexp.MustCompile(`(?i)cycle\s*#(\d+)`)

	// elapsedPattern matches "N[.M] hour(s)?" case-insensitively.
	elapsedPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*hours?`)

	// menuSelectorPattern matches the numbered-list selector glyph a menu
	// prompt highlights its current choice with, e.g. "❯ 1. Yes".
	menuSelectorPattern = regexp.MustCompile(`❯\s*\d+\.`)

	// numberedListLinePattern matches one numbered-list menu line, e.g.
	// "  2. No, and tell Claude what to do differently", including the
	// line carrying the selector glyph ("❯ 1. Yes").
	numberedListLinePattern = regexp.MustCompile(`(?m)^\s*(?:❯\s*)?\d+\.\s+\S`)
)

// workingLexemes are case-sensitive substrings indicating active output,
// per spec §4.B "Working lexeme set".
var workingLexemes = []string{"Thinking", "Writing", "Reading", "Running"}

// brailleSpinnerGlyphs are the ten braille spinner code points used by
// agent CLIs for an animated "working" indicator.
var brailleSpinnerGlyphs = []rune{
	'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏',
}

// stripANSI removes ANSI-CSI sequences from s, producing the heuristic
// text-extraction approximation spec §1 calls for (not a full emulator).
func stripANSI(s string) string {
	return ansiCSIPattern.ReplaceAllString(s, "")
}

// stripFocusReport removes focus-reporting sequences unconditionally.
func stripFocusReport(s string) string {
	return focusReportPattern.ReplaceAllString(s, "")
}

// stripFormFeed removes form-feed control characters.
func stripFormFeed(b []byte) []byte {
	if !bytesContains(b, formFeed[0]) {
		return b
	}
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c != formFeed[0] {
			out = append(out, c)
		}
	}
	return out
}

func bytesContains(b []byte, c byte) bool {
	for _, x := range b {
		if x == c {
			return true
		}
	}
	return false
}

// stripLeadingANSIWhitespace consumes a run of ANSI CSI sequences and
// whitespace at the start of s (spec §4.B "Leading-ANSI-whitespace strip",
// used on fresh-create prompt handling, spec §4.H).
func stripLeadingANSIWhitespace(s string) string {
	return leadingANSIWhitespacePattern.ReplaceAllString(s, "")
}

// hasWorkingLexeme reports whether an ANSI-stripped copy of s contains any
// working lexeme or braille spinner glyph (spec §4.G.3).
func hasWorkingLexeme(ansiStripped string) bool {
	for _, lex := range workingLexemes {
		if strings.Contains(ansiStripped, lex) {
			return true
		}
	}
	for _, r := range brailleSpinnerGlyphs {
		if strings.ContainsRune(ansiStripped, r) {
			return true
		}
	}
	return false
}

// hasPrompt reports whether the ANSI-bearing (not stripped) stream
// contains the prompt glyph (spec §4.G.3).
func hasPrompt(ansiBearing string) bool {
	return promptPattern.MatchString(ansiBearing)
}

// parseTokenStatus parses the first token-status match in s (already
// ANSI-stripped) and resolves it to an integer count, applying the
// k/K/m/M suffix multiplier and the "m accepted only when N<=0.5" rule of
// spec §4.B/§4.7. ok is false if no match or the M-suffix rule rejects it.
func parseTokenStatus(ansiStripped string) (count int, ok bool) {
	m := tokenStatusPattern.FindStringSubmatch(ansiStripped)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	suffix := strings.ToLower(m[2])
	switch suffix {
	case "":
		return int(n), true
	case "k":
		return int(n * 1_000), true
	case "m":
		if n > 0.5 {
			return 0, false
		}
		return int(n * 1_000_000), true
	default:
		return 0, false
	}
}

// toolInvocationMatch is a single tool-invocation call extracted from a line.
type toolInvocationMatch struct {
	Name string
	Args string
}

// findToolInvocations runs the tool-invocation pattern globally over an
// ANSI-stripped line (spec §4.G.2).
func findToolInvocations(ansiStrippedLine string) []toolInvocationMatch {
	matches := toolInvocationPattern.FindAllStringSubmatch(ansiStrippedLine, -1)
	out := make([]toolInvocationMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, toolInvocationMatch{Name: m[1], Args: m[2]})
	}
	return out
}

// matchTodoLine classifies a single line against the three recognized
// todo forms (spec §4.B "Todo-line patterns"), returning the extracted
// content/status or ok=false if the line matches none of them.
func matchTodoLine(line string) (content string, status TodoStatus, ok bool) {
	if m := todoChecklistPattern.FindStringSubmatch(line); m != nil {
		content = strings.TrimSpace(m[2])
		if strings.EqualFold(m[1], "x") {
			return content, TodoCompleted, true
		}
		return content, TodoPending, true
	}
	if m := todoGlyphPattern.FindStringSubmatch(line); m != nil {
		content = strings.TrimSpace(m[2])
		switch m[1] {
		case "◐", "⏳":
			return content, TodoInProgress, true
		case "✓", "✅":
			return content, TodoCompleted, true
		case "☐":
			return content, TodoPending, true
		}
	}
	if m := todoSuffixPattern.FindStringSubmatch(line); m != nil {
		content = strings.TrimSpace(m[1])
		switch m[2] {
		case "pending":
			return content, TodoPending, true
		case "in_progress":
			return content, TodoInProgress, true
		case "completed":
			return content, TodoCompleted, true
		}
	}
	return "", 0, false
}

// matchIteration extracts (n, m) from an "Iteration N[/M]" or "[N/M]" line.
func matchIteration(line string) (n, total int, ok bool) {
	m := iterationPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	if m[1] != "" {
		n, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			total, _ = strconv.Atoi(m[2])
		}
		return n, total, true
	}
	n, _ = strconv.Atoi(m[3])
	total, _ = strconv.Atoi(m[4])
	return n, total, true
}

// matchCycle extracts N from a case-insensitive "cycle #N" line.
func matchCycle(line string) (n int, ok bool) {
	m := cyclePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, _ = strconv.Atoi(m[1])
	return n, true
}

// matchElapsedHours extracts the hour count from a "N[.M] hour(s)" line.
func matchElapsedHours(line string) (hours float64, ok bool) {
	m := elapsedPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return hours, true
}

// hasCompletionMessage reports whether a line matches the completion
// message pattern ("Worked for 2m 46s").
func hasCompletionMessage(line string) bool {
	return completionMessagePattern.MatchString(line)
}

// hasMenuSelector reports whether the ANSI-bearing tail contains a
// numbered-list selector glyph (spec §4.K pre-filter part a).
func hasMenuSelector(ansiBearing string) bool {
	return menuSelectorPattern.MatchString(ansiBearing)
}

// hasSmallNumberedList reports whether the tail contains a plausible small
// numbered-choice menu: between 2 and 5 numbered lines (spec §4.K
// pre-filter part b — "small numbered list pattern").
func hasSmallNumberedList(ansiStripped string) bool {
	matches := numberedListLinePattern.FindAllString(ansiStripped, -1)
	return len(matches) >= 2 && len(matches) <= 5
}

// findCompletionPhrase extracts the sentinel token from a
// <promise>TOKEN</promise> match, if present.
func findCompletionPhrase(line string) (token string, ok bool) {
	m := completionPhrasePattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}
