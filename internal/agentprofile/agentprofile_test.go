package agentprofile

import (
	"os"
	"testing"
)

func TestLookupUnknownAgentIsRestrictive(t *testing.T) {
	p := Lookup("some-future-agent")
	if p.Binary != "some-future-agent" {
		t.Fatalf("expected binary fallback to agent name, got %q", p.Binary)
	}
	if p.SkipPermissionsFlag != "" || p.SessionIDFlag != "" || len(p.EnvVars) != 0 {
		t.Fatalf("expected unknown agent to carry no flags/env, got %+v", p)
	}
}

func TestArgsInteractiveVsOneShot(t *testing.T) {
	p := Lookup("claude")

	interactive := p.Args("sess-1", "", true, false)
	wantInteractive := []string{"--dangerously-skip-permissions", "--session-id", "sess-1"}
	if !equalSlices(interactive, wantInteractive) {
		t.Fatalf("interactive args = %v, want %v", interactive, wantInteractive)
	}

	oneShot := p.Args("sess-1", "hello", true, true)
	wantOneShot := []string{
		"--dangerously-skip-permissions", "--session-id", "sess-1",
		"-p", "hello", "--output-format", "stream-json", "--verbose",
	}
	if !equalSlices(oneShot, wantOneShot) {
		t.Fatalf("one-shot args = %v, want %v", oneShot, wantOneShot)
	}
}

func TestBuildEnvInjectsSelfIdentification(t *testing.T) {
	os.Setenv("ANTHROPIC_API_KEY", "test-key")
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	base := map[string]string{"CUSTOM": "1"}
	env := BuildEnv(base, Lookup("claude"), "sess-42", "http://127.0.0.1:9000")

	if env["CLAUDEMAN_SESSION_ID"] != "sess-42" {
		t.Errorf("CLAUDEMAN_SESSION_ID = %q", env["CLAUDEMAN_SESSION_ID"])
	}
	if env["CLAUDEMAN_SCREEN"] != "1" {
		t.Errorf("CLAUDEMAN_SCREEN = %q", env["CLAUDEMAN_SCREEN"])
	}
	if env["CLAUDEMAN_API_URL"] != "http://127.0.0.1:9000" {
		t.Errorf("CLAUDEMAN_API_URL = %q", env["CLAUDEMAN_API_URL"])
	}
	if env["TERM"] != "xterm-256color" {
		t.Errorf("TERM = %q", env["TERM"])
	}
	if env["CUSTOM"] != "1" {
		t.Errorf("base entries must survive merge, got %q", env["CUSTOM"])
	}
	if env["ANTHROPIC_API_KEY"] != "test-key" {
		t.Errorf("expected host ANTHROPIC_API_KEY to be merged in")
	}
	if _, ok := base["CLAUDEMAN_SESSION_ID"]; ok {
		t.Fatalf("BuildEnv must not mutate its base map")
	}
}

func TestBuildEnvDoesNotOverrideExplicitTERM(t *testing.T) {
	base := map[string]string{"TERM": "screen-256color"}
	env := BuildEnv(base, Lookup("claude"), "sess-1", "")
	if env["TERM"] != "screen-256color" {
		t.Errorf("explicit TERM should survive, got %q", env["TERM"])
	}
	if _, ok := env["CLAUDEMAN_API_URL"]; ok {
		t.Errorf("empty apiURL must not set CLAUDEMAN_API_URL")
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
