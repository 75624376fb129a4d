// Package agentprofile describes the CLI contract of each supported
// supervised agent binary: how to tell it to skip interactive permission
// prompts, how to pass a session id, how to run a single one-shot prompt
// with structured output, and what environment it needs from the host.
// Adapted from the teacher's internal/egg/agents.go AgentProfile table.
package agentprofile

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Profile declares the CLI shape and host requirements of one agent binary.
type Profile struct {
	// Binary is the executable name looked up on PATH.
	Binary string
	// SkipPermissionsFlag, when non-empty, is appended to suppress
	// interactive approval prompts (spec §6 "skip interactive permissions").
	SkipPermissionsFlag string
	// SessionIDFlag, when non-empty, is the flag name preceding the
	// session id value (spec §6 "session-id flag").
	SessionIDFlag string
	// OneShotFlag precedes the one-shot prompt text.
	OneShotFlag string
	// StructuredOutputArgs are appended to request newline-delimited JSON
	// output (spec §4.F).
	StructuredOutputArgs []string
	// EnvVars are required host environment variable names merged in
	// when present (e.g. API keys).
	EnvVars []string
}

var profiles = map[string]Profile{
	"claude": {
		Binary:               "claude",
		SkipPermissionsFlag:  "--dangerously-skip-permissions",
		SessionIDFlag:        "--session-id",
		OneShotFlag:          "-p",
		StructuredOutputArgs: []string{"--output-format", "stream-json", "--verbose"},
		EnvVars:              []string{"ANTHROPIC_API_KEY"},
	},
	"codex": {
		Binary:               "codex",
		SkipPermissionsFlag:  "--dangerously-bypass-approvals-and-sandbox",
		SessionIDFlag:        "--session-id",
		OneShotFlag:          "exec",
		StructuredOutputArgs: []string{"--json"},
		EnvVars:              []string{"OPENAI_API_KEY"},
	},
	"gemini": {
		Binary:               "gemini",
		SkipPermissionsFlag:  "--yolo",
		SessionIDFlag:        "--session-id",
		OneShotFlag:          "-p",
		StructuredOutputArgs: []string{"--output-format", "json"},
		EnvVars:              []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	},
}

// Lookup returns the profile for agent, or a restrictive zero-value
// profile (binary name only, no flags, no env) for an unknown agent —
// matching the teacher's Profile() unknown-agent fallback.
func Lookup(agent string) Profile {
	if p, ok := profiles[agent]; ok {
		return p
	}
	return Profile{Binary: agent}
}

// Args builds the argv (excluding argv[0]) for running p either
// interactively (prompt == "") or as a one-shot (prompt != "").
func (p Profile) Args(sessionID, prompt string, skipPermissions, structuredOutput bool) []string {
	var args []string
	if skipPermissions && p.SkipPermissionsFlag != "" {
		args = append(args, p.SkipPermissionsFlag)
	}
	if sessionID != "" && p.SessionIDFlag != "" {
		args = append(args, p.SessionIDFlag, sessionID)
	}
	if prompt != "" && p.OneShotFlag != "" {
		args = append(args, p.OneShotFlag, prompt)
	}
	if structuredOutput {
		args = append(args, p.StructuredOutputArgs...)
	}
	return args
}

// ResolveBinary locates p's executable via PATH, falling back to a fixed
// set of well-known install locations the same way the teacher's
// RunSession resolves the agent binary before spawning it in a PTY.
func ResolveBinary(p Profile) (string, error) {
	if path, err := exec.LookPath(p.Binary); err == nil {
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			return resolved, nil
		}
		return path, nil
	}

	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join(home, ".local", "bin", p.Binary),
		filepath.Join(home, ".claude", "bin", p.Binary),
		filepath.Join("/usr", "local", "bin", p.Binary),
		filepath.Join("/opt", "homebrew", "bin", p.Binary),
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("agentprofile: %s not found on PATH or well-known locations", p.Binary)
}

// BuildEnv merges host environment variables required by p's profile and
// the self-identification variables spec §6 requires into base, returning
// a new map (base is not mutated).
func BuildEnv(base map[string]string, p Profile, sessionID, apiURL string) map[string]string {
	env := make(map[string]string, len(base)+len(p.EnvVars)+3)
	for k, v := range base {
		env[k] = v
	}
	for _, k := range p.EnvVars {
		if _, ok := env[k]; !ok {
			if v := os.Getenv(k); v != "" {
				env[k] = v
			}
		}
	}
	if _, ok := env["TERM"]; !ok {
		env["TERM"] = "xterm-256color"
	}
	if bin, err := ResolveBinary(p); err == nil {
		dir := filepath.Dir(bin)
		if path := env["PATH"]; path != "" {
			env["PATH"] = dir + string(os.PathListSeparator) + path
		} else {
			env["PATH"] = dir + string(os.PathListSeparator) + os.Getenv("PATH")
		}
	}
	env["CLAUDEMAN_SCREEN"] = "1"
	env["CLAUDEMAN_SESSION_ID"] = sessionID
	if apiURL != "" {
		env["CLAUDEMAN_API_URL"] = apiURL
	}
	return env
}

// EnvSlice flattens a map into "K=V" entries suitable for exec.Cmd.Env.
func EnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
