package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"claudeman/internal/agentprofile"
	"claudeman/internal/classifier"
	"claudeman/internal/config"
	"claudeman/internal/logger"
	"claudeman/internal/supervisor"
)

func main() {
	var (
		configFlag      string
		agentFlag       string
		cwdFlag         string
		multiplexer     bool
		logLevel        string
		dummyClassifier bool
		presetFlag      string
	)

	root := &cobra.Command{
		Use:   "claudemand",
		Short: "Supervises a PTY-attached AI coding agent",
		Long:  "claudemand spawns claude/codex/gemini in a PTY (optionally wrapped in a detachable screen session), watches its terminal stream for idleness and maintenance menus, and drives respawn/auto-accept/context policies on its behalf.",
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "path to config.yaml (default: ~/.claudeman/config.yaml)")
	root.PersistentFlags().StringVar(&agentFlag, "agent", "", "agent binary profile: claude, codex, gemini (default: config's agent, else claude)")
	root.PersistentFlags().StringVar(&cwdFlag, "cwd", "", "working directory for the spawned agent (default: current directory)")
	root.PersistentFlags().BoolVar(&multiplexer, "multiplexer", false, "wrap the child in a detachable screen session")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&dummyClassifier, "dummy-classifier", false, "enable the canned-heuristic classifier for AI-confirmed idle/menu checks (no model call)")
	root.PersistentFlags().StringVar(&presetFlag, "preset", "", "path to a TOML respawn-prompt preset (overrides the config's update/init prompts)")

	loadSessionConfig := func(id string) (config.Config, agentprofile.Profile, error) {
		path := configFlag
		if path == "" {
			dir, err := config.UserConfigDir()
			if err != nil {
				return config.Config{}, agentprofile.Profile{}, err
			}
			path = filepath.Join(dir, "config.yaml")
		}
		cfg, err := config.Load(path)
		if err != nil {
			return config.Config{}, agentprofile.Profile{}, err
		}
		if agentFlag != "" {
			cfg.Agent = agentFlag
		}
		if cwdFlag != "" {
			cfg.CWD = cwdFlag
		} else if cfg.CWD == "" {
			cfg.CWD, _ = os.Getwd()
		}
		cfg.UseMultiplexer = cfg.UseMultiplexer || multiplexer
		if presetFlag != "" {
			data, err := os.ReadFile(presetFlag)
			if err != nil {
				return config.Config{}, agentprofile.Profile{}, fmt.Errorf("read preset: %w", err)
			}
			preset, err := config.LoadPresetFromTOML(data)
			if err != nil {
				return config.Config{}, agentprofile.Profile{}, err
			}
			config.ApplyPreset(cfg, preset)
		}
		return *cfg, agentprofile.Lookup(cfg.Agent), nil
	}

	newClassifier := func() classifier.Classifier {
		if dummyClassifier {
			return classifier.NewDummy(0)
		}
		return nil
	}

	runCmd := &cobra.Command{
		Use:   "run [session-id]",
		Short: "Attach an interactive agent session to this terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logLevel, ""); err != nil {
				return err
			}
			id := sessionIDArg(args)
			cfg, profile, err := loadSessionConfig(id)
			if err != nil {
				return err
			}
			sess := supervisor.NewSession(id, cfg, profile, newClassifier())
			if err := sess.StartInteractive(); err != nil {
				return fmt.Errorf("start session: %w", err)
			}
			fmt.Fprintf(os.Stderr, "claudemand: attached session %s (agent=%s)\n", id, cfg.Agent)
			return attachTerminal(sess)
		},
	}

	onceCmd := &cobra.Command{
		Use:   "once <prompt>",
		Short: "Run a single one-shot prompt and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logLevel, ""); err != nil {
				return err
			}
			id := "oneshot-" + uuid.New().String()[:8]
			cfg, profile, err := loadSessionConfig(id)
			if err != nil {
				return err
			}
			sess := supervisor.NewSession(id, cfg, profile, newClassifier())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, cost, err := sess.StartOneShot(ctx, args[0])
			sess.Stop(false)
			if err != nil {
				return fmt.Errorf("one-shot run: %w", err)
			}
			fmt.Println(result)
			fmt.Fprintf(os.Stderr, "cost: $%.4f\n", cost)
			return nil
		},
	}

	shellCmd := &cobra.Command{
		Use:   "shell [session-id]",
		Short: "Attach a plain shell session (no agent)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logLevel, ""); err != nil {
				return err
			}
			id := sessionIDArg(args)
			cfg, profile, err := loadSessionConfig(id)
			if err != nil {
				return err
			}
			sess := supervisor.NewSession(id, cfg, profile, newClassifier())
			if err := sess.StartShell(); err != nil {
				return fmt.Errorf("start shell: %w", err)
			}
			return attachTerminal(sess)
		},
	}

	presetInitCmd := &cobra.Command{
		Use:   "preset-init <name> <path>",
		Short: "Write a starter TOML respawn-prompt preset to path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			preset := config.Preset{
				Name:         args[0],
				UpdatePrompt: config.DefaultUpdatePrompt,
				InitPrompt:   config.DefaultInitCommand,
			}
			data, err := config.SavePresetToTOML(preset)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], data, 0644); err != nil {
				return fmt.Errorf("write preset: %w", err)
			}
			fmt.Fprintf(os.Stderr, "claudemand: wrote preset %q to %s\n", args[0], args[1])
			return nil
		},
	}

	root.AddCommand(runCmd, onceCmd, shellCmd, presetInitCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "claudemand:", err)
		os.Exit(1)
	}
}

func sessionIDArg(args []string) string {
	if len(args) == 1 && args[0] != "" {
		return args[0]
	}
	return uuid.New().String()[:8]
}

// attachTerminal puts the controlling terminal into raw mode, mirrors the
// session's raw terminal bytes to stdout, forwards stdin keystrokes and
// SIGWINCH resizes to the session, and blocks until the child exits or the
// process receives SIGTERM. Grounded on the teacher's cmd/wt/egg.go
// eggSpawn (term.MakeRaw/term.GetSize/SIGWINCH forwarding), adapted from a
// gRPC-streamed attach into a direct Session.Subscribe/Write attach.
func attachTerminal(sess *supervisor.Session) error {
	fd := int(os.Stdin.Fd())

	if term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			_ = sess.Resize(w, h)
		}
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if w, h, err := term.GetSize(fd); err == nil {
				_ = sess.Resize(w, h)
			}
		}
	}()

	exited := make(chan struct{})
	var exitCode int
	sess.Subscribe(func(e supervisor.Event) {
		switch e.Kind {
		case supervisor.EventTerminal:
			os.Stdout.Write(e.RawBytes)
		case supervisor.EventClearTerminal:
			os.Stdout.WriteString("\x1b[2J\x1b[H")
		case supervisor.EventExit:
			exitCode = e.ExitCode
			close(exited)
		case supervisor.EventError:
			fmt.Fprintf(os.Stderr, "\nclaudemand: %s\n", e.Text)
		}
	})

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				sess.Write(data)
			}
			if err != nil {
				return
			}
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGTERM)
	defer signal.Stop(sigint)

	select {
	case <-exited:
	case <-sigint:
		sess.Stop(false)
		<-time.After(100 * time.Millisecond)
	}

	if exitCode != 0 {
		return fmt.Errorf("agent exited with code %d", exitCode)
	}
	return nil
}
