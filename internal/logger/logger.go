// Package logger provides the supervisor's global slog instance: a
// dynamically-leveled handler shared across every concurrently supervised
// session, and a per-session child logger that announces its own open/close
// so a session's absence from later output reads as "stopped", not "never
// logged". A supervisor process may be holding open a dozen PTY sessions at
// once; tagging and level control are built around that, not around the
// single-process daemon log the teacher writes.
package logger

import (
	"io"
	"log/slog"
	"os"
)

var (
	Log   *slog.Logger
	level slog.LevelVar
)

// Init initializes the global logger. Level is held in a slog.LevelVar, so
// SetLevel can raise or lower verbosity afterward (e.g. to debug one stuck
// session's supervisor) without re-running Init or losing other sessions'
// handlers.
func Init(levelName string, logFile string) error {
	level.Set(parseLevel(levelName))

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: &level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Shorten time format
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)

	return nil
}

func parseLevel(levelName string) slog.Level {
	switch levelName {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// SetLevel adjusts the already-initialized logger's verbosity in place.
func SetLevel(levelName string) {
	level.Set(parseLevel(levelName))
}

// Debug logs at debug level
func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

// Info logs at info level
func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

// Warn logs at warn level
func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

// Error logs at error level
func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}

// Session returns a child logger tagged with a session id, for the
// supervisor's per-session onLog hooks (idle detection, respawn steps,
// token policies). Falls back to a discarding logger if Init was never
// called, so constructing a session never panics outside of main. Logs its
// own opening so a session's lifetime is visible in the shared log stream
// even when the session itself stays quiet for a long time.
func Session(id string) *slog.Logger {
	if Log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sl := Log.With("session", id)
	sl.Debug("session logger opened")
	return sl
}

// Closed logs that a session's supervision has ended, the matching
// bookend to Session's open announcement.
func Closed(id string) {
	if Log == nil {
		return
	}
	Log.With("session", id).Debug("session logger closed")
}
