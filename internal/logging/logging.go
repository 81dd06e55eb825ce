// Package logging builds the slog logger used by the replinet commands.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Options configures New.
type Options struct {
	// Level is the minimum level. Default: slog.LevelInfo.
	Level slog.Level

	// JSON selects the JSON handler instead of tint.
	JSON bool

	// NoColor disables colour. Colour is also off when Writer is not a
	// terminal.
	NoColor bool

	// Writer is where records go. Default: os.Stderr.
	Writer io.Writer
}

// ParseLevel parses "debug", "info", "warn" or "error" (any case), as
// well as offsets such as "info+2".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("logging: bad level %q: %w", s, err)
	}
	return level, nil
}

// New returns a logger writing to opts.Writer.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      opts.Level,
		TimeFormat: time.TimeOnly,
		NoColor:    opts.NoColor || !isTerminal(w),
	}))
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool { return isTerminal(w) }

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
