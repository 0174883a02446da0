// Package logging builds the process logger and hands out category loggers.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Config selects level, format and destination. Format is "auto", "text"
// or "json"; auto picks text when Output is a terminal.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// New returns a logger for c. An empty level means info.
func New(c Config) (zerolog.Logger, error) {
	out := c.Output
	if out == nil {
		out = os.Stderr
	}
	level := zerolog.InfoLevel
	if c.Level != "" {
		var err error
		if level, err = zerolog.ParseLevel(strings.ToLower(c.Level)); err != nil {
			return zerolog.Nop(), fmt.Errorf("log level: %w", err)
		}
	}
	switch c.Format {
	case "", "auto":
		if isTerminal(out) {
			out = console(out)
		}
	case "text":
		out = console(out)
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", c.Format)
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: !isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Factory creates loggers tagged with a category.
type Factory struct {
	root zerolog.Logger
}

// NewFactory wraps root.
func NewFactory(root zerolog.Logger) *Factory { return &Factory{root: root} }

// CreateLogger returns a child logger with the category field set.
func (f *Factory) CreateLogger(category string) zerolog.Logger {
	return f.root.With().Str("category", category).Logger()
}
