package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	corelogger "github.com/kilianp07/cityfleet/core/logger"
)

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger = corelogger.NopLogger

// Options tunes every logger created by New after Configure is called.
type Options struct {
	// Level is one of debug, info, warn, error. Empty keeps info.
	Level string
	// Format is "console" or "json". Empty selects console when APP_ENV=dev.
	Format string
	// Output defaults to os.Stdout.
	Output io.Writer
}

var (
	optsMu sync.RWMutex
	opts   Options
)

// Configure sets the process-wide level, format and output.
func Configure(o Options) error {
	lvl := zerolog.InfoLevel
	if o.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(o.Level))
		if err != nil {
			return err
		}
		lvl = parsed
	}
	zerolog.SetGlobalLevel(lvl)
	optsMu.Lock()
	opts = o
	optsMu.Unlock()
	return nil
}

func current() Options {
	optsMu.RLock()
	defer optsMu.RUnlock()
	o := opts
	if o.Output == nil {
		o.Output = os.Stdout
	}
	if o.Format == "" {
		if strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
			o.Format = "console"
		} else {
			o.Format = "json"
		}
	}
	return o
}

// New returns a Logger for the given component. The output format follows
// Configure or, when unset, the APP_ENV variable.
func New(component string) Logger {
	return NewZerologLogger(component)
}
