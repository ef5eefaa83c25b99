// Package common contains shared utilities used by every sealshare binary.
package common

import (
	"log/slog"
	"os"
)

// PackageName is the service identifier used in logs.
const PackageName = "sealshare"

// Version is set at build time via -ldflags.
var Version = "dev"

// LoggingOpts configures the process-wide slog logger.
type LoggingOpts struct {
	// Debug lowers the log level to slog.LevelDebug.
	Debug bool

	// JSON switches from text to JSON output.
	JSON bool

	// Service is attached as a "service" tag to all messages, if set.
	Service string

	// Version is attached as a "version" tag to all messages, if set.
	Version string
}

// SetupLogger creates the process logger. Components receive it (or a
// child via With) through their constructors.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}
	return log
}
