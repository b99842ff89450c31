// Package log wraps zerolog into the XSAN storage core's logging
// convention: a global structured logger plus component-scoped child
// loggers, mirroring the teacher repo's pkg/log.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level is a logging verbosity level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	// Sensible default so packages using the global logger before Init
	// (e.g. in tests) still produce readable output.
	Init(Config{Level: InfoLevel})
}

// Init (re)configures the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with a component name,
// e.g. "diskmgr", "volumemgr", "nodecomm".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithVolumeID returns a child logger tagged with a volume id.
func WithVolumeID(logger zerolog.Logger, volumeID string) zerolog.Logger {
	return logger.With().Str("volume_id", volumeID).Logger()
}

// WithDiskID returns a child logger tagged with a disk id.
func WithDiskID(logger zerolog.Logger, diskID string) zerolog.Logger {
	return logger.With().Str("disk_id", diskID).Logger()
}

// WithTxnID returns a child logger tagged with a replication
// transaction id.
func WithTxnID(logger zerolog.Logger, txnID uint64) zerolog.Logger {
	return logger.With().Uint64("txn_id", txnID).Logger()
}
