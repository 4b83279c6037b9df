// Package corelog provides structured logging shared by every coordination
// protocol, using zerolog for JSON or console output.
package corelog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. The package's init function sets it
// to a console writer on os.Stderr, so code that never calls Init (tests, for
// example) still produces output; Init replaces it with the configured one.
var Logger zerolog.Logger

// Level represents a logging severity threshold.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// Init (re)configures the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
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

// WithProtocol creates a child logger tagged with the protocol name
// ("task_router", "consensus", "mesh_network", ...).
func WithProtocol(protocol string) zerolog.Logger {
	return Logger.With().Str("protocol", protocol).Logger()
}

// WithNode creates a child logger tagged with a node ID.
func WithNode(nodeID string) zerolog.Logger {
	return Logger.With().Str("node", nodeID).Logger()
}

// WithPeer creates a child logger tagged with a peer node ID, for logs about
// a specific remote node from the perspective of the local one.
func WithPeer(peerID string) zerolog.Logger {
	return Logger.With().Str("peer", peerID).Logger()
}

// WithTask creates a child logger tagged with a task ID.
func WithTask(taskID string) zerolog.Logger {
	return Logger.With().Str("task_id", taskID).Logger()
}

// WithProposal creates a child logger tagged with a consensus proposal ID.
func WithProposal(proposalID string) zerolog.Logger {
	return Logger.With().Str("proposal_id", proposalID).Logger()
}

func Info(msg string) { Logger.Info().Msg(msg) }

func Debug(msg string) { Logger.Debug().Msg(msg) }

func Warn(msg string) { Logger.Warn().Msg(msg) }

func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) { Logger.Error().Err(err).Msg(format) }
