// Package logging provides structured logging using zerolog with configurable
// levels and output formats including JSON and console modes.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with additional context for watchpost
type Logger struct {
	logger zerolog.Logger
}

// LogEvent represents a monitoring event type
type LogEvent string

const (
	EventCheckStarted   LogEvent = "check_started"
	EventCheckCompleted LogEvent = "check_completed"
	EventCheckFailed    LogEvent = "check_failed"
	EventTargetAdded    LogEvent = "target_added"
	EventTargetRemoved  LogEvent = "target_removed"
	EventTargetUpdated  LogEvent = "target_updated"
	EventAlertFired     LogEvent = "alert_fired"
	EventAlertRecovered LogEvent = "alert_recovered"
	EventServerStart    LogEvent = "server_start"
	EventServerStop     LogEvent = "server_stop"
)

// LogComponent represents a component of the application
type LogComponent string

const (
	ComponentRegistry   LogComponent = "registry"
	ComponentScheduler  LogComponent = "scheduler"
	ComponentChecker    LogComponent = "checker"
	ComponentAlert      LogComponent = "alert"
	ComponentNotify     LogComponent = "notify"
	ComponentMetricsLog LogComponent = "metricslog"
	ComponentStorage    LogComponent = "storage"
	ComponentAPI        LogComponent = "api"
	ComponentConfig     LogComponent = "config"
)

// Config represents logging configuration
type Config struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"` // json or text
	Output string            `yaml:"output"` // stdout, stderr, or file path
	Fields map[string]string `yaml:"fields"` // Additional fields for all logs
}

// InitLogger initializes the global logger
func InitLogger(config Config) (*Logger, error) {
	// Set log level
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = os.Stdout
	switch strings.ToLower(config.Output) {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		output = file
	}

	// Configure format
	var logger zerolog.Logger
	switch strings.ToLower(config.Format) {
	case "text", "console":
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		})
	default:
		logger = zerolog.New(output)
	}

	// Add timestamp and additional fields
	logger = logger.With().
		Timestamp().
		Str("service", "watchpost").
		Logger()

	// Add configured fields
	for key, value := range config.Fields {
		logger = logger.With().Str(key, value).Logger()
	}

	// Set as global logger
	log.Logger = logger

	return &Logger{logger: logger}, nil
}

// GetGlobalLogger returns a logger instance with global context
func GetGlobalLogger() *Logger {
	return &Logger{logger: log.Logger}
}

// WithComponent adds component context to the logger
func (l *Logger) WithComponent(component LogComponent) *Logger {
	return &Logger{
		logger: l.logger.With().Str("component", string(component)).Logger(),
	}
}

// WithTarget adds target context to the logger
func (l *Logger) WithTarget(id, name, kind string) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("target_id", id).
			Str("target", name).
			Str("kind", kind).
			Logger(),
	}
}

// WithEvent adds event context to the logger
func (l *Logger) WithEvent(event LogEvent) *Logger {
	return &Logger{
		logger: l.logger.With().Str("event", string(event)).Logger(),
	}
}

// WithError adds error context to the logger
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		logger: l.logger.With().AnErr("error", err).Logger(),
	}
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	event := l.logger.With()
	for key, value := range fields {
		switch v := value.(type) {
		case string:
			event = event.Str(key, v)
		case int:
			event = event.Int(key, v)
		case int64:
			event = event.Int64(key, v)
		case float64:
			event = event.Float64(key, v)
		case bool:
			event = event.Bool(key, v)
		case time.Duration:
			event = event.Dur(key, v)
		case time.Time:
			event = event.Time(key, v)
		default:
			event = event.Interface(key, v)
		}
	}
	return &Logger{logger: event.Logger()}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string) {
	l.logger.Fatal().Msg(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

// TargetCheck logs one completed check with structured data
func (l *Logger) TargetCheck(id, name, kind, status string, duration time.Duration, err error) {
	event := l.logger.Info().
		Str("event", string(EventCheckCompleted)).
		Str("target_id", id).
		Str("target", name).
		Str("kind", kind).
		Str("status", status).
		Dur("duration_ms", duration)

	if err != nil {
		event = event.AnErr("error", err)
		event.Msg("Target check failed")
	} else {
		event.Msg("Target check completed")
	}
}

// AlertEvent logs alert and recovery notifications
func (l *Logger) AlertEvent(event LogEvent, targetID, name string, failures, threshold int) {
	logEvent := l.logger.Warn()
	if event == EventAlertRecovered {
		logEvent = l.logger.Info()
	}

	logEvent = logEvent.
		Str("event", string(event)).
		Str("component", string(ComponentAlert)).
		Str("target_id", targetID).
		Str("target", name).
		Int("failures", failures).
		Int("threshold", threshold)

	if event == EventAlertFired {
		logEvent.Msg("Alert fired")
	} else {
		logEvent.Msg("Alert recovered")
	}
}
