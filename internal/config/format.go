package config

import "github.com/julienstroheker/tcprelay/internal/logging"

// LogFormat represents the log output format of the relay
type LogFormat string

const (
	// LogFormatConsole writes human-readable log lines
	LogFormatConsole LogFormat = "console"

	// LogFormatJSON writes one JSON object per line
	LogFormatJSON LogFormat = "json"
)

// IsValid checks if the format is valid
func (f LogFormat) IsValid() bool {
	return f == LogFormatConsole || f == LogFormatJSON
}

// String returns the string representation
func (f LogFormat) String() string {
	return string(f)
}

// Logging maps the format onto the logging package
func (f LogFormat) Logging() logging.Format {
	if f == LogFormatJSON {
		return logging.FormatJSON
	}
	return logging.FormatConsole
}
