package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogFormat represents the logging format type.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// UnmarshalText implements encoding.TextUnmarshaler for type-safe config parsing.
func (f *LogFormat) UnmarshalText(text []byte) error {
	value := LogFormat(strings.ToLower(string(text)))
	switch value {
	case FormatText, FormatJSON:
		*f = value
		return nil
	case "":
		*f = FormatText
		return nil
	default:
		return fmt.Errorf("invalid log format %q, must be %q or %q", string(text), FormatText, FormatJSON)
	}
}

// NewLogger configures the global logrus logger and returns it, so every
// logrus user in the process (dependencies included) shares one format.
func NewLogger(format LogFormat, level logrus.Level) *logrus.Logger {
	if format == FormatJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			ForceColors: true,
		})
	}

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(level)

	return logrus.StandardLogger()
}
