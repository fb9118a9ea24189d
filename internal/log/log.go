// Package log configures the process-wide logrus logger.
package log

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
	easy "github.com/t-tomalak/logrus-easy-formatter"
)

// SetFormatter sets the plain message formatter used for normal runs.
func SetFormatter() {
	logrus.SetReportCaller(false)
	logrus.SetFormatter(&easy.Formatter{
		LogFormat: "%msg%\n",
	})
}

// SetDebugFormatter sets a formatter that prints caller file and line.
func SetDebugFormatter(noColor bool) {
	logrus.SetReportCaller(true)
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:          noColor,
		DisableLevelTruncation: true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		},
	})
}

// SetLogLevel sets the level from a name, or debug when debug is true.
func SetLogLevel(logLevel string, debug bool) error {
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
		SetDebugFormatter(false)
		return nil
	}
	SetFormatter()
	if logLevel == "" {
		logrus.SetLevel(logrus.InfoLevel)
		return nil
	}
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", logLevel, err)
	}
	logrus.SetLevel(level)
	return nil
}

// SetOutput redirects log output, typically to stderr so JSON results on
// stdout stay machine readable.
func SetOutput(w io.Writer) {
	logrus.SetOutput(w)
}
