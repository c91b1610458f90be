package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	base = logrus.New()

	// Log channel for websocket subscribers (optional)
	logChan   chan LogEntry
	logChanMu sync.RWMutex
)

// LogEntry represents a structured log message
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

// Options controls output format and verbosity.
type Options struct {
	Level  string
	Format string // "text" or "json"
	Stderr bool
}

func init() {
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
}

// Init applies logging options. Unknown levels fall back to info.
func Init(opts Options) {
	if opts.Stderr {
		base.SetOutput(os.Stderr)
	} else {
		base.SetOutput(os.Stdout)
	}

	switch strings.ToLower(opts.Format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
			DisableColors:   os.Getenv("NO_COLOR") != "",
		})
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// SetLogChannel sets a channel to stream logs to
func SetLogChannel(ch chan LogEntry) {
	logChanMu.Lock()
	defer logChanMu.Unlock()
	logChan = ch
}

// WithFields returns an entry tagged with the component and extra fields.
func WithFields(component string, fields logrus.Fields) *logrus.Entry {
	return base.WithField("component", component).WithFields(fields)
}

func log(level logrus.Level, component string, format string, args ...interface{}) {
	if !base.IsLevelEnabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	entry := base.WithField("component", component)
	entry.Log(level, msg)

	logChanMu.RLock()
	if logChan != nil {
		select {
		case logChan <- LogEntry{
			Timestamp: time.Now().Format("15:04:05"),
			Level:     strings.ToUpper(level.String()),
			Component: component,
			Message:   msg,
		}:
		default:
			// Drop log if channel is full
		}
	}
	logChanMu.RUnlock()
}

func Info(component string, format string, args ...interface{}) {
	log(logrus.InfoLevel, component, format, args...)
}

func Warn(component string, format string, args ...interface{}) {
	log(logrus.WarnLevel, component, format, args...)
}

func Error(component string, format string, args ...interface{}) {
	log(logrus.ErrorLevel, component, format, args...)
}

func Debug(component string, format string, args ...interface{}) {
	log(logrus.DebugLevel, component, format, args...)
}
