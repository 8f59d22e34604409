// Package logger provides logging wrappers
//
// These wrappers allow us to standardize logging while still using a
// third-party logging package. The package is implemented on top of
// sirupsen/logrus; every entry is decorated with the calling package,
// function, and goroutine id.
//
// Logging of trace and debug entries is enabled/disabled on a per-package
// basis from the Logging section of the configuration.
package logger

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/willfordkc/GVFS/utils"
)

type Level int

// Logging levels supported by this package. These are more detailed than
// the logrus levels, so trace and debug are mapped down when logging.
const (
	// PanicLevel corresponds to logrus.PanicLevel; logrus will log and then panic
	PanicLevel Level = iota
	// FatalLevel corresponds to logrus.FatalLevel; logrus will log and then call os.Exit(1)
	FatalLevel
	// ErrorLevel corresponds to logrus.ErrorLevel
	ErrorLevel
	// WarnLevel corresponds to logrus.WarnLevel
	WarnLevel
	// InfoLevel corresponds to logrus.InfoLevel; general operational entries
	InfoLevel
	// TraceLevel marks success-path operation traces; logged at logrus.InfoLevel
	// when enabled for the emitting package
	TraceLevel
	// DebugLevel is very verbose internal logging; logged at logrus.DebugLevel
	// when enabled for the emitting package
	DebugLevel
)

var traceLevelEnabled = false
var debugLevelEnabled = false

// packageTraceSettings controls whether tracing is enabled for particular
// packages. A package must appear here (with any value) for the
// Logging.TracePackages config option to be able to enable it.
var packageTraceSettings = map[string]bool{
	"kauth":       false,
	"providers":   false,
	"locks":       false,
	"membuf":      false,
	"message":     false,
	"ramvfs":      false,
	"stats":       false,
	"transitions": false,
	"prjfsd":      false,
}

func setTraceLoggingLevel(confStrSlice []string) {
	for pkg := range packageTraceSettings {
		packageTraceSettings[pkg] = false
	}
	traceLevelEnabled = false

HandlePkgs:
	for _, pkg := range confStrSlice {
		switch pkg {
		case "none":
			traceLevelEnabled = false
			break HandlePkgs
		default:
			if _, ok := packageTraceSettings[pkg]; ok {
				packageTraceSettings[pkg] = true

				// If any trace level is enabled, need to enable trace level in
				// general. This flag lets us avoid the overhead of trace-level
				// API calls when the trace level is disabled.
				traceLevelEnabled = true
			}
		}
	}
}

func traceEnabled(pkg string) bool {
	if isEnabled, ok := packageTraceSettings[pkg]; ok {
		return isEnabled
	}
	return false
}

// Log fields attached by this package:
const packageKey string = "package"
const functionKey string = "function"
const errorKey string = "error"
const gidKey string = "goroutine"

func newLogEntry(level int) *log.Entry {
	fn, pkg, gid := utils.GetFuncPackage(level + 1)

	fields := make(log.Fields)
	fields[functionKey] = fn
	fields[packageKey] = pkg
	fields[gidKey] = gid

	return logrusLogger.WithFields(fields)
}

var backtraceOneLevel int = 1

func logEnabled(level Level, pkg string) bool {
	if level == TraceLevel && (!traceLevelEnabled || !traceEnabled(pkg)) {
		return false
	}
	if level == DebugLevel && !debugLevelEnabled {
		return false
	}
	return true
}

func emit(level Level, entry *log.Entry, logString string) {
	switch level {
	case PanicLevel:
		entry.Panic(logString)
	case FatalLevel:
		entry.Fatal(logString)
	case ErrorLevel:
		entry.Error(logString)
	case WarnLevel:
		entry.Warn(logString)
	case InfoLevel:
		entry.Info(logString)
	case TraceLevel:
		entry.Info(logString)
	case DebugLevel:
		entry.Debug(logString)
	}
}

func logf(level Level, err error, format string, args ...interface{}) {
	entry := newLogEntry(backtraceOneLevel + 1)
	if level == TraceLevel || level == DebugLevel {
		pkg, _ := entry.Data[packageKey].(string)
		if !logEnabled(level, pkg) {
			return
		}
	}
	if err != nil {
		entry = entry.WithField(errorKey, err)
	}
	emit(level, entry, fmt.Sprintf(format, args...))
}

func Panicf(format string, args ...interface{}) {
	logf(PanicLevel, nil, format, args...)
}

func PanicfWithError(err error, format string, args ...interface{}) {
	logf(PanicLevel, err, format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logf(FatalLevel, nil, format, args...)
}

func Errorf(format string, args ...interface{}) {
	logf(ErrorLevel, nil, format, args...)
}

func ErrorfWithError(err error, format string, args ...interface{}) {
	logf(ErrorLevel, err, format, args...)
}

func Warnf(format string, args ...interface{}) {
	logf(WarnLevel, nil, format, args...)
}

func WarnfWithError(err error, format string, args ...interface{}) {
	logf(WarnLevel, err, format, args...)
}

func Infof(format string, args ...interface{}) {
	logf(InfoLevel, nil, format, args...)
}

func InfofWithError(err error, format string, args ...interface{}) {
	logf(InfoLevel, err, format, args...)
}

func Tracef(format string, args ...interface{}) {
	logf(TraceLevel, nil, format, args...)
}

func Debugf(format string, args ...interface{}) {
	logf(DebugLevel, nil, format, args...)
}

// AddLogTarget adds another target for log messages to be written to.
// writer is called once for each log message.
//
// logger.Up() must be called before this function is used.
func AddLogTarget(writer io.Writer) {
	addLogTarget(writer)
}

// LogBuffer captures the most recent n lines of log into an array, most
// recent first. Useful for writing test cases.
type LogBuffer struct {
	LogEntries   []string // most recent log entry is [0]
	TotalEntries int      // count of all entries seen
}

// LogTarget is an io.Writer wrapping a LogBuffer, suitable for passing to
// AddLogTarget from tests.
type LogTarget struct {
	LogBuf *LogBuffer
}

// Init sets up a LogTarget to hold up to nEntry log entries.
func (target *LogTarget) Init(nEntry int) {
	target.LogBuf = &LogBuffer{TotalEntries: 0}
	target.LogBuf.LogEntries = make([]string, nEntry)
}

// Write is called by logger for each log entry.
func (target LogTarget) Write(p []byte) (n int, err error) {
	// make a copy of the log line without the trailing newline
	line := string(p)
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}

	// shift the lines down and place the newest at [0]
	buf := target.LogBuf
	copy(buf.LogEntries[1:], buf.LogEntries)
	buf.LogEntries[0] = line
	buf.TotalEntries++

	return len(p), nil
}
