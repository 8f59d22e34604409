package logger

import (
	"io"
	"io/ioutil"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/willfordkc/GVFS/conf"
)

// The package keeps its own logrus.Logger instance so that tests (and an
// embedding process) never fight over the logrus global.
var logrusLogger = log.New()

var logFile *os.File = nil

// multiWriter fans a log entry out to every registered target.
type multiWriter struct {
	sync.Mutex
	writers []io.Writer
}

func (mw *multiWriter) addWriter(writer io.Writer) {
	mw.Lock()
	defer mw.Unlock()
	mw.writers = append(mw.writers, writer)
}

func (mw *multiWriter) Write(p []byte) (n int, err error) {
	mw.Lock()
	defer mw.Unlock()
	for _, writer := range mw.writers {
		n, err = writer.Write(p)
		if err != nil {
			return
		}
	}
	return len(p), nil
}

var logTargets multiWriter

func addLogTarget(writer io.Writer) {
	logTargets.addWriter(writer)
}

// Up opens the configured log destinations. It is invoked by package
// transitions before any other package's Up() so that everything later in
// the start sequence can log.
func Up(config *conf.Config) (err error) {
	logrusLogger.SetFormatter(&log.TextFormatter{DisableColors: true})

	logTargets = multiWriter{}

	if config.Logging.LogFilePath != "" {
		logFile, err = os.OpenFile(config.Logging.LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return
		}
		logTargets.addWriter(logFile)
		if config.Logging.LogToConsole {
			logTargets.addWriter(os.Stderr)
		}
	} else if config.Logging.LogToConsole {
		logTargets.addWriter(os.Stderr)
	} else {
		logTargets.addWriter(ioutil.Discard)
	}

	logrusLogger.SetOutput(&logTargets)

	// Always enable max logging in logrus; this package decides what to emit.
	logrusLogger.SetLevel(log.DebugLevel)

	if config.Logging.TraceLevel {
		setTraceLoggingLevel(config.Logging.TracePackages)
	} else {
		setTraceLoggingLevel(nil)
	}
	debugLevelEnabled = config.Logging.DebugLevel

	return nil
}

// Down closes the log file if this package opened one.
func Down(config *conf.Config) (err error) {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	return nil
}
