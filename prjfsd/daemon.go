// Package prjfsd glues the module's packages into a runnable dæmon: it
// loads the configuration, binds the host filesystem to the interceptor,
// drives transitions.Up()/Down(), and supervises shutdown signals.
package prjfsd

import (
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/willfordkc/GVFS/conf"
	"github.com/willfordkc/GVFS/kauth"
	"github.com/willfordkc/GVFS/logger"
	"github.com/willfordkc/GVFS/transitions"
	"github.com/willfordkc/GVFS/vfs"
)

// Daemon is launched as a goroutine that brings the module up against the
// supplied host. During startup the parent should read errChan to await
// Daemon getting to the point where it is ready to handle the specified
// signal set; a nil error on the channel means "up". Any error before or
// after that point is sent to errChan as well.
//
// Every received signal other than the ignorable ones shuts the dæmon
// down; there is no reconfiguration-on-SIGHUP.
func Daemon(confFilePath string, host vfs.Host, errChan chan error, wg *sync.WaitGroup, signals ...os.Signal) {
	var (
		config         *conf.Config
		err            error
		signalReceived os.Signal
	)

	config, err = conf.LoadFile(confFilePath)
	if nil != err {
		errChan <- err
		return
	}

	kauth.BindHost(host)

	// Arm the signal handler before transitions.Up() so a signal arriving
	// during startup is not lost; signalChan is buffered for the same
	// reason.
	signalChan := make(chan os.Signal, 16)
	signal.Notify(signalChan, signals...)

	err = transitions.Up(config)
	if nil != err {
		// unwind whatever part of the start sequence did come up
		_ = transitions.Down(config)
		errChan <- err
		return
	}

	wg.Add(1)
	logger.Infof("prjfsd is starting up (PID %d)", os.Getpid())
	defer func() {
		logger.Infof("prjfsd is shutting down (PID %d)", os.Getpid())
		err = transitions.Down(config)
		errChan <- err
		wg.Done()
	}()

	// indicate the module is up and signal handlers are armed
	errChan <- nil

	for {
		signalReceived = <-signalChan
		logger.Infof("Received signal: '%v'", signalReceived)

		// these signals are normally ignored, but if "signals..." above is
		// empty they are delivered via the channel; simply ignore them
		if signalReceived == unix.SIGCHLD || signalReceived == unix.SIGURG ||
			signalReceived == unix.SIGWINCH || signalReceived == unix.SIGCONT ||
			signalReceived == unix.SIGPIPE {
			continue
		}

		if signalReceived != unix.SIGTERM && signalReceived != unix.SIGINT {
			logger.Errorf("prjfsd received unexpected signal: %v", signalReceived)
		}

		return
	}
}
