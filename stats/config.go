package stats

import (
	"net"
	"time"

	"github.com/willfordkc/GVFS/blunder"
	"github.com/willfordkc/GVFS/conf"
	"github.com/willfordkc/GVFS/logger"
	"github.com/willfordkc/GVFS/transitions"
)

func init() {
	transitions.Register("stats", &globals)
}

// Up starts the sender goroutine. An empty Stats.Address leaves UDP
// emission off; counters still accumulate for Dump().
func (dummy *globalsStruct) Up(config *conf.Config) (err error) {
	globals.Lock()
	defer globals.Unlock()

	if globals.up {
		return blunder.NewError(blunder.AlreadyInitError, "stats already up")
	}

	if config.Stats.Address != "" {
		udpAddr, resolveErr := net.ResolveUDPAddr("udp", config.Stats.Address)
		if resolveErr != nil {
			return resolveErr
		}
		globals.udpConn, err = net.DialUDP("udp", nil, udpAddr)
		if err != nil {
			return err
		}
	}

	globals.statChan = make(chan statStruct, config.Stats.BufferLength)
	globals.stopChan = make(chan struct{})
	globals.doneChan = make(chan struct{})
	globals.statFullMap = make(map[string]uint64)
	globals.statDeltaMap = make(map[string]uint64)
	globals.flushInterval = time.Duration(config.Stats.FlushInterval)
	globals.up = true

	go sender()

	logger.Infof("stats.Up(): address %q flush interval %v", config.Stats.Address, globals.flushInterval)

	return nil
}

// Down stops the sender. Tolerates being called after a failed Up.
func (dummy *globalsStruct) Down(config *conf.Config) (err error) {
	globals.Lock()
	if !globals.up {
		globals.Unlock()
		return nil
	}
	globals.up = false
	globals.Unlock()

	globals.stopChan <- struct{}{}
	<-globals.doneChan

	if globals.udpConn != nil {
		globals.udpConn.Close()
		globals.udpConn = nil
	}

	return nil
}
