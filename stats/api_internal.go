package stats

import (
	"fmt"
	"net"
	"sync"
	"time"
)

type statStruct struct {
	name      *string
	increment uint64
}

type globalsStruct struct {
	sync.Mutex    // protects statFullMap
	up            bool
	statChan      chan statStruct
	stopChan      chan struct{}
	doneChan      chan struct{}
	statFullMap   map[string]uint64 // accumulated since Up()
	statDeltaMap  map[string]uint64 // accumulated since last flush (sender goroutine only)
	udpConn       *net.UDPConn
	flushInterval time.Duration
}

var globals globalsStruct

func incrementOperationsBy(statName *string, incBy uint64) {
	globals.Lock()
	up := globals.up
	globals.Unlock()
	if !up {
		return
	}

	// non-blocking: dropping a delta under load beats stalling the
	// interceptor on telemetry
	select {
	case globals.statChan <- statStruct{name: statName, increment: incBy}:
	default:
	}
}

func dump() (statMap map[string]uint64) {
	statMap = make(map[string]uint64)
	globals.Lock()
	for statName, value := range globals.statFullMap {
		statMap[statName] = value
	}
	globals.Unlock()
	return
}

func sender() {
	ticker := time.NewTicker(globals.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case stat := <-globals.statChan:
			globals.statDeltaMap[*stat.name] += stat.increment
			globals.Lock()
			globals.statFullMap[*stat.name] += stat.increment
			globals.Unlock()
		case <-globals.stopChan:
			flushDeltas()
			globals.doneChan <- struct{}{}
			return
		case <-ticker.C:
			flushDeltas()
		}
	}
}

func flushDeltas() {
	if len(globals.statDeltaMap) == 0 {
		return
	}

	if globals.udpConn != nil {
		statBuffer := make([]byte, 0, 128)
		for statName, delta := range globals.statDeltaMap {
			statBuffer = append(statBuffer, []byte(fmt.Sprintf("%s:%d|c\n", statName, delta))...)
			if len(statBuffer) >= 1024 {
				_, _ = globals.udpConn.Write(statBuffer)
				statBuffer = statBuffer[:0]
			}
		}
		if len(statBuffer) > 0 {
			_, _ = globals.udpConn.Write(statBuffer)
		}
	}

	globals.statDeltaMap = make(map[string]uint64)
}
