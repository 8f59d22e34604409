package membuf

import (
	"github.com/willfordkc/GVFS/blunder"
	"github.com/willfordkc/GVFS/conf"
	"github.com/willfordkc/GVFS/transitions"
)

type globalsStruct struct {
	messageBufPool *BufPool
}

var globals globalsStruct

func init() {
	transitions.Register("membuf", &globals)
}

// Up creates the process-wide message buffer pool.
func (dummy *globalsStruct) Up(config *conf.Config) (err error) {
	if globals.messageBufPool != nil {
		return blunder.NewError(blunder.AlreadyInitError, "membuf already initialized")
	}
	globals.messageBufPool = NewBufPool(config.MemBuf.BufferSize)
	return nil
}

// Down tears the pool down. Tolerates being called after a failed Up.
func (dummy *globalsStruct) Down(config *conf.Config) (err error) {
	globals.messageBufPool = nil
	return nil
}

// MessageBufPool returns the process-wide pool for message assembly, or a
// freshly made default-size pool if the lifecycle has not run (as in unit
// tests exercising packages in isolation).
func MessageBufPool() (pool *BufPool) {
	pool = globals.messageBufPool
	if pool == nil {
		pool = NewBufPool(conf.DefaultBufferSize)
	}
	return
}
