// Package locks provides the named lock-group the core allocates its
// mutexes from, plus hold-time tracking of those mutexes.
//
// A single Group is created at module start and freed at module stop; every
// mutex in the core is allocated from it so that lock diagnostics can be
// attributed to the module. All mutexes are plain: non-recursive and
// non-reader-writer.
//
// If the configured hold-time limit is nonzero, Unlock() logs a warning
// (with the stack traces of the Lock() and Unlock() calls) whenever a mutex
// was held longer than the limit. If the check period is also nonzero, a
// watcher goroutine periodically logs the goroutine id and acquisition
// stack of any holder over the limit, catching locks that are stuck rather
// than merely slow.
package locks

import (
	"runtime"
	"sync"
	"time"

	"github.com/willfordkc/GVFS/blunder"
	"github.com/willfordkc/GVFS/conf"
	"github.com/willfordkc/GVFS/logger"
	"github.com/willfordkc/GVFS/utils"
)

const stackTraceBufSize = 4040

// Group is a named collection of mutexes sharing diagnostic configuration.
type Group struct {
	name          string
	trackMutex    sync.Mutex          // protects tracked and every Mutex's tracking fields
	tracked       map[*Mutex]struct{} // mutexes currently held
	holdTimeLimit time.Duration
	checkPeriod   time.Duration
	stopChan      chan struct{}
	doneChan      chan struct{}
	initialized   bool
}

// NewGroup returns an uninitialized Group with the given diagnostic name.
func NewGroup(name string) (group *Group) {
	return &Group{name: name}
}

// Init readies the group. Re-initializing an already-initialized group
// fails.
func (group *Group) Init(config *conf.Config) (err error) {
	if group.initialized {
		return blunder.NewError(blunder.AlreadyInitError, "lock group %q already initialized", group.name)
	}

	group.tracked = make(map[*Mutex]struct{})
	group.holdTimeLimit = time.Duration(config.Locks.HoldTimeLimit)
	group.checkPeriod = time.Duration(config.Locks.CheckPeriod)
	group.initialized = true

	if group.holdTimeLimit != 0 && group.checkPeriod != 0 {
		group.stopChan = make(chan struct{})
		group.doneChan = make(chan struct{})
		go group.watcher()
	}

	return nil
}

// Cleanup frees the group. Cleaning up an uninitialized group fails.
func (group *Group) Cleanup() (err error) {
	if !group.initialized {
		return blunder.NewError(blunder.NotInitError, "lock group %q not initialized", group.name)
	}

	if group.stopChan != nil {
		group.stopChan <- struct{}{}
		<-group.doneChan
		group.stopChan = nil
		group.doneChan = nil
	}

	group.tracked = nil
	group.initialized = false

	return nil
}

// Name returns the group's diagnostic name.
func (group *Group) Name() string {
	return group.name
}

// Mutex is a plain mutex allocated from a Group.
type Mutex struct {
	group        *Group
	name         string
	wrappedMutex sync.Mutex
	lockTime     time.Time
	lockerGoId   uint64
	lockStack    []byte
}

// AllocMutex allocates a named mutex attributed to the group.
func (group *Group) AllocMutex(name string) (mutex *Mutex) {
	if !group.initialized {
		return nil
	}
	return &Mutex{group: group, name: name}
}

// Free releases the mutex back to the group. The mutex must be unlocked.
func (mutex *Mutex) Free() {
	mutex.group = nil
}

// IsValid reports whether the mutex is non-nil and still attached to its
// group.
func IsValid(mutex *Mutex) bool {
	return mutex != nil && mutex.group != nil
}

// Lock acquires the mutex, blocking until available.
func (mutex *Mutex) Lock() {
	mutex.wrappedMutex.Lock()
	mutex.lockTrack()
}

// Unlock releases the mutex.
func (mutex *Mutex) Unlock() {
	mutex.unlockTrack()
	mutex.wrappedMutex.Unlock()
}

func (mutex *Mutex) lockTrack() {
	group := mutex.group
	if group == nil || group.holdTimeLimit == 0 {
		mutex.lockTime = time.Now()
		return
	}

	stackBuf := make([]byte, stackTraceBufSize)
	cnt := runtime.Stack(stackBuf, false)

	group.trackMutex.Lock()
	mutex.lockStack = stackBuf[:cnt]
	mutex.lockerGoId = utils.StackTraceToGoId(mutex.lockStack)
	mutex.lockTime = time.Now()
	group.tracked[mutex] = struct{}{}
	group.trackMutex.Unlock()
}

func (mutex *Mutex) unlockTrack() {
	group := mutex.group
	if group == nil || group.holdTimeLimit == 0 {
		return
	}

	group.trackMutex.Lock()
	heldFor := time.Since(mutex.lockTime)
	lockStack := mutex.lockStack
	mutex.lockStack = nil
	delete(group.tracked, mutex)
	group.trackMutex.Unlock()

	if heldFor >= group.holdTimeLimit {
		unlockStackBuf := make([]byte, stackTraceBufSize)
		cnt := runtime.Stack(unlockStackBuf, false)
		logger.Warnf("Unlock(): mutex %s.%s locked for %f sec; stack at call to Lock():\n%s stack at Unlock():\n%s",
			group.name, mutex.name,
			float64(heldFor)/float64(time.Second), string(lockStack), string(unlockStackBuf[:cnt]))
	}
}

// watcher logs any mutex held longer than the hold-time limit, once per
// check period.
func (group *Group) watcher() {
	ticker := time.NewTicker(group.checkPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-group.stopChan:
			group.doneChan <- struct{}{}
			return
		case <-ticker.C:
			group.checkHolders()
		}
	}
}

func (group *Group) checkHolders() {
	group.trackMutex.Lock()
	defer group.trackMutex.Unlock()

	for mutex := range group.tracked {
		heldFor := time.Since(mutex.lockTime)
		if heldFor >= group.holdTimeLimit {
			logger.Warnf("lock watcher: mutex %s.%s locked by goroutine %d for %f sec; stack at call to Lock():\n%s",
				group.name, mutex.name, mutex.lockerGoId,
				float64(heldFor)/float64(time.Second), string(mutex.lockStack))
		}
	}
}
