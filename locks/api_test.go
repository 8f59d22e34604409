package locks

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willfordkc/GVFS/blunder"
	"github.com/willfordkc/GVFS/conf"
	"github.com/willfordkc/GVFS/logger"
)

func testConfig(holdLimit time.Duration, checkPeriod time.Duration) (config *conf.Config) {
	config = conf.Default()
	config.Locks.HoldTimeLimit = conf.Duration(holdLimit)
	config.Locks.CheckPeriod = conf.Duration(checkPeriod)
	return
}

func TestInitCleanupIdempotence(t *testing.T) {
	group := NewGroup("test.group")
	config := testConfig(0, 0)

	require.NoError(t, group.Init(config))

	err := group.Init(config)
	require.Error(t, err, "second Init without Cleanup must fail")
	assert.True(t, blunder.Is(err, blunder.AlreadyInitError))

	require.NoError(t, group.Cleanup())

	err = group.Cleanup()
	require.Error(t, err, "second Cleanup must fail")
	assert.True(t, blunder.Is(err, blunder.NotInitError))
}

func TestAllocAndValidity(t *testing.T) {
	group := NewGroup("test.group")

	assert.Nil(t, group.AllocMutex("early"), "allocation from an uninitialized group yields no mutex")
	assert.False(t, IsValid(nil))

	require.NoError(t, group.Init(testConfig(0, 0)))
	defer group.Cleanup()

	mutex := group.AllocMutex("registry")
	require.True(t, IsValid(mutex))

	mutex.Lock()
	mutex.Unlock()

	mutex.Free()
	assert.False(t, IsValid(mutex))
}

func TestMutualExclusion(t *testing.T) {
	group := NewGroup("test.group")
	require.NoError(t, group.Init(testConfig(0, 0)))
	defer group.Cleanup()

	mutex := group.AllocMutex("counter")

	var counter int
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 1000; j++ {
				mutex.Lock()
				counter++
				mutex.Unlock()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, 8000, counter)
}

func TestHoldTimeWarning(t *testing.T) {
	config := testConfig(time.Second, 0)
	require.NoError(t, logger.Up(config))
	defer logger.Down(config)

	var target logger.LogTarget
	target.Init(8)
	logger.AddLogTarget(target)

	group := NewGroup("test.group")

	// bypass conf validation floor: exercise the warning without a
	// full-second sleep in the test
	require.NoError(t, group.Init(config))
	group.holdTimeLimit = 50 * time.Millisecond
	defer group.Cleanup()

	mutex := group.AllocMutex("slow")
	mutex.Lock()
	time.Sleep(100 * time.Millisecond)
	mutex.Unlock()

	require.NotZero(t, target.LogBuf.TotalEntries, "over-limit hold must be logged")
	entry := target.LogBuf.LogEntries[0]
	assert.Contains(t, entry, "test.group.slow")
	assert.Contains(t, entry, "stack at call to Lock()")
}

func TestWatcherLogsStuckHolder(t *testing.T) {
	config := testConfig(time.Second, time.Second)
	require.NoError(t, logger.Up(config))
	defer logger.Down(config)

	var target logger.LogTarget
	target.Init(8)
	logger.AddLogTarget(target)

	group := NewGroup("test.group")
	require.NoError(t, group.Init(config))
	defer group.Cleanup()

	// shrink the time scales after Init so the test runs quickly
	group.trackMutex.Lock()
	group.holdTimeLimit = 20 * time.Millisecond
	group.trackMutex.Unlock()

	mutex := group.AllocMutex("stuck")
	mutex.Lock()
	time.Sleep(30 * time.Millisecond)
	group.checkHolders()
	mutex.Unlock()

	require.NotZero(t, target.LogBuf.TotalEntries)
	found := false
	for _, entry := range target.LogBuf.LogEntries {
		if strings.Contains(entry, "lock watcher") && strings.Contains(entry, "test.group.stuck") {
			found = true
		}
	}
	assert.True(t, found, "watcher entry for the stuck mutex expected")
}
