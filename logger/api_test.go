package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willfordkc/GVFS/conf"
)

func testSetup(t *testing.T, config *conf.Config) (target LogTarget) {
	require.NoError(t, Up(config))

	target.Init(16)
	AddLogTarget(target)

	return
}

func TestLogDecoration(t *testing.T) {
	config := conf.Default()
	target := testSetup(t, config)
	defer Down(config)

	Infof("log %s #%d", "entry", 1)

	require.Equal(t, 1, target.LogBuf.TotalEntries)
	entry := target.LogBuf.LogEntries[0]
	assert.Contains(t, entry, "log entry #1")
	assert.Contains(t, entry, "package=logger")
	assert.Contains(t, entry, "function=TestLogDecoration")
	assert.Contains(t, entry, "goroutine=")
}

func TestTraceGating(t *testing.T) {
	config := conf.Default()
	config.Logging.TraceLevel = true
	config.Logging.TracePackages = []string{"providers"}
	target := testSetup(t, config)
	defer Down(config)

	// this package is not in TracePackages, so its traces are suppressed
	Tracef("should not appear")
	assert.Equal(t, 0, target.LogBuf.TotalEntries)

	Warnf("should appear")
	require.Equal(t, 1, target.LogBuf.TotalEntries)
	assert.Contains(t, target.LogBuf.LogEntries[0], "should appear")
}

func TestErrorField(t *testing.T) {
	config := conf.Default()
	target := testSetup(t, config)
	defer Down(config)

	ErrorfWithError(assert.AnError, "operation %s failed", "lookup")

	require.Equal(t, 1, target.LogBuf.TotalEntries)
	entry := target.LogBuf.LogEntries[0]
	assert.Contains(t, entry, "operation lookup failed")
	assert.True(t, strings.Contains(entry, "error="))
}

func TestLogBufferOrdering(t *testing.T) {
	config := conf.Default()
	target := testSetup(t, config)
	defer Down(config)

	Infof("first")
	Infof("second")

	require.Equal(t, 2, target.LogBuf.TotalEntries)
	assert.Contains(t, target.LogBuf.LogEntries[0], "second")
	assert.Contains(t, target.LogBuf.LogEntries[1], "first")
}
