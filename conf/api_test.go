package conf

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	config := Default()

	assert.Equal(t, DefaultProviderCapacity, config.Providers.Capacity)
	assert.Equal(t, DefaultMaxPathLength, config.Providers.MaxPathLength)
	assert.Equal(t, DefaultResponsePollPeriod, config.Kauth.ResponsePollPeriod)
	assert.Equal(t, DefaultCrawlerProcessNames, config.Kauth.CrawlerProcessNames)
	assert.NoError(t, config.Validate())
}

func TestLoadFile(t *testing.T) {
	confYAML := `
logging:
  log_to_console: true
locks:
  hold_time_limit: 2s
  check_period: 1s
providers:
  capacity: 8
kauth:
  response_poll_period: 1s
  crawler_process_names: [mds, fseventsd]
`
	dir, err := ioutil.TempDir("", "confTest")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	confFilePath := filepath.Join(dir, "gvfs.yaml")
	require.NoError(t, ioutil.WriteFile(confFilePath, []byte(confYAML), 0644))

	config, err := LoadFile(confFilePath)
	require.NoError(t, err)

	assert.True(t, config.Logging.LogToConsole)
	assert.Equal(t, Duration(2*time.Second), config.Locks.HoldTimeLimit)
	assert.Equal(t, 8, config.Providers.Capacity)
	assert.Equal(t, []string{"mds", "fseventsd"}, config.Kauth.CrawlerProcessNames)

	// unspecified options still get defaults
	assert.Equal(t, DefaultMaxPathLength, config.Providers.MaxPathLength)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile("/nonexistent/gvfs.yaml")
	assert.Error(t, err)

	dir, err := ioutil.TempDir("", "confTest")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	confFilePath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, ioutil.WriteFile(confFilePath, []byte("providers:\n  capacity: 99999\n"), 0644))
	_, err = LoadFile(confFilePath)
	assert.Error(t, err, "capacity outside bounds must be rejected")
}

func TestDurationForms(t *testing.T) {
	dir, err := ioutil.TempDir("", "confTest")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	confFilePath := filepath.Join(dir, "dur.yaml")
	require.NoError(t, ioutil.WriteFile(confFilePath, []byte("stats:\n  flush_interval: 1500000000\nkauth:\n  response_poll_period: 2s\n"), 0644))

	config, err := LoadFile(confFilePath)
	require.NoError(t, err)
	assert.Equal(t, Duration(1500*time.Millisecond), config.Stats.FlushInterval, "integer form is nanoseconds")
	assert.Equal(t, Duration(2*time.Second), config.Kauth.ResponsePollPeriod)

	require.NoError(t, ioutil.WriteFile(confFilePath, []byte("kauth:\n  response_poll_period: nonsense\n"), 0644))
	_, err = LoadFile(confFilePath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	config := Default()
	config.Kauth.ResponsePollPeriod = Duration(time.Millisecond)
	assert.Error(t, config.Validate())

	config = Default()
	config.Locks.HoldTimeLimit = Duration(10 * time.Millisecond)
	assert.Error(t, config.Validate())

	config = Default()
	config.Providers.MaxPathLength = 8
	assert.Error(t, config.Validate())
}
