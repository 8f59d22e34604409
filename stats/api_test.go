package stats

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willfordkc/GVFS/conf"
)

func TestDroppedWhenDown(t *testing.T) {
	IncrementOperations(&HydrateRequestOps)
	assert.Empty(t, Dump(), "increments while down are dropped")
}

func TestAccumulation(t *testing.T) {
	config := conf.Default()

	require.NoError(t, globals.Up(config))
	defer globals.Down(config)

	assert.Error(t, globals.Up(config), "second Up must fail")

	IncrementOperations(&HydrateRequestOps)
	IncrementOperations(&HydrateRequestOps)
	IncrementOperationsBy(&CrawlerDenyOps, 5)

	// the sender drains the channel asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		statMap := Dump()
		if statMap[HydrateRequestOps] == 2 && statMap[CrawlerDenyOps] == 5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("stats never accumulated: %v", Dump())
}

func TestUDPEmission(t *testing.T) {
	listenConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listenConn.Close()

	config := conf.Default()
	config.Stats.Address = listenConn.LocalAddr().String()
	config.Stats.FlushInterval = conf.Duration(50 * time.Millisecond)

	require.NoError(t, globals.Up(config))
	defer globals.Down(config)

	IncrementOperations(&EnumerateRequestOps)

	listenConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload := make([]byte, 2048)
	n, _, err := listenConn.ReadFromUDP(payload)
	require.NoError(t, err)

	line := string(payload[:n])
	assert.True(t, strings.Contains(line, EnumerateRequestOps+":1|c"), "statsd line expected, got %q", line)
}
