// Package stats provides a simple statsd client API for the interceptor's
// operational counters.
//
// Increments are queued on a buffered channel and drained by a sender
// goroutine that accumulates deltas and periodically emits them in statsd
// line format over UDP. When no statsd address is configured the sender
// still accumulates (so Dump() works) but emits nothing. When the package
// is down entirely, increments are dropped on the floor: the interceptor
// must never block or fail on telemetry.
package stats

// Stat names incremented by the core.
var (
	AccessExaminedOps   = "kauth.access.examined"
	FastPathDeferOps    = "kauth.access.fastpath-defer"
	CrawlerDenyOps      = "kauth.access.crawler-deny"
	HydrateRequestOps   = "kauth.request.hydrate-file"
	EnumerateRequestOps = "kauth.request.enumerate-directory"
	ProviderFailureOps  = "kauth.response.provider-failure"
	DisconnectSweepOps  = "kauth.provider.disconnect-sweep"
	ProviderRegisterOps = "providers.register"
	ProviderRootOps     = "providers.register-root"
	ProviderSendOps     = "providers.send"
	ProviderSendFailOps = "providers.send-failure"
)

// IncrementOperations sends an increment of the named stat to statsd.
func IncrementOperations(statName *string) {
	incrementOperationsBy(statName, 1)
}

// IncrementOperationsBy sends an increment by incBy of the named stat to
// statsd.
func IncrementOperationsBy(statName *string, incBy uint64) {
	incrementOperationsBy(statName, incBy)
}

// Dump returns a map of all accumulated stats since Up().
//
//   Key   is the name of the stat
//   Value is the accumulation of all increments for the stat
func Dump() (statMap map[string]uint64) {
	return dump()
}
