package transitions

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willfordkc/GVFS/conf"
)

// journal records callback invocations across all recorder packages; tests
// run in source order against the process-wide registration list.
var journal []string

type recorderCallbacks struct {
	name    string
	upErr   error
	downErr error
}

func (cb *recorderCallbacks) Up(config *conf.Config) (err error) {
	journal = append(journal, cb.name+".Up")
	return cb.upErr
}

func (cb *recorderCallbacks) Down(config *conf.Config) (err error) {
	journal = append(journal, cb.name+".Down")
	return cb.downErr
}

func TestUpDownOrdering(t *testing.T) {
	Register("alpha", &recorderCallbacks{name: "alpha"})
	Register("beta", &recorderCallbacks{name: "beta"})

	config := conf.Default()

	journal = nil
	require.NoError(t, Up(config))
	assert.Equal(t, []string{"alpha.Up", "beta.Up"}, journal)

	journal = nil
	require.NoError(t, Down(config))
	assert.Equal(t, []string{"beta.Down", "alpha.Down"}, journal)
}

func TestDownNeverShortCircuits(t *testing.T) {
	Register("gamma", &recorderCallbacks{name: "gamma", downErr: fmt.Errorf("gamma down failed")})
	Register("delta", &recorderCallbacks{name: "delta"})

	config := conf.Default()
	require.NoError(t, Up(config))

	journal = nil
	err := Down(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gamma")

	// every registered package was still attempted, in reverse
	// registration order, despite the failure mid-sequence
	assert.Equal(t, []string{"delta.Down", "gamma.Down", "beta.Down", "alpha.Down"}, journal)
}

func TestUpFailureAborts(t *testing.T) {
	Register("epsilon", &recorderCallbacks{name: "epsilon", upErr: fmt.Errorf("no")})
	Register("zeta", &recorderCallbacks{name: "zeta"})

	config := conf.Default()

	journal = nil
	err := Up(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "epsilon")
	assert.NotContains(t, journal, "zeta.Up")

	// unwind for any later tests in this package
	_ = Down(config)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	assert.Panics(t, func() {
		Register("logger", &recorderCallbacks{name: "dup"})
	})
}
