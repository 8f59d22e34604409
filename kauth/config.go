package kauth

import (
	"github.com/willfordkc/GVFS/blunder"
	"github.com/willfordkc/GVFS/conf"
	"github.com/willfordkc/GVFS/locks"
	"github.com/willfordkc/GVFS/transitions"
	"github.com/willfordkc/GVFS/vfs"
)

type globalsStruct struct {
	host    vfs.Host
	handler *Handler
}

var globals globalsStruct

func init() {
	transitions.Register("kauth", &globals)
}

// BindHost installs the host-filesystem binding the interceptor will hook.
// Must be called before transitions.Up(); the binding itself (the kext
// shim, or a ramvfs volume under test) lives outside this package.
func BindHost(host vfs.Host) {
	globals.host = host
}

// ActiveHandler returns the process-wide Handler, or nil while down. The
// provider transport binding uses it to register clients and deliver
// responses.
func ActiveHandler() (handler *Handler) {
	return globals.handler
}

// Up builds and starts the process-wide Handler against the bound host and
// the module lock group.
func (dummy *globalsStruct) Up(config *conf.Config) (err error) {
	if globals.handler != nil {
		return blunder.NewError(blunder.AlreadyInitError, "kauth already up")
	}
	if globals.host == nil {
		return blunder.NewError(blunder.NotInitError, "no vfs host bound; call kauth.BindHost() before transitions.Up()")
	}

	group := locks.DefaultGroup()
	if group == nil {
		return blunder.NewError(blunder.NotInitError, "lock group is not up")
	}

	handler := New(config, globals.host, group)
	err = handler.Start()
	if nil != err {
		return
	}

	globals.handler = handler
	return nil
}

// Down stops the Handler. Tolerates being called after a failed Up.
func (dummy *globalsStruct) Down(config *conf.Config) (err error) {
	if globals.handler == nil {
		return nil
	}
	err = globals.handler.Stop()
	globals.handler = nil
	return
}
