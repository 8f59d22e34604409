package locks

import (
	"github.com/willfordkc/GVFS/conf"
	"github.com/willfordkc/GVFS/transitions"
)

type globalsStruct struct {
	group *Group
}

var globals globalsStruct

func init() {
	transitions.Register("locks", &globals)
}

// Up creates the module's lock group.
func (dummy *globalsStruct) Up(config *conf.Config) (err error) {
	group := NewGroup(config.Locks.GroupName)
	err = group.Init(config)
	if nil != err {
		return
	}
	globals.group = group
	return nil
}

// Down frees the lock group. Tolerates being called after a failed Up.
func (dummy *globalsStruct) Down(config *conf.Config) (err error) {
	if globals.group == nil {
		return nil
	}
	err = globals.group.Cleanup()
	globals.group = nil
	return
}

// DefaultGroup returns the process-wide lock group, or nil before Up().
func DefaultGroup() (group *Group) {
	return globals.group
}
