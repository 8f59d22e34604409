// Package transitions orchestrates the start/stop ordering of the other
// packages.
//
// Each package interested in lifecycle callbacks implements the Callbacks
// interface and calls transitions.Register() from its init() func. Up()
// callbacks are issued in registration order; Down() callbacks in reverse
// registration order. Down() is attempted for every registered package even
// if one of them fails, so that partial initializations are always unwound;
// the first error observed is the one returned.
//
// A special exception to the need for registration is package logger:
// transitions registers logger itself, first, so that the rest of the start
// sequence can log.
package transitions

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/willfordkc/GVFS/conf"
	"github.com/willfordkc/GVFS/logger"
)

// Callbacks is the interface implemented by each package desiring
// notification of lifecycle transitions.
type Callbacks interface {
	Up(config *conf.Config) (err error)
	Down(config *conf.Config) (err error)
}

type loggerCallbacksInterfaceStruct struct {
}

func (dummy *loggerCallbacksInterfaceStruct) Up(config *conf.Config) (err error) {
	return logger.Up(config)
}

func (dummy *loggerCallbacksInterfaceStruct) Down(config *conf.Config) (err error) {
	return logger.Down(config)
}

var loggerCallbacksInterface loggerCallbacksInterfaceStruct

type registrationItemStruct struct {
	packageName string
	callbacks   Callbacks
}

type globalsStruct struct {
	sync.Mutex       // protects insertions into registration{List|Set} during init() phase
	registrationList *list.List
	registrationSet  map[string]*registrationItemStruct // Key: registrationItemStruct.packageName
	up               bool
}

var globals globalsStruct

func init() {
	globals.registrationList = list.New()
	globals.registrationSet = make(map[string]*registrationItemStruct)

	Register("logger", &loggerCallbacksInterface)
}

// Register records a package's interest in lifecycle callbacks. It should
// be called from the package's init() func so that registration order
// matches package initialization order.
func Register(packageName string, callbacks Callbacks) {
	globals.Lock()
	defer globals.Unlock()

	_, alreadyRegistered := globals.registrationSet[packageName]
	if alreadyRegistered {
		panic(fmt.Sprintf("transitions.Register(%s,) called twice", packageName))
	}

	registrationItem := &registrationItemStruct{packageName, callbacks}
	_ = globals.registrationList.PushBack(registrationItem)
	globals.registrationSet[packageName] = registrationItem
}

// Up issues Up() callbacks in registration order. The first failure aborts
// the sequence and is returned; the caller is expected to invoke Down() to
// unwind whatever did come up.
func Up(config *conf.Config) (err error) {
	if globals.up {
		err = fmt.Errorf("transitions.Up() called while already up")
		return
	}

	registrationListElement := globals.registrationList.Front()

	for nil != registrationListElement {
		registrationItem := registrationListElement.Value.(*registrationItemStruct)
		logger.Tracef("transitions.Up() calling %s.Up()", registrationItem.packageName)
		err = registrationItem.callbacks.Up(config)
		if nil != err {
			err = fmt.Errorf("%s.Up() failed: %v", registrationItem.packageName, err)
			return
		}
		registrationListElement = registrationListElement.Next()
	}

	globals.up = true

	logger.Infof("transitions.Up() returning successfully")

	return nil
}

// Down issues Down() callbacks in reverse registration order. Every
// registered package is attempted regardless of failures; the first error
// observed is returned. Down() may be (and is, on a failed Up) called for
// packages whose Up() never ran; Down() implementations tolerate that.
func Down(config *conf.Config) (err error) {
	err = nil

	registrationListElement := globals.registrationList.Back()

	for nil != registrationListElement {
		registrationItem := registrationListElement.Value.(*registrationItemStruct)
		logger.Tracef("transitions.Down() calling %s.Down()", registrationItem.packageName)
		downErr := registrationItem.callbacks.Down(config)
		if nil != downErr && nil == err {
			err = fmt.Errorf("%s.Down() failed: %v", registrationItem.packageName, downErr)
		}
		registrationListElement = registrationListElement.Prev()
	}

	globals.up = false

	return
}
