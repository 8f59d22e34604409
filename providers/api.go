// Package providers implements the active-provider registry: a bounded
// table mapping virtualization-root vnodes to the user-space provider
// process that owns them.
//
// The table is a fixed-capacity array of slots guarded by a single mutex
// allocated from the module's lock group. The capacity bound exists to
// keep a hostile user space from wiring arbitrary amounts of kernel
// memory. A slot is occupied iff its client handle is non-nil; a slot may
// be occupied with a nil root vnode while registration is still in
// progress; an occupied slot with a root holds one use-count on that root
// for the whole occupancy.
//
// Lookups by ancestor walk return a snapshot of the slot's fields copied
// under the mutex, never a reference valid only while the mutex is held.
// The walk itself takes the mutex only for each slot scan, so the registry
// mutex is never held across a Parent() fetch (which may sleep on
// filesystem I/O), a transport send, or a response sleep.
package providers

import (
	"github.com/willfordkc/GVFS/blunder"
	"github.com/willfordkc/GVFS/locks"
	"github.com/willfordkc/GVFS/logger"
	"github.com/willfordkc/GVFS/membuf"
	"github.com/willfordkc/GVFS/message"
	"github.com/willfordkc/GVFS/utils"
	"github.com/willfordkc/GVFS/vfs"
)

// UserClient is the registry's handle to a provider's IPC channel. The
// handle is reference counted and shared with the transport binding that
// created it; the registry holds one strong reference while the slot is
// occupied, plus a short-lived one around each send.
type UserClient interface {
	Retain()
	Release()
	// SendMessage hands a contiguous message image to the transport. It
	// may block indefinitely; callers must not hold the registry mutex.
	SendMessage(data []byte) (err error)
}

// Provider is one registry slot.
type Provider struct {
	userClient UserClient
	rootVnode  vfs.Vnode
	rootPath   []byte // bounded buffer, capacity = max path length
	pid        int32
}

// Match is the snapshot of a slot returned by Find: the fields the
// interceptor's hot path needs, copied under the registry mutex.
type Match struct {
	Provider *Provider
	Pid      int32
	RootPath string
}

// DisconnectHook is invoked (outside the registry mutex) after a slot has
// been cleared, so the outstanding-request table can fail every request
// still routed to that provider.
type DisconnectHook func(provider *Provider)

// Registry is the active-provider table.
type Registry struct {
	mutex          *locks.Mutex
	resolver       vfs.Resolver
	slots          []Provider
	maxPathLen     int
	disconnectHook DisconnectHook
}

// NewRegistry returns an uninitialized Registry.
func NewRegistry() (registry *Registry) {
	return &Registry{}
}

// Init readies the registry. Re-initializing an initialized registry
// fails.
func (registry *Registry) Init(group *locks.Group, resolver vfs.Resolver, capacity int, maxPathLen int) (err error) {
	if locks.IsValid(registry.mutex) {
		return blunder.NewError(blunder.AlreadyInitError, "provider registry already initialized")
	}

	registry.mutex = group.AllocMutex("providers.registry")
	if !locks.IsValid(registry.mutex) {
		return blunder.NewError(blunder.NotInitError, "provider registry mutex allocation failed")
	}

	registry.resolver = resolver
	registry.slots = make([]Provider, capacity)
	registry.maxPathLen = maxPathLen

	return nil
}

// Cleanup frees the registry's mutex if allocated.
func (registry *Registry) Cleanup() (err error) {
	if !locks.IsValid(registry.mutex) {
		return blunder.NewError(blunder.NotInitError, "provider registry not initialized")
	}

	registry.mutex.Free()
	registry.mutex = nil
	registry.slots = nil

	return nil
}

// SetDisconnectHook installs the hook fired after Disconnect clears a
// slot.
func (registry *Registry) SetDisconnectHook(hook DisconnectHook) {
	registry.disconnectHook = hook
}

// RegisterUserClient claims the first free slot for the given client and
// pid, returning nil if the table is full.
func (registry *Registry) RegisterUserClient(userClient UserClient, pid int32) (provider *Provider) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	for i := range registry.slots {
		if registry.slots[i].userClient == nil {
			provider = &registry.slots[i]
			provider.userClient = userClient
			provider.pid = pid
			if provider.rootVnode != nil {
				logger.Panicf("providers: free slot %d still holds a root vnode", i)
			}
			return
		}
	}

	return nil
}

// RegisterRoot resolves virtualizationRootPath and installs it as the
// slot's root.
//
// Return values:
//   nil:          root found and successfully registered
//   NotDirError:  the path does not resolve to a directory
//   DevBusyError: a root is already set for this provider
//   otherwise:    the resolver's error, propagated verbatim
func (registry *Registry) RegisterRoot(provider *Provider, virtualizationRootPath string) (err error) {
	rootVnode, err := registry.resolver.Lookup(virtualizationRootPath)
	if nil != err {
		return err
	}

	if !rootVnode.IsDir() {
		rootVnode.Put()
		return blunder.NewError(blunder.NotDirError, "virtualization root %q is not a directory", virtualizationRootPath)
	}

	registry.mutex.Lock()
	if provider.rootVnode != nil {
		registry.mutex.Unlock()
		rootVnode.Put()
		return blunder.NewError(blunder.DevBusyError, "provider pid %d already has a virtualization root", provider.pid)
	}

	// ownership of the lookup's use-count moves into the slot here; it is
	// dropped on Disconnect
	provider.rootVnode = rootVnode
	if provider.rootPath == nil {
		provider.rootPath = make([]byte, registry.maxPathLen)
	}
	utils.TruncatingCopy(provider.rootPath, virtualizationRootPath)
	registry.mutex.Unlock()

	return nil
}

// Disconnect clears the slot: the root use-count is dropped exactly once
// and the client handle is detached. The client's own reference count is
// the caller's responsibility (ownership of the handle is shared with the
// transport binding). The disconnect hook fires after the slot is clear.
func (registry *Registry) Disconnect(provider *Provider) {
	registry.mutex.Lock()

	if provider.userClient == nil {
		registry.mutex.Unlock()
		logger.Panicf("providers: Disconnect() of an unoccupied slot")
		return
	}

	if provider.rootVnode != nil {
		provider.rootVnode.Put()
		provider.rootVnode = nil
	}

	provider.userClient = nil
	for i := range provider.rootPath {
		provider.rootPath[i] = 0
	}

	registry.mutex.Unlock()

	if registry.disconnectHook != nil {
		registry.disconnectHook(provider)
	}
}

// Find walks upward from vn toward the filesystem root looking for the
// closest enclosing virtualization root. The search ends when a slot
// matches, the ancestor chain ends, or the filesystem's own root is
// reached. Exactly one use-count is held on the vnode under inspection at
// every step.
func (registry *Registry) Find(vn vfs.Vnode) (match Match, found bool) {
	if vn == nil {
		return
	}

	_ = vn.Get()

	for vn != nil && !vn.IsRoot() {
		registry.mutex.Lock()
		for i := range registry.slots {
			if registry.slots[i].rootVnode != nil && registry.slots[i].rootVnode == vn {
				match.Provider = &registry.slots[i]
				match.Pid = registry.slots[i].pid
				match.RootPath = utils.ByteSliceToString(registry.slots[i].rootPath)
				found = true
				break
			}
		}
		registry.mutex.Unlock()

		if found {
			break
		}

		parent := vn.Parent()
		vn.Put()
		vn = parent
	}

	if vn != nil {
		vn.Put()
	}

	return
}

// SendMessage serializes the message into a single contiguous buffer and
// hands it to the slot's client. The registry mutex is only held long
// enough to snapshot and retain the client handle; the transport may block
// indefinitely.
func (registry *Registry) SendMessage(provider *Provider, msg message.Message) (err error) {
	registry.mutex.Lock()
	userClient := provider.userClient
	if userClient != nil {
		userClient.Retain()
	}
	registry.mutex.Unlock()

	if userClient == nil {
		return blunder.NewError(blunder.IOError, "send to a disconnected provider")
	}

	headerBytes, err := msg.EncodeHeader()
	if nil != err {
		userClient.Release()
		return err
	}

	buf := membuf.MessageBufPool().GetBuf()
	buf.Buf = append(buf.Buf, headerBytes...)
	if msg.Header.PathSizeBytes > 0 {
		buf.Buf = append(buf.Buf, msg.Path...)
	}

	err = userClient.SendMessage(buf.Buf)

	buf.Release()
	userClient.Release()

	return err
}

// Pid returns the slot's provider pid. Exposed for the transport binding;
// the interceptor uses the Find snapshot instead.
func (registry *Registry) Pid(provider *Provider) (pid int32) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return provider.pid
}
