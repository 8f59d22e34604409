// Package ramvfs provides an in-memory vfs.Host used by tests throughout
// the module. It emulates exactly the host-filesystem surface the core
// consumes: a vnode tree with use-count accounting, a per-file attribute
// flag word, a settable process table, and a vnode-authorization scope that
// its operation entry points (ReadFile, ListDir, ...) drive the same way
// host syscalls would.
package ramvfs

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/willfordkc/GVFS/blunder"
	"github.com/willfordkc/GVFS/vfs"
)

// node implements vfs.Vnode.
type node struct {
	volume   *Volume
	name     string
	parent   *node
	isDir    bool
	flags    uint32 // accessed atomically
	useCount int64  // accessed atomically
	children map[string]*node
	content  []byte
}

func (vn *node) Get() (err error) {
	atomic.AddInt64(&vn.useCount, 1)
	return nil
}

func (vn *node) Put() {
	newCount := atomic.AddInt64(&vn.useCount, -1)
	if newCount < 0 {
		panic(fmt.Sprintf("ramvfs: use-count underflow on %q", vn.name))
	}
}

func (vn *node) Parent() vfs.Vnode {
	if vn.parent == nil {
		return nil
	}
	_ = vn.parent.Get()
	return vn.parent
}

func (vn *node) IsDir() bool {
	return vn.isDir
}

func (vn *node) IsRoot() bool {
	return vn.parent == nil
}

func (vn *node) GetPath() (nodePath string, err error) {
	if vn.parent == nil {
		return "/", nil
	}
	parentPath, err := vn.parent.GetPath()
	if err != nil {
		return "", err
	}
	if parentPath == "/" {
		return "/" + vn.name, nil
	}
	return parentPath + "/" + vn.name, nil
}

type context struct {
	pid int32
}

func (ctx *context) Pid() int32 {
	return ctx.pid
}

type listenerEntry struct {
	listener vfs.VnodeListener
	idata    interface{}
}

type listenerHandle struct {
	volume *Volume
	entry  *listenerEntry
}

func (handle *listenerHandle) Unlisten() (err error) {
	handle.volume.listenerMutex.Lock()
	defer handle.volume.listenerMutex.Unlock()

	for i, entry := range handle.volume.listeners {
		if entry == handle.entry {
			handle.volume.listeners = append(handle.volume.listeners[:i], handle.volume.listeners[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("ramvfs: listener already removed")
}

// Volume is an in-memory filesystem implementing vfs.Host.
type Volume struct {
	treeMutex     sync.Mutex
	root          *node
	listenerMutex sync.Mutex
	listeners     []*listenerEntry
	procMutex     sync.Mutex
	procNames     map[int32]string
	attrReadErr   error
}

// NewVolume returns an empty volume with just a root directory.
func NewVolume() (volume *Volume) {
	volume = &Volume{procNames: make(map[int32]string)}
	volume.root = &node{volume: volume, name: "", isDir: true, children: make(map[string]*node)}
	return
}

func splitPath(nodePath string) (components []string) {
	cleaned := path.Clean(nodePath)
	if cleaned == "/" || cleaned == "." {
		return nil
	}
	return strings.Split(strings.TrimPrefix(cleaned, "/"), "/")
}

// lookupNode walks the tree; caller holds treeMutex.
func (volume *Volume) lookupNode(nodePath string) (vn *node, err error) {
	vn = volume.root
	for _, component := range splitPath(nodePath) {
		child, ok := vn.children[component]
		if !ok {
			return nil, blunder.NewError(blunder.NotFoundError, "ramvfs: %q not found", nodePath)
		}
		vn = child
	}
	return vn, nil
}

// MkDir creates a directory (parents must exist).
func (volume *Volume) MkDir(nodePath string) (err error) {
	return volume.create(nodePath, true, nil)
}

// CreateFile creates a file with the given content (parents must exist).
func (volume *Volume) CreateFile(nodePath string, content []byte) (err error) {
	return volume.create(nodePath, false, content)
}

func (volume *Volume) create(nodePath string, isDir bool, content []byte) (err error) {
	volume.treeMutex.Lock()
	defer volume.treeMutex.Unlock()

	dir, base := path.Split(path.Clean(nodePath))
	parent, err := volume.lookupNode(dir)
	if err != nil {
		return err
	}
	if !parent.isDir {
		return blunder.NewError(blunder.NotDirError, "ramvfs: %q is not a directory", dir)
	}
	if _, exists := parent.children[base]; exists {
		return fmt.Errorf("ramvfs: %q already exists", nodePath)
	}

	child := &node{volume: volume, name: base, parent: parent, isDir: isDir, content: content}
	if isDir {
		child.children = make(map[string]*node)
	}
	parent.children[base] = child

	return nil
}

// SetFileFlags ORs bits into the node's attribute flag word.
func (volume *Volume) SetFileFlags(nodePath string, bits uint32) (err error) {
	return volume.updateFlags(nodePath, bits, 0)
}

// ClearFileFlags clears bits from the node's attribute flag word.
func (volume *Volume) ClearFileFlags(nodePath string, bits uint32) (err error) {
	return volume.updateFlags(nodePath, 0, bits)
}

func (volume *Volume) updateFlags(nodePath string, setBits uint32, clearBits uint32) (err error) {
	volume.treeMutex.Lock()
	vn, err := volume.lookupNode(nodePath)
	volume.treeMutex.Unlock()
	if err != nil {
		return err
	}

	for {
		oldFlags := atomic.LoadUint32(&vn.flags)
		newFlags := (oldFlags | setBits) &^ clearBits
		if atomic.CompareAndSwapUint32(&vn.flags, oldFlags, newFlags) {
			return nil
		}
	}
}

// UseCount returns the node's current use-count, for leak assertions.
func (volume *Volume) UseCount(nodePath string) (useCount int64, err error) {
	volume.treeMutex.Lock()
	vn, err := volume.lookupNode(nodePath)
	volume.treeMutex.Unlock()
	if err != nil {
		return 0, err
	}
	return atomic.LoadInt64(&vn.useCount), nil
}

// SetProcName installs a process-table entry.
func (volume *Volume) SetProcName(pid int32, procname string) {
	volume.procMutex.Lock()
	defer volume.procMutex.Unlock()
	volume.procNames[pid] = procname
}

// SetAttrReadError makes every subsequent ReadFileFlags call fail, for
// exercising hosts that do not expose va_flags.
func (volume *Volume) SetAttrReadError(err error) {
	volume.attrReadErr = err
}

//
// vfs.Host implementation
//

// Lookup resolves an absolute path to a vnode holding a use-count.
func (volume *Volume) Lookup(nodePath string) (vn vfs.Vnode, err error) {
	volume.treeMutex.Lock()
	found, err := volume.lookupNode(nodePath)
	volume.treeMutex.Unlock()
	if err != nil {
		return nil, err
	}
	_ = found.Get()
	return found, nil
}

// ReadFileFlags returns the node's attribute flag word.
func (volume *Volume) ReadFileFlags(vn vfs.Vnode, ctx vfs.Context) (fileFlags uint32, err error) {
	if volume.attrReadErr != nil {
		return 0, volume.attrReadErr
	}
	ramNode, ok := vn.(*node)
	if !ok {
		return 0, fmt.Errorf("ramvfs: foreign vnode")
	}
	return atomic.LoadUint32(&ramNode.flags), nil
}

// Name resolves a pid to its process name ("" if unknown).
func (volume *Volume) Name(pid int32) string {
	volume.procMutex.Lock()
	defer volume.procMutex.Unlock()
	return volume.procNames[pid]
}

// ListenVnodeScope registers an authorization listener.
func (volume *Volume) ListenVnodeScope(listener vfs.VnodeListener, idata interface{}) (handle vfs.ListenerHandle, err error) {
	volume.listenerMutex.Lock()
	defer volume.listenerMutex.Unlock()

	entry := &listenerEntry{listener: listener, idata: idata}
	volume.listeners = append(volume.listeners, entry)

	return &listenerHandle{volume: volume, entry: entry}, nil
}

//
// Operation entry points, driving the scope the way host syscalls would
//

// authorize runs every registered listener for the operation. Listeners are
// invoked without any volume lock held: they re-enter the volume (GetPath,
// Parent, ReadFileFlags) while classifying the access.
func (volume *Volume) authorize(pid int32, action vfs.Action, vn *node) (err error) {
	volume.listenerMutex.Lock()
	listeners := make([]*listenerEntry, len(volume.listeners))
	copy(listeners, volume.listeners)
	volume.listenerMutex.Unlock()

	ctx := &context{pid: pid}

	var parent vfs.Vnode
	if vn.parent != nil {
		parent = vn.parent
	}

	for _, entry := range listeners {
		outErrno := 0
		result := entry.listener(nil, entry.idata, action, ctx, vn, parent, &outErrno)
		if result == vfs.ResultDeny {
			if outErrno == 0 {
				outErrno = blunder.PermDeniedError.Value()
			}
			return blunder.NewError(blunder.FsError(outErrno), "ramvfs: access to %q denied", vn.name)
		}
	}

	return nil
}

func (volume *Volume) resolveForOp(nodePath string) (vn *node, err error) {
	volume.treeMutex.Lock()
	defer volume.treeMutex.Unlock()
	return volume.lookupNode(nodePath)
}

// ReadFile performs an authorized read of a file's content.
func (volume *Volume) ReadFile(pid int32, nodePath string) (content []byte, err error) {
	vn, err := volume.resolveForOp(nodePath)
	if err != nil {
		return nil, err
	}
	if vn.isDir {
		return nil, blunder.NewError(blunder.InvalidArgError, "ramvfs: %q is a directory", nodePath)
	}
	err = volume.authorize(pid, vfs.ActionReadData, vn)
	if err != nil {
		return nil, err
	}
	return vn.content, nil
}

// WriteFile performs an authorized overwrite of a file's content.
func (volume *Volume) WriteFile(pid int32, nodePath string, content []byte) (err error) {
	vn, err := volume.resolveForOp(nodePath)
	if err != nil {
		return err
	}
	if vn.isDir {
		return blunder.NewError(blunder.InvalidArgError, "ramvfs: %q is a directory", nodePath)
	}
	err = volume.authorize(pid, vfs.ActionWriteData, vn)
	if err != nil {
		return err
	}
	volume.treeMutex.Lock()
	vn.content = content
	volume.treeMutex.Unlock()
	return nil
}

// ListDir performs an authorized directory enumeration.
func (volume *Volume) ListDir(pid int32, nodePath string) (names []string, err error) {
	vn, err := volume.resolveForOp(nodePath)
	if err != nil {
		return nil, err
	}
	if !vn.isDir {
		return nil, blunder.NewError(blunder.NotDirError, "ramvfs: %q is not a directory", nodePath)
	}
	err = volume.authorize(pid, vfs.ActionListDirectory|vfs.ActionSearch, vn)
	if err != nil {
		return nil, err
	}
	volume.treeMutex.Lock()
	for name := range vn.children {
		names = append(names, name)
	}
	volume.treeMutex.Unlock()
	return names, nil
}

// Stat performs an authorized attribute read.
func (volume *Volume) Stat(pid int32, nodePath string) (isDir bool, err error) {
	vn, err := volume.resolveForOp(nodePath)
	if err != nil {
		return false, err
	}
	err = volume.authorize(pid, vfs.ActionReadAttributes, vn)
	if err != nil {
		return false, err
	}
	return vn.isDir, nil
}

// Exec performs an authorized execute access.
func (volume *Volume) Exec(pid int32, nodePath string) (err error) {
	vn, err := volume.resolveForOp(nodePath)
	if err != nil {
		return err
	}
	err = volume.authorize(pid, vfs.ActionExecute, vn)
	if err != nil {
		return err
	}
	return nil
}
