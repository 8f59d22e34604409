// Package kauth implements the vnode-access interceptor: the
// authorization callback that classifies every filesystem access against
// the active virtualization roots, asks the owning provider to materialize
// placeholder content when an access requires it, and blocks the calling
// thread until the provider answers.
//
// The package owns the whole aggregate the interceptor needs (the
// provider registry, the outstanding-request table, and their mutexes)
// behind a single Handler passed into the scope registration, rather than
// spreading it across package globals.
//
// Verdict policy: the interceptor only ever answers defer ("no opinion";
// normal filesystem processing continues) or deny. Internal faults such
// as a missing provider, unreadable attributes, path resolution failure,
// or a send failure all degrade to defer so a broken provider cannot make the
// filesystem unusable for unrelated accesses. The deliberate denials are
// exactly two: a crawler touching a placeholder, and an explicit failure
// response from the provider (surfaced with a "try again" errno).
package kauth

import (
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/willfordkc/GVFS/blunder"
	"github.com/willfordkc/GVFS/conf"
	"github.com/willfordkc/GVFS/locks"
	"github.com/willfordkc/GVFS/logger"
	"github.com/willfordkc/GVFS/message"
	"github.com/willfordkc/GVFS/providers"
	"github.com/willfordkc/GVFS/stats"
	"github.com/willfordkc/GVFS/vfs"
)

// Action bits that require materializing a placeholder directory's
// children before the access may proceed.
const directoryMaterializeActions = vfs.ActionListDirectory |
	vfs.ActionSearch |
	vfs.ActionReadSecurity |
	vfs.ActionReadAttributes |
	vfs.ActionReadExtattributes

// Action bits that require materializing a placeholder file's bytes before
// the access may proceed.
const fileMaterializeActions = vfs.ActionReadAttributes |
	vfs.ActionWriteAttributes |
	vfs.ActionReadExtattributes |
	vfs.ActionWriteExtattributes |
	vfs.ActionReadData |
	vfs.ActionWriteData |
	vfs.ActionExecute

// Handler is the interceptor aggregate: registry, outstanding-request
// table, configuration snapshot, and the scope registration.
type Handler struct {
	host           vfs.Host
	group          *locks.Group
	registry       *providers.Registry
	table          requestTable
	listener       vfs.ListenerHandle
	crawlerNames   map[string]bool
	capacity       int
	maxPathLen     int
	pollPeriod     time.Duration
	denyLogLimiter *rate.Limiter
}

// New builds a Handler from the configuration. Nothing is registered until
// Start().
func New(config *conf.Config, host vfs.Host, group *locks.Group) (handler *Handler) {
	handler = &Handler{
		host:       host,
		group:      group,
		registry:   providers.NewRegistry(),
		capacity:   config.Providers.Capacity,
		maxPathLen: config.Providers.MaxPathLength,
		pollPeriod: time.Duration(config.Kauth.ResponsePollPeriod),
	}

	handler.crawlerNames = make(map[string]bool, len(config.Kauth.CrawlerProcessNames))
	for _, procname := range config.Kauth.CrawlerProcessNames {
		handler.crawlerNames[procname] = true
	}

	handler.denyLogLimiter = rate.NewLimiter(rate.Every(time.Duration(config.Kauth.DenyLogInterval)), 1)

	return
}

// Start initializes the table and registry and registers the interceptor
// on the host's vnode-authorization scope. Any failure unwinds whatever
// part of the sequence did come up. Starting a started Handler fails.
func (handler *Handler) Start() (err error) {
	if handler.listener != nil {
		return blunder.NewError(blunder.AlreadyInitError, "kauth handler already started")
	}

	err = handler.table.init(handler.group, handler.pollPeriod)
	if nil != err {
		_ = handler.Stop()
		return
	}

	err = handler.registry.Init(handler.group, handler.host, handler.capacity, handler.maxPathLen)
	if nil != err {
		_ = handler.Stop()
		return
	}
	handler.registry.SetDisconnectHook(handler.sweepDisconnected)

	handler.listener, err = handler.host.ListenVnodeScope(handler.HandleVnodeOperation, nil)
	if nil != err {
		_ = handler.Stop()
		return
	}

	logger.Infof("kauth.Start(): listening on vnode scope; provider capacity %d", handler.capacity)

	return nil
}

// Stop unregisters the interceptor and tears the aggregate down. Every
// tier is attempted regardless of failures; the overall result is the
// worst of them. Stopping a never-started tier counts as a failure, so a
// second Stop after a successful one fails.
func (handler *Handler) Stop() (err error) {
	err = nil

	if handler.listener != nil {
		unlistenErr := handler.listener.Unlisten()
		handler.listener = nil
		if nil != unlistenErr {
			err = unlistenErr
		}
	} else {
		err = blunder.NewError(blunder.NotInitError, "kauth handler had no scope registration")
	}

	registryErr := handler.registry.Cleanup()
	if nil != registryErr && nil == err {
		err = registryErr
	}

	tableErr := handler.table.cleanup()
	if nil != tableErr && nil == err {
		err = tableErr
	}

	return
}

// RegisterProviderClient claims a registry slot for a connecting provider.
// A full table yields TableOverflowError.
func (handler *Handler) RegisterProviderClient(userClient providers.UserClient, pid int32) (provider *providers.Provider, err error) {
	provider = handler.registry.RegisterUserClient(userClient, pid)
	if provider == nil {
		return nil, blunder.NewError(blunder.TableOverflowError, "provider table full (capacity %d)", handler.capacity)
	}
	stats.IncrementOperations(&stats.ProviderRegisterOps)
	return provider, nil
}

// RegisterProviderRoot installs the provider's virtualization root.
func (handler *Handler) RegisterProviderRoot(provider *providers.Provider, virtualizationRootPath string) (err error) {
	err = handler.registry.RegisterRoot(provider, virtualizationRootPath)
	if nil == err {
		stats.IncrementOperations(&stats.ProviderRootOps)
	}
	return
}

// DisconnectProvider clears the provider's slot and fails every request
// still outstanding against it, so no blocked thread is left pinned on a
// dead provider.
func (handler *Handler) DisconnectProvider(provider *providers.Provider) {
	handler.registry.Disconnect(provider)
}

func (handler *Handler) sweepDisconnected(provider *providers.Provider) {
	failed := handler.table.failAllFromProvider(provider)
	if failed > 0 {
		logger.Infof("kauth: failed %d outstanding request(s) on provider disconnect", failed)
		stats.IncrementOperationsBy(&stats.DisconnectSweepOps, uint64(failed))
	}
}

// HandleKernelMessageResponse delivers a provider's response to the
// blocked request with the matching id. Response kinds other than success
// and fail are silently ignored.
func (handler *Handler) HandleKernelMessageResponse(messageID uint64, responseType message.MsgType) {
	handler.table.deliverResponse(messageID, responseType)
}

func fileFlagsBitIsSet(fileFlags uint32, bit uint32) bool {
	return 0 != (fileFlags & bit)
}

func actionBitIsSet(action vfs.Action, mask vfs.Action) bool {
	return 0 != (action & mask)
}

func (handler *Handler) isFileSystemCrawler(procname string) bool {
	return handler.crawlerNames[procname]
}

// relativePath returns path relative to root with any leading separator
// stripped.
func relativePath(vnodePath string, rootPath string) string {
	relative := vnodePath
	if strings.HasPrefix(vnodePath, rootPath) {
		relative = vnodePath[len(rootPath):]
	}
	return strings.TrimPrefix(relative, "/")
}

// HandleVnodeOperation is the authorization callback registered on the
// vnode scope. It runs on the calling process's thread for every vnode
// access system-wide, so the not-in-a-virtualization-root path must stay
// cheap: one attribute read, no lookups, no sends.
func (handler *Handler) HandleVnodeOperation(cred vfs.Credential, idata interface{}, action vfs.Action, ctx vfs.Context, currentVnode vfs.Vnode, parentVnode vfs.Vnode, outErrno *int) (result vfs.Result) {
	pid := ctx.Pid()

	currentVnodeFileFlags, err := handler.host.ReadFileFlags(currentVnode, ctx)
	if nil != err {
		// not every filesystem exposes va_flags; unknown means uninteresting
		return vfs.ResultDefer
	}

	if !fileFlagsBitIsSet(currentVnodeFileFlags, vfs.FileFlagIsInVirtualizationRoot) {
		// This vnode is not part of ANY virtualization root, so exit now
		// before doing any more work. This keeps IO outside virtualization
		// roots cheap.
		return vfs.ResultDefer
	}

	stats.IncrementOperations(&stats.AccessExaminedOps)

	procname := handler.host.Name(pid)

	if fileFlagsBitIsSet(currentVnodeFileFlags, vfs.FileFlagIsEmpty) {
		// The vnode is not yet hydrated; do not let a filesystem crawler
		// force hydration. We must DENY crawlers rather than DEFER: a
		// deferred verdict is cached by the authorization layer, so letting
		// the crawler through without hydrating would make the file appear
		// permanently empty to later, legitimate consumers.
		if handler.isFileSystemCrawler(procname) {
			if handler.denyLogLimiter.Allow() {
				logger.Warnf("kauth: denying crawler %q (pid %d) access to a placeholder", procname, pid)
			}
			stats.IncrementOperations(&stats.CrawlerDenyOps)
			return vfs.ResultDeny
		}
	}

	match, found := handler.registry.Find(currentVnode)
	if !found {
		// inside a virtualization root whose provider is gone; leave the
		// access alone
		stats.IncrementOperations(&stats.FastPathDeferOps)
		return vfs.ResultDefer
	}

	// If the calling process is the provider itself, exit right away:
	// blocking the provider on its own tree would deadlock it.
	if pid == match.Pid {
		return vfs.ResultDefer
	}

	result = vfs.ResultDefer

	if currentVnode.IsDir() {
		if actionBitIsSet(action, directoryMaterializeActions) &&
			fileFlagsBitIsSet(currentVnodeFileFlags, vfs.FileFlagIsEmpty) {
			result = handler.trySendRequestAndWaitForResponse(match, message.TypeEnumerateDirectory, currentVnode, pid, procname, outErrno)
		}
	} else {
		if actionBitIsSet(action, fileMaterializeActions) &&
			fileFlagsBitIsSet(currentVnodeFileFlags, vfs.FileFlagIsEmpty) {
			result = handler.trySendRequestAndWaitForResponse(match, message.TypeHydrateFile, currentVnode, pid, procname, outErrno)
		}
	}

	return
}

// trySendRequestAndWaitForResponse builds the materialization request,
// links it into the outstanding table, sends it to the provider, and
// blocks until the response arrives. Success maps to defer (the original
// access proceeds through the normal stack); failure maps to deny with a
// "try again" errno. Inability to even ask (path resolution or send
// failure) maps to defer.
func (handler *Handler) trySendRequestAndWaitForResponse(match providers.Match, messageType message.MsgType, vn vfs.Vnode, pid int32, procname string, outErrno *int) (result vfs.Result) {
	vnodePath, err := vn.GetPath()
	if nil != err {
		logger.ErrorfWithError(err, "kauth: unable to resolve a vnode to its path")
		return vfs.ResultDefer
	}

	messageID := handler.table.allocMessageID()
	msg := message.New(messageID, messageType, pid, procname, relativePath(vnodePath, match.RootPath))

	request := &outstandingRequest{
		header:   msg.Header,
		provider: match.Provider,
		wakeChan: make(chan struct{}, 1),
	}

	// enqueue before send: if the response beats the send's return, the
	// responder must already find the record
	handler.table.enqueue(request)

	err = handler.registry.SendMessage(match.Provider, msg)
	if nil != err {
		handler.table.dequeue(request)
		logger.WarnfWithError(err, "kauth: send of %s id %d failed", messageType, messageID)
		stats.IncrementOperations(&stats.ProviderSendFailOps)
		return vfs.ResultDefer
	}

	if messageType == message.TypeEnumerateDirectory {
		stats.IncrementOperations(&stats.EnumerateRequestOps)
	} else {
		stats.IncrementOperations(&stats.HydrateRequestOps)
	}

	responseType := handler.table.await(request)
	handler.table.dequeue(request)

	if responseType == message.TypeResponseSuccess {
		return vfs.ResultDefer
	}

	stats.IncrementOperations(&stats.ProviderFailureOps)
	*outErrno = blunder.TryAgainError.Value()
	return vfs.ResultDeny
}
