package kauth

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/sortedmap"

	"github.com/willfordkc/GVFS/blunder"
	"github.com/willfordkc/GVFS/locks"
	"github.com/willfordkc/GVFS/logger"
	"github.com/willfordkc/GVFS/message"
	"github.com/willfordkc/GVFS/providers"
)

// outstandingRequest pairs a blocked interceptor invocation with the
// provider response it is waiting for. Each record is owned by the stack
// frame of the blocked goroutine; the table only ever references live
// records.
type outstandingRequest struct {
	header   message.Header
	provider *providers.Provider // where the request was routed, for the disconnect sweep
	response message.MsgType     // unset (TypeInvalid) until answered
	received bool                // transitions exactly once, false to true, under the table mutex
	wakeChan chan struct{}       // capacity 1; posted after received is set
}

// requestTable is the outstanding-request correlation map. The request id
// is the natural key, so the records live in an LLRB tree keyed by id
// rather than an intrusive list; delivery is a keyed lookup instead of a
// scan. Its mutex is distinct from the registry mutex: the interceptor may
// take this one while holding no other lock, and neither mutex is ever
// held across a transport send or a sleep.
type requestTable struct {
	mutex         *locks.Mutex
	requests      sortedmap.LLRBTree // key: uint64 message id; value: *outstandingRequest
	nextMessageID uint64             // updated atomically; first allocated id is 1, zero is reserved
	pollPeriod    time.Duration
}

func (table *requestTable) init(group *locks.Group, pollPeriod time.Duration) (err error) {
	if locks.IsValid(table.mutex) {
		return blunder.NewError(blunder.AlreadyInitError, "outstanding-request table already initialized")
	}

	table.mutex = group.AllocMutex("kauth.outstanding")
	if !locks.IsValid(table.mutex) {
		return blunder.NewError(blunder.NotInitError, "outstanding-request table mutex allocation failed")
	}

	table.requests = sortedmap.NewLLRBTree(sortedmap.CompareUint64, table)
	table.nextMessageID = 0
	table.pollPeriod = pollPeriod

	return nil
}

func (table *requestTable) cleanup() (err error) {
	if !locks.IsValid(table.mutex) {
		return blunder.NewError(blunder.NotInitError, "outstanding-request table not initialized")
	}

	table.mutex.Free()
	table.mutex = nil
	table.requests = nil

	return nil
}

// allocMessageID returns the next monotonic request id. Ids are never
// reused within a process lifetime.
func (table *requestTable) allocMessageID() (messageID uint64) {
	return atomic.AddUint64(&table.nextMessageID, 1)
}

// enqueue links the caller-owned record into the table. The record must be
// enqueued before the message is sent so that a response arriving before
// the send returns still finds it.
func (table *requestTable) enqueue(request *outstandingRequest) {
	table.mutex.Lock()
	ok, err := table.requests.Put(request.header.MessageID, request)
	table.mutex.Unlock()
	if nil != err || !ok {
		logger.Panicf("kauth: duplicate outstanding message id %d (ok %v err %v)", request.header.MessageID, ok, err)
	}
}

// dequeue unlinks the record. Callers dequeue after they stop waiting,
// regardless of outcome.
func (table *requestTable) dequeue(request *outstandingRequest) {
	table.mutex.Lock()
	_, err := table.requests.DeleteByKey(request.header.MessageID)
	table.mutex.Unlock()
	if nil != err {
		logger.Panicf("kauth: dequeue of message id %d failed: %v", request.header.MessageID, err)
	}
}

// deliverResponse completes the record with the given response kind and
// wakes its sleeper. Kinds other than success and fail are ignored, as are
// ids with no matching record (stale or fabricated responses). At most one
// record can match.
func (table *requestTable) deliverResponse(messageID uint64, responseType message.MsgType) {
	if responseType != message.TypeResponseSuccess && responseType != message.TypeResponseFail {
		return
	}

	table.mutex.Lock()
	value, ok, err := table.requests.GetByKey(messageID)
	if nil == err && ok {
		request := value.(*outstandingRequest)
		if !request.received {
			request.response = responseType
			request.received = true
			select {
			case request.wakeChan <- struct{}{}:
			default:
			}
		}
	}
	table.mutex.Unlock()
}

// await blocks until the record's response arrives. The sleep is bounded
// by the poll period; each wake (posted, spurious, or timeout) re-examines
// the received flag under the same mutex that sets it, so a response
// landing just before the sleep is never lost.
func (table *requestTable) await(request *outstandingRequest) (responseType message.MsgType) {
	for {
		table.mutex.Lock()
		if request.received {
			responseType = request.response
			table.mutex.Unlock()
			return
		}
		table.mutex.Unlock()

		timer := time.NewTimer(table.pollPeriod)
		select {
		case <-request.wakeChan:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// failAllFromProvider completes every record routed to the given provider
// with a failure response and wakes its sleeper. Called from the provider
// disconnect path so no thread stays pinned on a dead provider.
func (table *requestTable) failAllFromProvider(provider *providers.Provider) (failed int) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	numRequests, err := table.requests.Len()
	if nil != err {
		logger.Panicf("kauth: outstanding table Len() failed: %v", err)
	}

	for i := 0; i < numRequests; i++ {
		_, value, ok, getErr := table.requests.GetByIndex(i)
		if nil != getErr || !ok {
			logger.Panicf("kauth: outstanding table GetByIndex(%d) failed (ok %v err %v)", i, ok, getErr)
		}
		request := value.(*outstandingRequest)
		if request.provider == provider && !request.received {
			request.response = message.TypeResponseFail
			request.received = true
			select {
			case request.wakeChan <- struct{}{}:
			default:
			}
			failed++
		}
	}

	return
}

// DumpKey/DumpValue satisfy sortedmap.LLRBTreeCallbacks.

func (table *requestTable) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	messageID, ok := key.(uint64)
	if !ok {
		return "", fmt.Errorf("kauth: DumpKey() called with non-uint64 key")
	}
	return fmt.Sprintf("%d", messageID), nil
}

func (table *requestTable) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	request, ok := value.(*outstandingRequest)
	if !ok {
		return "", fmt.Errorf("kauth: DumpValue() called with non-request value")
	}
	return fmt.Sprintf("%s pid %d", message.MsgType(request.header.MessageType), request.header.Pid), nil
}
