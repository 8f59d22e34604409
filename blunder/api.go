// Package blunder provides error-handling wrappers
//
// These wrappers allow callers to attach an errno to a regular Go error
// while still conforming to the Go error interface. Every error kind the
// core surfaces across its boundary (registration failures, lifecycle
// misuse, send failures, the deny auxiliary code) is expressed as one of
// the FsError constants below.
//
// The package is implemented on top of the ansel1/merry package, which
// carries the stack trace of the point of annotation along with the
// key/value context.
package blunder

import (
	"fmt"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"
)

// FsError is an error kind carrying an errno value.
type FsError int

const (
	// Errors that map to POSIX errnos
	NotPermError       FsError = FsError(int(unix.EPERM))   // Operation not permitted
	NotFoundError      FsError = FsError(int(unix.ENOENT))  // No such file or directory
	IOError            FsError = FsError(int(unix.EIO))     // I/O error: send attempted on a cleared client slot
	TryAgainError      FsError = FsError(int(unix.EAGAIN))  // Try again: provider answered failure
	PermDeniedError    FsError = FsError(int(unix.EACCES))  // Permission denied
	DevBusyError       FsError = FsError(int(unix.EBUSY))   // Busy: root already set on this slot
	NotDirError        FsError = FsError(int(unix.ENOTDIR)) // Root path is not a directory
	InvalidArgError    FsError = FsError(int(unix.EINVAL))  // Invalid argument
	TableOverflowError FsError = FsError(int(unix.ENFILE))  // Provider table full
	NameTooLongError   FsError = FsError(int(unix.ENAMETOOLONG))
	TimedOutError      FsError = FsError(int(unix.ETIMEDOUT))
)

const ( // reset iota to 0
	// Errors internal to this module
	AlreadyInitError FsError = 1000 + iota // Init called on an initialized subsystem
	NotInitError                           // Cleanup/use of an uninitialized subsystem
)

// SuccessError is the not-an-error FsError.
const SuccessError FsError = 0

const successErrno = 0
const failureErrno = -1

// Value returns the int value for the specified FsError constant.
func (err FsError) Value() int {
	return int(err)
}

// NewError creates a new merry-annotated error using the given format
// string and arguments, carrying errValue as its errno.
func NewError(errValue FsError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue("errno", int(errValue))
}

// AddError attaches errValue to an existing Go error, wrapping it merry
// if it was not already.
func AddError(e error, errValue FsError) error {
	if e == nil {
		return merry.New("regular error").WithValue("errno", int(errValue))
	}
	return merry.WrapSkipping(e, 1).WithValue("errno", int(errValue))
}

// Errno extracts the errno from the error, if it was previously wrapped.
// A nil error yields 0; an unwrapped error yields -1.
func Errno(e error) int {
	if e == nil {
		return successErrno
	}

	errno := failureErrno
	tmp := merry.Value(e, "errno")
	if tmp != nil {
		errno = tmp.(int)
	}

	return errno
}

// Is reports whether the error carries the given FsError kind.
//
// Because the comparison uses the underlying errno value, kinds sharing an
// errno are indistinguishable to this check.
func Is(e error, theError FsError) bool {
	return Errno(e) == int(theError)
}

// IsNot is the opposite of Is.
func IsNot(e error, theError FsError) bool {
	return !Is(e, theError)
}

// IsSuccess reports whether the error is nil or explicitly successful.
func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

// ErrorString returns the error text with the errno appended, for logging.
func ErrorString(e error) string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s. Error Value: %v", e.Error(), Errno(e))
}
