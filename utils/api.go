// Package utils provides miscellaneous runtime introspection helpers
// shared by the other packages: goroutine ids for lock attribution and
// caller function/package extraction for log decoration.
package utils

import (
	"bytes"
	"regexp"
	"runtime"
	"strconv"
)

var (
	extractFnNameRE  = regexp.MustCompile(`[^\/]*$`)
	extractPkgNameRE = regexp.MustCompile(`^[^.]*`)
	extractFuncRE    = regexp.MustCompile(`[^.]*$`)
)

// GetGID returns the id of the calling goroutine.
//
// The runtime does not expose goroutine ids, but having them in lock-hold
// diagnostics is too useful to pass up. Parsed out of the first line of a
// stack trace.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	return StackTraceToGoId(b)
}

// StackTraceToGoId extracts the goroutine id from a stack trace produced
// by runtime.Stack().
func StackTraceToGoId(stack []byte) uint64 {
	b := bytes.TrimPrefix(stack, []byte("goroutine "))
	idx := bytes.IndexByte(b, ' ')
	if idx < 0 {
		return 0
	}
	n, _ := strconv.ParseUint(string(b[:idx]), 10, 64)
	return n
}

// GetAFnName returns "package.function" for the caller the requested number
// of levels up the stack.
func GetAFnName(level int) string {
	pc, _, _, _ := runtime.Caller(level + 1)
	functionObject := runtime.FuncForPC(pc)
	if functionObject == nil {
		return "unknown.unknown"
	}
	return extractFnNameRE.FindString(functionObject.Name())
}

// GetFuncPackage returns the function name, package name, and goroutine id
// of the caller the requested number of levels up the stack.
func GetFuncPackage(level int) (fn string, pkg string, gid uint64) {
	funcPkg := GetAFnName(level + 1)

	pkg = extractPkgNameRE.FindString(funcPkg)
	fn = extractFuncRE.FindString(funcPkg)
	gid = GetGID()

	return
}

// GetFnName returns the name of the running function and its package.
func GetFnName() string {
	return GetAFnName(1)
}

// ByteSliceToString interprets a NUL-terminated byte slice as a Go string,
// stopping at the first NUL (or the end of the slice if none).
func ByteSliceToString(byteSlice []byte) (str string) {
	idx := bytes.IndexByte(byteSlice, 0)
	if idx < 0 {
		return string(byteSlice)
	}
	return string(byteSlice[:idx])
}

// TruncatingCopy copies src into the fixed-size dst, always leaving room
// for (and writing) a terminating NUL, and zero-fills the remainder. It
// returns the number of payload bytes copied. Equivalent to strlcpy() for
// bounded kernel-style buffers.
func TruncatingCopy(dst []byte, src string) (copied int) {
	if len(dst) == 0 {
		return 0
	}
	copied = copy(dst[:len(dst)-1], src)
	for i := copied; i < len(dst); i++ {
		dst[i] = 0
	}
	return
}
