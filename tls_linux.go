//go:build linux

package mordor

import "golang.org/x/sys/unix"

// currentThreadIdentity keys the thread-local emulation in tls.go. It must
// be stable for the lifetime of one generation of the calling goroutine
// regardless of which OS thread happens to run it, so it always uses the
// portable runtime.Stack-derived id rather than the OS thread id: a fiber's
// backing goroutine is not pinned to an OS thread (only a worker's dispatch
// loop calls runtime.LockOSThread — see workerLoop), so unix.Gettid
// would silently change out from under a blocked-then-resumed fiber
// goroutine.
func currentThreadIdentity() uint64 {
	return getGoroutineID()
}

// nativeThreadID reports the OS thread id of the calling goroutine, for use
// only in log fields from inside a worker's dispatch loop, where
// runtime.LockOSThread has already pinned the goroutine and made the value
// meaningful for the lifetime of that loop.
func nativeThreadID() int {
	return unix.Gettid()
}
