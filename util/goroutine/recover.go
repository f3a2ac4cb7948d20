// Package goroutine keeps panics in background work and subscriber callbacks
// from taking down the process.
package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// StackTraceBufferSize bounds the captured stack for a recovered panic
const StackTraceBufferSize = 4096

// Recover must be deferred directly. It logs the panic value with a stack
// trace under the given name. A nil logger writes to stderr instead.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(name, r, logger)
	}
}

// SafeCall runs fn and reports whether it panicked. The panic is logged and
// swallowed so the caller can keep going with the next handler.
func SafeCall(name string, logger *zap.SugaredLogger, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			logPanic(name, r, logger)
		}
	}()
	fn()
	return false
}

func logPanic(name string, r interface{}, logger *zap.SugaredLogger) {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	if logger == nil {
		fmt.Fprintf(os.Stderr, "PANIC in %s (no logger): %v\n%s\n", name, r, string(buf[:n]))
		return
	}
	logger.Errorw("Panic recovered",
		"component", name,
		"panic", r,
		"stack", string(buf[:n]))
}
