// Package recovery turns panics in main and in producer goroutines into a
// logged fatal exit.
package recovery

import (
	"fmt"
	"os"
	"runtime/debug"

	"go.uber.org/zap"
)

// exit is swapped out by tests
var exit = os.Exit

// HandlePanic should be deferred at the top of main().
// It prints the panic and stack to stderr and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		_, _ = fmt.Fprintf(os.Stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
		exit(1)
	}
}

// HandlePanicFunc is HandlePanic for goroutines that own resources: cleanup
// runs before the process exits.
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		_, _ = fmt.Fprintf(os.Stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
		if cleanup != nil {
			cleanup()
		}
		exit(1)
	}
}

// HandlePanicLog reports the panic through log (falling back to stderr when
// log is nil), flushes it, runs cleanup and exits.
//
//	go func() {
//		defer recovery.HandlePanicLog(log, func() { close(done) })
//		consume(ctx)
//	}()
func HandlePanicLog(log *zap.Logger, cleanup func()) {
	r := recover()
	if r == nil {
		return
	}
	if log == nil {
		_, _ = fmt.Fprintf(os.Stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
	} else {
		log.Error("panic",
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
		_ = log.Sync()
	}
	if cleanup != nil {
		cleanup()
	}
	exit(1)
}
