package xordrive

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
)

// PanicHandler is called when a panic is recovered.
// It receives the panic value and stack trace.
type PanicHandler func(panicVal interface{}, stack []byte)

// RecoveryConfig configures panic recovery behavior.
type RecoveryConfig struct {
	// Handler is called when a panic is recovered.
	// If nil, panics are logged and the goroutine terminates cleanly.
	Handler PanicHandler

	// Logger for recording recovered panics.
	Logger *zap.Logger

	// Rethrow causes the panic to be re-raised after handling.
	// Use this if you want panics to propagate after logging.
	Rethrow bool
}

// GoWithRecovery starts a goroutine with panic recovery.
func GoWithRecovery(cfg RecoveryConfig, fn func()) {
	go func() {
		defer RecoverPanic(cfg)
		fn()
	}()
}

// GoWithRecoveryCtx starts a goroutine with panic recovery and context.
// The function receives the context and can check for cancellation.
func GoWithRecoveryCtx(ctx context.Context, cfg RecoveryConfig, fn func(context.Context)) {
	go func() {
		defer RecoverPanic(cfg)
		fn(ctx)
	}()
}

// RecoverPanic recovers from panics and handles them according to config.
// Use as: defer RecoverPanic(cfg)
func RecoverPanic(cfg RecoveryConfig) {
	if r := recover(); r != nil {
		stack := debug.Stack()

		if cfg.Logger != nil {
			cfg.Logger.Error("recovered panic",
				zap.Any("panic", r),
				zap.ByteString("stack", stack))
		}

		if cfg.Handler != nil {
			cfg.Handler(r, stack)
		}

		if cfg.Rethrow {
			panic(r)
		}
	}
}

// SafeGo starts a goroutine with panic recovery using a simple logger.
// This is a convenience wrapper for common cases.
func SafeGo(logger *zap.Logger, fn func()) {
	GoWithRecovery(RecoveryConfig{Logger: logger}, fn)
}

// SafeGoCtx starts a goroutine with panic recovery using a simple logger and context.
func SafeGoCtx(ctx context.Context, logger *zap.Logger, fn func(context.Context)) {
	GoWithRecoveryCtx(ctx, RecoveryConfig{Logger: logger}, fn)
}

// NewRecoveryMiddleware wraps hooks with panic recovery. A panicking hook
// must never take down the owner task of the fetcher or accumulator.
func NewRecoveryMiddleware(hooks *Hooks, logger *zap.Logger) *Hooks {
	if hooks == nil {
		return nil
	}

	wrapped := hooks.Clone()

	// Wrap each hook with recovery
	if wrapped.OnFetchPromoted != nil {
		original := wrapped.OnFetchPromoted
		wrapped.OnFetchPromoted = func(e FetchPromotedEvent) {
			defer RecoverPanic(RecoveryConfig{Logger: logger})
			original(e)
		}
	}

	if wrapped.OnFetchTimedOut != nil {
		original := wrapped.OnFetchTimedOut
		wrapped.OnFetchTimedOut = func(e FetchTimedOutEvent) {
			defer RecoverPanic(RecoveryConfig{Logger: logger})
			original(e)
		}
	}

	if wrapped.OnKeysOutOfRange != nil {
		original := wrapped.OnKeysOutOfRange
		wrapped.OnKeysOutOfRange = func(e KeysOutOfRangeEvent) {
			defer RecoverPanic(RecoveryConfig{Logger: logger})
			original(e)
		}
	}

	if wrapped.OnRecordResolved != nil {
		original := wrapped.OnRecordResolved
		wrapped.OnRecordResolved = func(e RecordResolvedEvent) {
			defer RecoverPanic(RecoveryConfig{Logger: logger})
			original(e)
		}
	}

	if wrapped.OnSplitRecordDetected != nil {
		original := wrapped.OnSplitRecordDetected
		wrapped.OnSplitRecordDetected = func(e SplitRecordDetectedEvent) {
			defer RecoverPanic(RecoveryConfig{Logger: logger})
			original(e)
		}
	}

	if wrapped.OnDoubleSpendDetected != nil {
		original := wrapped.OnDoubleSpendDetected
		wrapped.OnDoubleSpendDetected = func(e DoubleSpendDetectedEvent) {
			defer RecoverPanic(RecoveryConfig{Logger: logger})
			original(e)
		}
	}

	if wrapped.OnDagVerified != nil {
		original := wrapped.OnDagVerified
		wrapped.OnDagVerified = func(e DagVerifiedEvent) {
			defer RecoverPanic(RecoveryConfig{Logger: logger})
			original(e)
		}
	}

	return wrapped
}
