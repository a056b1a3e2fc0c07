package backends

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// CallFunc performs one attempt against a concrete backend. It returns
// nil on success, a TransientError to trigger cascading, or a FatalError
// (or any other error) to abort the cascade.
type CallFunc func(ctx context.Context, backend string) error

// Executor walks a fallback chain until a call succeeds.
type Executor struct {
	resolver *Resolver
	logger   *zap.Logger
}

// NewExecutor wraps a resolver. A nil logger is replaced with a no-op.
func NewExecutor(resolver *Resolver, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{resolver: resolver, logger: logger}
}

// Execute tries call against the primary backend and then each fallback
// in chain order. It stops at the first success and returns the backend
// that served the call, so the caller can commit to it for the rest of
// the run. Transient failures cascade; any other failure aborts
// immediately. When the whole chain fails transiently the returned error
// wraps ErrAllBackendsExhausted.
func (e *Executor) Execute(ctx context.Context, primary string, call CallFunc) (string, error) {
	chain := e.resolver.Resolve(primary)
	var lastErr error
	for i, backend := range chain {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := call(ctx, backend)
		if err == nil {
			if i > 0 {
				e.logger.Info("backend fallback succeeded",
					zap.String("primary", primary),
					zap.String("backend", backend),
					zap.Int("attempts", i+1))
			}
			return backend, nil
		}
		if !IsTransient(err) {
			return "", err
		}
		e.logger.Warn("backend unavailable, cascading",
			zap.String("primary", primary),
			zap.String("backend", backend),
			zap.Int("position", i),
			zap.Error(err))
		lastErr = err
	}
	return "", fmt.Errorf("%w: chain of %d starting at %s, last error: %v",
		ErrAllBackendsExhausted, len(chain), primary, lastErr)
}
