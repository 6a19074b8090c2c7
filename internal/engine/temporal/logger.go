package temporal

import (
	"errors"

	"github.com/go-logr/logr"
	"go.temporal.io/sdk/log"
)

// logrAdapter bridges a logr.Logger into the four-level log.Logger interface
// the Temporal worker expects, so callers configure Temporal's worker
// logging the same way they configure every other component: one
// telemetry.Logger-backed logr.Logger, not a second logging stack.
type logrAdapter struct {
	l logr.Logger
}

// NewLogger wraps l for use as a Temporal worker.Options.Logger.
func NewLogger(l logr.Logger) log.Logger {
	return logrAdapter{l: l}
}

func (a logrAdapter) Debug(msg string, keyvals ...interface{}) {
	a.l.V(1).Info(msg, keyvals...)
}

func (a logrAdapter) Info(msg string, keyvals ...interface{}) {
	a.l.V(0).Info(msg, keyvals...)
}

func (a logrAdapter) Warn(msg string, keyvals ...interface{}) {
	a.l.V(0).Info("WARN: "+msg, keyvals...)
}

func (a logrAdapter) Error(msg string, keyvals ...interface{}) {
	a.l.Error(errors.New(msg), msg, keyvals...)
}
