// Package checker implements the per-kind check strategies. Every
// strategy produces a uniform CheckResult; failures of any nature are
// reported in the result status, never as a Go error, so the scheduler
// can feed every outcome through the same state machine.
package checker

import (
	"context"
	"fmt"
	"time"

	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/pkg/models"
)

// Checker executes one check against a target.
type Checker interface {
	Kind() models.TargetKind
	Execute(ctx context.Context, target *models.Target) *models.CheckResult
}

// Factory dispatches targets to the checker registered for their kind.
type Factory struct {
	checkers map[models.TargetKind]Checker
	logger   *logging.Logger
}

// NewFactory builds the standard strategy set. defaultTimeout bounds a
// single check when the target carries no timeout override.
func NewFactory(logger *logging.Logger, defaultTimeout time.Duration) *Factory {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}

	api := NewAPIChecker(logger, defaultTimeout)
	ip := NewIPChecker(logger, defaultTimeout)
	hostname := NewHostnameChecker(logger, ip)

	return &Factory{
		checkers: map[models.TargetKind]Checker{
			models.KindAPI:      api,
			models.KindIP:       ip,
			models.KindHostname: hostname,
		},
		logger: logger,
	}
}

// For returns the checker for a kind, or nil when none is registered.
func (f *Factory) For(kind models.TargetKind) Checker {
	return f.checkers[kind]
}

// Execute runs the appropriate strategy for the target. An unknown kind
// yields an error result rather than a panic so a corrupt registry
// entry degrades to a failing check.
func (f *Factory) Execute(ctx context.Context, target *models.Target) *models.CheckResult {
	c := f.checkers[target.Kind]
	if c == nil {
		f.logger.WithComponent(logging.ComponentChecker).
			WithFields(map[string]interface{}{"target_id": target.ID, "kind": string(target.Kind)}).
			Error("No checker registered for target kind")
		return models.ErrorResult(fmt.Sprintf("unknown target kind: %s", target.Kind), nil)
	}
	return c.Execute(ctx, target)
}

// timeoutFor resolves the per-check timeout: a positive "timeout"
// custom parameter (seconds) wins over the configured default.
func timeoutFor(target *models.Target, def time.Duration) time.Duration {
	if secs := target.ParamInt("timeout", 0); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}
