// Package apply models the site-configuration bundle as an opaque
// capability: preparing a target for local application and applying the
// bundle, with success or failure as the only observable outcome.
package apply

import (
	"context"
	"fmt"

	"github.com/puppetline/puppetline/internal/executor"
)

// Applier applies a declarative configuration bundle to a target. Prep must
// run once per target before the first Apply.
type Applier interface {
	Prep(ctx context.Context, target executor.Target) error
	Apply(ctx context.Context, target executor.Target, manifest string) error
}

// TaskApplier implements Applier over the executor's task vocabulary.
type TaskApplier struct {
	exec executor.Executor
}

// NewTaskApplier constructs a TaskApplier.
func NewTaskApplier(exec executor.Executor) *TaskApplier {
	return &TaskApplier{exec: exec}
}

var _ Applier = (*TaskApplier)(nil)

// Prep readies the target for local configuration application.
func (a *TaskApplier) Prep(ctx context.Context, target executor.Target) error {
	if _, err := a.exec.RunTask(ctx, executor.TaskApplyPrep, []executor.Target{target}, nil); err != nil {
		return fmt.Errorf("prepare %s for apply: %w", target, err)
	}
	return nil
}

// Apply reconciles the target against the manifest. What the bundle changes
// is opaque here; only the outcome is observed.
func (a *TaskApplier) Apply(ctx context.Context, target executor.Target, manifest string) error {
	args := map[string]any{"manifest": manifest}
	if _, err := a.exec.RunTask(ctx, executor.TaskApply, []executor.Target{target}, args); err != nil {
		return fmt.Errorf("apply bundle on %s: %w", target, err)
	}
	return nil
}
