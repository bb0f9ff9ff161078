// Package executor dispatches named tasks and raw shell commands to remote
// hosts. It is a transport: task semantics are opaque to callers, which only
// see per-target success or failure plus captured output.
package executor

import (
	"context"
	"io/fs"

	"github.com/puppetline/puppetline/internal/model"
)

// Target is an addressable remote host.
type Target string

// Executor runs named tasks or literal shell commands against one or more
// targets and moves files to and from them. Implementations never retry;
// the caller decides whether a failure halts its sequence.
type Executor interface {
	// RunTask dispatches a named task with structured arguments. Every
	// target reports before RunTask returns; any target's failure makes
	// the returned error non-nil, but all results are still surfaced.
	RunTask(ctx context.Context, task string, targets []Target, args map[string]any) ([]model.ActionResult, error)

	// RunCommand dispatches a literal shell command line.
	RunCommand(ctx context.Context, command string, targets []Target) ([]model.ActionResult, error)

	// Upload writes data to path on the target, creating the parent
	// directory and overwriting prior content.
	Upload(ctx context.Context, target Target, path string, data []byte, mode fs.FileMode) error

	// Download reads the file at path on the target.
	Download(ctx context.Context, target Target, path string) ([]byte, error)
}

// First returns the first result of a single-target invocation, or a zero
// result when the slice is empty. The provisioning topology is fixed to one
// host per call, so step code reads results through this.
func First(results []model.ActionResult) model.ActionResult {
	if len(results) == 0 {
		return model.ActionResult{Status: model.StatusFailed, Message: "no result reported"}
	}
	return results[0]
}
