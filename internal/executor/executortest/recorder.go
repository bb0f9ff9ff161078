// Package executortest provides a scripted, recording Executor for tests.
// Every invocation is recorded in order so tests can assert exact step
// sequences and interaction counts without a live transport.
package executortest

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/puppetline/puppetline/internal/executor"
	"github.com/puppetline/puppetline/internal/model"
)

// Call kinds recorded by the Recorder.
const (
	KindTask     = "task"
	KindCommand  = "command"
	KindUpload   = "upload"
	KindDownload = "download"
)

// Call is one recorded Executor invocation.
type Call struct {
	Kind    string
	Task    string
	Command string
	Targets []executor.Target
	Args    map[string]any
	Path    string
	Data    []byte
	Mode    fs.FileMode
}

// Recorder implements executor.Executor, recording calls and returning
// scripted results.
type Recorder struct {
	mu    sync.Mutex
	calls []Call

	// FailTasks maps a task name to a failure message; matching RunTask
	// invocations fail with it.
	FailTasks map[string]string

	// FailCommandsContaining lists substrings; a RunCommand whose command
	// line contains one fails.
	FailCommandsContaining []string

	// Files backs Download and receives Upload content, keyed by remote path.
	Files map[string][]byte

	// CommandOutput, when set, scripts the captured output of successful
	// commands.
	CommandOutput func(command string) string
}

var _ executor.Executor = (*Recorder)(nil)

// NewRecorder returns an empty Recorder with no scripted failures.
func NewRecorder() *Recorder {
	return &Recorder{Files: make(map[string][]byte)}
}

func (r *Recorder) RunTask(ctx context.Context, task string, targets []executor.Target, args map[string]any) ([]model.ActionResult, error) {
	r.record(Call{Kind: KindTask, Task: task, Targets: targets, Args: args})

	if msg, ok := r.FailTasks[task]; ok {
		return failedResults(targets, msg), fmt.Errorf("task %s failed: %s", task, msg)
	}
	return successResults(targets, ""), nil
}

func (r *Recorder) RunCommand(ctx context.Context, command string, targets []executor.Target) ([]model.ActionResult, error) {
	r.record(Call{Kind: KindCommand, Command: command, Targets: targets})

	for _, substr := range r.FailCommandsContaining {
		if strings.Contains(command, substr) {
			return failedResults(targets, "exit status 1"), fmt.Errorf("command failed: %s", command)
		}
	}

	output := ""
	if r.CommandOutput != nil {
		output = r.CommandOutput(command)
	}
	return successResults(targets, output), nil
}

func (r *Recorder) Upload(ctx context.Context, target executor.Target, path string, data []byte, mode fs.FileMode) error {
	r.record(Call{Kind: KindUpload, Targets: []executor.Target{target}, Path: path, Data: data, Mode: mode})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Files == nil {
		r.Files = make(map[string][]byte)
	}
	r.Files[path] = data
	return nil
}

func (r *Recorder) Download(ctx context.Context, target executor.Target, path string) ([]byte, error) {
	r.record(Call{Kind: KindDownload, Targets: []executor.Target{target}, Path: path})

	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.Files[path]
	if !ok {
		return nil, fmt.Errorf("no such file on %s: %s", target, path)
	}
	return data, nil
}

// Calls returns every recorded invocation in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Interactions returns only the RunTask and RunCommand invocations, in
// order. File transfers travel on a separate channel and are not remote
// interactions in the counting sense.
func (r *Recorder) Interactions() []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Kind == KindTask || c.Kind == KindCommand {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls, keeping scripted behavior.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func successResults(targets []executor.Target, output string) []model.ActionResult {
	results := make([]model.ActionResult, len(targets))
	for i, t := range targets {
		results[i] = model.ActionResult{Target: string(t), Status: model.StatusSuccess, Output: output}
	}
	return results
}

func failedResults(targets []executor.Target, msg string) []model.ActionResult {
	results := make([]model.ActionResult, len(targets))
	for i, t := range targets {
		results[i] = model.ActionResult{Target: string(t), Status: model.StatusFailed, Message: msg, Output: msg}
	}
	return results
}
