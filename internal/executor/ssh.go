package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/puppetline/puppetline/internal/config"
	"github.com/puppetline/puppetline/internal/model"
)

const defaultDialTimeout = 10 * time.Second

// SSH executes tasks and commands over SSH with key-based authentication.
// Connections are dialed per call; the provisioning sequence is long-lived
// relative to connection setup and a dropped agent restart mid-run must not
// poison later steps with a stale session.
type SSH struct {
	settings config.SSHSettings
	signer   ssh.Signer

	// DialTimeout bounds TCP connection establishment. Zero means the
	// package default.
	DialTimeout time.Duration

	// HostKeyCallback handles host key verification. Nil falls back to
	// accepting any host key, which matches how freshly imaged hosts are
	// reached before their keys are known.
	HostKeyCallback ssh.HostKeyCallback
}

// NewSSH builds an SSH executor from transport settings, loading and
// parsing the identity file once.
func NewSSH(settings config.SSHSettings) (*SSH, error) {
	if settings.IdentityFile == "" {
		return nil, fmt.Errorf("ssh identity_file is required")
	}

	keyData, err := os.ReadFile(settings.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("read ssh identity file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse ssh identity file: %w", err)
	}

	return &SSH{settings: settings, signer: signer}, nil
}

var _ Executor = (*SSH)(nil)

// RunTask renders the named task into a command line and dispatches it.
func (e *SSH) RunTask(ctx context.Context, task string, targets []Target, args map[string]any) ([]model.ActionResult, error) {
	command, err := renderTask(task, args)
	if err != nil {
		return nil, err
	}
	return e.RunCommand(ctx, command, targets)
}

// RunCommand executes a command line on every target concurrently. All
// targets report before RunCommand returns; a failed member fails the call
// but every result is surfaced.
func (e *SSH) RunCommand(ctx context.Context, command string, targets []Target) ([]model.ActionResult, error) {
	results := make([]model.ActionResult, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			results[i] = e.runOnTarget(ctx, target, command)
		}(i, target)
	}
	wg.Wait()

	for _, r := range results {
		if !r.OK() {
			return results, fmt.Errorf("command failed on %s: %s", r.Target, r.Message)
		}
	}
	return results, nil
}

// Upload writes data to remotePath on the target, creating the parent
// directory first and fixing the file mode afterwards.
func (e *SSH) Upload(ctx context.Context, target Target, remotePath string, data []byte, mode fs.FileMode) error {
	client, err := e.dial(ctx, target)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session on %s: %w", target, err)
	}
	defer func() { _ = session.Close() }()

	session.Stdin = bytes.NewReader(data)
	command := fmt.Sprintf("mkdir -p %s && cat > %s && chmod %04o %s",
		shQuote(path.Dir(remotePath)), shQuote(remotePath), mode.Perm(), shQuote(remotePath))

	if output, err := session.CombinedOutput(command); err != nil {
		return fmt.Errorf("upload to %s:%s: %w: %s", target, remotePath, err, string(output))
	}
	return nil
}

// Download reads the file at remotePath on the target.
func (e *SSH) Download(ctx context.Context, target Target, remotePath string) ([]byte, error) {
	client, err := e.dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session on %s: %w", target, err)
	}
	defer func() { _ = session.Close() }()

	output, err := session.Output("cat " + shQuote(remotePath))
	if err != nil {
		return nil, fmt.Errorf("download %s:%s: %w", target, remotePath, err)
	}
	return output, nil
}

func (e *SSH) runOnTarget(ctx context.Context, target Target, command string) model.ActionResult {
	result := model.ActionResult{Target: string(target)}

	client, err := e.dial(ctx, target)
	if err != nil {
		result.Status = model.StatusFailed
		result.Message = err.Error()
		return result
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		result.Status = model.StatusFailed
		result.Message = fmt.Sprintf("ssh session: %v", err)
		return result
	}
	defer func() { _ = session.Close() }()

	output, err := session.CombinedOutput(command)
	result.Output = string(output)
	if err != nil {
		result.Status = model.StatusFailed
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.Message = fmt.Sprintf("exit status %d", exitErr.ExitStatus())
		} else {
			result.Message = err.Error()
		}
		return result
	}

	result.Status = model.StatusSuccess
	return result
}

func (e *SSH) dial(ctx context.Context, target Target) (*ssh.Client, error) {
	timeout := e.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	hostKeyCallback := e.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // hosts are reached before their keys are known
	}

	clientConfig := &ssh.ClientConfig{
		User:            e.settings.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", target, e.settings.Port)
	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	return client, nil
}
