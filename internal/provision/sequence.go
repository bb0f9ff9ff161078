// Package provision drives the compile-master bring-up sequence: a fixed,
// ordered list of remote steps against one target host and its
// master-of-masters. Steps fail fast; there is no rollback and no retry at
// this layer.
package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/puppetline/puppetline/internal/apply"
	"github.com/puppetline/puppetline/internal/config"
	"github.com/puppetline/puppetline/internal/executor"
	"github.com/puppetline/puppetline/internal/facts"
	"github.com/puppetline/puppetline/internal/logger"
	"github.com/puppetline/puppetline/internal/model"
	"github.com/puppetline/puppetline/internal/puppet"
	"github.com/puppetline/puppetline/internal/registrar"
	plerrors "github.com/puppetline/puppetline/pkg/errors"
)

// Registrar registers the deploy key with the source-control host.
type Registrar interface {
	Register(ctx context.Context, req registrar.RegisterRequest) error
}

// Sequence owns step ordering, conditional gating, and failure propagation
// for one provisioning run.
type Sequence struct {
	exec      executor.Executor
	applier   apply.Applier
	facts     *facts.Writer
	registrar Registrar
	sleeper   Sleeper
	log       *logger.Logger
}

// Option adjusts Sequence construction.
type Option func(*Sequence)

// WithSleeper replaces the real clock used for settle waits and poll
// intervals.
func WithSleeper(sleeper Sleeper) Option {
	return func(s *Sequence) {
		s.sleeper = sleeper
	}
}

// New assembles a Sequence from its collaborators. reg may be nil when the
// request does not manage a deploy key.
func New(exec executor.Executor, applier apply.Applier, factsWriter *facts.Writer, reg Registrar, log *logger.Logger, opts ...Option) *Sequence {
	s := &Sequence{
		exec:      exec,
		applier:   applier,
		facts:     factsWriter,
		registrar: reg,
		sleeper:   ClockSleeper{},
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// step is one unit of the fixed sequence. Disabled steps are reported as
// skipped and their run closure is never invoked, so gated request values
// are never read when their toggle is off.
type step struct {
	id      string
	target  executor.Target
	enabled bool
	run     func(ctx context.Context) (string, error)
}

// Execute runs the full sequence for the request. The outcome is either
// completed, or failed at a named step with the remote output preserved.
func (s *Sequence) Execute(ctx context.Context, req *config.Request) model.RunOutcome {
	started := time.Now()
	var outcome model.RunOutcome

	if err := config.ValidateRequest(req); err != nil {
		outcome.Err = err
		outcome.Duration = time.Since(started)
		return outcome
	}

	s.log.WithFields(map[string]any{"target": req.Target, "mom": req.MomFQDN}).Info("provisioning compile master")

	for _, st := range s.plan(req) {
		result := model.StepResult{StepID: st.id, Target: string(st.target), Timestamp: time.Now()}

		if !st.enabled {
			result.Status = model.StatusSkipped
			result.Message = "gated off by request toggle"
			outcome.Steps = append(outcome.Steps, result)
			continue
		}

		stepLog := s.log.WithStep(st.id, string(st.target))
		stepLog.Info("step started")

		stepStart := time.Now()
		output, err := st.run(ctx)
		result.Duration = time.Since(stepStart)

		if err != nil {
			result.Status = model.StatusFailed
			result.Error = err
			result.Message = err.Error()
			outcome.Steps = append(outcome.Steps, result)
			outcome.FailedStep = st.id
			outcome.Err = plerrors.NewStepError(st.id, string(st.target), output, err)
			outcome.Duration = time.Since(started)
			stepLog.Error(err, "step failed, halting sequence")
			return outcome
		}

		result.Status = model.StatusSuccess
		outcome.Steps = append(outcome.Steps, result)
		stepLog.Info("step completed")
	}

	outcome.Completed = true
	outcome.Duration = time.Since(started)
	s.log.Info("provisioning completed")
	return outcome
}

// plan materializes the fixed step list for the request. Order is not
// negotiable: certificate signing must follow agent start, key generation
// must follow agent stop, and the deploy-key registration pair shares one
// gate.
func (s *Sequence) plan(req *config.Request) []step {
	target := executor.Target(req.Target)
	mom := executor.Target(req.MomFQDN)

	return []step{
		{
			id:      "install_release_package",
			target:  target,
			enabled: req.ManagePosRelease,
			run: func(ctx context.Context) (string, error) {
				return s.runTask(ctx, executor.TaskPackage, target, map[string]any{"name": req.PosReleasePackage})
			},
		},
		{
			id:      "register_mom_hosts_entry",
			target:  target,
			enabled: req.ManageMomHosts,
			run: func(ctx context.Context) (string, error) {
				return s.runCommand(ctx, puppet.HostsEntry(req.MomIPAddress, req.MomFQDN), target)
			},
		},
		{
			id:      "install_agent",
			target:  target,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return s.runTask(ctx, executor.TaskPackage, target, map[string]any{"name": puppet.AgentPackage})
			},
		},
		{
			id:      "configure_agent_server",
			target:  target,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return s.runCommand(ctx, puppet.ConfigSet("agent", "server", req.MomFQDN), target)
			},
		},
		{
			id:      "configure_ca_server",
			target:  target,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return s.runCommand(ctx, puppet.ConfigSet("main", "ca_server", req.MomFQDN), target)
			},
		},
		{
			id:      "configure_dns_alt_names",
			target:  target,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return s.runCommand(ctx, puppet.ConfigSet("main", "dns_alt_names", puppet.JoinAltNames(req.DNSAltNames)), target)
			},
		},
		{
			id:      "start_agent",
			target:  target,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return s.runTask(ctx, executor.TaskService, target, map[string]any{"name": puppet.AgentService, "action": "start"})
			},
		},
		{
			// Runs against the MoM: the only step with a different
			// destination. The started agent needs time to submit its
			// signing request, so the waiter gates the sign command.
			id:      "sign_certificate",
			target:  mom,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				waiter := &certWaiter{exec: s.exec, mom: mom, settings: req.CertWait, sleeper: s.sleeper, log: s.log}
				if err := waiter.Wait(ctx, req.Target); err != nil {
					return "", err
				}
				return s.runCommand(ctx, puppet.CASign(req.Target), mom)
			},
		},
		{
			id:      "prepare_apply",
			target:  target,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return "", s.applier.Prep(ctx, target)
			},
		},
		{
			id:      "apply_site_bundle",
			target:  target,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return "", s.applier.Apply(ctx, target, req.Apply.Manifest)
			},
		},
		{
			// Later steps rewrite configuration and keys on disk and must
			// not race a running agent.
			id:      "stop_agent",
			target:  target,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return s.runTask(ctx, executor.TaskService, target, map[string]any{"name": puppet.AgentService, "action": "stop"})
			},
		},
		{
			id:      "generate_deploy_key",
			target:  target,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return s.runCommand(ctx, puppet.GenerateKeyPair(req.PrivateKeyPath), target)
			},
		},
		{
			id:      "install_deploy_key",
			target:  target,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return s.runCommand(ctx, puppet.InstallKeyPair(req.PrivateKeyPath, config.ServerSSHDir), target)
			},
		},
		{
			id:      "write_site_role_fact",
			target:  target,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return "", s.facts.WriteSiteRoles(ctx, target, config.SiteRoleFactPath, []string{req.SiteRole})
			},
		},
		{
			id:      "agent_onetime_run",
			target:  target,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return s.runCommand(ctx, puppet.OnetimeRun(), target)
			},
		},
		{
			id:      "register_deploy_key",
			target:  target,
			enabled: req.ManageGithubDeployKey,
			run: func(ctx context.Context) (string, error) {
				if s.registrar == nil {
					return "", fmt.Errorf("deploy key management requested but no registrar configured")
				}
				publicKey, err := s.exec.Download(ctx, target, req.PublicKeyPath())
				if err != nil {
					return "", err
				}
				return "", s.registrar.Register(ctx, registrar.RegisterRequest{
					Title:   req.Github.DeployKeyName,
					Key:     string(publicKey),
					Owner:   req.Github.User,
					Project: req.Github.Project,
				})
			},
		},
		{
			// Same gate as register_deploy_key: the deploy tooling needs
			// the key to pull the control repository.
			id:      "deploy_environments",
			target:  target,
			enabled: req.ManageGithubDeployKey,
			run: func(ctx context.Context) (string, error) {
				return s.runCommand(ctx, puppet.DeployEnvironments(), target)
			},
		},
		{
			id:      "enable_agent",
			target:  target,
			enabled: true,
			run: func(ctx context.Context) (string, error) {
				return s.runTask(ctx, executor.TaskService, target, map[string]any{"name": puppet.AgentService, "action": "enable"})
			},
		},
	}
}

func (s *Sequence) runTask(ctx context.Context, task string, target executor.Target, args map[string]any) (string, error) {
	results, err := s.exec.RunTask(ctx, task, []executor.Target{target}, args)
	return executor.First(results).Output, err
}

func (s *Sequence) runCommand(ctx context.Context, command string, target executor.Target) (string, error) {
	results, err := s.exec.RunCommand(ctx, command, []executor.Target{target})
	return executor.First(results).Output, err
}
