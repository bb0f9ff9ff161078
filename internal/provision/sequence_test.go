package provision

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puppetline/puppetline/internal/apply"
	"github.com/puppetline/puppetline/internal/config"
	"github.com/puppetline/puppetline/internal/executor/executortest"
	"github.com/puppetline/puppetline/internal/facts"
	"github.com/puppetline/puppetline/internal/logger"
	"github.com/puppetline/puppetline/internal/model"
	"github.com/puppetline/puppetline/internal/registrar"
	plerrors "github.com/puppetline/puppetline/pkg/errors"
)

type fakeSleeper struct {
	durations []time.Duration
	onSleep   func()
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.durations = append(f.durations, d)
	if f.onSleep != nil {
		f.onSleep()
	}
	return nil
}

type fakeRegistrar struct {
	requests []registrar.RegisterRequest
	err      error
}

func (f *fakeRegistrar) Register(ctx context.Context, req registrar.RegisterRequest) error {
	f.requests = append(f.requests, req)
	return f.err
}

func quietLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Options{Level: "error", Writer: io.Discard})
	require.NoError(t, err)
	return log
}

func newSequence(t *testing.T, rec *executortest.Recorder, reg Registrar, sleeper Sleeper) *Sequence {
	t.Helper()
	return New(rec, apply.NewTaskApplier(rec), facts.NewWriter(rec), reg, quietLogger(t), WithSleeper(sleeper))
}

// baseRequest uses the fixed settle strategy so the interaction counts
// below match the legacy scenario; the poll strategy adds MoM probe reads
// and is covered by the waiter tests.
func baseRequest() *config.Request {
	req := &config.Request{
		Target:      "compile1.example.com",
		MomFQDN:     "mom.example.com",
		DNSAltNames: []string{"compile1.example.com", "puppet"},
	}
	req.ApplyDefaults()
	req.CertWait.Strategy = config.CertWaitFixed
	return req
}

func allTogglesRequest() *config.Request {
	req := baseRequest()
	req.ManagePosRelease = true
	req.PosReleasePackage = "puppet7-release"
	req.ManageMomHosts = true
	req.MomIPAddress = "10.0.0.5"
	req.ManageGithubDeployKey = true
	req.Github = config.GithubSettings{
		DeployKeyName: "compile1 deploy key",
		Token:         "ghp_test",
		User:          "ops",
		Project:       "control-repo",
		Server:        config.DefaultGithubServer,
	}
	return req
}

func interactionSummaries(rec *executortest.Recorder) []string {
	var out []string
	for _, c := range rec.Interactions() {
		switch c.Kind {
		case executortest.KindTask:
			name, _ := c.Args["name"].(string)
			action, _ := c.Args["action"].(string)
			out = append(out, strings.TrimSpace("task:"+c.Task+" "+name+" "+action))
		case executortest.KindCommand:
			out = append(out, "cmd:"+c.Command)
		}
	}
	return out
}

func TestExecuteScenarioAMinimalToggles(t *testing.T) {
	t.Parallel()

	rec := executortest.NewRecorder()
	sleeper := &fakeSleeper{}
	seq := newSequence(t, rec, nil, sleeper)

	outcome := seq.Execute(context.Background(), baseRequest())
	require.True(t, outcome.Completed, "outcome: %+v", outcome.Err)

	interactions := rec.Interactions()
	require.Len(t, interactions, 13)

	summaries := interactionSummaries(rec)
	expected := []string{
		"task:package puppet-agent",
		"cmd:/opt/puppetlabs/bin/puppet config set server 'mom.example.com' --section agent",
		"cmd:/opt/puppetlabs/bin/puppet config set ca_server 'mom.example.com' --section main",
		"cmd:/opt/puppetlabs/bin/puppet config set dns_alt_names 'compile1.example.com,puppet' --section main",
		"task:service puppet start",
		"cmd:/opt/puppetlabs/bin/puppetserver ca sign --certname 'compile1.example.com'",
		"task:apply_prep",
		"task:apply",
		"task:service puppet stop",
		"cmd:rm -f '/root/.ssh/id-control_repo.rsa' '/root/.ssh/id-control_repo.rsa.pub' && ssh-keygen -q -t rsa -b 4096 -N '' -f '/root/.ssh/id-control_repo.rsa'",
		"cmd:mkdir -p '/etc/puppetlabs/puppetserver/ssh' && chmod 0700 '/etc/puppetlabs/puppetserver/ssh' && cp '/root/.ssh/id-control_repo.rsa' '/root/.ssh/id-control_repo.rsa.pub' '/etc/puppetlabs/puppetserver/ssh'/",
		"cmd:/opt/puppetlabs/bin/puppet agent --onetime --no-daemonize --verbose --no-splay --no-usecacheonfailure --show_diff",
		"task:service puppet enable",
	}
	assert.Equal(t, expected, summaries)

	// The signing command addresses the MoM; everything else the target.
	assert.Equal(t, "mom.example.com", string(interactions[5].Targets[0]))
	for i, c := range interactions {
		if i == 5 {
			continue
		}
		assert.Equal(t, "compile1.example.com", string(c.Targets[0]), "interaction %d", i)
	}

	// The fact file travels as a file upload, not a remote interaction.
	var uploads, downloads int
	for _, c := range rec.Calls() {
		switch c.Kind {
		case executortest.KindUpload:
			uploads++
			assert.Equal(t, config.SiteRoleFactPath, c.Path)
			assert.JSONEq(t, `{"site_roles":["compile_master"]}`, string(c.Data))
		case executortest.KindDownload:
			downloads++
		}
	}
	assert.Equal(t, 1, uploads)
	assert.Zero(t, downloads, "no registrar fetch without the deploy key toggle")
}

func TestExecuteScenarioBAllToggles(t *testing.T) {
	t.Parallel()

	rec := executortest.NewRecorder()
	rec.Files["/root/.ssh/id-control_repo.rsa.pub"] = []byte("ssh-rsa AAAAB3Nza root@compile1\n")
	sleeper := &fakeSleeper{}
	reg := &fakeRegistrar{}
	seq := newSequence(t, rec, reg, sleeper)

	outcome := seq.Execute(context.Background(), allTogglesRequest())
	require.True(t, outcome.Completed, "outcome: %+v", outcome.Err)

	summaries := interactionSummaries(rec)
	require.Len(t, summaries, 16)

	assert.Equal(t, "task:package puppet7-release", summaries[0])
	assert.Equal(t, "cmd:echo '10.0.0.5 mom.example.com' >> /etc/hosts", summaries[1])
	assert.Equal(t, "task:package puppet-agent", summaries[2])
	assert.Equal(t, "cmd:/opt/puppetlabs/puppet/bin/r10k deploy environment --puppetfile", summaries[14])
	assert.Equal(t, "task:service puppet enable", summaries[15])

	// Registrar got the public half of the generated pair.
	require.Len(t, reg.requests, 1)
	assert.Equal(t, "compile1 deploy key", reg.requests[0].Title)
	assert.Equal(t, "ops", reg.requests[0].Owner)
	assert.Equal(t, "control-repo", reg.requests[0].Project)
	assert.Equal(t, "ssh-rsa AAAAB3Nza root@compile1\n", reg.requests[0].Key)

	// The public key fetch happens after the one-shot run and before the
	// environment deployment.
	calls := rec.Calls()
	var downloadIdx, onetimeIdx, deployIdx int
	for i, c := range calls {
		switch {
		case c.Kind == executortest.KindDownload:
			downloadIdx = i
			assert.Equal(t, "/root/.ssh/id-control_repo.rsa.pub", c.Path)
		case c.Kind == executortest.KindCommand && strings.Contains(c.Command, "--onetime"):
			onetimeIdx = i
		case c.Kind == executortest.KindCommand && strings.Contains(c.Command, "r10k"):
			deployIdx = i
		}
	}
	assert.Greater(t, downloadIdx, onetimeIdx)
	assert.Greater(t, deployIdx, downloadIdx)
}

func TestReleasePackageNeverInstalledWhenToggleOff(t *testing.T) {
	t.Parallel()

	rec := executortest.NewRecorder()
	seq := newSequence(t, rec, nil, &fakeSleeper{})

	req := baseRequest()
	req.ManagePosRelease = false
	req.PosReleasePackage = "some-release-package-that-must-be-ignored"

	outcome := seq.Execute(context.Background(), req)
	require.True(t, outcome.Completed)

	for _, c := range rec.Interactions() {
		if c.Kind == executortest.KindTask && c.Task == "package" {
			assert.Equal(t, "puppet-agent", c.Args["name"])
		}
	}
}

func TestHostsEntryAppendIsNotDeduplicated(t *testing.T) {
	t.Parallel()

	rec := executortest.NewRecorder()
	seq := newSequence(t, rec, nil, &fakeSleeper{})

	req := baseRequest()
	req.ManageMomHosts = true
	req.MomIPAddress = "10.0.0.5"

	require.True(t, seq.Execute(context.Background(), req).Completed)
	require.True(t, seq.Execute(context.Background(), req).Completed)

	var appends []string
	for _, c := range rec.Interactions() {
		if c.Kind == executortest.KindCommand && strings.Contains(c.Command, "/etc/hosts") {
			appends = append(appends, c.Command)
		}
	}
	require.Len(t, appends, 2, "rerun must append a second line, not deduplicate")
	assert.Equal(t, appends[0], appends[1])
}

func TestSignWaitsForSettleAfterServiceStart(t *testing.T) {
	t.Parallel()

	rec := executortest.NewRecorder()
	var interactionsAtSleep int
	sleeper := &fakeSleeper{}
	sleeper.onSleep = func() {
		interactionsAtSleep = len(rec.Interactions())
	}
	seq := newSequence(t, rec, nil, sleeper)

	outcome := seq.Execute(context.Background(), baseRequest())
	require.True(t, outcome.Completed)

	require.Len(t, sleeper.durations, 1)
	assert.Equal(t, 10*time.Second, sleeper.durations[0])

	// Five interactions precede the settle wait: agent install, three
	// config sets, service start. The sign command is the sixth.
	assert.Equal(t, 5, interactionsAtSleep)
	assert.Contains(t, rec.Interactions()[5].Command, "ca sign")
}

func TestDeployKeyAndEnvironmentDeployShareOneGate(t *testing.T) {
	t.Parallel()

	for _, enabled := range []bool{false, true} {
		rec := executortest.NewRecorder()
		rec.Files["/root/.ssh/id-control_repo.rsa.pub"] = []byte("ssh-rsa AAAA")
		reg := &fakeRegistrar{}
		seq := newSequence(t, rec, reg, &fakeSleeper{})

		req := baseRequest()
		if enabled {
			req.ManageGithubDeployKey = true
			req.Github = config.GithubSettings{
				DeployKeyName: "k", Token: "t", User: "u", Project: "p",
				Server: config.DefaultGithubServer,
			}
		}

		outcome := seq.Execute(context.Background(), req)
		require.True(t, outcome.Completed)

		var deployCmds int
		for _, c := range rec.Interactions() {
			if c.Kind == executortest.KindCommand && strings.Contains(c.Command, "r10k") {
				deployCmds++
			}
		}

		if enabled {
			assert.Len(t, reg.requests, 1)
			assert.Equal(t, 1, deployCmds)
		} else {
			assert.Empty(t, reg.requests)
			assert.Zero(t, deployCmds)
		}
	}
}

func TestPublicKeyPathAlwaysDerivedFromPrivatePath(t *testing.T) {
	t.Parallel()

	rec := executortest.NewRecorder()
	rec.Files["/srv/keys/custom_deploy.pub"] = []byte("ssh-rsa CUSTOM")
	reg := &fakeRegistrar{}
	seq := newSequence(t, rec, reg, &fakeSleeper{})

	req := allTogglesRequest()
	req.PrivateKeyPath = "/srv/keys/custom_deploy"

	outcome := seq.Execute(context.Background(), req)
	require.True(t, outcome.Completed, "outcome: %+v", outcome.Err)

	var downloadPath string
	for _, c := range rec.Calls() {
		if c.Kind == executortest.KindDownload {
			downloadPath = c.Path
		}
	}
	assert.Equal(t, "/srv/keys/custom_deploy.pub", downloadPath)
	require.Len(t, reg.requests, 1)
	assert.Equal(t, "ssh-rsa CUSTOM", reg.requests[0].Key)
}

func TestSigningFailureHaltsSequence(t *testing.T) {
	t.Parallel()

	rec := executortest.NewRecorder()
	rec.FailCommandsContaining = []string{"ca sign"}
	reg := &fakeRegistrar{}
	seq := newSequence(t, rec, reg, &fakeSleeper{})

	outcome := seq.Execute(context.Background(), allTogglesRequest())
	require.False(t, outcome.Completed)
	assert.Equal(t, "sign_certificate", outcome.FailedStep)

	var stepErr *plerrors.StepError
	require.ErrorAs(t, outcome.Err, &stepErr)
	assert.Equal(t, "sign_certificate", stepErr.StepID)
	assert.Equal(t, "mom.example.com", stepErr.Target)

	// Nothing downstream of signing ran: no apply prep, no service stop,
	// no key generation, no fact upload, no registrar call.
	for _, c := range rec.Calls() {
		assert.NotEqual(t, "apply_prep", c.Task)
		if c.Kind == executortest.KindTask && c.Task == "service" {
			assert.NotEqual(t, "stop", c.Args["action"])
		}
		if c.Kind == executortest.KindCommand {
			assert.NotContains(t, c.Command, "ssh-keygen")
		}
		assert.NotEqual(t, executortest.KindUpload, c.Kind)
	}
	assert.Empty(t, reg.requests)

	last := rec.Interactions()[len(rec.Interactions())-1]
	assert.Contains(t, last.Command, "ca sign")
}

func TestExecuteRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	rec := executortest.NewRecorder()
	seq := newSequence(t, rec, nil, &fakeSleeper{})

	req := baseRequest()
	req.ManagePosRelease = true // companion package missing

	outcome := seq.Execute(context.Background(), req)
	require.False(t, outcome.Completed)

	var vErr *plerrors.ValidationError
	require.ErrorAs(t, outcome.Err, &vErr)
	assert.Equal(t, "pos_release_package", vErr.Field)
	assert.Empty(t, rec.Calls(), "validation failures must not touch the target")
}

func TestSkippedStepsAreReported(t *testing.T) {
	t.Parallel()

	rec := executortest.NewRecorder()
	seq := newSequence(t, rec, nil, &fakeSleeper{})

	outcome := seq.Execute(context.Background(), baseRequest())
	require.True(t, outcome.Completed)

	skipped := map[string]bool{}
	for _, s := range outcome.Steps {
		if s.Status == model.StatusSkipped {
			skipped[s.StepID] = true
		}
	}
	assert.Equal(t, map[string]bool{
		"install_release_package":  true,
		"register_mom_hosts_entry": true,
		"register_deploy_key":      true,
		"deploy_environments":      true,
	}, skipped)
}
