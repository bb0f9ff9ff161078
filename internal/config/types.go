package config

import (
	"time"
)

// Default locations on the target host. The server ssh directory is where
// the running puppetserver expects to find the control-repo deploy key.
const (
	DefaultPrivateKeyPath = "/root/.ssh/id-control_repo.rsa"
	ServerSSHDir          = "/etc/puppetlabs/puppetserver/ssh"
	SiteRoleFactPath      = "/etc/puppetlabs/facter/facts.d/site_roles.json"

	DefaultGithubServer = "https://api.github.com"
	DefaultSiteRole     = "compile_master"
	DefaultManifest     = "include profile::compile_master"
)

// Certificate wait strategies. Poll is the default: the MoM is probed for a
// pending signing request with backoff instead of sleeping a fixed interval.
const (
	CertWaitPoll  = "poll"
	CertWaitFixed = "fixed"
)

// Request is the immutable input bundle for one provisioning run. Any
// optional value whose owning toggle is false is ignored even if supplied.
type Request struct {
	Target      string   `yaml:"target" validate:"required,fqdn"`
	MomFQDN     string   `yaml:"mom_fqdn" validate:"required,fqdn"`
	DNSAltNames []string `yaml:"dns_alt_names,omitempty" validate:"omitempty,dive,hostname"`

	ManagePosRelease  bool   `yaml:"manage_pos_release,omitempty"`
	PosReleasePackage string `yaml:"pos_release_package,omitempty" validate:"required_if=ManagePosRelease true"`

	ManageMomHosts bool   `yaml:"manage_mom_hosts,omitempty"`
	MomIPAddress   string `yaml:"mom_ipaddress,omitempty" validate:"required_if=ManageMomHosts true,omitempty,ip"`

	ManageGithubDeployKey bool           `yaml:"manage_github_deploy_key,omitempty"`
	Github                GithubSettings `yaml:"github,omitempty"`

	PrivateKeyPath string `yaml:"private_key_path,omitempty"`
	SiteRole       string `yaml:"site_role,omitempty"`

	Apply    ApplySettings    `yaml:"apply,omitempty"`
	CertWait CertWaitSettings `yaml:"cert_wait,omitempty"`
	SSH      SSHSettings      `yaml:"ssh,omitempty"`
}

// PublicKeyPath derives the public half of the deploy key pair. The relation
// to PrivateKeyPath is fixed: path + ".pub", whatever the path.
func (r *Request) PublicKeyPath() string {
	return r.PrivateKeyPath + ".pub"
}

// GithubSettings describe the deploy key registered with the source-control
// host. Only consulted when manage_github_deploy_key is true.
type GithubSettings struct {
	DeployKeyName string `yaml:"deploy_key_name,omitempty"`
	Token         string `yaml:"token,omitempty"`
	User          string `yaml:"user,omitempty"`
	Project       string `yaml:"project,omitempty"`
	Server        string `yaml:"server,omitempty" validate:"omitempty,url"`
}

// ApplySettings configure the opaque site-configuration bundle applied
// mid-sequence.
type ApplySettings struct {
	Manifest string `yaml:"manifest,omitempty"`
}

// CertWaitSettings control how the sequence waits for the agent's signing
// request to reach the MoM before signing.
type CertWaitSettings struct {
	Strategy        string `yaml:"strategy,omitempty" validate:"omitempty,oneof=poll fixed"`
	SettleSeconds   int    `yaml:"settle_seconds,omitempty" validate:"omitempty,min=1,max=600"`
	MaxAttempts     int    `yaml:"max_attempts,omitempty" validate:"omitempty,min=1,max=60"`
	IntervalSeconds int    `yaml:"interval_seconds,omitempty" validate:"omitempty,min=1,max=120"`
}

// Settle returns the fixed settle interval as a duration.
func (c CertWaitSettings) Settle() time.Duration {
	return time.Duration(c.SettleSeconds) * time.Second
}

// Interval returns the initial poll interval as a duration.
func (c CertWaitSettings) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// SSHSettings configure the transport used to reach the target and the MoM.
type SSHSettings struct {
	User         string `yaml:"user,omitempty"`
	Port         int    `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	IdentityFile string `yaml:"identity_file,omitempty"`
}

// ApplyDefaults fills zero-valued optional fields in place. Called by the
// parser after decoding and before validation.
func (r *Request) ApplyDefaults() {
	if r.PrivateKeyPath == "" {
		r.PrivateKeyPath = DefaultPrivateKeyPath
	}
	if r.SiteRole == "" {
		r.SiteRole = DefaultSiteRole
	}
	if r.Apply.Manifest == "" {
		r.Apply.Manifest = DefaultManifest
	}
	if r.Github.Server == "" {
		r.Github.Server = DefaultGithubServer
	}
	if r.CertWait.Strategy == "" {
		r.CertWait.Strategy = CertWaitPoll
	}
	if r.CertWait.SettleSeconds == 0 {
		r.CertWait.SettleSeconds = 10
	}
	if r.CertWait.MaxAttempts == 0 {
		r.CertWait.MaxAttempts = 10
	}
	if r.CertWait.IntervalSeconds == 0 {
		r.CertWait.IntervalSeconds = 2
	}
	if r.SSH.User == "" {
		r.SSH.User = "root"
	}
	if r.SSH.Port == 0 {
		r.SSH.Port = 22
	}
}
