// Package puppet builds the shell command lines the provisioning sequence
// runs on the target host and the MoM. Keeping them in one place makes the
// remote surface of the workflow reviewable at a glance.
package puppet

import (
	"fmt"
	"strings"
)

// Fixed names and paths on a puppetlabs-packaged host.
const (
	AgentPackage = "puppet-agent"
	AgentService = "puppet"

	agentBin  = "/opt/puppetlabs/bin/puppet"
	serverBin = "/opt/puppetlabs/bin/puppetserver"
	r10kBin   = "/opt/puppetlabs/puppet/bin/r10k"
)

// ConfigSet renders a `puppet config set` invocation for one setting in
// one section.
func ConfigSet(section, key, value string) string {
	return fmt.Sprintf("%s config set %s %s --section %s", agentBin, key, quote(value), section)
}

// JoinAltNames renders the dns_alt_names value: a comma-joined list.
func JoinAltNames(names []string) string {
	return strings.Join(names, ",")
}

// CASign renders the signing command run on the MoM for the target's
// certificate name.
func CASign(certname string) string {
	return fmt.Sprintf("%s ca sign --certname %s", serverBin, quote(certname))
}

// CAListPending renders the MoM-side listing of pending signing requests,
// used to poll for the target's request before signing.
func CAListPending() string {
	return serverBin + " ca list"
}

// OnetimeRun renders a synchronous, verbose agent run with caching and
// splay disabled and diffs shown, forcing an immediate observable
// convergence.
func OnetimeRun() string {
	return agentBin + " agent --onetime --no-daemonize --verbose --no-splay --no-usecacheonfailure --show_diff"
}

// GenerateKeyPair renders deploy-key generation at path: RSA 4096, no
// passphrase. Existing halves are removed first so a rerun regenerates
// instead of prompting; a regenerated key invalidates any previously
// registered deploy key.
func GenerateKeyPair(path string) string {
	q := quote(path)
	qPub := quote(path + ".pub")
	return fmt.Sprintf("rm -f %s %s && ssh-keygen -q -t rsa -b 4096 -N '' -f %s", q, qPub, q)
}

// InstallKeyPair renders creation of the server's ssh directory with mode
// 0700 and the copy of both key halves into it.
func InstallKeyPair(privateKeyPath, dir string) string {
	qDir := quote(dir)
	return fmt.Sprintf("mkdir -p %s && chmod 0700 %s && cp %s %s %s/",
		qDir, qDir, quote(privateKeyPath), quote(privateKeyPath+".pub"), qDir)
}

// HostsEntry renders the hosts-file append mapping ip to fqdn. The append
// is not deduplicated: rerunning the sequence appends a second identical
// line.
func HostsEntry(ip, fqdn string) string {
	return fmt.Sprintf("echo %s >> /etc/hosts", quote(ip+" "+fqdn))
}

// DeployEnvironments renders the environment deployment. This is a raw
// command rather than a task on purpose: the task wrapper executes under
// the system ruby, which cannot load r10k.
func DeployEnvironments() string {
	return r10kBin + " deploy environment --puppetfile"
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
