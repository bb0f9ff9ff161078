package executor

import (
	"fmt"
	"strings"
)

// The SSH transport supports a fixed task vocabulary. Each task renders to
// one shell command line on the target; arguments are quoted before
// interpolation.
const (
	TaskPackage   = "package"
	TaskService   = "service"
	TaskApplyPrep = "apply_prep"
	TaskApply     = "apply"
)

const puppetBin = "/opt/puppetlabs/bin/puppet"

// renderTask translates a task invocation into the shell command the SSH
// transport executes. Unknown tasks and missing arguments are rejected
// before anything touches the wire.
func renderTask(task string, args map[string]any) (string, error) {
	switch task {
	case TaskPackage:
		name, err := stringArg(args, "name")
		if err != nil {
			return "", err
		}
		action := "install"
		if v, ok := args["action"].(string); ok && v != "" {
			action = v
		}
		if action != "install" {
			return "", fmt.Errorf("task %s: unsupported action %q", task, action)
		}
		return renderPackageInstall(name), nil

	case TaskService:
		name, err := stringArg(args, "name")
		if err != nil {
			return "", err
		}
		action, err := stringArg(args, "action")
		if err != nil {
			return "", err
		}
		switch action {
		case "start", "stop":
			return fmt.Sprintf("systemctl %s %s", action, shQuote(name)), nil
		case "enable":
			return fmt.Sprintf("systemctl enable --now %s", shQuote(name)), nil
		default:
			return "", fmt.Errorf("task %s: unsupported action %q", task, action)
		}

	case TaskApplyPrep:
		// Plugin sync against the configured server; the agent settings
		// steps run before any apply in the sequence.
		return fmt.Sprintf("%s plugin download", puppetBin), nil

	case TaskApply:
		manifest, err := stringArg(args, "manifest")
		if err != nil {
			return "", err
		}
		// Detailed exit codes: 2 means "changes applied", which is success
		// for a first-time provisioning run.
		return fmt.Sprintf(
			"%s apply --detailed-exitcodes -e %s; rc=$?; if [ $rc -eq 2 ]; then exit 0; else exit $rc; fi",
			puppetBin, shQuote(manifest)), nil

	default:
		return "", fmt.Errorf("unknown task %q", task)
	}
}

// renderPackageInstall works across the package managers the supported
// platforms ship, the way generic task runners do.
func renderPackageInstall(pkg string) string {
	quoted := shQuote(pkg)
	return fmt.Sprintf(
		"if command -v dnf >/dev/null 2>&1; then dnf -y install %s; "+
			"elif command -v yum >/dev/null 2>&1; then yum -y install %s; "+
			"else apt-get -y install %s; fi",
		quoted, quoted, quoted)
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required task argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("task argument %q must be a non-empty string", key)
	}
	return s, nil
}

// shQuote wraps s in single quotes, escaping embedded single quotes, so
// arbitrary values survive the remote shell.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
