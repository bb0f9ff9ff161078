package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	plerrors "github.com/puppetline/puppetline/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New()
	})
	return validateInst
}

// ValidateRequest performs schema and cross-field validation on the request.
// Every toggle set to true must have its companion fields present; a
// companion supplied while its toggle is false is legal and ignored.
func ValidateRequest(req *Request) error {
	if req == nil {
		return plerrors.NewValidationError("request", "request is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(req); err != nil {
		return convertValidationError(err)
	}

	if req.ManageGithubDeployKey {
		required := []struct {
			field string
			value string
		}{
			{"github.deploy_key_name", req.Github.DeployKeyName},
			{"github.token", req.Github.Token},
			{"github.user", req.Github.User},
			{"github.project", req.Github.Project},
		}
		for _, f := range required {
			if strings.TrimSpace(f.value) == "" {
				return plerrors.NewValidationError(f.field, "required when manage_github_deploy_key is true", nil)
			}
		}
	}

	return nil
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrs) == 0 {
		return plerrors.NewValidationError("", err.Error(), err)
	}

	first := validationErrs[0]
	field := fieldName(first)
	message := fmt.Sprintf("failed %q validation", first.Tag())
	if first.Param() != "" {
		message = fmt.Sprintf("failed %q validation (param %s)", first.Tag(), first.Param())
	}
	return plerrors.NewValidationError(field, message, err)
}

// fieldName translates the validator's namespace into the YAML spelling
// operators see in their request files.
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	ns = strings.TrimPrefix(ns, "Request.")

	replacer := strings.NewReplacer(
		"MomFQDN", "mom_fqdn",
		"DNSAltNames", "dns_alt_names",
		"ManagePosRelease", "manage_pos_release",
		"PosReleasePackage", "pos_release_package",
		"ManageMomHosts", "manage_mom_hosts",
		"MomIPAddress", "mom_ipaddress",
		"ManageGithubDeployKey", "manage_github_deploy_key",
		"Github.DeployKeyName", "github.deploy_key_name",
		"Github.Token", "github.token",
		"Github.User", "github.user",
		"Github.Project", "github.project",
		"Github.Server", "github.server",
		"PrivateKeyPath", "private_key_path",
		"SiteRole", "site_role",
		"Apply.Manifest", "apply.manifest",
		"CertWait.Strategy", "cert_wait.strategy",
		"CertWait.SettleSeconds", "cert_wait.settle_seconds",
		"CertWait.MaxAttempts", "cert_wait.max_attempts",
		"CertWait.IntervalSeconds", "cert_wait.interval_seconds",
		"SSH.User", "ssh.user",
		"SSH.Port", "ssh.port",
		"SSH.IdentityFile", "ssh.identity_file",
		"Target", "target",
	)
	return replacer.Replace(ns)
}
