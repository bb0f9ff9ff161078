// Package registrar registers SSH deploy keys with a source-control
// hosting API.
package registrar

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v66/github"

	"github.com/puppetline/puppetline/internal/config"
)

// RegisterRequest names one deploy key for one project.
type RegisterRequest struct {
	Title   string
	Key     string
	Owner   string
	Project string
}

// DeployKeys registers read-only deploy keys through the GitHub API.
// Idempotence is the API's concern: registering a key whose title already
// exists fails, and that failure is propagated untouched.
type DeployKeys struct {
	client *github.Client
}

// NewDeployKeys builds a registrar authorized by token. A server other than
// the public endpoint is treated as a GitHub Enterprise base URL.
func NewDeployKeys(token, server string) (*DeployKeys, error) {
	client := github.NewClient(nil).WithAuthToken(token)

	if server != "" && !isPublicEndpoint(server) {
		enterprise, err := client.WithEnterpriseURLs(server, server)
		if err != nil {
			return nil, fmt.Errorf("configure registrar server %q: %w", server, err)
		}
		client = enterprise
	}

	return &DeployKeys{client: client}, nil
}

// Register creates the deploy key on the project.
func (d *DeployKeys) Register(ctx context.Context, req RegisterRequest) error {
	key := &github.Key{
		Title:    github.String(req.Title),
		Key:      github.String(strings.TrimSpace(req.Key)),
		ReadOnly: github.Bool(true),
	}

	if _, _, err := d.client.Repositories.CreateKey(ctx, req.Owner, req.Project, key); err != nil {
		return fmt.Errorf("register deploy key %q on %s/%s: %w", req.Title, req.Owner, req.Project, err)
	}
	return nil
}

func isPublicEndpoint(server string) bool {
	return strings.TrimSuffix(server, "/") == strings.TrimSuffix(config.DefaultGithubServer, "/")
}
