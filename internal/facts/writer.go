// Package facts writes structured external facts to a target host.
package facts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/puppetline/puppetline/internal/executor"
)

// SiteRoleFact is the document a host publishes to declare its assigned
// roles for later configuration-management classification.
type SiteRoleFact struct {
	SiteRoles []string `json:"site_roles"`
}

// Writer delivers fact documents over the executor's file channel. The
// parent directory is ensured and prior content overwritten, so repeated
// runs converge on the latest document.
type Writer struct {
	exec executor.Executor
}

// NewWriter constructs a Writer over the given executor.
func NewWriter(exec executor.Executor) *Writer {
	return &Writer{exec: exec}
}

// WriteSiteRoles writes the site-role fact document to path on the target.
func (w *Writer) WriteSiteRoles(ctx context.Context, target executor.Target, path string, roles []string) error {
	doc, err := json.Marshal(SiteRoleFact{SiteRoles: roles})
	if err != nil {
		return fmt.Errorf("marshal site role fact: %w", err)
	}

	if err := w.exec.Upload(ctx, target, path, doc, 0o644); err != nil {
		return fmt.Errorf("write site role fact: %w", err)
	}
	return nil
}
