package provision

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/puppetline/puppetline/internal/model"
)

const timePrecision = 10 * time.Millisecond

var (
	summaryTitleStyle  = lipgloss.NewStyle().Bold(true)
	summaryBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	stepSuccessStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stepFailedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stepSkippedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	summaryTargetStyle = lipgloss.NewStyle().Faint(true)
)

// RenderSummary renders the per-step outcome block printed after a run.
func RenderSummary(outcome model.RunOutcome) string {
	var b strings.Builder

	if outcome.Completed {
		b.WriteString(summaryTitleStyle.Render(fmt.Sprintf("provisioning completed in %s", outcome.Duration.Round(timePrecision))))
	} else if outcome.FailedStep != "" {
		b.WriteString(summaryTitleStyle.Render(fmt.Sprintf("provisioning failed at %s after %s", outcome.FailedStep, outcome.Duration.Round(timePrecision))))
	} else {
		b.WriteString(summaryTitleStyle.Render("provisioning aborted before any step ran"))
	}
	b.WriteString("\n")

	for _, step := range outcome.Steps {
		b.WriteString(renderStepLine(step))
		b.WriteString("\n")
	}

	return summaryBoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderStepLine(step model.StepResult) string {
	var marker, detail string
	switch step.Status {
	case model.StatusSuccess:
		marker = stepSuccessStyle.Render("✓")
		detail = summaryTargetStyle.Render(fmt.Sprintf("%s  %s", step.Target, step.Duration.Round(timePrecision)))
	case model.StatusFailed:
		marker = stepFailedStyle.Render("✗")
		detail = step.Message
	case model.StatusSkipped:
		marker = stepSkippedStyle.Render("-")
		detail = stepSkippedStyle.Render(step.Message)
	default:
		marker = " "
	}

	return fmt.Sprintf("%s %-26s %s", marker, step.StepID, detail)
}
