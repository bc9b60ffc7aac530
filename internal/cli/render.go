package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jo-hoe/reelforge/internal/dispatch"
	"github.com/jo-hoe/reelforge/internal/jobs"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusStyle(s string) string {
	switch s {
	case string(jobs.JobCompleted): // jobs.ItemCompleted has the same value
		return okStyle.Render(s)
	case string(jobs.JobFailed), string(jobs.JobPartialFailed):
		return errorStyle.Render(s)
	case string(jobs.ItemSkipped):
		return mutedStyle.Render(s)
	default:
		return warnStyle.Render(s)
	}
}

func printDispatch(res dispatch.Result) {
	if res.Skipped {
		fmt.Fprintln(stdout, warnStyle.Render("skipped: another dispatch pass holds the lock"))
		return
	}
	fmt.Fprintf(stdout, "%s processed=%d\n", okStyle.Render("dispatch pass done"), res.Processed)
	for _, e := range res.Errors {
		fmt.Fprintln(stdout, errorStyle.Render("  ! "+e))
	}
}

func renderJob(d *jobs.JobDetails) string {
	j := d.Job
	header := titleStyle.Render("job "+j.ID) + "  " + statusStyle(string(j.Status))
	meta := mutedStyle.Render(fmt.Sprintf("workflow=%s a=%d b=%d created=%s",
		j.WorkflowMode, j.ACount, j.BCount, j.CreatedAt.Format("2006-01-02 15:04:05")))

	var rows []string
	for _, it := range d.Items {
		line := fmt.Sprintf("%-36s %s %s", it.ID, it.Mode, statusStyle(string(it.Status)))
		if it.ApprovalStatus != jobs.ApprovalNotRequired {
			line += mutedStyle.Render(" approval=" + string(it.ApprovalStatus))
		}
		if hook := it.Concept.Hook(); hook != "" {
			line += "\n    " + mutedStyle.Render(hook)
		}
		if it.Error != nil {
			line += "\n    " + errorStyle.Render(*it.Error)
		}
		rows = append(rows, line)
	}
	if len(rows) == 0 {
		rows = append(rows, mutedStyle.Render("no items"))
	}

	groups := d.OutputsByType()
	var outs []string
	for _, t := range []jobs.OutputType{jobs.OutputEditPack, jobs.OutputVoiceover, jobs.OutputRenderedA, jobs.OutputVideo} {
		outs = append(outs, fmt.Sprintf("%-16s %d", t, len(groups[t])))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		panelStyle.Render(strings.Join(rows, "\n")),
		panelStyle.Render(strings.Join(outs, "\n")),
	)
}

func renderVoices(list []*jobs.VoiceProfile) string {
	if len(list) == 0 {
		return mutedStyle.Render("no voice profiles")
	}
	rows := make([]string, 0, len(list))
	for _, p := range list {
		line := fmt.Sprintf("%-36s %-20s %s:%s", p.ID, p.Name, p.Provider, p.ExternalVoiceID)
		if p.IsDefault {
			line += " " + okStyle.Render("default")
		}
		rows = append(rows, line)
	}
	return panelStyle.Render(strings.Join(rows, "\n"))
}
