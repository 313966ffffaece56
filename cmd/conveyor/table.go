package main

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/deixis/conveyor/internal/report"
	"github.com/deixis/conveyor/internal/workflow"
)

func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

func statusText(s report.Status) string {
	switch s {
	case report.StatusSuccess:
		return "PASS"
	case report.StatusFailed:
		return "FAIL"
	case report.StatusSkipped:
		return "SKIP"
	case report.StatusCancelled:
		return "CANCELLED"
	}
	return strings.ToUpper(string(s))
}

// formatSummary renders a run summary as a table. With color set, the
// table style follows the overall verdict.
func formatSummary(kind report.Kind, label string, s *report.Summary, color bool) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	title := cases.Title(language.English).String(string(kind))
	if label != "" {
		title += ": " + label
	}
	t.SetTitle("%s", title)

	t.AppendHeader(table.Row{"Step", "Status", "Duration", "Exit", "Note"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
		{Name: "Note", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, r := range s.Steps() {
		note := r.Note
		if r.Error != "" {
			note = r.Error
		}
		exit := "-"
		if r.Status == report.StatusSuccess || r.Status == report.StatusFailed {
			exit = fmt.Sprint(r.ExitCode)
		}
		t.AppendRow(table.Row{r.Key(), statusText(r.Status), formatDuration(r.Duration), exit, note})
	}

	overall := statusText(s.Status())
	t.AppendFooter(table.Row{
		"TOTAL",
		overall,
		formatDuration(s.Duration),
		"",
		fmt.Sprintf("%d passed, %d failed, %d skipped, %d cancelled",
			s.Counts.Passed, s.Counts.Failed, s.Counts.Skipped, s.Counts.Cancelled),
	})

	switch {
	case !color:
		t.SetStyle(table.StyleLight)
	case !s.Passed:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case s.Counts.Skipped > 0:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}

	t.Render()
	return buf.String()
}

// formatWorkflows renders discovered workflow files, one row per step.
func formatWorkflows(infos []workflow.Info) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle("Workflows")
	t.AppendHeader(table.Row{"File", "Job", "Step", "Name", "Runs"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "File", AutoMerge: true},
		{Name: "Job", AutoMerge: true},
	})

	for _, info := range infos {
		if info.Error != "" {
			t.AppendRow(table.Row{info.File, "-", "-", "invalid: " + info.Error, "no"})
			t.AppendSeparator()
			continue
		}
		for _, j := range info.Jobs {
			for _, s := range j.Steps {
				runs := "yes"
				if !s.Executable {
					runs = "no"
				}
				t.AppendRow(table.Row{info.File, j.ID, s.ID, s.Name, runs})
			}
		}
		t.AppendSeparator()
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	return buf.String()
}
