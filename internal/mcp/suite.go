package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/conveyor/internal/registry"
	"github.com/deixis/conveyor/internal/report"
	"github.com/deixis/conveyor/internal/service"
)

// maxWait bounds wait=true calls.
const maxWait = 30 * time.Minute

type suiteRunParams struct {
	Project string   `json:"project,omitempty" jsonschema:"project name under the projects root, or an absolute path inside it. Defaults to the client's workspace root."`
	Tests   []string `json:"tests,omitempty" jsonschema:"suite steps to run (lint, audit, build, test:backend, e2e). Defaults to all."`
	Wait    bool     `json:"wait,omitempty" jsonschema:"block until the run finishes"`
}

func (h *handler) suiteRunHandler(ctx context.Context, req *mcp.CallToolRequest, params suiteRunParams) (*mcp.CallToolResult, any, error) {
	run, err := h.svc.StartSuite(service.SuiteRequest{
		Project: h.resolveProject(params.Project),
		Tests:   params.Tests,
	})
	if err != nil {
		return startError(err)
	}
	if !params.Wait {
		return textResult(formatStarted(run, "ci_status"))
	}
	return h.waitFor(ctx, run.ID)
}

// waitFor blocks until the run completes and reports it.
func (h *handler) waitFor(ctx context.Context, id string) (*mcp.CallToolResult, any, error) {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	run, err := h.svc.Wait(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("Run %s is still in progress (%v). Poll its status instead.", id, err))
	}
	return textResult(formatRun(run))
}

func startError(err error) (*mcp.CallToolResult, any, error) {
	var conflict *registry.ConflictError
	if errors.As(err, &conflict) {
		return errorResult(fmt.Sprintf("A %s run is already in progress for this project.\nRun: %s\n", conflict.Kind, conflict.RunID))
	}
	return errorResult(fmt.Sprintf("Failed to start run: %v", err))
}

func formatStarted(run *report.Run, statusTool string) string {
	var b strings.Builder
	fmt.Fprintln(&b, "Status: RUNNING")
	fmt.Fprintf(&b, "Run: %s\n", run.ID)
	if len(run.RequestedSteps) > 0 {
		fmt.Fprintf(&b, "Steps: %s\n", strings.Join(run.RequestedSteps, ", "))
	}
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Poll with %s(run_id=%q).\n", statusTool, run.ID)
	return b.String()
}

func formatRun(run *report.Run) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(string(run.Status)))
	fmt.Fprintf(&b, "Run: %s (%s)\n", run.ID, run.Kind)
	if run.Label != "" {
		fmt.Fprintf(&b, "Workflow: %s\n", run.Label)
	}
	if run.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", run.Error)
	}
	fmt.Fprintln(&b)

	if run.Summary == nil {
		if run.CurrentStep != nil {
			fmt.Fprintf(&b, "Current step: %s\n", stepKey(run.CurrentStep.Job, run.CurrentStep.Step))
			if out := tail(run.CurrentStepOutput, 20); out != "" {
				fmt.Fprintln(&b)
				fmt.Fprintln(&b, out)
			}
		}
		return b.String()
	}

	fmt.Fprintln(&b, "Steps:")
	var failed *report.StepResult
	for _, r := range run.Summary.Steps() {
		line := fmt.Sprintf("  %s: %s", r.Key(), r.Status)
		if r.Status == report.StatusSuccess || r.Status == report.StatusFailed {
			line += fmt.Sprintf(" (%s)", time.Duration(r.Duration)*time.Millisecond)
		}
		switch {
		case r.Note != "":
			line += " - " + r.Note
		case r.Error != "":
			line += " - " + r.Error
		}
		if r.Parsed != nil {
			line += fmt.Sprintf(" [%v]", r.Parsed)
		}
		fmt.Fprintln(&b, line)
		if r.Status == report.StatusFailed && failed == nil {
			failed = r
		}
	}
	fmt.Fprintln(&b)

	c := run.Summary.Counts
	fmt.Fprintf(&b, "%d passed, %d failed, %d skipped, %d cancelled in %s\n",
		c.Passed, c.Failed, c.Skipped, c.Cancelled, time.Duration(run.Summary.Duration)*time.Millisecond)

	if failed != nil {
		tool := "ci_status"
		if run.Kind == report.Workflow {
			tool = "workflow_status"
		}
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Failed step: %s\n", failed.Key())
		if out := tail(failed.Output, 30); out != "" {
			fmt.Fprintln(&b)
			fmt.Fprintln(&b, out)
			fmt.Fprintln(&b)
		}
		fmt.Fprintf(&b, "Inspect with %s(run_id=%q, step=%q).\n", tool, run.ID, failed.Key())
	}
	return b.String()
}

func stepKey(job, step string) string {
	if job == "" {
		return step
	}
	return job + "/" + step
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = append([]string{fmt.Sprintf("... (%d lines omitted)", len(lines)-n)}, lines[len(lines)-n:]...)
	}
	return strings.Join(lines, "\n")
}
