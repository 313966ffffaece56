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

type statusParams struct {
	RunID string `json:"run_id,omitempty" jsonschema:"the run ID returned by ci_run or workflow_run"`
	Step  string `json:"step,omitempty" jsonschema:"step name (suite) or job/step key (workflow) whose full output to show"`
}

func (h *handler) statusHandler(ctx context.Context, req *mcp.CallToolRequest, params statusParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	run, err := h.svc.Get(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	if params.Step == "" {
		return textResult(formatRun(run))
	}
	return inspectStep(run, params.Step)
}

// inspectStep shows the full record of one step.
func inspectStep(run *report.Run, key string) (*mcp.CallToolResult, any, error) {
	if run.Summary == nil {
		if cs := run.CurrentStep; cs != nil && (key == cs.Step || key == stepKey(cs.Job, cs.Step)) {
			return textResult(fmt.Sprintf("Run: %s (%s)\n%s: running\n\n%s", run.ID, run.Kind, key, run.CurrentStepOutput))
		}
		return textResult(fmt.Sprintf("Run %s is still in progress; step %s has no result yet.", run.ID, key))
	}

	res := findStep(run.Summary, key)
	if res == nil {
		return errorResult(fmt.Sprintf("No step %q in run %s. Steps: %s", key, run.ID, strings.Join(run.Summary.Order, ", ")))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s (%s)\n", run.ID, run.Kind)
	fmt.Fprintf(&b, "%s: %s\n", res.Key(), res.Status)
	if res.ExitCode != 0 {
		fmt.Fprintf(&b, "Exit code: %d\n", res.ExitCode)
	}
	if res.Error != "" {
		tag := res.ErrorKind
		if tag == "" {
			tag = "error"
		}
		fmt.Fprintf(&b, "[%s] %s\n", tag, res.Error)
	}
	if res.Note != "" {
		fmt.Fprintf(&b, "Note: %s\n", res.Note)
	}
	if res.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", time.Duration(res.Duration)*time.Millisecond)
	}
	if res.Parsed != nil {
		fmt.Fprintf(&b, "Summary: %v\n", res.Parsed)
	}
	if res.Output != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Output:")
		for _, line := range strings.Split(strings.TrimRight(res.Output, "\n"), "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	return textResult(b.String())
}

// findStep matches a result key, or a bare step id when it is unambiguous.
func findStep(s *report.Summary, key string) *report.StepResult {
	if r, ok := s.Results[key]; ok {
		return r
	}
	var match *report.StepResult
	for _, r := range s.Results {
		if r.Name == key {
			if match != nil {
				return nil
			}
			match = r
		}
	}
	return match
}

type cancelParams struct {
	RunID string `json:"run_id,omitempty" jsonschema:"the run ID to cancel"`
}

func (h *handler) cancelHandler(ctx context.Context, req *mcp.CallToolRequest, params cancelParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	run, err := h.svc.Cancel(params.RunID)
	switch {
	case errors.Is(err, registry.ErrNotActive):
		return errorResult(fmt.Sprintf("Run %s already finished with status %s.", params.RunID, run.Status))
	case err != nil:
		return errorResult(fmt.Sprintf("Failed to cancel run %s: %v", params.RunID, err))
	}
	return textResult(fmt.Sprintf("Status: CANCELLED\nRun: %s (%s)\n", run.ID, run.Kind))
}

type historyParams struct {
	Project string `json:"project,omitempty" jsonschema:"only list runs of this project"`
	Kind    string `json:"kind,omitempty" jsonschema:"test-suite or workflow"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of runs. Default: 10."`
}

func (h *handler) historyHandler(ctx context.Context, req *mcp.CallToolRequest, params historyParams) (*mcp.CallToolResult, any, error) {
	q := service.HistoryQuery{Project: params.Project, Limit: params.Limit}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if params.Kind != "" {
		kind, err := report.ParseKind(params.Kind)
		if err != nil {
			return errorResult(err.Error())
		}
		q.Kind = kind
	}

	runs, err := h.svc.ListHistory(q)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list runs: %v", err))
	}
	if len(runs) == 0 {
		return textResult("No completed runs.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Runs (%d):\n", len(runs))
	for _, r := range runs {
		label := r.Target
		if r.Label != "" {
			label += " " + r.Label
		}
		fmt.Fprintf(&b, "  %s  %-10s %-9s %s  %s\n", r.ID, r.Kind, r.Status, r.StartedAt.Format(time.RFC3339), label)
	}
	return textResult(b.String())
}
