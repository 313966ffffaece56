package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/conveyor/internal/service"
)

type workflowRunParams struct {
	Project       string            `json:"project,omitempty" jsonschema:"project name under the projects root, or an absolute path inside it. Defaults to the client's workspace root."`
	WorkflowFile  string            `json:"workflow_file,omitempty" jsonschema:"workflow file name in the workflow directory (e.g. ci.yml), or a path relative to the project"`
	SelectedSteps []string          `json:"selected_steps,omitempty" jsonschema:"steps to run, as job/step keys or step ids. Defaults to all steps."`
	Env           map[string]string `json:"env,omitempty" jsonschema:"environment variables that override the workflow's env blocks"`
	Wait          bool              `json:"wait,omitempty" jsonschema:"block until the run finishes"`
}

func (h *handler) workflowRunHandler(ctx context.Context, req *mcp.CallToolRequest, params workflowRunParams) (*mcp.CallToolResult, any, error) {
	if params.WorkflowFile == "" {
		return errorResult("workflow_file is required")
	}
	run, err := h.svc.StartWorkflow(service.WorkflowRequest{
		Project:  h.resolveProject(params.Project),
		File:     params.WorkflowFile,
		Selected: params.SelectedSteps,
		Env:      params.Env,
	})
	if err != nil {
		return startError(err)
	}
	if !params.Wait {
		return textResult(formatStarted(run, "workflow_status"))
	}
	return h.waitFor(ctx, run.ID)
}
