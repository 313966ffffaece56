// Package mcp provides the Conveyor MCP server, registering the run tools
// and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/conveyor"
	"github.com/deixis/conveyor/internal/service"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	svc *service.Service

	mu      sync.Mutex
	project string // default project, taken from the client's first root
}

// NewServer creates an MCP server with all Conveyor tools registered.
func NewServer(svc *service.Service) *mcp.Server {
	h := &handler{svc: svc}

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateProjectFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "conveyor", Version: conveyor.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "ci_run",
		Description: `Run the project's test suite (lint, audit, build, backend tests, e2e) in order.

Pass tests to run a subset. Steps whose script is missing from package.json are skipped.
A failing build stops the suite. With wait=true the call blocks until the run finishes;
otherwise poll ci_status with the returned run_id.`,
	}, h.suiteRunHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "ci_status",
		Description: "Report the state of a test-suite run. Pass step to see that step's full output.",
	}, h.statusHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "ci_cancel",
		Description: "Cancel a running test-suite run. The process in flight is terminated.",
	}, h.cancelHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "ci_history",
		Description: "List recently completed runs, most recent first.",
	}, h.historyHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "workflow_run",
		Description: `Run a workflow file (GitHub Actions syntax) from the project's workflow directory.

Jobs and their run steps execute in file order; uses steps are skipped. The first failing step
stops the run. selected_steps limits execution to "job/step" keys or step ids.`,
	}, h.workflowRunHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "workflow_status",
		Description: "Report the state of a workflow run, including the step in flight. Pass step (job/step) to see its full output.",
	}, h.statusHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "workflow_cancel",
		Description: "Cancel a running workflow run.",
	}, h.cancelHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "workflow_list",
		Description: "List the workflow files of a project with their jobs and steps.",
	}, h.workflowListHandler)

	return s
}

// updateProjectFromRoots queries the client for MCP roots and uses the
// first file root as the default project for tool calls that omit one.
func (h *handler) updateProjectFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}
	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	h.mu.Lock()
	h.project = u.Path
	h.mu.Unlock()
}

// resolveProject falls back to the root-derived default project.
func (h *handler) resolveProject(project string) string {
	if project != "" {
		return project
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.project
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
