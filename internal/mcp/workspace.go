package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/conveyor/internal/workflow"
)

type workflowListParams struct {
	Project string `json:"project,omitempty" jsonschema:"project name under the projects root, or an absolute path inside it. Defaults to the client's workspace root."`
}

func (h *handler) workflowListHandler(ctx context.Context, req *mcp.CallToolRequest, params workflowListParams) (*mcp.CallToolResult, any, error) {
	infos, err := h.svc.ListWorkflows(h.resolveProject(params.Project))
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list workflows: %v", err))
	}
	if len(infos) == 0 {
		return textResult("No workflow files found.")
	}
	return textResult(formatWorkflows(infos))
}

func formatWorkflows(infos []workflow.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflows (%d):\n", len(infos))
	for _, info := range infos {
		fmt.Fprintln(&b)
		if info.Error != "" {
			fmt.Fprintf(&b, "%s: invalid (%s)\n", info.File, info.Error)
			continue
		}
		if info.Name != "" {
			fmt.Fprintf(&b, "%s (%s)\n", info.File, info.Name)
		} else {
			fmt.Fprintln(&b, info.File)
		}
		for _, j := range info.Jobs {
			if len(j.Needs) > 0 {
				fmt.Fprintf(&b, "  %s (needs %s)\n", j.ID, strings.Join(j.Needs, ", "))
			} else {
				fmt.Fprintf(&b, "  %s\n", j.ID)
			}
			for _, s := range j.Steps {
				mark := ""
				if !s.Executable {
					mark = " [not executed]"
				}
				fmt.Fprintf(&b, "    %s/%s: %s%s\n", j.ID, s.ID, s.Name, mark)
			}
		}
	}
	return b.String()
}
