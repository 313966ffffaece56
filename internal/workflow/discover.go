package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/deixis/conveyor/internal/runner"
)

// Info describes a workflow file for step selection.
type Info struct {
	File  string    `json:"file"`
	Name  string    `json:"name,omitempty"`
	Jobs  []JobInfo `json:"jobs,omitempty"`
	Error string    `json:"error,omitempty"`
}

// JobInfo lists the steps of one job.
type JobInfo struct {
	ID    string     `json:"id"`
	Name  string     `json:"name,omitempty"`
	Needs []string   `json:"needs,omitempty"`
	Steps []StepInfo `json:"steps"`
}

// StepInfo describes one step.
type StepInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Executable bool   `json:"executable"`
}

// Discover lists the workflow files under root/dir, sorted by name.
// Files that fail to parse are reported with their error.
func Discover(root, dir string) ([]Info, error) {
	base, err := runner.ResolveDir(root, dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing workflows: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || !isWorkflowFile(e.Name()) {
			continue
		}
		info := Info{File: e.Name()}
		doc, err := Load(filepath.Join(base, e.Name()))
		if err != nil {
			info.Error = err.Error()
			out = append(out, info)
			continue
		}
		info.Name = doc.Name
		for _, j := range doc.Jobs {
			ji := JobInfo{ID: j.ID, Name: j.Name, Needs: j.Needs}
			for _, s := range j.Steps {
				ji.Steps = append(ji.Steps, StepInfo{ID: s.ID, Name: s.Label(), Executable: s.Executable()})
			}
			info.Jobs = append(info.Jobs, ji)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].File < out[k].File })
	return out, nil
}

// ResolveFile locates a workflow file. A bare file name is looked up in
// root/dir; a path is taken relative to root. The result must stay inside
// root and name an existing YAML file.
func ResolveFile(root, dir, file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("workflow file is required")
	}
	if !isWorkflowFile(file) {
		return "", fmt.Errorf("workflow file %q must have a .yml or .yaml extension", file)
	}

	rel := file
	if !strings.ContainsRune(file, '/') && !strings.ContainsRune(file, filepath.Separator) {
		rel = filepath.Join(dir, file)
	}
	path, err := runner.ResolveDir(root, rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("workflow file %q: %w", file, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("workflow file %q is a directory", file)
	}
	return path, nil
}

func isWorkflowFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yml" || ext == ".yaml"
}
