package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidProject is returned when a project cannot be resolved to a
// directory inside the projects root.
var ErrInvalidProject = errors.New("invalid project")

// ResolveProject maps a project name or path onto an absolute directory
// within root. Relative names are joined to root.
func ResolveProject(root, project string) (string, error) {
	if strings.TrimSpace(project) == "" {
		return "", errors.Wrap(ErrInvalidProject, "project is required")
	}

	dir := project
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	dir = filepath.Clean(dir)

	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrInvalidProject, "%q is outside %q", project, root)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidProject, "%q: %v", project, err)
	}
	if !info.IsDir() {
		return "", errors.Wrapf(ErrInvalidProject, "%q is not a directory", project)
	}
	return dir, nil
}
