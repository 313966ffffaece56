package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Document is a parsed workflow file.
type Document struct {
	Path     string            `yaml:"-"`
	Name     string            `yaml:"name"`
	Env      map[string]string `yaml:"env"`
	Defaults Defaults          `yaml:"defaults"`
	Jobs     Jobs              `yaml:"jobs"`
}

// Defaults holds document- or job-level defaults.
type Defaults struct {
	Run RunDefaults `yaml:"run"`
}

// RunDefaults applies to every run step in scope.
type RunDefaults struct {
	Shell            string `yaml:"shell"`
	WorkingDirectory string `yaml:"working-directory"`
}

// Job is a named, ordered list of steps.
type Job struct {
	ID             string            `yaml:"-"`
	Name           string            `yaml:"name"`
	Needs          StringList        `yaml:"needs"` // accepted, not enforced
	Env            map[string]string `yaml:"env"`
	Defaults       Defaults          `yaml:"defaults"`
	TimeoutMinutes float64           `yaml:"timeout-minutes"`
	Steps          []*Step           `yaml:"steps"`
}

// Step is a single shell command or action reference.
type Step struct {
	ID               string            `yaml:"id"`
	Name             string            `yaml:"name"`
	Run              string            `yaml:"run"`
	Uses             string            `yaml:"uses"`
	Env              map[string]string `yaml:"env"`
	Shell            string            `yaml:"shell"`
	WorkingDirectory string            `yaml:"working-directory"`
	TimeoutMinutes   float64           `yaml:"timeout-minutes"`
}

// Executable reports whether the step runs a shell command.
func (s *Step) Executable() bool {
	return strings.TrimSpace(s.Run) != ""
}

// Label returns a human-readable name for the step.
func (s *Step) Label() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Uses != "":
		return s.Uses
	default:
		return s.ID
	}
}

// Timeout returns the step timeout, falling back to the job timeout.
// Zero means the runner default applies.
func (s *Step) Timeout(job *Job) time.Duration {
	m := s.TimeoutMinutes
	if m <= 0 {
		m = job.TimeoutMinutes
	}
	return time.Duration(m * float64(time.Minute))
}

// Jobs keeps jobs in document order.
type Jobs []*Job

// UnmarshalYAML decodes the jobs mapping, preserving key order.
func (j *Jobs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: jobs must be a mapping", node.Line)
	}
	out := make(Jobs, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		job := &Job{}
		if err := val.Decode(job); err != nil {
			return fmt.Errorf("job %q: %w", key.Value, err)
		}
		job.ID = key.Value
		out = append(out, job)
	}
	*j = out
	return nil
}

// StringList accepts either a scalar or a sequence of strings.
type StringList []string

// UnmarshalYAML decodes a scalar or a sequence.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
}

// Job returns the job with the given id.
func (d *Document) Job(id string) *Job {
	for _, j := range d.Jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// StepKeys returns every step key ("job/step") in execution order.
func (d *Document) StepKeys() []string {
	var out []string
	for _, j := range d.Jobs {
		for _, s := range j.Steps {
			out = append(out, j.ID+"/"+s.ID)
		}
	}
	return out
}

// Load reads, validates, and parses the workflow file at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	doc.Path = path
	return doc, nil
}

// Parse validates data against the workflow schema and decodes it.
// Steps without an id are assigned "step-N" (1-based within their job).
func Parse(data []byte) (*Document, error) {
	if err := validate(data); err != nil {
		return nil, err
	}

	doc := &Document{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parsing workflow: %w", err)
	}

	for _, job := range doc.Jobs {
		seen := make(map[string]bool, len(job.Steps))
		for i, s := range job.Steps {
			if s.ID == "" {
				s.ID = fmt.Sprintf("step-%d", i+1)
			}
			if seen[s.ID] {
				return nil, fmt.Errorf("job %q: duplicate step id %q", job.ID, s.ID)
			}
			seen[s.ID] = true
		}
	}
	return doc, nil
}
