// Package planfile parses plan documents: a YAML file describing a plan
// and its task graph, used to seed the task store in one step.
package planfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Task is one task entry in a plan file.
type Task struct {
	// Title is the task's short description. Required and unique within
	// the file; dependencies reference it.
	Title string `yaml:"title"`
	// Repo is the repository ID the task targets. Empty means the
	// default repository.
	Repo string `yaml:"repo,omitempty"`
	// DependsOn lists titles of tasks that must close first.
	DependsOn []string `yaml:"depends_on,omitempty"`
	// Optional tasks do not block plan completion.
	Optional bool `yaml:"optional,omitempty"`
}

// File is a parsed plan document.
type File struct {
	// Title names the plan.
	Title string `yaml:"title"`
	// Description holds the plan body.
	Description string `yaml:"description,omitempty"`
	// BranchStrategy is feature_branch or raise_prs. Empty uses the default.
	BranchStrategy string `yaml:"branch_strategy,omitempty"`
	// TeamMode is top-down or bottom-up. Empty uses the default.
	TeamMode string `yaml:"team_mode,omitempty"`
	// MaxParallel caps concurrent agents. Zero uses the configured default.
	MaxParallel int `yaml:"max_parallel,omitempty"`
	// Tasks is the task graph.
	Tasks []Task `yaml:"tasks"`
}

// Load reads and validates a plan file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates plan file contents.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// validate checks structural invariants of the document.
func (f *File) validate() error {
	if f.Title == "" {
		return fmt.Errorf("plan file needs a title")
	}

	titles := make(map[string]bool, len(f.Tasks))
	for i, t := range f.Tasks {
		if t.Title == "" {
			return fmt.Errorf("task %d has no title", i+1)
		}
		if titles[t.Title] {
			return fmt.Errorf("duplicate task title %q", t.Title)
		}
		titles[t.Title] = true
	}

	for _, t := range f.Tasks {
		for _, dep := range t.DependsOn {
			if !titles[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.Title, dep)
			}
			if dep == t.Title {
				return fmt.Errorf("task %q depends on itself", t.Title)
			}
		}
	}
	return nil
}
