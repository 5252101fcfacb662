package plan

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AssignmentFile is the well-known name workers read their item chunk from.
const AssignmentFile = "ASSIGNMENT.yaml"

// Assignment is the item chunk handed to one worker slot.
type Assignment struct {
	RunID  string `yaml:"run_id"`
	Cycle  int    `yaml:"cycle"`
	Worker int    `yaml:"worker"`
	Items  []Item `yaml:"items"`
}

// WriteAssignment serializes the assignment into the worker's working
// directory and returns the file path.
func WriteAssignment(dir string, a Assignment) (string, error) {
	data, err := yaml.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal assignment: %w", err)
	}

	path := filepath.Join(dir, AssignmentFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write assignment: %w", err)
	}
	return path, nil
}

// ReadAssignment loads an assignment file, used by tests and the reviewer
// digest builder.
func ReadAssignment(path string) (*Assignment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assignment: %w", err)
	}
	var a Assignment
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse assignment: %w", err)
	}
	return &a, nil
}
