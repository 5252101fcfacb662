package container

import "fmt"

// buildBinds maps the worker's host working directory into the container,
// plus the profile notes directory read-only when one is set.
func buildBinds(workDir, notesDir string) []string {
	binds := []string{fmt.Sprintf("%s:%s", workDir, workspaceMount)}
	if notesDir != "" {
		binds = append(binds, fmt.Sprintf("%s:%s:ro", notesDir, notesMount))
	}
	return binds
}
