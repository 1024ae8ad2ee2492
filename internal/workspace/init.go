package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Init scaffolds a new isomoira project at dir: philosophy.md, task.md,
// .isomoiraignore, and an empty workspace/ directory.
func Init(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return ErrProjectExists
	}

	if err := os.MkdirAll(filepath.Join(dir, "workspace"), 0o755); err != nil {
		return fmt.Errorf("create project directory: %w", err)
	}

	files := map[string]string{
		filepath.Join(dir, "philosophy.md"):     defaultPhilosophy,
		filepath.Join(dir, "task.md"):            defaultTask,
		filepath.Join(dir, ".isomoiraignore"):    defaultIgnore,
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	return nil
}

const defaultPhilosophy = `# Philosophy

Describe the engineering principles the planner and implementer models
should follow for this project: coding style, libraries that are in
bounds, libraries that are out of bounds, and anything else that should
steer every generated plan and implementation.
`

const defaultTask = `# Task

## Objective

Describe what the implementer should build.

## Scope

List the files (relative to workspace/) that are in scope for this task.

## Constraints

List any hard constraints: performance, compatibility, forbidden APIs.

## Domain Knowledge

Facts the models need but might not infer on their own. The controller
appends auto-generated amendments here when the loop gets stuck; anything
you add by hand stays above the auto-generated section.
`

const defaultIgnore = `__pycache__/
.pytest_cache/
node_modules/
.git/
`
