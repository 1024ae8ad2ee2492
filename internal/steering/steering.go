// Package steering reads the philosophy/task steering files and owns the
// task file's one mutable region: the append-only Domain Knowledge
// amendment trail the convergence controller writes to on a DK-ping.
package steering

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var scopeFileRe = regexp.MustCompile(`[\w/\-.]+\.(?:py|js|ts|json|yaml|yml|toml|cfg|txt|md)`)
var scopeSectionRe = regexp.MustCompile(`(?s)##\s*Scope\s*\n(.*?)(?:\n##|\z)`)
var dkSectionRe = regexp.MustCompile(`(?s)(##\s*Domain Knowledge\s*\n)(.*?)(\n##|\z)`)

// ReadFileSafe reads path, returning "" if it does not exist.
func ReadFileSafe(path string) string {
	content, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(content)
}

// LoadScopeFiles extracts file paths named in the task's "## Scope"
// section and reads any that exist inside workspaceRoot.
func LoadScopeFiles(taskText, workspaceRoot string) map[string]string {
	files := make(map[string]string)

	m := scopeSectionRe.FindStringSubmatch(taskText)
	if m == nil {
		return files
	}

	for _, rel := range scopeFileRe.FindAllString(m[1], -1) {
		full := filepath.Join(workspaceRoot, rel)
		if content, err := os.ReadFile(full); err == nil {
			files[rel] = string(content)
		}
	}
	return files
}

// OriginalTaskSize returns len(taskText) as it was before any DK
// amendment, used to derive the task_size_cap.
func OriginalTaskSize(taskText string) int {
	return len(taskText)
}

// AppendDKAmendment appends a tagged, size-capped addition to the task's
// "## Domain Knowledge" section (creating the section if absent) and
// writes the result back to taskPath. It refuses to exceed sizeCap and
// truncates the addition to 500 characters, matching the escalation
// mechanism's bound on how much a single DK-ping may grow the task.
func AppendDKAmendment(taskPath, taskText string, iteration int, addition string, sizeCap int) (string, error) {
	addition = strings.TrimSpace(addition)
	if len(addition) > 500 {
		addition = addition[:500]
	}

	tagged := fmt.Sprintf("\n- [Auto-DK iteration %d] %s\n", iteration, addition)

	var updated string
	if m := dkSectionRe.FindStringSubmatchIndex(taskText); m != nil {
		head := taskText[:m[5]]
		tail := taskText[m[5]:]
		updated = head + tagged + tail
	} else {
		updated = taskText + "\n\n## Domain Knowledge\n" + tagged
	}

	if len(updated) > sizeCap {
		return taskText, fmt.Errorf("DK amendment would exceed task size cap (%d > %d)", len(updated), sizeCap)
	}

	if err := os.WriteFile(taskPath, []byte(updated), 0o644); err != nil {
		return taskText, fmt.Errorf("write task file: %w", err)
	}

	return updated, nil
}
