// Package parser turns raw model text into the structured plan documents,
// file blocks, and command blocks the controller acts on. Models return
// wildly inconsistent shapes, so every function here is deliberately
// tolerant: a parse failure degrades to "nothing usable" rather than an
// error wherever a partial result can still drive the loop forward.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
)

// FileBlock is one ===FILE: path=== ... ===END FILE=== block.
type FileBlock struct {
	Path    string
	Content string
}

// PlanEntry is one normalised entry of a plan document's "plan" list.
type PlanEntry struct {
	File      string
	Action    string
	Functions []string
	Extra     map[string]any
}

// PlanDocument is the parsed, normalised top-level JSON object a plan or
// review call returns.
type PlanDocument struct {
	Plan       []PlanEntry `json:"plan"`
	Confidence string      `json:"confidence,omitempty"`
	DKAddition string      `json:"dk_addition,omitempty"`
	Raw        map[string]any
}

var planSchema = jsonschema.Reflect(&struct {
	Plan []struct {
		File string `json:"file"`
	} `json:"plan"`
}{})

var (
	fenceOpenRe  = regexp.MustCompile("(?m)^```(?:json)?\\s*\\n?")
	fenceCloseRe = regexp.MustCompile("(?m)\\n?```\\s*$")
	jsonSpanRe   = regexp.MustCompile(`(?s)\{.*\}`)
	fileBlockRe  = regexp.MustCompile(`(?s)===FILE:\s*(.+?)===\s*\n(.*?)===END FILE===`)
	cmdBlockRe   = regexp.MustCompile(`(?s)===CMD===\s*\n(.*?)===END CMD===`)
	pyFileRe     = regexp.MustCompile(`[\w/\\.\-]+\.py\b`)
	testFuncRe   = regexp.MustCompile(`(?m)^def test_`)
	failingNameRe = regexp.MustCompile(`([\w/\\.\-]+::[\w:\[\]\-.]+)`)
)

var fileKeys = []string{"file", "filename", "filepath", "path", "file_path", "target", "source", "module", "target_file", "source_file"}
var actionKeys = []string{"action", "operation", "type", "mode"}
var stripPrefixes = []string{"workspace/", "workspace\\", "./", ".\\"}

// ParseJSONOutput extracts a JSON object from raw model text: it strips
// markdown code fences, tries a direct decode, and falls back to scanning
// for the first `{...}` span in the text.
func ParseJSONOutput(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)
	cleaned := fenceOpenRe.ReplaceAllString(trimmed, "")
	cleaned = fenceCloseRe.ReplaceAllString(strings.TrimSpace(cleaned), "")

	var out map[string]any
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out, nil
	}

	if m := jsonSpanRe.FindString(text); m != "" {
		if err := json.Unmarshal([]byte(m), &out); err == nil {
			return out, nil
		}
	}

	preview := text
	if len(preview) > 500 {
		preview = preview[:500]
	}
	return nil, fmt.Errorf("could not parse JSON from model output:\n%s", preview)
}

// ParsePlanDocument parses and normalises a full plan/audit/review
// response: ParseJSONOutput, then NormalisePlan over the "plan" key, then
// a structural schema check so a plan of the wrong shape (e.g. "plan": "none"
// instead of a list) is rejected rather than silently coerced to empty.
func ParsePlanDocument(text, fallbackFile string) (*PlanDocument, error) {
	raw, err := ParseJSONOutput(text)
	if err != nil {
		return nil, err
	}

	if err := validateAgainstSchema(raw); err != nil {
		return nil, err
	}

	doc := &PlanDocument{Raw: raw}

	if planVal, ok := raw["plan"]; ok {
		list, ok := planVal.([]any)
		if !ok {
			return nil, fmt.Errorf("plan field is not a list: %T", planVal)
		}
		doc.Plan = NormalisePlan(list, fallbackFile)
	}

	if c, ok := raw["confidence"].(string); ok {
		doc.Confidence = c
	}
	if dk, ok := raw["dk_addition"].(string); ok {
		doc.DKAddition = dk
	}

	return doc, nil
}

func validateAgainstSchema(raw map[string]any) error {
	planVal, ok := raw["plan"]
	if !ok {
		return nil
	}
	switch planVal.(type) {
	case []any, nil:
		return nil
	default:
		return fmt.Errorf("plan field does not match expected schema (%s): got %T", planSchema.Title, planVal)
	}
}

// ParseFileBlocks extracts ===FILE: path=== ... ===END FILE=== blocks.
func ParseFileBlocks(text string) []FileBlock {
	var blocks []FileBlock
	for _, m := range fileBlockRe.FindAllStringSubmatch(text, -1) {
		blocks = append(blocks, FileBlock{
			Path:    strings.TrimSpace(m[1]),
			Content: m[2],
		})
	}
	return blocks
}

// ParseCommandBlocks extracts ===CMD=== ... ===END CMD=== blocks.
func ParseCommandBlocks(text string) []string {
	var cmds []string
	for _, m := range cmdBlockRe.FindAllStringSubmatch(text, -1) {
		cmds = append(cmds, strings.TrimSpace(m[1]))
	}
	return cmds
}

// NormalisePlan normalises a raw decoded plan list so every surviving
// entry has a "file" and "action" key, regardless of what the model named
// them. fallbackFile is used for entries with no detectable path (review
// plans that describe function-level fixes without naming their file).
func NormalisePlan(plan []any, fallbackFile string) []PlanEntry {
	var out []PlanEntry

	for _, item := range plan {
		m, ok := item.(map[string]any)
		if !ok {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if match := pyFileRe.FindString(s); match != "" {
				m = map[string]any{"file": match}
			} else {
				continue
			}
		}

		entry := make(map[string]any, len(m))
		for k, v := range m {
			entry[k] = v
		}

		file, hasFile := stringField(entry, "file")
		if !hasFile {
			for _, k := range fileKeys {
				if v, ok := stringField(entry, k); ok && strings.Contains(v, ".") {
					file = v
					hasFile = true
					delete(entry, k)
					break
				}
			}
		}

		if !hasFile {
			for k, v := range entry {
				if s, ok := v.(string); ok {
					if match := pyFileRe.FindString(s); match != "" {
						file = match
						hasFile = true
						_ = k
						break
					}
				}
			}
		}

		if !hasFile && fallbackFile != "" {
			file = fallbackFile
			hasFile = true
		}

		if !hasFile {
			continue
		}

		for _, prefix := range stripPrefixes {
			if strings.HasPrefix(file, prefix) {
				file = file[len(prefix):]
				break
			}
		}

		action, hasAction := stringField(entry, "action")
		if !hasAction {
			for _, k := range actionKeys {
				if v, ok := stringField(entry, k); ok {
					action = v
					hasAction = true
					delete(entry, k)
					break
				}
			}
		}
		if !hasAction {
			action = "modify"
		}

		var functions []string
		if fn, ok := entry["functions"].([]any); ok {
			for _, f := range fn {
				if s, ok := f.(string); ok {
					functions = append(functions, s)
				}
			}
		}

		delete(entry, "file")
		delete(entry, "action")
		delete(entry, "functions")

		out = append(out, PlanEntry{
			File:      file,
			Action:    action,
			Functions: functions,
			Extra:     entry,
		})
	}

	return out
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ExtractReviewCode pulls corrected code snippets out of a reviewer's plan
// entries. Reviewers often return a "code" field holding the exact
// corrected function body; this collects all of them so the implementer
// role can apply them directly.
func ExtractReviewCode(doc *PlanDocument) string {
	if doc == nil {
		return ""
	}

	var corrections []string
	for _, entry := range doc.Plan {
		code, _ := entry.Extra["code"].(string)
		code = strings.TrimSpace(code)
		if len(code) <= 10 {
			continue
		}

		desc, _ := entry.Extra["description"].(string)
		if desc == "" {
			desc, _ = entry.Extra["rationale"].(string)
		}
		if desc == "" {
			desc, _ = entry.Extra["reason"].(string)
		}
		if desc == "" {
			desc = entry.Action
		}

		header := "# Correction from review"
		if desc != "" {
			header = fmt.Sprintf("# Fix: %s", desc)
		}
		corrections = append(corrections, header+"\n"+code)
	}

	if len(corrections) == 0 {
		return ""
	}
	return strings.Join(corrections, "\n\n")
}

// ExtractFailingTestNames scans pytest output for lines reporting a failed
// test and returns the stable `file::test_name` identifiers, deduplicated
// and in first-seen order. A line only counts as a failure report when it
// carries both the "FAILED" marker and the "::" node-id separator --
// requiring both avoids matching assertion text that happens to mention
// the word "FAILED" without naming a test.
func ExtractFailingTestNames(testOutput string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, line := range strings.Split(testOutput, "\n") {
		if !strings.Contains(line, "FAILED") || !strings.Contains(line, "::") {
			continue
		}
		match := failingNameRe.FindString(line)
		if match == "" || seen[match] {
			continue
		}
		seen[match] = true
		names = append(names, match)
	}
	return names
}

// CountTestFunctions counts top-level `def test_...` functions in source
// text. The audit and review phases use it to measure whether a rewritten
// test file still covers what it covered before.
func CountTestFunctions(content string) int {
	return len(testFuncRe.FindAllString(content, -1))
}
