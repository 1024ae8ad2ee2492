// Package assembler builds the system/user prompt pairs sent to each
// model role, truncating the user half (never the system half) when the
// combined estimate exceeds the role's token budget.
package assembler

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/daydemir/isomoira/internal/llmclient"
	"github.com/daydemir/isomoira/internal/parser"
)

// Budgets, in estimated tokens, for the planner/implementer/audit/review
// roles versus the consultant (DK-ping) role.
const (
	RoleBudget       = 16384
	ConsultantBudget = 61440

	truncationMarker = "\n\n[...truncated to fit context window...]"
)

// Prompt is an assembled system/user pair ready for llmclient.Call.
type Prompt struct {
	System string
	User   string
}

func truncate(system, user string, budget int) string {
	total := llmclient.EstimateTokens(system) + llmclient.EstimateTokens(user)
	if total <= budget {
		return user
	}
	maxChars := (budget - llmclient.EstimateTokens(system) - 500) * 3
	if maxChars < 0 {
		maxChars = 0
	}
	if maxChars >= len(user) {
		return user
	}
	return user[:maxChars] + truncationMarker
}

// Plan assembles the PLAN-phase prompt: philosophy, task, codebase
// summary, and any scope files named in the task's Scope section.
func Plan(philosophy, task, codebaseSummary string, scopeFiles map[string]string) Prompt {
	system := philosophy + `

You are the planning model in a two-model TDD pipeline. Your job:
1. Analyse the task against the current codebase.
2. Write pytest test functions FIRST that define the expected behaviour.
   Tests must be runnable independently. Use only stdlib + pytest.
3. Then write an implementation plan: which files to create/modify,
   function signatures, and pseudocode per function.

Output format (strict -- the orchestrator parses this):

{
  "tests": {
    "filename": "test_<module>.py",
    "content": "<full pytest file content>"
  },
  "plan": [
    {
      "file": "path/to/file.py",
      "action": "create|modify",
      "functions": [
        {
          "name": "function_name",
          "signature": "def function_name(arg1: type, arg2: type) -> return_type",
          "pseudocode": "Brief description of what this function does"
        }
      ]
    }
  ]
}

Do not write implementation code. Only tests and the plan.
Do not invent libraries or APIs not mentioned in Domain Knowledge.
Output ONLY the JSON object. No markdown fences. No preamble.`

	parts := []string{task, "---", codebaseSummary}
	parts = append(parts, scopeFileParts(scopeFiles)...)
	user := strings.Join(parts, "\n\n")

	// Plan runs under the consultant role (large context, think-block
	// stripped), so it truncates against the consultant budget.
	return Prompt{System: system, User: truncate(system, user, ConsultantBudget)}
}

// Implement assembles the IMPLEMENT-phase prompt, optionally carrying
// forward a prior review's diagnosis, failing test output, a stuck hint,
// and exact corrected code from a review cycle.
func Implement(philosophy, task string, plan []parser.PlanEntry, scopeFiles map[string]string, diagnosis, testOutput, stuckHint, reviewCode string) Prompt {
	system := philosophy + `

You are the implementation model. You receive a plan with function
signatures and pseudocode. Your job:
1. Implement each function according to the plan.
2. Output the complete modified file contents.
3. Do not modify function signatures from the plan.
4. Do not add functions not in the plan.

For each file, output a file block:

===FILE: path/to/file.py===
<complete file content>
===END FILE===

If you need to run a shell command (e.g., install a dependency), output:

===CMD===
<command>
===END CMD===

Output ONLY file blocks and command blocks. No explanations.`

	planJSON, _ := json.MarshalIndent(planToJSON(plan), "", "  ")
	parts := []string{task, "---\n## Implementation Plan\n" + string(planJSON)}

	if diagnosis != "" {
		parts = append(parts, "---\n## Previous Attempt Failed\n"+
			"The previous implementation had these issues:\n"+diagnosis)
	}
	if testOutput != "" {
		if failLines := extractFailureLines(testOutput); len(failLines) > 0 {
			parts = append(parts, "---\n## Test Failures\n```\n"+strings.Join(failLines, "\n")+"\n```")
		}
	}
	if reviewCode != "" {
		parts = append(parts, "---\n## Corrected Functions From Review\n"+
			"Use these EXACT implementations in your output:\n```\n"+reviewCode+"\n```")
	}
	if stuckHint != "" {
		parts = append(parts, "---\n## IMPORTANT\n"+stuckHint)
	}
	parts = append(parts, scopeFileParts(scopeFiles)...)

	user := strings.Join(parts, "\n\n")
	return Prompt{System: system, User: truncate(system, user, RoleBudget)}
}

// TestAudit assembles the audit-phase prompt: the primary defence against
// a review model quietly narrowing the test surface to make failures go
// away. It runs every iteration the loop isn't DK-pinged, before Review,
// and asks the model to judge the test file on its own merits rather than
// propose an implementation fix.
func TestAudit(philosophy, task, testContent, testOutput string) Prompt {
	system := philosophy + `

Tests are failing repeatedly. Before a full implementation review, audit
the test file itself:
1. Does every test assert something the task actually requires?
2. Are there tests asserting behaviour contradicted elsewhere in the task?
3. Is the failure consistent with a test bug rather than an implementation bug?

If the tests are correct, say so and change nothing. Only propose a
replacement test file when a test itself is wrong -- never to make a
failure disappear by removing coverage.

Output format:
{
  "tests_correct": true|false,
  "issues": "Brief explanation of what, if anything, is wrong with the tests",
  "tests": { "filename": "...", "content": "..." }
}

Include "tests" ONLY when tests_correct is false and you are proposing a
replacement file. The replacement must cover at least as much as the
original -- do not drop test functions.
Output ONLY the JSON object. No markdown fences. No preamble.`

	user := strings.Join([]string{
		task,
		"---\n## Test File\n```\n" + testContent + "\n```",
		"---\n## Test Output (failures)\n```\n" + testOutput + "\n```",
	}, "\n\n")

	return Prompt{System: system, User: truncate(system, user, RoleBudget)}
}

// Review assembles the REVIEW-phase prompt.
func Review(philosophy, task, testContent, testOutput string, implFiles map[string]string) Prompt {
	system := philosophy + `

Tests are failing. Your job:
1. Analyse the test failures against the implementation.
2. Identify the root cause of EACH failure.
3. Write a corrected implementation plan addressing ONLY the failures.
   Do not rewrite parts that are working.
4. If the tests themselves are wrong (testing for incorrect behaviour),
   you may revise the tests. Explain why.

Output format:
{
  "tests": { "filename": "...", "content": "..." },
  "plan": [ ... ],
  "diagnosis": "Brief explanation of what went wrong"
}

Include "tests" ONLY if tests need to change.
Output ONLY the JSON object. No markdown fences. No preamble.`

	parts := []string{
		task,
		"---\n## Test File\n```\n" + testContent + "\n```",
		"---\n## Test Output (failures)\n```\n" + testOutput + "\n```",
	}
	parts = append(parts, scopeFileParts(implFiles)...)
	user := strings.Join(parts, "\n\n")

	return Prompt{System: system, User: truncate(system, user, RoleBudget)}
}

// dkPingTestOutputCap is the hard ceiling on raw test output passed into a
// DK-ping prompt, separate from and stricter than the overall consultant
// token budget: the consultant needs the failure signal, not a full log.
const dkPingTestOutputCap = 6000

// DKPing assembles the consultant escalation prompt: the task is visibly
// stuck, and the consultant role is asked for a domain-knowledge addition
// rather than another plan. It must see the failing test names, the
// assertion-level diagnostic lines, and the current implementation --
// otherwise it is being asked to fix a stuck run without seeing what's
// actually running.
func DKPing(philosophy, task, diagnosis, testOutput string, stuckScore int, failingNames, assertionLines []string, implFiles map[string]string) Prompt {
	system := philosophy + `

You are the consulting model. The implementation loop is stuck: the same
failure pattern has repeated many times in a row. Your job is NOT to
produce another plan. Instead, diagnose the root cause and identify the
missing domain knowledge that is causing the loop to repeat the same
mistake.

Output format:
{
  "diagnosis": "What is actually going wrong, based on the implementation and failures below",
  "confidence": "high|medium|low",
  "dk_addition": "A short, concrete addition to the task's Domain Knowledge section"
}

confidence must be "high" or "medium" for the addition to be accepted.
Output ONLY the JSON object. No markdown fences. No preamble.`

	cappedOutput := testOutput
	if len(cappedOutput) > dkPingTestOutputCap {
		cappedOutput = cappedOutput[:dkPingTestOutputCap] + truncationMarker
	}

	parts := []string{
		task,
		"---\n## Stuck Score\n" + strconv.Itoa(stuckScore),
		"---\n## Last Diagnosis\n" + diagnosis,
	}
	if len(failingNames) > 0 {
		parts = append(parts, "---\n## Failing Tests\n"+strings.Join(failingNames, "\n"))
	}
	if len(assertionLines) > 0 {
		parts = append(parts, "---\n## Assertion Failures\n```\n"+strings.Join(assertionLines, "\n")+"\n```")
	}
	parts = append(parts, "---\n## Test Output\n```\n"+cappedOutput+"\n```")
	parts = append(parts, scopeFileParts(implFiles)...)

	user := strings.Join(parts, "\n\n")
	return Prompt{System: system, User: truncate(system, user, ConsultantBudget)}
}

func scopeFileParts(files map[string]string) []string {
	if len(files) == 0 {
		return nil
	}
	parts := []string{"---\n## File Contents"}
	for path, content := range files {
		parts = append(parts, "\n### "+path+"\n```\n"+content+"\n```")
	}
	return parts
}

func extractFailureLines(testOutput string) []string {
	var out []string
	for _, line := range strings.Split(testOutput, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.Contains(line, "FAILED") || strings.Contains(line, "Error") ||
			strings.Contains(lower, "assert") ||
			strings.HasPrefix(trimmed, "E ") || strings.HasPrefix(trimmed, ">") {
			out = append(out, line)
		}
		if len(out) >= 30 {
			break
		}
	}
	return out
}

func planToJSON(plan []parser.PlanEntry) []map[string]any {
	out := make([]map[string]any, 0, len(plan))
	for _, e := range plan {
		m := map[string]any{
			"file":      e.File,
			"action":    e.Action,
			"functions": e.Functions,
		}
		for k, v := range e.Extra {
			m[k] = v
		}
		out = append(out, m)
	}
	return out
}
