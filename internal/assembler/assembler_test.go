package assembler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/daydemir/isomoira/internal/parser"
)

func TestPlanIncludesTaskAndCodebaseSummary(t *testing.T) {
	p := Plan("be careful", "build a widget", "# Codebase Summary\n...", nil)
	assert.Contains(t, p.User, "build a widget")
	assert.Contains(t, p.User, "# Codebase Summary")
	assert.Contains(t, p.System, "be careful")
	assert.Contains(t, p.System, "planning model")
}

func TestPlanIncludesScopeFiles(t *testing.T) {
	p := Plan("philosophy", "task", "summary", map[string]string{"a.py": "print(1)"})
	assert.Contains(t, p.User, "a.py")
	assert.Contains(t, p.User, "print(1)")
}

func TestImplementIncludesPlanAndReviewCode(t *testing.T) {
	plan := []parser.PlanEntry{{File: "a.py", Action: "create", Functions: []string{"f"}}}
	p := Implement("phil", "task", plan, nil, "prior diagnosis", "", "", "def f():\n    return 1\n")
	assert.Contains(t, p.User, "a.py")
	assert.Contains(t, p.User, "prior diagnosis")
	assert.Contains(t, p.User, "def f():")
	assert.Contains(t, p.System, "implementation model")
}

func TestImplementIncludesStuckHint(t *testing.T) {
	p := Implement("phil", "task", nil, nil, "", "", "try something different", "")
	assert.Contains(t, p.User, "try something different")
}

func TestImplementExtractsFailureLines(t *testing.T) {
	testOutput := "collecting...\nFAILED test_x.py::test_one\nE   assert 1 == 2\nok line\n"
	p := Implement("phil", "task", nil, nil, "", testOutput, "", "")
	assert.Contains(t, p.User, "FAILED test_x.py::test_one")
	assert.Contains(t, p.User, "assert 1 == 2")
	assert.NotContains(t, p.User, "ok line")
}

func TestReviewSystemPromptAsksForCorrectedPlan(t *testing.T) {
	p := Review("phil", "task", "", "", nil)
	assert.Contains(t, p.System, "corrected implementation plan")
}

func TestTestAuditRequestsTestsCorrectVerdict(t *testing.T) {
	p := TestAudit("phil", "task", "def test_one(): pass\n", "FAILED test_x.py::test_one\n")
	assert.Contains(t, p.System, "tests_correct")
	assert.Contains(t, p.User, "def test_one")
}

func TestPlanTruncatesAgainstConsultantBudget(t *testing.T) {
	system := strings.Repeat("s", 100)
	big := strings.Repeat("u", 400000)
	p := Plan(system, big, "summary", nil)
	assert.True(t, strings.HasSuffix(p.User, truncationMarker))
}

func TestDKPingIncludesStuckScore(t *testing.T) {
	p := DKPing("phil", "task", "diagnosis", "output", 7, nil, nil, nil)
	assert.Contains(t, p.User, "7")
	assert.Contains(t, p.System, "consulting model")
}

func TestDKPingIncludesFailingNamesAndImplFiles(t *testing.T) {
	p := DKPing("phil", "task", "diagnosis", "output", 7,
		[]string{"test_a.py::test_one"}, []string{"E   assert 1 == 2"},
		map[string]string{"a.py": "def f(): pass"})
	assert.Contains(t, p.User, "test_a.py::test_one")
	assert.Contains(t, p.User, "assert 1 == 2")
	assert.Contains(t, p.User, "a.py")
	assert.Contains(t, p.System, "diagnosis")
}

func TestDKPingCapsTestOutput(t *testing.T) {
	big := strings.Repeat("x", dkPingTestOutputCap+500)
	p := DKPing("phil", "task", "", big, 7, nil, nil, nil)
	assert.Less(t, strings.Count(p.User, "x"), len(big))
}

func TestTruncateLeavesShortPromptsUntouched(t *testing.T) {
	user := truncate("short system", "short user", RoleBudget)
	assert.Equal(t, "short user", user)
}

func TestTruncateShrinksOversizedUser(t *testing.T) {
	system := strings.Repeat("s", 100)
	user := strings.Repeat("u", 100000)
	out := truncate(system, user, RoleBudget)
	assert.Less(t, len(out), len(user))
	assert.True(t, strings.HasSuffix(out, truncationMarker))
}
