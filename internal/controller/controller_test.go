package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/daydemir/isomoira/internal/config"
	"github.com/daydemir/isomoira/internal/profile"
)

func TestUpdateStuckCountersTracksRepeatedPattern(t *testing.T) {
	c := &Controller{}

	c.updateStuckCounters("FAILED test_a.py::test_one\n")
	assert.Equal(t, 1, c.effectiveStuckScore())

	c.updateStuckCounters("FAILED test_a.py::test_one\n")
	assert.Equal(t, 2, c.effectiveStuckScore())

	c.updateStuckCounters("FAILED test_a.py::test_one\n")
	assert.Equal(t, 3, c.effectiveStuckScore())
}

func TestUpdateStuckCountersResetsOnChangedPattern(t *testing.T) {
	c := &Controller{}

	c.updateStuckCounters("FAILED test_a.py::test_one\n")
	c.updateStuckCounters("FAILED test_a.py::test_one\n")
	assert.Equal(t, 2, c.state.stuckCount)

	// Pattern changes from a single failure to a failure plus a pass.
	c.updateStuckCounters("FAILED test_a.py::test_one\nPASSED test_b.py::test_two\n")
	assert.Equal(t, 1, c.state.stuckCount, "pattern hash should reset when the P/F sequence changes")
}

func TestUpdateStuckCountersIgnoresCosmeticNoise(t *testing.T) {
	c := &Controller{}

	// Same pass/fail pattern, different surrounding noise (timing, run
	// number) -- the pattern hash is built only from PASSED/FAILED lines,
	// so cosmetic differences elsewhere in the output don't reset it.
	c.updateStuckCounters("FAILED test_a.py::test_one\n[run 1]")
	c.updateStuckCounters("FAILED test_a.py::test_one\n[run 2]")
	c.updateStuckCounters("FAILED test_a.py::test_one\n[run 3]")

	assert.Equal(t, 3, c.state.stuckCount)
}

func TestFailingSetCountResetsWhenFailingTestChangesEvenIfPatternDoesnt(t *testing.T) {
	c := &Controller{}

	// The pattern ("F") is identical across both iterations, but a
	// different test is failing each time -- the failing-set signal should
	// catch that the run isn't actually stuck on the same thing.
	c.updateStuckCounters("FAILED test_a.py::test_one\n")
	c.updateStuckCounters("FAILED test_b.py::test_two\n")

	assert.Equal(t, 2, c.state.stuckCount, "pattern-based counter is content-blind")
	assert.Equal(t, 1, c.state.failingSetCount, "failing-set counter should reset on a different failing test")
}

func TestFailingTestNameSetIsOrderIndependent(t *testing.T) {
	a := failingTestNameSet("FAILED test_b.py::test_two\nFAILED test_a.py::test_one\n")
	b := failingTestNameSet("FAILED test_a.py::test_one\nFAILED test_b.py::test_two\n")
	assert.Equal(t, a, b)
}

func TestFailingTestNameSetIgnoresNonFailureLines(t *testing.T) {
	set := failingTestNameSet("collecting 3 items\nPASSED test_a.py::test_one\n")
	assert.Equal(t, "", set)
}

func TestFailingTestNameSetRequiresNodeIDSeparator(t *testing.T) {
	// "FAILED" without a "::" node id isn't a parseable test identity --
	// e.g. a summary line or free-text mention of the word.
	set := failingTestNameSet("1 FAILED, 2 passed\n")
	assert.Equal(t, "", set)
}

func TestTruncateLogShortensLongStrings(t *testing.T) {
	assert.Equal(t, "hello", truncateLog("hello world", 5))
	assert.Equal(t, "hi", truncateLog("hi", 5))
}

func TestOutcomeConstantsAreDistinct(t *testing.T) {
	seen := map[Outcome]bool{}
	for _, o := range []Outcome{Success, HaltDKUnparseable, HaltDKLowConfidence, HaltDKSizeCap, FatalPlanParse, FatalTestRunner, FatalModelClient} {
		assert.False(t, seen[o], "duplicate outcome constant: %s", o)
		seen[o] = true
	}
}

func TestRoleForEscalationPicksPlannerBelowThreshold(t *testing.T) {
	c := &Controller{cfg: &config.Config{Models: config.ModelsConfig{Planner: "planner-model", Consultant: "consultant-model"}}}

	role, modelID := c.roleForEscalation(escalationThreshold - 1)
	assert.Equal(t, profile.Planner, role)
	assert.Equal(t, "planner-model", modelID)
}

func TestRoleForEscalationPicksConsultantAtThreshold(t *testing.T) {
	c := &Controller{cfg: &config.Config{Models: config.ModelsConfig{Planner: "planner-model", Consultant: "consultant-model"}}}

	role, modelID := c.roleForEscalation(escalationThreshold)
	assert.Equal(t, profile.Consultant, role)
	assert.Equal(t, "consultant-model", modelID)
}
