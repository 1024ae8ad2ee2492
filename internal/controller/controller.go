// Package controller implements the convergence loop: SUMMARISE -> PLAN ->
// (IMPLEMENT -> TEST -> AUDIT [-> REVIEW])* -> SUCCESS, with a DK-ping
// escalation path when the loop gets stuck and a set of terminal halt
// states when escalation doesn't resolve it.
package controller

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/daydemir/isomoira/internal/assembler"
	"github.com/daydemir/isomoira/internal/config"
	"github.com/daydemir/isomoira/internal/display"
	"github.com/daydemir/isomoira/internal/llmclient"
	"github.com/daydemir/isomoira/internal/logging"
	"github.com/daydemir/isomoira/internal/parser"
	"github.com/daydemir/isomoira/internal/profile"
	"github.com/daydemir/isomoira/internal/sandbox"
	"github.com/daydemir/isomoira/internal/steering"
	"github.com/daydemir/isomoira/internal/summary"
	"github.com/daydemir/isomoira/internal/testrunner"
	"github.com/daydemir/isomoira/internal/workspace"
)

// escalationThreshold is the effective stuck score at which Phase 5A
// (audit) and Phase 5B (review) hand off from the planner role to the
// consultant role. Below it, the cheaper planner role runs both phases;
// at or above it, the same escalation rule applies to both.
const escalationThreshold = 3

// Outcome names the terminal state a run ends in.
type Outcome string

const (
	Success             Outcome = "SUCCESS"
	HaltDKUnparseable   Outcome = "HALT_DK_UNPARSEABLE"
	HaltDKLowConfidence Outcome = "HALT_DK_LOW_CONFIDENCE"
	HaltDKSizeCap       Outcome = "HALT_DK_SIZE_CAP"
	FatalPlanParse      Outcome = "FATAL_PLAN_PARSE"
	FatalTestRunner     Outcome = "FATAL_TEST_RUNNER"
	FatalModelClient    Outcome = "FATAL_MODEL_CLIENT"
)

// ErrorKind classifies a RunError for the four handling strategies the
// spec distinguishes.
type ErrorKind int

const (
	KindFatal ErrorKind = iota
	KindHalt
	KindRecoverable
	KindBlocked
)

// RunError carries a classified failure out of the loop.
type RunError struct {
	Kind    ErrorKind
	Outcome Outcome
	Err     error
}

func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Outcome, e.Err)
	}
	return string(e.Outcome)
}
func (e *RunError) Unwrap() error { return e.Err }

// Controller owns the single mutable IterationState and drives the loop.
type Controller struct {
	cfg     *config.Config
	client  *llmclient.Client
	disp    *display.Display
	log     *logging.Logger
	layout  workspace.Layout

	philosophy       string
	task             string
	taskPath         string
	originalTaskSize int

	state IterationState
}

// IterationState is the loop's complete mutable state.
type IterationState struct {
	Iteration        int
	TestFilename     string
	TestContent      string
	OriginalTestSize int
	Plan             []parser.PlanEntry
	LastDiagnosis    string
	LastReviewCode   string
	LastTestOutput   string

	lastTestHash    string
	stuckCount      int
	lastFailingSet  string
	failingSetCount int

	dkPingCount int
}

// New builds a Controller ready to Run.
func New(cfg *config.Config, client *llmclient.Client, disp *display.Display, log *logging.Logger, layout workspace.Layout, philosophy, task, taskPath string) *Controller {
	return &Controller{
		cfg:              cfg,
		client:           client,
		disp:             disp,
		log:              log,
		layout:           layout,
		philosophy:       philosophy,
		task:             task,
		taskPath:         taskPath,
		originalTaskSize: steering.OriginalTaskSize(task),
	}
}

// Run drives the loop to a terminal outcome.
func (c *Controller) Run(ctx context.Context) (Outcome, error) {
	c.log.Info("starting run: workspace=%s planner=%s implementer=%s consultant=%s",
		c.layout.WorkspaceDir, c.cfg.Models.Planner, c.cfg.Models.Implementer, c.cfg.Models.Consultant)

	codebaseSummary := summary.Digest(c.layout.WorkspaceDir)
	scopeFiles := steering.LoadScopeFiles(c.task, c.layout.WorkspaceDir)

	if err := c.plan(ctx, codebaseSummary, scopeFiles); err != nil {
		return planOutcome(err), err
	}

	for {
		c.state.Iteration++
		c.disp.Iteration(c.state.Iteration, "implement", c.effectiveStuckScore())

		if err := c.implement(ctx); err != nil {
			var re *RunError
			if errors.As(err, &re) {
				return re.Outcome, re
			}
			c.log.Warn("implement phase recoverable error: %v", err)
		}

		testResult, err := testrunner.Run(ctx, c.layout.WorkspaceDir, c.state.TestFilename)
		if err != nil {
			return FatalTestRunner, &RunError{Kind: KindFatal, Outcome: FatalTestRunner, Err: err}
		}
		c.state.LastTestOutput = testResult.Output

		if testResult.Passed {
			c.log.Info("all tests pass after %d iterations", c.state.Iteration)
			fmt.Print("\a")
			c.disp.RunComplete("task complete", c.state.Iteration)
			return Success, nil
		}

		c.updateStuckCounters(testResult.Output)

		effective := c.effectiveStuckScore()
		if effective >= c.cfg.Loop.DKPingThreshold {
			outcome, halted, err := c.dkPing(ctx, effective)
			if err != nil {
				var re *RunError
				if errors.As(err, &re) {
					return re.Outcome, re
				}
				return "", fmt.Errorf("dk-ping: %w", err)
			}
			if halted {
				fmt.Print("\a")
				c.disp.RunHalted(string(outcome), c.state.Iteration)
				return outcome, nil
			}
			// DK accepted: amendment applied, stuck counters reset, replan.
			if err := c.plan(ctx, summary.Digest(c.layout.WorkspaceDir), steering.LoadScopeFiles(c.task, c.layout.WorkspaceDir)); err != nil {
				return planOutcome(err), err
			}
			continue
		}

		// Phase 5A always runs: it's the primary defence against a review
		// model narrowing the test surface to make a failure disappear.
		// Only the role it runs under escalates with stress.
		replaced, err := c.audit(ctx, effective)
		if err != nil {
			var re *RunError
			if errors.As(err, &re) {
				return re.Outcome, re
			}
			c.log.Warn("audit phase recoverable error: %v", err)
		}
		if replaced {
			continue
		}

		if err := c.review(ctx, effective); err != nil {
			var re *RunError
			if errors.As(err, &re) {
				return re.Outcome, re
			}
			c.log.Warn("review phase recoverable error: %v", err)
		}
	}
}

// roleForEscalation applies the same stress-based role rule to both the
// audit and review phases: the planner role at low stress, the consultant
// role once the effective stuck score reaches escalationThreshold.
func (c *Controller) roleForEscalation(effective int) (role, modelID string) {
	if effective >= escalationThreshold {
		return profile.Consultant, c.cfg.Models.Consultant
	}
	return profile.Planner, c.cfg.Models.Planner
}

func (c *Controller) plan(ctx context.Context, codebaseSummary string, scopeFiles map[string]string) error {
	prompt := assembler.Plan(c.philosophy, c.task, codebaseSummary, scopeFiles)

	// Plan runs as the consultant role: it reads the whole codebase
	// summary and scope files, needs the larger context budget, and
	// benefits from having its think-blocks stripped like any other
	// consultant call.
	out, err := c.callModel(ctx, c.cfg.Models.Consultant, prompt, profile.Consultant)
	if err != nil {
		return &RunError{Kind: KindFatal, Outcome: FatalModelClient, Err: fmt.Errorf("plan phase model call: %w", err)}
	}

	raw, err := parser.ParseJSONOutput(out)
	if err != nil {
		return fmt.Errorf("plan phase produced unparseable output: %w", err)
	}

	testsVal, hasTests := raw["tests"].(map[string]any)
	if !hasTests {
		return fmt.Errorf("plan JSON missing required 'tests' key")
	}
	planDoc, err := parser.ParsePlanDocument(out, "")
	if err != nil {
		return fmt.Errorf("plan phase produced invalid plan: %w", err)
	}
	if len(planDoc.Plan) == 0 {
		return fmt.Errorf("plan phase produced no valid plan entries")
	}

	testFilename, _ := testsVal["filename"].(string)
	if testFilename == "" {
		testFilename = "test_module.py"
	}
	testContent, _ := testsVal["content"].(string)
	if testContent == "" {
		return fmt.Errorf("plan phase produced empty test content")
	}

	if err := os.MkdirAll(c.layout.WorkspaceDir, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.layout.WorkspaceDir, testFilename), []byte(testContent), 0o644); err != nil {
		return fmt.Errorf("write test file: %w", err)
	}

	c.state.TestFilename = testFilename
	c.state.TestContent = testContent
	c.state.OriginalTestSize = parser.CountTestFunctions(testContent)
	c.state.Plan = planDoc.Plan

	c.log.Info("plan: %d entries, test file %s (%d test functions)", len(c.state.Plan), testFilename, c.state.OriginalTestSize)
	return nil
}

func (c *Controller) implement(ctx context.Context) error {
	currentFiles := c.readPlanFiles()

	stuckHint := ""
	if c.effectiveStuckScore() >= c.cfg.Loop.StuckThreshold {
		stuckHint = fmt.Sprintf(
			"You have produced the same failing implementation %d times. "+
				"The previous approach is fundamentally wrong. Try a completely "+
				"different implementation strategy. Re-read the task requirements "+
				"carefully, especially the Domain Knowledge section.",
			c.effectiveStuckScore())
	}

	testOutput := ""
	if c.state.Iteration > 1 {
		testOutput = c.state.LastTestOutput
	}

	prompt := assembler.Implement(c.philosophy, c.task, c.state.Plan, currentFiles,
		c.state.LastDiagnosis, testOutput, stuckHint, c.state.LastReviewCode)

	out, err := c.callModel(ctx, c.cfg.Models.Implementer, prompt, profile.Implementer)
	if err != nil {
		return &RunError{Kind: KindFatal, Outcome: FatalModelClient, Err: fmt.Errorf("implement phase model call: %w", err)}
	}

	blocks := parser.ParseFileBlocks(out)
	if len(blocks) == 0 {
		c.log.Warn("no file blocks in implementation output")
	}
	for _, b := range blocks {
		full := filepath.Join(c.layout.WorkspaceDir, b.Path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			c.log.Warn("create dir for %s: %v", b.Path, err)
			continue
		}
		if err := os.WriteFile(full, []byte(b.Content), 0o644); err != nil {
			c.log.Warn("write %s: %v", b.Path, err)
			continue
		}
		c.log.Info("wrote: %s", b.Path)
	}

	for _, cmd := range parser.ParseCommandBlocks(out) {
		res, err := sandbox.Execute(ctx, cmd, c.layout.WorkspaceDir)
		if err != nil {
			return err
		}
		if res.Blocked {
			c.disp.Blocked(res.Stderr)
			fmt.Print("\a")
			c.log.Warn("blocked command: %s (%s)", cmd, res.Stderr)
			continue
		}
		if res.ReturnCode != 0 {
			c.log.Warn("cmd failed (rc=%d): %s", res.ReturnCode, truncateLog(res.Stderr, 200))
		} else {
			c.log.Info("cmd ok: %s", truncateLog(cmd, 80))
		}
	}

	return nil
}

// audit runs Phase 5A: a check on the test file itself, ahead of any
// implementation review. It is the primary defence against a review model
// quietly narrowing the test surface to make a failure go away -- a
// proposed replacement is only accepted if it covers at least as many
// test functions as the file it replaces. It reports whether a
// replacement was accepted so Run can skip Phase 5B for this iteration:
// there's nothing left to review against stale test content.
func (c *Controller) audit(ctx context.Context, effective int) (bool, error) {
	role, modelID := c.roleForEscalation(effective)

	prompt := assembler.TestAudit(c.philosophy, c.task, c.state.TestContent, c.state.LastTestOutput)
	out, err := c.callModel(ctx, modelID, prompt, role)
	if err != nil {
		return false, &RunError{Kind: KindFatal, Outcome: FatalModelClient, Err: fmt.Errorf("audit phase model call: %w", err)}
	}

	raw, err := parser.ParseJSONOutput(out)
	if err != nil {
		c.log.Warn("audit output unparseable: %v", err)
		return false, nil
	}

	testsCorrect, _ := raw["tests_correct"].(bool)
	issues, _ := raw["issues"].(string)
	c.log.Info("audit: tests_correct=%v issues=%s", testsCorrect, issues)
	if testsCorrect {
		return false, nil
	}

	testsVal, ok := raw["tests"].(map[string]any)
	if !ok {
		c.log.Warn("audit flagged the tests but proposed no replacement")
		return false, nil
	}
	proposed, _ := testsVal["content"].(string)
	if proposed == "" {
		return false, nil
	}
	proposedCount := parser.CountTestFunctions(proposed)
	if proposedCount < c.state.OriginalTestSize {
		c.log.Warn("rejected audit replacement: %d tests vs original %d", proposedCount, c.state.OriginalTestSize)
		return false, nil
	}

	filename, _ := testsVal["filename"].(string)
	if filename == "" {
		filename = c.state.TestFilename
	}
	if err := os.WriteFile(filepath.Join(c.layout.WorkspaceDir, filename), []byte(proposed), 0o644); err != nil {
		c.log.Warn("write audited test file: %v", err)
		return false, nil
	}

	c.state.TestFilename = filename
	c.state.TestContent = proposed
	c.state.OriginalTestSize = proposedCount
	c.log.Info("audit replaced tests: %s (%d test functions)", filename, proposedCount)
	return true, nil
}

func (c *Controller) review(ctx context.Context, effective int) error {
	implFiles := c.readPlanFiles()
	testContent := steering.ReadFileSafe(filepath.Join(c.layout.WorkspaceDir, c.state.TestFilename))
	if testContent != "" {
		c.state.TestContent = testContent
	}

	role, modelID := c.roleForEscalation(effective)
	prompt := assembler.Review(c.philosophy, c.task, c.state.TestContent, c.state.LastTestOutput, implFiles)

	out, err := c.callModel(ctx, modelID, prompt, role)
	if err != nil {
		return &RunError{Kind: KindFatal, Outcome: FatalModelClient, Err: fmt.Errorf("review phase model call: %w", err)}
	}

	fallback := ""
	if len(c.state.Plan) > 0 {
		fallback = c.state.Plan[0].File
	}
	doc, err := parser.ParsePlanDocument(out, fallback)
	if err != nil {
		c.log.Warn("review output unparseable: %v; retrying implementation with same plan", err)
		return nil
	}

	if doc.Raw != nil {
		if diagnosis, ok := doc.Raw["diagnosis"].(string); ok && diagnosis != "" {
			c.state.LastDiagnosis = diagnosis
			c.log.Info("diagnosis: %s", diagnosis)
		}
	}

	c.state.LastReviewCode = parser.ExtractReviewCode(doc)

	if testsVal, ok := doc.Raw["tests"].(map[string]any); ok {
		proposed, _ := testsVal["content"].(string)
		proposedCount := parser.CountTestFunctions(proposed)
		if proposedCount >= c.state.OriginalTestSize && proposed != "" {
			filename, _ := testsVal["filename"].(string)
			if filename == "" {
				filename = c.state.TestFilename
			}
			if err := os.WriteFile(filepath.Join(c.layout.WorkspaceDir, filename), []byte(proposed), 0o644); err != nil {
				c.log.Warn("write updated test file: %v", err)
			} else {
				c.state.TestFilename = filename
				c.state.TestContent = proposed
				c.state.OriginalTestSize = proposedCount
				c.log.Info("updated tests: %s (%d test functions)", filename, proposedCount)
			}
		} else if proposed != "" {
			c.log.Warn("rejected test update: review has %d tests, original has %d", proposedCount, c.state.OriginalTestSize)
		}
	}

	if len(doc.Plan) > 0 {
		c.state.Plan = doc.Plan
		c.log.Info("updated plan: %d entries", len(c.state.Plan))
	}

	return nil
}

func (c *Controller) dkPing(ctx context.Context, stuckScore int) (Outcome, bool, error) {
	c.state.dkPingCount++

	failingNames := parser.ExtractFailingTestNames(c.state.LastTestOutput)
	assertionLines := extractAssertionLines(c.state.LastTestOutput)
	implFiles := c.readPlanFiles()

	prompt := assembler.DKPing(c.philosophy, c.task, c.state.LastDiagnosis, c.state.LastTestOutput, stuckScore,
		failingNames, assertionLines, implFiles)

	out, err := c.callModel(ctx, c.cfg.Models.Consultant, prompt, profile.Consultant)
	if err != nil {
		return "", false, &RunError{Kind: KindFatal, Outcome: FatalModelClient, Err: fmt.Errorf("dk-ping model call: %w", err)}
	}

	raw, err := parser.ParseJSONOutput(out)
	if err != nil {
		c.log.Error("dk-ping output unparseable: %v", err)
		return HaltDKUnparseable, true, nil
	}

	if diagnosis, ok := raw["diagnosis"].(string); ok && diagnosis != "" {
		c.state.LastDiagnosis = diagnosis
	}

	confidence, _ := raw["confidence"].(string)
	if confidence != "high" && confidence != "medium" {
		c.log.Error("dk-ping confidence too low: %q", confidence)
		return HaltDKLowConfidence, true, nil
	}

	addition, _ := raw["dk_addition"].(string)
	if strings.TrimSpace(addition) == "" {
		c.log.Error("dk-ping output has no dk_addition")
		return HaltDKUnparseable, true, nil
	}
	sizeCap := c.originalTaskSize + c.cfg.Loop.TaskSizeCapExtra
	updated, err := steering.AppendDKAmendment(c.taskPath, c.task, c.state.Iteration, addition, sizeCap)
	if err != nil {
		c.log.Error("dk-ping size cap exceeded: %v", err)
		return HaltDKSizeCap, true, nil
	}

	c.task = updated
	c.state.stuckCount = 0
	c.state.failingSetCount = 0
	c.log.Info("dk-ping accepted (confidence=%s): %s", confidence, addition)
	return "", false, nil
}

func (c *Controller) callModel(ctx context.Context, modelID string, prompt assembler.Prompt, role string) (string, error) {
	p := c.cfg.Profiles[role]
	text, err := c.client.Call(ctx, modelID, prompt.System, prompt.User, role, p, c.cfg.Rate.RequestsPerMinute, c.cfg.Rate.Burst)
	if err != nil {
		return "", err
	}
	c.disp.Model(role, display.Truncate(text, 200))
	return text, nil
}

func (c *Controller) readPlanFiles() map[string]string {
	files := make(map[string]string)
	for _, entry := range c.state.Plan {
		content := steering.ReadFileSafe(filepath.Join(c.layout.WorkspaceDir, entry.File))
		if content != "" {
			files[entry.File] = content
		}
	}
	return files
}

// updateStuckCounters advances the two independent stall signals: a hash
// of the ordered pass/fail pattern across the run, and the set of
// currently-failing test names. Both are built from the test runner's
// own PASSED/FAILED reporting rather than raw output text, so cosmetic
// noise -- timestamps, traceback text, differing whitespace -- doesn't
// reset either counter and mask a genuine stall. The pattern hash is
// order-sensitive, so reordered test results reset stuckCount; the
// failing-name set is order-independent and keeps counting. The effective stuck
// score used everywhere else is the max of the two, so either signal
// alone is enough to trigger escalation.
func (c *Controller) updateStuckCounters(testOutput string) {
	sum := md5.Sum([]byte(passFailPattern(testOutput)))
	hash := hex.EncodeToString(sum[:])
	if hash == c.state.lastTestHash {
		c.state.stuckCount++
	} else {
		c.state.stuckCount = 1
		c.state.lastTestHash = hash
	}

	failingSet := failingTestNameSet(testOutput)
	if failingSet == c.state.lastFailingSet {
		c.state.failingSetCount++
	} else {
		c.state.failingSetCount = 1
		c.state.lastFailingSet = failingSet
	}
}

func (c *Controller) effectiveStuckScore() int {
	if c.state.stuckCount > c.state.failingSetCount {
		return c.state.stuckCount
	}
	return c.state.failingSetCount
}

// passFailPattern builds the ordered sequence of P/F markers from a test
// runner's own PASSED/FAILED lines, ignoring everything else (tracebacks,
// assertion text, timing). Two runs with the same sequence of outcomes in
// the same order produce the same pattern even if the surrounding text
// differs.
func passFailPattern(testOutput string) string {
	var pattern strings.Builder
	for _, line := range strings.Split(testOutput, "\n") {
		switch {
		case strings.Contains(line, "PASSED"):
			pattern.WriteByte('P')
		case strings.Contains(line, "FAILED"):
			pattern.WriteByte('F')
		}
	}
	return pattern.String()
}

// failingTestNameSet returns the stable, order-independent set of
// currently-failing test identifiers (e.g. "file.py::test_name"), so the
// comparison survives the runner reporting the same failures in a
// different order from one iteration to the next.
func failingTestNameSet(testOutput string) string {
	names := parser.ExtractFailingTestNames(testOutput)
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// extractAssertionLines pulls the assertion-diagnostic lines (pytest's
// "E ..." and ">" lines) out of test output for the DK-ping prompt,
// separately from the failing test name list.
func extractAssertionLines(testOutput string) []string {
	var out []string
	for _, line := range strings.Split(testOutput, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "E ") || strings.HasPrefix(trimmed, ">") {
			out = append(out, line)
		}
		if len(out) >= 30 {
			break
		}
	}
	return out
}

// planOutcome reports a model-client failure during Plan as Fatal/ModelClient
// and anything else (unparseable or malformed plan output) as the narrower
// FatalPlanParse outcome.
func planOutcome(err error) Outcome {
	var re *RunError
	if errors.As(err, &re) {
		return re.Outcome
	}
	return FatalPlanParse
}

func truncateLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
