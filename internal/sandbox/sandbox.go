// Package sandbox gates and runs shell commands the implementer role
// proposes, confining writes to the workspace and refusing anything that
// would block the loop forever.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// SudoAllowlist names the sudo subcommands considered safe for unattended
// use. Anything else under sudo is blocked outright.
var SudoAllowlist = map[string]bool{
	"apt": true, "apt-get": true, "dpkg": true,
	"systemctl": true, "service": true,
	"kill": true, "killall": true, "pkill": true,
	"lsof": true, "fuser": true,
	"ufw": true,
	"netstat": true, "ss": true,
}

// foregroundPatterns are commands that never return or require a TTY.
var foregroundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\btail\s+-f\b`),
	regexp.MustCompile(`\bwatch\b`),
	regexp.MustCompile(`\bpython\s+-m\s+http\.server\b`),
	regexp.MustCompile(`\bnpm\s+run\s+dev\b`),
	regexp.MustCompile(`\bnpm\s+start\b`),
	regexp.MustCompile(`\bnode\s+.*--watch\b`),
	regexp.MustCompile(`\bflask\s+run\b`),
	regexp.MustCompile(`\buvicorn\b`),
	regexp.MustCompile(`\bgunicorn\b`),
	regexp.MustCompile(`\bjupyter\b`),
	regexp.MustCompile(`\bless\b`),
	regexp.MustCompile(`\bmore\b`),
	regexp.MustCompile(`\bvi\b`),
	regexp.MustCompile(`\bvim\b`),
	regexp.MustCompile(`\bnano\b`),
	regexp.MustCompile(`\btop\b`),
	regexp.MustCompile(`\bhtop\b`),
}

var writeIndicatorsRe = regexp.MustCompile(
	`(?:` +
		` > | >> ` +
		`|>(?:[^/]|/[^d]|$)` +
		`|\btee\s` +
		`|\bmv\s|\bcp\s` +
		`|\brm\s|\brmdir\s` +
		`|\bmkdir\s` +
		`|\btouch\s` +
		`|\bchmod\s|\bchown\s` +
		`|\bln\s` +
		`|\binstall\s` +
		`|\bdd\s` +
		`|\bwget\s|\bcurl\s.*-o` +
		`)`,
)

var (
	redirectTargetRe = regexp.MustCompile(`>{1,2}\s*(\S+)`)
	teeTargetRe       = regexp.MustCompile(`\btee\s+(?:-a\s+)?(\S+)`)
	fileOpRe          = regexp.MustCompile(`\b(?:rm|mv|cp|mkdir|touch|chmod|chown|ln)\s+(.+?)(?:\s*[;&|]|$)`)
	downloadTargetRe  = regexp.MustCompile(`\b(?:wget\s+.*-O|curl\s+.*-o)\s*(\S+)`)
	outputFlagRe      = regexp.MustCompile(`(?:-o|--output)\s+(\S+)`)
	sudoRe            = regexp.MustCompile(`^sudo\s+(\S+)`)
)

var installMarkers = []string{"apt install", "pip install", "npm install", "cargo build"}

const (
	defaultTimeout = 30 * time.Second
	installTimeout = 300 * time.Second
	maxOutputBytes = 8000
)

// BlockReason explains why a command was refused.
type BlockReason struct {
	Message string
}

func (b *BlockReason) Error() string { return b.Message }

// Result is the outcome of running a command through the sandbox.
type Result struct {
	Stdout     string
	Stderr     string
	ReturnCode int
	TimedOut   bool
	Blocked    bool
}

// Check returns a non-nil BlockReason if cmd should not run, or nil if the
// command is safe to execute in workspaceRoot.
func Check(cmd, workspaceRoot string) *BlockReason {
	stripped := strings.TrimSpace(cmd)

	for _, pattern := range foregroundPatterns {
		if pattern.MatchString(stripped) {
			return &BlockReason{Message: fmt.Sprintf(
				"BLOCKED: foreground/interactive process detected (%s). "+
					"Rewrite as a one-shot command or background with a timeout.", pattern.String())}
		}
	}

	sudoMatch := sudoRe.FindStringSubmatch(stripped)
	if sudoMatch != nil {
		sudoSubcmd := sudoMatch[1]
		if idx := strings.LastIndex(sudoSubcmd, "/"); idx >= 0 {
			sudoSubcmd = sudoSubcmd[idx+1:]
		}
		if !SudoAllowlist[sudoSubcmd] {
			return &BlockReason{Message: fmt.Sprintf(
				"BLOCKED: sudo %s is not on the allowed list. Allowed sudo commands: %s",
				sudoSubcmd, strings.Join(sortedAllowlist(), ", "))}
		}

		innerStart := strings.Index(stripped, sudoSubcmd)
		innerCmd := stripped[innerStart:]
		for _, t := range resolveWriteTargets(innerCmd) {
			if !isInsideWorkspace(t, workspaceRoot) {
				for _, op := range []string{"rm ", "mv ", "cp ", "chmod ", "chown "} {
					if strings.Contains(innerCmd, op) {
						return &BlockReason{Message: fmt.Sprintf(
							"BLOCKED: sudo command writes outside workspace: %s", t)}
					}
				}
			}
		}
		return nil
	}

	if writeIndicatorsRe.MatchString(stripped) {
		for _, t := range resolveWriteTargets(stripped) {
			if !isInsideWorkspace(t, workspaceRoot) {
				return &BlockReason{Message: fmt.Sprintf(
					"BLOCKED: command writes outside workspace: %s. "+
						"All file modifications must target paths within %s", t, workspaceRoot)}
			}
		}
	}

	return nil
}

func sortedAllowlist() []string {
	out := make([]string, 0, len(SudoAllowlist))
	for k := range SudoAllowlist {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// resolveWriteTargets is a best-effort extraction of paths a command might
// write to. It is not foolproof — the second layer is Execute running
// every command with workspaceRoot as the process cwd.
func resolveWriteTargets(cmd string) []string {
	var targets []string

	for _, m := range redirectTargetRe.FindAllStringSubmatch(cmd, -1) {
		targets = append(targets, m[1])
	}
	for _, m := range teeTargetRe.FindAllStringSubmatch(cmd, -1) {
		targets = append(targets, m[1])
	}
	for _, m := range fileOpRe.FindAllStringSubmatch(cmd, -1) {
		for _, tok := range strings.Fields(m[1]) {
			if !strings.HasPrefix(tok, "-") {
				targets = append(targets, tok)
			}
		}
	}
	for _, m := range downloadTargetRe.FindAllStringSubmatch(cmd, -1) {
		targets = append(targets, m[1])
	}
	for _, m := range outputFlagRe.FindAllStringSubmatch(cmd, -1) {
		targets = append(targets, m[1])
	}

	return targets
}

// isInsideWorkspace reports whether target resolves to a path inside
// workspaceRoot. Unlike the original implementation this compares path
// components via filepath.Rel, not a string prefix — "/ws2" is never
// mistaken for being inside "/ws".
func isInsideWorkspace(target, workspaceRoot string) bool {
	t := strings.TrimSpace(target)
	if t == "/dev/null" || t == "NUL" || t == "nul" {
		return true
	}

	candidate := t
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspaceRoot, candidate)
	}

	absWorkspace, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return false
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(absWorkspace, absCandidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}

// Execute runs cmd through Check, then (if not blocked) via the shell,
// confined to workspaceRoot with stdout/stderr truncated to 8000 bytes.
func Execute(ctx context.Context, cmd, workspaceRoot string) (Result, error) {
	if reason := Check(cmd, workspaceRoot); reason != nil {
		return Result{
			Stderr:     reason.Message,
			ReturnCode: -1,
			Blocked:    true,
		}, nil
	}

	timeout := defaultTimeout
	for _, marker := range installMarkers {
		if strings.Contains(cmd, marker) {
			timeout = installTimeout
			break
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(runCtx, "sh", "-c", cmd)
	execCmd.Dir = workspaceRoot

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{
			Stderr:     fmt.Sprintf("command timed out after %s", timeout),
			ReturnCode: -1,
			TimedOut:   true,
		}, nil
	}

	returnCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		returnCode = exitErr.ExitCode()
	} else if err != nil {
		return Result{Stderr: err.Error(), ReturnCode: -1}, nil
	}

	return Result{
		Stdout:     truncate(stdout.String(), maxOutputBytes),
		Stderr:     truncate(stderr.String(), maxOutputBytes),
		ReturnCode: returnCode,
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
