// Package testrunner invokes the workspace's pytest suite through the
// sandboxed executor and reports pass/fail plus the captured output the
// convergence controller feeds back to the model.
package testrunner

import (
	"context"
	"fmt"

	"github.com/daydemir/isomoira/internal/sandbox"
)

// Result is the outcome of one test run.
type Result struct {
	Passed bool
	Output string
}

// Run executes `python -m pytest <testFilename> -v --tb=short` inside
// workspaceRoot via the sandboxed executor.
func Run(ctx context.Context, workspaceRoot, testFilename string) (Result, error) {
	cmd := fmt.Sprintf("python -m pytest %s -v --tb=short", testFilename)

	res, err := sandbox.Execute(ctx, cmd, workspaceRoot)
	if err != nil {
		return Result{}, err
	}

	output := res.Stdout
	if res.Stderr != "" {
		output += "\n" + res.Stderr
	}

	return Result{
		Passed: res.ReturnCode == 0 && !res.Blocked && !res.TimedOut,
		Output: output,
	}, nil
}
