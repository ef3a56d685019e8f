package utils

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Result is what an external tool left behind.
type Result struct {
	ExitCode int
	Output   string
}

// Runner runs external tools. The build never shells out without going through one.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs tools on the host with a per-invocation timeout.
type ExecRunner struct {
	Timeout time.Duration
}

// Run returns a nil error for any exit code, the caller decides what a non zero code means.
// Errors are reserved for tools that could not be started or ran past the timeout.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	Log.Debug().Str("cmd", name).Strs("args", args).Msg("Running external tool")
	out, err := cmd.CombinedOutput()
	res := Result{Output: string(out)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if ctx.Err() != nil {
			return res, fmt.Errorf("running %s: %w", name, ctx.Err())
		}
		return res, fmt.Errorf("running %s: %w", name, err)
	}
	return res, nil
}

// LookPath reports whether name can be found on PATH.
func LookPath(name string) (string, bool) {
	p, err := exec.LookPath(name)
	return p, err == nil
}
