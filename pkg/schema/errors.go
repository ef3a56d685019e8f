package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDependencyCycle       = errors.New("dependency cycle")
	ErrUnknownComponent      = errors.New("unknown component")
	ErrUnsatisfiedDependency = errors.New("unsatisfied dependency")
	ErrUnknownFix            = errors.New("unknown fix")
	ErrMountConflict         = errors.New("mount conflict")
	ErrStaleMountDetected    = errors.New("stale mount detected")
	ErrIncompleteCredential  = errors.New("incomplete credential")
	ErrInconsistentBootMode  = errors.New("inconsistent boot mode")
	ErrManualCleanup         = errors.New("manual cleanup required")
)

// ConfigurationError is bad or contradictory input, raised before any external call.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ResourceConflictError means the mount directory is owned by someone else or left behind by a crash.
type ResourceConflictError struct {
	Dir string
	Err error
}

func (e *ResourceConflictError) Error() string {
	return fmt.Sprintf("resource conflict on %s: %v", e.Dir, e.Err)
}

func (e *ResourceConflictError) Unwrap() error { return e.Err }

// ExternalToolError is a nonzero exit from an external tool.
type ExternalToolError struct {
	Stage    string
	Tool     string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s: %s exited with code %d", e.Stage, e.Tool, e.ExitCode)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s failed: %v", e.Stage, e.Tool, e.Err)
	}
	if out := lastLine(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// Report is implemented by anything that can explain a failed verification check by check.
type Report interface {
	FailedChecks() []string
}

// VerificationFailure wraps a verification report with at least one failed check.
type VerificationFailure struct {
	Report Report
}

func (e *VerificationFailure) Error() string {
	return "media verification failed: " + strings.Join(e.Report.FailedChecks(), ", ")
}

func NewConfigError(op string, err error) error {
	return &ConfigurationError{Op: op, Err: err}
}

func NewConflictError(dir string, err error) error {
	return &ResourceConflictError{Dir: dir, Err: err}
}

// IsConfigurationError reports whether err aborts before any mutation.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
