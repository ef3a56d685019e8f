package build

import (
	"fmt"
	"strings"
	"time"

	"github.com/masterbooter/masterbooter/pkg/components"
	"github.com/masterbooter/masterbooter/pkg/fixes"
	"github.com/masterbooter/masterbooter/pkg/inject"
	"github.com/masterbooter/masterbooter/pkg/media"
)

// Status is how a build ended.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusBuiltUnverified means the media was written but did not pass verification.
	StatusBuiltUnverified Status = "built-unverified"
)

type StageResult struct {
	Stage   string
	Class   Class
	Status  StageStatus
	Message string
	Err     error
}

// Report is returned for every build that got past argument parsing, successful or not.
type Report struct {
	ID       string
	Status   Status
	Stages   []StageResult
	Output   string
	Started  time.Time
	Finished time.Time

	Components   []string
	Packages     []components.PackageResult
	Fixes        []fixes.Result
	Tools        []string
	Shell        string
	Injection    *inject.Report
	Verification *media.VerificationReport
	Warnings     []string

	// CleanupRequired is set when a mount could not be released and needs manual cleanup.
	CleanupRequired bool
	Err             error
}

func newReport(id, output string, started time.Time) *Report {
	r := &Report{ID: id, Output: output, Started: started}
	for _, s := range Stages {
		r.Stages = append(r.Stages, StageResult{Stage: s.Op, Class: s.Class})
	}
	return r
}

func (r *Report) stage(op string) *StageResult {
	return &r.Stages[stageIndex(op)]
}

// Stage returns the result of op.
func (r *Report) Stage(op string) (StageResult, bool) {
	i := stageIndex(op)
	if i < 0 || i >= len(r.Stages) {
		return StageResult{}, false
	}
	return r.Stages[i], true
}

// Summary renders the report for humans, one line per stage.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "build %s: %s\n", r.ID, r.Status)
	for i, s := range r.Stages {
		line := fmt.Sprintf(" %2d. %-17s %-9s", i+1, s.Stage, s.Status)
		if s.Message != "" {
			line += " " + s.Message
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}
	if r.Output != "" && (r.Status == StatusSucceeded || r.Status == StatusBuiltUnverified) {
		fmt.Fprintf(&b, "media: %s\n", r.Output)
	}
	if r.Verification != nil && !r.Verification.Passed {
		fmt.Fprintf(&b, "failed checks: %s\n", strings.Join(r.Verification.FailedChecks(), ", "))
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	if r.CleanupRequired {
		b.WriteString("a mount could not be released, run the cleanup command before the next build\n")
	}
	return b.String()
}
