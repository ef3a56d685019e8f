package image

import "context"

// Step is one modification of a mounted image. Run receives the mount directory.
type Step struct {
	Name      string
	Mandatory bool
	Run       func(ctx context.Context, dir string) error
}

type StepResult struct {
	Name      string
	Mandatory bool
	Err       error
}

func (r StepResult) Succeeded() bool { return r.Err == nil }
