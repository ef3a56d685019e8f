package image

import (
	"context"
	"errors"
	"strconv"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/moby/sys/mountinfo"
)

var errNoServicing = errors.New("wimlib cannot service packages or drivers")

// Wimlib drives wimlib-imagex, used when building on Linux hosts.
// Package and driver servicing is not available there, drivers fall back to file copies.
type Wimlib struct {
	Runner utils.Runner
}

func (w Wimlib) Name() string { return "wimlib-imagex" }

func (w Wimlib) run(ctx context.Context, op string, args ...string) error {
	res, err := w.Runner.Run(ctx, "wimlib-imagex", args...)
	if err != nil {
		return &schema.ExternalToolError{Stage: op, Tool: w.Name(), ExitCode: -1, Output: res.Output, Err: err}
	}
	if res.ExitCode != 0 {
		return &schema.ExternalToolError{Stage: op, Tool: w.Name(), ExitCode: res.ExitCode, Output: res.Output}
	}
	return nil
}

func (w Wimlib) Mount(ctx context.Context, spec MountSpec) error {
	verb := "mountrw"
	if spec.ReadOnly {
		verb = "mount"
	}
	return w.run(ctx, "mount", verb, spec.Image, strconv.Itoa(spec.Index), spec.Dir)
}

func (w Wimlib) Unmount(ctx context.Context, dir string, commit bool) error {
	args := []string{"unmount", dir}
	if commit {
		args = append(args, "--commit")
	}
	return w.run(ctx, "unmount", args...)
}

func (w Wimlib) Mounted(_ context.Context, dir string) (bool, error) {
	mounted, err := mountinfo.Mounted(dir)
	if err != nil && utils.IsNotExist(err) {
		return false, nil
	}
	return mounted, err
}

// Cleanup is a no-op, wimlib keeps no mount registry besides the kernel's.
func (w Wimlib) Cleanup(_ context.Context) error { return nil }

func (w Wimlib) AddPackage(_ context.Context, _, _ string) error { return errNoServicing }

func (w Wimlib) AddDriver(_ context.Context, _, _ string) (int, error) { return 0, errNoServicing }

func (w Wimlib) Packages(_ context.Context, _ string) ([]string, error) { return nil, nil }

func (w Wimlib) Export(ctx context.Context, image string, index int, dst string) error {
	return w.run(ctx, "export", "export", image, strconv.Itoa(index), dst, "--compress=LZX")
}
