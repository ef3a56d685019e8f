package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/schema"
)

// Imager is the external imaging subsystem. Implementations only look at exit codes and
// structured output, never at the tool's internal state.
type Imager interface {
	Name() string
	Mount(ctx context.Context, spec MountSpec) error
	// Unmount commits when commit is true and discards otherwise.
	Unmount(ctx context.Context, dir string, commit bool) error
	// Mounted reports whether the imaging tool (or the OS) still has dir registered as a mount.
	Mounted(ctx context.Context, dir string) (bool, error)
	// Cleanup drops any orphaned mount metadata the tool keeps.
	Cleanup(ctx context.Context) error
	AddPackage(ctx context.Context, dir, cab string) error
	// AddDriver returns how many driver packages the tool accepted.
	AddDriver(ctx context.Context, dir, driver string) (int, error)
	Packages(ctx context.Context, dir string) ([]string, error)
	// Export writes index of image as the only image of a new file at dst.
	Export(ctx context.Context, image string, index int, dst string) error
}

// MountSpec names the image and index to mount and where.
type MountSpec struct {
	Image string
	Index int
	Dir   string
	// ReadOnly mounts can only be discarded.
	ReadOnly bool
}

// ByName returns the imaging backend called name, dism or wimlib.
func ByName(name string, runner utils.Runner) (Imager, error) {
	switch strings.ToLower(name) {
	case "", "dism":
		return DISM{Runner: runner}, nil
	case "wimlib", "wimlib-imagex":
		return Wimlib{Runner: runner}, nil
	}
	return nil, schema.NewConfigError("imager", fmt.Errorf("unknown imager %q", name))
}
