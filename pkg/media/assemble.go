package media

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/rs/zerolog"
	"github.com/twpayne/go-vfs/v4"
)

// Assembler writes a media tree to a bootable ISO.
type Assembler struct {
	FS     vfs.FS
	Runner utils.Runner
	Tool   Tool
	Logger zerolog.Logger
}

// PartialPath is where the media tool writes before the result is trusted.
func PartialPath(output string) string {
	return output + ".partial"
}

// Assemble runs the media tool. Only its exit status counts; afterwards the output has
// to be a regular file. The tool writes to PartialPath(output), which replaces output only
// once both checks pass, so an existing ISO survives a failed rebuild.
func (a Assembler) Assemble(ctx context.Context, mediaDir, output, label string) (err error) {
	if info, serr := a.FS.Stat(output); serr == nil && info.IsDir() {
		return schema.NewConfigError("assemble-media", fmt.Errorf("output %s is a directory", output))
	}
	if err = utils.CreateIfNotExists(a.FS, filepath.Dir(output)); err != nil {
		return err
	}
	partial := PartialPath(output)
	a.RemovePartial(output)
	defer func() {
		if err != nil {
			a.RemovePartial(output)
		}
	}()

	name, args := a.Tool.Command(mediaDir, partial, VolumeLabel(label))
	a.Logger.Info().Str("tool", a.Tool.Name()).Str("output", output).Msg("assembling media")
	res, err := a.Runner.Run(ctx, name, args...)
	if err != nil {
		return &schema.ExternalToolError{Stage: "assemble-media", Tool: a.Tool.Name(), ExitCode: res.ExitCode, Output: res.Output, Err: err}
	}
	if res.ExitCode != 0 {
		return &schema.ExternalToolError{Stage: "assemble-media", Tool: a.Tool.Name(), ExitCode: res.ExitCode, Output: res.Output}
	}
	info, err := a.FS.Stat(partial)
	if err != nil {
		return fmt.Errorf("%s reported success but wrote no output: %w", a.Tool.Name(), err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s output %s is not a regular file", a.Tool.Name(), partial)
	}
	return a.FS.Rename(partial, output)
}

// RemovePartial deletes the in-progress media file of a failed or abandoned build.
// A finished output is never touched.
func (a Assembler) RemovePartial(output string) {
	partial := PartialPath(output)
	info, err := a.FS.Stat(partial)
	if err != nil || info.IsDir() {
		return
	}
	if err = a.FS.Remove(partial); err != nil {
		a.Logger.Warn().Err(err).Str("output", partial).Msg("could not remove partial media")
	}
}
