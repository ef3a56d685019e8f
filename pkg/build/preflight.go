package build

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	cnst "github.com/masterbooter/masterbooter/internal/constants"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/components"
	"github.com/masterbooter/masterbooter/pkg/schema"
)

const writeCheckName = ".masterbooter-write-check"

// Preflight checks the host before anything is mounted or written. Every failed check is
// reported, not just the first one.
func (b *Builder) Preflight(ctx context.Context, cfg Config, bc *Context) error {
	var errs error
	if !utils.Exists(b.FS, bc.Source) {
		errs = multierror.Append(errs, fmt.Errorf("source %s does not exist", bc.Source))
	}
	if err := b.writable(filepath.Dir(bc.Output)); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("output directory is not writable: %w", err))
	}
	if err := b.freeSpace(bc.WorkDir); err != nil {
		errs = multierror.Append(errs, err)
	}
	if len(bc.Components) > 0 {
		if _, err := components.LocateOCs(b.FS, cfg.ADKRoots, bc.Arch); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if b.LookPath != nil {
		tool, _ := b.Tool.Command(bc.MediaDir, bc.Output, bc.VolumeLabel)
		if _, ok := b.LookPath(tool); !ok {
			errs = multierror.Append(errs, fmt.Errorf("media tool %s not found", tool))
		}
		if _, ok := b.LookPath(b.Imager.Name()); !ok {
			errs = multierror.Append(errs, fmt.Errorf("imaging tool %s not found", b.Imager.Name()))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if errs != nil {
		return schema.NewConfigError("preflight", errs)
	}
	b.Logger.Debug().Msg("Preflight passed")
	return nil
}

func (b *Builder) writable(dir string) error {
	if err := utils.CreateIfNotExists(b.FS, dir); err != nil {
		return err
	}
	check := filepath.Join(dir, writeCheckName)
	if err := b.FS.WriteFile(check, nil, 0o644); err != nil {
		return err
	}
	return b.FS.Remove(check)
}

func (b *Builder) freeSpace(dir string) error {
	if b.FreeSpace == nil {
		return nil
	}
	if err := utils.CreateIfNotExists(b.FS, dir); err != nil {
		return fmt.Errorf("work dir %s: %w", dir, err)
	}
	raw, err := b.FS.RawPath(dir)
	if err != nil {
		return err
	}
	free, err := b.FreeSpace(raw)
	if err != nil {
		b.Logger.Warn().Err(err).Str("dir", dir).Msg("Could not read free space")
		return nil
	}
	if free < cnst.MinFreeBytes {
		return fmt.Errorf("%d MiB free in %s, at least %d MiB needed", free>>20, dir, uint64(cnst.MinFreeBytes)>>20)
	}
	if free < cnst.WarnFreeBytes {
		b.Logger.Warn().Uint64("free_mib", free>>20).Str("dir", dir).Msg("Work dir is low on space")
	}
	return nil
}
