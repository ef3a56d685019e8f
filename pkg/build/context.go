package build

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/masterbooter/masterbooter/pkg/components"
	"github.com/masterbooter/masterbooter/pkg/fixes"
	"github.com/masterbooter/masterbooter/pkg/media"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/masterbooter/masterbooter/pkg/tools"
)

// Context is everything one build owns. It is never shared between builds.
type Context struct {
	ID          string
	Source      string
	ImageIndex  int
	MountDir    string
	WorkDir     string
	MediaDir    string
	Components  []components.Component
	Resolution  components.Resolution
	Fixes       []string
	FixOptions  fixes.Options
	DriverPaths []string
	Network     bool
	Tools       []tools.Tool
	Shell       string
	Output      string
	Arch        string
	VolumeLabel string
}

// NewContext validates cfg and resolves it into a build context. Every error is a
// configuration error and happens before anything is touched.
func NewContext(id string, cfg Config, cat *components.Catalog, toolList []tools.Tool) (*Context, error) {
	var errs error
	if cfg.Source == "" {
		errs = multierror.Append(errs, errors.New("no source given"))
	}
	if cfg.Output == "" {
		errs = multierror.Append(errs, errors.New("no output given"))
	}
	if cfg.WorkDir == "" {
		errs = multierror.Append(errs, errors.New("no work dir given"))
	}
	if cfg.ImageIndex < 1 {
		errs = multierror.Append(errs, fmt.Errorf("image index %d, indexes start at 1", cfg.ImageIndex))
	}
	if errs != nil {
		return nil, schema.NewConfigError("build", errs)
	}

	res, err := components.Resolve(cat, components.Request{
		Requested: cfg.Components,
		Disabled:  cfg.DisabledComponents,
		Overrides: cfg.ComponentOverrides,
	})
	if err != nil {
		return nil, err
	}
	if err = fixes.Validate(cfg.Fixes, cfg.FixOptions); err != nil {
		return nil, err
	}
	if len(cfg.Tools) > 0 {
		if toolList, err = tools.Enable(toolList, cfg.Tools); err != nil {
			return nil, schema.NewConfigError("tools", err)
		}
	}
	if cfg.Shell != "" {
		if _, ok := tools.Shell(toolList, cfg.Shell); !ok {
			return nil, schema.NewConfigError("tools", fmt.Errorf("shell %s is not an enabled shell tool", cfg.Shell))
		}
	}

	return &Context{
		ID:          id,
		Source:      cfg.Source,
		ImageIndex:  cfg.ImageIndex,
		MountDir:    cfg.MountDir(),
		WorkDir:     cfg.WorkDir,
		MediaDir:    cfg.MediaDir(),
		Components:  res.Order,
		Resolution:  res,
		Fixes:       cfg.Fixes,
		FixOptions:  cfg.FixOptions,
		DriverPaths: cfg.DriverPaths,
		Network:     cfg.Network,
		Tools:       toolList,
		Shell:       cfg.Shell,
		Output:      cfg.Output,
		Arch:        cfg.Arch,
		VolumeLabel: media.VolumeLabel(cfg.VolumeLabel),
	}, nil
}
