package build

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"sort"
	"strings"

	cnst "github.com/masterbooter/masterbooter/internal/constants"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/bcd"
	"github.com/masterbooter/masterbooter/pkg/components"
	"github.com/masterbooter/masterbooter/pkg/fixes"
	"github.com/masterbooter/masterbooter/pkg/image"
	"github.com/masterbooter/masterbooter/pkg/inject"
	"github.com/masterbooter/masterbooter/pkg/media"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/masterbooter/masterbooter/pkg/tools"
)

func (r *run) detectSource(ctx context.Context) (string, error) {
	src, err := media.DetectSource(r.b.FS, r.bc.Source)
	if err != nil {
		return "", err
	}
	r.src = src
	stager := media.Stager{FS: r.b.FS, ADKMedia: r.cfg.ADKMedia, Logger: r.log}
	wim, err := stager.Stage(ctx, src, r.bc.MediaDir)
	if err != nil {
		return "", err
	}
	r.bootWim = wim
	return fmt.Sprintf("%s source staged", src.Kind), nil
}

func (r *run) mountImage(ctx context.Context) (string, error) {
	h, err := r.b.Registry.Acquire(ctx, r.b.Imager, image.MountSpec{
		Image: r.bootWim,
		Index: r.bc.ImageIndex,
		Dir:   r.bc.MountDir,
	})
	if err != nil {
		return "", err
	}
	r.handle = h
	if h.Recovered() {
		r.warn("a stale mount at %s was cleared before mounting", h.Dir())
		return "mounted after clearing a stale mount", nil
	}
	return fmt.Sprintf("index %d mounted", r.bc.ImageIndex), nil
}

func (r *run) installPackages(ctx context.Context) (string, error) {
	if len(r.bc.Components) == 0 {
		return "no components selected", errNotRequested
	}
	ocs, err := components.LocateOCs(r.b.FS, r.cfg.ADKRoots, r.bc.Arch)
	if err != nil {
		return "", err
	}
	installer := components.Installer{FS: r.b.FS, Imager: r.b.Imager, OCsDir: ocs, Logger: r.log}
	var report components.InstallReport
	res, _ := r.handle.Apply(ctx, image.Step{
		Name: cnst.OpInstallPackages,
		Run: func(ctx context.Context, dir string) (err error) {
			report, err = installer.Install(ctx, dir, r.bc.Components)
			return err
		},
	})
	r.report.Packages = report.Results
	msg := fmt.Sprintf("%d of %d packages installed", report.Installed(), len(r.bc.Components))
	return msg, res.Err
}

func (r *run) applyFixes(ctx context.Context) (string, error) {
	if len(r.bc.Fixes) == 0 {
		return "no fixes selected", errNotRequested
	}
	env := fixes.Env{FS: r.b.FS, Registry: image.RegWriter{Runner: r.b.Runner}, Options: r.bc.FixOptions}
	var results []fixes.Result
	res, _ := r.handle.Apply(ctx, image.Step{
		Name: cnst.OpApplyFixes,
		Run: func(ctx context.Context, dir string) (err error) {
			results, err = fixes.ApplyAll(ctx, env, dir, r.bc.Fixes)
			return err
		},
	})
	r.report.Fixes = results
	applied := 0
	for _, f := range results {
		if f.Success {
			applied++
		}
	}
	return fmt.Sprintf("%d of %d fixes applied", applied, len(r.bc.Fixes)), res.Err
}

// sourceWindows returns the Windows directory drivers and network files are taken from,
// mounting the source's install image read-only the first time it is needed.
func (r *run) sourceWindows(ctx context.Context) (string, error) {
	if r.sourceWin != "" || r.sourceErr != nil {
		return r.sourceWin, r.sourceErr
	}
	if r.cfg.SourceWindows != "" {
		r.sourceWin = r.cfg.SourceWindows
		return r.sourceWin, nil
	}
	r.sourceWin, r.sourceErr = r.mountInstall(ctx)
	return r.sourceWin, r.sourceErr
}

func (r *run) mountInstall(ctx context.Context) (string, error) {
	img, err := media.InstallImage(r.b.FS, r.src, r.cfg.extractDir())
	if err != nil {
		return "", err
	}
	index := r.cfg.InstallIndex
	// an esd cannot be mounted, only exported
	if strings.EqualFold(filepath.Ext(img), ".esd") {
		if err = utils.CreateIfNotExists(r.b.FS, r.cfg.extractDir()); err != nil {
			return "", err
		}
		wim := filepath.Join(r.cfg.extractDir(), "install.wim")
		r.log.Info().Str("image", img).Int("index", index).Msg("Exporting install image to a mountable WIM")
		if err = r.b.Imager.Export(ctx, img, index, wim); err != nil {
			return "", err
		}
		img, index = wim, 1
	}
	h, err := r.b.Registry.Acquire(ctx, r.b.Imager, image.MountSpec{
		Image:    img,
		Index:    index,
		Dir:      r.cfg.installDir(),
		ReadOnly: true,
	})
	if err != nil {
		return "", err
	}
	r.install = h
	win, ok := utils.ResolveFold(r.b.FS, h.Dir(), "Windows")
	if !ok {
		return "", fmt.Errorf("install image %s has no Windows directory", img)
	}
	return win, nil
}

// driverPackages lists every directory below root that holds an .inf file.
func (r *run) driverPackages(root string) ([]string, error) {
	seen := map[string]bool{}
	err := utils.WalkFiles(r.b.FS, root, func(path string, _ iofs.FileInfo) error {
		if strings.EqualFold(filepath.Ext(path), ".inf") {
			seen[filepath.Dir(path)] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	pkgs := make([]string, 0, len(seen))
	for p := range seen {
		pkgs = append(pkgs, p)
	}
	sort.Strings(pkgs)
	return pkgs, nil
}

func (r *run) injectDrivers(ctx context.Context) (string, error) {
	var pkgs []string
	if r.cfg.ExtractDrivers {
		win, err := r.sourceWindows(ctx)
		if err != nil {
			if isCancellation(ctx, err) {
				return "", err
			}
			r.warn("no source Windows to extract drivers from: %v", err)
		} else {
			extracted, err := inject.Extract(r.b.FS, win, r.cfg.DriverAllowlist)
			if err != nil {
				return "", err
			}
			pkgs = append(pkgs, extracted...)
		}
	}
	for _, p := range r.bc.DriverPaths {
		found, err := r.driverPackages(p)
		if err != nil {
			return "", fmt.Errorf("driver path %s: %w", p, err)
		}
		pkgs = append(pkgs, found...)
	}
	pkgs = utils.UniqueSlice(pkgs)
	if len(pkgs) == 0 {
		return "no drivers to inject", errNotRequested
	}

	drivers := inject.Drivers{FS: r.b.FS, Imager: r.b.Imager, Logger: r.log}
	_, err := r.handle.Apply(ctx, image.Step{
		Name:      cnst.OpInjectDrivers,
		Mandatory: true,
		Run: func(ctx context.Context, dir string) error {
			return drivers.Inject(ctx, dir, pkgs, &r.injection)
		},
	})
	msg := fmt.Sprintf("%d added, %d copied", r.injection.DriversAdded, r.injection.DriversCopied)
	if r.injection.RequiresRelaxation {
		msg += ", signature relaxation required"
	}
	return msg, err
}

func (r *run) injectNetwork(ctx context.Context) (string, error) {
	if !r.bc.Network {
		return "network support not requested", errNotRequested
	}
	win, err := r.sourceWindows(ctx)
	if err != nil {
		return "", err
	}
	network := inject.Network{FS: r.b.FS, Registry: image.RegWriter{Runner: r.b.Runner}, Logger: r.log}
	res, _ := r.handle.Apply(ctx, image.Step{
		Name: cnst.OpInjectNetwork,
		Run: func(ctx context.Context, dir string) error {
			return network.Inject(ctx, win, dir, &r.injection)
		},
	})
	return fmt.Sprintf("%d files copied, %d services defined", r.injection.FilesCopied, r.injection.ServicesDefined), res.Err
}

func (r *run) placeTools(ctx context.Context) (string, error) {
	usable := 0
	for _, t := range r.bc.Tools {
		if t.Usable() {
			usable++
		}
	}
	if usable == 0 {
		return "no tools enabled", errNotRequested
	}
	var placed []string
	res, _ := r.handle.Apply(ctx, image.Step{
		Name: cnst.OpPlaceTools,
		Run: func(_ context.Context, dir string) (err error) {
			placed, err = tools.Place(r.b.FS, dir, r.bc.Tools, r.log)
			return err
		},
	})
	r.report.Tools = placed
	return fmt.Sprintf("%d of %d tools placed", len(placed), usable), res.Err
}

func (r *run) configureShell(ctx context.Context) (string, error) {
	var shell string
	res, _ := r.handle.Apply(ctx, image.Step{
		Name: cnst.OpConfigureShell,
		Run: func(_ context.Context, dir string) (err error) {
			shell, err = tools.ConfigureShell(r.b.FS, dir, r.bc.Tools, r.bc.Shell)
			return err
		},
	})
	r.report.Shell = shell
	return "shell " + shell, res.Err
}

func (r *run) commitImage(ctx context.Context) (string, error) {
	err := r.handle.Commit(ctx)
	if errors.Is(err, schema.ErrManualCleanup) {
		r.report.CleanupRequired = true
	}
	if err != nil {
		return "", err
	}
	// the install image is only read from, nothing after this point needs it
	if r.install != nil {
		r.LogIfError(r.install.Discard(ctx), "Releasing install image")
	}
	return "image committed", nil
}

// exportImage rewrites the boot image with the customized index as its only image, so the
// media cannot boot an untouched index of a multi-image boot.wim.
func (r *run) exportImage(ctx context.Context) (string, error) {
	tmp := r.bootWim + ".new"
	if err := r.b.Imager.Export(ctx, r.bootWim, r.bc.ImageIndex, tmp); err != nil {
		r.LogIfError(r.b.FS.RemoveAll(tmp), "Removing partial export")
		return "", err
	}
	if !utils.Exists(r.b.FS, tmp) {
		return "", fmt.Errorf("exporting %s left no image at %s", r.bootWim, tmp)
	}
	if err := r.b.FS.Rename(tmp, r.bootWim); err != nil {
		return "", err
	}
	return fmt.Sprintf("index %d exported", r.bc.ImageIndex), nil
}

// bootStores returns the two boot stores of the media tree, creating them when the source
// had none or a rebuild was asked for.
func (r *run) bootStores(ctx context.Context) ([]bcd.Store, error) {
	var stores []bcd.Store
	for _, rel := range []string{media.LegacyStore, media.UEFIStore} {
		p, ok := utils.ResolveFold(r.b.FS, r.bc.MediaDir, rel)
		if !ok {
			break
		}
		stores = append(stores, bcd.Store{Runner: r.b.Runner, Path: p})
	}
	if len(stores) == 2 && !r.cfg.RebuildBCD {
		return stores, nil
	}
	r.log.Info().Bool("rebuild", r.cfg.RebuildBCD).Msg("Creating boot stores")
	return media.CreateBCD(ctx, r.b.FS, r.b.Runner, r.bc.MediaDir)
}

func (r *run) assembleMedia(ctx context.Context) (string, error) {
	stores, err := r.bootStores(ctx)
	if err != nil {
		return "", err
	}
	if r.injection.RequiresRelaxation {
		for _, s := range stores {
			if err = inject.Relax(ctx, s, r.log); err != nil {
				r.warn("relaxing %s: %v", s.Path, err)
			}
		}
		if r.b.SecureBoot != nil && r.b.SecureBoot() {
			r.warn("Secure Boot is enabled on this host, media with relaxed driver signing will not load unsigned drivers under Secure Boot")
		}
	}

	asm := media.Assembler{FS: r.b.FS, Runner: r.b.Runner, Tool: r.b.Tool, Logger: r.log}
	r.assembling = true
	if err = asm.Assemble(ctx, r.bc.MediaDir, r.bc.Output, r.bc.VolumeLabel); err != nil {
		return "", err
	}
	return r.bc.Output + " written", nil
}

func (r *run) verifyMedia(_ context.Context) (msg string, err error) {
	verify := r.b.Verify
	if verify == nil {
		verify = media.Verify
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("verification panicked: %v", p)
		}
	}()
	report, err := verify(r.b.FS, r.bc.Output)
	r.report.Verification = &report
	if err != nil {
		return "", r.LogIfErrorAndReturn(err, "Verifying media")
	}
	return fmt.Sprintf("%d checks passed", len(report.Checks)), nil
}
