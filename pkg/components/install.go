package components

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/image"
	"github.com/rs/zerolog"
	"github.com/twpayne/go-vfs/v4"
)

// DefaultADKRoots are the usual Windows Kits install locations.
var DefaultADKRoots = []string{
	`C:\Program Files (x86)\Windows Kits\10`,
	`C:\Program Files\Windows Kits\10`,
}

// OCsDir is where the optional component cabs of arch live under an ADK root.
func OCsDir(adkRoot, arch string) string {
	return filepath.Join(adkRoot, "Assessment and Deployment Kit", "Windows Preinstallation Environment", arch, "WinPE_OCs")
}

// LocateOCs returns the first OCs directory under roots that actually carries WinPE-WMI.cab.
func LocateOCs(fs vfs.FS, roots []string, arch string) (string, error) {
	for _, root := range roots {
		dir := OCsDir(root, arch)
		if utils.Exists(fs, filepath.Join(dir, "WinPE-WMI.cab")) {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no WinPE optional components for %s found in %v", arch, roots)
}

type PackageResult struct {
	ID      string
	Name    string
	Success bool
	Message string
}

type InstallReport struct {
	Results []PackageResult
}

func (r InstallReport) Installed() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

func (r InstallReport) Failed() []string {
	var ids []string
	for _, res := range r.Results {
		if !res.Success {
			ids = append(ids, res.ID)
		}
	}
	return ids
}

// Installer adds components to a mounted image, base cab first then its en-us language cab.
type Installer struct {
	FS     vfs.FS
	Imager image.Imager
	OCsDir string
	Logger zerolog.Logger
}

func (i Installer) langCab(pkg string) (string, bool) {
	for _, p := range []string{
		filepath.Join(i.OCsDir, "en-us", pkg+"_en-us.cab"),
		filepath.Join(i.OCsDir, pkg+"_en-us.cab"),
	} {
		if utils.Exists(i.FS, p) {
			return p, true
		}
	}
	return "", false
}

// Install adds every component of order. A failed component does not stop the rest,
// the returned error aggregates the failures. Cancellation stops between packages.
func (i Installer) Install(ctx context.Context, mountDir string, order []Component) (InstallReport, error) {
	var report InstallReport
	var errs error
	for n, c := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		i.Logger.Info().Str("package", c.Package).Int("current", n+1).Int("total", len(order)).Msg("Installing package")
		res := PackageResult{ID: c.ID, Name: c.Name}

		cab := filepath.Join(i.OCsDir, c.Package+".cab")
		if !utils.Exists(i.FS, cab) {
			res.Message = "package not found: " + cab
			i.Logger.Warn().Str("package", c.Package).Msg("Package cab missing")
			errs = multierror.Append(errs, fmt.Errorf("%s: %s", c.ID, res.Message))
			report.Results = append(report.Results, res)
			continue
		}
		if err := i.Imager.AddPackage(ctx, mountDir, cab); err != nil {
			res.Message = err.Error()
			i.Logger.Err(err).Str("package", c.Package).Msg("Installing package")
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", c.ID, err))
			report.Results = append(report.Results, res)
			continue
		}
		res.Success = true
		res.Message = "installed"
		if lang, ok := i.langCab(c.Package); ok {
			if err := i.Imager.AddPackage(ctx, mountDir, lang); err != nil {
				i.Logger.Warn().Err(err).Str("package", c.Package).Msg("Installing language pack")
				res.Message = "installed without language pack"
			}
		}
		report.Results = append(report.Results, res)
	}
	return report, errs
}
