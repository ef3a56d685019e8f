package image

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/schema"
)

var (
	driverCountRe = regexp.MustCompile(`(?i)found (\d+) driver package`)
	mountDirRe    = regexp.MustCompile(`(?im)^\s*Mount Dir\s*:\s*(.+?)\s*$`)
	packageRe     = regexp.MustCompile(`(?im)^\s*Package Identity\s*:\s*(.+?)\s*$`)
)

// DISM drives dism.exe.
type DISM struct {
	Runner utils.Runner
}

func (d DISM) Name() string { return "dism" }

func (d DISM) run(ctx context.Context, op string, args ...string) (utils.Result, error) {
	res, err := d.Runner.Run(ctx, "dism", args...)
	if err != nil {
		return res, &schema.ExternalToolError{Stage: op, Tool: "dism", ExitCode: -1, Output: res.Output, Err: err}
	}
	if res.ExitCode != 0 {
		return res, &schema.ExternalToolError{Stage: op, Tool: "dism", ExitCode: res.ExitCode, Output: res.Output}
	}
	return res, nil
}

func (d DISM) Mount(ctx context.Context, spec MountSpec) error {
	args := []string{
		"/Mount-Wim",
		"/WimFile:" + spec.Image,
		"/Index:" + strconv.Itoa(spec.Index),
		"/MountDir:" + spec.Dir,
	}
	if spec.ReadOnly {
		args = append(args, "/ReadOnly")
	}
	_, err := d.run(ctx, "mount", args...)
	return err
}

func (d DISM) Unmount(ctx context.Context, dir string, commit bool) error {
	mode := "/Discard"
	if commit {
		mode = "/Commit"
	}
	_, err := d.run(ctx, "unmount", "/Unmount-Wim", "/MountDir:"+dir, mode)
	return err
}

func (d DISM) Mounted(ctx context.Context, dir string) (bool, error) {
	res, err := d.run(ctx, "mounted", "/Get-MountedWimInfo")
	if err != nil {
		return false, err
	}
	want := filepath.Clean(dir)
	for _, m := range mountDirRe.FindAllStringSubmatch(res.Output, -1) {
		if strings.EqualFold(filepath.Clean(m[1]), want) {
			return true, nil
		}
	}
	return false, nil
}

func (d DISM) Cleanup(ctx context.Context) error {
	_, err := d.run(ctx, "cleanup", "/Cleanup-Wim")
	return err
}

func (d DISM) AddPackage(ctx context.Context, dir, cab string) error {
	res, err := d.run(ctx, "add-package", "/Image:"+dir, "/Add-Package", "/PackagePath:"+cab)
	if err != nil && strings.Contains(strings.ToLower(res.Output), "is already installed") {
		return nil
	}
	return err
}

func (d DISM) AddDriver(ctx context.Context, dir, driver string) (int, error) {
	res, err := d.run(ctx, "add-driver", "/Image:"+dir, "/Add-Driver", "/Driver:"+driver, "/Recurse", "/ForceUnsigned")
	if err != nil {
		return 0, err
	}
	if m := driverCountRe.FindStringSubmatch(res.Output); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n == 0 {
			return 0, fmt.Errorf("dism found no installable driver package in %s", driver)
		}
		return n, nil
	}
	return strings.Count(res.Output, "successfully installed"), nil
}

func (d DISM) Export(ctx context.Context, image string, index int, dst string) error {
	_, err := d.run(ctx, "export",
		"/Export-Image",
		"/SourceImageFile:"+image,
		"/SourceIndex:"+strconv.Itoa(index),
		"/DestinationImageFile:"+dst,
		"/Compress:max",
	)
	return err
}

func (d DISM) Packages(ctx context.Context, dir string) ([]string, error) {
	res, err := d.run(ctx, "get-packages", "/Image:"+dir, "/Get-Packages")
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for _, m := range packageRe.FindAllStringSubmatch(res.Output, -1) {
		pkgs = append(pkgs, m[1])
	}
	return pkgs, nil
}
