// Package bcd drives bcdedit against offline boot configuration stores.
package bcd

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/twpayne/go-vfs/v4"
)

const (
	BootManager    = "{bootmgr}"
	Default        = "{default}"
	RamdiskOptions = "{ramdiskoptions}"

	LoaderDescription = "MasterBooter WinPE"
)

var guidRe = regexp.MustCompile(`\{[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\}`)

// Store is one BCD store file.
type Store struct {
	Runner utils.Runner
	Path   string
}

func (s Store) run(ctx context.Context, args ...string) (utils.Result, error) {
	full := append([]string{"/store", s.Path}, args...)
	res, err := s.Runner.Run(ctx, "bcdedit", full...)
	if err != nil {
		return res, &schema.ExternalToolError{Stage: "bcd", Tool: "bcdedit", ExitCode: -1, Output: res.Output, Err: err}
	}
	if res.ExitCode != 0 && !strings.Contains(res.Output, "already exists") {
		return res, &schema.ExternalToolError{Stage: "bcd", Tool: "bcdedit", ExitCode: res.ExitCode, Output: res.Output}
	}
	return res, nil
}

// Set writes one element of an entry.
func (s Store) Set(ctx context.Context, id, element, value string) error {
	_, err := s.run(ctx, "/set", id, element, value)
	return err
}

// CreateEntry creates an application entry and returns its GUID.
func (s Store) CreateEntry(ctx context.Context, description, application string) (string, error) {
	res, err := s.run(ctx, "/create", "/d", description, "/application", application)
	if err != nil {
		return "", err
	}
	guid := ExtractGUID(res.Output)
	if guid == "" {
		return "", fmt.Errorf("no GUID in bcdedit output: %q", strings.TrimSpace(res.Output))
	}
	return guid, nil
}

// ExtractGUID returns the first {GUID} in bcdedit output.
func ExtractGUID(out string) string {
	return guidRe.FindString(out)
}

// Create builds a fresh store that boots bootWim (a path on the media, like \sources\boot.wim)
// from a ramdisk. Any existing store at path is replaced, bcdedit refuses to overwrite one.
func Create(ctx context.Context, fs vfs.FS, runner utils.Runner, path, bootWim string, uefi bool) (Store, error) {
	s := Store{Runner: runner, Path: path}
	if err := utils.CreateIfNotExists(fs, filepath.Dir(path)); err != nil {
		return s, err
	}
	if utils.Exists(fs, path) {
		if err := fs.Remove(path); err != nil {
			return s, err
		}
	}
	res, err := runner.Run(ctx, "bcdedit", "/createstore", path)
	if err == nil && res.ExitCode != 0 {
		err = &schema.ExternalToolError{Stage: "bcd", Tool: "bcdedit", ExitCode: res.ExitCode, Output: res.Output}
	}
	if err != nil {
		return s, err
	}

	if _, err = s.run(ctx, "/create", BootManager, "/d", "Windows Boot Manager"); err != nil {
		return s, err
	}
	guid, err := s.CreateEntry(ctx, LoaderDescription, "osloader")
	if err != nil {
		return s, err
	}

	loader := `\windows\system32\winload.exe`
	if uefi {
		loader = `\windows\system32\winload.efi`
	}
	ramdisk := fmt.Sprintf("ramdisk=[boot]%s,%s", bootWim, RamdiskOptions)
	steps := [][3]string{
		{BootManager, "default", guid},
		{BootManager, "displayorder", guid},
		{BootManager, "timeout", "0"},
		{guid, "device", ramdisk},
		{guid, "osdevice", ramdisk},
		{guid, "path", loader},
		{guid, "systemroot", `\windows`},
		{guid, "detecthal", "yes"},
		{guid, "winpe", "yes"},
	}
	for _, st := range steps {
		if err = s.Set(ctx, st[0], st[1], st[2]); err != nil {
			return s, err
		}
	}

	// ramdisk options may already exist in some bcdedit versions, that is fine
	if _, err = s.run(ctx, "/create", RamdiskOptions); err != nil {
		return s, err
	}
	if err = s.Set(ctx, RamdiskOptions, "ramdisksdidevice", "boot"); err != nil {
		return s, err
	}
	return s, s.Set(ctx, RamdiskOptions, "ramdisksdipath", `\boot\boot.sdi`)
}
