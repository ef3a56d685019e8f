package fixes

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/image"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/twpayne/go-vfs/v4"
)

type Category string

const (
	CategoryDisplay       Category = "Display"
	CategorySystem        Category = "System"
	CategoryCompatibility Category = "Compatibility"
)

var resolutionRe = regexp.MustCompile(`^(\d{3,5})x(\d{3,5})$`)

// Options carries the inputs some fixes need.
type Options struct {
	// Resolution is WxH, used by set_resolution.
	Resolution string `yaml:"resolution,omitempty"`
}

// Env is what a fix can touch: files through FS and offline hives through Registry.
type Env struct {
	FS       vfs.FS
	Registry image.RegistryWriter
	Options  Options
}

// Fix is an idempotent offline modification of a mounted image.
// Apply returns a short message describing what changed.
type Fix struct {
	ID          string
	Name        string
	Description string
	Category    Category
	Default     bool
	Apply       func(ctx context.Context, env Env, root string) (string, error)
}

type Result struct {
	ID      string
	Name    string
	Success bool
	Message string
}

var catalog = []Fix{
	{ID: "dpi_scaling", Name: "DPI Scaling Fix", Category: CategoryDisplay, Default: true,
		Description: "Fix blurry or small text on high DPI displays", Apply: dpiScaling},
	{ID: "wallpaper_host", Name: "Remove WallpaperHost.exe", Category: CategoryDisplay, Default: true,
		Description: "Remove WallpaperHost.exe and set the wallpaper through the registry", Apply: wallpaperHost},
	{ID: "font_fix", Name: "Font Rendering Fix", Category: CategoryDisplay, Default: true,
		Description: "Map Segoe UI italic to regular to avoid garbled text", Apply: fontFix},
	{ID: "set_resolution", Name: "Set Display Resolution", Category: CategoryDisplay,
		Description: "Configure a fixed display resolution", Apply: setResolution},
	{ID: "profile_folders", Name: "Create Profile Folders", Category: CategorySystem, Default: true,
		Description: "Create the standard user profile folders", Apply: profileFolders},
	{ID: "temp_folders", Name: "Configure TEMP Folders", Category: CategorySystem, Default: true,
		Description: "Make TEMP and TMP point to existing folders", Apply: tempFolders},
	{ID: "file_associations", Name: "File Associations", Category: CategorySystem, Default: true,
		Description: "Register common file associations", Apply: fileAssociations},
	{ID: "disable_crash_dialogs", Name: "Disable Crash Dialogs", Category: CategoryCompatibility, Default: true,
		Description: "Keep Windows Error Reporting dialogs from appearing", Apply: crashDialogs},
	{ID: "enable_long_paths", Name: "Enable Long Paths", Category: CategoryCompatibility, Default: true,
		Description: "Allow paths longer than 260 characters", Apply: longPaths},
}

var handlers = func() map[string]Fix {
	m := map[string]Fix{}
	for _, f := range catalog {
		m[f.ID] = f
	}
	return m
}()

// All returns every fix in declaration order.
func All() []Fix {
	return append([]Fix{}, catalog...)
}

func Get(id string) (Fix, bool) {
	f, ok := handlers[id]
	return f, ok
}

func Defaults() []string {
	var ids []string
	for _, f := range catalog {
		if f.Default {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// Validate rejects unknown ids and fixes whose options are missing or malformed.
func Validate(ids []string, opts Options) error {
	var errs error
	for _, id := range ids {
		if _, ok := handlers[id]; !ok {
			errs = multierror.Append(errs, fmt.Errorf("%w: %s", schema.ErrUnknownFix, id))
			continue
		}
		if id == "set_resolution" && !resolutionRe.MatchString(opts.Resolution) {
			errs = multierror.Append(errs, fmt.Errorf("set_resolution needs WxH, got %q", opts.Resolution))
		}
	}
	if errs != nil {
		return schema.NewConfigError("fixes", errs)
	}
	return nil
}

// ApplyAll applies each fix independently and returns one result per fix.
// The error aggregates the failed ones.
func ApplyAll(ctx context.Context, env Env, root string, ids []string) ([]Result, error) {
	var results []Result
	var errs error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		f, ok := handlers[id]
		if !ok {
			err := fmt.Errorf("%w: %s", schema.ErrUnknownFix, id)
			results = append(results, Result{ID: id, Message: err.Error()})
			errs = multierror.Append(errs, err)
			continue
		}
		msg, err := f.Apply(ctx, env, root)
		res := Result{ID: f.ID, Name: f.Name, Success: err == nil, Message: msg}
		if err != nil {
			res.Message = err.Error()
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", id, err))
			utils.Log.Warn().Err(err).Str("fix", id).Msg("Applying fix")
		} else {
			utils.Log.Info().Str("fix", id).Str("result", msg).Msg("Fix applied")
		}
		results = append(results, res)
	}
	return results, errs
}

// crlf converts a script or .reg body to the line endings Windows tools expect.
func crlf(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}

func writeFile(fs vfs.FS, path, content string) error {
	if err := utils.CreateIfNotExists(fs, filepath.Dir(path)); err != nil {
		return err
	}
	return fs.WriteFile(path, []byte(crlf(content)), 0o644)
}

// editHive applies edits only when the hive exists in the image, WinPE images don't always ship all of them.
func editHive(ctx context.Context, env Env, root, hive string, edits ...image.RegistryEdit) (bool, error) {
	if !utils.Exists(env.FS, utils.HiveFile(root, hive)) {
		return false, nil
	}
	return true, env.Registry.Apply(ctx, root, edits)
}
