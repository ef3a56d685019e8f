// Package tools discovers the auxiliary programs bundled into the boot image and
// wires the shell that starts them.
package tools

import (
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/store"
	"github.com/rs/zerolog"
	"github.com/twpayne/go-vfs/v4"
)

const ManifestName = "tool.toml"

// Tool is one bundled program, described by the [tool] table of its manifest.
type Tool struct {
	Name             string `toml:"name"`
	Description      string `toml:"description"`
	Category         string `toml:"category"`
	Version          string `toml:"version"`
	Exe              string `toml:"exe"`
	IsShell          bool   `toml:"is_shell"`
	CreateShortcut   bool   `toml:"create_shortcut"`
	EnabledByDefault bool   `toml:"enabled_by_default"`
	AutoLaunch       bool   `toml:"auto_launch"`

	// Dir is the folder holding the manifest.
	Dir     string `toml:"-"`
	Present bool   `toml:"-"`
	Enabled bool   `toml:"-"`
}

type manifest struct {
	Tool Tool `toml:"tool"`
}

// Discover parses every tool.toml below dir. A tool is present when its exe exists next to the manifest.
func Discover(fs vfs.FS, dir string, logger zerolog.Logger) ([]Tool, error) {
	var found []Tool
	err := utils.WalkFiles(fs, dir, func(path string, _ iofs.FileInfo) error {
		if filepath.Base(path) != ManifestName {
			return nil
		}
		data, err := fs.ReadFile(path)
		if err != nil {
			return err
		}
		m := manifest{Tool: Tool{CreateShortcut: true}}
		if _, err = toml.Decode(string(data), &m); err != nil {
			logger.Warn().Err(err).Str("manifest", path).Msg("skipping invalid tool manifest")
			return nil
		}
		t := m.Tool
		if t.Name == "" || t.Exe == "" {
			logger.Warn().Str("manifest", path).Msg("tool manifest needs name and exe")
			return nil
		}
		t.Dir = filepath.Dir(path)
		t.Present = utils.Exists(fs, filepath.Join(t.Dir, t.Exe))
		t.Enabled = t.EnabledByDefault
		found = append(found, t)
		return nil
	})
	if err != nil && !utils.IsNotExist(err) {
		return nil, err
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	return found, nil
}

// ApplySelection overrides the enabled state of each tool with the one saved in s.
func ApplySelection(list []Tool, s store.Store) []Tool {
	out := make([]Tool, len(list))
	for i, t := range list {
		if v, ok := s.Get(store.ToolKey(t.Name)); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				t.Enabled = b
			}
		}
		out[i] = t
	}
	return out
}

// SaveSelection records the enabled state of each tool in s.
func SaveSelection(list []Tool, s store.Store) {
	for _, t := range list {
		s.Set(store.ToolKey(t.Name), strconv.FormatBool(t.Enabled))
	}
}

// Enable turns on exactly the named tools. Unknown names are an error.
func Enable(list []Tool, names []string) ([]Tool, error) {
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	out := make([]Tool, len(list))
	for i, t := range list {
		t.Enabled = want[t.Name]
		delete(want, t.Name)
		out[i] = t
	}
	if len(want) > 0 {
		var unknown []string
		for n := range want {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown tools: %v", unknown)
	}
	return out, nil
}

// Usable reports whether the tool will be placed into the image.
func (t Tool) Usable() bool { return t.Enabled && t.Present }

// Place copies the enabled and present tools into <mount>\Tools\<name>.
// It returns the names of the placed tools.
func Place(fs vfs.FS, mount string, list []Tool, logger zerolog.Logger) ([]string, error) {
	base := filepath.Join(mount, "Tools")
	if err := utils.CreateIfNotExists(fs, base); err != nil {
		return nil, err
	}
	var placed []string
	var failed []string
	for _, t := range list {
		if !t.Usable() {
			continue
		}
		n, err := utils.CopyTree(fs, t.Dir, filepath.Join(base, t.Name))
		if err != nil {
			logger.Warn().Err(err).Str("tool", t.Name).Msg("could not place tool")
			failed = append(failed, t.Name)
			continue
		}
		logger.Debug().Str("tool", t.Name).Int("files", n).Msg("tool placed")
		placed = append(placed, t.Name)
	}
	if len(failed) > 0 {
		return placed, fmt.Errorf("tools not placed: %v", failed)
	}
	return placed, nil
}
