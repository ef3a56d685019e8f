package build

import (
	"fmt"
	"path/filepath"

	cnst "github.com/masterbooter/masterbooter/internal/constants"
	"github.com/masterbooter/masterbooter/pkg/components"
	"github.com/masterbooter/masterbooter/pkg/fixes"
	"github.com/masterbooter/masterbooter/pkg/inject"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/twpayne/go-vfs/v4"
	"gopkg.in/yaml.v3"
)

// Config is the build request, usually read from a YAML file and completed by flags.
type Config struct {
	// Source is an ISO, an extracted media tree or a bare boot WIM.
	Source     string `yaml:"source"`
	ImageIndex int    `yaml:"image_index"`
	// InstallIndex selects the image of the source's install.wim used as driver and network source.
	InstallIndex int `yaml:"install_index"`
	// SourceWindows is an already extracted Windows directory, used instead of mounting the install image.
	SourceWindows string `yaml:"source_windows,omitempty"`

	Output      string `yaml:"output"`
	VolumeLabel string `yaml:"volume_label"`
	Arch        string `yaml:"arch"`
	WorkDir     string `yaml:"work_dir"`
	KeepWorkDir bool   `yaml:"keep_work_dir"`

	Imager        string   `yaml:"imager"`
	MediaTool     string   `yaml:"media_tool"`
	MediaToolPath string   `yaml:"media_tool_path,omitempty"`
	ADKRoots      []string `yaml:"adk_roots,omitempty"`
	// ADKMedia is the WinPE Media directory, needed for bare WIM sources.
	ADKMedia string `yaml:"adk_media,omitempty"`
	// RebuildBCD recreates both boot stores even when the source already has them.
	RebuildBCD bool `yaml:"rebuild_bcd"`

	Components         []string        `yaml:"components"`
	DisabledComponents []string        `yaml:"disabled_components,omitempty"`
	ComponentOverrides map[string]bool `yaml:"component_overrides,omitempty"`

	Fixes      []string      `yaml:"fixes"`
	FixOptions fixes.Options `yaml:"fix_options,omitempty"`

	// ExtractDrivers pulls the allowlisted driver packages out of the source install.
	ExtractDrivers  bool     `yaml:"extract_drivers"`
	DriverAllowlist []string `yaml:"driver_allowlist,omitempty"`
	DriverPaths     []string `yaml:"driver_paths,omitempty"`
	Network         bool     `yaml:"network"`

	ToolsDir string   `yaml:"tools_dir,omitempty"`
	Tools    []string `yaml:"tools,omitempty"`
	Shell    string   `yaml:"shell,omitempty"`

	SkipPreflight bool `yaml:"skip_preflight"`
}

// DefaultConfig is a WinPE build with the default components and fixes.
func DefaultConfig() Config {
	return Config{
		ImageIndex:      cnst.DefaultImageIndex,
		InstallIndex:    cnst.DefaultImageIndex,
		VolumeLabel:     cnst.DefaultVolumeLabel,
		Arch:            cnst.DefaultArch,
		Imager:          "dism",
		MediaTool:       "oscdimg",
		ADKRoots:        components.DefaultADKRoots,
		Components:      components.Default().Defaults(),
		Fixes:           fixes.Defaults(),
		ExtractDrivers:  true,
		DriverAllowlist: inject.DefaultAllowlist,
		Network:         true,
	}
}

// LoadConfig reads a YAML build file over the defaults.
func LoadConfig(fs vfs.FS, path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := fs.ReadFile(path)
	if err != nil {
		return cfg, schema.NewConfigError("config", err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, schema.NewConfigError("config", fmt.Errorf("parsing %s: %w", path, err))
	}
	return cfg, nil
}

// MountDir is the fixed mount directory of the work dir. Two builds sharing a work dir
// compete for it and the second one fails fast.
func (c Config) MountDir() string { return filepath.Join(c.WorkDir, cnst.MountDirName) }

func (c Config) MediaDir() string { return filepath.Join(c.WorkDir, cnst.MediaDirName) }

// installDir is where the source install image gets mounted read-only.
func (c Config) installDir() string { return filepath.Join(c.WorkDir, "install") }

func (c Config) extractDir() string { return filepath.Join(c.WorkDir, "extract") }
