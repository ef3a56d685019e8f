package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	cnst "github.com/masterbooter/masterbooter/internal/constants"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/build"
	"github.com/masterbooter/masterbooter/pkg/components"
	"github.com/masterbooter/masterbooter/pkg/fixes"
	"github.com/masterbooter/masterbooter/pkg/host"
	"github.com/masterbooter/masterbooter/pkg/image"
	"github.com/masterbooter/masterbooter/pkg/media"
	"github.com/masterbooter/masterbooter/pkg/profile"
	"github.com/masterbooter/masterbooter/pkg/store"
	"github.com/masterbooter/masterbooter/pkg/tools"
	"github.com/masterbooter/masterbooter/pkg/unattend"
	"github.com/rs/zerolog"
	"github.com/twpayne/go-vfs/v4"
	"github.com/urfave/cli/v2"
)

// configDir holds the state file and the profiles unless overridden.
func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "masterbooter")
	}
	return filepath.Join(os.TempDir(), "masterbooter")
}

func runner() utils.Runner {
	return utils.ExecRunner{Timeout: cnst.DefaultToolTimeoutMinutes * time.Minute}
}

var stateFlag = &cli.StringFlag{
	Name:    "state",
	Usage:   "state file holding the last build and the tool selection",
	EnvVars: []string{"MASTERBOOTER_STATE"},
	Value:   filepath.Join(configDir(), cnst.StateName),
}

var toolsDirFlag = &cli.StringFlag{
	Name:    "tools-dir",
	Usage:   "directory holding one folder with a tool.toml per tool",
	EnvVars: []string{"MASTERBOOTER_TOOLS_DIR"},
}

var profilesFlag = &cli.StringFlag{
	Name:    "profiles",
	Usage:   "directory holding the deployment profiles",
	EnvVars: []string{"MASTERBOOTER_PROFILES"},
	Value:   filepath.Join(configDir(), "profiles"),
}

func table(c *cli.Context) *tabwriter.Writer {
	return tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
}

// buildConfig reads --config when given and lets the explicit flags win over it.
func buildConfig(c *cli.Context) (build.Config, error) {
	cfg := build.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = build.LoadConfig(vfs.OSFS, path); err != nil {
			return cfg, err
		}
	}
	if c.IsSet("source") {
		cfg.Source = c.String("source")
	}
	if c.IsSet("output") {
		cfg.Output = c.String("output")
	}
	if c.IsSet("work-dir") || cfg.WorkDir == "" {
		cfg.WorkDir = c.String("work-dir")
	}
	if c.IsSet("index") {
		cfg.ImageIndex = c.Int("index")
	}
	if c.IsSet("label") {
		cfg.VolumeLabel = c.String("label")
	}
	if c.IsSet("imager") {
		cfg.Imager = c.String("imager")
	}
	if c.IsSet("media-tool") {
		cfg.MediaTool = c.String("media-tool")
	}
	if c.IsSet("components") {
		cfg.Components = utils.CleanupSlice(c.StringSlice("components"))
	}
	if c.IsSet("disable") {
		cfg.DisabledComponents = utils.CleanupSlice(c.StringSlice("disable"))
	}
	if c.IsSet("fixes") {
		cfg.Fixes = utils.CleanupSlice(c.StringSlice("fixes"))
	}
	if c.IsSet("drivers") {
		cfg.DriverPaths = append(cfg.DriverPaths, c.StringSlice("drivers")...)
	}
	if c.Bool("no-network") {
		cfg.Network = false
	}
	if c.IsSet("tools-dir") {
		cfg.ToolsDir = c.String("tools-dir")
	}
	if c.IsSet("shell") {
		cfg.Shell = c.String("shell")
	}
	if c.Bool("keep-work-dir") {
		cfg.KeepWorkDir = true
	}
	if c.Bool("rebuild-bcd") {
		cfg.RebuildBCD = true
	}
	return cfg, nil
}

func progress(e build.Event) {
	level := zerolog.InfoLevel
	switch e.Status {
	case build.StageFailed:
		level = zerolog.ErrorLevel
	case build.StageWarning:
		level = zerolog.WarnLevel
	case build.StageStarted:
		level = zerolog.DebugLevel
	}
	utils.Log.WithLevel(level).Str("status", string(e.Status)).Str("message", e.Message).Msgf("[%d/%d] %s", e.Index, e.Total, e.Stage)
}

var Commands = []*cli.Command{
	{
		Name:      "build",
		Usage:     "build a WinPE ISO",
		UsageText: "build --source <iso|dir|wim> --output <iso>",
		Description: `
Builds bootable WinPE media: stages the source, mounts its boot image, adds optional components,
fixes, drivers, network support and tools, then writes and verifies the ISO.
`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML build file", EnvVars: []string{"MASTERBOOTER_CONFIG"}},
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, EnvVars: []string{"MASTERBOOTER_SOURCE"}},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, EnvVars: []string{"MASTERBOOTER_OUTPUT"}},
			&cli.StringFlag{Name: "work-dir", EnvVars: []string{"MASTERBOOTER_WORK_DIR"}, Value: filepath.Join(os.TempDir(), "masterbooter")},
			&cli.IntFlag{Name: "index", Usage: "boot image index", Value: cnst.DefaultImageIndex},
			&cli.StringFlag{Name: "label", EnvVars: []string{"MASTERBOOTER_LABEL"}},
			&cli.StringFlag{Name: "imager", Usage: "dism or wimlib", EnvVars: []string{"MASTERBOOTER_IMAGER"}},
			&cli.StringFlag{Name: "media-tool", Usage: "oscdimg or xorriso", EnvVars: []string{"MASTERBOOTER_MEDIA_TOOL"}},
			&cli.StringSliceFlag{Name: "components", Usage: "optional component ids"},
			&cli.StringSliceFlag{Name: "disable", Usage: "component ids to leave out"},
			&cli.StringSliceFlag{Name: "fixes", Usage: "fix ids"},
			&cli.StringSliceFlag{Name: "drivers", Usage: "extra driver folders"},
			&cli.BoolFlag{Name: "no-network"},
			&cli.StringFlag{Name: "shell", Usage: "shell tool to launch"},
			&cli.BoolFlag{Name: "keep-work-dir"},
			&cli.BoolFlag{Name: "rebuild-bcd"},
			toolsDirFlag,
			stateFlag,
			&cli.BoolFlag{
				Name:    "dry-run",
				EnvVars: []string{cnst.EnvDryRun},
			},
		},
		Action: func(c *cli.Context) (err error) {
			cfg, err := buildConfig(c)
			if err != nil {
				return err
			}
			st := store.NewEnvStore(vfs.OSFS, c.String("state"))
			b, err := build.NewBuilder(vfs.OSFS, runner(), cfg, st, utils.Log)
			if err != nil {
				return err
			}
			b.Observer = progress

			if c.Bool("dry-run") {
				plan, err := b.Plan(cfg)
				if err != nil {
					return err
				}
				utils.Log.Info().Msg(plan)
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			report, err := b.Run(ctx, cfg)
			fmt.Fprint(c.App.Writer, report.Summary())
			return err
		},
	},
	{
		Name:      "verify",
		Usage:     "run the structural checks on an existing ISO",
		UsageText: "verify <iso>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("need the path of the media to verify")
			}
			report, err := media.Verify(vfs.OSFS, c.Args().First())
			w := table(c)
			for _, check := range report.Checks {
				state := "ok"
				if !check.Passed {
					state = "FAILED"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", check.Name, state, check.Detail)
			}
			if ferr := w.Flush(); err == nil {
				err = ferr
			}
			return err
		},
	},
	{
		Name:      "generate",
		Usage:     "generate an autounattend.xml",
		UsageText: "generate --profile <name> --edition-index <n> --output <dir>",
		Description: `
Turns a deployment profile into autounattend.xml, the diskpart script and, when a scripts folder
is given, the first logon and SetupComplete runners.
`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "stored profile name"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "profile YAML file", EnvVars: []string{"MASTERBOOTER_UNATTEND"}},
			&cli.IntFlag{Name: "edition-index", Usage: "image index of the edition, 0 selects by --edition"},
			&cli.StringFlag{Name: "edition", Usage: "edition name"},
			&cli.IntFlag{Name: "disk", Usage: "target disk, -1 leaves it to setup", Value: 0},
			&cli.StringFlag{Name: "scripts", Usage: "folder with FirstLogon and SetupComplete subfolders"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "."},
			&cli.StringFlag{Name: "stage", Usage: "target root to copy scripts and runners into"},
			profilesFlag,
		},
		Action: func(c *cli.Context) (err error) {
			cfg := unattend.DefaultConfig()
			switch {
			case c.String("config") != "":
				cfg, err = profile.LoadFile(vfs.OSFS, c.String("config"))
			case c.String("profile") != "":
				cfg, err = profile.Store{FS: vfs.OSFS, Dir: c.String("profiles")}.Load(c.String("profile"))
			}
			if err != nil {
				return err
			}
			if c.IsSet("edition") {
				cfg.Edition = c.String("edition")
			}
			if c.IsSet("edition-index") {
				cfg.EditionIndex = c.Int("edition-index")
			}
			if c.IsSet("disk") {
				cfg.DiskID = c.Int("disk")
			}

			var scripts []unattend.Script
			if dir := c.String("scripts"); dir != "" {
				if scripts, err = unattend.ListScripts(vfs.OSFS, dir); err != nil {
					return err
				}
			}
			res, err := unattend.Generate(cfg, cfg.EditionIndex, scripts)
			if err != nil {
				return err
			}

			out := c.String("output")
			if err = utils.CreateIfNotExists(vfs.OSFS, out); err != nil {
				return err
			}
			descriptor := filepath.Join(out, unattend.DescriptorName)
			if err = vfs.OSFS.WriteFile(descriptor, res.Descriptor, 0o644); err != nil {
				return err
			}
			utils.Log.Info().Str("file", descriptor).Int("commands", len(res.Commands)).Msg("Descriptor written")
			if res.DiskScript != "" {
				script := filepath.Join(out, "diskpart.txt")
				if err = vfs.OSFS.WriteFile(script, []byte(res.DiskScript), 0o644); err != nil {
					return err
				}
				utils.Log.Info().Str("file", script).Int("disk", cfg.DiskID).Msg("Disk script written")
			}
			if target := c.String("stage"); target != "" {
				if err = unattend.StageScripts(vfs.OSFS, target, res.Scripts); err != nil {
					return err
				}
				utils.Log.Info().Str("target", target).Int("scripts", len(res.Scripts)).Msg("Scripts staged")
			}
			return nil
		},
	},
	{
		Name:  "components",
		Usage: "list the WinPE optional components",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "resolve", Usage: "show the install order for these ids"},
		},
		Action: func(c *cli.Context) error {
			cat := components.Default()
			if ids := c.StringSlice("resolve"); len(ids) > 0 {
				res, err := components.Resolve(cat, components.Request{Requested: ids})
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, strings.Join(res.IDs(), " -> "))
				return nil
			}
			w := table(c)
			fmt.Fprintln(w, "ID\tPACKAGE\tCATEGORY\tDEFAULT\tDEPENDS")
			for _, comp := range cat.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", comp.ID, comp.Package, comp.Category, comp.Default, strings.Join(comp.Deps, ","))
			}
			return w.Flush()
		},
	},
	{
		Name:  "fixes",
		Usage: "list the image fixes",
		Action: func(c *cli.Context) error {
			w := table(c)
			fmt.Fprintln(w, "ID\tCATEGORY\tDEFAULT\tDESCRIPTION")
			for _, f := range fixes.All() {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", f.ID, f.Category, f.Default, f.Description)
			}
			return w.Flush()
		},
	},
	{
		Name:  "tools",
		Usage: "list the auxiliary tools and choose which ones are enabled",
		Flags: []cli.Flag{
			toolsDirFlag,
			stateFlag,
			&cli.StringSliceFlag{Name: "enable", Usage: "enable exactly these tools and remember the choice"},
		},
		Action: func(c *cli.Context) error {
			if c.String("tools-dir") == "" {
				return fmt.Errorf("no tools dir given")
			}
			st := store.NewEnvStore(vfs.OSFS, c.String("state"))
			if err := st.Load(); err != nil {
				return err
			}
			list, err := tools.Discover(vfs.OSFS, c.String("tools-dir"), utils.Log)
			if err != nil {
				return err
			}
			list = tools.ApplySelection(list, st)
			if c.IsSet("enable") {
				if list, err = tools.Enable(list, utils.CleanupSlice(c.StringSlice("enable"))); err != nil {
					return err
				}
				tools.SaveSelection(list, st)
				if err = st.Save(); err != nil {
					return err
				}
			}
			w := table(c)
			fmt.Fprintln(w, "NAME\tCATEGORY\tVERSION\tPRESENT\tENABLED\tSHELL")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%t\n", t.Name, t.Category, t.Version, t.Present, t.Enabled, t.IsShell)
			}
			return w.Flush()
		},
	},
	{
		Name:  "profile",
		Usage: "manage deployment profiles",
		Flags: []cli.Flag{profilesFlag},
		Subcommands: []*cli.Command{
			{
				Name:      "save",
				UsageText: "profile save <name> <file.yaml>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("need a name and a profile file")
					}
					cfg, err := profile.LoadFile(vfs.OSFS, c.Args().Get(1))
					if err != nil {
						return err
					}
					if err = cfg.Validate(); err != nil {
						return err
					}
					name, err := profile.Store{FS: vfs.OSFS, Dir: c.String("profiles")}.Save(c.Args().First(), cfg)
					if err != nil {
						return err
					}
					utils.Log.Info().Str("profile", name).Msg("Profile saved")
					return nil
				},
			},
			{
				Name: "list",
				Action: func(c *cli.Context) error {
					names, err := profile.Store{FS: vfs.OSFS, Dir: c.String("profiles")}.List()
					if err != nil {
						return err
					}
					for _, n := range names {
						fmt.Fprintln(c.App.Writer, n)
					}
					return nil
				},
			},
			{
				Name:      "delete",
				UsageText: "profile delete <name>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("need a profile name")
					}
					return profile.Store{FS: vfs.OSFS, Dir: c.String("profiles")}.Delete(c.Args().First())
				},
			},
		},
	},
	{
		Name:  "disks",
		Usage: "list the disks a deployment could target",
		Action: func(c *cli.Context) error {
			disks, err := host.Disks()
			if err != nil {
				return err
			}
			w := table(c)
			fmt.Fprintln(w, "ID\tNAME\tSIZE\tTYPE\tREMOVABLE\tMODEL")
			for _, d := range disks {
				fmt.Fprintf(w, "%d\t%s\t%d GiB\t%s\t%t\t%s\n", d.Index, d.Name, d.SizeBytes>>30, d.DriveType, d.Removable, d.Model)
			}
			return w.Flush()
		},
	},
	{
		Name:  "cleanup",
		Usage: "discard image mounts a failed build left behind",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "work-dir", EnvVars: []string{"MASTERBOOTER_WORK_DIR"}, Value: filepath.Join(os.TempDir(), "masterbooter")},
			&cli.StringFlag{Name: "imager", EnvVars: []string{"MASTERBOOTER_IMAGER"}, Value: "dism"},
		},
		Action: func(c *cli.Context) error {
			im, err := image.ByName(c.String("imager"), runner())
			if err != nil {
				return err
			}
			ledger := image.NewLedger(vfs.OSFS, filepath.Join(c.String("work-dir"), cnst.LedgerName))
			released, err := image.NewRegistry(vfs.OSFS, ledger, utils.Log).Sweep(c.Context, im)
			for _, dir := range released {
				utils.Log.Info().Str("dir", dir).Msg("Released")
			}
			return err
		},
	},
}
