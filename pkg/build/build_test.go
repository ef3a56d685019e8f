package build_test

import (
	"context"
	"errors"
	"time"

	cnst "github.com/masterbooter/masterbooter/internal/constants"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/build"
	"github.com/masterbooter/masterbooter/pkg/components"
	"github.com/masterbooter/masterbooter/pkg/image"
	"github.com/masterbooter/masterbooter/pkg/inject"
	"github.com/masterbooter/masterbooter/pkg/media"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/masterbooter/masterbooter/pkg/store"
	"github.com/masterbooter/masterbooter/tests/mocks"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
	"github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"
)

const ocs = "/adk/Assessment and Deployment Kit/Windows Preinstallation Environment/amd64/WinPE_OCs"

func fakeImage(files map[string]string) string {
	m := map[string][]byte{}
	for k, v := range files {
		m[k] = []byte(v)
	}
	return string(mocks.EncodeImage(m))
}

var _ = Describe("Builder", func() {
	var fs vfs.FS
	var cleanup func()
	var imager *mocks.FakeImager
	var runner *mocks.FakeRunner
	var st *store.EnvStore
	var builder *build.Builder
	var cfg build.Config
	var events []build.Event
	var verifyErr error
	ctx := context.Background()

	BeforeEach(func() {
		var err error
		fs, cleanup, err = vfst.NewTestFS(map[string]interface{}{
			"/src/bootmgr":                       "bootmgr",
			"/src/bootmgr.efi":                   "bootmgr efi",
			"/src/boot/BCD":                      "legacy store",
			"/src/boot/etfsboot.com":             "etfs",
			"/src/efi/microsoft/boot/BCD":        "uefi store",
			"/src/efi/microsoft/boot/efisys.bin": "efisys",
			"/src/sources/boot.wim": fakeImage(map[string]string{
				"Windows/System32/config/SYSTEM": "hive",
				"Windows/System32/winload.efi":   "loader",
			}),
			"/src/sources/install.wim": fakeImage(map[string]string{
				"Windows/System32/DriverStore/FileRepository/netwtw06.inf_amd64_1/netwtw06.inf": "[Version]",
				"Windows/System32/DriverStore/FileRepository/netwtw06.inf_amd64_1/netwtw06.sys": "sys",
				"Windows/System32/DriverStore/FileRepository/usbstor.inf_amd64_1/usbstor.inf":   "[Version]",
				"Windows/System32/wlansvc.dll":                                                  "wlan",
			}),
			ocs + "/WinPE-WMI.cab":       "cab",
			ocs + "/WinPE-Scripting.cab": "cab",
			"/out":                       &vfst.Dir{Perm: 0o755},
			"/state":                     &vfst.Dir{Perm: 0o755},
		})
		Expect(err).ToNot(HaveOccurred())

		imager = mocks.NewFakeImager(fs)
		runner = mocks.NewFakeRunner()
		runner.SideEffect = func(name string, args ...string) (utils.Result, error) {
			if name == "oscdimg" {
				return utils.Result{}, fs.WriteFile(args[len(args)-1], []byte("CD001"), 0o644)
			}
			return utils.Result{}, nil
		}
		st = store.NewEnvStore(fs, "/state/"+cnst.StateName)
		registry := image.NewRegistry(fs, image.NewLedger(fs, "/work/"+cnst.LedgerName), zerolog.Nop())
		registry.UnmountDelay = 0
		events = nil
		verifyErr = nil

		builder = &build.Builder{
			FS:         fs,
			Runner:     runner,
			Imager:     imager,
			Registry:   registry,
			Tool:       media.Oscdimg{},
			Store:      st,
			Catalog:    components.Default(),
			Logger:     zerolog.Nop(),
			Observer:   func(e build.Event) { events = append(events, e) },
			SecureBoot: func() bool { return false },
			FreeSpace:  func(string) (uint64, error) { return 20 << 30, nil },
			LookPath:   func(name string) (string, bool) { return name, true },
			Verify: func(_ vfs.FS, path string) (media.VerificationReport, error) {
				report := media.VerificationReport{Path: path, Passed: verifyErr == nil}
				return report, verifyErr
			},
			Now: func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) },
		}

		cfg = build.DefaultConfig()
		cfg.Source = "/src"
		cfg.Output = "/out/pe.iso"
		cfg.WorkDir = "/work"
		cfg.ADKRoots = []string{"/adk"}
		cfg.Components = []string{"scripting"}
		cfg.Fixes = []string{"profile_folders"}
	})

	AfterEach(func() {
		cleanup()
	})

	It("builds, commits and records a successful build", func() {
		cfg.KeepWorkDir = true
		report, err := builder.Run(ctx, cfg)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Status).To(Equal(build.StatusSucceeded))
		Expect(report.Components).To(Equal([]string{"wmi", "scripting"}))
		Expect(report.Injection.DriversAdded).To(Equal(1))
		Expect(report.Shell).To(Equal("cmd.exe"))

		s, ok := report.Stage(cnst.OpPlaceTools)
		Expect(ok).To(BeTrue())
		Expect(s.Status).To(Equal(build.StageSkipped))
		for _, op := range []string{cnst.OpDetectSource, cnst.OpMountImage, cnst.OpInstallPackages, cnst.OpApplyFixes, cnst.OpInjectDrivers, cnst.OpCommitImage, cnst.OpExportImage, cnst.OpAssembleMedia, cnst.OpVerifyMedia} {
			s, _ := report.Stage(op)
			Expect(s.Status).To(Equal(build.StageSucceeded), op)
		}

		Expect(imager.Called("add-package " + ocs + "/WinPE-WMI.cab")).To(BeTrue())
		Expect(imager.Called("unmount /work/mount commit=true")).To(BeTrue())
		Expect(imager.Called("mount /src/sources/install.wim 1 /work/install read-only")).To(BeTrue())
		Expect(imager.Called("unmount /work/install commit=false")).To(BeTrue())
		Expect(imager.Called("export /work/media/sources/boot.wim 1 /work/media/sources/boot.wim.new")).To(BeTrue())
		Expect(utils.Exists(fs, "/work/media/sources/boot.wim.new")).To(BeFalse())
		Expect(imager.Called("add-driver /work/install/Windows/System32/DriverStore/FileRepository/netwtw06.inf_amd64_1")).To(BeTrue())
		Expect(imager.Called("add-driver /work/install/Windows/System32/DriverStore/FileRepository/usbstor")).To(BeFalse())
		Expect(runner.Called("oscdimg", "-lMASTERBOOTER", "/work/media", "/out/pe.iso")).To(BeTrue())
		Expect(builder.Registry.Live("/work/mount")).To(BeFalse())
		Expect(builder.Registry.Live("/work/install")).To(BeFalse())

		data, err := fs.ReadFile("/work/media/sources/boot.wim")
		Expect(err).ToNot(HaveOccurred())
		files, err := mocks.DecodeImage(data)
		Expect(err).ToNot(HaveOccurred())
		Expect(files).To(HaveKey("ProgramData/MasterBooter/CreateProfileFolders.cmd"))
		Expect(files).To(HaveKey("Windows/System32/winpeshl.ini"))
		Expect(files).To(HaveKey("Windows/System32/wlansvc.dll"))

		_, err = fs.Stat("/out/pe.iso")
		Expect(err).ToNot(HaveOccurred())

		Expect(events[0]).To(Equal(build.Event{Stage: cnst.OpDetectSource, Index: 1, Total: 12, Status: build.StageStarted}))
		last := events[len(events)-1]
		Expect(last.Stage).To(Equal(cnst.OpVerifyMedia))
		Expect(last.Status).To(Equal(build.StageSucceeded))

		reloaded := store.NewEnvStore(fs, "/state/"+cnst.StateName)
		Expect(reloaded.Load()).To(Succeed())
		id, _ := reloaded.Get(store.KeyLastBuildID)
		Expect(id).To(Equal(report.ID))
		status, _ := reloaded.Get(store.KeyLastBuildStatus)
		Expect(status).To(Equal("succeeded"))
		output, _ := reloaded.Get(store.KeyLastBuildOutput)
		Expect(output).To(Equal("/out/pe.iso"))
		when, _ := reloaded.Get(store.KeyLastBuildTime)
		Expect(when).To(Equal("2024-05-01T10:00:00Z"))
	})

	It("removes the work dirs unless asked to keep them", func() {
		_, err := builder.Run(ctx, cfg)
		Expect(err).ToNot(HaveOccurred())
		for _, dir := range []string{"/work/media", "/work/mount", "/work/install"} {
			_, err = fs.Stat(dir)
			Expect(err).To(HaveOccurred(), dir)
		}
	})

	It("goes on after an optional failure", func() {
		imager.PackageErrs["WinPE-Scripting.cab"] = errors.New("0x800f081e")
		report, err := builder.Run(ctx, cfg)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Status).To(Equal(build.StatusSucceeded))
		s, _ := report.Stage(cnst.OpInstallPackages)
		Expect(s.Status).To(Equal(build.StageWarning))
		Expect(report.Warnings).To(ContainElement(ContainSubstring("scripting")))
		Expect(report.Packages).To(HaveLen(2))
		Expect(report.Packages[0].Success).To(BeTrue())
		Expect(report.Packages[1].Success).To(BeFalse())
	})

	It("aborts on a mandatory failure and cleans up", func() {
		Expect(fs.WriteFile("/src/sources/install.wim", []byte(fakeImage(map[string]string{
			"Windows/System32/DriverStore/FileRepository/netwtw06.inf_amd64_1/netwtw06.pnf": "precompiled",
		})), 0o644)).To(Succeed())
		imager.RejectDrivers["netwtw06.inf_amd64_1"] = true

		report, err := builder.Run(ctx, cfg)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring(cnst.OpInjectDrivers))
		var driverErr *inject.DriverError
		Expect(errors.As(err, &driverErr)).To(BeTrue())
		Expect(report.Status).To(Equal(build.StatusFailed))

		for _, op := range []string{cnst.OpInjectNetwork, cnst.OpPlaceTools, cnst.OpConfigureShell, cnst.OpCommitImage, cnst.OpAssembleMedia, cnst.OpVerifyMedia} {
			s, _ := report.Stage(op)
			Expect(s.Status).To(Equal(build.StageSkipped), op)
		}
		Expect(imager.Called("unmount /work/mount commit=false")).To(BeTrue())
		Expect(imager.Called("unmount /work/mount commit=true")).To(BeFalse())
		Expect(builder.Registry.Live("/work/mount")).To(BeFalse())
		Expect(runner.Called("oscdimg")).To(BeFalse())
		_, err = fs.Stat("/out/pe.iso")
		Expect(err).To(HaveOccurred())

		status, _ := st.Get(store.KeyLastBuildStatus)
		Expect(status).To(Equal("failed"))
		_, ok := st.Get(store.KeyLastBuildOutput)
		Expect(ok).To(BeFalse())
	})

	It("removes partial media when assembly fails", func() {
		runner.SideEffect = func(name string, args ...string) (utils.Result, error) {
			if name == "oscdimg" {
				Expect(fs.WriteFile(args[len(args)-1], []byte("partial"), 0o644)).To(Succeed())
				return utils.Result{ExitCode: 1, Output: "ERROR: Could not open boot sector file"}, nil
			}
			return utils.Result{}, nil
		}
		report, err := builder.Run(ctx, cfg)
		var toolErr *schema.ExternalToolError
		Expect(errors.As(err, &toolErr)).To(BeTrue())
		Expect(toolErr.ExitCode).To(Equal(1))
		Expect(report.Status).To(Equal(build.StatusFailed))
		_, err = fs.Stat("/out/pe.iso")
		Expect(err).To(HaveOccurred())
		_, err = fs.Stat("/out/pe.iso.partial")
		Expect(err).To(HaveOccurred())
	})

	It("keeps the previous media when a rebuild fails", func() {
		Expect(fs.WriteFile("/out/pe.iso", []byte("last good"), 0o644)).To(Succeed())
		runner.SideEffect = func(name string, args ...string) (utils.Result, error) {
			if name == "oscdimg" {
				return utils.Result{ExitCode: 1}, nil
			}
			return utils.Result{}, nil
		}
		report, err := builder.Run(ctx, cfg)
		Expect(err).To(HaveOccurred())
		Expect(report.Status).To(Equal(build.StatusFailed))
		data, err := fs.ReadFile("/out/pe.iso")
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal("last good"))
	})

	It("aborts when the boot image cannot be exported", func() {
		imager.ExportErr = errors.New("export failed")
		report, err := builder.Run(ctx, cfg)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring(cnst.OpExportImage))
		Expect(report.Status).To(Equal(build.StatusFailed))
		s, _ := report.Stage(cnst.OpExportImage)
		Expect(s.Status).To(Equal(build.StageFailed))
		s, _ = report.Stage(cnst.OpAssembleMedia)
		Expect(s.Status).To(Equal(build.StageSkipped))
		Expect(runner.Called("oscdimg")).To(BeFalse())
	})

	It("exports an esd install image before mounting it read-only", func() {
		data, err := fs.ReadFile("/src/sources/install.wim")
		Expect(err).ToNot(HaveOccurred())
		Expect(fs.Remove("/src/sources/install.wim")).To(Succeed())
		Expect(fs.WriteFile("/src/sources/install.esd", data, 0o644)).To(Succeed())
		cfg.KeepWorkDir = true

		report, err := builder.Run(ctx, cfg)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Injection.DriversAdded).To(Equal(1))
		Expect(imager.Called("export /src/sources/install.esd 1 /work/extract/install.wim")).To(BeTrue())
		Expect(imager.Called("mount /work/extract/install.wim 1 /work/install read-only")).To(BeTrue())
		Expect(imager.Called("mount /src/sources/install.esd")).To(BeFalse())
	})

	It("keeps unverified media and says so", func() {
		verifyErr = &schema.VerificationFailure{Report: media.VerificationReport{}}
		report, err := builder.Run(ctx, cfg)
		var vf *schema.VerificationFailure
		Expect(errors.As(err, &vf)).To(BeTrue())
		Expect(report.Status).To(Equal(build.StatusBuiltUnverified))
		_, err = fs.Stat("/out/pe.iso")
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Summary()).To(ContainSubstring("built-unverified"))
	})

	It("stops between stages when cancelled", func() {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		builder.Observer = func(e build.Event) {
			if e.Stage == cnst.OpApplyFixes && e.Status == build.StageStarted {
				cancel()
			}
		}
		report, err := builder.Run(cctx, cfg)
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(report.Status).To(Equal(build.StatusCancelled))
		s, _ := report.Stage(cnst.OpCommitImage)
		Expect(s.Status).To(Equal(build.StageSkipped))
		Expect(imager.Called("unmount /work/mount commit=false")).To(BeTrue())
		Expect(builder.Registry.Live("/work/mount")).To(BeFalse())
		_, err = fs.Stat("/out/pe.iso")
		Expect(err).To(HaveOccurred())
	})

	It("lets a started commit finish when cancelled", func() {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		imager.BeforeUnmount = func(dir string, commit bool) {
			if commit {
				cancel()
			}
		}
		report, err := builder.Run(cctx, cfg)
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(report.Status).To(Equal(build.StatusCancelled))
		s, _ := report.Stage(cnst.OpCommitImage)
		Expect(s.Status).To(Equal(build.StageSucceeded))
		s, _ = report.Stage(cnst.OpExportImage)
		Expect(s.Status).To(Equal(build.StageSkipped))
		Expect(imager.Called("unmount /work/mount commit=true")).To(BeTrue())
		Expect(imager.Called("unmount /work/mount commit=false")).To(BeFalse())
		Expect(builder.Registry.Live("/work/mount")).To(BeFalse())
		Expect(runner.Called("oscdimg")).To(BeFalse())
	})

	It("relaxes both boot stores for file-copied drivers", func() {
		imager.RejectDrivers["netwtw06.inf_amd64_1"] = true
		builder.SecureBoot = func() bool { return true }
		report, err := builder.Run(ctx, cfg)
		Expect(err).ToNot(HaveOccurred())
		Expect(report.Injection.RequiresRelaxation).To(BeTrue())
		Expect(runner.Called("bcdedit", "/work/media/boot/BCD", "testsigning", "on")).To(BeTrue())
		Expect(runner.Called("bcdedit", "/work/media/efi/microsoft/boot/BCD", "nointegritychecks", "on")).To(BeTrue())
		Expect(report.Warnings).To(ContainElement(ContainSubstring("Secure Boot")))
	})

	It("rejects a bad configuration before touching anything", func() {
		cfg.Components = []string{"no-such-component"}
		report, err := builder.Run(ctx, cfg)
		Expect(errors.Is(err, schema.ErrUnknownComponent)).To(BeTrue())
		Expect(report.Status).To(Equal(build.StatusFailed))
		Expect(imager.Calls).To(BeEmpty())
		Expect(runner.Cmds()).To(BeEmpty())
		Expect(events).To(BeEmpty())
		_, err = fs.Stat("/state/" + cnst.StateName)
		Expect(err).To(HaveOccurred())
	})

	It("fails preflight with every problem listed", func() {
		builder.LookPath = func(string) (string, bool) { return "", false }
		builder.FreeSpace = func(string) (uint64, error) { return 1 << 30, nil }
		cfg.ADKRoots = []string{"/nowhere"}
		_, err := builder.Run(ctx, cfg)
		Expect(schema.IsConfigurationError(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("media tool oscdimg not found"))
		Expect(err.Error()).To(ContainSubstring("imaging tool fake not found"))
		Expect(err.Error()).To(ContainSubstring("at least 5120 MiB needed"))
		Expect(err.Error()).To(ContainSubstring("no WinPE optional components"))
		Expect(imager.Calls).To(BeEmpty())
	})

	It("plans without running anything", func() {
		plan, err := builder.Plan(cfg)
		Expect(err).ToNot(HaveOccurred())
		Expect(plan).To(ContainSubstring("1.\n <detect-source> (background: false) (weak: false) (run: false)\n"))
		Expect(plan).To(ContainSubstring("10.\n <export-image>"))
		Expect(plan).To(ContainSubstring("12.\n <verify-media>"))
		Expect(plan).To(ContainSubstring("components: wmi, scripting"))
		Expect(plan).To(ContainSubstring("included as dependencies: wmi"))
		Expect(imager.Calls).To(BeEmpty())
	})

	It("pins the stage order and classes", func() {
		ops := make([]string, 0, len(build.Stages))
		for _, st := range build.Stages {
			ops = append(ops, st.Op)
		}
		Expect(ops).To(Equal([]string{
			cnst.OpDetectSource, cnst.OpMountImage, cnst.OpInstallPackages, cnst.OpApplyFixes,
			cnst.OpInjectDrivers, cnst.OpInjectNetwork, cnst.OpPlaceTools, cnst.OpConfigureShell,
			cnst.OpCommitImage, cnst.OpExportImage, cnst.OpAssembleMedia, cnst.OpVerifyMedia,
		}))
		Expect(build.ClassOf(cnst.OpDetectSource)).To(Equal(build.Mandatory))
		Expect(build.ClassOf(cnst.OpInstallPackages)).To(Equal(build.Optional))
		Expect(build.ClassOf(cnst.OpApplyFixes)).To(Equal(build.Optional))
		Expect(build.ClassOf(cnst.OpInjectDrivers)).To(Equal(build.Mandatory))
		Expect(build.ClassOf(cnst.OpInjectNetwork)).To(Equal(build.Optional))
		Expect(build.ClassOf(cnst.OpExportImage)).To(Equal(build.Mandatory))
		Expect(build.ClassOf(cnst.OpVerifyMedia)).To(Equal(build.Verification))
		Expect(build.ClassOf("no-such-stage")).To(Equal(build.Mandatory))
	})
})
