package image_test

import (
	"context"
	"errors"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/image"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/masterbooter/masterbooter/tests/mocks"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DISM", func() {
	var runner *mocks.FakeRunner
	var dism image.DISM
	ctx := context.Background()

	BeforeEach(func() {
		runner = mocks.NewFakeRunner()
		dism = image.DISM{Runner: runner}
	})

	It("mounts and unmounts with the expected arguments", func() {
		Expect(dism.Mount(ctx, image.MountSpec{Image: `C:\src\boot.wim`, Index: 2, Dir: `C:\mnt`})).To(Succeed())
		Expect(dism.Unmount(ctx, `C:\mnt`, true)).To(Succeed())
		Expect(dism.Unmount(ctx, `C:\mnt`, false)).To(Succeed())
		Expect(runner.Lines()).To(Equal([]string{
			`dism /Mount-Wim /WimFile:C:\src\boot.wim /Index:2 /MountDir:C:\mnt`,
			`dism /Unmount-Wim /MountDir:C:\mnt /Commit`,
			`dism /Unmount-Wim /MountDir:C:\mnt /Discard`,
		}))
	})

	It("mounts read-only when asked", func() {
		Expect(dism.Mount(ctx, image.MountSpec{Image: `C:\src\install.wim`, Index: 6, Dir: `C:\install`, ReadOnly: true})).To(Succeed())
		Expect(runner.Lines()).To(Equal([]string{
			`dism /Mount-Wim /WimFile:C:\src\install.wim /Index:6 /MountDir:C:\install /ReadOnly`,
		}))
	})

	It("exports a single index with maximum compression", func() {
		Expect(dism.Export(ctx, `C:\media\sources\boot.wim`, 1, `C:\media\sources\boot.wim.new`)).To(Succeed())
		Expect(runner.Lines()).To(Equal([]string{
			`dism /Export-Image /SourceImageFile:C:\media\sources\boot.wim /SourceIndex:1 /DestinationImageFile:C:\media\sources\boot.wim.new /Compress:max`,
		}))
	})

	It("wraps a nonzero exit as an external tool error", func() {
		runner.SideEffect = func(string, ...string) (utils.Result, error) {
			return utils.Result{ExitCode: 50, Output: "Error: 50"}, nil
		}
		err := dism.Mount(ctx, image.MountSpec{Image: "boot.wim", Index: 1, Dir: "mnt"})
		var te *schema.ExternalToolError
		Expect(errors.As(err, &te)).To(BeTrue())
		Expect(te.ExitCode).To(Equal(50))
		Expect(te.Tool).To(Equal("dism"))
	})

	It("treats already installed packages as success", func() {
		runner.SideEffect = func(string, ...string) (utils.Result, error) {
			return utils.Result{ExitCode: 0x800f081e, Output: "The package WinPE-WMI is already installed."}, nil
		}
		Expect(dism.AddPackage(ctx, "mnt", "WinPE-WMI.cab")).To(Succeed())
	})

	It("reports rejected drivers", func() {
		runner.SideEffect = func(string, ...string) (utils.Result, error) {
			return utils.Result{Output: "Searching for driver packages to install...\nFound 0 driver package(s) to install."}, nil
		}
		n, err := dism.AddDriver(ctx, "mnt", "netvwifibus")
		Expect(err).To(HaveOccurred())
		Expect(n).To(Equal(0))
		runner.SideEffect = func(string, ...string) (utils.Result, error) {
			return utils.Result{Output: "Found 2 driver package(s) to install.\nInstalling 1 of 2\nInstalling 2 of 2"}, nil
		}
		n, err = dism.AddDriver(ctx, "mnt", "iaStor")
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(2))
		Expect(runner.Called("/Add-Driver", "/Driver:iaStor", "/Recurse", "/ForceUnsigned")).To(BeTrue())
	})

	It("parses mounted directories and packages", func() {
		runner.SideEffect = func(_ string, args ...string) (utils.Result, error) {
			if args[0] == "/Get-MountedWimInfo" {
				return utils.Result{Output: "Mounted images:\n\nMount Dir : C:\\MNT\nImage File : C:\\boot.wim\n"}, nil
			}
			return utils.Result{Output: "Package Identity : WinPE-WMI-Package~31bf\nState : Installed\n\nPackage Identity : WinPE-Scripting-Package~31bf\n"}, nil
		}
		mounted, err := dism.Mounted(ctx, `C:\MNT`)
		Expect(err).ToNot(HaveOccurred())
		Expect(mounted).To(BeTrue())
		mounted, _ = dism.Mounted(ctx, `C:\other`)
		Expect(mounted).To(BeFalse())
		pkgs, err := dism.Packages(ctx, "mnt")
		Expect(err).ToNot(HaveOccurred())
		Expect(pkgs).To(Equal([]string{"WinPE-WMI-Package~31bf", "WinPE-Scripting-Package~31bf"}))
	})
})

var _ = Describe("RegWriter", func() {
	It("loads each hive once and unloads it after its edits", func() {
		runner := mocks.NewFakeRunner()
		w := image.RegWriter{Runner: runner}
		err := w.Apply(context.Background(), "/mnt", []image.RegistryEdit{
			image.DWord("SYSTEM", `ControlSet001\Control\FileSystem`, "LongPathsEnabled", 1),
			image.String("DEFAULT", `Control Panel\Desktop`, "Wallpaper", `X:\w.jpg`),
			image.DWord("system", `ControlSet001\Services\x`, "Start", 3),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(runner.Lines()).To(Equal([]string{
			`reg load HKLM\MB_SYSTEM /mnt/Windows/System32/config/SYSTEM`,
			`reg add HKLM\MB_SYSTEM\ControlSet001\Control\FileSystem /v LongPathsEnabled /t REG_DWORD /d 1 /f`,
			`reg add HKLM\MB_SYSTEM\ControlSet001\Services\x /v Start /t REG_DWORD /d 3 /f`,
			`reg unload HKLM\MB_SYSTEM`,
			`reg load HKLM\MB_DEFAULT /mnt/Windows/System32/config/DEFAULT`,
			`reg add HKLM\MB_DEFAULT\Control Panel\Desktop /v Wallpaper /t REG_SZ /d X:\w.jpg /f`,
			`reg unload HKLM\MB_DEFAULT`,
		}))
	})

	It("still unloads the hive when an edit fails", func() {
		runner := mocks.NewFakeRunner()
		runner.SideEffect = func(_ string, args ...string) (utils.Result, error) {
			if args[0] == "add" {
				return utils.Result{ExitCode: 1, Output: "ERROR: Access is denied."}, nil
			}
			return utils.Result{}, nil
		}
		err := image.RegWriter{Runner: runner}.Apply(context.Background(), "/mnt", []image.RegistryEdit{
			image.DWord("SOFTWARE", `Policies\x`, "y", 1),
		})
		Expect(err).To(HaveOccurred())
		Expect(runner.Called("reg unload HKLM\\MB_SOFTWARE")).To(BeTrue())
	})
})

var _ = Describe("wimlib", func() {
	var runner *mocks.FakeRunner
	var wim image.Wimlib
	ctx := context.Background()

	BeforeEach(func() {
		runner = mocks.NewFakeRunner()
		wim = image.Wimlib{Runner: runner}
	})

	It("mounts read-write and commits on unmount", func() {
		Expect(wim.Mount(ctx, image.MountSpec{Image: "/src/boot.wim", Index: 1, Dir: "/mnt"})).To(Succeed())
		Expect(wim.Unmount(ctx, "/mnt", true)).To(Succeed())
		Expect(wim.Unmount(ctx, "/mnt", false)).To(Succeed())
		Expect(wim.Mount(ctx, image.MountSpec{Image: "/src/install.wim", Index: 3, Dir: "/install", ReadOnly: true})).To(Succeed())
		Expect(wim.Export(ctx, "/src/boot.wim", 2, "/src/boot.wim.new")).To(Succeed())
		Expect(runner.Lines()).To(Equal([]string{
			"wimlib-imagex mountrw /src/boot.wim 1 /mnt",
			"wimlib-imagex unmount /mnt --commit",
			"wimlib-imagex unmount /mnt",
			"wimlib-imagex mount /src/install.wim 3 /install",
			"wimlib-imagex export /src/boot.wim 2 /src/boot.wim.new --compress=LZX",
		}))
	})

	It("refuses servicing so drivers fall back to copies", func() {
		_, err := wim.AddDriver(ctx, "/mnt", "/drivers/net")
		Expect(err).To(HaveOccurred())
		Expect(wim.AddPackage(ctx, "/mnt", "/ocs/WinPE-WMI.cab")).ToNot(Succeed())
	})

	It("does not see a missing directory as mounted", func() {
		mounted, err := wim.Mounted(ctx, "/nonexistent/masterbooter/mount")
		Expect(err).ToNot(HaveOccurred())
		Expect(mounted).To(BeFalse())
	})
})

var _ = Describe("ByName", func() {
	It("picks the backend by name", func() {
		runner := mocks.NewFakeRunner()
		im, err := image.ByName("", runner)
		Expect(err).ToNot(HaveOccurred())
		Expect(im.Name()).To(Equal("dism"))
		im, err = image.ByName("wimlib", runner)
		Expect(err).ToNot(HaveOccurred())
		Expect(im.Name()).To(Equal("wimlib-imagex"))
	})

	It("rejects unknown backends as configuration errors", func() {
		_, err := image.ByName("ghost", mocks.NewFakeRunner())
		var cfgErr *schema.ConfigurationError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
	})
})
