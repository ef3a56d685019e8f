package media_test

import (
	"context"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/media"
	"github.com/masterbooter/masterbooter/pkg/schema"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
	"github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"
)

var _ = Describe("sources", func() {
	var fs vfs.FS
	var cleanup func()
	var stager media.Stager
	ctx := context.Background()

	BeforeEach(func() {
		var err error
		fs, cleanup, err = vfst.NewTestFS(map[string]interface{}{
			"/tree/BOOTMGR":                 "bootmgr",
			"/tree/Boot/etfsboot.com":       "etfs",
			"/tree/EFI/Boot/bootx64.efi":    "efi",
			"/tree/Sources/boot.wim":        "wim",
			"/tree/Sources/install.wim":     "install",
			"/tree/setup.exe":               "setup",
			"/adk/Media/bootmgr":            "bootmgr",
			"/adk/Media/Boot/etfsboot.com":  "etfs",
			"/images/winpe.wim":             "wim",
			"/images/notes.txt":             "notes",
			"/empty":                        &vfst.Dir{Perm: 0o755},
			"/work":                         &vfst.Dir{Perm: 0o755},
		})
		Expect(err).ToNot(HaveOccurred())
		stager = media.Stager{FS: fs, ADKMedia: "/adk/Media", Logger: zerolog.Nop()}
	})
	AfterEach(func() {
		cleanup()
	})

	It("classifies sources", func() {
		src, err := media.DetectSource(fs, "/tree")
		Expect(err).ToNot(HaveOccurred())
		Expect(src.Kind).To(Equal(media.KindTree))
		src, err = media.DetectSource(fs, "/images/winpe.wim")
		Expect(err).ToNot(HaveOccurred())
		Expect(src.Kind).To(Equal(media.KindWIM))

		_, err = media.DetectSource(fs, "/images/notes.txt")
		Expect(schema.IsConfigurationError(err)).To(BeTrue())
		_, err = media.DetectSource(fs, "/empty")
		Expect(schema.IsConfigurationError(err)).To(BeTrue())
		_, err = media.DetectSource(fs, "/missing.iso")
		Expect(schema.IsConfigurationError(err)).To(BeTrue())
	})

	It("stages the boot files of a directory tree", func() {
		wim, err := stager.Stage(ctx, media.Source{Path: "/tree", Kind: media.KindTree}, "/media")
		Expect(err).ToNot(HaveOccurred())
		Expect(wim).To(Equal("/media/sources/boot.wim"))
		Expect(utils.Exists(fs, "/media/bootmgr")).To(BeTrue())
		Expect(utils.Exists(fs, "/media/efi/Boot/bootx64.efi")).To(BeTrue())
		Expect(utils.Exists(fs, "/media/setup.exe")).To(BeFalse())
		Expect(utils.Exists(fs, "/media/sources/install.wim")).To(BeFalse())

		install, err := media.InstallImage(fs, media.Source{Path: "/tree", Kind: media.KindTree}, "/work")
		Expect(err).ToNot(HaveOccurred())
		Expect(install).To(Equal("/tree/Sources/install.wim"))
	})

	It("stages a bare WIM over the ADK media", func() {
		wim, err := stager.Stage(ctx, media.Source{Path: "/images/winpe.wim", Kind: media.KindWIM}, "/media")
		Expect(err).ToNot(HaveOccurred())
		Expect(utils.Exists(fs, "/media/Boot/etfsboot.com")).To(BeTrue())
		data, err := fs.ReadFile(wim)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal("wim"))

		_, err = media.InstallImage(fs, media.Source{Path: "/images/winpe.wim", Kind: media.KindWIM}, "/work")
		Expect(err).To(HaveOccurred())
	})

	It("needs the ADK media for a bare WIM", func() {
		stager.ADKMedia = ""
		_, err := stager.Stage(ctx, media.Source{Path: "/images/winpe.wim", Kind: media.KindWIM}, "/media")
		Expect(schema.IsConfigurationError(err)).To(BeTrue())
	})

	It("extracts the boot files of an ISO", func() {
		files := map[string]string{"sources/install.wim": "install", "setup.exe": "setup"}
		for k, v := range bootableTree {
			files[k] = v
		}
		writeISO(fs, "/images/win.iso", files, 0)
		src, err := media.DetectSource(fs, "/images/win.iso")
		Expect(err).ToNot(HaveOccurred())
		Expect(src.Kind).To(Equal(media.KindISO))

		wim, err := stager.Stage(ctx, src, "/media")
		Expect(err).ToNot(HaveOccurred())
		data, err := fs.ReadFile(wim)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal("wim"))
		Expect(utils.Exists(fs, "/media/efi/boot/bootx64.efi")).To(BeTrue())
		Expect(utils.Exists(fs, "/media/bootmgr")).To(BeTrue())
		_, found := utils.ResolveFold(fs, "/media", "setup.exe")
		Expect(found).To(BeFalse())

		install, err := media.InstallImage(fs, src, "/work")
		Expect(err).ToNot(HaveOccurred())
		data, err = fs.ReadFile(install)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal("install"))
	})
})
