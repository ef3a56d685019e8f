package profile_test

import (
	"errors"

	"github.com/masterbooter/masterbooter/pkg/profile"
	"github.com/masterbooter/masterbooter/pkg/unattend"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"
)

var _ = Describe("Store", func() {
	var fs vfs.FS
	var cleanup func()
	var store profile.Store

	BeforeEach(func() {
		var err error
		fs, cleanup, err = vfst.NewTestFS(map[string]interface{}{
			"/import/lab.yaml": "computer_name: LAB-PC\nboot_mode: BIOS\nedition: Windows 11 Pro\n",
		})
		Expect(err).ToNot(HaveOccurred())
		store = profile.Store{FS: fs, Dir: "/profiles"}
	})

	AfterEach(func() {
		cleanup()
	})

	It("never persists session fields", func() {
		cfg := unattend.DefaultConfig()
		cfg.ComputerName = "WS-01"
		cfg.ImagePath = `E:\sources\install.wim`
		cfg.Edition = "Windows 11 Pro"
		cfg.EditionIndex = 6

		name, err := store.Save("office", cfg)
		Expect(err).ToNot(HaveOccurred())
		Expect(name).To(Equal("office"))

		raw, err := fs.ReadFile("/profiles/office.yaml")
		Expect(err).ToNot(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring("computer_name: WS-01"))
		Expect(string(raw)).ToNot(ContainSubstring("install.wim"))
		Expect(string(raw)).ToNot(ContainSubstring("edition"))

		loaded, err := store.Load("office")
		Expect(err).ToNot(HaveOccurred())
		Expect(loaded).To(Equal(cfg.WithoutSession()))
	})

	It("sanitizes names", func() {
		Expect(profile.Sanitize(`../evil:name*`)).To(Equal("evilname"))
		name, err := store.Save("Front Desk/2", unattend.DefaultConfig())
		Expect(err).ToNot(HaveOccurred())
		Expect(name).To(Equal("Front Desk2"))
		_, err = fs.Stat("/profiles/Front Desk2.yaml")
		Expect(err).ToNot(HaveOccurred())

		_, err = store.Save("///", unattend.DefaultConfig())
		Expect(err).To(HaveOccurred())
	})

	It("lists and deletes profiles", func() {
		for _, n := range []string{"b", "a"} {
			_, err := store.Save(n, unattend.DefaultConfig())
			Expect(err).ToNot(HaveOccurred())
		}
		names, err := store.List()
		Expect(err).ToNot(HaveOccurred())
		Expect(names).To(Equal([]string{"a", "b"}))

		Expect(store.Delete("a")).To(Succeed())
		names, err = store.List()
		Expect(err).ToNot(HaveOccurred())
		Expect(names).To(Equal([]string{"b"}))

		err = store.Delete("a")
		Expect(errors.Is(err, profile.ErrNotFound)).To(BeTrue())
	})

	It("lists nothing before the first save", func() {
		names, err := store.List()
		Expect(err).ToNot(HaveOccurred())
		Expect(names).To(BeEmpty())
	})

	It("reports a missing profile", func() {
		_, err := store.Load("ghost")
		Expect(errors.Is(err, profile.ErrNotFound)).To(BeTrue())
	})

	It("imports a partial profile over the defaults", func() {
		cfg, err := profile.LoadFile(fs, "/import/lab.yaml")
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.ComputerName).To(Equal("LAB-PC"))
		Expect(cfg.BootMode).To(Equal(unattend.BootLegacy))
		Expect(cfg.Edition).To(BeEmpty())
		Expect(cfg.TimeZone).To(Equal("Eastern Standard Time"))
	})
})
