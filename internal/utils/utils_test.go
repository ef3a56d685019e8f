package utils_test

import (
	"context"
	"os"
	"path/filepath"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/tests/mocks"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"
)

var _ = Describe("common utils", func() {
	var fs vfs.FS
	var cleanup func()

	BeforeEach(func() {
		var err error
		fs, cleanup, err = vfst.NewTestFS(map[string]interface{}{
			"/media/Boot/BCD":           "legacy",
			"/media/EFI/Microsoft/Boot": &vfst.Dir{Perm: 0o755},
			"/media/sources/boot.wim":   "wim",
			"/state.env":                "LAST_BUILD_ID=\"abc\"\nLAST_BUILD_STATUS=succeeded\n",
		})
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		cleanup()
	})

	Context("UniqueSlice", func() {
		It("Removes duplicates keeping the first one", func() {
			Expect(utils.UniqueSlice([]string{"a", "b", "c", "d", "b", "a"})).To(Equal([]string{"a", "b", "c", "d"}))
		})
	})
	Context("CleanupSlice", func() {
		It("Cleans up the slice of empty values", func() {
			Expect(utils.CleanupSlice([]string{"", " "})).To(BeEmpty())
			Expect(utils.CleanupSlice([]string{" wmi", "", "netfx "})).To(Equal([]string{"wmi", "netfx"}))
		})
	})
	Context("ReadEnv", func() {
		It("Parses correctly an env file", func() {
			env, err := utils.ReadEnv(fs, "/state.env")
			Expect(err).ToNot(HaveOccurred())
			Expect(env).To(HaveKeyWithValue("LAST_BUILD_ID", "abc"))
			Expect(env).To(HaveKeyWithValue("LAST_BUILD_STATUS", "succeeded"))
		})
		It("Fails on a missing file", func() {
			_, err := utils.ReadEnv(fs, "/missing.env")
			Expect(utils.IsNotExist(err)).To(BeTrue())
		})
	})
	Context("fold lookups", func() {
		It("resolves paths ignoring case", func() {
			p, ok := utils.ResolveFold(fs, "/media", "boot/bcd")
			Expect(ok).To(BeTrue())
			Expect(p).To(Equal("/media/Boot/BCD"))
			p, ok = utils.ResolveFold(fs, "/media", "efi/MICROSOFT/boot")
			Expect(ok).To(BeTrue())
			Expect(p).To(Equal("/media/EFI/Microsoft/Boot"))
		})
		It("reports missing elements", func() {
			_, ok := utils.ResolveFold(fs, "/media", "efi/boot/bootx64.efi")
			Expect(ok).To(BeFalse())
			_, ok = utils.FindFold(fs, "/nowhere", "x")
			Expect(ok).To(BeFalse())
		})
	})
	Context("copies", func() {
		It("copies a tree and counts the files", func() {
			n, err := utils.CopyTree(fs, "/media", "/copy")
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(2))
			data, err := fs.ReadFile("/copy/sources/boot.wim")
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(Equal("wim"))
			Expect(utils.IsDir(fs, "/copy/Boot")).To(BeTrue())
		})
		It("walks files in lexical order", func() {
			var seen []string
			err := utils.WalkFiles(fs, "/media", func(path string, _ os.FileInfo) error {
				seen = append(seen, path)
				return nil
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(seen).To(Equal([]string{"/media/Boot/BCD", "/media/sources/boot.wim"}))
		})
		It("creates missing directories once", func() {
			Expect(utils.CreateIfNotExists(fs, "/a/b/c")).To(Succeed())
			Expect(utils.CreateIfNotExists(fs, "/a/b/c")).To(Succeed())
			Expect(utils.Exists(fs, "/a/b/c")).To(BeTrue())
		})
	})
})

var _ = Describe("external tools", func() {
	var runner *mocks.FakeRunner

	BeforeEach(func() {
		runner = mocks.NewFakeRunner()
	})

	Context("HiveSession", func() {
		It("loads and unloads hives around the callback", func() {
			h := utils.NewHiveSession("/mnt", runner, "software", "system")
			called := false
			err := h.RunCallback(context.Background(), func() error {
				called = true
				Expect(h.Active()).To(Equal([]string{`HKLM\MB_SOFTWARE`, `HKLM\MB_SYSTEM`}))
				return nil
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(called).To(BeTrue())
			Expect(h.Active()).To(BeEmpty())
			Expect(runner.Lines()).To(Equal([]string{
				"reg load HKLM\\MB_SOFTWARE " + filepath.Join("/mnt", "Windows", "System32", "config", "SOFTWARE"),
				"reg load HKLM\\MB_SYSTEM " + filepath.Join("/mnt", "Windows", "System32", "config", "SYSTEM"),
				`reg unload HKLM\MB_SYSTEM`,
				`reg unload HKLM\MB_SOFTWARE`,
			}))
		})
		It("unloads what was loaded when a later hive fails", func() {
			runner.SideEffect = func(name string, args ...string) (utils.Result, error) {
				if args[0] == "load" && args[1] == `HKLM\MB_SYSTEM` {
					return utils.Result{ExitCode: 1, Output: "access denied"}, nil
				}
				return utils.Result{}, nil
			}
			h := utils.NewHiveSession("/mnt", runner, "software", "system")
			err := h.RunCallback(context.Background(), func() error {
				Fail("callback must not run")
				return nil
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("access denied"))
			Expect(runner.Called("reg", "unload", `HKLM\MB_SOFTWARE`)).To(BeTrue())
			Expect(h.Active()).To(BeEmpty())
		})
		It("unloads even when the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			h := utils.NewHiveSession("/mnt", runner, "system")
			Expect(h.Prepare(ctx)).To(Succeed())
			cancel()
			Expect(h.Close(ctx)).To(Succeed())
			Expect(runner.Called("reg", "unload", `HKLM\MB_SYSTEM`)).To(BeTrue())
		})
		It("keeps the hives that failed to unload", func() {
			runner.SideEffect = func(name string, args ...string) (utils.Result, error) {
				if args[0] == "unload" {
					return utils.Result{ExitCode: 1}, nil
				}
				return utils.Result{}, nil
			}
			h := utils.NewHiveSession("/mnt", runner, "system")
			Expect(h.Prepare(context.Background())).To(Succeed())
			Expect(h.Close(context.Background())).ToNot(Succeed())
			Expect(h.Active()).To(Equal([]string{`HKLM\MB_SYSTEM`}))
		})
	})
})
