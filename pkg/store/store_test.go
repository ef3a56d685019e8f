package store_test

import (
	"github.com/masterbooter/masterbooter/pkg/store"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"
)

var _ = Describe("EnvStore", func() {
	var fs vfs.FS
	var cleanup func()

	BeforeEach(func() {
		var err error
		fs, cleanup, err = vfst.NewTestFS(map[string]interface{}{
			"/state/old.env": "LAST_BUILD_ID=abc\nTOOL_WINXSHELL=false\n",
		})
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		cleanup()
	})

	It("treats a missing file as empty", func() {
		s := store.NewEnvStore(fs, "/state/new/state.env")
		Expect(s.Load()).To(Succeed())
		Expect(s.Keys()).To(BeEmpty())
	})

	It("persists values across instances", func() {
		s := store.NewEnvStore(fs, "/state/new/state.env")
		s.Set(store.KeyLastBuildStatus, "succeeded")
		s.Set(store.KeyLastBuildOutput, `C:\out\pe build.iso`)
		Expect(s.Save()).To(Succeed())

		again := store.NewEnvStore(fs, "/state/new/state.env")
		Expect(again.Load()).To(Succeed())
		v, ok := again.Get(store.KeyLastBuildOutput)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(`C:\out\pe build.iso`))
	})

	It("loads existing state", func() {
		s := store.NewEnvStore(fs, "/state/old.env")
		Expect(s.Load()).To(Succeed())
		v, _ := s.Get(store.ToolKey("WinXShell"))
		Expect(v).To(Equal("false"))
		_, ok := s.Get(store.KeyLastBuildTime)
		Expect(ok).To(BeFalse())
	})

	It("derives tool keys from names", func() {
		Expect(store.ToolKey("Explorer++")).To(Equal("TOOL_EXPLORER"))
		Expect(store.ToolKey("Disk Check")).To(Equal("TOOL_DISK_CHECK"))
	})
})
