package version_test

import (
	"runtime"
	"runtime/debug"

	"github.com/masterbooter/masterbooter/internal/version"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("version", func() {
	It("prefers the values stamped at link time", func() {
		restore := version.SetForTest("v1.2.3", "abc123", &debug.BuildInfo{Main: debug.Module{Version: "v0.9.0"}})
		defer restore()
		Expect(version.Get()).To(Equal(version.BuildInfo{Version: "v1.2.3", GitCommit: "abc123", GoVersion: runtime.Version()}))
	})

	It("falls back to the embedded module and vcs data", func() {
		restore := version.SetForTest("", "", &debug.BuildInfo{
			Main: debug.Module{Version: "v0.4.0"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "deadbeef"},
				{Key: "vcs.modified", Value: "true"},
			},
		})
		defer restore()
		Expect(version.GetVersion()).To(Equal("v0.4.0"))
		Expect(version.Get().GitCommit).To(Equal("deadbeef-dirty"))
	})

	It("reports a development build without any build info", func() {
		restore := version.SetForTest("", "", &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
		defer restore()
		Expect(version.GetVersion()).To(Equal("dev"))
		Expect(version.Get().GitCommit).To(Equal("none"))
	})

	It("reports a development build when the binary carries no build info", func() {
		restore := version.SetForTest("", "", nil)
		defer restore()
		Expect(version.GetVersion()).To(Equal("dev"))
		Expect(version.Get().GitCommit).To(Equal("none"))
	})
})
