package media_test

import (
	"errors"

	"github.com/masterbooter/masterbooter/pkg/media"
	"github.com/masterbooter/masterbooter/pkg/schema"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"
)

func checkStates(r media.VerificationReport) map[string]bool {
	out := map[string]bool{}
	for _, c := range r.Checks {
		out[c.Name] = c.Passed
	}
	return out
}

// rawDescriptors fakes the first volume descriptors of an El Torito bootable image.
func rawDescriptors() []byte {
	buf := make([]byte, 0x9800)
	pvd := buf[0x8000:]
	pvd[0] = 0x01
	copy(pvd[1:], "CD001")
	pvd[6] = 0x01
	pvd[128], pvd[129], pvd[130], pvd[131] = 0x00, 0x08, 0x08, 0x00
	br := buf[0x8800:]
	copy(br[1:], "CD001")
	br[6] = 0x01
	copy(br[7:], "EL TORITO SPECIFICATION")
	term := buf[0x9000:]
	term[0] = 0xff
	copy(term[1:], "CD001")
	term[6] = 0x01
	return buf
}

var _ = Describe("Verify", func() {
	var fs vfs.FS
	var cleanup func()

	BeforeEach(func() {
		var err error
		fs, cleanup, err = vfst.NewTestFS(map[string]interface{}{
			"/out":      &vfst.Dir{Perm: 0o755},
			"/out/junk": "not an iso",
		})
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() {
		cleanup()
	})

	It("runs every check independently", func() {
		writeISO(fs, "/out/pe.iso", bootableTree, 101<<20)
		report, err := media.Verify(fs, "/out/pe.iso")
		var failure *schema.VerificationFailure
		Expect(errors.As(err, &failure)).To(BeTrue())
		Expect(report.Passed).To(BeFalse())
		Expect(checkStates(report)).To(Equal(map[string]bool{
			media.CheckSize:          true,
			media.CheckPrimaryVolume: true,
			media.CheckElTorito:      false,
			media.CheckCriticalFiles: true,
			media.CheckBootPaths:     true,
		}))
		Expect(report.FailedChecks()).To(Equal([]string{media.CheckElTorito}))
		Expect(err.Error()).To(ContainSubstring(media.CheckElTorito))
	})

	It("reports missing critical files and boot paths", func() {
		writeISO(fs, "/out/bare.iso", map[string]string{"readme.txt": "hi"}, 0)
		report, err := media.Verify(fs, "/out/bare.iso")
		Expect(err).To(HaveOccurred())
		states := checkStates(report)
		Expect(states[media.CheckPrimaryVolume]).To(BeTrue())
		Expect(states[media.CheckSize]).To(BeFalse())
		Expect(states[media.CheckCriticalFiles]).To(BeFalse())
		Expect(states[media.CheckBootPaths]).To(BeFalse())
		c, ok := report.Check(media.CheckCriticalFiles)
		Expect(ok).To(BeTrue())
		Expect(c.Detail).To(ContainSubstring("bootmgr"))
	})

	It("recognizes an El Torito boot record", func() {
		Expect(fs.WriteFile("/out/raw.iso", rawDescriptors(), 0o644)).To(Succeed())
		report, err := media.Verify(fs, "/out/raw.iso")
		Expect(err).To(HaveOccurred())
		states := checkStates(report)
		Expect(states[media.CheckPrimaryVolume]).To(BeTrue())
		Expect(states[media.CheckElTorito]).To(BeTrue())
		Expect(states[media.CheckSize]).To(BeFalse())
		Expect(states[media.CheckCriticalFiles]).To(BeFalse())
	})

	It("fails every check for files that are not images", func() {
		report, err := media.Verify(fs, "/out/junk")
		Expect(err).To(HaveOccurred())
		Expect(report.Checks).To(HaveLen(5))
		Expect(report.FailedChecks()).To(HaveLen(5))

		report, err = media.Verify(fs, "/out/missing.iso")
		Expect(err).To(HaveOccurred())
		Expect(report.FailedChecks()).To(HaveLen(5))
	})
})
