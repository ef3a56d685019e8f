package bcd_test

import (
	"context"
	"strings"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/bcd"
	"github.com/masterbooter/masterbooter/tests/mocks"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4/vfst"
)

const guid = "{0a1b2c3d-1111-2222-3333-444455556666}"

var _ = Describe("BCD store", func() {
	It("extracts the GUID of a created entry", func() {
		Expect(bcd.ExtractGUID("The entry " + guid + " was successfully created.")).To(Equal(guid))
		Expect(bcd.ExtractGUID("The operation completed successfully.")).To(BeEmpty())
	})

	It("creates a ramdisk boot store", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{"/media/boot/BCD": "old"})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()
		runner := mocks.NewFakeRunner()
		runner.SideEffect = func(_ string, args ...string) (utils.Result, error) {
			joined := strings.Join(args, " ")
			if strings.Contains(joined, "/application osloader") {
				return utils.Result{Output: "The entry " + guid + " was successfully created."}, nil
			}
			if strings.HasSuffix(joined, "/create {ramdiskoptions}") {
				return utils.Result{ExitCode: 1, Output: "The specified entry already exists."}, nil
			}
			return utils.Result{}, nil
		}
		_, err = bcd.Create(context.Background(), fs, runner, "/media/boot/BCD", `\sources\boot.wim`, true)
		Expect(err).ToNot(HaveOccurred())
		_, err = fs.Stat("/media/boot/BCD")
		Expect(err).To(HaveOccurred())
		lines := runner.Lines()
		Expect(lines[0]).To(Equal("bcdedit /createstore /media/boot/BCD"))
		Expect(lines).To(ContainElement("bcdedit /store /media/boot/BCD /set {bootmgr} default " + guid))
		Expect(lines).To(ContainElement(`bcdedit /store /media/boot/BCD /set ` + guid + ` device ramdisk=[boot]\sources\boot.wim,{ramdiskoptions}`))
		Expect(lines).To(ContainElement(`bcdedit /store /media/boot/BCD /set ` + guid + ` path \windows\system32\winload.efi`))
		Expect(lines[len(lines)-1]).To(Equal(`bcdedit /store /media/boot/BCD /set {ramdiskoptions} ramdisksdipath \boot\boot.sdi`))
	})

	It("fails when bcdedit does not return a GUID", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{"/media": &vfst.Dir{Perm: 0o755}})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()
		_, err = bcd.Create(context.Background(), fs, mocks.NewFakeRunner(), "/media/boot/BCD", `\sources\boot.wim`, false)
		Expect(err).To(HaveOccurred())
	})
})
