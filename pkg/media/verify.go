package media

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/kdomanski/iso9660"
	"github.com/masterbooter/masterbooter/internal/constants"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/twpayne/go-vfs/v4"
)

const (
	CheckSize          = "size"
	CheckPrimaryVolume = "primary-volume-descriptor"
	CheckElTorito      = "el-torito-boot-record"
	CheckCriticalFiles = "critical-files"
	CheckBootPaths     = "boot-paths"
)

var criticalFiles = []string{"bootmgr", BootWim}

var (
	legacyBootPaths = []string{"boot/etfsboot.com", "boot/bcd"}
	uefiBootPaths   = []string{"efi/boot/bootx64.efi", "efi/microsoft/boot/bcd"}
)

type Check struct {
	Name   string
	Passed bool
	Detail string
}

// VerificationReport holds the outcome of every structural check of one media file.
type VerificationReport struct {
	Path   string
	Checks []Check
	Passed bool
}

func (r VerificationReport) FailedChecks() []string {
	var failed []string
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c.Name)
		}
	}
	return failed
}

func (r VerificationReport) Check(name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// Verify inspects the media at path. Every check runs regardless of the others.
// A failing report comes back together with a *schema.VerificationFailure.
func Verify(fs vfs.FS, path string) (VerificationReport, error) {
	report := VerificationReport{Path: path}
	f, err := fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		for _, name := range []string{CheckSize, CheckPrimaryVolume, CheckElTorito, CheckCriticalFiles, CheckBootPaths} {
			report.Checks = append(report.Checks, Check{Name: name, Detail: err.Error()})
		}
		return report, &schema.VerificationFailure{Report: report}
	}
	defer f.Close()

	report.Checks = append(report.Checks,
		checkSize(f),
		checkPrimaryVolume(f),
		checkElTorito(f),
	)
	report.Checks = append(report.Checks, checkTree(f)...)

	report.Passed = len(report.FailedChecks()) == 0
	if !report.Passed {
		return report, &schema.VerificationFailure{Report: report}
	}
	return report, nil
}

func checkSize(f *os.File) Check {
	c := Check{Name: CheckSize}
	info, err := f.Stat()
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	c.Passed = info.Size() > constants.MinMediaBytes
	c.Detail = fmt.Sprintf("%d bytes", info.Size())
	return c
}

func readAt(f *os.File, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

func checkPrimaryVolume(f *os.File) Check {
	c := Check{Name: CheckPrimaryVolume}
	buf, err := readAt(f, constants.PrimaryVolumeOffset, 6)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	c.Passed = buf[0] == 0x01 && string(buf[1:6]) == "CD001"
	if !c.Passed {
		c.Detail = fmt.Sprintf("no primary volume descriptor at %#x", constants.PrimaryVolumeOffset)
	}
	return c
}

func checkElTorito(f *os.File) Check {
	c := Check{Name: CheckElTorito}
	buf, err := readAt(f, constants.BootRecordOffset, 64)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	c.Passed = buf[0] == 0x00 && string(buf[1:6]) == "CD001" && bytes.Contains(buf[7:39], []byte("EL TORITO"))
	if !c.Passed {
		c.Detail = fmt.Sprintf("no El Torito boot record at %#x", constants.BootRecordOffset)
	}
	return c
}

// checkTree runs the checks that walk the ISO9660 directory tree. The reader trusts the
// descriptors it parses, so a malformed image can panic it.
func checkTree(f *os.File) (checks []Check) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("malformed directory tree: %v", r)
			checks = []Check{checkCriticalFiles(nil, err), checkBootPaths(nil, err)}
		}
	}()
	var root *iso9660.File
	img, err := iso9660.OpenImage(f)
	if err == nil {
		root, err = img.RootDir()
	}
	return []Check{checkCriticalFiles(root, err), checkBootPaths(root, err)}
}

func checkCriticalFiles(root *iso9660.File, rootErr error) Check {
	c := Check{Name: CheckCriticalFiles}
	if rootErr != nil {
		c.Detail = rootErr.Error()
		return c
	}
	var missing []string
	for _, p := range criticalFiles {
		if e, ok := isoLookup(root, p); !ok || e.IsDir() {
			missing = append(missing, p)
		}
	}
	c.Passed = len(missing) == 0
	if !c.Passed {
		c.Detail = "missing " + strings.Join(missing, ", ")
	}
	return c
}

func checkBootPaths(root *iso9660.File, rootErr error) Check {
	c := Check{Name: CheckBootPaths}
	if rootErr != nil {
		c.Detail = rootErr.Error()
		return c
	}
	var found []string
	for _, p := range append(append([]string{}, legacyBootPaths...), uefiBootPaths...) {
		if e, ok := isoLookup(root, p); ok && !e.IsDir() {
			found = append(found, p)
		}
	}
	c.Passed = len(found) > 0
	if c.Passed {
		c.Detail = strings.Join(found, ", ")
	} else {
		c.Detail = "neither a legacy nor a UEFI boot path"
	}
	return c
}
