package inject

import (
	"context"
	iofs "io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/image"
	"github.com/rs/zerolog"
	"github.com/twpayne/go-vfs/v4"
)

// DriverStore is the FileRepository path relative to a Windows directory.
const DriverStore = `System32/DriverStore/FileRepository`

// DriversDir is where file-copied packages land inside the image, picked up by drvload at boot.
const DriversDir = "Drivers"

// DefaultAllowlist holds the INF name prefixes of wireless, storage-less input and bus drivers
// worth carrying into the boot image.
var DefaultAllowlist = []string{
	// intel wireless
	"netwtw", "netwbw", "netwew", "netwlv", "netwns", "netwsw",
	// realtek
	"netrtwlane", "net81", "net819", "netrtwlanu",
	// broadcom
	"bcmwdi", "netbc6",
	// qualcomm atheros
	"athw", "netathr",
	// mediatek ralink
	"netr28", "netr73",
	"mrvlpcie",
	// i2c controllers and touchpads
	"hidi2c.inf", "ialpss2_i2c", "ialpss2_gpio", "ialpss_i2c", "ialpss_gpio", "intcthc", "iathc",
	"amdi2c", "amdgpio", "synpd", "smbus", "etd", "elan", "alps", "goodix", "focal",
	"mshidkmdf", "hidinterrupt",
	// native wifi protocol and filters
	"netnwifi.inf", "netvwifibus.inf", "netvwififlt.inf", "netvwifimp.inf",
}

var driverExt = map[string]bool{".inf": true, ".sys": true, ".cat": true, ".dll": true}

// Extract lists the driver store packages of the source Windows directory whose folder
// name starts with an allowlisted prefix. Matching ignores case. Results are sorted.
func Extract(fs vfs.FS, sourceWindows string, allowlist []string) ([]string, error) {
	store, ok := utils.ResolveFold(fs, sourceWindows, DriverStore)
	if !ok {
		return nil, nil
	}
	entries, err := fs.ReadDir(store)
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		for _, prefix := range allowlist {
			if strings.HasPrefix(name, strings.ToLower(prefix)) {
				pkgs = append(pkgs, filepath.Join(store, e.Name()))
				break
			}
		}
	}
	sort.Strings(pkgs)
	return pkgs, nil
}

// Drivers adds driver packages to a mounted image.
type Drivers struct {
	FS     vfs.FS
	Imager image.Imager
	Logger zerolog.Logger
}

// Inject registers every package with the imaging tool. A package the tool refuses is
// file-copied under <mount>\Drivers\<pkg> instead, which makes the report ask for relaxation.
// Only packages that could neither be added nor copied are returned as errors.
func (d Drivers) Inject(ctx context.Context, mount string, pkgs []string, report *Report) error {
	var failed []string
	for _, pkg := range pkgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := d.Imager.AddDriver(ctx, mount, pkg)
		if err == nil && n > 0 {
			report.DriversAdded += n
			d.Logger.Debug().Str("driver", pkg).Int("count", n).Msg("driver added")
			continue
		}
		d.Logger.Warn().Err(err).Str("driver", pkg).Msg("imaging tool rejected driver, copying files")
		copied, cerr := copyDriverFiles(d.FS, pkg, filepath.Join(mount, DriversDir, filepath.Base(pkg)))
		if cerr != nil || copied == 0 {
			report.Warn("driver %s could not be added or copied", filepath.Base(pkg))
			failed = append(failed, filepath.Base(pkg))
			continue
		}
		report.DriversCopied++
		report.FilesCopied += copied
		report.RequiresRelaxation = true
	}
	if len(failed) > 0 {
		return &DriverError{Packages: failed}
	}
	return nil
}

// DriverError lists packages that did not make it into the image at all.
type DriverError struct {
	Packages []string
}

func (e *DriverError) Error() string {
	return "drivers not injected: " + strings.Join(e.Packages, ", ")
}

func copyDriverFiles(fs vfs.FS, src, dst string) (int, error) {
	copied := 0
	err := utils.WalkFiles(fs, src, func(path string, _ iofs.FileInfo) error {
		if !driverExt[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if err = utils.CopyFile(fs, path, filepath.Join(dst, rel)); err != nil {
			return err
		}
		copied++
		return nil
	})
	return copied, err
}
