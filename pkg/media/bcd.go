package media

import (
	"context"
	"path/filepath"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/bcd"
	"github.com/twpayne/go-vfs/v4"
)

const (
	LegacyStore = "boot/BCD"
	UEFIStore   = "efi/microsoft/boot/BCD"
)

// CreateBCD writes the legacy and the UEFI boot stores of mediaDir, both booting
// \sources\boot.wim from a ramdisk.
func CreateBCD(ctx context.Context, fs vfs.FS, runner utils.Runner, mediaDir string) ([]bcd.Store, error) {
	var stores []bcd.Store
	for _, st := range []struct {
		rel  string
		uefi bool
	}{{LegacyStore, false}, {UEFIStore, true}} {
		s, err := bcd.Create(ctx, fs, runner, filepath.Join(mediaDir, filepath.FromSlash(st.rel)), `\sources\boot.wim`, st.uefi)
		if err != nil {
			return stores, err
		}
		stores = append(stores, s)
	}
	return stores, nil
}
