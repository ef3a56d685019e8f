package host

import (
	"strings"

	"github.com/foxboron/go-uefi/efi"
	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/block"
)

type Partition struct {
	Name       string
	SizeBytes  uint64
	Label      string
	Type       string
	MountPoint string
}

// Disk is a candidate install target. Index is its position in the listing.
type Disk struct {
	Index      int
	Name       string
	SizeBytes  uint64
	Model      string
	DriveType  string
	Removable  bool
	Partitions []Partition
}

var ignoredPrefixes = []string{"loop", "ram", "zram", "sr", "fd", "nbd", "dm-", "md"}

// Disks lists the block devices that could receive an installation.
func Disks() ([]Disk, error) {
	info, err := ghw.Block()
	if err != nil {
		return nil, err
	}
	return FromBlock(info), nil
}

// FromBlock filters virtual, optical and empty devices out of a ghw block listing.
func FromBlock(info *block.Info) []Disk {
	var disks []Disk
	if info == nil {
		return disks
	}
	for _, d := range info.Disks {
		if d == nil || d.SizeBytes == 0 || ignored(d.Name) || strings.EqualFold(d.DriveType.String(), "ODD") {
			continue
		}
		disk := Disk{
			Index:     len(disks),
			Name:      d.Name,
			SizeBytes: d.SizeBytes,
			Model:     strings.TrimSpace(d.Model),
			DriveType: d.DriveType.String(),
			Removable: d.IsRemovable,
		}
		for _, p := range d.Partitions {
			disk.Partitions = append(disk.Partitions, Partition{
				Name:       p.Name,
				SizeBytes:  p.SizeBytes,
				Label:      p.Label,
				Type:       p.Type,
				MountPoint: p.MountPoint,
			})
		}
		disks = append(disks, disk)
	}
	return disks
}

func ignored(name string) bool {
	for _, p := range ignoredPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// SecureBootEnabled reports the firmware Secure Boot state of the build host.
// Hosts without EFI variables report false.
func SecureBootEnabled() bool {
	return efi.GetSecureBoot()
}
