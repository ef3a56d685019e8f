package unattend

import (
	"fmt"
	"strings"

	"github.com/masterbooter/masterbooter/pkg/schema"
)

type PartitionKind string

const (
	KindEFI      PartitionKind = "EFI"
	KindMSR      PartitionKind = "MSR"
	KindReserved PartitionKind = "Reserved"
	KindPrimary  PartitionKind = "Primary"
)

// Partition is one entry of a derived layout. SizeMB 0 extends to the end of the disk.
type Partition struct {
	Order  int
	Kind   PartitionKind
	SizeMB int
	Format string
	Label  string
	Letter string
	Active bool
}

type Layout struct {
	Mode       BootMode
	Style      PartitionStyle
	Partitions []Partition
}

var (
	uefiLayout = []Partition{
		{Order: 1, Kind: KindEFI, SizeMB: 100, Format: "FAT32", Label: "System", Letter: "S"},
		{Order: 2, Kind: KindMSR, SizeMB: 16},
		{Order: 3, Kind: KindPrimary, Format: "NTFS", Label: "Windows", Letter: "C"},
	}
	legacyLayout = []Partition{
		{Order: 1, Kind: KindReserved, SizeMB: 100, Format: "NTFS", Label: "System Reserved", Letter: "S", Active: true},
		{Order: 2, Kind: KindPrimary, Format: "NTFS", Label: "Windows", Letter: "C"},
	}
)

// LayoutFor derives the partition layout from the boot mode. An explicit style that
// the firmware cannot boot from is rejected instead of guessed.
func LayoutFor(mode BootMode, style PartitionStyle) (Layout, error) {
	switch BootMode(strings.ToUpper(string(mode))) {
	case BootUEFI:
		if style != StyleAuto && style != StyleGPT {
			return Layout{}, inconsistent(mode, style)
		}
		return Layout{Mode: BootUEFI, Style: StyleGPT, Partitions: uefiLayout}, nil
	case BootLegacy, "LEGACY":
		if style != StyleAuto && style != StyleMBR {
			return Layout{}, inconsistent(mode, style)
		}
		return Layout{Mode: BootLegacy, Style: StyleMBR, Partitions: legacyLayout}, nil
	}
	return Layout{}, schema.NewConfigError("generate", fmt.Errorf("unknown boot mode %q", mode))
}

func inconsistent(mode BootMode, style PartitionStyle) error {
	return schema.NewConfigError("generate", fmt.Errorf("%w: %s firmware with %s partition table", schema.ErrInconsistentBootMode, mode, style))
}

// InstallPartition is the partition id the image is applied to.
func (l Layout) InstallPartition() int {
	for _, p := range l.Partitions {
		if p.Kind == KindPrimary {
			return p.Order
		}
	}
	return 0
}

// Kinds lists the partition kinds in creation order.
func (l Layout) Kinds() []PartitionKind {
	kinds := make([]PartitionKind, 0, len(l.Partitions))
	for _, p := range l.Partitions {
		kinds = append(kinds, p.Kind)
	}
	return kinds
}

// DiskpartScript renders the layout as a diskpart script wiping the given disk.
func (l Layout) DiskpartScript(disk int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "select disk %d\n", disk)
	b.WriteString("clean\n")
	if l.Style == StyleGPT {
		b.WriteString("convert gpt\n")
	}
	for _, p := range l.Partitions {
		kind := "primary"
		switch p.Kind {
		case KindEFI:
			kind = "efi"
		case KindMSR:
			kind = "msr"
		}
		if p.SizeMB > 0 {
			fmt.Fprintf(&b, "create partition %s size=%d\n", kind, p.SizeMB)
		} else {
			fmt.Fprintf(&b, "create partition %s\n", kind)
		}
		if p.Format != "" {
			fmt.Fprintf(&b, "format quick fs=%s label=%q\n", strings.ToLower(p.Format), p.Label)
		}
		if p.Active {
			b.WriteString("active\n")
		}
		if p.Letter != "" {
			fmt.Fprintf(&b, "assign letter=%s\n", p.Letter)
		}
	}
	b.WriteString("exit\n")
	return b.String()
}
