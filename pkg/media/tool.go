package media

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// Tool is an external program that turns a media tree into a bootable ISO.
type Tool interface {
	Name() string
	// Command returns the program and its arguments.
	Command(mediaDir, output, label string) (string, []string)
}

// Oscdimg builds dual-firmware media with the ADK oscdimg. The boot sectors default to the
// copies in the media tree.
type Oscdimg struct {
	Path     string
	ETFSBoot string
	EFISys   string
}

func (o Oscdimg) Name() string { return "oscdimg" }

func (o Oscdimg) Command(mediaDir, output, label string) (string, []string) {
	etfs := o.ETFSBoot
	if etfs == "" {
		etfs = filepath.Join(mediaDir, "boot", "etfsboot.com")
	}
	efi := o.EFISys
	if efi == "" {
		efi = filepath.Join(mediaDir, "efi", "microsoft", "boot", "efisys.bin")
	}
	bin := o.Path
	if bin == "" {
		bin = "oscdimg"
	}
	return bin, []string{
		fmt.Sprintf("-bootdata:2#p0,e,b%s#pEF,e,b%s", etfs, efi),
		"-m", "-o", "-u1", "-udfver102",
		"-l" + label,
		mediaDir, output,
	}
}

// Xorriso builds the same layout with xorriso in mkisofs mode, for hosts without the ADK.
type Xorriso struct {
	Path string
}

func (x Xorriso) Name() string { return "xorriso" }

func (x Xorriso) Command(mediaDir, output, label string) (string, []string) {
	bin := x.Path
	if bin == "" {
		bin = "xorriso"
	}
	return bin, []string{
		"-as", "mkisofs",
		"-iso-level", "3",
		"-J", "-joliet-long",
		"-volid", label,
		"-b", "boot/etfsboot.com",
		"-no-emul-boot", "-boot-load-size", "8",
		"-c", "boot/boot.cat",
		"-eltorito-alt-boot",
		"-e", "efi/microsoft/boot/efisys.bin",
		"-no-emul-boot",
		"-o", output,
		mediaDir,
	}
}

// ToolByName returns the media tool called name, empty picks oscdimg.
func ToolByName(name, path string) (Tool, error) {
	switch strings.ToLower(name) {
	case "", "oscdimg":
		return Oscdimg{Path: path}, nil
	case "xorriso":
		return Xorriso{Path: path}, nil
	}
	return nil, fmt.Errorf("unknown media tool %q", name)
}

// VolumeLabel turns s into a valid volume identifier: uppercase A-Z, 0-9 and _, at most 32 characters.
func VolumeLabel(s string) string {
	const maxLen = 32
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	label := strings.Trim(b.String(), "_")
	if label == "" {
		label = "MASTERBOOTER"
	}
	if len(label) > maxLen {
		label = label[:maxLen]
	}
	return label
}
