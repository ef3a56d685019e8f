package constants

import (
	"os"
	"path/filepath"
)

// LogDir is where the file side of the logger writes.
func LogDir() string {
	return filepath.Join(os.TempDir(), "masterbooter", "logs")
}

const (
	OpDetectSource    = "detect-source"
	OpMountImage      = "mount-image"
	OpInstallPackages = "install-packages"
	OpApplyFixes      = "apply-fixes"
	OpInjectDrivers   = "inject-drivers"
	OpInjectNetwork   = "inject-network"
	OpPlaceTools      = "place-tools"
	OpConfigureShell  = "configure-shell"
	OpCommitImage     = "commit-image"
	OpExportImage     = "export-image"
	OpAssembleMedia   = "assemble-media"
	OpVerifyMedia     = "verify-media"

	EnvDebug  = "MASTERBOOTER_DEBUG"
	EnvDryRun = "MASTERBOOTER_DRY_RUN"

	DefaultArch        = "amd64"
	DefaultVolumeLabel = "MASTERBOOTER"
	DefaultImageIndex  = 1

	// MountDirName is created under the build work dir and passed to the imaging tool.
	MountDirName = "mount"
	MediaDirName = "media"
	LedgerName   = "mounts.tab"
	StateName    = "state.env"

	// MinFreeBytes is the hard floor for the work volume, WarnFreeBytes only logs.
	MinFreeBytes  = 5 << 30
	WarnFreeBytes = 10 << 30

	// MinMediaBytes is the smallest size a bootable WinPE ISO can realistically have.
	MinMediaBytes = 100 << 20

	// Offsets inside an ISO9660 image, 2048-byte sectors 16 and 17.
	PrimaryVolumeOffset = 0x8000
	BootRecordOffset    = 0x8800

	DefaultToolTimeoutMinutes = 30
)
