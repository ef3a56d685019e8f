package unattend

import (
	"fmt"
	"strings"

	"github.com/masterbooter/masterbooter/pkg/schema"
)

type BootMode string

const (
	BootUEFI   BootMode = "UEFI"
	BootLegacy BootMode = "BIOS"
)

// PartitionStyle is the partition table flavor. Empty means derived from the boot mode.
type PartitionStyle string

const (
	StyleAuto PartitionStyle = ""
	StyleGPT  PartitionStyle = "GPT"
	StyleMBR  PartitionStyle = "MBR"
)

// Config is the deployment record. ImagePath, Edition and EditionIndex describe one
// session and are never persisted in a profile.
type Config struct {
	// Image selection (session)
	ImagePath    string `yaml:"image_path,omitempty"`
	Edition      string `yaml:"edition,omitempty"`
	EditionIndex int    `yaml:"edition_index,omitempty"`

	// Machine identity
	ComputerName string `yaml:"computer_name"`
	TimeZone     string `yaml:"timezone"`
	Language     string `yaml:"language"`

	// Disk and firmware. DiskID -1 leaves disk selection to the installer UI.
	BootMode       BootMode       `yaml:"boot_mode"`
	PartitionStyle PartitionStyle `yaml:"partition_style,omitempty"`
	DiskID         int            `yaml:"disk_id"`
	BypassWin11    bool           `yaml:"bypass_win11"`

	// Account
	UserName        string `yaml:"user_name"`
	UserPassword    string `yaml:"user_password"`
	UserDisplayName string `yaml:"user_display_name"`
	UserIsAdmin     bool   `yaml:"user_is_admin"`
	EnableAutoLogon bool   `yaml:"enable_autologon"`

	// OOBE
	SkipOOBE    bool `yaml:"skip_oobe"`
	SkipEULA    bool `yaml:"skip_eula"`
	SkipNetwork bool `yaml:"skip_network"`

	// Licensing
	ProductKey   string `yaml:"product_key,omitempty"`
	Organization string `yaml:"organization,omitempty"`
	OwnerName    string `yaml:"owner_name,omitempty"`

	// Privacy
	DisableTelemetry     bool `yaml:"disable_telemetry"`
	DisableLocation      bool `yaml:"disable_location"`
	DisableAds           bool `yaml:"disable_ads"`
	DisableSuggestedApps bool `yaml:"disable_suggested_apps"`
	DisableBingSearch    bool `yaml:"disable_bing_search"`
	DisableSmartScreen   bool `yaml:"disable_smartscreen"`

	// Security
	EnableRDP        bool `yaml:"enable_rdp"`
	DisableUAC       bool `yaml:"disable_uac"`
	DisableDefender  bool `yaml:"disable_defender"`
	DisableFirewall  bool `yaml:"disable_firewall"`
	DisableVBS       bool `yaml:"disable_vbs"`
	DisableBitLocker bool `yaml:"disable_bitlocker"`

	// Performance
	DisableFastStartup   bool `yaml:"disable_fast_startup"`
	HighPerformance      bool `yaml:"high_performance"`
	DisableSystemRestore bool `yaml:"disable_system_restore"`

	// UI
	ShowFileExtensions bool `yaml:"show_file_extensions"`
	ShowHiddenFiles    bool `yaml:"show_hidden_files"`
	ClassicContextMenu bool `yaml:"classic_context_menu"`
	TaskbarSearchMode  int  `yaml:"taskbar_search_mode"`
	HideTaskView       bool `yaml:"hide_task_view"`
	HideWidgets        bool `yaml:"hide_widgets"`
	TaskbarLeftAlign   bool `yaml:"taskbar_left_align"`

	// Bloatware
	DisableCortana        bool `yaml:"disable_cortana"`
	DisableOneDrive       bool `yaml:"disable_onedrive"`
	DisableTeams          bool `yaml:"disable_teams"`
	DisableCopilot        bool `yaml:"disable_copilot"`
	DisableWidgetsService bool `yaml:"disable_widgets_service"`

	// Domain
	JoinDomain     bool   `yaml:"join_domain"`
	DomainName     string `yaml:"domain_name,omitempty"`
	DomainUsername string `yaml:"domain_username,omitempty"`
	DomainPassword string `yaml:"domain_password,omitempty"`
	Workgroup      string `yaml:"workgroup"`

	// Advanced
	PreventDeviceEncryption bool `yaml:"prevent_device_encryption"`
}

// DefaultConfig returns a fresh config with the stock choices applied.
func DefaultConfig() Config {
	return Config{
		ComputerName:            "*",
		TimeZone:                "Eastern Standard Time",
		Language:                "en-US",
		BootMode:                BootUEFI,
		DiskID:                  0,
		BypassWin11:             true,
		UserName:                "Admin",
		UserDisplayName:         "Administrator",
		UserIsAdmin:             true,
		EnableAutoLogon:         true,
		SkipOOBE:                true,
		SkipEULA:                true,
		DisableTelemetry:        true,
		DisableLocation:         true,
		DisableAds:              true,
		DisableSuggestedApps:    true,
		DisableBingSearch:       true,
		EnableRDP:               true,
		DisableBitLocker:        true,
		DisableFastStartup:      true,
		HighPerformance:         true,
		ShowFileExtensions:      true,
		ClassicContextMenu:      true,
		TaskbarSearchMode:       2,
		HideTaskView:            true,
		HideWidgets:             true,
		DisableCortana:          true,
		DisableTeams:            true,
		DisableCopilot:          true,
		DisableWidgetsService:   true,
		Workgroup:               "WORKGROUP",
		PreventDeviceEncryption: true,
	}
}

// WithoutSession returns a copy of the config with the session fields cleared.
func (c Config) WithoutSession() Config {
	c.ImagePath = ""
	c.Edition = ""
	c.EditionIndex = 0
	return c
}

// Validate checks the field interdependencies that the installer would otherwise
// only reject at install time.
func (c Config) Validate() error {
	if _, err := LayoutFor(c.BootMode, c.PartitionStyle); err != nil {
		return err
	}
	if c.EnableAutoLogon {
		if strings.TrimSpace(c.UserName) == "" {
			return schema.NewConfigError("generate", fmt.Errorf("%w: auto-logon needs an account name", schema.ErrIncompleteCredential))
		}
		if c.UserPassword == "" {
			return schema.NewConfigError("generate", fmt.Errorf("%w: auto-logon for %s needs a password", schema.ErrIncompleteCredential, c.UserName))
		}
	}
	if c.JoinDomain && (c.DomainName == "" || c.DomainUsername == "" || c.DomainPassword == "") {
		return schema.NewConfigError("generate", fmt.Errorf("%w: domain join needs a domain, user and password", schema.ErrIncompleteCredential))
	}
	if c.TaskbarSearchMode < 0 || c.TaskbarSearchMode > 3 {
		return schema.NewConfigError("generate", fmt.Errorf("taskbar search mode %d out of range", c.TaskbarSearchMode))
	}
	return nil
}

var genericKeys = map[string]string{
	"home":                   "YTMG3-N6DKC-DKB77-7M9GH-8HVX7",
	"home n":                 "4CPRK-NM3K3-X6XXQ-RXX86-WXCHW",
	"home single language":   "BT79Q-G7N6G-PGBYW-4YWX6-6F4BT",
	"pro":                    "VK7JG-NPHTM-C97JM-9MPGT-3V66T",
	"pro n":                  "2B87N-8KFHP-DKV6R-Y2C8J-PKCKT",
	"pro education":          "8PTT6-RNW4C-6V7J2-C2D3X-MHBPB",
	"pro education n":        "GJTYN-HDMQY-FRR76-HVGC7-QPF8P",
	"pro for workstations":   "DXG7C-N36C4-C4HTG-X4T3X-2YV77",
	"pro n for workstations": "WYPNQ-8C467-V2W6J-TX4WX-WT2RQ",
	"education":              "YNMGQ-8RYV3-4PGQ3-C8XTP-7CFBY",
	"education n":            "84NGF-MHBT6-FXBX8-QWJK7-DRR8H",
	"enterprise":             "XGVPP-NMH47-7TTHJ-W3FW7-8HV2C",
	"enterprise n":           "WGGHN-J84D6-QYCPR-T7PJ7-X766F",
}

// GenericKey returns the public installation key for an edition name such as
// "Windows 11 Pro". These keys select the edition and do not activate it.
func GenericKey(edition string) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(edition))
	for _, prefix := range []string{"windows 11 ", "windows 10 ", "windows "} {
		if strings.HasPrefix(name, prefix) {
			name = strings.TrimPrefix(name, prefix)
			break
		}
	}
	key, ok := genericKeys[name]
	return key, ok
}

// productKey is the user key, else the generic key of the edition.
func (c Config) productKey() string {
	if k := strings.TrimSpace(c.ProductKey); k != "" {
		return k
	}
	key, _ := GenericKey(c.Edition)
	return key
}
