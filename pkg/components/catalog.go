package components

import (
	"fmt"

	"github.com/masterbooter/masterbooter/pkg/schema"
)

type Category string

const (
	CategoryCore      Category = "Core Components"
	CategoryScripting Category = "Scripting & Automation"
	CategoryNetwork   Category = "Network Support"
	CategoryStorage   Category = "Storage & Disk"
	CategorySecurity  Category = "Security"
	CategoryRecovery  Category = "Recovery & Diagnostics"
	CategorySetup     Category = "Setup & Deployment"
	CategoryFonts     Category = "Font Support"
	CategoryInput     Category = "Input & Peripherals"
)

// Component is one WinPE optional component. Package is the cab base name in WinPE_OCs.
type Component struct {
	ID          string
	Name        string
	Description string
	Package     string
	Category    Category
	Deps        []string
	Default     bool
	// Required components are needed by the build environment itself.
	Required bool
}

// Catalog is an immutable, ordered set of components.
type Catalog struct {
	items []Component
	index map[string]int
}

// NewCatalog validates ids are unique and every dependency is declared.
func NewCatalog(items []Component) (*Catalog, error) {
	c := &Catalog{items: make([]Component, len(items)), index: map[string]int{}}
	for i, item := range items {
		if _, dup := c.index[item.ID]; dup {
			return nil, schema.NewConfigError("catalog", fmt.Errorf("duplicate component %q", item.ID))
		}
		item.Deps = append([]string{}, item.Deps...)
		c.items[i] = item
		c.index[item.ID] = i
	}
	for _, item := range c.items {
		for _, dep := range item.Deps {
			if _, ok := c.index[dep]; !ok {
				return nil, schema.NewConfigError("catalog", fmt.Errorf("%w: %q depends on %q", schema.ErrUnknownComponent, item.ID, dep))
			}
		}
	}
	return c, nil
}

// MustCatalog is NewCatalog for static tables.
func MustCatalog(items []Component) *Catalog {
	c, err := NewCatalog(items)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Get(id string) (Component, bool) {
	i, ok := c.index[id]
	if !ok {
		return Component{}, false
	}
	return c.items[i], true
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

// All returns every component in declaration order.
func (c *Catalog) All() []Component {
	return append([]Component{}, c.items...)
}

// Defaults returns the ids enabled by default, in declaration order.
func (c *Catalog) Defaults() []string {
	var ids []string
	for _, item := range c.items {
		if item.Default {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

func (c *Catalog) RequiredIDs() []string {
	var ids []string
	for _, item := range c.items {
		if item.Required {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

func (c *Catalog) position(id string) int {
	return c.index[id]
}

// Default returns the WinPE optional component catalog.
func Default() *Catalog {
	return MustCatalog([]Component{
		{ID: "wmi", Name: "WMI", Package: "WinPE-WMI", Category: CategoryCore, Default: true, Required: true,
			Description: "Windows Management Instrumentation, needed for hardware and system queries"},
		{ID: "netfx", Name: ".NET Framework", Package: "WinPE-NetFX", Category: CategoryCore, Deps: []string{"wmi"}, Default: true,
			Description: ".NET runtime for managed applications"},
		{ID: "scripting", Name: "Scripting (WSH)", Package: "WinPE-Scripting", Category: CategoryScripting, Deps: []string{"wmi"}, Default: true,
			Description: "Windows Script Host for VBScript and JScript"},
		{ID: "hta", Name: "HTML Applications", Package: "WinPE-HTA", Category: CategoryScripting, Deps: []string{"scripting"}, Default: true,
			Description: "HTML Application (.hta) support used by many PE tools"},
		{ID: "powershell", Name: "PowerShell", Package: "WinPE-PowerShell", Category: CategoryScripting, Deps: []string{"wmi", "netfx", "scripting"}, Default: true, Required: true,
			Description: "PowerShell for scripts and automation"},
		{ID: "dism_cmdlets", Name: "DISM Cmdlets", Package: "WinPE-DismCmdlets", Category: CategoryScripting, Deps: []string{"powershell"},
			Description: "PowerShell cmdlets for image servicing, not applicable on most ADK versions"},
		{ID: "secureboot_cmdlets", Name: "Secure Boot Cmdlets", Package: "WinPE-SecureBootCmdlets", Category: CategorySecurity, Deps: []string{"powershell"}, Default: true,
			Description: "PowerShell cmdlets for Secure Boot settings"},
		{ID: "storage_wmi", Name: "Storage WMI", Package: "WinPE-StorageWMI", Category: CategoryStorage, Deps: []string{"wmi"}, Default: true, Required: true,
			Description: "WMI storage classes, needed for NVMe disks"},
		{ID: "enhanced_storage", Name: "Enhanced Storage", Package: "WinPE-EnhancedStorage", Category: CategoryStorage, Default: true,
			Description: "Encrypted and enhanced storage devices"},
		{ID: "fmapi", Name: "File Management API", Package: "WinPE-FMAPI", Category: CategoryStorage, Default: true,
			Description: "File management APIs for advanced file operations"},
		{ID: "dot3svc", Name: "802.1X Authentication", Package: "WinPE-Dot3Svc", Category: CategoryNetwork, Default: true,
			Description: "Wired network authentication for enterprise networks"},
		{ID: "secure_startup", Name: "BitLocker Support", Package: "WinPE-SecureStartup", Category: CategorySecurity, Deps: []string{"wmi"}, Default: true,
			Description: "Unlocking BitLocker encrypted drives"},
		{ID: "winrecfg", Name: "WinRE Configuration", Package: "WinPE-WinReCfg", Category: CategoryRecovery, Default: true,
			Description: "Windows Recovery Environment configuration tools"},
		{ID: "font_support", Name: "Font Support", Package: "WinPE-FontSupport-WinRE", Category: CategoryRecovery, Default: true,
			Description: "Additional fonts for international characters"},
		{ID: "platform_id", Name: "Platform ID", Package: "WinPE-PlatformId", Category: CategoryRecovery, Default: true,
			Description: "Firmware platform identification"},
		{ID: "wds_tools", Name: "WDS Tools", Package: "WinPE-WDS-Tools", Category: CategoryRecovery, Default: true,
			Description: "Windows Deployment Services client tools"},
		{ID: "rejuv", Name: "Recovery (Rejuv)", Package: "WinPE-Rejuv", Category: CategoryRecovery,
			Description: "Recovery Rejuv tools, only shipped inside WinRE"},
		{ID: "srt", Name: "Startup Repair", Package: "WinPE-SRT", Category: CategoryRecovery,
			Description: "Startup Repair tool, only shipped inside WinRE"},
		{ID: "pppoe", Name: "PPPoE", Package: "WinPE-PPPoE", Category: CategoryNetwork,
			Description: "Point-to-Point Protocol over Ethernet"},
		{ID: "rndis", Name: "RNDIS (USB Network)", Package: "WinPE-RNDIS", Category: CategoryNetwork, Default: true,
			Description: "Remote NDIS for USB tethering"},
		{ID: "hsp_driver", Name: "HSP Driver (Pluton)", Package: "WinPE-HSP-Driver", Category: CategorySecurity,
			Description: "Microsoft Pluton security processor"},
		{ID: "mdac", Name: "Database (MDAC)", Package: "WinPE-MDAC", Category: CategoryStorage,
			Description: "ODBC and OLE DB connectivity"},
		{ID: "setup", Name: "Windows Setup", Package: "WinPE-Setup", Category: CategorySetup, Default: true,
			Description: "Windows Setup core support"},
		{ID: "setup_client", Name: "Setup (Client)", Package: "WinPE-Setup-Client", Category: CategorySetup, Deps: []string{"setup"}, Default: true,
			Description: "Client edition setup branding"},
		{ID: "setup_server", Name: "Setup (Server)", Package: "WinPE-Setup-Server", Category: CategorySetup, Deps: []string{"setup"},
			Description: "Server edition setup branding"},
		{ID: "legacy_setup", Name: "Legacy Setup", Package: "WinPE-LegacySetup", Category: CategorySetup,
			Description: "Legacy Windows Setup support"},
		{ID: "fonts_legacy", Name: "Legacy Fonts", Package: "WinPE-Fonts-Legacy", Category: CategoryFonts,
			Description: "Legacy fonts for older applications"},
		{ID: "fonts_japanese", Name: "Japanese Fonts", Package: "WinPE-FontSupport-JA-JP", Category: CategoryFonts},
		{ID: "fonts_korean", Name: "Korean Fonts", Package: "WinPE-FontSupport-KO-KR", Category: CategoryFonts},
		{ID: "fonts_chinese_simplified", Name: "Chinese (Simplified)", Package: "WinPE-FontSupport-ZH-CN", Category: CategoryFonts},
		{ID: "fonts_chinese_traditional", Name: "Chinese (Traditional)", Package: "WinPE-FontSupport-ZH-TW", Category: CategoryFonts},
		{ID: "fonts_chinese_hk", Name: "Chinese (Hong Kong)", Package: "WinPE-FontSupport-ZH-HK", Category: CategoryFonts},
		{ID: "gaming_peripherals", Name: "Gaming Peripherals", Package: "WinPE-GamingPeripherals", Category: CategoryInput,
			Description: "Xbox controller and gaming devices"},
	})
}
