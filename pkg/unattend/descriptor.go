package unattend

import (
	"encoding/xml"
	"strconv"
)

const (
	unattendNS     = "urn:schemas-microsoft-com:unattend"
	wcmNS          = "http://schemas.microsoft.com/WMIConfig/2002/State"
	xsiNS          = "http://www.w3.org/2001/XMLSchema-instance"
	publicKeyToken = "31bf3856ad364e35"
	addAction      = "add"
)

// Installer passes, in the order they run.
const (
	PassWindowsPE  = "windowsPE"
	PassSpecialize = "specialize"
	PassOOBESystem = "oobeSystem"
)

type document struct {
	XMLName  xml.Name   `xml:"unattend"`
	Xmlns    string     `xml:"xmlns,attr"`
	Settings []settings `xml:"settings"`
}

type settings struct {
	Pass       string      `xml:"pass,attr"`
	Components []component `xml:"component"`
}

type component struct {
	Name           string `xml:"name,attr"`
	Arch           string `xml:"processorArchitecture,attr"`
	PublicKeyToken string `xml:"publicKeyToken,attr"`
	Language       string `xml:"language,attr"`
	VersionScope   string `xml:"versionScope,attr"`
	WCM            string `xml:"xmlns:wcm,attr"`
	XSI            string `xml:"xmlns:xsi,attr"`

	SetupUILanguage *setupUILanguage `xml:"SetupUILanguage,omitempty"`
	InputLocale     string           `xml:"InputLocale,omitempty"`
	SystemLocale    string           `xml:"SystemLocale,omitempty"`
	UILanguage      string           `xml:"UILanguage,omitempty"`
	UserLocale      string           `xml:"UserLocale,omitempty"`

	RunSynchronous    *runSynchronous    `xml:"RunSynchronous,omitempty"`
	DiskConfiguration *diskConfiguration `xml:"DiskConfiguration,omitempty"`
	ImageInstall      *imageInstall      `xml:"ImageInstall,omitempty"`
	UserData          *userData          `xml:"UserData,omitempty"`

	ComputerName            string `xml:"ComputerName,omitempty"`
	TimeZone                string `xml:"TimeZone,omitempty"`
	RegisteredOrganization  string `xml:"RegisteredOrganization,omitempty"`
	RegisteredOwner         string `xml:"RegisteredOwner,omitempty"`
	PreventDeviceEncryption bool   `xml:"PreventDeviceEncryption,omitempty"`

	Identification *identification `xml:"Identification,omitempty"`

	AutoLogon          *autoLogon          `xml:"AutoLogon,omitempty"`
	OOBE               *oobe               `xml:"OOBE,omitempty"`
	UserAccounts       *userAccounts       `xml:"UserAccounts,omitempty"`
	FirstLogonCommands *firstLogonCommands `xml:"FirstLogonCommands,omitempty"`
}

func newComponent(name string) component {
	return component{
		Name:           name,
		Arch:           "amd64",
		PublicKeyToken: publicKeyToken,
		Language:       "neutral",
		VersionScope:   "nonSxS",
		WCM:            wcmNS,
		XSI:            xsiNS,
	}
}

type setupUILanguage struct {
	UILanguage string `xml:"UILanguage"`
}

type runSynchronous struct {
	Commands []runSynchronousCommand `xml:"RunSynchronousCommand"`
}

type runSynchronousCommand struct {
	Action      string `xml:"wcm:action,attr"`
	Order       int    `xml:"Order"`
	Path        string `xml:"Path"`
	Description string `xml:"Description,omitempty"`
}

type diskConfiguration struct {
	WillShowUI string `xml:"WillShowUI"`
	Disk       disk   `xml:"Disk"`
}

type disk struct {
	Action           string           `xml:"wcm:action,attr"`
	DiskID           int              `xml:"DiskID"`
	WillWipeDisk     bool             `xml:"WillWipeDisk"`
	CreatePartitions createPartitions `xml:"CreatePartitions"`
	ModifyPartitions modifyPartitions `xml:"ModifyPartitions"`
}

type createPartitions struct {
	Partitions []createPartition `xml:"CreatePartition"`
}

type createPartition struct {
	Action string `xml:"wcm:action,attr"`
	Order  int    `xml:"Order"`
	Type   string `xml:"Type"`
	Size   int    `xml:"Size,omitempty"`
	Extend bool   `xml:"Extend,omitempty"`
}

type modifyPartitions struct {
	Partitions []modifyPartition `xml:"ModifyPartition"`
}

type modifyPartition struct {
	Action      string `xml:"wcm:action,attr"`
	Order       int    `xml:"Order"`
	PartitionID int    `xml:"PartitionID"`
	Active      bool   `xml:"Active,omitempty"`
	Format      string `xml:"Format,omitempty"`
	Label       string `xml:"Label,omitempty"`
	Letter      string `xml:"Letter,omitempty"`
}

type imageInstall struct {
	OSImage osImage `xml:"OSImage"`
}

type osImage struct {
	InstallFrom installFrom `xml:"InstallFrom"`
	InstallTo   *installTo  `xml:"InstallTo,omitempty"`
}

type installFrom struct {
	MetaData metaData `xml:"MetaData"`
}

type metaData struct {
	Action string `xml:"wcm:action,attr"`
	Key    string `xml:"Key"`
	Value  string `xml:"Value"`
}

type installTo struct {
	DiskID      int `xml:"DiskID"`
	PartitionID int `xml:"PartitionID"`
}

type userData struct {
	AcceptEula   bool        `xml:"AcceptEula"`
	FullName     string      `xml:"FullName,omitempty"`
	Organization string      `xml:"Organization,omitempty"`
	ProductKey   *productKey `xml:"ProductKey,omitempty"`
}

type productKey struct {
	Key        string `xml:"Key"`
	WillShowUI string `xml:"WillShowUI"`
}

type identification struct {
	JoinWorkgroup string `xml:"JoinWorkgroup"`
}

type password struct {
	Value     string `xml:"Value"`
	PlainText bool   `xml:"PlainText"`
}

type autoLogon struct {
	Enabled    bool     `xml:"Enabled"`
	LogonCount int      `xml:"LogonCount"`
	Username   string   `xml:"Username"`
	Password   password `xml:"Password"`
}

type oobe struct {
	HideEULAPage              bool   `xml:"HideEULAPage,omitempty"`
	HideOEMRegistrationScreen bool   `xml:"HideOEMRegistrationScreen,omitempty"`
	HideOnlineAccountScreens  bool   `xml:"HideOnlineAccountScreens,omitempty"`
	HideWirelessSetupInOOBE   bool   `xml:"HideWirelessSetupInOOBE,omitempty"`
	SkipMachineOOBE           bool   `xml:"SkipMachineOOBE,omitempty"`
	SkipUserOOBE              bool   `xml:"SkipUserOOBE,omitempty"`
	ProtectYourPC             int    `xml:"ProtectYourPC"`
	NetworkLocation           string `xml:"NetworkLocation"`
}

type userAccounts struct {
	LocalAccounts localAccounts `xml:"LocalAccounts"`
}

type localAccounts struct {
	Accounts []localAccount `xml:"LocalAccount"`
}

type localAccount struct {
	Action      string   `xml:"wcm:action,attr"`
	Password    password `xml:"Password"`
	DisplayName string   `xml:"DisplayName"`
	Group       string   `xml:"Group"`
	Name        string   `xml:"Name"`
}

type firstLogonCommands struct {
	Commands []synchronousCommand `xml:"SynchronousCommand"`
}

type synchronousCommand struct {
	Action            string `xml:"wcm:action,attr"`
	Order             int    `xml:"Order"`
	CommandLine       string `xml:"CommandLine"`
	Description       string `xml:"Description"`
	RequiresUserInput bool   `xml:"RequiresUserInput"`
}

func runSync(cmds []Command) *runSynchronous {
	if len(cmds) == 0 {
		return nil
	}
	rs := &runSynchronous{}
	for _, c := range cmds {
		rs.Commands = append(rs.Commands, runSynchronousCommand{Action: addAction, Order: c.Order, Path: c.CommandLine, Description: c.Description})
	}
	return rs
}

func (c Config) international(name string) component {
	comp := newComponent(name)
	comp.InputLocale = c.Language
	comp.SystemLocale = c.Language
	comp.UILanguage = c.Language
	comp.UserLocale = c.Language
	return comp
}

func windowsPE(c Config, layout Layout, editionIndex int) settings {
	intl := c.international("Microsoft-Windows-International-Core-WinPE")
	intl.SetupUILanguage = &setupUILanguage{UILanguage: c.Language}

	setup := newComponent("Microsoft-Windows-Setup")
	if c.BypassWin11 {
		setup.RunSynchronous = runSync(BypassCommands())
	}
	img := &imageInstall{}
	if c.DiskID >= 0 {
		dc := &diskConfiguration{WillShowUI: "OnError", Disk: disk{Action: addAction, DiskID: c.DiskID, WillWipeDisk: true}}
		for _, p := range layout.Partitions {
			cp := createPartition{Action: addAction, Order: p.Order, Type: string(p.Kind), Size: p.SizeMB, Extend: p.SizeMB == 0}
			if p.Kind == KindReserved {
				cp.Type = string(KindPrimary)
			}
			dc.Disk.CreatePartitions.Partitions = append(dc.Disk.CreatePartitions.Partitions, cp)
			if p.Format == "" {
				continue
			}
			dc.Disk.ModifyPartitions.Partitions = append(dc.Disk.ModifyPartitions.Partitions, modifyPartition{
				Action:      addAction,
				Order:       len(dc.Disk.ModifyPartitions.Partitions) + 1,
				PartitionID: p.Order,
				Active:      p.Active,
				Format:      p.Format,
				Label:       p.Label,
				Letter:      installLetter(p),
			})
		}
		setup.DiskConfiguration = dc
		img.OSImage.InstallTo = &installTo{DiskID: c.DiskID, PartitionID: layout.InstallPartition()}
	}
	md := metaData{Action: addAction, Key: "/IMAGE/NAME", Value: c.Edition}
	if editionIndex > 0 {
		md = metaData{Action: addAction, Key: "/IMAGE/INDEX", Value: strconv.Itoa(editionIndex)}
	}
	img.OSImage.InstallFrom.MetaData = md
	setup.ImageInstall = img

	ud := &userData{AcceptEula: true, FullName: c.OwnerName, Organization: c.Organization}
	if key := c.productKey(); key != "" {
		ud.ProductKey = &productKey{Key: key, WillShowUI: "OnError"}
	}
	setup.UserData = ud

	return settings{Pass: PassWindowsPE, Components: []component{intl, setup}}
}

// installLetter keeps the drive letter only on the Windows partition; the
// letters of the system partitions are a diskpart-only convenience.
func installLetter(p Partition) string {
	if p.Kind == KindPrimary {
		return p.Letter
	}
	return ""
}

func specialize(c Config) settings {
	shell := newComponent("Microsoft-Windows-Shell-Setup")
	shell.ComputerName = c.ComputerName
	shell.TimeZone = c.TimeZone
	shell.RegisteredOrganization = c.Organization
	shell.RegisteredOwner = c.OwnerName
	comps := []component{shell}

	if !c.JoinDomain && c.Workgroup != "" {
		join := newComponent("Microsoft-Windows-UnattendedJoin")
		join.Identification = &identification{JoinWorkgroup: c.Workgroup}
		comps = append(comps, join)
	}
	if c.PreventDeviceEncryption {
		enc := newComponent("Microsoft-Windows-SecureStartup-FilterDriver")
		enc.PreventDeviceEncryption = true
		comps = append(comps, enc)
	}
	if cmds := specializeCommands(c); len(cmds) > 0 {
		dep := newComponent("Microsoft-Windows-Deployment")
		dep.RunSynchronous = runSync(cmds)
		comps = append(comps, dep)
	}
	return settings{Pass: PassSpecialize, Components: comps}
}

func oobeSystem(c Config, cmds []Command) settings {
	shell := newComponent("Microsoft-Windows-Shell-Setup")
	if c.EnableAutoLogon {
		shell.AutoLogon = &autoLogon{
			Enabled:    true,
			LogonCount: 1,
			Username:   c.UserName,
			Password:   password{Value: c.UserPassword, PlainText: true},
		}
	}
	o := &oobe{HideEULAPage: c.SkipEULA, ProtectYourPC: 3, NetworkLocation: "Work"}
	if c.SkipOOBE {
		o.HideOEMRegistrationScreen = true
		o.HideOnlineAccountScreens = true
		o.HideWirelessSetupInOOBE = true
		o.SkipMachineOOBE = true
		o.SkipUserOOBE = true
	}
	if c.SkipNetwork {
		o.HideWirelessSetupInOOBE = true
	}
	shell.OOBE = o
	if c.UserName != "" {
		group := "Users"
		if c.UserIsAdmin {
			group = "Administrators"
		}
		display := c.UserDisplayName
		if display == "" {
			display = c.UserName
		}
		shell.UserAccounts = &userAccounts{LocalAccounts: localAccounts{Accounts: []localAccount{{
			Action:      addAction,
			Password:    password{Value: c.UserPassword, PlainText: true},
			DisplayName: display,
			Group:       group,
			Name:        c.UserName,
		}}}}
	}
	if len(cmds) > 0 {
		flc := &firstLogonCommands{}
		for _, cmd := range cmds {
			flc.Commands = append(flc.Commands, synchronousCommand{Action: addAction, Order: cmd.Order, CommandLine: cmd.CommandLine, Description: cmd.Description})
		}
		shell.FirstLogonCommands = flc
	}
	return settings{Pass: PassOOBESystem, Components: []component{shell, c.international("Microsoft-Windows-International-Core")}}
}
