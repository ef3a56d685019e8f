package unattend

import (
	"fmt"
	"strings"
)

// Command is one first-logon command, run in Order.
type Command struct {
	Order       int
	CommandLine string
	Description string
}

const (
	highPerformancePlan = "8c5e7fda-e8bf-4a96-9a85-a6e23a8c635c"
	RunAllCommand       = `cmd /c "C:\Temp\MasterBooter\RunAll.bat"`
)

type commandList []Command

func (l *commandList) raw(desc, line string) {
	*l = append(*l, Command{Order: len(*l) + 1, CommandLine: line, Description: desc})
}

// reg adds a reg add command. An empty value name writes the key's default value.
func (l *commandList) reg(desc, key, value, typ, data string) {
	name := "/v " + value
	if value == "" {
		name = "/ve"
	}
	if data == "" || strings.ContainsAny(data, " \t") {
		data = fmt.Sprintf("%q", data)
	}
	l.raw(desc, fmt.Sprintf(`reg add "%s" %s /t %s /d %s /f`, key, name, typ, data))
}

func (l *commandList) dword(desc, key, value string, data int) {
	l.reg(desc, key, value, "REG_DWORD", fmt.Sprint(data))
}

func (l *commandList) powershell(desc, cmd string) {
	l.raw(desc, fmt.Sprintf(`powershell -ExecutionPolicy Bypass -NoProfile -Command "%s"`, cmd))
}

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

const (
	hklmPolicies = `HKLM\SOFTWARE\Policies\Microsoft\Windows`
	hkcuCurrent  = `HKCU\SOFTWARE\Microsoft\Windows\CurrentVersion`
	advanced     = hkcuCurrent + `\Explorer\Advanced`
)

// Commands translates the toggles into first-logon commands in declaration order:
// privacy, security, performance, UI, bloatware, domain join and the password policy.
// The user script runner comes last when there are first-logon scripts.
func Commands(c Config, scripts []Script) []Command {
	var l commandList

	if c.DisableTelemetry {
		l.dword("Disable Telemetry", hklmPolicies+`\DataCollection`, "AllowTelemetry", 0)
		l.dword("Disable Telemetry (user)", hkcuCurrent+`\Privacy`, "TailoredExperiencesWithDiagnosticDataEnabled", 0)
	}
	if c.DisableLocation {
		l.reg("Disable Location Tracking", `HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\CapabilityAccessManager\ConsentStore\location`, "Value", "REG_SZ", "Deny")
	}
	if c.DisableAds {
		l.dword("Disable Advertising ID", hkcuCurrent+`\AdvertisingInfo`, "Enabled", 0)
	}
	if c.DisableSuggestedApps {
		for _, v := range []string{"SubscribedContent-338388Enabled", "SubscribedContent-338389Enabled", "SystemPaneSuggestionsEnabled"} {
			l.dword("Disable Suggested Apps", hkcuCurrent+`\ContentDeliveryManager`, v, 0)
		}
	}
	if c.DisableBingSearch {
		l.dword("Disable Bing Search in Start", `HKCU\SOFTWARE\Policies\Microsoft\Windows\Explorer`, "DisableSearchBoxSuggestions", 1)
	}
	if c.DisableSmartScreen {
		l.dword("Disable SmartScreen", hklmPolicies+`\System`, "EnableSmartScreen", 0)
	}

	if c.EnableRDP {
		l.dword("Enable RDP", `HKLM\SYSTEM\CurrentControlSet\Control\Terminal Server`, "fDenyTSConnections", 0)
		l.raw("Allow RDP through firewall", `netsh advfirewall firewall set rule group="Remote Desktop" new enable=Yes`)
	}
	if c.DisableUAC {
		l.dword("Disable UAC", `HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\Policies\System`, "EnableLUA", 0)
	}
	if c.DisableDefender {
		l.dword("Disable Windows Defender", `HKLM\SOFTWARE\Policies\Microsoft\Windows Defender`, "DisableAntiSpyware", 1)
		l.dword("Disable Real-Time Protection", `HKLM\SOFTWARE\Policies\Microsoft\Windows Defender\Real-Time Protection`, "DisableRealtimeMonitoring", 1)
	}
	if c.DisableFirewall {
		for _, p := range []string{"domainprofile", "privateprofile", "publicprofile"} {
			l.raw("Disable Firewall ("+p+")", fmt.Sprintf("netsh advfirewall set %s state off", p))
		}
	}
	if c.DisableVBS {
		l.dword("Disable VBS", `HKLM\SYSTEM\CurrentControlSet\Control\DeviceGuard`, "EnableVirtualizationBasedSecurity", 0)
	}
	if c.DisableBitLocker {
		l.dword("Disable BitLocker Auto-Encryption", `HKLM\SYSTEM\CurrentControlSet\Control\BitLocker`, "PreventDeviceEncryption", 1)
	}

	if c.DisableFastStartup {
		l.dword("Disable Fast Startup", `HKLM\SYSTEM\CurrentControlSet\Control\Session Manager\Power`, "HiberbootEnabled", 0)
	}
	if c.HighPerformance {
		l.raw("Set High Performance Power Plan", "powercfg /setactive "+highPerformancePlan)
	}
	if c.DisableSystemRestore {
		l.dword("Disable System Restore", `HKLM\SOFTWARE\Policies\Microsoft\Windows NT\SystemRestore`, "DisableSR", 1)
	}

	if c.ShowFileExtensions {
		l.dword("Show File Extensions", advanced, "HideFileExt", 0)
	}
	if c.ShowHiddenFiles {
		l.dword("Show Hidden Files", advanced, "Hidden", 1)
	}
	if c.ClassicContextMenu {
		l.reg("Classic Context Menu", `HKCU\Software\Classes\CLSID\{86ca1aa0-34aa-4e8b-a509-50c905bae2a2}\InprocServer32`, "", "REG_SZ", "")
	}
	if c.TaskbarSearchMode > 0 {
		l.dword("Configure Taskbar Search", hkcuCurrent+`\Search`, "SearchboxTaskbarMode", c.TaskbarSearchMode)
	}
	if c.HideTaskView {
		l.dword("Hide Task View Button", advanced, "ShowTaskViewButton", 0)
	}
	if c.HideWidgets {
		l.dword("Hide Widgets Button", advanced, "TaskbarDa", 0)
	}
	if c.TaskbarLeftAlign {
		l.dword("Left-align Taskbar", advanced, "TaskbarAl", 0)
	}

	if c.DisableCortana {
		l.dword("Disable Cortana", hklmPolicies+`\Windows Search`, "AllowCortana", 0)
	}
	if c.DisableOneDrive {
		l.dword("Disable OneDrive", hklmPolicies+`\OneDrive`, "DisableFileSyncNGSC", 1)
	}
	if c.DisableTeams {
		l.dword("Disable Teams Chat", hklmPolicies+`\Windows Chat`, "ChatIcon", 3)
	}
	if c.DisableCopilot {
		l.dword("Disable Copilot", `HKCU\SOFTWARE\Policies\Microsoft\Windows\WindowsCopilot`, "TurnOffWindowsCopilot", 1)
	}
	if c.DisableWidgetsService {
		l.dword("Disable Widgets Service", `HKLM\SOFTWARE\Policies\Microsoft\Dsh`, "AllowNewsAndInterests", 0)
	}

	if c.JoinDomain && c.DomainName != "" {
		l.powershell("Join Domain", fmt.Sprintf(
			"Add-Computer -DomainName %s -Credential (New-Object PSCredential(%s, (ConvertTo-SecureString %s -AsPlainText -Force))) -Restart -Force",
			psQuote(c.DomainName), psQuote(c.DomainUsername), psQuote(c.DomainPassword)))
	}

	l.raw("Set password to never expire", "net accounts /maxpwage:unlimited")

	if len(inPhase(scripts, FirstLogon)) > 0 {
		l.raw("Run MasterBooter post-install scripts", RunAllCommand)
	}
	return l
}

var labConfig = []struct{ key, value string }{
	{`HKLM\SYSTEM\Setup\LabConfig`, "BypassSecureBootCheck"},
	{`HKLM\SYSTEM\Setup\LabConfig`, "BypassTPMCheck"},
	{`HKLM\SYSTEM\Setup\LabConfig`, "BypassCPUCheck"},
	{`HKLM\SYSTEM\Setup\LabConfig`, "BypassRAMCheck"},
	{`HKLM\SYSTEM\Setup\LabConfig`, "BypassStorageCheck"},
	{`HKLM\SYSTEM\Setup\MoSetup`, "AllowUpgradesWithUnsupportedTPMOrCPU"},
}

// BypassCommands are the hardware-check bypass keys, run inside the setup
// environment before the compatibility checks happen.
func BypassCommands() []Command {
	var l commandList
	for _, k := range labConfig {
		l.dword("Bypass "+k.value, k.key, k.value, 1)
	}
	return l
}

// specializeCommands run in the installed system before OOBE.
func specializeCommands(c Config) []Command {
	var l commandList
	if c.SkipNetwork {
		l.dword("Allow OOBE without network", `HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\OOBE`, "BypassNRO", 1)
	}
	return l
}
