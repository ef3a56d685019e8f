package inject

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/image"
	"github.com/rs/zerolog"
	"github.com/twpayne/go-vfs/v4"
)

// System32 files of the WLAN and 802.1X stack.
var wlanFiles = []string{
	"wlansvc.dll", "wlanapi.dll", "wlancfg.dll", "wlanhlp.dll", "wlanmsm.dll", "wlansec.dll",
	"wlanui.dll", "wlgpclnt.dll", "wlanext.exe", "wifitask.exe",
	"WLanConn.dll", "wlandlg.dll", "WLanHC.dll", "WlanMediaManager.dll", "WlanMM.dll",
	"wlanpref.dll", "wlansvcpal.dll", "wlanutil.dll", "WlanRadioManager.dll", "mobilenetworking.dll",
	"dot3api.dll", "dot3cfg.dll", "dot3dlg.dll", "dot3gpclnt.dll", "dot3gpui.dll", "dot3hc.dll",
	"dot3msm.dll", "dot3svc.dll", "dot3ui.dll",
	"l2gpstore.dll", "l2nacp.dll", "onex.dll", "onexui.dll",
	"wcmapi.dll", "wcmcsp.dll", "wcmsvc.dll", "NetworkUXBroker.dll",
	"rsaenh.dll", "cngcredui.dll", "cngprovider.dll", "eapsvc.dll",
	"VAN.dll", "RMapi.dll", "netevent.dll",
	"dmcmnutils.dll", "mdmregistration.dll", "mdmpostprocessevaluator.dll",
}

var muiFiles = []string{"wlanext.exe.mui", "wlancfg.dll.mui"}

var filterDrivers = []string{"nwifi.sys", "vwififlt.sys", "vwifibus.sys", "WdiWiFi.sys", "wfplwfs.sys"}

var infFiles = []string{"netnwifi.inf", "netvwififlt.inf", "netvwifibus.inf", "netlldp.inf", "ndiscap.inf"}

// Service is the minimal registry definition the service control manager needs.
type Service struct {
	Name         string
	Type         int
	Start        int
	ImagePath    string
	ObjectName   string
	DependOn     []string
	ServiceDll   string
	ErrorControl int
}

const svchostNetwork = `%SystemRoot%\system32\svchost.exe -k LocalSystemNetworkRestricted -p`

var Services = []Service{
	{Name: "WlanSvc", Type: 0x20, Start: 3, ErrorControl: 1, ImagePath: svchostNetwork, ObjectName: "LocalSystem",
		DependOn: []string{"nativewifip", "RpcSs", "Ndisuio", "wcmsvc"}, ServiceDll: `%SystemRoot%\System32\wlansvc.dll`},
	{Name: "dot3svc", Type: 0x20, Start: 3, ErrorControl: 1, ImagePath: svchostNetwork, ObjectName: "LocalSystem",
		DependOn: []string{"Ndisuio", "RpcSs", "Eaphost"}, ServiceDll: `%SystemRoot%\System32\dot3svc.dll`},
	{Name: "Eaphost", Type: 0x20, Start: 3, ErrorControl: 1, ImagePath: svchostNetwork, ObjectName: "LocalSystem",
		DependOn: []string{"RpcSs", "KeyIso"}, ServiceDll: `%SystemRoot%\System32\eapsvc.dll`},
	{Name: "WcmSvc", Type: 0x20, Start: 2, ErrorControl: 1, ImagePath: svchostNetwork, ObjectName: "LocalSystem",
		DependOn: []string{"RpcSs", "NSI"}, ServiceDll: `%SystemRoot%\System32\wcmsvc.dll`},
	{Name: "NativeWifiP", Type: 1, Start: 3, ErrorControl: 1, ImagePath: `system32\DRIVERS\nwifi.sys`},
	{Name: "vwififlt", Type: 1, Start: 3, ErrorControl: 1, ImagePath: `System32\drivers\vwififlt.sys`},
}

// services WinPE refuses to start unless listed under Setup\AllowStart
var allowStart = []string{"dnscache", "nlasvc", "wcmsvc", "netprofm", "WlanSvc"}

// Edits is the SYSTEM hive definition of the service.
func (s Service) Edits() []image.RegistryEdit {
	key := `ControlSet001\Services\` + s.Name
	edits := []image.RegistryEdit{
		image.DWord("SYSTEM", key, "Type", s.Type),
		image.DWord("SYSTEM", key, "Start", s.Start),
		image.DWord("SYSTEM", key, "ErrorControl", s.ErrorControl),
		image.ExpandString("SYSTEM", key, "ImagePath", s.ImagePath),
	}
	if s.ObjectName != "" {
		edits = append(edits, image.String("SYSTEM", key, "ObjectName", s.ObjectName))
	}
	if len(s.DependOn) > 0 {
		edits = append(edits, image.MultiString("SYSTEM", key, "DependOnService", s.DependOn...))
	}
	if s.ServiceDll != "" {
		edits = append(edits, image.ExpandString("SYSTEM", key+`\Parameters`, "ServiceDll", s.ServiceDll))
	}
	return edits
}

// Network carries the wireless stack of a full Windows install into a boot image.
type Network struct {
	FS       vfs.FS
	Registry image.RegistryWriter
	Logger   zerolog.Logger
}

// Inject copies the WLAN stack files from sourceWindows into the image mounted at mount and
// defines its services. Files the source does not have are counted as skipped.
func (n Network) Inject(ctx context.Context, sourceWindows, mount string, report *Report) error {
	sys32, ok := utils.ResolveFold(n.FS, sourceWindows, "System32")
	if !ok {
		return fmt.Errorf("no System32 in network source %s", sourceWindows)
	}
	peWindows := filepath.Join(mount, "Windows")
	peSys32 := filepath.Join(peWindows, "System32")

	n.copyEach(sys32, peSys32, wlanFiles, report)
	if src, ok := utils.FindFold(n.FS, sys32, "en-US"); ok {
		n.copyEach(src, filepath.Join(peSys32, "en-US"), muiFiles, report)
	} else {
		report.FilesSkipped += len(muiFiles)
	}
	if src, ok := utils.FindFold(n.FS, sys32, "drivers"); ok {
		n.copyEach(src, filepath.Join(peSys32, "drivers"), filterDrivers, report)
	} else {
		report.FilesSkipped += len(filterDrivers)
	}
	if src, ok := utils.FindFold(n.FS, sourceWindows, "INF"); ok {
		n.copyEach(src, filepath.Join(peWindows, "INF"), infFiles, report)
	} else {
		report.FilesSkipped += len(infFiles)
	}
	n.copySchemas(sourceWindows, "L2Schemas", filepath.Join(peWindows, "L2Schemas"), report)
	n.copySchemas(sourceWindows, "schemas/AvailableNetwork", filepath.Join(peWindows, "schemas", "AvailableNetwork"), report)
	n.copyEach(filepath.Join(sys32, "wbem"), filepath.Join(peSys32, "wbem"), []string{"wlan.mof"}, report)

	if !utils.Exists(n.FS, utils.HiveFile(mount, "SYSTEM")) {
		report.Warn("image has no SYSTEM hive, network services not defined")
		return nil
	}
	if err := n.Registry.Apply(ctx, mount, registryEdits()); err != nil {
		return err
	}
	report.ServicesDefined += len(Services)
	n.Logger.Info().Int("services", len(Services)).Int("files", report.FilesCopied).Msg("network stack injected")
	return nil
}

func registryEdits() []image.RegistryEdit {
	var edits []image.RegistryEdit
	for _, s := range Services {
		edits = append(edits, s.Edits()...)
	}
	for _, s := range allowStart {
		edits = append(edits, image.RegistryEdit{Hive: "SYSTEM", Key: `Setup\AllowStart\` + s})
	}
	edits = append(edits,
		image.MultiString("SOFTWARE", `Microsoft\Windows NT\CurrentVersion\Svchost`, "LocalSystemNetworkRestricted",
			"WlanSvc", "dot3svc", "Eaphost", "WcmSvc"),
		image.String("SOFTWARE", `Microsoft\NetSh`, "wlancfg", "wlancfg.dll"),
	)
	return edits
}

func (n Network) copyEach(srcDir, dstDir string, names []string, report *Report) {
	for _, name := range names {
		src, ok := utils.FindFold(n.FS, srcDir, name)
		if !ok {
			report.FilesSkipped++
			continue
		}
		if err := utils.CopyFile(n.FS, src, filepath.Join(dstDir, name)); err != nil {
			report.Warn("copy %s: %w", name, err)
			report.FilesSkipped++
			continue
		}
		report.FilesCopied++
	}
}

func (n Network) copySchemas(sourceWindows, rel, dstDir string, report *Report) {
	src, ok := utils.ResolveFold(n.FS, sourceWindows, rel)
	if !ok {
		return
	}
	entries, err := n.FS.ReadDir(src)
	if err != nil {
		report.Warn("read %s: %w", rel, err)
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".xsd") {
			names = append(names, e.Name())
		}
	}
	n.copyEach(src, dstDir, names, report)
}
