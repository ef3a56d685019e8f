package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/twpayne/go-vfs/v4"
)

const (
	LauncherPath  = `Tools\Launchers\Launcher.cmd`
	FallbackShell = "cmd.exe"
)

// script accumulates batch lines, written out with CRLF endings.
type script []string

func (s *script) add(format string, args ...interface{}) {
	*s = append(*s, fmt.Sprintf(format, args...))
}

func (s script) String() string {
	return strings.Join(s, "\r\n") + "\r\n"
}

func toolPath(t Tool) string {
	return `X:\Tools\` + t.Name + `\` + strings.ReplaceAll(t.Exe, "/", `\`)
}

// Shell picks the usable shell tool. With shell set, only that tool qualifies.
func Shell(list []Tool, shell string) (Tool, bool) {
	for _, t := range list {
		if t.IsShell && t.Usable() && (shell == "" || strings.EqualFold(t.Name, shell)) {
			return t, true
		}
	}
	return Tool{}, false
}

// Launcher renders the startup script: hardware init, drivers, profile, environment,
// network services, auto-launch tools and finally the shell.
func Launcher(list []Tool, shell string) string {
	var s script
	s.add("@echo off")
	s.add("REM MasterBooter WinPE launcher")
	s.add("echo Initializing WinPE environment...")
	s.add("wpeinit")
	s.add("ping 127.0.0.1 -n 3 > nul")

	s.add("echo Loading additional drivers...")
	s.add(`if exist "X:\Drivers" (`)
	s.add(`    for /r "X:\Drivers" %%%%f in (*.inf) do drvload "%%%%f" >nul 2>&1`)
	s.add(")")
	s.add("for %%%%d in (C D E F G H I J K L M N O P Q R S T U V W Y Z) do (")
	s.add(`    if exist "%%%%d:\MasterBooter\Drivers" for /r "%%%%d:\MasterBooter\Drivers" %%%%f in (*.inf) do drvload "%%%%f" >nul 2>&1`)
	s.add(")")

	s.add("echo Creating user profile folders...")
	for _, d := range []string{`AppData\Local\Temp`, `AppData\Roaming`, "Desktop", "Documents", "Downloads"} {
		s.add(`mkdir "X:\Users\Default\%s" 2>nul`, d)
	}
	s.add("set USERPROFILE=X:\\Users\\Default")
	s.add("set APPDATA=X:\\Users\\Default\\AppData\\Roaming")
	s.add("set LOCALAPPDATA=X:\\Users\\Default\\AppData\\Local")
	s.add("set TEMP=X:\\Users\\Default\\AppData\\Local\\Temp")
	s.add("set TMP=X:\\Users\\Default\\AppData\\Local\\Temp")
	s.add("set HOMEDRIVE=X:")
	s.add("set HOMEPATH=\\Users\\Default")

	s.add("echo Initializing network services...")
	for _, svc := range []string{"dot3svc", "Eaphost", "wlansvc"} {
		s.add("net start %s 2>nul", svc)
	}
	// netprofm refuses to start while WinPE reports setup in progress
	s.add(`reg add "HKLM\SYSTEM\Setup" /v SystemSetupInProgress /t REG_DWORD /d 0 /f >nul 2>&1`)
	s.add("net start netprofm 2>nul")
	s.add("net start NlaSvc 2>nul")
	s.add(`reg add "HKLM\SYSTEM\Setup" /v SystemSetupInProgress /t REG_DWORD /d 1 /f >nul 2>&1`)

	for _, t := range list {
		if !t.AutoLaunch || !t.Usable() || t.IsShell {
			continue
		}
		s.add("echo Starting %s...", t.Name)
		s.add(`if exist "%s" start /MIN "%s" "%s"`, toolPath(t), t.Name, toolPath(t))
	}

	if sh, ok := Shell(list, shell); ok {
		args := ""
		if strings.EqualFold(sh.Name, "WinXShell") {
			args = " -winpe"
		}
		s.add("echo Launching %s...", sh.Name)
		s.add(`if exist "%s" (`, toolPath(sh))
		s.add(`    cd /d "X:\Tools\%s"`, sh.Name)
		s.add(`    start "" "%s"%s`, toolPath(sh), args)
		s.add("    ping 127.0.0.1 -n 5 > nul")
		s.add(")")
	}
	s.add(FallbackShell)
	return s.String()
}

// ConfigureShell writes the launcher and points winpeshl.ini at it. It returns the shell
// that will run, cmd.exe when no shell tool is usable.
func ConfigureShell(fs vfs.FS, mount string, list []Tool, shell string) (string, error) {
	launcher := filepath.Join(mount, "Tools", "Launchers", "Launcher.cmd")
	if err := utils.CreateIfNotExists(fs, filepath.Dir(launcher)); err != nil {
		return "", err
	}
	if err := fs.WriteFile(launcher, []byte(Launcher(list, shell)), 0o644); err != nil {
		return "", err
	}
	sys32 := filepath.Join(mount, "Windows", "System32")
	if err := utils.CreateIfNotExists(fs, sys32); err != nil {
		return "", err
	}
	ini := "[LaunchApps]\r\nX:\\" + LauncherPath + "\r\n"
	if err := fs.WriteFile(filepath.Join(sys32, "winpeshl.ini"), []byte(ini), 0o644); err != nil {
		return "", err
	}
	if err := writeShortcuts(fs, mount, list); err != nil {
		return "", err
	}
	if sh, ok := Shell(list, shell); ok {
		return sh.Name, nil
	}
	return FallbackShell, nil
}

// writeShortcuts drops a .cmd per tool on the default desktop, which every PE shell can show.
func writeShortcuts(fs vfs.FS, mount string, list []Tool) error {
	desktop := filepath.Join(mount, "Users", "Default", "Desktop")
	for _, t := range list {
		if !t.CreateShortcut || !t.Usable() || t.IsShell {
			continue
		}
		if err := utils.CreateIfNotExists(fs, desktop); err != nil {
			return err
		}
		content := fmt.Sprintf("@echo off\r\nstart \"\" \"%s\"\r\n", toolPath(t))
		if err := fs.WriteFile(filepath.Join(desktop, t.Name+".cmd"), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}
