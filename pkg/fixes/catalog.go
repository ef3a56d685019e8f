package fixes

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/image"
)

const wallpaperPath = `X:\Windows\Web\Wallpaper\Windows\wallpaper.jpg`

func dpiScaling(ctx context.Context, env Env, root string) (string, error) {
	const key = `Control Panel\Desktop`
	ok, err := editHive(ctx, env, root, "DEFAULT",
		image.DWord("DEFAULT", key, "LogPixels", 96),
		image.DWord("DEFAULT", key, "Win8DpiScaling", 1),
		image.DWord("DEFAULT", key, "DpiScalingVer", 0x1018),
	)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("DEFAULT hive not found")
	}
	return "DPI scaling set to 100%", nil
}

func wallpaperHost(ctx context.Context, env Env, root string) (string, error) {
	exe := filepath.Join(root, "Windows", "System32", "WallpaperHost.exe")
	msg := "WallpaperHost.exe not present"
	if utils.Exists(env.FS, exe) {
		bak := exe + ".bak"
		if utils.Exists(env.FS, bak) {
			if err := env.FS.Remove(bak); err != nil {
				return "", err
			}
		}
		if err := env.FS.Rename(exe, bak); err != nil {
			return "", err
		}
		msg = "WallpaperHost.exe renamed to .bak"
	}
	const desktop = `Control Panel\Desktop`
	ok, err := editHive(ctx, env, root, "DEFAULT",
		image.String("DEFAULT", desktop, "Wallpaper", wallpaperPath),
		image.String("DEFAULT", desktop, "WallpaperStyle", "10"),
		image.String("DEFAULT", desktop, "TileWallpaper", "0"),
		image.String("DEFAULT", `Software\Microsoft\Internet Explorer\Desktop\General`, "WallpaperSource", wallpaperPath),
	)
	if err != nil {
		return "", err
	}
	if ok {
		msg += ", wallpaper registry keys set"
	}
	return msg, nil
}

const fontFixReg = `Windows Registry Editor Version 5.00

[HKEY_LOCAL_MACHINE\SOFTWARE\Microsoft\Windows NT\CurrentVersion\Fonts]
"Segoe UI Italic (TrueType)"="segoeui.ttf"
"Segoe UI Bold Italic (TrueType)"="segoeuib.ttf"
`

func fontFix(ctx context.Context, env Env, root string) (string, error) {
	if err := writeFile(env.FS, filepath.Join(root, "Windows", "Setup", "FontFix.reg"), fontFixReg); err != nil {
		return "", err
	}
	const fonts = `Microsoft\Windows NT\CurrentVersion\Fonts`
	if _, err := editHive(ctx, env, root, "SOFTWARE",
		image.String("SOFTWARE", fonts, "Segoe UI Italic (TrueType)", "segoeui.ttf"),
		image.String("SOFTWARE", fonts, "Segoe UI Bold Italic (TrueType)", "segoeuib.ttf"),
	); err != nil {
		return "", err
	}
	return "Segoe UI italic fix applied", nil
}

func setResolution(_ context.Context, env Env, root string) (string, error) {
	m := resolutionRe.FindStringSubmatch(env.Options.Resolution)
	if m == nil {
		return "", fmt.Errorf("invalid resolution %q, use WxH such as 1920x1080", env.Options.Resolution)
	}
	script := fmt.Sprintf("@echo off\nREM Set display resolution to %s\nwpeutil SetDisplayResolution %s %s\n", m[0], m[1], m[2])
	if err := writeFile(env.FS, filepath.Join(root, "Windows", "Setup", "Scripts", "SetResolution.cmd"), script); err != nil {
		return "", err
	}
	return fmt.Sprintf("resolution %s configured", m[0]), nil
}

var profileDirs = []string{
	"Desktop", "Documents", "Downloads", "Pictures", "Music", "Videos",
	filepath.Join("AppData", "Local"),
	filepath.Join("AppData", "Local", "Temp"),
	filepath.Join("AppData", "Roaming"),
}

const createProfileFolders = `@echo off
if not exist "%USERPROFILE%\Desktop" mkdir "%USERPROFILE%\Desktop"
if not exist "%USERPROFILE%\Documents" mkdir "%USERPROFILE%\Documents"
if not exist "%USERPROFILE%\Downloads" mkdir "%USERPROFILE%\Downloads"
`

func profileFolders(_ context.Context, env Env, root string) (string, error) {
	for _, d := range profileDirs {
		if err := utils.CreateIfNotExists(env.FS, filepath.Join(root, "Users", "Default", d)); err != nil {
			return "", err
		}
	}
	if err := writeFile(env.FS, filepath.Join(root, "ProgramData", "MasterBooter", "CreateProfileFolders.cmd"), createProfileFolders); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d folders created", len(profileDirs)), nil
}

const configureTemp = `@echo off
if not exist "%TEMP%" mkdir "%TEMP%"
if not exist "%TMP%" mkdir "%TMP%"
set TEMP=X:\Windows\Temp
set TMP=X:\Windows\Temp
`

func tempFolders(_ context.Context, env Env, root string) (string, error) {
	for _, d := range []string{
		filepath.Join(root, "Windows", "Temp"),
		filepath.Join(root, "Users", "Default", "AppData", "Local", "Temp"),
	} {
		if err := utils.CreateIfNotExists(env.FS, d); err != nil {
			return "", err
		}
	}
	if err := writeFile(env.FS, filepath.Join(root, "ProgramData", "MasterBooter", "ConfigureTemp.cmd"), configureTemp); err != nil {
		return "", err
	}
	return "TEMP folders created and script added", nil
}

const fileAssociationsReg = `Windows Registry Editor Version 5.00

[HKEY_CLASSES_ROOT\.txt]
@="txtfile"

[HKEY_CLASSES_ROOT\txtfile\shell\open\command]
@="notepad.exe \"%1\""

[HKEY_CLASSES_ROOT\.log]
@="txtfile"

[HKEY_CLASSES_ROOT\.ini]
@="txtfile"

[HKEY_CLASSES_ROOT\.xml]
@="txtfile"

[HKEY_CLASSES_ROOT\.reg]
@="regfile"

[HKEY_CLASSES_ROOT\regfile\shell\open\command]
@="regedit.exe \"%1\""

[HKEY_CLASSES_ROOT\.cmd]
@="cmdfile"

[HKEY_CLASSES_ROOT\cmdfile\shell\open\command]
@="cmd.exe /c \"%1\""

[HKEY_CLASSES_ROOT\.bat]
@="batfile"

[HKEY_CLASSES_ROOT\batfile\shell\open\command]
@="cmd.exe /c \"%1\""
`

func fileAssociations(_ context.Context, env Env, root string) (string, error) {
	if err := writeFile(env.FS, filepath.Join(root, "Windows", "Setup", "FileAssociations.reg"), fileAssociationsReg); err != nil {
		return "", err
	}
	return "associations for txt, log, ini, xml, reg, cmd, bat configured", nil
}

func crashDialogs(ctx context.Context, env Env, root string) (string, error) {
	ok, err := editHive(ctx, env, root, "SOFTWARE",
		image.DWord("SOFTWARE", `Microsoft\Windows\Windows Error Reporting`, "DontShowUI", 1),
		image.String("SOFTWARE", `Microsoft\Windows NT\CurrentVersion\AeDebug`, "Auto", "0"),
	)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("SOFTWARE hive not found")
	}
	return "crash dialogs disabled", nil
}

func longPaths(ctx context.Context, env Env, root string) (string, error) {
	ok, err := editHive(ctx, env, root, "SYSTEM",
		image.DWord("SYSTEM", `ControlSet001\Control\FileSystem`, "LongPathsEnabled", 1),
	)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("SYSTEM hive not found")
	}
	return "long paths enabled", nil
}
