package unattend

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/twpayne/go-vfs/v4"
)

type Phase string

const (
	FirstLogon    Phase = "FirstLogon"
	SetupComplete Phase = "SetupComplete"
)

const (
	RunAllName        = "RunAll.bat"
	SetupCompleteName = "SetupComplete.cmd"
	runAllLog         = `C:\Temp\MasterBooter\RunAll.log`
	setupCompleteLog  = `C:\Windows\Setup\Scripts\SetupComplete.log`
)

var (
	// first-logon scripts and RunAll.bat, relative to the target root
	targetScriptsDir = filepath.Join("Temp", "MasterBooter")
	setupScriptsDir  = filepath.Join("Windows", "Setup", "Scripts")
	scriptExts       = map[string]bool{".bat": true, ".cmd": true, ".ps1": true, ".reg": true}
)

// Script is a user supplied post-install script. Ordinal is its position within
// its phase, by file name.
type Script struct {
	Path    string
	Name    string
	Phase   Phase
	Ordinal int
}

// ListScripts reads <dir>/FirstLogon and <dir>/SetupComplete. Missing folders are empty phases.
func ListScripts(fs vfs.FS, dir string) ([]Script, error) {
	var scripts []Script
	for _, phase := range []Phase{FirstLogon, SetupComplete} {
		entries, err := fs.ReadDir(filepath.Join(dir, string(phase)))
		if utils.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !scriptExts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			scripts = append(scripts, Script{
				Path:  filepath.Join(dir, string(phase), e.Name()),
				Name:  e.Name(),
				Phase: phase,
			})
		}
	}
	return Order(scripts), nil
}

// Order sorts scripts by phase then name and numbers them within each phase.
func Order(scripts []Script) []Script {
	out := append([]Script(nil), scripts...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Phase != out[j].Phase {
			return out[i].Phase == FirstLogon
		}
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].Name < out[j].Name
	})
	counts := map[Phase]int{}
	for i := range out {
		counts[out[i].Phase]++
		out[i].Ordinal = counts[out[i].Phase]
	}
	return out
}

// checkReserved rejects a script that would be overwritten by the runner of its phase.
func checkReserved(stage string, scripts []Script) error {
	reserved := map[Phase]string{FirstLogon: RunAllName, SetupComplete: SetupCompleteName}
	for _, s := range scripts {
		if strings.EqualFold(s.Name, reserved[s.Phase]) {
			return schema.NewConfigError(stage, fmt.Errorf("%s script name %s is reserved", s.Phase, s.Name))
		}
	}
	return nil
}

func inPhase(scripts []Script, phase Phase) []Script {
	var out []Script
	for _, s := range Order(scripts) {
		if s.Phase == phase {
			out = append(out, s)
		}
	}
	return out
}

func invoke(name, log string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ps1":
		return fmt.Sprintf(`powershell.exe -ExecutionPolicy Bypass -NonInteractive -File "%%~dp0%s" >> "%s" 2>&1`, name, log)
	case ".reg":
		return fmt.Sprintf(`reg import "%%~dp0%s" >> "%s" 2>&1`, name, log)
	}
	return fmt.Sprintf(`call "%%~dp0%s" >> "%s" 2>&1`, name, log)
}

func runner(title, log string, scripts []Script) string {
	banner := fmt.Sprintf(`echo ============================================ >> "%s"`, log)
	lines := []string{
		"@echo off",
		"REM " + title + ", generated by MasterBooter",
		banner,
		fmt.Sprintf(`echo %s - Started: %%DATE%% %%TIME%% >> "%s"`, title, log),
		banner,
	}
	for _, s := range scripts {
		lines = append(lines,
			fmt.Sprintf(`echo [%%TIME%%] Running: %s >> "%s"`, s.Name, log),
			invoke(s.Name, log),
			fmt.Sprintf(`echo [%%TIME%%] Finished: %s (exit code: %%ERRORLEVEL%%) >> "%s"`, s.Name, log),
		)
	}
	lines = append(lines, banner, fmt.Sprintf(`echo All scripts finished: %%DATE%% %%TIME%% >> "%s"`, log), banner)
	return strings.Join(lines, "\r\n") + "\r\n"
}

// RunAll renders RunAll.bat for the first-logon scripts, empty when there are none.
func RunAll(scripts []Script) string {
	fl := inPhase(scripts, FirstLogon)
	if len(fl) == 0 {
		return ""
	}
	return runner("MasterBooter Scripts", runAllLog, fl)
}

// SetupCompleteScript renders SetupComplete.cmd, empty when there are no setup-complete scripts.
func SetupCompleteScript(scripts []Script) string {
	sc := inPhase(scripts, SetupComplete)
	if len(sc) == 0 {
		return ""
	}
	return runner("MasterBooter SetupComplete", setupCompleteLog, sc)
}

// StageScripts copies the scripts into the installed system under targetRoot and
// writes the runners that execute them.
func StageScripts(fs vfs.FS, targetRoot string, scripts []Script) error {
	if err := checkReserved("stage-scripts", scripts); err != nil {
		return err
	}
	stage := func(phase Phase, dir, runnerName, body string) error {
		list := inPhase(scripts, phase)
		if len(list) == 0 {
			return nil
		}
		dst := filepath.Join(targetRoot, dir)
		for _, s := range list {
			if err := utils.CopyFile(fs, s.Path, filepath.Join(dst, s.Name)); err != nil {
				return fmt.Errorf("copying script %s: %w", s.Name, err)
			}
		}
		return fs.WriteFile(filepath.Join(dst, runnerName), []byte(body), 0o644)
	}
	if err := stage(FirstLogon, targetScriptsDir, RunAllName, RunAll(scripts)); err != nil {
		return err
	}
	return stage(SetupComplete, setupScriptsDir, SetupCompleteName, SetupCompleteScript(scripts))
}
