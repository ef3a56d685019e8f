package image

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/deniswernert/go-fstab"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/twpayne/go-vfs/v4"
)

// Ledger records every mount this tool made in fstab format, so a crashed run can be detected
// by the next one even when the imaging tool has already forgotten about it.
type Ledger struct {
	FS   vfs.FS
	Path string
	mu   sync.Mutex
}

func NewLedger(fs vfs.FS, path string) *Ledger {
	return &Ledger{FS: fs, Path: path}
}

func escape(s string) string   { return strings.ReplaceAll(s, " ", `\040`) }
func unescape(s string) string { return strings.ReplaceAll(s, `\040`, " ") }

func (l *Ledger) Read() (schema.MountTable, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

func (l *Ledger) read() (schema.MountTable, error) {
	data, err := l.FS.ReadFile(l.Path)
	if err != nil {
		if utils.IsNotExist(err) {
			return schema.MountTable{}, nil
		}
		return nil, err
	}
	table := schema.MountTable{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m, err := fstab.ParseLine(line)
		if err != nil {
			utils.Log.Warn().Err(err).Str("line", line).Msg("Skipping malformed mount ledger line")
			continue
		}
		m.Spec = unescape(m.Spec)
		m.File = unescape(m.File)
		table = append(table, m)
	}
	return table, nil
}

func (l *Ledger) write(table schema.MountTable) error {
	var sb strings.Builder
	sb.WriteString("# image mounts owned by masterbooter\n")
	for _, m := range table {
		line := *m
		line.Spec = escape(m.Spec)
		line.File = escape(m.File)
		sb.WriteString(line.String())
		sb.WriteString("\n")
	}
	if err := utils.CreateIfNotExists(l.FS, filepath.Dir(l.Path)); err != nil {
		return err
	}
	return l.FS.WriteFile(l.Path, []byte(sb.String()), 0o644)
}

// Add records spec as mounted, replacing any older entry for the same directory.
func (l *Ledger) Add(spec MountSpec) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	table, err := l.read()
	if err != nil {
		return err
	}
	table = append(table.Without(spec.Dir), &fstab.Mount{
		Spec:    spec.Image,
		File:    spec.Dir,
		VfsType: "wim",
		MntOps: map[string]string{
			"index": strconv.Itoa(spec.Index),
			"pid":   strconv.Itoa(os.Getpid()),
		},
	})
	return l.write(table)
}

func (l *Ledger) Remove(dir string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	table, err := l.read()
	if err != nil {
		return err
	}
	if _, ok := table.Find(dir); !ok {
		return nil
	}
	return l.write(table.Without(dir))
}
