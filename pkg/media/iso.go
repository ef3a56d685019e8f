package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kdomanski/iso9660"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/twpayne/go-vfs/v4"
)

// isoName undoes ISO9660 identifier decoration: the ";1" version suffix and the
// trailing dot of extensionless names.
func isoName(name string) string {
	if i := strings.IndexByte(name, ';'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

func openISO(fs vfs.FS, path string) (*os.File, *iso9660.File, error) {
	f, err := fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, nil, err
	}
	img, err := iso9660.OpenImage(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("open iso %s: %w", path, err)
	}
	root, err := img.RootDir()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("iso %s root: %w", path, err)
	}
	return f, root, nil
}

func isoChild(dir *iso9660.File, name string) (*iso9660.File, bool) {
	if dir == nil || !dir.IsDir() {
		return nil, false
	}
	children, err := dir.GetChildren()
	if err != nil {
		return nil, false
	}
	for _, c := range children {
		if strings.EqualFold(isoName(c.Name()), name) {
			return c, true
		}
	}
	return nil, false
}

// isoLookup resolves a slash separated path below root ignoring case.
func isoLookup(root *iso9660.File, rel string) (*iso9660.File, bool) {
	current := root
	for _, part := range strings.Split(rel, "/") {
		if part == "" {
			continue
		}
		next, ok := isoChild(current, part)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// extractISO copies entry, a file or a whole directory, to dst. Names are written lowercase.
func extractISO(fs vfs.FS, entry *iso9660.File, dst string) (int, error) {
	if !entry.IsDir() {
		if err := utils.CreateIfNotExists(fs, filepath.Dir(dst)); err != nil {
			return 0, err
		}
		out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, err
		}
		if _, err = io.Copy(out, entry.Reader()); err != nil {
			_ = out.Close()
			return 0, err
		}
		return 1, out.Close()
	}
	if err := utils.CreateIfNotExists(fs, dst); err != nil {
		return 0, err
	}
	children, err := entry.GetChildren()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range children {
		n, err := extractISO(fs, c, filepath.Join(dst, isoName(c.Name())))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
