package utils

import (
	"errors"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/twpayne/go-vfs/v4"
)

// UniqueSlice removes duplicated entries from a slice, keeping the first occurrence.
func UniqueSlice(slice []string) []string {
	keys := make(map[string]bool)
	var list []string
	for _, entry := range slice {
		if _, value := keys[entry]; !value {
			keys[entry] = true
			list = append(list, entry)
		}
	}
	return list
}

// CleanupSlice will clean a slice of strings of empty items
// Typos can be made on writing the build config and cause empty items to show up, so we need to check for them
func CleanupSlice(slice []string) []string {
	var cleanSlice []string
	for _, item := range slice {
		if strings.TrimSpace(item) == "" {
			continue
		}
		cleanSlice = append(cleanSlice, strings.TrimSpace(item))
	}
	return cleanSlice
}

// ReadEnv will read an env file (key=value) and return a nice map.
func ReadEnv(fs vfs.FS, file string) (map[string]string, error) {
	f, err := fs.OpenFile(file, os.O_RDONLY, 0)
	if err != nil {
		return map[string]string{}, err
	}
	defer f.Close()

	envMap, err := godotenv.Parse(f)
	if err != nil {
		return envMap, err
	}

	return envMap, err
}

// Exists reports whether path exists on fs.
func Exists(fs vfs.FS, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// IsDir reports whether path exists on fs and is a directory.
func IsDir(fs vfs.FS, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && info.IsDir()
}

// CreateIfNotExists creates every directory on path.
func CreateIfNotExists(fs vfs.FS, path string) error {
	if IsDir(fs, path) {
		return nil
	}
	return vfs.MkdirAll(fs, path, 0o755)
}

// CopyFile copies src to dst, creating the parent directory of dst.
func CopyFile(fs vfs.FS, src, dst string) error {
	in, err := fs.OpenFile(src, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer in.Close()

	if err = CreateIfNotExists(fs, filepath.Dir(dst)); err != nil {
		return err
	}
	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// CopyTree copies every regular file under src into dst, keeping the relative layout.
// It returns the number of files copied.
func CopyTree(fs vfs.FS, src, dst string) (int, error) {
	copied := 0
	err := WalkFiles(fs, src, func(path string, _ iofs.FileInfo) error {
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if err = CopyFile(fs, path, filepath.Join(dst, rel)); err != nil {
			return err
		}
		copied++
		return nil
	})
	return copied, err
}

// WalkFiles calls fn for every regular file under root, in lexical order.
func WalkFiles(fs vfs.FS, root string, fn func(path string, info iofs.FileInfo) error) error {
	entries, err := fs.ReadDir(root)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		path := filepath.Join(root, e.Name())
		if e.IsDir() {
			if err = WalkFiles(fs, path, fn); err != nil {
				return err
			}
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if err = fn(path, info); err != nil {
			return err
		}
	}
	return nil
}

// FindFold looks for name inside dir ignoring case and returns the real path.
func FindFold(fs vfs.FS, dir, name string) (string, bool) {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name(), name) {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}

// ResolveFold walks a relative slash separated path under root matching each element case-insensitively.
func ResolveFold(fs vfs.FS, root, rel string) (string, bool) {
	current := root
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "" {
			continue
		}
		next, ok := FindFold(fs, current, part)
		if !ok {
			return "", false
		}
		current = next
	}
	return current, true
}

// IsNotExist reports whether err means the path is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, iofs.ErrNotExist)
}
