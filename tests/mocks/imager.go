package mocks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/image"
	"github.com/twpayne/go-vfs/v4"
)

// FakeImager mounts "images" on a vfs. An image file is a flat archive of path/content
// records; mounting extracts it, committing writes the tree back, discarding only removes it.
type FakeImager struct {
	FS vfs.FS

	MountErr error
	// UnmountFailures makes that many unmount calls fail before they start succeeding.
	UnmountFailures int
	// CommitErr fails every commit, discards still work.
	CommitErr error
	// RejectDrivers lists driver directory base names AddDriver refuses.
	RejectDrivers map[string]bool
	PackageErrs   map[string]error
	// Stale marks directories as mounted without anyone having mounted them.
	Stale map[string]bool
	ExportErr error
	// BeforeUnmount runs at the start of every unmount call.
	BeforeUnmount func(dir string, commit bool)

	mu       sync.Mutex
	mounted  map[string]string
	packages map[string][]string
	Calls    []string
}

func NewFakeImager(fs vfs.FS) *FakeImager {
	return &FakeImager{
		FS:            fs,
		RejectDrivers: map[string]bool{},
		PackageErrs:   map[string]error{},
		Stale:         map[string]bool{},
		mounted:       map[string]string{},
		packages:      map[string][]string{},
	}
}

func (f *FakeImager) Name() string { return "fake" }

func (f *FakeImager) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
}

// Called reports whether a call starting with prefix was recorded.
func (f *FakeImager) Called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// Mount and Unmount give up on a cancelled context like a real tool run through ExecRunner.
func (f *FakeImager) Mount(ctx context.Context, spec image.MountSpec) error {
	call := fmt.Sprintf("mount %s %d %s", spec.Image, spec.Index, spec.Dir)
	if spec.ReadOnly {
		call += " read-only"
	}
	f.record(call)
	if f.MountErr != nil {
		return f.MountErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	img, dir := spec.Image, spec.Dir
	data, err := f.FS.ReadFile(img)
	if err != nil {
		return err
	}
	files, err := DecodeImage(data)
	if err != nil {
		return err
	}
	for rel, content := range files {
		p := filepath.Join(dir, rel)
		if err := vfs.MkdirAll(f.FS, filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := f.FS.WriteFile(p, content, 0o644); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.mounted[dir] = img
	f.mu.Unlock()
	return nil
}

func (f *FakeImager) Unmount(ctx context.Context, dir string, commit bool) error {
	f.record(fmt.Sprintf("unmount %s commit=%t", dir, commit))
	if f.BeforeUnmount != nil {
		f.BeforeUnmount(dir, commit)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if f.UnmountFailures > 0 {
		f.UnmountFailures--
		f.mu.Unlock()
		return errors.New("unmount failed")
	}
	img, ok := f.mounted[dir]
	stale := f.Stale[dir]
	f.mu.Unlock()
	if stale {
		f.mu.Lock()
		delete(f.Stale, dir)
		f.mu.Unlock()
		return f.clearDir(dir)
	}
	if !ok {
		return fmt.Errorf("%s is not mounted", dir)
	}
	if commit {
		if f.CommitErr != nil {
			return f.CommitErr
		}
		files := map[string][]byte{}
		err := utils.WalkFiles(f.FS, dir, func(path string, _ fs.FileInfo) error {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			content, err := f.FS.ReadFile(path)
			files[filepath.ToSlash(rel)] = content
			return err
		})
		if err != nil {
			return err
		}
		if err := f.FS.WriteFile(img, EncodeImage(files), 0o644); err != nil {
			return err
		}
	}
	f.mu.Lock()
	delete(f.mounted, dir)
	f.mu.Unlock()
	return f.clearDir(dir)
}

func (f *FakeImager) clearDir(dir string) error {
	if err := f.FS.RemoveAll(dir); err != nil {
		return err
	}
	return vfs.MkdirAll(f.FS, dir, 0o755)
}

func (f *FakeImager) Mounted(_ context.Context, dir string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.mounted[dir]
	return ok || f.Stale[dir], nil
}

func (f *FakeImager) Cleanup(_ context.Context) error {
	f.record("cleanup")
	return nil
}

func (f *FakeImager) AddPackage(_ context.Context, dir, cab string) error {
	f.record("add-package " + cab)
	if err, ok := f.PackageErrs[filepath.Base(cab)]; ok {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packages[dir] = append(f.packages[dir], filepath.Base(cab))
	return nil
}

func (f *FakeImager) AddDriver(_ context.Context, _, driver string) (int, error) {
	f.record("add-driver " + driver)
	if f.RejectDrivers[filepath.Base(driver)] {
		return 0, fmt.Errorf("driver %s rejected", driver)
	}
	return 1, nil
}

func (f *FakeImager) Packages(_ context.Context, dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.packages[dir]...), nil
}

// Export copies the image, fake images only ever hold one index.
func (f *FakeImager) Export(_ context.Context, img string, index int, dst string) error {
	f.record(fmt.Sprintf("export %s %d %s", img, index, dst))
	if f.ExportErr != nil {
		return f.ExportErr
	}
	return utils.CopyFile(f.FS, img, dst)
}

// EncodeImage serializes files deterministically.
func EncodeImage(files map[string][]byte) []byte {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	var b bytes.Buffer
	for _, n := range names {
		fmt.Fprintf(&b, "%s\x00%d\x00", n, len(files[n]))
		b.Write(files[n])
	}
	return b.Bytes()
}

func DecodeImage(data []byte) (map[string][]byte, error) {
	files := map[string][]byte{}
	for len(data) > 0 {
		parts := bytes.SplitN(data, []byte{0}, 3)
		if len(parts) != 3 {
			return nil, errors.New("corrupted fake image")
		}
		var size int
		if _, err := fmt.Sscanf(string(parts[1]), "%d", &size); err != nil || size > len(parts[2]) {
			return nil, errors.New("corrupted fake image")
		}
		files[string(parts[0])] = parts[2][:size]
		data = parts[2][size:]
	}
	return files, nil
}
