package schema

import "github.com/deniswernert/go-fstab"

// MountTable is the parsed content of the mount ledger, one fstab line per live image mount.
// Spec is the image file, File is the mount directory and MntOps carries index and owner.
type MountTable []*fstab.Mount

// Find returns the ledger entry for the given mount directory.
func (t MountTable) Find(dir string) (*fstab.Mount, bool) {
	for _, m := range t {
		if m.File == dir {
			return m, true
		}
	}
	return nil, false
}

// Without returns a copy of the table without any entry for dir.
func (t MountTable) Without(dir string) MountTable {
	out := MountTable{}
	for _, m := range t {
		if m.File != dir {
			out = append(out, m)
		}
	}
	return out
}
