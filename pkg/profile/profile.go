package profile

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/unattend"
	"github.com/twpayne/go-vfs/v4"
	"gopkg.in/yaml.v3"
)

const ext = ".yaml"

var ErrNotFound = errors.New("profile not found")

// Store keeps named deployment profiles as YAML files under Dir.
// Profiles capture intent, so the session fields never reach disk.
type Store struct {
	FS  vfs.FS
	Dir string
}

// Sanitize keeps letters, digits, spaces, dashes and underscores.
func Sanitize(name string) string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			return r
		}
		return -1
	}, name)
	return strings.TrimSpace(clean)
}

func (s Store) path(name string) (string, error) {
	clean := Sanitize(name)
	if clean == "" {
		return "", fmt.Errorf("invalid profile name %q", name)
	}
	return filepath.Join(s.Dir, clean+ext), nil
}

// Save writes cfg under name, returning the sanitized name.
func (s Store) Save(name string, cfg unattend.Config) (string, error) {
	p, err := s.path(name)
	if err != nil {
		return "", err
	}
	out, err := yaml.Marshal(cfg.WithoutSession())
	if err != nil {
		return "", err
	}
	if err = utils.CreateIfNotExists(s.FS, s.Dir); err != nil {
		return "", err
	}
	if err = s.FS.WriteFile(p, out, 0o644); err != nil {
		return "", err
	}
	return Sanitize(name), nil
}

// Load reads a profile. Fields missing from the file keep their defaults.
func (s Store) Load(name string) (unattend.Config, error) {
	p, err := s.path(name)
	if err != nil {
		return unattend.Config{}, err
	}
	cfg, err := LoadFile(s.FS, p)
	if utils.IsNotExist(err) {
		return unattend.Config{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return cfg, err
}

// LoadFile imports a profile from an arbitrary path.
func LoadFile(fs vfs.FS, path string) (unattend.Config, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return unattend.Config{}, err
	}
	cfg := unattend.DefaultConfig()
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return unattend.Config{}, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return cfg.WithoutSession(), nil
}

// List returns the stored profile names, sorted.
func (s Store) List() ([]string, error) {
	entries, err := s.FS.ReadDir(s.Dir)
	if utils.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(names)
	return names, nil
}

func (s Store) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err = s.FS.Remove(p); utils.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}
