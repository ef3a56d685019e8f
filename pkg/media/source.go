package media

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/rs/zerolog"
	"github.com/twpayne/go-vfs/v4"
)

type Kind string

const (
	KindISO  Kind = "iso"
	KindTree Kind = "tree"
	KindWIM  Kind = "wim"
)

// BootWim is the boot image path inside a media tree.
const BootWim = "sources/boot.wim"

// bootItems are what a bootable media tree needs from the source, relative to its root.
var bootItems = []string{"bootmgr", "bootmgr.efi", "boot", "efi", BootWim}

var installImages = []string{"sources/install.wim", "sources/install.esd"}

// Source is where the boot image and boot files come from.
type Source struct {
	Path string
	Kind Kind
}

// DetectSource classifies path as an ISO file, an extracted media tree or a bare WIM.
func DetectSource(fs vfs.FS, path string) (Source, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return Source{}, schema.NewConfigError("detect-source", err)
	}
	if info.IsDir() {
		if _, ok := utils.ResolveFold(fs, path, BootWim); !ok {
			return Source{}, schema.NewConfigError("detect-source", fmt.Errorf("%s has no %s", path, BootWim))
		}
		return Source{Path: path, Kind: KindTree}, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".iso":
		return Source{Path: path, Kind: KindISO}, nil
	case ".wim":
		return Source{Path: path, Kind: KindWIM}, nil
	}
	return Source{}, schema.NewConfigError("detect-source", fmt.Errorf("%s is neither an ISO, a WIM nor a media directory", path))
}

// Stager lays out a media tree from a Source.
type Stager struct {
	FS vfs.FS
	// ADKMedia is the WinPE Media directory of the ADK, the base tree for bare WIM sources.
	ADKMedia string
	Logger   zerolog.Logger
}

// Stage fills mediaDir with the boot files of src and returns the path of the staged boot image.
func (s Stager) Stage(ctx context.Context, src Source, mediaDir string) (string, error) {
	if err := utils.CreateIfNotExists(s.FS, mediaDir); err != nil {
		return "", err
	}
	var (
		files int
		err   error
	)
	switch src.Kind {
	case KindISO:
		files, err = s.stageISO(src.Path, mediaDir)
	case KindTree:
		files, err = s.stageTree(src.Path, mediaDir)
	case KindWIM:
		files, err = s.stageWIM(src.Path, mediaDir)
	default:
		err = fmt.Errorf("unknown source kind %q", src.Kind)
	}
	if err != nil {
		return "", err
	}
	if err = ctx.Err(); err != nil {
		return "", err
	}
	wim, ok := utils.ResolveFold(s.FS, mediaDir, BootWim)
	if !ok {
		return "", fmt.Errorf("staged media has no %s", BootWim)
	}
	s.Logger.Info().Str("source", src.Path).Str("kind", string(src.Kind)).Int("files", files).Msg("media staged")
	return wim, nil
}

func (s Stager) stageISO(path, mediaDir string) (int, error) {
	f, root, err := openISO(s.FS, path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	total := 0
	for _, item := range bootItems {
		entry, ok := isoLookup(root, item)
		if !ok {
			s.Logger.Debug().Str("item", item).Msg("not on source iso")
			continue
		}
		n, err := extractISO(s.FS, entry, filepath.Join(mediaDir, filepath.FromSlash(item)))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s Stager) stageTree(path, mediaDir string) (int, error) {
	total := 0
	for _, item := range bootItems {
		src, ok := utils.ResolveFold(s.FS, path, item)
		if !ok {
			continue
		}
		dst := filepath.Join(mediaDir, filepath.FromSlash(item))
		if utils.IsDir(s.FS, src) {
			n, err := utils.CopyTree(s.FS, src, dst)
			total += n
			if err != nil {
				return total, err
			}
			continue
		}
		if err := utils.CopyFile(s.FS, src, dst); err != nil {
			return total, err
		}
		total++
	}
	return total, nil
}

func (s Stager) stageWIM(path, mediaDir string) (int, error) {
	if s.ADKMedia == "" || !utils.IsDir(s.FS, s.ADKMedia) {
		return 0, schema.NewConfigError("detect-source", errors.New("a bare WIM source needs the ADK WinPE Media directory"))
	}
	n, err := utils.CopyTree(s.FS, s.ADKMedia, mediaDir)
	if err != nil {
		return n, err
	}
	return n + 1, utils.CopyFile(s.FS, path, filepath.Join(mediaDir, filepath.FromSlash(BootWim)))
}

// InstallImage returns the full install image of the source, extracting it from an ISO into
// workDir when needed. Bare WIM sources have none.
func InstallImage(fs vfs.FS, src Source, workDir string) (string, error) {
	switch src.Kind {
	case KindTree:
		for _, rel := range installImages {
			if p, ok := utils.ResolveFold(fs, src.Path, rel); ok {
				return p, nil
			}
		}
	case KindISO:
		f, root, err := openISO(fs, src.Path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		for _, rel := range installImages {
			entry, ok := isoLookup(root, rel)
			if !ok {
				continue
			}
			dst := filepath.Join(workDir, filepath.Base(rel))
			_, err = extractISO(fs, entry, dst)
			return dst, err
		}
	}
	return "", fmt.Errorf("source %s has no install image", src.Path)
}
