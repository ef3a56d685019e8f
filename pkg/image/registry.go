package image

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/rs/zerolog"
	"github.com/twpayne/go-vfs/v4"
)

// Registry hands out mount handles. A directory is owned by at most one handle in this
// process (live map) and across processes (a non blocking flock on <dir>.lock).
type Registry struct {
	FS     vfs.FS
	Ledger *Ledger
	Logger zerolog.Logger

	// UnmountAttempts and UnmountDelay tune the retries of the final unmount.
	UnmountAttempts uint
	UnmountDelay    time.Duration

	mu   sync.Mutex
	live map[string]*Handle
}

func NewRegistry(fs vfs.FS, ledger *Ledger, logger zerolog.Logger) *Registry {
	return &Registry{
		FS:              fs,
		Ledger:          ledger,
		Logger:          logger,
		UnmountAttempts: 3,
		UnmountDelay:    2 * time.Second,
		live:            map[string]*Handle{},
	}
}

// Live reports whether a handle currently owns dir.
func (r *Registry) Live(dir string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[filepath.Clean(dir)]
	return ok
}

func (r *Registry) reserve(dir string, h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[dir]; ok {
		return schema.NewConflictError(dir, schema.ErrMountConflict)
	}
	r.live[dir] = h
	return nil
}

func (r *Registry) forget(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, dir)
}

// Acquire mounts spec.Image at spec.Dir and returns the handle owning it.
// A directory left mounted by a crashed run is force-cleared first, a directory owned
// by a live handle fails right away with ErrMountConflict.
func (r *Registry) Acquire(ctx context.Context, im Imager, spec MountSpec) (_ *Handle, err error) {
	spec.Dir = filepath.Clean(spec.Dir)
	h := &Handle{
		spec:     spec,
		imager:   im,
		registry: r,
		state:    StateUnmounted,
		log:      r.Logger.With().Str("dir", spec.Dir).Logger(),
	}
	if err = r.reserve(spec.Dir, h); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			h.releaseLock()
			r.forget(spec.Dir)
		}
	}()

	if err = utils.CreateIfNotExists(r.FS, filepath.Dir(spec.Dir)); err != nil {
		return nil, err
	}
	rawDir, err := r.FS.RawPath(spec.Dir)
	if err != nil {
		return nil, err
	}
	h.lock = flock.New(rawDir + ".lock")
	locked, err := h.lock.TryLock()
	if err != nil {
		return nil, schema.NewConflictError(spec.Dir, fmt.Errorf("%w: %v", schema.ErrMountConflict, err))
	}
	if !locked {
		h.lock = nil
		return nil, schema.NewConflictError(spec.Dir, fmt.Errorf("%w: locked by another process", schema.ErrMountConflict))
	}

	if err = r.clearStale(ctx, h); err != nil {
		return nil, err
	}

	if err = utils.CreateIfNotExists(r.FS, spec.Dir); err != nil {
		return nil, err
	}
	h.log.Info().Str("image", spec.Image).Int("index", spec.Index).Bool("read_only", spec.ReadOnly).Str("imager", im.Name()).Msg("Mounting image")
	if err = im.Mount(ctx, spec); err != nil {
		h.log.Err(err).Msg("Mounting image")
		// a failed mount can leave half registered metadata behind
		if cerr := im.Cleanup(context.WithoutCancel(ctx)); cerr != nil {
			h.log.Warn().Err(cerr).Msg("Cleaning up after failed mount")
		}
		return nil, err
	}
	if lerr := r.Ledger.Add(spec); lerr != nil {
		h.log.Warn().Err(lerr).Msg("Recording mount in ledger")
	}
	h.state = StateMounted
	return h, nil
}

func (r *Registry) clearStale(ctx context.Context, h *Handle) error {
	dir := h.spec.Dir
	table, err := r.Ledger.Read()
	if err != nil {
		h.log.Warn().Err(err).Msg("Reading mount ledger")
	}
	_, inLedger := table.Find(dir)
	mounted, err := h.imager.Mounted(ctx, dir)
	if err != nil {
		h.log.Warn().Err(err).Msg("Querying mounted images")
	}
	if !inLedger && !mounted {
		return nil
	}

	h.recovered = true
	h.log.Warn().Err(schema.ErrStaleMountDetected).Bool("ledger", inLedger).Bool("mounted", mounted).Msg("Clearing stale mount")
	if uerr := h.imager.Unmount(ctx, dir, false); uerr != nil && mounted {
		h.log.Warn().Err(uerr).Msg("Discarding stale mount")
	}
	if cerr := h.imager.Cleanup(ctx); cerr != nil {
		h.log.Warn().Err(cerr).Msg("Cleaning up stale mount metadata")
	}
	if lerr := r.Ledger.Remove(dir); lerr != nil {
		h.log.Warn().Err(lerr).Msg("Removing stale ledger entry")
	}

	still, err := h.imager.Mounted(ctx, dir)
	if err == nil && still {
		err = errors.New("still mounted after cleanup")
	}
	if err != nil {
		return schema.NewConflictError(dir, fmt.Errorf("%w: %v", schema.ErrStaleMountDetected, err))
	}
	h.log.Info().Msg("Stale mount cleared")
	return nil
}

// Sweep discards every mount the ledger still lists and drops the imaging tool's orphaned
// metadata. Directories owned by a live handle are left alone. It returns the directories released.
func (r *Registry) Sweep(ctx context.Context, im Imager) ([]string, error) {
	table, err := r.Ledger.Read()
	if err != nil {
		return nil, err
	}
	var released []string
	var errs error
	for _, m := range table {
		if r.Live(m.File) {
			continue
		}
		r.Logger.Info().Str("dir", m.File).Str("image", m.Spec).Msg("Discarding leftover mount")
		if uerr := im.Unmount(ctx, m.File, false); uerr != nil {
			if mounted, _ := im.Mounted(ctx, m.File); mounted {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", m.File, uerr))
				continue
			}
		}
		if lerr := r.Ledger.Remove(m.File); lerr != nil {
			errs = multierror.Append(errs, lerr)
			continue
		}
		released = append(released, m.File)
	}
	if cerr := im.Cleanup(ctx); cerr != nil {
		errs = multierror.Append(errs, cerr)
	}
	return released, errs
}
