package image

import (
	"context"
	"errors"
	"fmt"

	"github.com/avast/retry-go"
	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/rs/zerolog"
)

type State string

const (
	StateUnmounted       State = "unmounted"
	StateMounted         State = "mounted"
	StateModified        State = "modified"
	StateCommitted       State = "committed"
	StateDiscarded       State = "discarded"
	StateCleanupRequired State = "cleanup-required"
)

var errNotMounted = errors.New("image is not mounted")

// Handle owns one mounted image directory until it is committed, discarded or closed.
type Handle struct {
	spec      MountSpec
	imager    Imager
	registry  *Registry
	lock      *flock.Flock
	state     State
	recovered bool
	steps     []StepResult
	log       zerolog.Logger
}

func (h *Handle) Dir() string    { return h.spec.Dir }
func (h *Handle) Image() string  { return h.spec.Image }
func (h *Handle) Imager() Imager { return h.imager }
func (h *Handle) State() State   { return h.state }

// Recovered reports whether a stale mount had to be cleared before this handle mounted.
func (h *Handle) Recovered() bool { return h.recovered }

// Steps returns every modification applied through this handle, in order.
func (h *Handle) Steps() []StepResult {
	return append([]StepResult{}, h.steps...)
}

func (h *Handle) live() bool {
	return h.state == StateMounted || h.state == StateModified
}

// Apply runs one modification against the mounted tree.
// The returned error is only set for mandatory steps, optional failures stay in the result.
func (h *Handle) Apply(ctx context.Context, step Step) (StepResult, error) {
	res := StepResult{Name: step.Name, Mandatory: step.Mandatory}
	if !h.live() {
		res.Err = fmt.Errorf("%s: %w", step.Name, errNotMounted)
		h.steps = append(h.steps, res)
		return res, res.Err
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		h.steps = append(h.steps, res)
		return res, err
	}
	res.Err = step.Run(ctx, h.spec.Dir)
	h.state = StateModified
	h.steps = append(h.steps, res)
	if res.Err != nil {
		if step.Mandatory {
			h.log.Err(res.Err).Str("step", step.Name).Msg("Mandatory step failed")
			return res, res.Err
		}
		h.log.Warn().Err(res.Err).Str("step", step.Name).Msg("Optional step failed")
	}
	return res, nil
}

func (h *Handle) unmount(ctx context.Context, commit bool) error {
	attempts := h.registry.UnmountAttempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		func() error { return h.imager.Unmount(ctx, h.spec.Dir, commit) },
		retry.Attempts(attempts),
		retry.Delay(h.registry.UnmountDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			h.log.Debug().Err(err).Uint("attempt", n+1).Bool("commit", commit).Msg("Retrying unmount")
		}),
	)
}

// Commit persists every modification and unmounts. When the commit fails a discard is still
// attempted so the directory is never left locked; if that fails too the handle degrades to
// StateCleanupRequired and the error wraps schema.ErrManualCleanup.
func (h *Handle) Commit(ctx context.Context) error {
	if !h.live() {
		return errNotMounted
	}
	if h.spec.ReadOnly {
		return fmt.Errorf("%s is mounted read-only", h.spec.Dir)
	}
	h.log.Info().Msg("Committing image")
	err := h.unmount(ctx, true)
	if err == nil {
		h.state = StateCommitted
		h.release()
		return nil
	}
	h.log.Err(err).Msg("Commit failed, discarding")
	if derr := h.unmount(context.WithoutCancel(ctx), false); derr != nil {
		return h.degrade(multierror.Append(err, derr))
	}
	h.state = StateDiscarded
	h.release()
	return fmt.Errorf("committing %s: %w", h.spec.Dir, err)
}

// Discard unmounts without persisting anything.
func (h *Handle) Discard(ctx context.Context) error {
	if !h.live() {
		return nil
	}
	h.log.Info().Msg("Discarding image")
	if err := h.unmount(context.WithoutCancel(ctx), false); err != nil {
		return h.degrade(err)
	}
	h.state = StateDiscarded
	h.release()
	return nil
}

// Close is the deferred release path: it discards a handle that is still mounted and does
// nothing otherwise.
func (h *Handle) Close() error {
	return h.Discard(context.Background())
}

func (h *Handle) degrade(err error) error {
	h.state = StateCleanupRequired
	h.log.Error().Err(err).Msg("Unmount failed, manual cleanup required")
	// the ledger entry stays so the next run treats the directory as stale
	h.releaseLock()
	h.registry.forget(h.spec.Dir)
	return schema.NewConflictError(h.spec.Dir, fmt.Errorf("%w: %v", schema.ErrManualCleanup, err))
}

func (h *Handle) release() {
	if err := h.registry.Ledger.Remove(h.spec.Dir); err != nil {
		h.log.Warn().Err(err).Msg("Removing ledger entry")
	}
	h.releaseLock()
	h.registry.forget(h.spec.Dir)
}

func (h *Handle) releaseLock() {
	if h.lock == nil {
		return
	}
	if err := h.lock.Unlock(); err != nil {
		h.log.Warn().Err(err).Msg("Releasing mount lock")
	}
	h.lock = nil
}
