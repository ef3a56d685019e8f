package build

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	cnst "github.com/masterbooter/masterbooter/internal/constants"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/internal/version"
	"github.com/masterbooter/masterbooter/pkg/components"
	"github.com/masterbooter/masterbooter/pkg/host"
	"github.com/masterbooter/masterbooter/pkg/image"
	"github.com/masterbooter/masterbooter/pkg/inject"
	"github.com/masterbooter/masterbooter/pkg/media"
	"github.com/masterbooter/masterbooter/pkg/schema"
	"github.com/masterbooter/masterbooter/pkg/store"
	"github.com/masterbooter/masterbooter/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/spectrocloud-labs/herd"
	"github.com/twpayne/go-vfs/v4"
)

// Builder runs builds. Everything it talks to is injected, nothing is read from globals.
type Builder struct {
	FS       vfs.FS
	Runner   utils.Runner
	Imager   image.Imager
	Registry *image.Registry
	Tool     media.Tool
	Store    store.Store
	Catalog  *components.Catalog
	Logger   zerolog.Logger
	Observer Observer

	SecureBoot func() bool
	FreeSpace  func(path string) (uint64, error)
	LookPath   func(name string) (string, bool)
	Verify     func(fs vfs.FS, path string) (media.VerificationReport, error)
	Now        func() time.Time
}

// NewBuilder wires the real backends named in cfg.
func NewBuilder(fs vfs.FS, runner utils.Runner, cfg Config, st store.Store, logger zerolog.Logger) (*Builder, error) {
	im, err := image.ByName(cfg.Imager, runner)
	if err != nil {
		return nil, err
	}
	tool, err := media.ToolByName(cfg.MediaTool, cfg.MediaToolPath)
	if err != nil {
		return nil, err
	}
	ledger := image.NewLedger(fs, filepath.Join(cfg.WorkDir, cnst.LedgerName))
	return &Builder{
		FS:         fs,
		Runner:     runner,
		Imager:     im,
		Registry:   image.NewRegistry(fs, ledger, logger),
		Tool:       tool,
		Store:      st,
		Catalog:    components.Default(),
		Logger:     logger,
		SecureBoot: host.SecureBootEnabled,
		FreeSpace:  utils.FreeBytes,
		LookPath:   utils.LookPath,
		Verify:     media.Verify,
		Now:        time.Now,
	}, nil
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// run is the state of one build. It lives for a single call of Run.
type run struct {
	b      *Builder
	cfg    Config
	bc     *Context
	report *Report
	log    zerolog.Logger

	src        media.Source
	bootWim    string
	handle     *image.Handle
	install    *image.Handle
	sourceWin  string
	sourceErr  error
	injection  inject.Report
	assembling bool

	aborted    bool
	cancelled  bool
	unverified bool
	failure    error
	cancelErr  error
	verifyErr  error
}

type stageFunc func(ctx context.Context) (string, error)

// errNotRequested is returned by a stage with nothing to do for this build.
var errNotRequested = errors.New("not requested")

// Run builds the media described by cfg. The report is never nil; the error is set for
// every status but succeeded.
func (b *Builder) Run(ctx context.Context, cfg Config) (*Report, error) {
	id := uuid.Must(uuid.NewV4()).String()
	r := &run{
		b:      b,
		cfg:    cfg,
		report: newReport(id, cfg.Output, b.now()),
		log:    b.Logger.With().Str("build", id).Logger(),
	}

	if err := b.Store.Load(); err != nil {
		r.warn("could not read state: %v", err)
	}
	if last, ok := b.Store.Get(store.KeyLastBuildID); ok {
		status, _ := b.Store.Get(store.KeyLastBuildStatus)
		when, _ := b.Store.Get(store.KeyLastBuildTime)
		r.log.Info().Str("id", last).Str("status", status).Str("time", when).Msg("Last build")
	}

	toolList, err := b.tools(cfg)
	if err != nil {
		return r.reject(err)
	}
	bc, err := NewContext(id, cfg, b.Catalog, toolList)
	if err != nil {
		return r.reject(err)
	}
	r.bc = bc
	r.report.Components = bc.Resolution.IDs()
	for _, auto := range bc.Resolution.AutoIncluded {
		r.log.Info().Str("component", auto).Msg("Included as dependency")
	}
	for _, off := range bc.Resolution.CascadeDisabled {
		r.warn("component %s disabled, a dependency is excluded", off)
	}

	if !cfg.SkipPreflight {
		if err = b.Preflight(ctx, cfg, bc); err != nil {
			return r.reject(err)
		}
	}

	g := herd.DAG()
	if err = r.register(g); err != nil {
		return r.reject(err)
	}
	r.log.Debug().Msg(WriteDAG(g))

	r.log.Info().Str("source", bc.Source).Str("output", bc.Output).Msg("Starting build")
	if err = g.Run(ctx); err != nil {
		r.log.Debug().Err(err).Msg("Graph finished with errors")
	}
	r.log.Debug().Msg(WriteDAG(g))
	return r.finish(ctx)
}

func (b *Builder) tools(cfg Config) ([]tools.Tool, error) {
	if cfg.ToolsDir == "" {
		return nil, nil
	}
	list, err := tools.Discover(b.FS, cfg.ToolsDir, b.Logger)
	if err != nil {
		return nil, schema.NewConfigError("tools", err)
	}
	if b.Store != nil {
		list = tools.ApplySelection(list, b.Store)
	}
	return list, nil
}

// reject ends a build that never started: nothing was touched, so nothing is cleaned up or recorded.
func (r *run) reject(err error) (*Report, error) {
	r.log.Err(err).Msg("Build rejected")
	for i := range r.report.Stages {
		r.report.Stages[i].Status = StageSkipped
	}
	r.report.Status = StatusFailed
	r.report.Err = err
	r.report.Finished = r.b.now()
	return r.report, err
}

// register chains the stages, each one depending on the previous one.
func (r *run) register(g *herd.Graph) error {
	funcs := map[string]stageFunc{
		cnst.OpDetectSource:    r.detectSource,
		cnst.OpMountImage:      r.mountImage,
		cnst.OpInstallPackages: r.installPackages,
		cnst.OpApplyFixes:      r.applyFixes,
		cnst.OpInjectDrivers:   r.injectDrivers,
		cnst.OpInjectNetwork:   r.injectNetwork,
		cnst.OpPlaceTools:      r.placeTools,
		cnst.OpConfigureShell:  r.configureShell,
		cnst.OpCommitImage:     r.commitImage,
		cnst.OpExportImage:     r.exportImage,
		cnst.OpAssembleMedia:   r.assembleMedia,
		cnst.OpVerifyMedia:     r.verifyMedia,
	}
	prev := ""
	for _, s := range Stages {
		opts := []herd.OpOption{herd.WithCallback(r.wrap(s, funcs[s.Op]))}
		if prev != "" {
			opts = append(opts, herd.WithDeps(prev))
		}
		if err := g.Add(s.Op, opts...); err != nil {
			return err
		}
		prev = s.Op
	}
	return nil
}

func (r *run) emit(op string, status StageStatus, msg string) {
	ev := Event{Stage: op, Index: stageIndex(op) + 1, Total: len(Stages), Status: status, Message: msg}
	l := r.log.Info()
	if status == StageFailed {
		l = r.log.Error()
	} else if status == StageWarning {
		l = r.log.Warn()
	}
	l.Str("stage", op).Int("index", ev.Index).Int("total", ev.Total).Str("status", string(status)).Str("message", msg).Msg("Stage")
	if r.b.Observer != nil {
		r.b.Observer(ev)
	}
}

func (r *run) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.log.Warn().Msg(msg)
	r.report.Warnings = append(r.report.Warnings, msg)
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// wrap applies the stage class to the outcome of fn. Only mandatory failures and
// cancellation are returned to the graph. Cancellation is only honoured between stages,
// a stage that started runs to its end.
func (r *run) wrap(s Stage, fn stageFunc) func(context.Context) error {
	return func(ctx context.Context) error {
		res := r.report.stage(s.Op)
		if r.aborted {
			res.Status = StageSkipped
			return nil
		}
		if err := ctx.Err(); err != nil {
			r.cancel(err)
			res.Status = StageSkipped
			return err
		}

		r.emit(s.Op, StageStarted, "")
		msg, err := fn(context.WithoutCancel(ctx))
		res.Message = msg
		res.Err = err
		switch {
		case err == nil:
			res.Status = StageSucceeded
			r.emit(s.Op, StageSucceeded, msg)
			return nil
		case errors.Is(err, errNotRequested):
			res.Status = StageSkipped
			res.Err = nil
			r.emit(s.Op, StageSkipped, msg)
			return nil
		case isCancellation(ctx, err):
			res.Status = StageFailed
			r.cancel(err)
			r.emit(s.Op, StageFailed, err.Error())
			return err
		case s.Class == Optional:
			res.Status = StageWarning
			r.warn("%s: %v", s.Op, err)
			r.emit(s.Op, StageWarning, err.Error())
			return nil
		case s.Class == Verification:
			res.Status = StageFailed
			r.unverified = true
			r.verifyErr = err
			r.emit(s.Op, StageFailed, err.Error())
			return nil
		default:
			res.Status = StageFailed
			r.aborted = true
			r.failure = fmt.Errorf("%s: %w", s.Op, err)
			r.emit(s.Op, StageFailed, err.Error())
			return err
		}
	}
}

func (r *run) cancel(err error) {
	if !r.cancelled {
		r.log.Warn().Err(err).Msg("Build cancelled")
	}
	r.aborted = true
	r.cancelled = true
	if r.cancelErr == nil {
		r.cancelErr = err
	}
}

// finish releases every mount, removes what a failed build left and records the outcome.
func (r *run) finish(ctx context.Context) (*Report, error) {
	cleanupCtx := context.WithoutCancel(ctx)
	var errs error
	for _, h := range []*image.Handle{r.handle, r.install} {
		if h == nil {
			continue
		}
		if err := h.Discard(cleanupCtx); err != nil {
			errs = multierror.Append(errs, err)
		}
		if h.State() == image.StateCleanupRequired {
			r.report.CleanupRequired = true
		}
	}
	r.LogIfError(errs, "Releasing mounts")
	if errs != nil && errors.Is(errs, schema.ErrManualCleanup) {
		r.report.CleanupRequired = true
	}

	switch {
	case r.cancelled:
		r.report.Status = StatusCancelled
		r.report.Err = fmt.Errorf("build cancelled: %w", r.cancelErr)
	case r.failure != nil:
		r.report.Status = StatusFailed
		r.report.Err = r.failure
	case r.unverified:
		r.report.Status = StatusBuiltUnverified
		r.report.Err = r.verifyErr
	default:
		r.report.Status = StatusSucceeded
	}

	if r.report.Status == StatusFailed || r.report.Status == StatusCancelled {
		if r.assembling {
			media.Assembler{FS: r.b.FS, Logger: r.log}.RemovePartial(r.bc.Output)
		}
	}
	r.removeWorkDirs()

	for i := range r.report.Stages {
		if r.report.Stages[i].Status == "" {
			r.report.Stages[i].Status = StageSkipped
		}
	}
	if err := r.injection.Finish(); err != nil {
		r.log.Debug().Err(err).Msg("Injection warnings")
	}
	r.report.Injection = &r.injection
	r.report.Finished = r.b.now()
	r.record()

	l := r.log.Info()
	if r.report.Err != nil {
		l = r.log.Error().Err(r.report.Err)
	}
	l.Str("status", string(r.report.Status)).Dur("took", r.report.Finished.Sub(r.report.Started)).Msg("Build finished")
	return r.report, r.report.Err
}

func (r *run) removeWorkDirs() {
	if r.cfg.KeepWorkDir {
		return
	}
	if r.report.CleanupRequired {
		r.log.Warn().Str("workdir", r.cfg.WorkDir).Msg("Keeping work dir, a mount needs manual cleanup")
		return
	}
	var errs error
	for _, dir := range []string{r.cfg.MediaDir(), r.cfg.installDir(), r.cfg.extractDir(), r.cfg.MountDir()} {
		if err := r.b.FS.RemoveAll(dir); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	r.LogIfError(errs, "Removing work dirs")
}

// record writes the build metadata and the tool selection to the store.
func (r *run) record() {
	s := r.b.Store
	s.Set(store.KeyLastBuildID, r.report.ID)
	s.Set(store.KeyLastBuildTime, r.report.Finished.UTC().Format(time.RFC3339))
	s.Set(store.KeyLastBuildStatus, string(r.report.Status))
	if r.report.Status == StatusSucceeded || r.report.Status == StatusBuiltUnverified {
		s.Set(store.KeyLastBuildOutput, r.report.Output)
	}
	s.Set(store.KeyVersion, version.GetVersion())
	tools.SaveSelection(r.bc.Tools, s)
	if err := s.Save(); err != nil {
		r.warn("could not save state: %v", err)
	}
}

// LogIfError will log if there is an error with the given context as message.
func (r *run) LogIfError(e error, msgContext string) {
	if e != nil {
		r.log.Err(e).Msg(msgContext)
	}
}

// LogIfErrorAndReturn logs like LogIfError and hands the error back.
func (r *run) LogIfErrorAndReturn(e error, msgContext string) error {
	r.LogIfError(e, msgContext)
	return e
}
