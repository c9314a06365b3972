// Package app wires the igtsplit subsystems into one extraction pipeline.
//
// The App struct owns the lifecycle: New builds every component from the
// config, Run pushes the video through
// frames → recognizer → reconciler → detector → subtitles, and Shutdown
// releases what New acquired.
//
// For testing, inject mock implementations via functional options
// (WithSource, WithOCR, WithStore). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/igtsplit/internal/config"
	"github.com/MrWong99/igtsplit/internal/health"
	"github.com/MrWong99/igtsplit/internal/observe"
	"github.com/MrWong99/igtsplit/internal/reconcile"
	"github.com/MrWong99/igtsplit/internal/recognize"
	"github.com/MrWong99/igtsplit/internal/region"
	"github.com/MrWong99/igtsplit/internal/resilience"
	"github.com/MrWong99/igtsplit/internal/runstore"
	"github.com/MrWong99/igtsplit/internal/runstore/postgres"
	"github.com/MrWong99/igtsplit/internal/split"
	"github.com/MrWong99/igtsplit/internal/splitsfile"
	"github.com/MrWong99/igtsplit/internal/subtitle"
	"github.com/MrWong99/igtsplit/pkg/frame"
	"github.com/MrWong99/igtsplit/pkg/frame/ffmpeg"
	"github.com/MrWong99/igtsplit/pkg/frame/imagedir"
	"github.com/MrWong99/igtsplit/pkg/igt"
	"github.com/MrWong99/igtsplit/pkg/provider/ocr"
)

// Result is everything one extraction produced.
type Result struct {
	Frames    int
	Events    []split.Event
	Cues      []subtitle.Cue
	Runs      []runstore.Run
	Reconcile reconcile.Stats
	Detector  split.Stats

	// Engines holds the failover counters when more than one OCR engine is
	// configured.
	Engines []resilience.EntryStats

	// PersonalBest reports whether the splits file was rewritten.
	PersonalBest bool
}

// App owns all subsystem lifetimes of one extraction.
type App struct {
	cfg      *config.Config
	video    string
	registry *config.Registry

	grammar  igt.Grammar
	interval time.Duration
	timer    *region.Extractor
	marker   *region.Extractor
	policy   split.Policy

	// Subsystems, initialised in New and torn down in Shutdown.
	source    frame.Source
	engine    ocr.Provider
	fallback  *resilience.OCRFallback
	store     runstore.Store
	splits    *splitsfile.File
	metrics   *observe.Metrics
	progress  *health.Progress
	framesDir string

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a frame source instead of decoding the video.
func WithSource(s frame.Source) Option {
	return func(a *App) { a.source = s }
}

// WithOCR injects an OCR engine instead of creating the configured ones.
func WithOCR(p ocr.Provider) Option {
	return func(a *App) { a.engine = p }
}

// WithStore injects a run store instead of creating one from config.
func WithStore(s runstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRegistry sets the registry the configured OCR engines are created from.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics overrides the metrics sink (default observe.DefaultMetrics()).
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithProgress reports pipeline progress into p, usually the one served on
// /progress.
func WithProgress(p *health.Progress) Option {
	return func(a *App) { a.progress = p }
}

// WithFramesDir keeps the frames ffmpeg extracts in dir.
func WithFramesDir(dir string) Option {
	return func(a *App) { a.framesDir = dir }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App for video by wiring all subsystems together. video is
// a video file, or a directory of frame images. Use Option functions to
// inject test doubles for any subsystem.
//
// On error, everything acquired so far is released.
func New(ctx context.Context, cfg *config.Config, video string, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, video: video}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.progress == nil {
		a.progress = &health.Progress{}
	}

	err := a.init(ctx)
	if err != nil {
		a.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	var err error

	// ── 1. Timer grammar and regions ─────────────────────────────────────
	if a.grammar, err = igt.NewGrammar(a.cfg.Timer.Formats...); err != nil {
		return fmt.Errorf("app: timer formats: %w", err)
	}
	if a.interval, err = frame.Interval(a.cfg.Video.FPS); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.timer = extractor(a.cfg.Timer.Region, a.cfg.Timer.Preprocess)
	if m := a.cfg.Marker; m != nil {
		a.marker = extractor(m.Region, m.Preprocess)
	}

	// ── 2. Splits file and policy ────────────────────────────────────────
	if path := a.cfg.Policy.SplitsFile; path != "" {
		if a.splits, err = splitsfile.Load(path); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}
	if a.policy, err = buildPolicy(a.cfg.Policy, a.splits); err != nil {
		return fmt.Errorf("app: policy: %w", err)
	}

	// ── 3. Frame source ──────────────────────────────────────────────────
	if err := a.initSource(ctx); err != nil {
		return fmt.Errorf("app: init source: %w", err)
	}

	// ── 4. OCR engines ───────────────────────────────────────────────────
	if err := a.initOCR(); err != nil {
		return fmt.Errorf("app: init ocr: %w", err)
	}

	// ── 5. Run store ─────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return fmt.Errorf("app: init store: %w", err)
	}
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSource opens a directory of images directly and decodes anything else
// with ffmpeg. The first frame is read up front to check the regions against
// its bounds and is replayed by Run.
func (a *App) initSource(ctx context.Context) error {
	if a.source == nil {
		if a.video == "" {
			return errors.New("no video given")
		}
		info, err := os.Stat(a.video)
		if err != nil {
			return err
		}
		if info.IsDir() {
			a.source, err = imagedir.New(a.video, a.cfg.Video.FPS)
		} else {
			a.source, err = ffmpeg.New(a.video, a.cfg.Video.FPS,
				ffmpeg.WithBinary(a.cfg.Video.FFmpegPath),
				ffmpeg.WithOutputDir(a.framesDir),
			)
		}
		if err != nil {
			return err
		}
	}
	a.closers = append(a.closers, a.source.Close)

	first, src, err := frame.Peek(ctx, a.source)
	if err != nil {
		return fmt.Errorf("read first frame: %w", err)
	}
	a.source = src
	if first == nil || first.Image == nil {
		return nil
	}
	bounds := first.Image.Bounds()
	if err := a.timer.Validate(bounds); err != nil {
		return fmt.Errorf("timer %w", err)
	}
	if a.marker != nil {
		if err := a.marker.Validate(bounds); err != nil {
			return fmt.Errorf("marker %w", err)
		}
	}
	return nil
}

// initOCR creates every configured engine through the registry. Several
// engines are chained behind circuit breakers in configuration order.
func (a *App) initOCR() error {
	if a.engine != nil {
		return nil
	}
	if a.registry == nil {
		return errors.New("no engine registry")
	}
	fc := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures: a.cfg.OCR.Failover.MaxFailures,
		Cooldown:    a.cfg.OCR.Failover.Cooldown,
		HalfOpenMax: a.cfg.OCR.Failover.HalfOpenMax,
	}}
	for _, entry := range a.cfg.OCR.Engines {
		p, err := a.registry.CreateOCR(entry)
		if err != nil {
			return fmt.Errorf("engine %q: %w", entry.Name, err)
		}
		if c, ok := p.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
		metered := &meteredEngine{name: entry.Name, engine: p, metrics: a.metrics}
		switch {
		case a.engine == nil:
			a.engine = metered
		case a.fallback == nil:
			a.fallback = resilience.NewOCRFallback(a.engine, a.cfg.OCR.Engines[0].Name, fc)
			a.fallback.AddFallback(entry.Name, metered)
			a.engine = a.fallback
		default:
			a.fallback.AddFallback(entry.Name, metered)
		}
		slog.Debug("ocr engine ready", "name", entry.Name)
	}
	if a.engine == nil {
		return errors.New("no engines configured")
	}
	return nil
}

// initStore connects to PostgreSQL when a DSN is configured and keeps runs
// in memory otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		a.store = runstore.NewMemoryStore()
		return nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	store := postgres.New(pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.store = store
	return nil
}

// Store returns the run store in use.
func (a *App) Store() runstore.Store { return a.store }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run extracts the timer from every frame and derives the split events.
//
// The returned Result is never nil: when the source fails or ctx is
// cancelled, Run still reconciles everything recognised up to that point,
// closes the detector and returns the partial Result together with the
// error. Runs are saved and the splits file is updated only on success.
func (a *App) Run(ctx context.Context) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "app.Run")
	defer span.End()
	log := observe.Logger(ctx)
	start := time.Now()

	rcfg := reconcileConfig(a.cfg.Reconcile, a.grammar, a.interval)
	rc, err := reconcile.New(rcfg)
	if err != nil {
		return &Result{}, fmt.Errorf("app: %w", err)
	}
	det, err := split.New(detectorConfig(a.cfg.Detector, rcfg, a.policy))
	if err != nil {
		return &Result{}, fmt.Errorf("app: %w", err)
	}

	recOpts := []recognize.Option{
		recognize.WithTimeout(a.cfg.OCR.Timeout),
		recognize.WithCharset(a.charset()),
		recognize.WithMetrics(a.metrics),
	}
	if a.marker != nil {
		recOpts = append(recOpts, recognize.WithMarker(a.marker, a.cfg.Marker.Charset))
	}
	stage := recognize.NewStage(recognize.New(a.timer, a.engine, recOpts...), a.cfg.OCR.Workers)
	stage.OnReading = func(recognize.RawReading) { a.progress.FrameRecognized() }

	res := &Result{}
	var last time.Duration

	g, gctx := errgroup.WithContext(ctx)
	frames := make(chan frame.Frame, a.cfg.OCR.Workers)
	g.Go(func() error {
		defer close(frames)
		src := &countingSource{Source: a.source, n: &res.Frames, progress: a.progress}
		return frame.Pump(gctx, src, frames)
	})
	readings := stage.Run(gctx, frames)
	g.Go(func() error {
		for rd := range readings {
			last = rd.Timestamp
			a.feed(ctx, det, rc.Push(rd))
		}
		return nil
	})
	runErr := g.Wait()

	a.feed(ctx, det, rc.Flush())
	for _, e := range det.Close(last) {
		a.recordEvent(ctx, e)
	}

	res.Events = det.Events()
	res.Reconcile = rc.Stats()
	res.Detector = det.Stats()
	res.Runs = runstore.FromEvents(filepath.Base(a.video), res.Events)
	if a.fallback != nil {
		res.Engines = a.fallback.Stats()
	}
	a.recordStats(ctx, res.Reconcile)
	a.progress.SetRuns(len(res.Runs))

	var compare map[string]time.Duration
	if a.splits != nil {
		compare = a.splits.Compare()
	}
	opts, err := subtitleOptions(a.cfg.Subtitle, compare)
	if err != nil {
		return res, fmt.Errorf("app: %w", err)
	}
	res.Cues = subtitle.Render(res.Events, opts)

	elapsed := time.Since(start)
	a.metrics.PipelineDuration.Record(ctx, elapsed.Seconds())
	log.Info("extraction finished",
		"frames", res.Frames,
		"events", len(res.Events),
		"runs", len(res.Runs),
		"accepted", res.Reconcile.Accepted,
		"corrected", res.Reconcile.Corrected,
		"unknown", res.Reconcile.Unknown,
		"rate", rc.Rate(),
		"elapsed", elapsed,
	)

	if runErr != nil {
		return res, fmt.Errorf("app: pipeline: %w", runErr)
	}
	if err := a.persist(ctx, res); err != nil {
		return res, err
	}
	a.progress.Finish()
	return res, nil
}

// charset is the configured allow-list, or the one the grammar needs.
func (a *App) charset() string {
	if a.cfg.Timer.Charset != "" {
		return a.cfg.Timer.Charset
	}
	return a.grammar.Charset()
}

func (a *App) feed(ctx context.Context, det *split.Detector, samples []reconcile.Sample) {
	for _, s := range samples {
		for _, e := range det.Feed(s) {
			a.recordEvent(ctx, e)
		}
	}
}

func (a *App) recordEvent(ctx context.Context, e split.Event) {
	a.metrics.RecordSplit(ctx, e.Kind.String())
	a.progress.Split()
	observe.Logger(ctx).Info("split",
		"run", e.Run,
		"kind", e.Kind.String(),
		"label", e.Label,
		"igt", e.IGT.String(),
		"at", e.Timestamp,
	)
}

func (a *App) recordStats(ctx context.Context, s reconcile.Stats) {
	m := a.metrics
	m.RecordSample(ctx, observe.OutcomeAccepted, int64(s.Accepted))
	m.RecordSample(ctx, observe.OutcomeCorrected, int64(s.Corrected))
	m.RecordSample(ctx, observe.OutcomeUnknown, int64(s.Unknown))
	m.RecordSample(ctx, observe.OutcomeReset, int64(s.Resets))
	m.RecordSample(ctx, observe.OutcomeRejected, int64(s.Rejected))
	m.RecordSample(ctx, observe.OutcomeParseFailure, int64(s.ParseFailures))
	m.RecordSample(ctx, observe.OutcomeGap, int64(s.UnrecoverableGaps))
	m.RecordSample(ctx, observe.OutcomeReanchor, int64(s.Reanchors))
}

// persist saves every run and, when enabled, the new personal best.
func (a *App) persist(ctx context.Context, res *Result) error {
	var errs []error
	for i := range res.Runs {
		if err := a.store.Save(ctx, &res.Runs[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if a.splits != nil && a.cfg.Policy.UpdatePB {
		for _, r := range res.Runs {
			if r.Finished && a.splits.UpdatePB(r.Events) {
				res.PersonalBest = true
				observe.Logger(ctx).Info("new personal best", "run", r.Number, "final", r.Final)
			}
		}
		if res.PersonalBest {
			if err := a.splits.Save(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: persist: %w", err)
	}
	return nil
}

// WriteSubtitles writes cues to path in SRT format.
func WriteSubtitles(path string, cues []subtitle.Cue) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("app: create %s: %w", path, err)
	}
	if err := subtitle.Write(f, cues); err != nil {
		f.Close()
		return fmt.Errorf("app: write %s: %w", path, err)
	}
	return f.Close()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Debug("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}
