package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/metrics"
)

const tracerName = "github.com/JakeFAU/pagesnap/internal/snapshot"

// Config controls a single extraction run.
type Config struct {
	TargetURL  string
	ObjectPath string
	Retry      RetryConfig
	Settle     SettleConfig
}

// Extractor runs the launch, navigate, settle, extract, persist, close sequence.
type Extractor struct {
	cfg      Config
	launcher Launcher
	store    BlobStore
	clock    Clock
	notifier Notifier
	runID    string
	tracer   trace.Tracer
	logger   *zap.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithNotifier announces every persisted record through n.
func WithNotifier(n Notifier) Option {
	return func(e *Extractor) {
		e.notifier = n
	}
}

// WithRunID tags logs and notifications with id.
func WithRunID(id string) Option {
	return func(e *Extractor) {
		e.runID = id
	}
}

// WithTracer records run and stage spans through t instead of the global
// tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Extractor) {
		e.tracer = t
	}
}

// New validates cfg and builds an Extractor.
func New(cfg Config, launcher Launcher, store BlobStore, clock Clock, logger *zap.Logger, opts ...Option) (*Extractor, error) {
	if strings.TrimSpace(cfg.TargetURL) == "" {
		return nil, fmt.Errorf("target url is required")
	}
	if launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.ObjectPath == "" {
		cfg.ObjectPath = DefaultObjectPath
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if cfg.Settle.Strategy == "" {
		cfg.Settle.Strategy = SettleFixed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{
		cfg:      cfg,
		launcher: launcher,
		store:    store,
		clock:    clock,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run captures the target page and writes exactly one record. The returned
// error is non-nil only when the record could not be written.
func (e *Extractor) Run(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "snapshot.run",
		trace.WithAttributes(attribute.String("url.full", e.cfg.TargetURL)))
	defer span.End()
	if e.runID != "" {
		span.SetAttributes(attribute.String("snapshot.run_id", e.runID))
	}

	start := e.clock.Now()
	logger := e.logger.With(zap.String("url", e.cfg.TargetURL))
	if e.runID != "" {
		logger = logger.With(zap.String("run_id", e.runID))
	}
	logger.Info("Starting scraper")

	logger.Info("Launching browser")
	session, err := e.launcher.Launch(ctx)
	if err != nil {
		return e.finish(ctx, logger, start, e.failure(logger, fmt.Errorf("%w: %w", ErrLaunch, err)))
	}
	logger.Info("Browser launched successfully")
	defer e.teardown(session, logger)

	page, err := e.scrape(ctx, session, logger)
	if err != nil {
		return e.finish(ctx, logger, start, e.failure(logger, err))
	}
	return e.finish(ctx, logger, start, result{record: page, status: StatusSuccess})
}

type result struct {
	record  any
	status  string
	message string
}

// finish persists the record and announces it.
func (e *Extractor) finish(ctx context.Context, logger *zap.Logger, start time.Time, res result) error {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("snapshot.status", res.status))
	if res.status != StatusSuccess {
		span.SetStatus(codes.Error, res.message)
	}

	var w written
	// The record is written even if ctx was canceled mid-run.
	err := e.stage(context.WithoutCancel(ctx), "snapshot.persist", func(ctx context.Context) error {
		var err error
		w, err = writeRecord(ctx, e.store, e.cfg.ObjectPath, res.record)
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveRun(e.cfg.TargetURL, metrics.RunPersistError, e.clock.Now().Sub(start))
		return err
	}
	if res.status == StatusSuccess {
		logger.Info("Scraped data has been saved", zap.String("uri", w.uri))
	} else {
		logger.Info("Error information has been saved", zap.String("uri", w.uri))
	}
	metrics.ObserveRun(e.cfg.TargetURL, res.status, e.clock.Now().Sub(start))

	e.notify(ctx, logger, Outcome{
		RunID:     e.runID,
		URL:       e.cfg.TargetURL,
		Status:    res.status,
		URI:       w.uri,
		SHA256:    w.digest,
		Message:   res.message,
		Timestamp: formatTimestamp(e.clock.Now()),
	})
	return nil
}

func (e *Extractor) scrape(ctx context.Context, session Session, logger *zap.Logger) (Page, error) {
	logger.Info("Navigating to target")
	navigate := func(ctx context.Context) error {
		return session.Navigate(ctx, e.cfg.TargetURL)
	}
	err := e.stage(ctx, "snapshot.navigate", func(ctx context.Context) error {
		attempts, err := navigateWithRetry(ctx, navigate, e.cfg.Retry, e.clock, logger)
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("snapshot.attempts", attempts))
		return err
	})
	if err != nil {
		return Page{}, err
	}

	logger.Info("Waiting for page content to settle", zap.String("strategy", string(e.cfg.Settle.Strategy)))
	err = e.stage(ctx, "snapshot.settle", func(ctx context.Context) error {
		return settle(ctx, session, e.cfg.Settle, e.clock, logger)
	})
	if err != nil {
		return Page{}, err
	}

	logger.Info("Extracting data from page")
	var page Page
	err = e.stage(ctx, "snapshot.extract", func(ctx context.Context) error {
		var err error
		page, err = extract(ctx, session, e.clock.Now)
		return err
	})
	if err != nil {
		return Page{}, err
	}
	logger.Info("Data extracted successfully",
		zap.String("final_url", page.URL),
		zap.Int("links", len(page.Links)),
	)
	return page, nil
}

// stage runs fn inside a child span named name.
func (e *Extractor) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (e *Extractor) failure(logger *zap.Logger, err error) result {
	logger.Error("Error during scraping", zap.Error(err))
	return result{
		record: Failure{
			Error:     true,
			Message:   err.Error(),
			URL:       e.cfg.TargetURL,
			Timestamp: formatTimestamp(e.clock.Now()),
		},
		status:  StatusError,
		message: err.Error(),
	}
}

func (e *Extractor) teardown(session Session, logger *zap.Logger) {
	logger.Info("Closing browser")
	if err := session.Close(); err != nil {
		logger.Warn("Failed to close browser", zap.Error(err))
		return
	}
	logger.Info("Browser closed")
}

func (e *Extractor) notify(ctx context.Context, logger *zap.Logger, outcome Outcome) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(context.WithoutCancel(ctx), outcome); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Failed to publish run notification", zap.Error(err))
	}
}
