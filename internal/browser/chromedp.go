// Package browser drives headless Chrome through chromedp for snapshot runs.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/snapshot"
)

// Config controls how the browser is launched and how pages are loaded.
type Config struct {
	ExecPath                 string
	Headless                 bool
	LaunchTimeout            time.Duration
	NavigationTimeout        time.Duration
	DefaultNavigationTimeout time.Duration
	WaitUntil                string
	BlockResources           bool
	BlockedResourceTypes     []string
	ExtraFlags               []string
}

// Launcher starts chromedp-backed sessions.
type Launcher struct {
	cfg       Config
	lifecycle string
	blocked   resourceSet
	logger    *zap.Logger
}

// NewLauncher validates cfg and returns a Launcher.
func NewLauncher(cfg Config, logger *zap.Logger) (*Launcher, error) {
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 90 * time.Second
	}
	if cfg.DefaultNavigationTimeout <= 0 {
		cfg.DefaultNavigationTimeout = 90 * time.Second
	}
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	lifecycle, err := lifecycleEvent(cfg.WaitUntil)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Launcher{
		cfg:       cfg,
		lifecycle: lifecycle,
		logger:    logger,
	}
	if cfg.BlockResources {
		l.blocked = newResourceSet(cfg.BlockedResourceTypes)
	}
	return l, nil
}

// Launch starts the browser process and opens the page used for the run.
func (l *Launcher) Launch(ctx context.Context) (snapshot.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
	sugar := l.logger.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	s := &Session{
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		navTimeout:  l.navTimeout(),
		lifecycle:   l.lifecycle,
		blocked:     l.blocked,
		logger:      l.logger,
	}

	if len(s.blocked) > 0 {
		chromedp.ListenTarget(tabCtx, s.interceptEvent)
	}
	// The first Run starts the browser and attaches to its initial tab.
	if err := chromedp.Run(tabCtx, s.setupActions()...); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser %s: %w", l.cfg.ExecPath, err)
	}
	return s, nil
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-accelerated-2d-canvas", true),
		chromedp.NoFirstRun,
		chromedp.Flag("no-zygote", true),
		chromedp.Flag("single-process", true),
		chromedp.DisableGPU,
		chromedp.Flag("disable-software-rasterizer", true),
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.IgnoreCertErrors,
		chromedp.Flag("mute-audio", true),
		chromedp.WSURLReadTimeout(l.cfg.LaunchTimeout),
	)
	if l.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	for _, raw := range l.cfg.ExtraFlags {
		name, value, ok := parseFlag(raw)
		if !ok {
			l.logger.Warn("Ignoring malformed browser flag", zap.String("flag", raw))
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

func (l *Launcher) navTimeout() time.Duration {
	if l.cfg.NavigationTimeout > 0 {
		return l.cfg.NavigationTimeout
	}
	return l.cfg.DefaultNavigationTimeout
}

// parseFlag turns "--name=value" or "--name" into a chromedp flag pair.
func parseFlag(raw string) (string, any, bool) {
	trimmed := strings.TrimLeft(strings.TrimSpace(raw), "-")
	if trimmed == "" {
		return "", nil, false
	}
	name, value, hasValue := strings.Cut(trimmed, "=")
	if name == "" {
		return "", nil, false
	}
	if !hasValue {
		return name, true, true
	}
	return name, value, true
}

// Session is one browser with a single page.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	navTimeout  time.Duration
	lifecycle   string
	blocked     resourceSet
	logger      *zap.Logger
	closeOnce   sync.Once
	closeErr    error
}

func (s *Session) setupActions() []chromedp.Action {
	actions := []chromedp.Action{
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
	}
	if len(s.blocked) > 0 {
		actions = append(actions, fetch.Enable().WithPatterns([]*fetch.RequestPattern{
			{URLPattern: "*", RequestStage: fetch.RequestStageRequest},
		}))
	}
	return actions
}

// Navigate loads url once, waiting for the configured lifecycle event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(s.ctx, s.navTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(navCtx, navigateAndWait(url, s.lifecycle))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return fmt.Errorf("navigation timeout of %s exceeded: %w", s.navTimeout, err)
	default:
		return fmt.Errorf("navigate %s: %w", url, err)
	}
}

// Evaluate runs script in the page and decodes the result into out.
func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	evalCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(evalCtx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("close browser: %w", err)
		}
		s.cancel()
		s.allocCancel()
	})
	return s.closeErr
}
