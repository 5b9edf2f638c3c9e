// Package browser owns the lifecycle of one anti-detection automation
// session: launch chromium via the rod launcher, create stealth pages
// with an identity profile applied before any content loads, and tear
// everything down in reverse order of acquisition.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// EngineKind selects the automation engine variant. The set is closed:
// headless chromium supports querying authenticated bytes through the
// page context directly; headful chromium relies on download events.
type EngineKind string

const (
	EngineHeadless EngineKind = "headless"
	EngineHeadful  EngineKind = "headful"
)

// Valid reports whether k names a supported engine.
func (k EngineKind) Valid() bool {
	return k == EngineHeadless || k == EngineHeadful
}

// Config configures session launch.
type Config struct {
	Engine EngineKind // Default: EngineHeadless.

	// Bin overrides the chromium binary path. Empty = launcher lookup.
	Bin string

	// NavTimeout bounds page navigation. Default: 45s.
	NavTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if !c.Engine.Valid() {
		c.Engine = EngineHeadless
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 45 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session is one live automation context. It is exclusively owned by a
// single jurisdiction attempt; Close must run on every exit path and
// is safe to call twice or on a partially-initialised session.
type Session struct {
	cfg     Config
	profile Profile
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
	closed  bool
}

// Open launches the engine and connects. A launch failure is fatal for
// the jurisdiction that requested the session, nothing more.
func Open(ctx context.Context, cfg Config, profile Profile) (*Session, error) {
	cfg.defaults()

	l := launcher.New().Headless(cfg.Engine == EngineHeadless)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}

	// Anti-detection launch flags.
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))

	controlURL, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("browser: launch %s: %w", cfg.Engine, err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	cfg.Logger.Debug("browser: session opened", "engine", cfg.Engine, "control_url", controlURL)

	return &Session{cfg: cfg, profile: profile, browser: b, lnch: l}, nil
}

// Browser returns the underlying rod handle.
func (s *Session) Browser() *rod.Browser { return s.browser }

// Engine returns the engine kind this session was opened with.
func (s *Session) Engine() EngineKind { return s.cfg.Engine }

// SupportsDirectFetch reports whether the direct-request download
// variant works on this engine.
func (s *Session) SupportsDirectFetch() bool { return s.cfg.Engine == EngineHeadless }

// NewPage creates a stealth page with the identity profile applied.
// The mask script is injected before any page content loads.
func (s *Session) NewPage(ctx context.Context) (*rod.Page, error) {
	if s.browser == nil {
		return nil, fmt.Errorf("browser: session not open")
	}

	page, err := stealth.Page(s.browser)
	if err != nil {
		return nil, fmt.Errorf("browser: stealth page: %w", err)
	}

	p := page.Context(ctx)

	if _, err := p.EvalOnNewDocument(maskScript); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: inject mask: %w", err)
	}

	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      s.profile.UserAgent,
		AcceptLanguage: s.profile.AcceptLanguage,
	}); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: user agent: %w", err)
	}

	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.profile.ViewportWidth,
		Height:            s.profile.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		s.cfg.Logger.Warn("browser: viewport override failed", "error", err)
	}

	if s.profile.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: s.profile.Timezone}).Call(p); err != nil {
			s.cfg.Logger.Warn("browser: timezone override failed", "error", err)
		}
	}
	if s.profile.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: s.profile.Locale}).Call(p); err != nil {
			s.cfg.Logger.Warn("browser: locale override failed", "error", err)
		}
	}

	s.page = page
	return page, nil
}

// Navigate opens the URL on the session page with the configured
// timeout and waits for load.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if s.page == nil {
		return fmt.Errorf("browser: no page")
	}
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()

	p := s.page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		s.cfg.Logger.Warn("browser: wait load timed out", "url", url, "error", err)
	}
	return nil
}

// Close releases page, browser, and launcher in reverse order of
// acquisition. Idempotent; never fails on absent sub-resources.
func (s *Session) Close() {
	if s == nil || s.closed {
		return
	}
	s.closed = true

	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	if s.browser != nil {
		_ = s.browser.Close()
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
	if s.cfg.Logger != nil {
		s.cfg.Logger.Debug("browser: session closed")
	}
}
