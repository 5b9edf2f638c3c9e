package feewatch

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/civicsignal/feewatch/internal/browser"
	"github.com/civicsignal/feewatch/internal/download"
	"github.com/civicsignal/feewatch/schedule"
)

// Acquirer retrieves a target's document bytes. observe is called on
// every pipeline state transition so failures are attributable to the
// exact stage they occurred in.
type Acquirer interface {
	Acquire(ctx context.Context, target schedule.Target, observe func(schedule.AttemptState)) (*schedule.Document, error)
}

// pipelineAcquirer is the production Acquirer: a stealth browser
// session per attempt, or the standalone HTTP client for targets that
// don't need one.
type pipelineAcquirer struct {
	cfg    *Config
	http   *download.Client
	logger *slog.Logger
}

func newPipelineAcquirer(cfg *Config, logger *slog.Logger) *pipelineAcquirer {
	return &pipelineAcquirer{
		cfg: cfg,
		http: download.NewClient(download.ClientConfig{
			Timeout: cfg.Timeout,
			Logger:  logger,
		}),
		logger: logger,
	}
}

func (a *pipelineAcquirer) Acquire(ctx context.Context, target schedule.Target, observe func(schedule.AttemptState)) (*schedule.Document, error) {
	var body []byte
	var err error

	switch target.Strategy {
	case "http":
		observe(schedule.StateDownloading)
		body, err = download.Retry(ctx, a.cfg.Retries, a.cfg.RetryBackoff, a.logger,
			func(ctx context.Context) ([]byte, error) {
				return a.http.Fetch(ctx, target.URL)
			})
	default:
		body, err = a.acquireBrowser(ctx, target, observe)
	}
	if err != nil {
		return nil, err
	}

	return &schedule.Document{
		Body:      body,
		SourceURL: target.URL,
		DocType:   target.DocType,
		FetchedAt: time.Now(),
	}, nil
}

// acquireBrowser opens a session, picks the download variant the
// engine supports, and releases the session on every exit path.
func (a *pipelineAcquirer) acquireBrowser(ctx context.Context, target schedule.Target, observe func(schedule.AttemptState)) ([]byte, error) {
	observe(schedule.StateSessionInit)

	sess, err := browser.Open(ctx, browser.Config{
		Engine:     browser.EngineKind(a.cfg.Engine),
		Bin:        a.cfg.BrowserBin,
		NavTimeout: a.cfg.Timeout,
		Logger:     a.logger,
	}, browser.DefaultProfile())
	if err != nil {
		return nil, &schedule.AcquisitionError{Op: "launch", Err: err}
	}
	defer sess.Close()

	page, err := sess.NewPage(ctx)
	if err != nil {
		return nil, &schedule.AcquisitionError{Op: "launch", Err: err}
	}

	if sess.SupportsDirectFetch() {
		// Establish the document host as the page origin so the
		// in-page fetch carries its cookies.
		observe(schedule.StateNavigating)
		if origin := originOf(target.URL); origin != "" {
			if err := sess.Navigate(ctx, origin); err != nil {
				return nil, &schedule.AcquisitionError{Op: "navigate", Err: err}
			}
		}
		observe(schedule.StateDownloading)
		return download.Retry(ctx, a.cfg.Retries, a.cfg.RetryBackoff, a.logger,
			func(ctx context.Context) ([]byte, error) {
				return download.Direct(ctx, page, target.URL, a.cfg.Timeout)
			})
	}

	// Event-driven engines navigate and download in one raced step.
	observe(schedule.StateNavigating)
	dir, err := os.MkdirTemp("", "feewatch-dl-*")
	if err != nil {
		return nil, &schedule.AcquisitionError{Op: "download", Err: err}
	}
	defer os.RemoveAll(dir)

	observe(schedule.StateDownloading)
	return download.Retry(ctx, a.cfg.Retries, a.cfg.RetryBackoff, a.logger,
		func(ctx context.Context) ([]byte, error) {
			return download.Event(ctx, sess.Browser(), page, target.URL, a.cfg.Timeout, dir)
		})
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}
