// Package feewatch monitors municipal fee-schedule documents: it
// acquires each jurisdiction's published document through a stealth
// browser session, mines structured fee data from it, and reports
// changes against the persisted history.
package feewatch

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/civicsignal/feewatch/internal/auditlog"
	"github.com/civicsignal/feewatch/internal/extract"
	"github.com/civicsignal/feewatch/internal/history"
	"github.com/civicsignal/feewatch/schedule"
)

// Monitor runs the acquisition-to-change-detection pipeline across all
// configured jurisdictions. Jurisdictions are processed strictly
// sequentially: one live session at a time, both to bound resources
// and to keep the traffic profile quiet.
type Monitor struct {
	cfg       *Config
	logger    *slog.Logger
	acquirer  Acquirer
	extractor *extract.Extractor
	audit     *auditlog.Log
	rnd       *rand.Rand
	now       func() time.Time

	// mu guards store and lastSnapshot against concurrent reads from
	// the API/MCP surface while a batch is running.
	mu           sync.RWMutex
	store        *history.Store
	lastSnapshot *history.Snapshot
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithAcquirer replaces the production acquirer (tests).
func WithAcquirer(a Acquirer) Option {
	return func(m *Monitor) { m.acquirer = a }
}

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor: loads history, opens the audit log when
// configured, and wires the extractor and production acquirer.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Monitor, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:    cfg,
		logger: slog.Default(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}

	store, err := history.Load(cfg.HistoryFile, m.logger)
	if err != nil {
		return nil, err
	}
	m.store = store

	var ocr *extract.OCRClient
	if cfg.OCREndpoint != "" {
		ocr = extract.NewOCRClient(cfg.OCREndpoint, cfg.Timeout, m.logger)
	}
	m.extractor = extract.New(extract.Config{
		TextThreshold: cfg.OCRTextThreshold,
		OCR:           ocr,
		Logger:        m.logger,
	})

	if cfg.AuditDB != "" {
		db, err := sql.Open("sqlite", cfg.AuditDB)
		if err != nil {
			return nil, fmt.Errorf("feewatch: open audit db: %w", err)
		}
		log, err := auditlog.Open(ctx, db)
		if err != nil {
			return nil, err
		}
		m.audit = log
	}

	if m.acquirer == nil {
		m.acquirer = newPipelineAcquirer(cfg, m.logger)
	}
	return m, nil
}

// RunBatch processes every configured jurisdiction in order. A failed
// jurisdiction never affects the ones after it. At the end the history
// file and a timestamped snapshot are persisted; persistence failures
// are logged and do not discard the in-memory results.
func (m *Monitor) RunBatch(ctx context.Context) (*history.Snapshot, error) {
	snap := &history.Snapshot{
		Timestamp: m.now(),
		Cities:    make(map[string]history.CityOutcome, len(m.cfg.Targets)),
	}
	summary := schedule.Summary{Total: len(m.cfg.Targets)}

	for i, target := range m.cfg.Targets {
		if i > 0 {
			if err := m.pause(ctx); err != nil {
				// Context is dead; attempting the remaining targets would
				// only produce one spurious failure per city.
				m.logger.Warn("feewatch: batch interrupted", "error", err)
				for _, rest := range m.cfg.Targets[i:] {
					snap.Cities[rest.City] = history.CityOutcome{Status: "failed", Error: err.Error()}
					summary.Failed++
				}
				break
			}
		}

		outcome, events := m.processTarget(ctx, target)
		snap.Cities[target.City] = outcome
		if outcome.Status == "success" {
			summary.Successful++
			summary.Changes = append(summary.Changes, events...)
		} else {
			summary.Failed++
		}
	}

	snap.Summary = summary

	m.mu.Lock()
	if err := m.store.Save(); err != nil {
		m.logger.Error("feewatch: history save failed", "error", err)
	}
	m.lastSnapshot = snap
	m.mu.Unlock()

	if _, err := history.WriteSnapshot(m.cfg.SnapshotDir, snap); err != nil {
		m.logger.Error("feewatch: snapshot write failed", "error", err)
	}

	m.logger.Info("feewatch: batch complete",
		"total", summary.Total, "successful", summary.Successful,
		"failed", summary.Failed, "changes", len(summary.Changes))
	return snap, nil
}

// RunCity processes a single jurisdiction immediately and commits on
// success. Used by the CLI -city flag and the MCP run tool.
func (m *Monitor) RunCity(ctx context.Context, city string) (*schedule.Result, []schedule.ChangeEvent, error) {
	var target *schedule.Target
	for i := range m.cfg.Targets {
		if m.cfg.Targets[i].City == city {
			target = &m.cfg.Targets[i]
			break
		}
	}
	if target == nil {
		return nil, nil, fmt.Errorf("feewatch: unknown city %q", city)
	}

	outcome, events := m.processTarget(ctx, *target)
	if outcome.Status != "success" {
		return nil, nil, fmt.Errorf("feewatch: %s: %s", city, outcome.Error)
	}

	m.mu.Lock()
	err := m.store.Save()
	m.mu.Unlock()
	if err != nil {
		m.logger.Error("feewatch: history save failed", "error", err)
	}
	return outcome.Data, events, nil
}

// processTarget runs one attempt end to end: acquire, extract, detect,
// commit. Change detection runs against the old entry before commit.
func (m *Monitor) processTarget(ctx context.Context, target schedule.Target) (history.CityOutcome, []schedule.ChangeEvent) {
	started := m.now()
	result, failure := m.runTarget(ctx, target)
	duration := m.now().Sub(started)

	if failure != nil {
		m.logger.Error("feewatch: attempt failed",
			"city", target.City, "state", failure.State, "error", failure.Error)
		m.recordAttempt(ctx, target.City, failure.State, "failed", failure.Error, "", started, duration)
		return history.CityOutcome{Status: "failed", Error: failure.Error}, nil
	}

	m.mu.Lock()
	events := m.store.DetectChanges(target.City, result)
	m.store.Commit(target.City, result)
	m.mu.Unlock()

	m.logger.Info("feewatch: attempt complete",
		"city", target.City, "method", result.Method,
		"pages", result.PageCount, "changes", len(events))
	m.recordAttempt(ctx, target.City, schedule.StateComplete, "success", "", result.Fingerprint, started, duration)
	return history.CityOutcome{Status: "success", Data: result}, events
}

// runTarget drives the per-jurisdiction state machine. The returned
// Failure names the state the attempt died in.
func (m *Monitor) runTarget(ctx context.Context, target schedule.Target) (*schedule.Result, *schedule.Failure) {
	state := schedule.StateIdle
	observe := func(s schedule.AttemptState) {
		state = s
		m.logger.Debug("feewatch: state", "city", target.City, "state", s)
	}
	fail := func(err error) *schedule.Failure {
		return &schedule.Failure{City: target.City, State: state, Error: err.Error()}
	}

	doc, err := m.acquirer.Acquire(ctx, target, observe)
	if err != nil {
		return nil, fail(err)
	}

	observe(schedule.StateParsing)
	text, err := m.extractor.Text(ctx, doc)
	if err != nil {
		var exErr *schedule.ExtractionError
		if errors.As(err, &exErr) && exErr.Op == "ocr" {
			observe(schedule.StateOCRFallback)
		}
		return nil, fail(err)
	}
	if text.Method == schedule.MethodOCR {
		observe(schedule.StateOCRFallback)
	}

	observe(schedule.StateExtracting)
	fees, problems := m.extractor.Mine(text.Text, target)
	for _, p := range problems {
		m.logger.Warn("feewatch: validation", "city", target.City, "issue", p.Error())
	}
	effective, _ := extract.EffectiveDate(text.Text)

	observe(schedule.StateHashing)
	fingerprint := extract.Fingerprint(doc.Body)
	docPath := m.saveDocument(target, doc)

	result := &schedule.Result{
		City:          target.City,
		Source:        "fee_schedule",
		SourceURL:     target.URL,
		ScrapedAt:     doc.FetchedAt,
		Fees:          fees,
		EffectiveDate: effective,
		Fingerprint:   fingerprint,
		DocumentPath:  docPath,
		Method:        text.Method,
		PageCount:     text.PageCount,
	}
	observe(schedule.StateComplete)
	return result, nil
}

// saveDocument writes the raw bytes to the document store under a
// deterministic per-jurisdiction name. Write failures are logged, not
// fatal; the attempt already has its bytes in memory.
func (m *Monitor) saveDocument(target schedule.Target, doc *schedule.Document) string {
	ext := "pdf"
	if !bytes.HasPrefix(doc.Body, []byte("%PDF-")) {
		ext = "html"
	}
	name := fmt.Sprintf("%s_fee_schedule.%s", slugify(target.City), ext)
	path := filepath.Join(m.cfg.DocumentDir, name)
	if err := os.WriteFile(path, doc.Body, 0644); err != nil {
		m.logger.Error("feewatch: document write failed", "city", target.City, "error", err)
		return ""
	}
	return path
}

func (m *Monitor) recordAttempt(ctx context.Context, city string, state schedule.AttemptState, status, errMsg, fingerprint string, started time.Time, duration time.Duration) {
	if m.audit == nil {
		return
	}
	err := m.audit.Record(ctx, &auditlog.Entry{
		City:        city,
		State:       state,
		Status:      status,
		Error:       errMsg,
		Fingerprint: fingerprint,
		DurationMs:  duration.Milliseconds(),
		StartedAt:   started.Unix(),
	})
	if err != nil {
		m.logger.Warn("feewatch: audit record failed", "city", city, "error", err)
	}
}

// pause sleeps a randomised interval in [DelayMin, DelayMax] between
// jurisdictions. The jitter keeps the request cadence irregular.
func (m *Monitor) pause(ctx context.Context) error {
	delay := m.cfg.DelayMin
	if spread := m.cfg.DelayMax - m.cfg.DelayMin; spread > 0 {
		delay += time.Duration(m.rnd.Int63n(int64(spread)))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// Targets returns the configured targets in batch order.
func (m *Monitor) Targets() []schedule.Target {
	out := make([]schedule.Target, len(m.cfg.Targets))
	copy(out, m.cfg.Targets)
	return out
}

// LatestResult returns the stored result for a jurisdiction.
func (m *Monitor) LatestResult(city string) (*schedule.Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.Latest(city)
}

// LastSnapshot returns the most recent batch snapshot, nil before the
// first run.
func (m *Monitor) LastSnapshot() *history.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSnapshot
}

// AttemptHistory returns a jurisdiction's audit-log entries, newest
// first. Empty when the audit log is disabled.
func (m *Monitor) AttemptHistory(ctx context.Context, city string, limit int) ([]*auditlog.Entry, error) {
	if m.audit == nil {
		return nil, nil
	}
	return m.audit.History(ctx, city, limit)
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
