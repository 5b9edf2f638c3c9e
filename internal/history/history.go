// Package history persists the latest successful observation per
// jurisdiction and detects changes between runs. The store is a single
// JSON file, read once at batch start and replaced atomically on save;
// there are no concurrent writers by design.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/civicsignal/feewatch/schedule"
)

// Store maps jurisdiction to its most recent successful result.
type Store struct {
	path    string
	entries map[string]*schedule.Result
	logger  *slog.Logger
}

// Load reads the history file. A missing file is an empty history, not
// an error; a corrupt file is a PersistenceError.
func Load(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, entries: make(map[string]*schedule.Result), logger: logger}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, &schedule.PersistenceError{Path: path, Err: err}
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, &schedule.PersistenceError{Path: path, Err: fmt.Errorf("decode history: %w", err)}
	}
	logger.Debug("history: loaded", "path", path, "entries", len(s.entries))
	return s, nil
}

// Latest returns the stored result for a jurisdiction.
func (s *Store) Latest(city string) (*schedule.Result, bool) {
	r, ok := s.entries[city]
	return r, ok
}

// Cities returns the jurisdictions present in history, sorted.
func (s *Store) Cities() []string {
	out := make([]string, 0, len(s.entries))
	for c := range s.entries {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Commit replaces the stored entry for a jurisdiction. Only successful
// attempts reach here; a failed attempt never touches its entry.
func (s *Store) Commit(city string, result *schedule.Result) {
	s.entries[city] = result
}

// Save writes the history file via atomic whole-file replace.
func (s *Store) Save() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return &schedule.PersistenceError{Path: s.path, Err: err}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return &schedule.PersistenceError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return &schedule.PersistenceError{Path: s.path, Err: err}
	}
	return nil
}

// trackedFields fixes the comparison order so event output is stable.
var trackedFields = []struct {
	name string
	get  func(*schedule.FeeStructure) *float64
}{
	{"base_fee", func(f *schedule.FeeStructure) *float64 { return f.BaseFee }},
	{"valuation_rate", func(f *schedule.FeeStructure) *float64 { return f.ValuationRate }},
	{"min_fee", func(f *schedule.FeeStructure) *float64 { return f.MinFee }},
	{"max_fee", func(f *schedule.FeeStructure) *float64 { return f.MaxFee }},
}

// DetectChanges compares a new result against the stored entry. No
// prior entry means the first observation establishes the baseline and
// yields no events. Field comparisons are exact, and a field appearing
// or disappearing counts as a change. A fingerprint difference emits
// one document_updated event even when no tracked field moved.
func (s *Store) DetectChanges(city string, next *schedule.Result) []schedule.ChangeEvent {
	prev, ok := s.entries[city]
	if !ok || prev == nil {
		return nil
	}

	var events []schedule.ChangeEvent

	categories := make([]string, 0, len(next.Fees))
	for c := range next.Fees {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, category := range categories {
		newFee := next.Fees[category]
		oldFee := prev.Fees[category]

		for _, field := range trackedFields {
			var oldVal, newVal *float64
			if oldFee != nil {
				oldVal = field.get(oldFee)
			}
			if newFee != nil {
				newVal = field.get(newFee)
			}
			if floatPtrEqual(oldVal, newVal) {
				continue
			}
			events = append(events, schedule.ChangeEvent{
				City:     city,
				Kind:     schedule.ChangeField,
				Category: category,
				Field:    field.name,
				Old:      oldVal,
				New:      newVal,
			})
		}
	}

	if prev.Fingerprint != "" && next.Fingerprint != "" && prev.Fingerprint != next.Fingerprint {
		events = append(events, schedule.ChangeEvent{
			City:     city,
			Kind:     schedule.ChangeDocument,
			OldPrint: prev.Fingerprint,
			NewPrint: next.Fingerprint,
		})
	}

	return events
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// CityOutcome is one jurisdiction's slot in a run snapshot.
type CityOutcome struct {
	Status string           `json:"status"` // success | failed
	Data   *schedule.Result `json:"data,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Snapshot is the per-run record of every jurisdiction's outcome.
type Snapshot struct {
	Timestamp time.Time              `json:"timestamp"`
	Cities    map[string]CityOutcome `json:"cities"`
	Summary   schedule.Summary       `json:"summary"`
}

// WriteSnapshot persists a timestamped snapshot file into dir and
// returns its path.
func WriteSnapshot(dir string, snap *Snapshot) (string, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", &schedule.PersistenceError{Path: dir, Err: err}
	}
	name := fmt.Sprintf("run-%s.json", snap.Timestamp.UTC().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", &schedule.PersistenceError{Path: path, Err: err}
	}
	return path, nil
}
