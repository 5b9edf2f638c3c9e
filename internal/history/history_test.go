package history

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/civicsignal/feewatch/schedule"
)

func ptr(v float64) *float64 { return &v }

func result(city, fingerprint string, base float64) *schedule.Result {
	return &schedule.Result{
		City:        city,
		Source:      "fee_schedule.pdf",
		SourceURL:   "https://example.gov/fees.pdf",
		ScrapedAt:   time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		Fingerprint: fingerprint,
		Fees: map[string]*schedule.FeeStructure{
			"electrical": {
				Category:      "electrical",
				BaseFee:       ptr(base),
				MinFee:        ptr(50),
				RawCandidates: []float64{base, 50},
			},
		},
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.json"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := s.Cities(); len(got) != 0 {
		t.Errorf("cities = %v, want empty", got)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path, nil)
	var pErr *schedule.PersistenceError
	if !errors.As(err, &pErr) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Commit("Dublin", result("Dublin", "aaa", 150))
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}

	reloaded, err := Load(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	r, ok := reloaded.Latest("Dublin")
	if !ok {
		t.Fatal("Dublin missing after reload")
	}
	if r.Fingerprint != "aaa" {
		t.Errorf("fingerprint = %q", r.Fingerprint)
	}
	fee := r.Fees["electrical"]
	if fee == nil || fee.BaseFee == nil || *fee.BaseFee != 150 {
		t.Errorf("electrical fee = %+v", fee)
	}
}

func TestDetectChangesNoBaseline(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "h.json"), nil)
	events := s.DetectChanges("Dublin", result("Dublin", "aaa", 150))
	if len(events) != 0 {
		t.Errorf("first observation produced events: %v", events)
	}
}

func TestDetectChangesFieldChange(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "h.json"), nil)
	s.Commit("Dublin", result("Dublin", "aaa", 150))

	events := s.DetectChanges("Dublin", result("Dublin", "aaa", 175))
	if len(events) != 1 {
		t.Fatalf("events = %v, want exactly one", events)
	}
	e := events[0]
	if e.Kind != schedule.ChangeField || e.Category != "electrical" || e.Field != "base_fee" {
		t.Errorf("event = %+v", e)
	}
	if e.Old == nil || *e.Old != 150 || e.New == nil || *e.New != 175 {
		t.Errorf("old/new = %v/%v, want 150/175", e.Old, e.New)
	}
}

func TestDetectChangesFieldAppears(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "h.json"), nil)
	prev := result("Dublin", "aaa", 150)
	prev.Fees["electrical"].MinFee = nil
	s.Commit("Dublin", prev)

	events := s.DetectChanges("Dublin", result("Dublin", "aaa", 150))
	if len(events) != 1 {
		t.Fatalf("events = %v, want exactly one", events)
	}
	if events[0].Field != "min_fee" || events[0].Old != nil {
		t.Errorf("event = %+v, want min_fee appearing", events[0])
	}
}

func TestDetectChangesFingerprintOnly(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "h.json"), nil)
	s.Commit("Dublin", result("Dublin", "aaa", 150))

	events := s.DetectChanges("Dublin", result("Dublin", "bbb", 150))
	if len(events) != 1 {
		t.Fatalf("events = %v, want exactly one", events)
	}
	e := events[0]
	if e.Kind != schedule.ChangeDocument {
		t.Errorf("kind = %q, want document_updated", e.Kind)
	}
	if e.OldPrint != "aaa" || e.NewPrint != "bbb" {
		t.Errorf("prints = %q/%q", e.OldPrint, e.NewPrint)
	}
}

func TestDetectChangesEmptyFingerprintIgnored(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "h.json"), nil)
	s.Commit("Dublin", result("Dublin", "", 150))

	events := s.DetectChanges("Dublin", result("Dublin", "bbb", 150))
	if len(events) != 0 {
		t.Errorf("events = %v, want none when a fingerprint is absent", events)
	}
}

func TestWriteSnapshot(t *testing.T) {
	dir := t.TempDir()
	snap := &Snapshot{
		Timestamp: time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC),
		Cities: map[string]CityOutcome{
			"Dublin":     {Status: "success", Data: result("Dublin", "aaa", 150)},
			"Pleasanton": {Status: "failed", Error: "acquire fee_schedule.pdf: context deadline exceeded"},
		},
		Summary: schedule.Summary{Total: 2, Successful: 1, Failed: 1},
	}

	path, err := WriteSnapshot(dir, snap)
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if filepath.Base(path) != "run-20260824-093000.json" {
		t.Errorf("snapshot name = %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Snapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("snapshot is not valid json: %v", err)
	}
	if got.Cities["Pleasanton"].Status != "failed" || got.Summary.Failed != 1 {
		t.Errorf("snapshot = %+v", got)
	}
}
