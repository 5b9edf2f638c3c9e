// Package schedule defines the data model shared across the feewatch
// pipeline: scrape targets, extracted fee structures, scrape results,
// and change events.
package schedule

import "time"

// Target identifies one jurisdiction's fee-schedule document.
type Target struct {
	// City is the jurisdiction name, unique across the batch.
	City string `yaml:"city" json:"city"`

	// URL of the published fee-schedule document.
	URL string `yaml:"url" json:"url"`

	// DocType hints the document format: pdf, html, or auto (sniff).
	DocType string `yaml:"type" json:"type"`

	// Strategy selects the acquisition path: browser (stealth session)
	// or http (standalone client, no browser). Default: browser.
	Strategy string `yaml:"strategy" json:"strategy"`

	// Categories maps a tracked category tag to its keyword aliases,
	// e.g. "electrical" -> ["electrical", "electric"].
	Categories map[string][]string `yaml:"categories" json:"categories"`
}

// Aliases returns the alias list for a category, falling back to the
// category tag itself when none are configured.
func (t Target) Aliases(category string) []string {
	if a := t.Categories[category]; len(a) > 0 {
		return a
	}
	return []string{category}
}

// FeeStructure holds the fees mined from one category's section of the
// document. Nil pointer fields mean "not found in the text".
type FeeStructure struct {
	Category      string    `json:"category"`
	BaseFee       *float64  `json:"base_fee"`
	ValuationRate *float64  `json:"valuation_rate"` // fraction, not percent
	MinFee        *float64  `json:"min_fee"`
	MaxFee        *float64  `json:"max_fee"`

	// RawCandidates lists every currency token found in the section,
	// in document order. Kept for audit; never mutated after creation.
	RawCandidates []float64 `json:"raw_candidates"`
}

// ExtractionMethod tags how text was obtained from the document.
type ExtractionMethod string

const (
	MethodNative ExtractionMethod = "native"
	MethodOCR    ExtractionMethod = "ocr"
)

// ExtractedText is the intermediate text form of an acquired document.
type ExtractedText struct {
	Text         string
	PageCount    int
	Method       ExtractionMethod
	LowConfPages int // OCR pages below the confidence floor; 0 for native
}

// Document is a raw acquired document: bytes plus provenance.
type Document struct {
	Body      []byte
	SourceURL string

	// DocType forces the extraction path: pdf, html, or auto/empty
	// (sniff the bytes). Carried over from the target configuration.
	DocType string

	FetchedAt time.Time
}

// Result is one successful observation of a jurisdiction's schedule.
// Immutable once produced.
type Result struct {
	City          string                   `json:"city"`
	Source        string                   `json:"source"`
	SourceURL     string                   `json:"source_url"`
	ScrapedAt     time.Time                `json:"scraped_at"`
	Fees          map[string]*FeeStructure `json:"fees"`
	EffectiveDate string                   `json:"effective_date,omitempty"`
	Fingerprint   string                   `json:"fingerprint"`
	DocumentPath  string                   `json:"document_path,omitempty"`
	Method        ExtractionMethod         `json:"method"`
	PageCount     int                      `json:"page_count"`
}

// ChangeKind discriminates change events.
type ChangeKind string

const (
	// ChangeField is a tracked numeric field differing between runs.
	ChangeField ChangeKind = "field_change"
	// ChangeDocument is a fingerprint difference with or without
	// tracked-field changes (formatting or untracked edits).
	ChangeDocument ChangeKind = "document_updated"
)

// ChangeEvent records one detected difference for a jurisdiction.
// Field-level events carry Old/New values; document-level events carry
// the two fingerprints instead.
type ChangeEvent struct {
	City     string     `json:"city"`
	Kind     ChangeKind `json:"kind"`
	Category string     `json:"category,omitempty"`
	Field    string     `json:"field,omitempty"`
	Old      *float64   `json:"old,omitempty"`
	New      *float64   `json:"new,omitempty"`
	OldPrint string     `json:"old_fingerprint,omitempty"`
	NewPrint string     `json:"new_fingerprint,omitempty"`
}

// AttemptState is a stage of the per-jurisdiction pipeline.
type AttemptState string

const (
	StateIdle        AttemptState = "idle"
	StateSessionInit AttemptState = "session_init"
	StateNavigating  AttemptState = "navigating"
	StateDownloading AttemptState = "downloading"
	StateParsing     AttemptState = "parsing"
	StateOCRFallback AttemptState = "ocr_fallback"
	StateExtracting  AttemptState = "extracting"
	StateHashing     AttemptState = "hashing"
	StateComplete    AttemptState = "complete"
	StateFailed      AttemptState = "failed"
)

// Failure records where and why a jurisdiction's attempt died.
type Failure struct {
	City  string       `json:"city"`
	State AttemptState `json:"state"`
	Error string       `json:"error"`
}

// Summary aggregates one batch run.
type Summary struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Changes    []ChangeEvent `json:"changes"`
}
