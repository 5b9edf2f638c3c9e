// Package extract turns acquired document bytes into text and mines
// structured fee data out of it. Native PDF extraction goes through
// pdfcpu content streams; image-only documents fall back to an external
// OCR service; HTML schedules are sanitised and flattened to text.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/civicsignal/feewatch/schedule"
)

// sectionWindow bounds the slice of text returned around a category
// alias match. Wide enough for a fee table entry, narrow enough that
// neighbouring categories don't bleed in.
const (
	sectionBefore = 60
	sectionAfter  = 360
)

var (
	currencyRe = regexp.MustCompile(`\$\s?(\d[\d,]*(?:\.\d+)?)`)
	percentRe  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s?%\s*of\s+(?:the\s+)?(?:total\s+)?(?:project\s+|job\s+|construction\s+|building\s+)?(?:valuation|cost|value)`)
	dateRe     = regexp.MustCompile(`(?i)(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2},?\s+\d{4}|\d{1,2}/\d{1,2}(?:/\d{2,4})?|\b(?:19|20)\d{2}\b`)

	baseLabelRe = regexp.MustCompile(`(?i)\bbase\s+fee`)
	minLabelRe  = regexp.MustCompile(`(?i)\bmin(?:imum|\.)?\b`)
	maxLabelRe  = regexp.MustCompile(`(?i)\bmax(?:imum|\.)?\b`)
)

// FindSection returns a window of text around the first case-insensitive
// occurrence of any alias, or ok=false when no alias matches.
func FindSection(text string, aliases []string) (string, bool) {
	lower := strings.ToLower(text)
	best := -1
	matchLen := 0
	for _, alias := range aliases {
		a := strings.ToLower(strings.TrimSpace(alias))
		if a == "" {
			continue
		}
		if i := strings.Index(lower, a); i >= 0 && (best < 0 || i < best) {
			best = i
			matchLen = len(a)
		}
	}
	if best < 0 {
		return "", false
	}
	start := best - sectionBefore
	if start < 0 {
		start = 0
	}
	end := best + matchLen + sectionAfter
	if end > len(text) {
		end = len(text)
	}
	return text[start:end], true
}

// Fees mines currency and percentage tokens from a section of text.
// The Category field is left unset; callers tag it. Every amount
// reported in BaseFee/MinFee/MaxFee also appears in RawCandidates.
func Fees(text string) *schedule.FeeStructure {
	fs := &schedule.FeeStructure{}

	type token struct {
		value float64
		start int
	}
	var tokens []token
	for _, loc := range currencyRe.FindAllStringSubmatchIndex(text, -1) {
		raw := strings.ReplaceAll(text[loc[2]:loc[3]], ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		tokens = append(tokens, token{value: v, start: loc[0]})
		fs.RawCandidates = append(fs.RawCandidates, v)
	}

	// Label resolution: a token is labelled when the label ends within
	// a short span before the amount ("Base Fee: $150").
	labelled := func(re *regexp.Regexp, tok token) bool {
		windowStart := tok.start - 24
		if windowStart < 0 {
			windowStart = 0
		}
		return re.MatchString(text[windowStart:tok.start])
	}

	var base, min, max *float64
	for _, tok := range tokens {
		v := tok.value
		switch {
		case base == nil && labelled(baseLabelRe, tok):
			base = &v
		case max == nil && labelled(maxLabelRe, tok):
			max = &v
		case min == nil && labelled(minLabelRe, tok):
			min = &v
		}
	}

	// Tie-break order: an explicit "base fee" label wins, then an
	// explicit "minimum" label, then the first token in raw order.
	switch {
	case base != nil:
		fs.BaseFee = base
	case min != nil:
		fs.BaseFee = min
	case len(tokens) > 0:
		v := tokens[0].value
		fs.BaseFee = &v
	}
	fs.MinFee = min
	fs.MaxFee = max

	// Percentages become fractions, never raw percent values.
	if m := percentRe.FindStringSubmatch(text); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			rate := pct / 100
			fs.ValuationRate = &rate
		}
	}

	return fs
}

// EffectiveDate returns the first date-like token verbatim, or ok=false.
func EffectiveDate(text string) (string, bool) {
	m := dateRe.FindString(text)
	if m == "" {
		return "", false
	}
	return m, true
}
