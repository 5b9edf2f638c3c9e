package extract

import (
	"math"
	"strings"
	"testing"
)

func TestFeesLabelled(t *testing.T) {
	text := "Base Fee: $150\nValuation Rate: 1.6% of job cost\nMinimum Fee: $50"
	fs := Fees(text)

	wantRaw := []float64{150, 50}
	if len(fs.RawCandidates) != len(wantRaw) {
		t.Fatalf("raw candidates = %v, want %v", fs.RawCandidates, wantRaw)
	}
	for i, v := range wantRaw {
		if fs.RawCandidates[i] != v {
			t.Errorf("raw[%d] = %v, want %v", i, fs.RawCandidates[i], v)
		}
	}

	if fs.BaseFee == nil || *fs.BaseFee != 150 {
		t.Errorf("base fee = %v, want 150", fs.BaseFee)
	}
	if fs.MinFee == nil || *fs.MinFee != 50 {
		t.Errorf("min fee = %v, want 50", fs.MinFee)
	}
	if fs.ValuationRate == nil || math.Abs(*fs.ValuationRate-0.016) > 1e-9 {
		t.Errorf("valuation rate = %v, want 0.016", fs.ValuationRate)
	}
}

func TestFeesDecimals(t *testing.T) {
	fs := Fees("Base fee: $150.50, Additional: $75.25")

	if len(fs.RawCandidates) != 2 || fs.RawCandidates[0] != 150.50 || fs.RawCandidates[1] != 75.25 {
		t.Fatalf("raw candidates = %v, want [150.5 75.25]", fs.RawCandidates)
	}
	if fs.BaseFee == nil || *fs.BaseFee != 150.50 {
		t.Errorf("base fee = %v, want 150.50", fs.BaseFee)
	}
}

func TestFeesUnlabelledTakesFirst(t *testing.T) {
	fs := Fees("Permit charges are $200 plus $300 for plan review")
	if fs.BaseFee == nil || *fs.BaseFee != 200 {
		t.Errorf("base fee = %v, want 200 (first in raw order)", fs.BaseFee)
	}
	if fs.MinFee != nil || fs.MaxFee != nil {
		t.Errorf("min/max should be unset, got %v / %v", fs.MinFee, fs.MaxFee)
	}
}

func TestFeesThousandsSeparator(t *testing.T) {
	fs := Fees("Maximum fee: $1,250.00")
	if len(fs.RawCandidates) != 1 || fs.RawCandidates[0] != 1250 {
		t.Fatalf("raw candidates = %v, want [1250]", fs.RawCandidates)
	}
	if fs.MaxFee == nil || *fs.MaxFee != 1250 {
		t.Errorf("max fee = %v, want 1250", fs.MaxFee)
	}
}

func TestFeesBaseAlwaysInRaw(t *testing.T) {
	// Every derived amount must come from the candidate list.
	fs := Fees("Base Fee: $88 then Minimum: $12 and Maximum: $900")
	inRaw := func(v *float64) bool {
		if v == nil {
			return true
		}
		for _, r := range fs.RawCandidates {
			if r == *v {
				return true
			}
		}
		return false
	}
	for name, v := range map[string]*float64{"base": fs.BaseFee, "min": fs.MinFee, "max": fs.MaxFee} {
		if !inRaw(v) {
			t.Errorf("%s fee %v not present in raw candidates %v", name, *v, fs.RawCandidates)
		}
	}
}

func TestFeesEmpty(t *testing.T) {
	fs := Fees("no numbers here")
	if fs.BaseFee != nil || fs.ValuationRate != nil || len(fs.RawCandidates) != 0 {
		t.Errorf("expected empty structure, got %+v", fs)
	}
}

func TestFindSection(t *testing.T) {
	text := "PLUMBING PERMITS\nBase Fee: $90\n\nELECTRICAL PERMITS\nBase Fee: $150\nMinimum Fee: $50"

	section, ok := FindSection(text, []string{"electrical", "electric"})
	if !ok {
		t.Fatal("expected electrical section")
	}
	if want := "ELECTRICAL PERMITS"; !strings.Contains(section, want) {
		t.Errorf("section %q missing %q", section, want)
	}
	if !strings.Contains(section, "$150") {
		t.Errorf("section %q should include the fee line", section)
	}

	if _, ok := FindSection(text, []string{"mechanical"}); ok {
		t.Error("expected no mechanical section")
	}
}

func TestFindSectionCaseInsensitive(t *testing.T) {
	if _, ok := FindSection("fees for Electric work: $10", []string{"ELECTRIC"}); !ok {
		t.Error("alias match should ignore case")
	}
}

func TestEffectiveDate(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"Effective July 1, 2024 all fees increase", "July 1, 2024", true},
		{"schedule updated 01/15/2024", "01/15/2024", true},
		{"Adopted in 2023 by council", "2023", true},
		{"no dates whatsoever", "", false},
	}
	for _, tt := range tests {
		got, ok := EffectiveDate(tt.text)
		if ok != tt.ok || got != tt.want {
			t.Errorf("EffectiveDate(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}
