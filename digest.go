package feewatch

import (
	"sort"
	"strconv"
	"strings"

	"github.com/civicsignal/feewatch/schedule"
)

// RenderDigest renders change events as a plain-text alert: one
// paragraph per jurisdiction, one line per event. Jurisdictions with
// no events don't appear. Empty input renders an empty string.
func RenderDigest(events []schedule.ChangeEvent) string {
	if len(events) == 0 {
		return ""
	}

	byCity := make(map[string][]schedule.ChangeEvent)
	for _, e := range events {
		byCity[e.City] = append(byCity[e.City], e)
	}
	cities := make([]string, 0, len(byCity))
	for c := range byCity {
		cities = append(cities, c)
	}
	sort.Strings(cities)

	var sb strings.Builder
	for i, city := range cities {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(city)
		sb.WriteString(":\n")
		for _, e := range byCity[city] {
			sb.WriteString(digestLine(e))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func digestLine(e schedule.ChangeEvent) string {
	if e.Kind == schedule.ChangeDocument {
		return "- document updated (content fingerprint changed)"
	}

	var sb strings.Builder
	sb.WriteString("- ")
	sb.WriteString(e.Category)
	if e.Field != "base_fee" {
		sb.WriteByte(' ')
		sb.WriteString(e.Field)
	}
	sb.WriteString(": ")
	sb.WriteString(digestValue(e.Field, e.Old))
	sb.WriteString(" → ")
	sb.WriteString(digestValue(e.Field, e.New))
	return sb.String()
}

// digestValue renders fee amounts with a dollar sign; valuation rates
// stay bare fractions. Absent values render as n/a.
func digestValue(field string, v *float64) string {
	if v == nil {
		return "n/a"
	}
	s := strconv.FormatFloat(*v, 'f', -1, 64)
	if field == "valuation_rate" {
		return s
	}
	return "$" + s
}
