// Package transformer holds the value-level transforms applied between parsing
// and loading: column-name normalization, date coercion and integer coercion.
package transformer

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var columnReplacer = strings.NewReplacer(
	" ", "_",
	"-", "_",
	"&", "and",
)

// NormalizeColumn maps a raw header to its canonical column name:
// NFC-normalized, trimmed, spaces and hyphens replaced by underscores, "&"
// spelled "and", lowercased.
//
// Examples:
//
//	"Date Of Reporting" -> "date_of_reporting"
//	"Branch-Location"   -> "branch_location"
//	"Stock & Sales"     -> "stock_and_sales"
//
// Other punctuation ("?", ",") is kept as-is.
func NormalizeColumn(s string) string {
	s = norm.NFC.String(s)
	s = strings.TrimSpace(s)
	s = columnReplacer.Replace(s)
	return cases.Lower(language.Und).String(s)
}

// NormalizeColumns applies NormalizeColumn to each header in place and
// returns hdr.
func NormalizeColumns(hdr []string) []string {
	for i, h := range hdr {
		hdr[i] = NormalizeColumn(h)
	}
	return hdr
}
