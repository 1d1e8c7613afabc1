// Package csv parses a delimited export into a dataset.Dataset.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"koboetl/internal/dataset"
	"koboetl/internal/transformer"
)

// ErrInvalidEncoding marks a record holding bytes that are not valid UTF-8.
var ErrInvalidEncoding = errors.New("csv: invalid utf-8 in record")

// missingTokens are cell values read as "missing", on top of the empty string.
var missingTokens = map[string]struct{}{
	"#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {},
	"N/A": {}, "NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {},
	"nan": {}, "null": {},
}

// ParseDataset reads a comma-separated body whose first record is the header.
//
// Headers go through transformer.NormalizeColumn. A leading byte-order mark is
// honored (UTF-8 or UTF-16) and removed. Cell values are kept verbatim except
// that empty cells and the usual NA spellings become nil.
//
// Edge cases:
//   - empty input yields an empty dataset and no error.
//   - a record whose field count differs from the header, a CSV syntax error,
//     or a record with invalid UTF-8 is skipped; onSkip (may be nil) receives
//     its logical line number and the reason.
//
// Errors:
//   - returned only when the header itself cannot be read or src fails.
func ParseDataset(src io.Reader, onSkip func(line int, err error)) (*dataset.Dataset, error) {
	// Without a BOM the bytes pass through untouched so that invalid UTF-8
	// is detected per record instead of being replaced.
	r := transform.NewReader(src, unicode.BOMOverride(transform.Nop))

	cr := csv.NewReader(r)
	cr.Comma = ','
	cr.ReuseRecord = true
	// 0: the header fixes the field count for every following record.
	cr.FieldsPerRecord = 0

	var line int
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	hdr, err := readRec()
	if err == io.EOF {
		return dataset.New(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := transformer.NormalizeColumns(append([]string(nil), hdr...))
	ds := dataset.New(cols)

	skip := func(err error) {
		if onSkip != nil {
			onSkip(line, err)
		}
	}

	for {
		rec, err := readRec()
		if err == io.EOF {
			return ds, nil
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, fmt.Errorf("csv read: %w", err)
			}
			skip(fmt.Errorf("csv read: %w", err))
			continue
		}

		row := dataset.Row{V: make([]any, len(cols)), Line: line}
		valid := true
		for i, v := range rec {
			if !utf8.ValidString(v) {
				valid = false
				break
			}
			row.V[i] = cellValue(v)
		}
		if !valid {
			skip(ErrInvalidEncoding)
			continue
		}
		ds.Append(row)
	}
}

func cellValue(v string) any {
	if v == "" {
		return nil
	}
	if _, ok := missingTokens[v]; ok {
		return nil
	}
	return v
}
