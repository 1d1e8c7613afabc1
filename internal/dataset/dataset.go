// Package dataset holds the in-memory table produced by the parser.
//
// A Dataset is built once by the parser, adjusted in place by the transformer
// and then read by the loader. It is not safe for concurrent mutation.
package dataset

// Row is a positional record aligned to Dataset.Columns.
//
// V holds string, time.Time or nil (missing). Line is the 1-based logical CSV
// record number, header included, so the first data row is line 2.
type Row struct {
	V    []any
	Line int
}

// Dataset is an ordered set of columns and the rows under them.
//
// Column names may repeat after normalization. Lookups by name resolve to the
// last column carrying that name.
type Dataset struct {
	Columns []string
	Rows    []Row

	index map[string]int
}

// New returns an empty dataset with the given column order.
func New(columns []string) *Dataset {
	ds := &Dataset{Columns: append([]string(nil), columns...)}
	ds.reindex()
	return ds
}

func (d *Dataset) reindex() {
	d.index = make(map[string]int, len(d.Columns))
	for i, c := range d.Columns {
		d.index[c] = i
	}
}

// Index returns the position of column name.
func (d *Dataset) Index(name string) (int, bool) {
	if d == nil {
		return -1, false
	}
	if d.index == nil {
		d.reindex()
	}
	i, ok := d.index[name]
	return i, ok
}

// Has reports whether the dataset carries a column called name.
func (d *Dataset) Has(name string) bool {
	_, ok := d.Index(name)
	return ok
}

// Value returns row's value under column name. ok is false when the column
// does not exist; a present column with a missing value yields (nil, true).
func (d *Dataset) Value(r Row, name string) (any, bool) {
	i, ok := d.Index(name)
	if !ok || i >= len(r.V) {
		return nil, false
	}
	return r.V[i], true
}

// Append adds r to the dataset. r.V must have len(Columns) entries.
func (d *Dataset) Append(r Row) {
	d.Rows = append(d.Rows, r)
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Width returns the number of columns, duplicates included.
func (d *Dataset) Width() int {
	if d == nil {
		return 0
	}
	return len(d.Columns)
}
