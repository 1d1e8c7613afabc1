// Package stockreport maps the weekly product-stock survey onto its
// warehouse table.
//
// The target has a generated "id" key plus 22 data columns. Each column is
// fed from one normalized survey column; four count questions are coerced to
// integers with 0 standing in for a missing or non-numeric answer.
package stockreport

import (
	"koboetl/internal/dataset"
	"koboetl/internal/storage"
	"koboetl/internal/transformer"
)

// DateColumn is the normalized survey column coerced to a calendar date.
const DateColumn = "date_of_reporting"

// Field binds one target column to its source column.
type Field struct {
	Column string
	Source string
	Type   string
	// ZeroDefault coerces the value to an integer, 0 when missing or
	// non-numeric.
	ZeroDefault bool
}

// Fields is the target column order.
var Fields = []Field{
	{Column: "start", Source: "start", Type: storage.TypeTimestampTZ},
	{Column: "end", Source: "end", Type: storage.TypeTimestampTZ},
	{Column: "branch_location", Source: "branch_location", Type: storage.TypeText},
	{Column: "date_of_reporting", Source: DateColumn, Type: storage.TypeDate},
	{Column: "select_the_product_name", Source: "select_the_product_name", Type: storage.TypeText},
	{Column: "select_product_category", Source: "select_product_category", Type: storage.TypeText},
	{Column: "opening_stock_for_week", Source: "what_was_the_opening_stock_for_the_week", Type: storage.TypeInteger, ZeroDefault: true},
	{Column: "quantity_received_this_week", Source: "what_was_the_quantity_of_the_product_recieved_this_week?", Type: storage.TypeInteger, ZeroDefault: true},
	{Column: "units_sold_this_week", Source: "how_many_units_of_this_product_were_sold_this_week?", Type: storage.TypeInteger, ZeroDefault: true},
	{Column: "delay_in_supply_this_week", Source: "was_there_any_delay_in_supply_this_week?", Type: storage.TypeText},
	{Column: "delay_days", Source: "if_yes,_how_many_days_was_the_delay?", Type: storage.TypeInteger, ZeroDefault: true},
	{Column: "recommendation", Source: "what_recommendation_would_you_like_to_make_to_improve_product_availability_or_supply?", Type: storage.TypeText},
	// _id and _index reach the driver as the exported strings and the database
	// casts them. A non-integer value such as "101.0" fails the insert and
	// rolls back the whole load.
	{Column: "_id", Source: "_id", Type: storage.TypeInteger},
	{Column: "_uuid", Source: "_uuid", Type: storage.TypeText},
	{Column: "_submission_time", Source: "_submission_time", Type: storage.TypeTimestampTZ},
	{Column: "_validation_status", Source: "_validation_status", Type: storage.TypeText},
	{Column: "_notes", Source: "_notes", Type: storage.TypeText},
	{Column: "_status", Source: "_status", Type: storage.TypeText},
	{Column: "_submitted_by", Source: "_submitted_by", Type: storage.TypeText},
	{Column: "__version__", Source: "__version__", Type: storage.TypeText},
	{Column: "_tags", Source: "_tags", Type: storage.TypeText},
	{Column: "_index", Source: "_index", Type: storage.TypeInteger},
}

// Table returns the spec of schema.name.
func Table(schema, name string) storage.TableSpec {
	cols := make([]storage.ColumnSpec, len(Fields))
	for i, f := range Fields {
		cols[i] = storage.ColumnSpec{Name: f.Column, Type: f.Type}
	}
	return storage.TableSpec{
		Name:       schema + "." + name,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "id"},
		Columns:    cols,
	}
}

// BuildRow projects one dataset row onto the columns of Table, in Fields
// order. Zero-default fields are int64; other values pass through unchanged;
// a source column absent from the dataset yields nil.
func BuildRow(ds *dataset.Dataset, row dataset.Row) []any {
	out := make([]any, len(Fields))
	for i, f := range Fields {
		v, _ := ds.Value(row, f.Source)
		if f.ZeroDefault {
			out[i] = transformer.CoerceInt(v, 0)
			continue
		}
		out[i] = v
	}
	return out
}

// BuildRows applies BuildRow to every row of ds.
func BuildRows(ds *dataset.Dataset) [][]any {
	out := make([][]any, 0, ds.Len())
	for _, r := range ds.Rows {
		out = append(out, BuildRow(ds, r))
	}
	return out
}
