package stockreport

import (
	"testing"
	"time"

	"koboetl/internal/dataset"
)

func TestTable(t *testing.T) {
	t.Parallel()

	spec := Table("anne_2", "tinto")
	if spec.Name != "anne_2.tinto" {
		t.Fatalf("Name=%q", spec.Name)
	}
	if spec.PrimaryKey == nil || spec.PrimaryKey.Name != "id" {
		t.Fatalf("PrimaryKey=%+v", spec.PrimaryKey)
	}
	if len(spec.Columns) != 22 || len(spec.ColumnNames()) != 22 {
		t.Fatalf("columns=%d, want 22", len(spec.Columns))
	}
	if err := spec.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cols := spec.ColumnNames(); cols[0] != "start" || cols[21] != "_index" {
		t.Fatalf("column order=%v", cols)
	}
}

func TestBuildRow_MapsAndCoerces(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, 10, 6, 0, 0, 0, 0, time.UTC)
	ds := dataset.New([]string{
		"start", "branch_location", "date_of_reporting",
		"what_was_the_opening_stock_for_the_week",
		"what_was_the_quantity_of_the_product_recieved_this_week?",
		"how_many_units_of_this_product_were_sold_this_week?",
		"if_yes,_how_many_days_was_the_delay?",
		"_id", "extra_column",
	})
	ds.Append(dataset.Row{V: []any{"2025-10-06T08:00:00Z", "Accra", day, "12", "3.0", nil, "abc", "101", "ignored"}})

	got := BuildRow(ds, ds.Rows[0])
	if len(got) != 22 {
		t.Fatalf("len=%d, want 22", len(got))
	}

	want := map[string]any{
		"start":                       "2025-10-06T08:00:00Z",
		"end":                         nil,
		"branch_location":             "Accra",
		"date_of_reporting":           day,
		"opening_stock_for_week":      int64(12),
		"quantity_received_this_week": int64(3),
		"units_sold_this_week":        int64(0),
		"delay_days":                  int64(0),
		"recommendation":              nil,
		"_id":                         "101",
		"_index":                      nil,
	}
	cols := Table("s", "t").ColumnNames()
	for i, c := range cols {
		w, ok := want[c]
		if !ok {
			continue
		}
		if got[i] != w {
			t.Fatalf("%s=%#v, want %#v", c, got[i], w)
		}
	}
}

func TestBuildRow_NumericDefaultsWhenColumnsAbsent(t *testing.T) {
	t.Parallel()

	ds := dataset.New([]string{"branch_location"})
	ds.Append(dataset.Row{V: []any{"Tema"}})

	got := BuildRow(ds, ds.Rows[0])
	for i, f := range Fields {
		if f.ZeroDefault {
			if got[i] != int64(0) {
				t.Fatalf("%s=%#v, want 0", f.Column, got[i])
			}
		} else if f.Column != "branch_location" && got[i] != nil {
			t.Fatalf("%s=%#v, want nil", f.Column, got[i])
		}
	}
}

func TestBuildRows(t *testing.T) {
	t.Parallel()

	ds := dataset.New([]string{"_uuid"})
	ds.Append(dataset.Row{V: []any{"a"}})
	ds.Append(dataset.Row{V: []any{"b"}})

	rows := BuildRows(ds)
	if len(rows) != 2 || rows[1][13] != "b" {
		t.Fatalf("rows=%v", rows)
	}
}
