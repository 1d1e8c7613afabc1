package pipeline

import (
	"fmt"
	"io"
)

// Reporter prints the operator-facing progress lines. A nil Reporter or one
// without a writer prints nothing.
type Reporter struct {
	W io.Writer
}

// NewReporter returns a Reporter writing to w.
func NewReporter(w io.Writer) *Reporter { return &Reporter{W: w} }

func (r *Reporter) printf(format string, v ...any) {
	if r == nil || r.W == nil {
		return
	}
	fmt.Fprintf(r.W, format+"\n", v...)
}

func (r *Reporter) LoadingConfig() { r.printf("Loading environment variables...") }
func (r *Reporter) Fetching()      { r.printf("Fetching data from KoboToolbox...") }
func (r *Reporter) Fetched()       { r.printf("Data fetched successfully!\n") }

// FetchFailed reports a non-200 response. summary (the page title of an HTML
// error body) is appended when present.
func (r *Reporter) FetchFailed(status int, summary string) {
	if summary != "" {
		r.printf("Failed to fetch data. Status code: %d (%s)", status, summary)
		return
	}
	r.printf("Failed to fetch data. Status code: %d", status)
}

func (r *Reporter) Cleaning() { r.printf("Cleaning and transforming data...") }

func (r *Reporter) Shape(rows, cols int) {
	r.printf("Data contains %d rows and %d columns.", rows, cols)
}

func (r *Reporter) Cleaned()                { r.printf("Data cleaned successfully!\n") }
func (r *Reporter) Connecting(kind string)  { r.printf("Connecting to %s...", backendName(kind)) }
func (r *Reporter) Connected(kind string)   { r.printf("Connected to %s!\n", backendName(kind)) }
func (r *Reporter) TableCreated(tbl string) { r.printf("Table '%s' created successfully!\n", tbl) }
func (r *Reporter) Inserting(kind string)   { r.printf("Inserting data into %s...", backendName(kind)) }

func (r *Reporter) Inserted(n int64, tbl string) {
	r.printf("%d records inserted successfully into '%s'!\n", n, tbl)
}

func (r *Reporter) Completed() {
	r.printf("Connection closed. ETL pipeline completed successfully!")
}

// DryRunDone closes a run that skipped the database.
func (r *Reporter) DryRunDone() {
	r.printf("Dry run: database load skipped.")
}

func backendName(kind string) string {
	switch kind {
	case "postgres":
		return "PostgreSQL"
	case "mssql":
		return "SQL Server"
	case "sqlite":
		return "SQLite"
	default:
		return kind
	}
}
