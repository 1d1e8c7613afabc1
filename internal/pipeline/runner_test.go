package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"koboetl/internal/config"
	"koboetl/internal/datasource/httpds"
	"koboetl/internal/storage"
	_ "koboetl/internal/storage/sqlite"
)

const surveyCSV = `start,end,Branch Location,Date of Reporting,Select the product name,What was the opening stock for the week,How many units of this product were sold this week?,"If yes, how many days was the delay?",_id,_index
2024-03-01T08:00:00.000+01:00,2024-03-01T08:05:00.000+01:00,Accra,2024-03-01,Rice,10,4,,101,1
2024-03-02T08:00:00.000+01:00,2024-03-02T08:05:00.000+01:00,Kumasi,not a date,Oil,abc,2.7,3,102,2
2024-03-03T08:00:00.000+01:00,2024-03-03T08:05:00.000+01:00,Tamale,03/04/2024,Beans,,1,,103,3
`

func newSurveyServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "enumerator" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sqliteConfig(url, dbPath string) config.Config {
	return config.Config{
		Kobo: config.KoboConfig{URL: url, Username: "enumerator", Password: "s3cret"},
		DB:   config.DBConfig{Kind: config.KindSQLite, Database: dbPath},
		Target: config.TargetConfig{
			Schema: config.DefaultSchema,
			Table:  config.DefaultTable,
		},
	}
}

func newRunner(cfg config.Config, out *bytes.Buffer) *Runner {
	return &Runner{
		Config:   cfg,
		Fetcher:  &httpds.Fetcher{JobName: "test"},
		Open:     storage.New,
		Reporter: NewReporter(out),
		JobName:  "test",
		RunID:    "run-1",
	}
}

func openSchemaDB(t *testing.T, dir string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(dir, config.DefaultSchema+".db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRun_EndToEndSQLite(t *testing.T) {
	t.Parallel()

	srv := newSurveyServer(t, http.StatusOK, surveyCSV)
	dir := t.TempDir()
	var out bytes.Buffer

	res, err := newRunner(sqliteConfig(srv.URL, filepath.Join(dir, "main.db")), &out).Run(context.Background())
	if err != nil {
		t.Fatalf("Run err=%v\noutput:\n%s", err, out.String())
	}
	if res.Rows != 3 || res.Inserted != 3 || res.BadDates != 1 {
		t.Fatalf("res=%+v", res)
	}

	for _, want := range []string{
		"Fetching data from KoboToolbox...",
		"Data contains 3 rows and 10 columns.",
		"Table 'anne_2.tinto' created successfully!",
		"3 records inserted successfully into 'anne_2.tinto'!",
		"Connection closed. ETL pipeline completed successfully!",
	} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}

	db := openSchemaDB(t, dir)
	rows, err := db.Query(`SELECT id, branch_location, date_of_reporting, opening_stock_for_week,
		units_sold_this_week, delay_days, quantity_received_this_week, _id FROM tinto ORDER BY id`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	type got struct {
		id                         int64
		branch                     string
		date                       sql.NullString
		opening, sold, delay, recv int64
		subID                      string
	}
	var all []got
	for rows.Next() {
		var g got
		if err := rows.Scan(&g.id, &g.branch, &g.date, &g.opening, &g.sold, &g.delay, &g.recv, &g.subID); err != nil {
			t.Fatalf("scan: %v", err)
		}
		all = append(all, g)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("rows=%d, want 3", len(all))
	}

	first := all[0]
	if first.id != 1 || first.branch != "Accra" || first.date.String != "2024-03-01" {
		t.Fatalf("row 1=%+v", first)
	}
	if first.opening != 10 || first.sold != 4 || first.delay != 0 || first.recv != 0 {
		t.Fatalf("row 1 numbers=%+v", first)
	}
	if first.subID != "101" {
		t.Fatalf("row 1 _id=%q", first.subID)
	}

	second := all[1]
	if second.date.Valid {
		t.Fatalf("row 2 date=%q, want NULL", second.date.String)
	}
	if second.opening != 0 || second.sold != 2 || second.delay != 3 {
		t.Fatalf("row 2 numbers=%+v", second)
	}

	if all[2].date.String != "2024-03-04" {
		t.Fatalf("row 3 date=%q, want month-first parse", all[2].date.String)
	}
}

func TestRun_RoundTripAllColumns(t *testing.T) {
	t.Parallel()

	header := strings.Join([]string{
		"start", "end", "Branch Location", "Date of Reporting",
		"Select the product name", "Select product category",
		"What was the opening stock for the week",
		"What was the quantity of the product recieved this week?",
		"How many units of this product were sold this week?",
		"Was there any delay in supply this week?",
		`"If yes, how many days was the delay?"`,
		"What recommendation would you like to make to improve product availability or supply?",
		"_id", "_uuid", "_submission_time", "_validation_status", "_notes",
		"_status", "_submitted_by", "__version__", "_tags", "_index",
	}, ",")
	record := strings.Join([]string{
		"2024-03-01T08:00:00.000+01:00", "2024-03-01T08:05:00.000+01:00",
		"Accra", "2024-03-01", "Rice", "Grains", "10", "5", "4", "yes", "2",
		"More trucks", "101", "0b8f2c4e-6a1d-4f7e-9c3b-2d5e8a7f1c90",
		"2024-03-01T07:05:10", "validated", "checked", "submitted_via_web",
		"enumerator", "vXk9", "t1", "1",
	}, ",")

	srv := newSurveyServer(t, http.StatusOK, header+"\n"+record+"\n")
	dir := t.TempDir()
	res, err := newRunner(sqliteConfig(srv.URL, filepath.Join(dir, "main.db")), &bytes.Buffer{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if res.Columns != 22 || res.Inserted != 1 {
		t.Fatalf("res=%+v", res)
	}

	want := []struct{ col, val string }{
		{"id", "1"},
		{"start", "2024-03-01T08:00:00.000+01:00"},
		{"end", "2024-03-01T08:05:00.000+01:00"},
		{"branch_location", "Accra"},
		{"date_of_reporting", "2024-03-01"},
		{"select_the_product_name", "Rice"},
		{"select_product_category", "Grains"},
		{"opening_stock_for_week", "10"},
		{"quantity_received_this_week", "5"},
		{"units_sold_this_week", "4"},
		{"delay_in_supply_this_week", "yes"},
		{"delay_days", "2"},
		{"recommendation", "More trucks"},
		{"_id", "101"},
		{"_uuid", "0b8f2c4e-6a1d-4f7e-9c3b-2d5e8a7f1c90"},
		{"_submission_time", "2024-03-01T07:05:10"},
		{"_validation_status", "validated"},
		{"_notes", "checked"},
		{"_status", "submitted_via_web"},
		{"_submitted_by", "enumerator"},
		{"__version__", "vXk9"},
		{"_tags", "t1"},
		{"_index", "1"},
	}

	rows, err := openSchemaDB(t, dir).Query(`SELECT * FROM tinto`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	if len(cols) != len(want) {
		t.Fatalf("columns=%v, want %d", cols, len(want))
	}
	if !rows.Next() {
		t.Fatalf("no row loaded")
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		t.Fatalf("scan: %v", err)
	}
	for i, w := range want {
		if cols[i] != w.col {
			t.Fatalf("column %d=%q, want %q", i, cols[i], w.col)
		}
		got := vals[i]
		if b, ok := got.([]byte); ok {
			got = string(b)
		}
		if fmt.Sprint(got) != w.val {
			t.Fatalf("%s=%#v, want %q", w.col, vals[i], w.val)
		}
	}
	if rows.Next() {
		t.Fatalf("more than one row loaded")
	}
}

func TestRun_SecondRunReplacesTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "main.db")

	first := newSurveyServer(t, http.StatusOK, surveyCSV)
	if _, err := newRunner(sqliteConfig(first.URL, dbPath), &bytes.Buffer{}).Run(context.Background()); err != nil {
		t.Fatalf("first Run err=%v", err)
	}

	lines := strings.Split(strings.TrimSpace(surveyCSV), "\n")
	second := newSurveyServer(t, http.StatusOK, lines[0]+"\n"+lines[1]+"\n")
	res, err := newRunner(sqliteConfig(second.URL, dbPath), &bytes.Buffer{}).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run err=%v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("Inserted=%d, want 1", res.Inserted)
	}

	var n, maxID int
	if err := openSchemaDB(t, dir).QueryRow(`SELECT COUNT(*), MAX(id) FROM tinto`).Scan(&n, &maxID); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 || maxID != 1 {
		t.Fatalf("count=%d max(id)=%d, want 1/1", n, maxID)
	}
}

func TestRun_NonOKStatusStopsBeforeDatabase(t *testing.T) {
	t.Parallel()

	srv := newSurveyServer(t, http.StatusNotFound, "<html><head><title> Not   Found </title></head></html>")
	var out bytes.Buffer
	opened := false

	cfg := sqliteConfig(srv.URL, "")
	cfg.DB = config.DBConfig{} // missing DB settings must not matter
	r := newRunner(cfg, &out)
	r.Open = func(context.Context, storage.Config) (storage.Repository, error) {
		opened = true
		return nil, errors.New("unexpected")
	}

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run err=%v, want nil", err)
	}
	if opened {
		t.Fatalf("repository opened after failed fetch")
	}
	if res.StatusCode != http.StatusNotFound || !errors.Is(res.Err, ErrFetchStatus) {
		t.Fatalf("res=%+v", res)
	}
	if want := "Failed to fetch data. Status code: 404 (Not Found)"; !strings.Contains(out.String(), want) {
		t.Fatalf("output=%q, want %q", out.String(), want)
	}
	if strings.Contains(out.String(), "Cleaning") {
		t.Fatalf("parse ran after failed fetch:\n%s", out.String())
	}
}

func TestRun_MissingKoboSettings(t *testing.T) {
	t.Parallel()

	r := newRunner(config.Config{}, &bytes.Buffer{})
	_, err := r.Run(context.Background())

	var cerr *config.Error
	if !errors.As(err, &cerr) || len(cerr.Missing) != 3 {
		t.Fatalf("err=%v, want *config.Error with 3 missing keys", err)
	}
}

func TestRun_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newRunner(sqliteConfig(url, ":memory:"), &bytes.Buffer{}).Run(context.Background())
	if !errors.Is(err, httpds.ErrTransport) {
		t.Fatalf("err=%v, want ErrTransport", err)
	}
	if !strings.HasPrefix(err.Error(), "fetch: ") {
		t.Fatalf("err=%q, want fetch prefix", err.Error())
	}
}

func TestRun_MissingDBSettingsAfterFetch(t *testing.T) {
	t.Parallel()

	srv := newSurveyServer(t, http.StatusOK, surveyCSV)
	cfg := sqliteConfig(srv.URL, "")
	cfg.DB = config.DBConfig{Kind: config.KindPostgres, Host: "db"}

	_, err := newRunner(cfg, &bytes.Buffer{}).Run(context.Background())
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("err=%v, want *config.Error", err)
	}
	if strings.Contains(strings.Join(cerr.Missing, ","), config.EnvDBHost) {
		t.Fatalf("Missing=%v, host was set", cerr.Missing)
	}
}

func TestRun_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	body := "start,Branch Location\n" +
		"2024-01-01,Accra\n" +
		"2024-01-02,Kumasi,extra\n" +
		"2024-01-03,Tamale\n"
	srv := newSurveyServer(t, http.StatusOK, body)

	var logs strings.Builder
	r := newRunner(sqliteConfig(srv.URL, ":memory:"), &bytes.Buffer{})
	r.DryRun = true
	r.Logger = logRecorder{&logs}

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if res.Rows != 2 || res.Skipped != 1 {
		t.Fatalf("res=%+v, want 2 rows 1 skipped", res)
	}
	if !strings.Contains(logs.String(), "stage=transform missing column=date_of_reporting") {
		t.Fatalf("logs missing date column warning:\n%s", logs.String())
	}
	if !strings.Contains(logs.String(), "stage=parse skip line=3") {
		t.Fatalf("logs missing skip line:\n%s", logs.String())
	}
}

func TestRun_DryRunNeverOpens(t *testing.T) {
	t.Parallel()

	srv := newSurveyServer(t, http.StatusOK, surveyCSV)
	var out bytes.Buffer
	r := newRunner(sqliteConfig(srv.URL, ""), &out)
	r.DryRun = true
	r.Open = func(context.Context, storage.Config) (storage.Repository, error) {
		t.Fatalf("Open called in dry run")
		return nil, nil
	}

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if res.Rows != 3 || res.Columns != 10 || res.Inserted != 0 {
		t.Fatalf("res=%+v", res)
	}
	if !strings.Contains(out.String(), "Dry run") {
		t.Fatalf("output=%q", out.String())
	}
}

type failingRepo struct {
	closed   int
	failStep string
}

func (f *failingRepo) Close() { f.closed++ }

func (f *failingRepo) EnsureSchema(context.Context, string) error { return f.fail("schema") }
func (f *failingRepo) DropTable(context.Context, string) error    { return f.fail("drop") }

func (f *failingRepo) CreateTable(context.Context, storage.TableSpec) error { return f.fail("create") }

func (f *failingRepo) InsertRows(context.Context, storage.TableSpec, []string, [][]any) (int64, error) {
	return 0, f.fail("insert")
}

func (f *failingRepo) fail(step string) error {
	if step == f.failStep {
		return errors.New(step + " boom")
	}
	return nil
}

func TestRun_StorageFailuresCloseConnection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		step    string
		wantErr string
	}{
		{step: "schema", wantErr: "schema: schema boom"},
		{step: "create", wantErr: "schema: create boom"},
		{step: "insert", wantErr: "load: insert boom"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.step, func(t *testing.T) {
			t.Parallel()

			srv := newSurveyServer(t, http.StatusOK, surveyCSV)
			repo := &failingRepo{failStep: tc.step}
			var out bytes.Buffer
			r := newRunner(sqliteConfig(srv.URL, ":memory:"), &out)
			r.Open = func(context.Context, storage.Config) (storage.Repository, error) { return repo, nil }

			_, err := r.Run(context.Background())
			if err == nil || err.Error() != tc.wantErr {
				t.Fatalf("err=%v, want %q", err, tc.wantErr)
			}
			if repo.closed != 1 {
				t.Fatalf("Close called %d times, want 1", repo.closed)
			}
			if strings.Contains(out.String(), "completed successfully") {
				t.Fatalf("success reported on failure:\n%s", out.String())
			}
		})
	}
}

func TestReporter_NilIsSilent(t *testing.T) {
	t.Parallel()

	var r *Reporter
	r.Fetching()
	r.Inserted(3, "a.b")
	NewReporter(nil).Completed()
}

type logRecorder struct{ b *strings.Builder }

func (l logRecorder) Printf(format string, v ...any) {
	l.b.WriteString(fmt.Sprintf(format, v...))
	l.b.WriteByte('\n')
}
