// Package sqlite is the SQLite storage backend (modernc.org/sqlite, no cgo).
//
// SQLite has no schemas; a schema is emulated with ATTACH DATABASE. For a
// file DSN the schema lives in "<schema>.db" next to the main file, for an
// in-memory DSN it is another in-memory database on the same connection.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"koboetl/internal/storage"
)

func init() {
	storage.Register("sqlite", New)
}

// Repo implements storage.Repository for SQLite.
//
// Timestamps and dates are stored as TEXT: dates as "2006-01-02", time.Time
// timestamps as RFC3339Nano in UTC. Columns are declared TEXT rather than
// DATE/TIMESTAMP so the driver hands values back as written.
type Repo struct {
	db  *sql.DB
	dsn string
}

// New opens cfg.DSN (a file path, "file:" URI or ":memory:").
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// Attached schemas are per connection; pin to one.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Repo{db: db, dsn: cfg.DSN}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureSchema attaches schema unless it is "main", "temp" or already attached.
func (r *Repo) EnsureSchema(ctx context.Context, schema string) error {
	if schema == "" || schema == "main" || schema == "temp" {
		return nil
	}

	attached, err := r.attached(ctx)
	if err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if attached[schema] {
		return nil
	}

	q := fmt.Sprintf("ATTACH DATABASE %s AS %s;", sqlString(attachPath(r.dsn, schema)), sqlIdent(schema))
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	return nil
}

func (r *Repo) attached(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name FROM pragma_database_list")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func (r *Repo) DropTable(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlTableIdent(table)+";"); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	return nil
}

func (r *Repo) CreateTable(ctx context.Context, spec storage.TableSpec) error {
	q, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// InsertRows runs one prepared INSERT per row in a single transaction.
func (r *Repo) InsertRows(ctx context.Context, spec storage.TableSpec, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert into %s: no columns", spec.Name)
	}

	types := make([]string, len(columns))
	for i, c := range columns {
		if cs, ok := spec.Column(c); ok {
			types[i] = cs.Type
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: begin: %w", spec.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, buildInsertSQL(spec.Name, columns))
	if err != nil {
		return 0, fmt.Errorf("insert into %s: prepare: %w", spec.Name, err)
	}
	defer stmt.Close()

	args := make([]any, len(columns))
	var n int64
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("insert into %s: row %d: %d values for %d columns", spec.Name, i+1, len(row), len(columns))
		}
		for j, v := range row {
			args[j] = toSQLiteValue(v, types[j])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("insert into %s: row %d: %w", spec.Name, i+1, err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert into %s: commit: %w", spec.Name, err)
	}
	return n, nil
}

var _ storage.Repository = (*Repo)(nil)

func toSQLiteValue(v any, typ string) any {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	if typ == storage.TypeDate {
		return t.Format("2006-01-02")
	}
	return formatSQLiteTime(t)
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// attachPath picks the database file backing schema.
func attachPath(dsn, schema string) string {
	if strings.Contains(dsn, "mode=memory") {
		return ":memory:"
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return ":memory:"
	}
	return filepath.Join(filepath.Dir(path), schema+".db")
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func sqlTableIdent(name string) string {
	schema, table := storage.SplitQualifiedName(name)
	if schema == "" {
		return sqlIdent(table)
	}
	return sqlIdent(schema) + "." + sqlIdent(table)
}

func sqliteType(logical string) (string, error) {
	switch logical {
	case storage.TypeInteger:
		return "INTEGER", nil
	case storage.TypeText, storage.TypeDate, storage.TypeTimestampTZ:
		return "TEXT", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", logical)
	}
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	defs := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		defs = append(defs, sqlIdent(t.PrimaryKey.Name)+" INTEGER PRIMARY KEY AUTOINCREMENT")
	}
	for _, c := range t.Columns {
		typ, err := sqliteType(c.Type)
		if err != nil {
			return "", fmt.Errorf("table %s: column %s: %w", t.Name, c.Name, err)
		}
		def := sqlIdent(c.Name) + " " + typ
		if c.NotNull {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n);", sqlTableIdent(t.Name), strings.Join(defs, ",\n\t")), nil
}

func buildInsertSQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = sqlIdent(c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sqlTableIdent(table),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "),
	)
}
