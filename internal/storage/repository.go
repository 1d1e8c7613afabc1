package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a repository.
//
// Edge cases:
//   - Kind must match a registered backend ("postgres", "sqlite", "mssql").
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the backend-agnostic target of a full-refresh load.
//
// A Repository owns exactly one database connection for its lifetime. DDL
// methods auto-commit per statement; InsertRows runs in its own transaction.
type Repository interface {
	// Close releases the connection. Call once.
	Close()

	// EnsureSchema creates schema if it does not exist. Idempotent.
	EnsureSchema(ctx context.Context, schema string) error

	// DropTable drops the qualified table ("schema.table") if it exists.
	// Idempotent.
	DropTable(ctx context.Context, table string) error

	// CreateTable creates spec unconditionally; it fails if the table exists.
	CreateTable(ctx context.Context, spec TableSpec) error

	// InsertRows inserts rows one statement per row inside a single
	// transaction and commits once. On any failure the transaction is rolled
	// back and no row from this call persists.
	InsertRows(ctx context.Context, spec TableSpec, columns []string, rows [][]any) (int64, error)
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under kind.
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a Repository with the backend registered for cfg.Kind.
//
// Errors:
//   - cfg.Kind empty or not registered.
//   - whatever the backend factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
