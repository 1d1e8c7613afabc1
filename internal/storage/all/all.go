// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "koboetl/internal/storage/mssql"
	_ "koboetl/internal/storage/postgres"
	_ "koboetl/internal/storage/sqlite"
)
