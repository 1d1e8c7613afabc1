package all

import (
	"strings"
	"testing"

	"koboetl/internal/storage"
)

func TestAllBackendsRegistered(t *testing.T) {
	got := strings.Join(storage.Kinds(), ",")
	if got != "mssql,postgres,sqlite" {
		t.Fatalf("Kinds()=%q", got)
	}
}
