package config

import (
	"fmt"
	"strings"
)

// Error is returned when required configuration is absent or malformed.
//
// Missing lists every absent key found by one Validate call. Key/Err describe a
// single malformed value.
type Error struct {
	Missing []string
	Key     string
	Err     error
}

func (e *Error) Error() string {
	if len(e.Missing) > 0 {
		return "config: missing required env vars: " + strings.Join(e.Missing, ", ")
	}
	return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
