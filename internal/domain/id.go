package domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string for application-owned records.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewJobID returns a client-side BigQuery job id. BigQuery rejects a second
// insert with the same id, which makes a submission safe to send once.
func NewJobID() string {
	return "bqflow_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
