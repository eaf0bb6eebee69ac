package domain

import (
	"strings"
	"time"
)

// CreateDisposition controls whether a materialization may create its target table.
type CreateDisposition string

// Create dispositions.
const (
	CreateIfNeeded CreateDisposition = "CREATE_IF_NEEDED"
	CreateNever    CreateDisposition = "CREATE_NEVER"
)

// Validate checks that d is a known disposition.
func (d CreateDisposition) Validate() error {
	switch d {
	case CreateIfNeeded, CreateNever:
		return nil
	}
	return ErrValidation("unknown create disposition %q", string(d))
}

// WriteDisposition controls how a materialization treats existing table data.
type WriteDisposition string

// Write dispositions.
const (
	WriteEmpty    WriteDisposition = "WRITE_EMPTY"
	WriteAppend   WriteDisposition = "WRITE_APPEND"
	WriteTruncate WriteDisposition = "WRITE_TRUNCATE"
)

// Validate checks that d is a known disposition.
func (d WriteDisposition) Validate() error {
	switch d {
	case WriteEmpty, WriteAppend, WriteTruncate:
		return nil
	}
	return ErrValidation("unknown write disposition %q", string(d))
}

// ParseCreateDisposition parses a case-insensitive disposition name.
// An empty string yields CreateIfNeeded.
func ParseCreateDisposition(s string) (CreateDisposition, error) {
	if strings.TrimSpace(s) == "" {
		return CreateIfNeeded, nil
	}
	d := CreateDisposition(strings.ToUpper(strings.TrimSpace(s)))
	return d, d.Validate()
}

// ParseWriteDisposition parses a case-insensitive disposition name.
// An empty string yields WriteEmpty.
func ParseWriteDisposition(s string) (WriteDisposition, error) {
	if strings.TrimSpace(s) == "" {
		return WriteEmpty, nil
	}
	d := WriteDisposition(strings.ToUpper(strings.TrimSpace(s)))
	return d, d.Validate()
}

// JobStatus is a snapshot of a remote job. ResultSize is zero until the job completes.
type JobStatus struct {
	Complete   bool
	ResultSize int64
}

// WriteRequest describes a query whose result is written into a table.
type WriteRequest struct {
	Query             string
	Dataset           string
	Table             string
	CreateDisposition CreateDisposition
	WriteDisposition  WriteDisposition
	AllowLargeResults bool
}

// Validate checks that the request is well-formed.
func (r *WriteRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return ErrValidation("query is required")
	}
	if r.Dataset == "" {
		return ErrValidation("dataset is required")
	}
	if r.Table == "" {
		return ErrValidation("table is required")
	}
	if err := r.CreateDisposition.Validate(); err != nil {
		return err
	}
	return r.WriteDisposition.Validate()
}

// Field describes one column of a table schema.
type Field struct {
	Name        string  `yaml:"name" json:"name"`
	Type        string  `yaml:"type" json:"type"`
	Mode        string  `yaml:"mode,omitempty" json:"mode,omitempty"` // NULLABLE (default), REQUIRED or REPEATED
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Fields      []Field `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// TableInfo reports whether a table exists and how many rows it holds.
type TableInfo struct {
	Exists  bool
	NumRows uint64
}

// RowSet is a fetched slice of a job's result.
type RowSet struct {
	Columns   []string
	Rows      [][]interface{}
	TotalRows uint64
}

// ResultState is the persisted reference to a finished query job.
type ResultState struct {
	JobID      string    `json:"job_id"`
	ResultSize int64     `json:"result_size"`
	SavedAt    time.Time `json:"saved_at"`
}
