package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCreateDisposition(t *testing.T) {
	tests := []struct {
		in      string
		want    CreateDisposition
		wantErr bool
	}{
		{in: "", want: CreateIfNeeded},
		{in: "create_if_needed", want: CreateIfNeeded},
		{in: " CREATE_NEVER ", want: CreateNever},
		{in: "CREATE_ALWAYS", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCreateDisposition(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				var ve *ValidationError
				assert.ErrorAs(t, err, &ve)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseWriteDisposition(t *testing.T) {
	tests := []struct {
		in      string
		want    WriteDisposition
		wantErr bool
	}{
		{in: "", want: WriteEmpty},
		{in: "write_append", want: WriteAppend},
		{in: "WRITE_TRUNCATE", want: WriteTruncate},
		{in: "WRITE_MERGE", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWriteDisposition(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteRequest_Validate(t *testing.T) {
	valid := WriteRequest{
		Query:             "SELECT 1",
		Dataset:           "analytics",
		Table:             "daily",
		CreateDisposition: CreateIfNeeded,
		WriteDisposition:  WriteTruncate,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(r *WriteRequest)
		errMsg string
	}{
		{name: "blank query", mutate: func(r *WriteRequest) { r.Query = "  " }, errMsg: "query is required"},
		{name: "missing dataset", mutate: func(r *WriteRequest) { r.Dataset = "" }, errMsg: "dataset is required"},
		{name: "missing table", mutate: func(r *WriteRequest) { r.Table = "" }, errMsg: "table is required"},
		{name: "bad create", mutate: func(r *WriteRequest) { r.CreateDisposition = "NOPE" }, errMsg: "create disposition"},
		{name: "bad write", mutate: func(r *WriteRequest) { r.WriteDisposition = "" }, errMsg: "write disposition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewJobID(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^bqflow_[0-9a-f]{32}$`, a)
}

func TestRunFilter_EffectiveLimit(t *testing.T) {
	assert.Equal(t, DefaultRunLimit, RunFilter{}.EffectiveLimit())
	assert.Equal(t, 10, RunFilter{Limit: 10}.EffectiveLimit())
	assert.Equal(t, 1000, RunFilter{Limit: 5000}.EffectiveLimit())
}
