package job

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bqflow/internal/domain"
	"bqflow/internal/testutil"
)

func TestWritePreview_Table(t *testing.T) {
	rows := &domain.RowSet{
		Columns:   []string{"region", "total"},
		Rows:      [][]interface{}{{"us", 10}, {"eu", nil}},
		TotalRows: 2,
	}

	var buf bytes.Buffer
	require.NoError(t, WritePreview(&buf, rows, 40))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, strings.Repeat("-", 40), lines[0])
	assert.Equal(t, "Query result:", lines[1])
	assert.Equal(t, "region  total", lines[2])
	assert.Equal(t, "us      10", lines[3])
	assert.Equal(t, "eu      NULL", lines[4])
	assert.Equal(t, strings.Repeat("-", 40), lines[5])
}

func TestWritePreview_ClipsAndCounts(t *testing.T) {
	rows := &domain.RowSet{
		Columns:   []string{"payload"},
		Rows:      [][]interface{}{{strings.Repeat("x", 50)}},
		TotalRows: 1000,
	}

	var buf bytes.Buffer
	require.NoError(t, WritePreview(&buf, rows, 30))

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		assert.LessOrEqual(t, len(line), 30, "line %q exceeds width", line)
	}
	assert.Contains(t, buf.String(), strings.Repeat("x", 27)+"...\n")
	assert.Contains(t, buf.String(), "(1 of 1000 rows shown)")
}

func TestWritePreview_DefaultWidth(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePreview(&buf, &domain.RowSet{Columns: []string{"a"}}, 0))
	assert.True(t, strings.HasPrefix(buf.String(), strings.Repeat("-", DefaultTerminalWidth)+"\n"))
}

func TestResult_PreviewFetchesBoundedRows(t *testing.T) {
	var gotLimit int
	wh := &testutil.MockWarehouse{
		ReadRowsFn: func(_ context.Context, jobID string, limit int) (*domain.RowSet, error) {
			assert.Equal(t, "job_p", jobID)
			gotLimit = limit
			return &domain.RowSet{Columns: []string{"n"}, Rows: [][]interface{}{{1}}, TotalRows: 1}, nil
		},
	}
	res := NewResult(wh, "job_p", 1)

	var buf bytes.Buffer
	require.NoError(t, res.Preview(context.Background(), &buf, 25, 80))
	assert.Equal(t, 25, gotLimit)
	assert.Contains(t, buf.String(), "Query result:")
}

func TestResult_State(t *testing.T) {
	res := NewResult(&testutil.MockWarehouse{}, "job_s", 9)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	st := res.State(now)
	assert.Equal(t, "job_s", st.JobID)
	assert.Equal(t, int64(9), st.ResultSize)
	assert.Equal(t, time.UTC, st.SavedAt.Location())
	assert.True(t, st.SavedAt.Equal(now))
}

func TestTerminalWidth_NotATerminal(t *testing.T) {
	assert.Equal(t, DefaultTerminalWidth, TerminalWidth(-1))
}
