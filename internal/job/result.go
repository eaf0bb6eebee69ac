package job

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"golang.org/x/term"

	"bqflow/internal/domain"
)

// DefaultTerminalWidth is the preview width when stdout is not a terminal.
const DefaultTerminalWidth = 120

// Result is a read-only handle to a finished job. It holds no rows; Rows
// fetches them from the warehouse on demand.
type Result struct {
	wh         domain.Warehouse
	jobID      string
	resultSize int64
}

// NewResult wraps a finished job.
func NewResult(wh domain.Warehouse, jobID string, resultSize int64) *Result {
	return &Result{wh: wh, jobID: jobID, resultSize: resultSize}
}

// JobID returns the id of the finished job.
func (r *Result) JobID() string { return r.jobID }

// ResultSize returns the number of rows the job produced.
func (r *Result) ResultSize() int64 { return r.resultSize }

// Rows fetches up to limit rows of the job's result.
func (r *Result) Rows(ctx context.Context, limit int) (*domain.RowSet, error) {
	return r.wh.ReadRows(ctx, r.jobID, limit)
}

// State returns the persistable reference to this result.
func (r *Result) State(now time.Time) *domain.ResultState {
	return &domain.ResultState{JobID: r.jobID, ResultSize: r.resultSize, SavedAt: now.UTC()}
}

// Preview fetches up to limit rows and writes them to w clipped to width.
func (r *Result) Preview(ctx context.Context, w io.Writer, limit, width int) error {
	rows, err := r.Rows(ctx, limit)
	if err != nil {
		return fmt.Errorf("fetch preview rows for job %s: %w", r.jobID, err)
	}
	return WritePreview(w, rows, width)
}

// TerminalWidth returns the column count of the terminal behind fd, or
// DefaultTerminalWidth when fd is not a terminal.
func TerminalWidth(fd int) int {
	if term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			return w
		}
	}
	return DefaultTerminalWidth
}

// WritePreview prints rows as an aligned table framed by dashed rules. Every
// line is clipped to width.
func WritePreview(w io.Writer, rows *domain.RowSet, width int) error {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	rule := strings.Repeat("-", width)

	var table bytes.Buffer
	tw := tabwriter.NewWriter(&table, 0, 0, 2, ' ', 0)
	shown := 0
	if rows != nil {
		_, _ = fmt.Fprintln(tw, strings.Join(rows.Columns, "\t"))
		for _, row := range rows.Rows {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = formatCell(v)
			}
			_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
		shown = len(rows.Rows)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	var out strings.Builder
	out.WriteString(rule + "\n")
	out.WriteString("Query result:\n")
	for _, line := range strings.Split(strings.TrimRight(table.String(), "\n"), "\n") {
		out.WriteString(clip(strings.TrimRight(line, " "), width) + "\n")
	}
	if rows != nil && rows.TotalRows > uint64(shown) {
		fmt.Fprintf(&out, "(%d of %d rows shown)\n", shown, rows.TotalRows)
	}
	out.WriteString(rule + "\n")

	_, err := io.WriteString(w, out.String())
	return err
}

func formatCell(v interface{}) string {
	if v == nil {
		return "NULL"
	}
	s := fmt.Sprintf("%v", v)
	return strings.NewReplacer("\t", " ", "\n", " ").Replace(s)
}

func clip(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	if width <= 3 {
		return string([]rune(s)[:width])
	}
	return string([]rune(s)[:width-3]) + "..."
}
