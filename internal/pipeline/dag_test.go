package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bqflow/internal/domain"
	"bqflow/internal/task"
)

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeTarget struct{ exists bool }

func (t fakeTarget) Exists(context.Context) (bool, error) { return t.exists, nil }

type fakeTask struct {
	id     string
	deps   []task.Task
	output task.Target
	runFn  func(ctx context.Context) error
	runs   atomic.Int64
}

func newFake(id string, deps ...task.Task) *fakeTask {
	return &fakeTask{id: id, deps: deps}
}

func (t *fakeTask) ID() string           { return t.id }
func (t *fakeTask) Requires() []task.Task { return t.deps }
func (t *fakeTask) Output() task.Target   { return t.output }
func (t *fakeTask) Run(ctx context.Context) error {
	t.runs.Add(1)
	if t.runFn != nil {
		return t.runFn(ctx)
	}
	return nil
}

func levelIDs(levels [][]task.Task) [][]string {
	out := make([][]string, len(levels))
	for i, l := range levels {
		for _, t := range l {
			out[i] = append(out[i], t.ID())
		}
	}
	return out
}

func TestResolveExecutionOrder(t *testing.T) {
	extract := newFake("extract")
	transformA := newFake("transform-a", extract)
	transformB := newFake("transform-b", extract)
	load := newFake("load", transformA, transformB)

	a := newFake("A")
	b := newFake("B", a)
	c := newFake("C", b)

	tests := []struct {
		name  string
		roots []task.Task
		want  [][]string
	}{
		{name: "single task", roots: []task.Task{newFake("only")}, want: [][]string{{"only"}}},
		{name: "linear chain from leaf", roots: []task.Task{c}, want: [][]string{{"A"}, {"B"}, {"C"}}},
		{
			name:  "diamond",
			roots: []task.Task{load},
			want:  [][]string{{"extract"}, {"transform-a", "transform-b"}, {"load"}},
		},
		{
			name:  "parallel roots sorted",
			roots: []task.Task{newFake("c"), newFake("a"), newFake("b")},
			want:  [][]string{{"a", "b", "c"}},
		},
		{name: "duplicate roots", roots: []task.Task{c, b, c}, want: [][]string{{"A"}, {"B"}, {"C"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			levels, err := ResolveExecutionOrder(tt.roots)
			require.NoError(t, err)
			assert.Equal(t, tt.want, levelIDs(levels))
		})
	}
}

func TestResolveExecutionOrder_DedupByID(t *testing.T) {
	// Two distinct values with the same ID are one task.
	left := newFake("left", newFake("dataset"))
	right := newFake("right", newFake("dataset"))

	levels, err := ResolveExecutionOrder([]task.Task{left, right})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"dataset"}, {"left", "right"}}, levelIDs(levels))
}

func TestResolveExecutionOrder_Cycles(t *testing.T) {
	a := newFake("a")
	b := newFake("b", a)
	a.deps = []task.Task{b}

	_, err := ResolveExecutionOrder([]task.Task{a})
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, err.Error(), "cycle")

	self := newFake("self")
	self.deps = []task.Task{self}
	_, err = ResolveExecutionOrder([]task.Task{self})
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, err.Error(), "self dependency")
}

func TestResolveExecutionOrder_Empty(t *testing.T) {
	levels, err := ResolveExecutionOrder(nil)
	require.NoError(t, err)
	assert.Nil(t, levels)
}
