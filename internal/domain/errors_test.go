package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubmissionError_Unwrap(t *testing.T) {
	cause := errors.New("googleapi: Error 400: Syntax error")
	err := fmt.Errorf("run: %w", &SubmissionError{Task: "QueryTask(name=daily)", Err: cause})

	assert.ErrorIs(t, err, cause)
	var se *SubmissionError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, "QueryTask(name=daily)", se.Task)
	assert.Contains(t, err.Error(), "Syntax error")
}

func TestQueryTimeoutError_Message(t *testing.T) {
	err := &QueryTimeoutError{Task: "QueryTask(name=daily)", JobID: "job_1", Timeout: 10 * time.Second}
	assert.Equal(t, "QueryTask(name=daily) timed out after 10s (job job_1)", err.Error())
}

func TestTemplateError_Unwrap(t *testing.T) {
	cause := errors.New("not found")
	err := &TemplateError{Source: "report.sql.j2", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `"report.sql.j2"`)
}
