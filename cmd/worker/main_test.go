package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestAsynqLoggerWritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	l := asynqLogger{logger: zerolog.New(&buf)}
	l.Warn("lease expired for ", "task-1")
	l.Error(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, "lease expired for task-1")
	assert.Contains(t, out, `"message":"boom"`)
}

func TestRetryDelayGrows(t *testing.T) {
	delay := retryDelay(time.Second)
	first := delay(0, nil, nil)
	assert.InDelta(t, float64(time.Second), float64(first), float64(200*time.Millisecond))
	assert.Greater(t, delay(3, nil, nil), 5*time.Second)
	assert.Equal(t, time.Hour, delay(30, nil, nil))
}
