package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logworker/internal/config"
	"github.com/telhawk-systems/logworker/internal/deadletter"
	"github.com/telhawk-systems/logworker/internal/logging"
	"github.com/telhawk-systems/logworker/internal/models"
	"github.com/telhawk-systems/logworker/internal/output"
)

func seedDeadLetters(t *testing.T, dir string, n int) {
	t.Helper()
	w, err := deadletter.NewFileWriter(dir, logging.Discard())
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		rec := models.LogRecord{LogID: uuid.New(), ProjectID: "shop", SessionID: "s1", Body: "boom", OccurredAt: time.Now()}
		handle := &models.DeliveryHandle{MessageID: "1-" + string(rune('0'+i)), Deliveries: 1}
		require.NoError(t, w.Write(context.Background(), deadletter.NewFailedRecord(rec, handle, 4, errors.New("db down"))))
	}
}

func TestListDeadLetters_Table(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	dir := t.TempDir()
	seedDeadLetters(t, dir, 2)

	var out, errOut bytes.Buffer
	cfg := config.DeadLetterConfig{Backend: deadletter.BackendFile, BasePath: dir}
	require.NoError(t, listDeadLetters(cfg, logging.Discard(), output.NewWithWriters(&out, &errOut)))

	assert.Contains(t, out.String(), "MESSAGE ID")
	assert.Contains(t, out.String(), "db down")
	assert.Contains(t, out.String(), "2 entries")
}

func TestListDeadLetters_JSON(t *testing.T) {
	dir := t.TempDir()
	seedDeadLetters(t, dir, 3)

	deadLetterJSON = true
	t.Cleanup(func() { deadLetterJSON = false })

	var out bytes.Buffer
	cfg := config.DeadLetterConfig{Backend: deadletter.BackendFile, BasePath: dir}
	require.NoError(t, listDeadLetters(cfg, logging.Discard(), output.NewWithWriters(&out, &out)))

	var got []deadletter.FailedRecord
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Len(t, got, 3)
	assert.Equal(t, 4, got[0].Attempts)
}

func TestListDeadLetters_WrongBackend(t *testing.T) {
	var out bytes.Buffer
	err := listDeadLetters(config.DeadLetterConfig{Backend: deadletter.BackendLog}, logging.Discard(), output.NewWithWriters(&out, &out))
	assert.Error(t, err)
}
