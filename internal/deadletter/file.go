package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/telhawk-systems/logworker/internal/logging"
)

// FileWriter writes each failed record as a JSON file under a directory.
type FileWriter struct {
	basePath string
	logger   *logging.Logger

	mu      sync.Mutex
	written uint64
}

// NewFileWriter creates basePath if needed.
func NewFileWriter(basePath string, logger *logging.Logger) (*FileWriter, error) {
	if basePath == "" {
		basePath = "/var/lib/logworker/deadletter"
	}
	if logger == nil {
		logger = logging.Default()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dead-letter directory: %w", err)
	}
	return &FileWriter{basePath: basePath, logger: logger.WithComponent("deadletter")}, nil
}

func (w *FileWriter) Write(ctx context.Context, failed FailedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(failed, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	filename := fmt.Sprintf("failed_%d_%s.json", failed.Timestamp.UnixNano(), failed.Record.LogID)
	path := filepath.Join(w.basePath, filename)

	// Write to a temp name first so readers never see a partial file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write dead-letter entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit dead-letter entry: %w", err)
	}

	w.written++
	w.logger.WarnContext(ctx, "wrote dead-letter entry",
		"file", filename,
		logging.RecordID(failed.Record.LogID.String()),
		logging.MessageID(failed.MessageID),
	)
	return nil
}

// List returns up to limit stored entries, oldest first. limit <= 0 means all.
func (w *FileWriter) List(limit int) ([]FailedRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := os.ReadDir(w.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dead-letter directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []FailedRecord
	for _, name := range names {
		if limit > 0 && len(out) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(w.basePath, name))
		if err != nil {
			w.logger.Error("failed to read dead-letter file", "file", name, logging.Error(err))
			continue
		}
		var f FailedRecord
		if err := json.Unmarshal(data, &f); err != nil {
			w.logger.Error("failed to parse dead-letter file", "file", name, logging.Error(err))
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// Written returns how many entries this writer has stored.
func (w *FileWriter) Written() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}
