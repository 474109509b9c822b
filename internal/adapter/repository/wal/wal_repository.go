package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/txn-stream-engine/internal/domain"
)

const (
	segmentPrefix = "deadletter-"
	filePerm      = 0644
)

// WALRepository is a segmented append-only file buffer for dead-letter
// records, used only while the dead-letter channel itself is unreachable.
// Records are JSON lines; segments rotate at maxSegmentSize and the whole
// log is capped at maxTotalSize.
type WALRepository struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu             sync.Mutex
	currentSegment *os.File
	currentSize    int64
}

// NewWALRepository opens (or creates) the WAL directory and its latest segment.
func NewWALRepository(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*WALRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory %s: %w", dir, err)
	}

	w := &WALRepository{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "deadletter_wal"),
	}
	if err := w.openLatestSegment(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends a record to the current segment, rotating when the segment
// fills. A log past its disk cap rejects the write rather than growing.
func (w *WALRepository) Write(ctx context.Context, rec domain.DeadLetterRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter record for WAL: %w", err)
	}
	data = append(data, '\n')

	if w.currentSegment == nil {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	totalSize, err := w.totalSize()
	if err != nil {
		return fmt.Errorf("could not verify WAL disk usage: %w", err)
	}
	if totalSize+int64(len(data)) > w.maxTotalSize {
		return fmt.Errorf("WAL max total size exceeded (%d > %d)", totalSize, w.maxTotalSize)
	}

	n, err := w.currentSegment.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write to WAL segment: %w", err)
	}
	w.currentSize += int64(n)

	if w.currentSize >= w.maxSegmentSize {
		if err := w.rotate(); err != nil {
			w.logger.Error("failed to rotate WAL segment", "error", err)
		}
	}
	return nil
}

// Replay feeds every retained record to handler, oldest segment first. Lines
// that fail to unmarshal are skipped; a handler error aborts the replay so
// the remaining records stay on disk.
func (w *WALRepository) Replay(ctx context.Context, handler func(rec domain.DeadLetterRecord) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSegment != nil {
		w.currentSegment.Close()
		w.currentSegment = nil
	}

	segments, err := w.sortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	w.logger.Info("replaying dead-letter WAL", "segment_count", len(segments))

	for _, path := range segments {
		if err := w.replaySegment(ctx, path, handler); err != nil {
			return err
		}
	}
	return nil
}

func (w *WALRepository) replaySegment(ctx context.Context, path string, handler func(rec domain.DeadLetterRecord) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var rec domain.DeadLetterRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			w.logger.Warn("skipping unreadable WAL line", "error", err)
			continue
		}
		if err := handler(rec); err != nil {
			return fmt.Errorf("replay handler failed: %w", err)
		}
	}
	return scanner.Err()
}

// Truncate removes all segments and opens a fresh one. Called only after a
// successful replay.
func (w *WALRepository) Truncate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSegment != nil {
		w.currentSegment.Close()
		w.currentSegment = nil
	}

	segments, err := w.sortedSegments()
	if err != nil {
		return err
	}
	for _, path := range segments {
		if err := os.Remove(path); err != nil {
			w.logger.Error("failed to remove WAL segment", "path", path, "error", err)
		}
	}

	w.logger.Info("dead-letter WAL truncated")
	return w.openLatestSegment()
}

// Close syncs and closes the current segment.
func (w *WALRepository) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSegment == nil {
		return nil
	}
	if err := w.currentSegment.Sync(); err != nil {
		w.logger.Error("failed to sync WAL segment on close", "error", err)
	}
	err := w.currentSegment.Close()
	w.currentSegment = nil
	return err
}

func (w *WALRepository) rotate() error {
	if w.currentSegment != nil {
		if err := w.currentSegment.Sync(); err != nil {
			w.logger.Error("failed to sync WAL segment before rotating", "error", err)
		}
		if err := w.currentSegment.Close(); err != nil {
			w.logger.Error("failed to close WAL segment before rotating", "error", err)
		}
		w.currentSegment = nil
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s%d.log", segmentPrefix, time.Now().UnixNano()))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create WAL segment %s: %w", path, err)
	}

	w.currentSegment = f
	w.currentSize = 0
	return nil
}

func (w *WALRepository) openLatestSegment() error {
	segments, err := w.sortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return w.rotate()
	}

	latest := segments[len(segments)-1]
	stat, err := os.Stat(latest)
	if err != nil {
		return fmt.Errorf("failed to stat segment %s: %w", latest, err)
	}

	f, err := os.OpenFile(latest, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open segment %s: %w", latest, err)
	}

	w.currentSegment = f
	w.currentSize = stat.Size()

	if w.currentSize >= w.maxSegmentSize {
		return w.rotate()
	}
	return nil
}

func (w *WALRepository) sortedSegments() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), segmentPrefix) {
			segments = append(segments, filepath.Join(w.dir, entry.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (w *WALRepository) totalSize() (int64, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), segmentPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
