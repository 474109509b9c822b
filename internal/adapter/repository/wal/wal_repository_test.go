package wal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/txn-stream-engine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(id string) domain.DeadLetterRecord {
	return domain.DeadLetterRecord{
		OriginalMessage: `{"transaction_id": "` + id + `"`,
		ErrorType:       domain.FailureDecode,
		ErrorDetails:    "unexpected end of JSON input",
		Timestamp:       time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestWAL_WriteAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWALRepository(dir, 1024*1024, 10*1024*1024, testLogger())
	if err != nil {
		t.Fatalf("failed to open WAL: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := w.Write(ctx, record(fmt.Sprintf("T%03d", i))); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Records survive a restart.
	w, err = NewWALRepository(dir, 1024*1024, 10*1024*1024, testLogger())
	if err != nil {
		t.Fatalf("failed to reopen WAL: %v", err)
	}

	var replayed []domain.DeadLetterRecord
	err = w.Replay(ctx, func(rec domain.DeadLetterRecord) error {
		replayed = append(replayed, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if len(replayed) != 5 {
		t.Fatalf("expected 5 replayed records, got %d", len(replayed))
	}
	for i, rec := range replayed {
		want := fmt.Sprintf("T%03d", i)
		if !strings.Contains(rec.OriginalMessage, want) {
			t.Errorf("record %d out of order: %q", i, rec.OriginalMessage)
		}
	}
}

func TestWAL_SegmentRotation(t *testing.T) {
	dir := t.TempDir()
	// Tiny segments force a rotation on nearly every write.
	w, err := NewWALRepository(dir, 64, 10*1024*1024, testLogger())
	if err != nil {
		t.Fatalf("failed to open WAL: %v", err)
	}
	defer w.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := w.Write(ctx, record(fmt.Sprintf("T%03d", i))); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	segments, err := filepath.Glob(filepath.Join(dir, segmentPrefix+"*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) < 2 {
		t.Errorf("expected multiple segments after rotation, got %d", len(segments))
	}

	count := 0
	if err := w.Replay(ctx, func(domain.DeadLetterRecord) error { count++; return nil }); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if count != 10 {
		t.Errorf("expected all 10 records across segments, got %d", count)
	}
}

func TestWAL_TotalSizeCap(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWALRepository(dir, 64*1024, 1024, testLogger())
	if err != nil {
		t.Fatalf("failed to open WAL: %v", err)
	}
	defer w.Close()

	ctx := context.Background()
	var capErr error
	for i := 0; i < 20; i++ {
		if err := w.Write(ctx, record(fmt.Sprintf("T%03d", i))); err != nil {
			capErr = err
			break
		}
	}
	if capErr == nil {
		t.Fatal("expected the disk cap to reject writes")
	}
}

func TestWAL_Truncate(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWALRepository(dir, 1024*1024, 10*1024*1024, testLogger())
	if err != nil {
		t.Fatalf("failed to open WAL: %v", err)
	}
	defer w.Close()

	ctx := context.Background()
	if err := w.Write(ctx, record("T001")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := w.Truncate(ctx); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}

	count := 0
	if err := w.Replay(ctx, func(domain.DeadLetterRecord) error { count++; return nil }); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no records after truncate, got %d", count)
	}

	// The WAL stays writable after truncation.
	if err := w.Write(ctx, record("T002")); err != nil {
		t.Errorf("write after truncate failed: %v", err)
	}
}

func TestWAL_ReplayAbortsOnHandlerError(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWALRepository(dir, 1024*1024, 10*1024*1024, testLogger())
	if err != nil {
		t.Fatalf("failed to open WAL: %v", err)
	}
	defer w.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := w.Write(ctx, record(fmt.Sprintf("T%03d", i))); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	handlerErr := errors.New("downstream unavailable")
	seen := 0
	err = w.Replay(ctx, func(domain.DeadLetterRecord) error {
		seen++
		if seen == 2 {
			return handlerErr
		}
		return nil
	})
	if err == nil || !errors.Is(err, handlerErr) {
		t.Fatalf("expected the handler error to surface, got %v", err)
	}

	// Nothing was truncated, so a second replay still sees every record.
	count := 0
	if err := w.Replay(ctx, func(domain.DeadLetterRecord) error { count++; return nil }); err != nil {
		t.Fatalf("second replay failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected all 3 records retained after aborted replay, got %d", count)
	}
}

func TestWAL_SkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWALRepository(dir, 1024*1024, 10*1024*1024, testLogger())
	if err != nil {
		t.Fatalf("failed to open WAL: %v", err)
	}

	ctx := context.Background()
	if err := w.Write(ctx, record("T001")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	segments, err := filepath.Glob(filepath.Join(dir, segmentPrefix+"*"))
	if err != nil || len(segments) == 0 {
		t.Fatalf("expected a segment on disk, got %v (%v)", segments, err)
	}
	f, err := os.OpenFile(segments[0], os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("garbage that is not json\n")
	f.Close()

	w, err = NewWALRepository(dir, 1024*1024, 10*1024*1024, testLogger())
	if err != nil {
		t.Fatalf("failed to reopen WAL: %v", err)
	}
	defer w.Close()

	count := 0
	if err := w.Replay(ctx, func(domain.DeadLetterRecord) error { count++; return nil }); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected the corrupt line to be skipped, got %d records", count)
	}
}
