package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

func record(machine string, minute int) *domain.PredictionRecord {
	return &domain.PredictionRecord{
		MachineID:     machine,
		Timestamp:     time.Date(2024, 3, 4, 10, minute, 0, 0, time.UTC),
		AnomalyType:   domain.AnomalyTypeNone,
		HealthScore:   87.5,
		SchemaVersion: domain.FeatureSchemaVersion,
	}
}

func TestFileWALAppendIterateAndReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}

	id1, err := w.Append(record("CNC_001", 1))
	if err != nil || id1 == 0 {
		t.Fatalf("append record 1: %v id=%d", err, id1)
	}
	id2, err := w.Append(record("CNC_002", 1))
	if err != nil || id2 == 0 {
		t.Fatalf("append record 2: %v id=%d", err, id2)
	}

	var iterated []string
	if err := w.Iterate(1, func(id ports.WALEntryID, rec *domain.PredictionRecord) error {
		iterated = append(iterated, rec.MachineID)
		return nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(iterated) != 2 || iterated[0] != "CNC_001" || iterated[1] != "CNC_002" {
		t.Fatalf("unexpected iteration order %v", iterated)
	}

	if err := w.Commit(id2); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close wal: %v", err)
	}

	w2, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}

	stats := w2.Stats()
	if stats.LatestAppended != id2 {
		t.Fatalf("expected latest appended %d, got %d", id2, stats.LatestAppended)
	}
	if stats.OldestUncommitted != id2+1 {
		t.Fatalf("expected oldest uncommitted %d, got %d", id2+1, stats.OldestUncommitted)
	}
	if err := w2.Close(); err != nil {
		t.Fatalf("close wal2: %v", err)
	}

	if err := appendGarbage(filepath.Join(dir, "dlq.log")); err != nil {
		t.Fatalf("append garbage: %v", err)
	}

	w3, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("reopen after garbage: %v", err)
	}
	defer w3.Close()
	if got := w3.Stats().SizeBytes; got != stats.SizeBytes {
		t.Fatalf("expected torn tail trimmed to %d bytes, got %d", stats.SizeBytes, got)
	}
	id3, err := w3.Append(record("CNC_003", 2))
	if err != nil {
		t.Fatalf("append after recovery: %v", err)
	}
	if id3 != id2+1 {
		t.Fatalf("expected id %d after recovery, got %d", id2+1, id3)
	}
}

func TestFileWALRecordRoundTrip(t *testing.T) {
	w, err := NewFileWAL(t.TempDir())
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}
	defer w.Close()

	in := record("CNC_004", 7)
	in.AnomalyFlag = true
	in.AnomalyScore = 0.91
	in.AnomalyType = "bearing_wear"
	in.Features[domain.FeatTotalMachineHours] = 5012.25
	in.Stages.Forecast = domain.StatusInsufficientHistory

	if _, err := w.Append(in); err != nil {
		t.Fatalf("append: %v", err)
	}

	var out *domain.PredictionRecord
	if err := w.Iterate(0, func(_ ports.WALEntryID, rec *domain.PredictionRecord) error {
		out = rec
		return nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if out == nil {
		t.Fatalf("expected one record")
	}
	if out.Key() != in.Key() {
		t.Fatalf("key mismatch: %+v vs %+v", out.Key(), in.Key())
	}
	if out.AnomalyType != "bearing_wear" || !out.AnomalyFlag {
		t.Fatalf("anomaly fields lost: %+v", out)
	}
	if out.Features[domain.FeatTotalMachineHours] != 5012.25 {
		t.Fatalf("features lost: %v", out.Features)
	}
	if out.Stages.Forecast != domain.StatusInsufficientHistory {
		t.Fatalf("stage report lost: %+v", out.Stages)
	}
}

func TestFileWALTruncateCommitted(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWAL(dir)
	if err != nil {
		t.Fatalf("new wal: %v", err)
	}
	defer w.Close()

	var ids []ports.WALEntryID
	for i := 0; i < 4; i++ {
		id, err := w.Append(record("CNC_001", i))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	before := w.Stats().SizeBytes

	if err := w.Commit(ids[1]); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := w.TruncateCommitted(); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	after := w.Stats().SizeBytes
	if after <= 0 || after >= before {
		t.Fatalf("expected log to shrink from %d, got %d", before, after)
	}

	var seen []ports.WALEntryID
	if err := w.Iterate(0, func(id ports.WALEntryID, _ *domain.PredictionRecord) error {
		seen = append(seen, id)
		return nil
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(seen) != 2 || seen[0] != ids[2] || seen[1] != ids[3] {
		t.Fatalf("expected uncommitted ids %v, got %v", ids[2:], seen)
	}

	id, err := w.Append(record("CNC_001", 9))
	if err != nil {
		t.Fatalf("append after truncate: %v", err)
	}
	if id != ids[3]+1 {
		t.Fatalf("expected ids to keep increasing, got %d", id)
	}
}

func appendGarbage(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte{0xFF, 0xAA})
	return err
}
