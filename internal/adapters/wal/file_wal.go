package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

// entry format: [8 bytes id][4 bytes len][4 bytes crc32(body)][len bytes json]
const recordHeaderLen = 16

var errCorruptEntry = errors.New("corrupt WAL entry")

// FileWAL is the dead-letter log for prediction records whose sink writes
// exhausted their retries. Appends are synced so a crash cannot lose a record
// that already missed the sink.
type FileWAL struct {
	mu        sync.Mutex
	dir       string
	path      string
	metaPath  string
	file      *os.File
	writer    *bufio.Writer
	nextID    ports.WALEntryID
	committed ports.WALEntryID
	sizeBytes int64
}

func NewFileWAL(dir string) (*FileWAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &FileWAL{
		dir:      dir,
		path:     filepath.Join(dir, "dlq.log"),
		metaPath: filepath.Join(dir, "dlq.meta"),
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	if err := w.bootstrap(); err != nil {
		_ = w.file.Close()
		return nil, err
	}
	return w, nil
}

func (w *FileWAL) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 64<<10)
	return nil
}

func (w *FileWAL) bootstrap() error {
	if err := w.scanExisting(); err != nil {
		return err
	}
	if err := w.loadCommitted(); err != nil {
		return err
	}
	if w.nextID < w.committed {
		w.nextID = w.committed
	}
	return nil
}

// scanExisting finds the last complete entry and truncates a torn tail.
func (w *FileWAL) scanExisting() error {
	rf, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	var (
		offset int64
		lastID ports.WALEntryID
	)
	err = readEntries(bufio.NewReader(rf), func(id ports.WALEntryID, body []byte, size int64) error {
		offset += size
		lastID = id
		return nil
	})
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, errCorruptEntry) {
		return fmt.Errorf("wal scan: %w", err)
	}

	if err := w.file.Truncate(offset); err != nil {
		return err
	}
	w.sizeBytes = offset
	w.nextID = lastID
	return nil
}

func (w *FileWAL) loadCommitted() error {
	data, err := os.ReadFile(w.metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return fmt.Errorf("wal meta parse: %w", err)
	}
	w.committed = ports.WALEntryID(u)
	return nil
}

func (w *FileWAL) Append(rec *domain.PredictionRecord) (ports.WALEntryID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}

	id := w.nextID + 1
	if err := w.writeEntryLocked(id, b); err != nil {
		return 0, err
	}
	if err := w.writer.Flush(); err != nil {
		return 0, err
	}
	if err := w.file.Sync(); err != nil {
		return 0, err
	}

	w.nextID = id
	w.sizeBytes += int64(len(b) + recordHeaderLen)
	return id, nil
}

func (w *FileWAL) writeEntryLocked(id ports.WALEntryID, body []byte) error {
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
	binary.BigEndian.PutUint32(hdr[12:16], crc32.ChecksumIEEE(body))

	if _, err := w.writer.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.writer.Write(body)
	return err
}

// Iterate calls fn for every entry with id >= from, in append order.
func (w *FileWAL) Iterate(from ports.WALEntryID, fn func(id ports.WALEntryID, rec *domain.PredictionRecord) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}

	f, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer f.Close()

	return readEntries(bufio.NewReader(f), func(id ports.WALEntryID, body []byte, _ int64) error {
		if id < from {
			return nil
		}
		var rec domain.PredictionRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return fmt.Errorf("%w: id %d: %v", errCorruptEntry, id, err)
		}
		return fn(id, &rec)
	})
}

func (w *FileWAL) Commit(upto ports.WALEntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if upto > w.committed {
		w.committed = upto
	}
	return w.persistMetaLocked()
}

// TruncateCommitted rewrites the log without entries at or below the commit mark.
func (w *FileWAL) TruncateCommitted() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}

	src, err := os.Open(w.path)
	if err != nil {
		return err
	}
	tmpPath := w.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		src.Close()
		return err
	}

	var size int64
	bw := bufio.NewWriter(tmp)
	err = readEntries(bufio.NewReader(src), func(id ports.WALEntryID, body []byte, n int64) error {
		if id <= w.committed {
			return nil
		}
		var hdr [recordHeaderLen]byte
		binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
		binary.BigEndian.PutUint32(hdr[12:16], crc32.ChecksumIEEE(body))
		if _, err := bw.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := bw.Write(body); err != nil {
			return err
		}
		size += n
		return nil
	})
	src.Close()
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("wal truncate: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return err
	}
	if err := w.open(); err != nil {
		return err
	}
	w.sizeBytes = size
	return nil
}

func (w *FileWAL) Stats() ports.WALStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ports.WALStats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    w.nextID,
		SizeBytes:         w.sizeBytes,
	}
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

func (w *FileWAL) persistMetaLocked() error {
	data := []byte(fmt.Sprintf("%d\n", w.committed))
	return os.WriteFile(w.metaPath, data, 0o644)
}

// readEntries stops at a clean EOF with nil, or with io.ErrUnexpectedEOF /
// errCorruptEntry at the first torn or damaged entry.
func readEntries(r *bufio.Reader, fn func(id ports.WALEntryID, body []byte, size int64) error) error {
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		length := binary.BigEndian.Uint32(hdr[8:12])
		sum := binary.BigEndian.Uint32(hdr[12:16])

		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if crc32.ChecksumIEEE(body) != sum {
			return fmt.Errorf("%w: id %d checksum mismatch", errCorruptEntry, id)
		}
		if err := fn(id, body, int64(recordHeaderLen)+int64(length)); err != nil {
			return err
		}
	}
}

var _ ports.WAL = (*FileWAL)(nil)
