// Package replay serves readings from a recorded CSV dataset. Every machine
// walks the rows with its own cursor and wraps at the end, so a finite file
// drives an unbounded run.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

type Source struct {
	rows [][domain.RawFieldCount]float64

	mu      sync.Mutex
	cursors map[string]int
}

func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses a CSV with a header row. Columns are matched by field name;
// extra columns such as timestamps or labels are ignored.
func Read(r io.Reader) (*Source, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("replay header: %w", err)
	}

	cols := make([]int, domain.RawFieldCount)
	for i := range cols {
		cols[i] = -1
	}
	for i, name := range header {
		if f, ok := domain.ParseField(strings.TrimSpace(name)); ok {
			cols[f] = i
		}
	}
	for f, c := range cols {
		if c < 0 {
			return nil, fmt.Errorf("replay: missing column %s", domain.Field(f))
		}
	}

	src := &Source{cursors: make(map[string]int)}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("replay line %d: %w", line, err)
		}
		var row [domain.RawFieldCount]float64
		for f, c := range cols {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[c]), 64)
			if err != nil {
				return nil, fmt.Errorf("replay line %d column %s: %w", line, domain.Field(f), err)
			}
			row[f] = v
		}
		src.rows = append(src.rows, row)
	}
	if len(src.rows) == 0 {
		return nil, errors.New("replay: no data rows")
	}
	return src, nil
}

func (s *Source) Len() int { return len(s.rows) }

func (s *Source) Start(ctx context.Context) error { return nil }

func (s *Source) Stop() error { return nil }

// Collect returns the machine's next row stamped with the tick time.
func (s *Source) Collect(ctx context.Context, machineID string, at time.Time) (domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reading{}, err
	}
	s.mu.Lock()
	idx, ok := s.cursors[machineID]
	if !ok {
		h := fnv.New32a()
		_, _ = h.Write([]byte(machineID))
		idx = int(h.Sum32() % uint32(len(s.rows)))
	}
	s.cursors[machineID] = (idx + 1) % len(s.rows)
	row := s.rows[idx]
	s.mu.Unlock()

	r := domain.Reading{MachineID: machineID, Timestamp: at}
	for i, v := range row {
		r = r.WithValue(domain.Field(i), v)
	}
	return r, nil
}

var _ ports.Collector = (*Source)(nil)
