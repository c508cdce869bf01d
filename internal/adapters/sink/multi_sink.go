package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

// MultiSink fans a record out to every wrapped sink. A failing sink does not
// stop delivery to the rest; all errors are joined. Retrying the whole fan-out
// is safe because every sink upsert is idempotent.
type MultiSink struct {
	sinks []ports.Sink
}

func NewMultiSink(sinks ...ports.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Name() string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

func (m *MultiSink) Upsert(ctx context.Context, rec *domain.PredictionRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Upsert(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every wrapped sink that has a Close method.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

var _ ports.Sink = (*MultiSink)(nil)
