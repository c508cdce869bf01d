package aegispredict

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChannelSinkClosed is returned by writes after the channel sink's close func ran.
var ErrChannelSinkClosed = errors.New("aegispredict: channel sink closed")

// RecordHandler receives one persisted prediction record.
type RecordHandler func(ctx context.Context, rec PredictionRecord) error

// NewCallbackSink wraps fn as a Sink. fn receives a copy of each record and
// must itself tolerate the same record arriving twice.
func NewCallbackSink(name string, fn RecordHandler) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink delivers records on the returned channel. Call the returned
// func on shutdown; it closes the channel. Upsert blocks until a receiver takes
// the record or ctx ends.
func NewChannelSink(name string, buffer int) (Sink, <-chan PredictionRecord, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan PredictionRecord, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   RecordHandler
}

func (s *callbackSink) Upsert(ctx context.Context, rec *PredictionRecord) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	if rec == nil {
		return nil
	}
	return s.fn(ctx, *rec)
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan PredictionRecord
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (s *channelSink) Upsert(ctx context.Context, rec *PredictionRecord) error {
	if rec == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- *rec:
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}
