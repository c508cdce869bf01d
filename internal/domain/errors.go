package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOutOfOrderReading matches any *OutOfOrderReadingError.
	ErrOutOfOrderReading = errors.New("out-of-order reading")
	// ErrModelInference matches any *ModelInferenceError.
	ErrModelInference = errors.New("model inference failed")
	// ErrSinkWrite matches any *SinkWriteError.
	ErrSinkWrite = errors.New("sink write failed")
)

// OutOfOrderReadingError rejects a reading whose timestamp does not advance the machine's clock.
type OutOfOrderReadingError struct {
	MachineID string
	Last      time.Time
	Got       time.Time
}

func (e *OutOfOrderReadingError) Error() string {
	return fmt.Sprintf("machine %s: reading at %s is not after last accepted %s",
		e.MachineID, e.Got.Format(time.RFC3339Nano), e.Last.Format(time.RFC3339Nano))
}

func (e *OutOfOrderReadingError) Is(target error) bool { return target == ErrOutOfOrderReading }

// ModelInferenceError is scoped to one stage of one machine's tick.
type ModelInferenceError struct {
	Stage     Stage
	MachineID string
	Cause     error
}

func (e *ModelInferenceError) Error() string {
	return fmt.Sprintf("stage %s machine %s: %v", e.Stage, e.MachineID, e.Cause)
}

func (e *ModelInferenceError) Unwrap() error { return e.Cause }

func (e *ModelInferenceError) Is(target error) bool { return target == ErrModelInference }

// SinkWriteError is returned once all delivery attempts of a record are exhausted.
type SinkWriteError struct {
	Key      RecordKey
	Attempts int
	Cause    error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("sink write machine %s ts %s after %d attempts: %v",
		e.Key.MachineID, e.Key.Timestamp.Format(time.RFC3339), e.Attempts, e.Cause)
}

func (e *SinkWriteError) Unwrap() error { return e.Cause }

func (e *SinkWriteError) Is(target error) bool { return target == ErrSinkWrite }
