package ports

import (
	"context"
	"time"

	"github.com/ghalamif/AegisPredict/internal/domain"
)

// Collector produces one Reading per machine per tick.
type Collector interface {
	Start(ctx context.Context) error
	Collect(ctx context.Context, machineID string, at time.Time) (domain.Reading, error)
	Stop() error
}

// MachineRegistry enumerates the machines the scheduler fires ticks for.
type MachineRegistry interface {
	Machines() []string
}
