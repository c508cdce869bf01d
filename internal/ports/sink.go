package ports

import (
	"context"

	"github.com/ghalamif/AegisPredict/internal/domain"
)

// Sink persists prediction records. Upsert must keep at most one logical row
// per (machine_id, timestamp) even when the same record is delivered again.
type Sink interface {
	Upsert(ctx context.Context, rec *domain.PredictionRecord) error
	Name() string
}
