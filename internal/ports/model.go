package ports

import (
	"context"

	"github.com/ghalamif/AegisPredict/internal/domain"
)

// Model is a pre-trained, read-only inference handle. Implementations must be
// safe for concurrent Predict calls.
type Model interface {
	Predict(ctx context.Context, in domain.ModelInput) (domain.ModelOutput, error)
	Name() string
}
