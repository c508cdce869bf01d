package ports

import "github.com/ghalamif/AegisPredict/internal/domain"

type QueuedRecord struct {
	ID     WALEntryID
	Record *domain.PredictionRecord
}

type RecordQueue interface {
	Enqueue(id WALEntryID, rec *domain.PredictionRecord) bool
	DequeueBatch(max int) []QueuedRecord
	Requeue(items []QueuedRecord)
	Len() int
}
