package ports

import "github.com/ghalamif/AegisPredict/internal/domain"

type WALEntryID uint64

// WAL durably holds records that could not be delivered to the sink.
type WAL interface {
	Append(rec *domain.PredictionRecord) (WALEntryID, error)
	Iterate(from WALEntryID, fn func(id WALEntryID, rec *domain.PredictionRecord) error) error
	Commit(upto WALEntryID) error
	TruncateCommitted() error
	Stats() WALStats
}

type WALStats struct {
	OldestUncommitted WALEntryID
	LatestAppended    WALEntryID
	SizeBytes         int64
}
