package ports

import "github.com/ghalamif/AegisPredict/internal/domain"

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)
	ObserveStage(stage domain.Stage, status domain.StageStatus, seconds float64)

	SetGauge(name string, v float64)

	RecordDLQ(id WALEntryID, rec *domain.PredictionRecord, err error)
}

type Field struct {
	Key   string
	Value any
}
