package aegispredict

import (
	"github.com/ghalamif/AegisPredict/internal/app/chain"
	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

// Reading is one raw sample of one machine.
type Reading = domain.Reading

// FeatureVector is the fixed-order model input.
type FeatureVector = domain.FeatureVector

// PredictionRecord is the chain output for one machine at one timestamp.
type PredictionRecord = domain.PredictionRecord

// Tick is one scheduled firing.
type Tick = domain.Tick

// ModelInput and ModelOutput are what a Model consumes and produces.
type (
	ModelInput  = domain.ModelInput
	ModelOutput = domain.ModelOutput
)

// Models bundles the four chain models.
type Models = chain.Models

// Collector produces readings from any data source (OPC UA, simulators, replay files, etc.).
type Collector = ports.Collector

// MachineRegistry enumerates the machines that get a tick.
type MachineRegistry = ports.MachineRegistry

// Model is a pre-trained inference handle.
type Model = ports.Model

// Sink persists prediction records to any downstream system.
type Sink = ports.Sink

// RecordQueue buffers dead-lettered records awaiting redelivery.
type RecordQueue = ports.RecordQueue

// QueuedRecord is an item buffered inside the dead-letter queue.
type QueuedRecord = ports.QueuedRecord

// Observability emits metrics/logs about ticks, stages and dead letters.
type Observability = ports.Observability

// Field is a structured log/metric field used by Observability implementations.
type Field = ports.Field

// WAL abstracts the dead-letter write-ahead log.
type WAL = ports.WAL

// WALStats exposes WAL metadata for observability.
type WALStats = ports.WALStats

// WALEntryID uniquely identifies a WAL entry.
type WALEntryID = ports.WALEntryID
