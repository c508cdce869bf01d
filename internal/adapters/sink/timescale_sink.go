package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ghalamif/AegisPredict/internal/domain"
	"github.com/ghalamif/AegisPredict/internal/ports"
)

const predictionColumns = "machine_id, ts, anomaly_flag, anomaly_score, anomaly_type, maintenance_days, forecast_status, health_score, health_status, stages, features, schema_version"

type TimescaleSink struct {
	db        *sql.DB
	tableName string
}

func NewTimescaleSink(db *sql.DB, table string) *TimescaleSink {
	if table == "" {
		table = "predictions"
	}
	return &TimescaleSink{db: db, tableName: table}
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

// Upsert inserts the record once; a redelivered (machine_id, ts) is a no-op.
func (t *TimescaleSink) Upsert(ctx context.Context, rec *domain.PredictionRecord) error {
	if rec == nil {
		return nil
	}

	stages, err := json.Marshal(rec.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	features, err := json.Marshal(rec.Features.Map())
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}

	var days sql.NullFloat64
	if rec.HasForecast() {
		days = sql.NullFloat64{Float64: rec.MaintenanceDays, Valid: true}
	}

	query := "INSERT INTO " + t.tableName + " (" + predictionColumns + ") VALUES " +
		"($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) ON CONFLICT (machine_id, ts) DO NOTHING"

	_, err = t.db.ExecContext(ctx, query,
		rec.MachineID,
		rec.Timestamp.UTC(),
		rec.AnomalyFlag,
		rec.AnomalyScore,
		rec.AnomalyType,
		days,
		string(rec.Stages.Forecast),
		rec.HealthScore,
		string(rec.Stages.Health),
		stages,
		features,
		int64(rec.SchemaVersion),
	)
	return err
}

// EnsureSchema creates the prediction table and its idempotency key, and turns
// it into a hypertable when the timescaledb extension is installed.
func (t *TimescaleSink) EnsureSchema(ctx context.Context) error {
	ddl := "CREATE TABLE IF NOT EXISTS " + t.tableName + ` (
	machine_id       TEXT             NOT NULL,
	ts               TIMESTAMPTZ      NOT NULL,
	anomaly_flag     BOOLEAN          NOT NULL,
	anomaly_score    DOUBLE PRECISION NOT NULL,
	anomaly_type     TEXT             NOT NULL,
	maintenance_days DOUBLE PRECISION,
	forecast_status  TEXT             NOT NULL,
	health_score     DOUBLE PRECISION NOT NULL,
	health_status    TEXT             NOT NULL,
	stages           JSONB            NOT NULL,
	features         JSONB            NOT NULL,
	schema_version   INTEGER          NOT NULL,
	PRIMARY KEY (machine_id, ts)
)`
	if _, err := t.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", t.tableName, err)
	}

	hyper := "DO $$ BEGIN IF EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb') THEN " +
		"PERFORM create_hypertable('" + t.tableName + "', 'ts', if_not_exists => TRUE); END IF; END $$"
	if _, err := t.db.ExecContext(ctx, hyper); err != nil {
		return fmt.Errorf("create hypertable %s: %w", t.tableName, err)
	}
	return nil
}

func (t *TimescaleSink) Close() error {
	return t.db.Close()
}

var _ ports.Sink = (*TimescaleSink)(nil)
