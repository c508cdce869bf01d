package registry

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/AegisPredict/internal/ports"
)

// PGRegistry lists machines from a table with an id column. It queries on
// every call and serves the last good list when the database is unavailable.
type PGRegistry struct {
	db      *sql.DB
	table   string
	timeout time.Duration
	obs     ports.Observability

	mu   sync.Mutex
	last []string
}

func NewPGRegistry(db *sql.DB, table string, obs ports.Observability) *PGRegistry {
	if table == "" {
		table = "factory"
	}
	return &PGRegistry{db: db, table: table, timeout: 5 * time.Second, obs: obs}
}

func (r *PGRegistry) Machines() []string {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	ids, err := r.Refresh(ctx)
	if err != nil {
		r.obs.LogError("registry_refresh_failed", err, ports.Field{Key: "table", Value: r.table})
		r.mu.Lock()
		defer r.mu.Unlock()
		return append([]string(nil), r.last...)
	}
	return ids
}

// Refresh reloads the machine list.
func (r *PGRegistry) Refresh(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM "+r.table+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query machines: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan machine id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.last = ids
	r.mu.Unlock()
	return append([]string(nil), ids...), nil
}

var _ ports.MachineRegistry = (*PGRegistry)(nil)
