package store

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Result is one persisted strategy evaluation.
type Result struct {
	JobID          string
	Strategy       string
	InstrumentType string
	Metric         string // ranking metric the run optimized for
	Sharpe         float64
	Return         float64 // total return over the run
	Drawdown       float64
	CAGR           float64
	CreatedAt      time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS results (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id          TEXT NOT NULL,
	strategy        TEXT NOT NULL,
	instrument_type TEXT NOT NULL,
	metric          TEXT NOT NULL,
	sharpe          REAL NOT NULL,
	"return"        REAL NOT NULL,
	drawdown        REAL NOT NULL,
	cagr            REAL NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_job ON results(job_id);
`

// ResultStore persists evaluation results to SQLite so batch runs survive
// restarts and can be queried across jobs.
type ResultStore struct {
	db *sql.DB
}

// OpenResultStore opens (or creates) the database at dbPath and ensures the
// schema exists.
func OpenResultStore(dbPath string) (*ResultStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

// Save inserts one result row. A zero CreatedAt is stamped with now.
func (s *ResultStore) Save(ctx context.Context, r Result) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (job_id, strategy, instrument_type, metric, sharpe, "return", drawdown, cagr, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, r.Strategy, r.InstrumentType, r.Metric,
		r.Sharpe, r.Return, r.Drawdown, r.CAGR,
		r.CreatedAt.Format(time.RFC3339))
	return err
}

// ListByJob returns the results for one job in insertion order.
func (s *ResultStore) ListByJob(ctx context.Context, jobID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, strategy, instrument_type, metric, sharpe, "return", drawdown, cagr, created_at
		 FROM results WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

// ListAll returns every stored result in insertion order.
func (s *ResultStore) ListAll(ctx context.Context) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, strategy, instrument_type, metric, sharpe, "return", drawdown, cagr, created_at
		 FROM results ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

func scanResults(rows *sql.Rows) ([]Result, error) {
	var out []Result
	for rows.Next() {
		var r Result
		var created string
		if err := rows.Scan(&r.JobID, &r.Strategy, &r.InstrumentType, &r.Metric,
			&r.Sharpe, &r.Return, &r.Drawdown, &r.CAGR, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			r.CreatedAt = ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
