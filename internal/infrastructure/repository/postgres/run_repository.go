package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/spacebiolab/biolit/internal/core/domain"
)

// RunRepository checkpoints ingestion runs and stores evaluation summaries.
// Ingest checkpoints make the last completed file index queryable so an
// aborted run can resume without reprocessing.
type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *RunRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS ingest_runs (
	id TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	input_dir TEXT NOT NULL,
	start_index INT NOT NULL DEFAULT 0,
	last_file_index INT NOT NULL DEFAULT -1,
	chunks_upserted BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_source ON ingest_runs (collection, input_dir, started_at DESC);

CREATE TABLE IF NOT EXISTS evaluation_runs (
	id TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	top_k INT NOT NULL,
	question_count INT NOT NULL,
	strict_recall DOUBLE PRECISION NOT NULL,
	soft_recall DOUBLE PRECISION NOT NULL,
	retrieval_score DOUBLE PRECISION NOT NULL,
	summary JSONB NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evaluation_runs_collection ON evaluation_runs (collection, finished_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *RunRepository) StartIngestRun(ctx context.Context, collection, inputDir string, startIndex int) (string, error) {
	runID := uuid.NewString()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO ingest_runs (id, collection, input_dir, start_index, last_file_index, status, started_at)
VALUES ($1, $2, $3, $4, $4 - 1, 'running', $5)
`, runID, collection, inputDir, startIndex, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("start ingest run: %w", err)
	}
	return runID, nil
}

func (r *RunRepository) CompleteIngestFile(ctx context.Context, runID string, fileIndex int, chunks int) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE ingest_runs
SET last_file_index = GREATEST(last_file_index, $2), chunks_upserted = chunks_upserted + $3
WHERE id = $1
`, runID, fileIndex, chunks)
	if err != nil {
		return fmt.Errorf("complete ingest file: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete ingest file rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("ingest run not found: id=%s", runID)
	}
	return nil
}

func (r *RunRepository) FinishIngestRun(ctx context.Context, runID string, status string, errMessage string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE ingest_runs
SET status = $2, error_message = $3, finished_at = $4
WHERE id = $1
`, runID, status, nullableString(errMessage), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish ingest run: %w", err)
	}
	return nil
}

// LastCompletedFileIndex returns the checkpoint of the most recent run over
// the same collection and input directory, or -1 when none exists.
func (r *RunRepository) LastCompletedFileIndex(ctx context.Context, collection, inputDir string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT last_file_index
FROM ingest_runs
WHERE collection = $1 AND input_dir = $2
ORDER BY started_at DESC
LIMIT 1
`, collection, inputDir)

	var lastIndex int
	if err := row.Scan(&lastIndex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return -1, nil
		}
		return -1, fmt.Errorf("last completed file index: %w", err)
	}
	return lastIndex, nil
}

func (r *RunRepository) SaveEvaluationRun(ctx context.Context, summary *domain.EvaluationSummary, startedAt time.Time) error {
	if summary == nil {
		return fmt.Errorf("save evaluation run: nil summary")
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal evaluation summary: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO evaluation_runs (id, collection, top_k, question_count, strict_recall, soft_recall, retrieval_score, summary, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, uuid.NewString(), summary.Collection, summary.TopK, summary.Overall.Questions,
		summary.Overall.StrictRecall, summary.Overall.SoftRecall, summary.Overall.RetrievalScore,
		payload, startedAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save evaluation run: %w", err)
	}
	return nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
