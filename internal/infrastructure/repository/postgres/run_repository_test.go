package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/spacebiolab/biolit/internal/core/domain"
)

func TestRunRepositoryStartIngestRunReturnsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewRunRepository(db)
	mock.ExpectExec("INSERT INTO ingest_runs").
		WithArgs(sqlmock.AnyArg(), "research_corpus_v1", "/data/chunks", 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	runID, err := repo.StartIngestRun(context.Background(), "research_corpus_v1", "/data/chunks", 3)
	if err != nil {
		t.Fatalf("StartIngestRun() error = %v", err)
	}
	if runID == "" {
		t.Fatalf("expected non-empty run id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunRepositoryCompleteIngestFileUnknownRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewRunRepository(db)
	mock.ExpectExec("UPDATE ingest_runs").
		WithArgs("missing", 2, 40).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.CompleteIngestFile(context.Background(), "missing", 2, 40); err == nil {
		t.Fatalf("expected error for unknown run")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunRepositoryLastCompletedFileIndexNoRuns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewRunRepository(db)
	mock.ExpectQuery("FROM ingest_runs").
		WithArgs("research_corpus_v1", "/data/chunks").
		WillReturnRows(sqlmock.NewRows([]string{"last_file_index"}))

	idx, err := repo.LastCompletedFileIndex(context.Background(), "research_corpus_v1", "/data/chunks")
	if err != nil {
		t.Fatalf("LastCompletedFileIndex() error = %v", err)
	}
	if idx != -1 {
		t.Fatalf("expected -1 when no runs exist, got %d", idx)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunRepositoryLastCompletedFileIndexReturnsCheckpoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewRunRepository(db)
	mock.ExpectQuery("FROM ingest_runs").
		WithArgs("research_corpus_v1", "/data/chunks").
		WillReturnRows(sqlmock.NewRows([]string{"last_file_index"}).AddRow(17))

	idx, err := repo.LastCompletedFileIndex(context.Background(), "research_corpus_v1", "/data/chunks")
	if err != nil {
		t.Fatalf("LastCompletedFileIndex() error = %v", err)
	}
	if idx != 17 {
		t.Fatalf("expected checkpoint 17, got %d", idx)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunRepositorySaveEvaluationRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewRunRepository(db)
	summary := &domain.EvaluationSummary{
		Collection: "research_corpus_v1",
		TopK:       15,
		Overall: domain.BucketMetrics{
			Bucket:         "overall",
			Questions:      12,
			StrictRecall:   0.75,
			SoftRecall:     0.8,
			RetrievalScore: 0.775,
		},
	}

	mock.ExpectExec("INSERT INTO evaluation_runs").
		WithArgs(sqlmock.AnyArg(), "research_corpus_v1", 15, 12, 0.75, 0.8, 0.775,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.SaveEvaluationRun(context.Background(), summary, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SaveEvaluationRun() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
