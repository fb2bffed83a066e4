package usecase

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/spacebiolab/biolit/internal/core/domain"
	"github.com/spacebiolab/biolit/internal/core/ports"
)

type IngestOptions struct {
	Collection  string
	BatchSize   int
	SparseTopK  int
	InferenceRL *rate.Limiter
}

func (o IngestOptions) normalize() IngestOptions {
	out := o
	if out.BatchSize <= 0 {
		out.BatchSize = 16
	}
	if out.SparseTopK <= 0 {
		out.SparseTopK = 200
	}
	return out
}

// IngestPipelineUseCase reads chunk-record files, embeds each batch with both
// encoders and upserts into the vector store under deterministic point ids.
// Runs are resumable: files are processed in sorted order and a start index
// skips an already-completed prefix.
type IngestPipelineUseCase struct {
	dense  ports.DenseEncoder
	sparse ports.SparseEncoder
	store  ports.VectorStore
	runs   ports.RunRepository // optional
	opts   IngestOptions
}

func NewIngestPipelineUseCase(
	dense ports.DenseEncoder,
	sparse ports.SparseEncoder,
	store ports.VectorStore,
	runs ports.RunRepository,
	opts IngestOptions,
) *IngestPipelineUseCase {
	return &IngestPipelineUseCase{
		dense:  dense,
		sparse: sparse,
		store:  store,
		runs:   runs,
		opts:   opts.normalize(),
	}
}

// rawRecord mirrors the chunker's JSONL line format. PMCID and ArticleID are
// alternate spellings of the same source identifier.
type rawRecord struct {
	ID              string `json:"id"`
	PMCID           string `json:"pmc_id"`
	ArticleID       string `json:"article_id"`
	Section         string `json:"section"`
	Text            string `json:"text"`
	URL             string `json:"url"`
	PublicationDate string `json:"publication_date"`
}

func (r rawRecord) articleID() string {
	switch {
	case r.PMCID != "":
		return r.PMCID
	case r.ArticleID != "":
		return r.ArticleID
	default:
		return r.ID
	}
}

func (uc *IngestPipelineUseCase) IngestDirectory(ctx context.Context, job domain.IngestJob) (*domain.IngestReport, error) {
	collection := uc.opts.Collection
	store := uc.store
	if job.Collection != "" && job.Collection != uc.opts.Collection {
		collection = job.Collection
		store = uc.store.WithCollection(job.Collection)
	}

	startIndex := job.StartIndex
	if job.Resume && startIndex <= 0 {
		startIndex = uc.resumeIndex(ctx, collection, job.InputDir)
	}

	files, err := listChunkFiles(job.InputDir)
	if err != nil {
		return nil, err
	}

	report := &domain.IngestReport{
		FilesTotal:    len(files),
		LastFileIndex: startIndex - 1,
	}
	if startIndex >= len(files) {
		return report, nil
	}

	runID := uc.startRun(ctx, collection, job.InputDir, startIndex)

	for fileIndex := startIndex; fileIndex < len(files); fileIndex++ {
		if err := ctx.Err(); err != nil {
			uc.finishRun(ctx, runID, "aborted", err)
			return report, err
		}

		chunks, skipped, err := uc.ingestFile(ctx, store, files[fileIndex])
		report.RecordsSkipped += skipped
		if err != nil {
			uc.finishRun(ctx, runID, "failed", err)
			return report, domain.WrapError(domain.ErrUpsertBatch, "ingest directory",
				fmt.Errorf("file %d (%s): %w; resume with start index %d",
					fileIndex, filepath.Base(files[fileIndex]), err, fileIndex))
		}

		report.FilesProcessed++
		report.ChunksUpserted += chunks
		report.LastFileIndex = fileIndex
		uc.completeFile(ctx, runID, fileIndex, chunks)

		slog.Info("ingest_file_done",
			"file_index", fileIndex,
			"file", filepath.Base(files[fileIndex]),
			"chunks", chunks,
			"skipped", skipped,
		)
	}

	uc.finishRun(ctx, runID, "completed", nil)
	return report, nil
}

// ingestFile upserts every valid record of one file. Returns the number of
// upserted chunks and the number of skipped records; an error means the file
// is not fully stored and the run must stop at it.
func (uc *IngestPipelineUseCase) ingestFile(ctx context.Context, store ports.VectorStore, path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open chunk file: %w", err)
	}
	defer f.Close()

	var (
		batch    []rawRecord
		upserted int
		skipped  int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		stored, dropped, err := uc.flushBatch(ctx, store, batch)
		upserted += stored
		skipped += dropped
		batch = batch[:0]
		return err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var rec rawRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			slog.Warn("ingest_record_malformed", "file", filepath.Base(path), "line", line, "error", err)
			skipped++
			continue
		}
		if strings.TrimSpace(rec.Text) == "" {
			slog.Warn("ingest_record_empty_text", "file", filepath.Base(path), "line", line)
			skipped++
			continue
		}

		batch = append(batch, rec)
		if len(batch) >= uc.opts.BatchSize {
			if err := flush(); err != nil {
				return upserted, skipped, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return upserted, skipped, fmt.Errorf("read chunk file: %w", err)
	}
	if err := flush(); err != nil {
		return upserted, skipped, err
	}
	return upserted, skipped, nil
}

// flushBatch embeds one batch with both encoders and upserts it. A record
// whose sparse encoding comes back degenerate is dropped, not stored empty.
func (uc *IngestPipelineUseCase) flushBatch(ctx context.Context, store ports.VectorStore, batch []rawRecord) (int, int, error) {
	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.Text
	}

	if uc.opts.InferenceRL != nil {
		if err := uc.opts.InferenceRL.Wait(ctx); err != nil {
			return 0, 0, err
		}
	}

	denseVecs, err := uc.dense.EncodeDense(ctx, texts)
	if err != nil {
		return 0, 0, fmt.Errorf("encode dense batch: %w", err)
	}
	if len(denseVecs) != len(batch) {
		return 0, 0, domain.WrapError(domain.ErrEncoding, "encode dense batch",
			fmt.Errorf("vectors/records mismatch: %d/%d", len(denseVecs), len(batch)))
	}

	sparseVecs, err := uc.sparse.EncodeSparse(ctx, texts, uc.opts.SparseTopK)
	if err != nil {
		return 0, 0, fmt.Errorf("encode sparse batch: %w", err)
	}
	if len(sparseVecs) != len(batch) {
		return 0, 0, domain.WrapError(domain.ErrEncoding, "encode sparse batch",
			fmt.Errorf("vectors/records mismatch: %d/%d", len(sparseVecs), len(batch)))
	}

	records := make([]domain.ChunkRecord, 0, len(batch))
	skipped := 0
	for i, rec := range batch {
		record := domain.ChunkRecord{
			ChunkID:         domain.DeriveChunkID(rec.articleID(), rec.Section, rec.Text),
			ArticleID:       rec.articleID(),
			Section:         strings.ToLower(strings.TrimSpace(rec.Section)),
			Text:            rec.Text,
			URL:             rec.URL,
			PublicationDate: rec.PublicationDate,
			Dense:           denseVecs[i],
			Sparse:          sparseVecs[i],
		}
		if err := record.Validate(); err != nil {
			slog.Warn("ingest_record_invalid", "chunk_id", record.ChunkID, "error", err)
			skipped++
			continue
		}
		records = append(records, record)
	}

	if len(records) == 0 {
		return 0, skipped, nil
	}
	if err := store.UpsertChunks(ctx, records); err != nil {
		return 0, skipped, fmt.Errorf("upsert batch: %w", err)
	}
	return len(records), skipped, nil
}

func listChunkFiles(inputDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(inputDir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list chunk files: %w", err)
	}
	if len(matches) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list chunk files",
			fmt.Errorf("no *.jsonl files in %s", inputDir))
	}
	sort.Strings(matches)
	return matches, nil
}

// resumeIndex looks up the last checkpointed file for this collection and
// directory. Without a run repository, or when no completed run exists,
// ingestion starts from the beginning.
func (uc *IngestPipelineUseCase) resumeIndex(ctx context.Context, collection, inputDir string) int {
	if uc.runs == nil {
		return 0
	}
	last, err := uc.runs.LastCompletedFileIndex(ctx, collection, inputDir)
	if err != nil {
		slog.Warn("ingest_resume_lookup_failed", "collection", collection, "error", err)
		return 0
	}
	if last < 0 {
		return 0
	}
	slog.Info("ingest_resuming_from_checkpoint", "collection", collection, "start_index", last+1)
	return last + 1
}

func (uc *IngestPipelineUseCase) startRun(ctx context.Context, collection, inputDir string, startIndex int) string {
	if uc.runs == nil {
		return ""
	}
	runID, err := uc.runs.StartIngestRun(ctx, collection, inputDir, startIndex)
	if err != nil {
		slog.Warn("ingest_run_checkpoint_unavailable", "error", err)
		return ""
	}
	return runID
}

func (uc *IngestPipelineUseCase) completeFile(ctx context.Context, runID string, fileIndex, chunks int) {
	if uc.runs == nil || runID == "" {
		return
	}
	if err := uc.runs.CompleteIngestFile(ctx, runID, fileIndex, chunks); err != nil {
		slog.Warn("ingest_checkpoint_write_failed", "file_index", fileIndex, "error", err)
	}
}

func (uc *IngestPipelineUseCase) finishRun(ctx context.Context, runID, status string, runErr error) {
	if uc.runs == nil || runID == "" {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := uc.runs.FinishIngestRun(ctx, runID, status, msg); err != nil {
		slog.Warn("ingest_run_finish_failed", "status", status, "error", err)
	}
}
