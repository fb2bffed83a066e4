package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spacebiolab/biolit/internal/bootstrap"
	"github.com/spacebiolab/biolit/internal/config"
	"github.com/spacebiolab/biolit/internal/core/domain"
	"github.com/spacebiolab/biolit/internal/observability/logging"
)

var rootCmd = &cobra.Command{
	Use:           "biolit",
	Short:         "Hybrid retrieval over a scientific article corpus",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagCollection string

	ingestInputDir   string
	ingestBatchSize  int
	ingestSparseTopK int
	ingestStartIndex int
	ingestResume     bool

	queryText string
	queryTopK int

	evalTestSet string
	evalTopK    int
	evalWorkers int
	evalReport  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Embed and upsert chunk files into the vector store",
	RunE:  runIngest,
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run one hybrid retrieval query",
	RunE:  runQuery,
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score retrieval recall against a ground-truth test set",
	RunE:  runEval,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagCollection, "collection", "", "vector store collection (defaults to QDRANT_COLLECTION)")

	ingestCmd.Flags().StringVar(&ingestInputDir, "input-dir", "", "directory of *.jsonl chunk files")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "texts per encoder call")
	ingestCmd.Flags().IntVar(&ingestSparseTopK, "sparse-top-k", 0, "retained terms per sparse vector")
	ingestCmd.Flags().IntVar(&ingestStartIndex, "start-index", 0, "skip the first N files")
	ingestCmd.Flags().BoolVar(&ingestResume, "resume", false, "continue after the last checkpointed file")
	_ = ingestCmd.MarkFlagRequired("input-dir")

	queryCmd.Flags().StringVar(&queryText, "query", "", "research question")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of fused results")
	_ = queryCmd.MarkFlagRequired("query")

	evalCmd.Flags().StringVar(&evalTestSet, "test-set", "", "directory of test-case JSON files")
	evalCmd.Flags().IntVar(&evalTopK, "top-k", 0, "retrieval depth per question")
	evalCmd.Flags().IntVar(&evalWorkers, "workers", 0, "concurrent questions")
	evalCmd.Flags().StringVar(&evalReport, "report", "", "write an xlsx report to this path")
	_ = evalCmd.MarkFlagRequired("test-set")

	rootCmd.AddCommand(ingestCmd, queryCmd, evalCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if flagCollection != "" {
		cfg.QdrantCollection = flagCollection
	}
	if ingestBatchSize > 0 {
		cfg.IngestBatchSize = ingestBatchSize
	}
	if ingestSparseTopK > 0 {
		cfg.SparseTopK = ingestSparseTopK
	}
	if evalWorkers > 0 {
		cfg.EvalWorkers = evalWorkers
	}
	return cfg, nil
}

func newCore(ctx context.Context) (*bootstrap.Core, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logging.Setup("biolit-cli", cfg.LogLevel)
	return bootstrap.NewCore(ctx, cfg)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	core, err := newCore(ctx)
	if err != nil {
		return err
	}
	defer core.Close()

	report, err := core.Ingestor.IngestDirectory(ctx, domain.IngestJob{
		InputDir:   ingestInputDir,
		StartIndex: ingestStartIndex,
		Resume:     ingestResume,
	})
	if report != nil {
		cmd.Printf("files processed: %d/%d\n", report.FilesProcessed, report.FilesTotal)
		cmd.Printf("chunks upserted: %d\n", report.ChunksUpserted)
		cmd.Printf("records skipped: %d\n", report.RecordsSkipped)
		cmd.Printf("last file index: %d\n", report.LastFileIndex)
	}
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	return nil
}

func runQuery(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	core, err := newCore(ctx)
	if err != nil {
		return err
	}
	defer core.Close()

	result, err := core.Retriever.Retrieve(ctx, queryText, queryTopK)
	if err != nil {
		return fmt.Errorf("retrieve failed: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	cmd.Println(string(out))
	return nil
}

func runEval(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	core, err := newCore(ctx)
	if err != nil {
		return err
	}
	defer core.Close()

	summary, err := core.Evaluator.Evaluate(ctx, evalTestSet, evalTopK)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	cmd.Printf("questions: %d\n", summary.Overall.Questions)
	cmd.Printf("strict recall: %.4f\n", summary.Overall.StrictRecall)
	cmd.Printf("soft recall: %.4f\n", summary.Overall.SoftRecall)
	cmd.Printf("retrieval score: %.4f\n", summary.Overall.RetrievalScore)
	for _, bucket := range summary.ByType {
		cmd.Printf("  type %-14s n=%-3d score=%.4f\n", bucket.Bucket, bucket.Questions, bucket.RetrievalScore)
	}
	for _, bucket := range summary.ByDifficulty {
		cmd.Printf("  difficulty %-8s n=%-3d score=%.4f\n", bucket.Bucket, bucket.Questions, bucket.RetrievalScore)
	}

	if evalReport != "" {
		if err := core.Report.Write(summary, evalReport); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		cmd.Printf("report written to %s\n", evalReport)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
