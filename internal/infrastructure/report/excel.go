package report

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/spacebiolab/biolit/internal/core/domain"
)

// ExcelWriter exports an evaluation summary as a two-sheet workbook: one
// sheet of per-question scores, one of aggregate metrics.
type ExcelWriter struct{}

func NewExcelWriter() *ExcelWriter {
	return &ExcelWriter{}
}

const (
	questionsSheet  = "Questions"
	aggregatesSheet = "Aggregates"
)

func (w *ExcelWriter) Write(summary *domain.EvaluationSummary, path string) error {
	if summary == nil {
		return fmt.Errorf("write evaluation report: nil summary")
	}
	if path == "" {
		return fmt.Errorf("write evaluation report: empty path")
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName(f.GetSheetName(0), questionsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(aggregatesSheet); err != nil {
		return fmt.Errorf("create aggregates sheet: %w", err)
	}

	if err := w.writeQuestions(f, summary); err != nil {
		return err
	}
	if err := w.writeAggregates(f, summary); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save evaluation report: %w", err)
	}
	return nil
}

func (w *ExcelWriter) writeQuestions(f *excelize.File, summary *domain.EvaluationSummary) error {
	header := []any{"question_id", "question_type", "difficulty", "strict_recall", "soft_recall", "retrieval_score", "missing", "degraded", "error"}
	if err := f.SetSheetRow(questionsSheet, "A1", &header); err != nil {
		return fmt.Errorf("write question header: %w", err)
	}

	for i, q := range summary.Questions {
		row := []any{
			q.QuestionID,
			q.QuestionType,
			q.Difficulty,
			q.StrictRecall,
			q.SoftRecall,
			q.RetrievalScore,
			strings.Join(q.Missing, ", "),
			q.Degraded,
			q.Err,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(questionsSheet, cell, &row); err != nil {
			return fmt.Errorf("write question row %d: %w", i, err)
		}
	}
	return nil
}

func (w *ExcelWriter) writeAggregates(f *excelize.File, summary *domain.EvaluationSummary) error {
	header := []any{"grouping", "bucket", "questions", "strict_recall", "soft_recall", "retrieval_score"}
	if err := f.SetSheetRow(aggregatesSheet, "A1", &header); err != nil {
		return fmt.Errorf("write aggregate header: %w", err)
	}

	line := 2
	writeBucket := func(grouping string, m domain.BucketMetrics) error {
		row := []any{grouping, m.Bucket, m.Questions, m.StrictRecall, m.SoftRecall, m.RetrievalScore}
		cell := fmt.Sprintf("A%d", line)
		line++
		return f.SetSheetRow(aggregatesSheet, cell, &row)
	}

	for _, m := range summary.ByType {
		if err := writeBucket("question_type", m); err != nil {
			return fmt.Errorf("write type aggregate: %w", err)
		}
	}
	for _, m := range summary.ByDifficulty {
		if err := writeBucket("difficulty", m); err != nil {
			return fmt.Errorf("write difficulty aggregate: %w", err)
		}
	}
	if err := writeBucket("overall", summary.Overall); err != nil {
		return fmt.Errorf("write overall aggregate: %w", err)
	}
	return nil
}
