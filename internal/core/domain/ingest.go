package domain

// IngestJob asks the worker to (re)ingest a directory into a collection.
// An empty Collection means the configured default. When Resume is set and
// no explicit StartIndex is given, the pipeline continues after the last
// checkpointed file for this collection and directory.
type IngestJob struct {
	InputDir   string `json:"input_dir"`
	Collection string `json:"collection"`
	StartIndex int    `json:"start_index"`
	Resume     bool   `json:"resume"`
}

// IngestReport summarizes one pipeline run. LastFileIndex is the index of
// the last fully-upserted file; a failed run can be resumed from
// LastFileIndex+1.
type IngestReport struct {
	FilesTotal     int `json:"files_total"`
	FilesProcessed int `json:"files_processed"`
	ChunksUpserted int `json:"chunks_upserted"`
	RecordsSkipped int `json:"records_skipped"`
	LastFileIndex  int `json:"last_file_index"`
}
