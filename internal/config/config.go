package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIPort  string
	LogLevel string

	PostgresDSN string

	NATSURL     string
	NATSSubject string

	EmbedURL   string
	EmbedModel string
	DenseDim   int

	SpladeURL       string
	SparseTopK      int
	SparseMaxTokens int

	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	UpsertBatchSize  int

	RetrieveTopK           int
	RRFK                   int
	PoolMultiplier         int
	PoolMin                int
	RetrieveTimeoutSeconds int

	IngestBatchSize int
	InferenceRPS    float64

	EvalWorkers int
	EvalTopK    int

	APIRateLimitRPS   float64
	APIRateLimitBurst int
	APIMaxConcurrent  int

	WorkerMetricsPort string
}

// Load resolves configuration in three layers: built-in defaults, an
// optional YAML file named by BIOLIT_CONFIG_FILE, then environment
// variables. Environment always wins.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("BIOLIT_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func defaults() Config {
	return Config{
		APIPort:  "8080",
		LogLevel: "info",

		PostgresDSN: "",

		NATSURL:     "nats://localhost:4222",
		NATSSubject: "ingest.jobs",

		EmbedURL:   "http://localhost:11434",
		EmbedModel: "bge-small-en-v1.5",
		DenseDim:   384,

		SpladeURL:       "http://localhost:8090",
		SparseTopK:      200,
		SparseMaxTokens: 256,

		QdrantURL:        "http://localhost:6333",
		QdrantCollection: "research_corpus_v1",
		UpsertBatchSize:  64,

		RetrieveTopK:           10,
		RRFK:                   60,
		PoolMultiplier:         3,
		PoolMin:                50,
		RetrieveTimeoutSeconds: 30,

		IngestBatchSize: 16,
		InferenceRPS:    8,

		EvalWorkers: 4,
		EvalTopK:    15,

		APIRateLimitRPS:   20,
		APIRateLimitBurst: 40,
		APIMaxConcurrent:  64,

		WorkerMetricsPort: "9090",
	}
}

// fileConfig mirrors Config with pointer fields so an overlay file only
// overrides the keys it names.
type fileConfig struct {
	APIPort  *string `yaml:"api_port"`
	LogLevel *string `yaml:"log_level"`

	PostgresDSN *string `yaml:"postgres_dsn"`

	NATSURL     *string `yaml:"nats_url"`
	NATSSubject *string `yaml:"nats_subject"`

	EmbedURL   *string `yaml:"embed_url"`
	EmbedModel *string `yaml:"embed_model"`
	DenseDim   *int    `yaml:"dense_dim"`

	SpladeURL       *string `yaml:"splade_url"`
	SparseTopK      *int    `yaml:"sparse_top_k"`
	SparseMaxTokens *int    `yaml:"sparse_max_tokens"`

	QdrantURL        *string `yaml:"qdrant_url"`
	QdrantAPIKey     *string `yaml:"qdrant_api_key"`
	QdrantCollection *string `yaml:"qdrant_collection"`
	UpsertBatchSize  *int    `yaml:"upsert_batch_size"`

	RetrieveTopK           *int `yaml:"retrieve_top_k"`
	RRFK                   *int `yaml:"rrf_k"`
	PoolMultiplier         *int `yaml:"pool_multiplier"`
	PoolMin                *int `yaml:"pool_min"`
	RetrieveTimeoutSeconds *int `yaml:"retrieve_timeout_seconds"`

	IngestBatchSize *int     `yaml:"ingest_batch_size"`
	InferenceRPS    *float64 `yaml:"inference_rps"`

	EvalWorkers *int `yaml:"eval_workers"`
	EvalTopK    *int `yaml:"eval_top_k"`

	APIRateLimitRPS   *float64 `yaml:"api_rate_limit_rps"`
	APIRateLimitBurst *int     `yaml:"api_rate_limit_burst"`
	APIMaxConcurrent  *int     `yaml:"api_max_concurrent"`

	WorkerMetricsPort *string `yaml:"worker_metrics_port"`
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overlay fileConfig
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.APIPort, overlay.APIPort)
	setString(&cfg.LogLevel, overlay.LogLevel)
	setString(&cfg.PostgresDSN, overlay.PostgresDSN)
	setString(&cfg.NATSURL, overlay.NATSURL)
	setString(&cfg.NATSSubject, overlay.NATSSubject)
	setString(&cfg.EmbedURL, overlay.EmbedURL)
	setString(&cfg.EmbedModel, overlay.EmbedModel)
	setInt(&cfg.DenseDim, overlay.DenseDim)
	setString(&cfg.SpladeURL, overlay.SpladeURL)
	setInt(&cfg.SparseTopK, overlay.SparseTopK)
	setInt(&cfg.SparseMaxTokens, overlay.SparseMaxTokens)
	setString(&cfg.QdrantURL, overlay.QdrantURL)
	setString(&cfg.QdrantAPIKey, overlay.QdrantAPIKey)
	setString(&cfg.QdrantCollection, overlay.QdrantCollection)
	setInt(&cfg.UpsertBatchSize, overlay.UpsertBatchSize)
	setInt(&cfg.RetrieveTopK, overlay.RetrieveTopK)
	setInt(&cfg.RRFK, overlay.RRFK)
	setInt(&cfg.PoolMultiplier, overlay.PoolMultiplier)
	setInt(&cfg.PoolMin, overlay.PoolMin)
	setInt(&cfg.RetrieveTimeoutSeconds, overlay.RetrieveTimeoutSeconds)
	setInt(&cfg.IngestBatchSize, overlay.IngestBatchSize)
	setFloat(&cfg.InferenceRPS, overlay.InferenceRPS)
	setInt(&cfg.EvalWorkers, overlay.EvalWorkers)
	setInt(&cfg.EvalTopK, overlay.EvalTopK)
	setFloat(&cfg.APIRateLimitRPS, overlay.APIRateLimitRPS)
	setInt(&cfg.APIRateLimitBurst, overlay.APIRateLimitBurst)
	setInt(&cfg.APIMaxConcurrent, overlay.APIMaxConcurrent)
	setString(&cfg.WorkerMetricsPort, overlay.WorkerMetricsPort)
	return nil
}

func applyEnv(cfg *Config) {
	cfg.APIPort = envString("API_PORT", cfg.APIPort)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)

	cfg.PostgresDSN = envString("POSTGRES_DSN", cfg.PostgresDSN)

	cfg.NATSURL = envString("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = envString("NATS_SUBJECT", cfg.NATSSubject)

	cfg.EmbedURL = envString("EMBED_URL", cfg.EmbedURL)
	cfg.EmbedModel = envString("EMBED_MODEL", cfg.EmbedModel)
	cfg.DenseDim = envInt("DENSE_DIM", cfg.DenseDim)

	cfg.SpladeURL = envString("SPLADE_URL", cfg.SpladeURL)
	cfg.SparseTopK = envInt("SPARSE_TOP_K", cfg.SparseTopK)
	cfg.SparseMaxTokens = envInt("SPARSE_MAX_TOKENS", cfg.SparseMaxTokens)

	cfg.QdrantURL = envString("QDRANT_URL", cfg.QdrantURL)
	cfg.QdrantAPIKey = envString("QDRANT_API_KEY", cfg.QdrantAPIKey)
	cfg.QdrantCollection = envString("QDRANT_COLLECTION", cfg.QdrantCollection)
	cfg.UpsertBatchSize = envInt("UPSERT_BATCH_SIZE", cfg.UpsertBatchSize)

	cfg.RetrieveTopK = envInt("RETRIEVE_TOP_K", cfg.RetrieveTopK)
	cfg.RRFK = envInt("RRF_K", cfg.RRFK)
	cfg.PoolMultiplier = envInt("POOL_MULTIPLIER", cfg.PoolMultiplier)
	cfg.PoolMin = envInt("POOL_MIN", cfg.PoolMin)
	cfg.RetrieveTimeoutSeconds = envInt("RETRIEVE_TIMEOUT_SECONDS", cfg.RetrieveTimeoutSeconds)

	cfg.IngestBatchSize = envInt("INGEST_BATCH_SIZE", cfg.IngestBatchSize)
	cfg.InferenceRPS = envFloat("INFERENCE_RPS", cfg.InferenceRPS)

	cfg.EvalWorkers = envInt("EVAL_WORKERS", cfg.EvalWorkers)
	cfg.EvalTopK = envInt("EVAL_TOP_K", cfg.EvalTopK)

	cfg.APIRateLimitRPS = envFloat("API_RATE_LIMIT_RPS", cfg.APIRateLimitRPS)
	cfg.APIRateLimitBurst = envInt("API_RATE_LIMIT_BURST", cfg.APIRateLimitBurst)
	cfg.APIMaxConcurrent = envInt("API_MAX_CONCURRENT", cfg.APIMaxConcurrent)

	cfg.WorkerMetricsPort = envString("WORKER_METRICS_PORT", cfg.WorkerMetricsPort)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func envString(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
