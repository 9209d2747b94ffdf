// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported storage providers.
const (
	StorageAzure  = "azure"
	StorageS3     = "s3"
	StorageMemory = "memory"
)

// Supported speech providers.
const (
	STTGoogle = "google"
	STTMock   = "mock"
)

// s3MinPartSize is the smallest non-final part S3 accepts.
const s3MinPartSize = 5 * 1024 * 1024

// Config is the complete service configuration.
type Config struct {
	Service       ServiceConfig
	Kafka         KafkaConfig
	Storage       StorageConfig
	Transfer      TransferConfig
	Extract       ExtractConfig
	STT           STTConfig
	Pipeline      PipelineConfig
	Observability ObservabilityConfig
}

// ServiceConfig identifies the process.
type ServiceConfig struct {
	Principal string
	GRPCPort  string
	Env       string
}

// KafkaConfig configures the event source and result topics.
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	GroupID        string
	TopicEvents    string
	TopicRequests  string
	TopicCompleted string
	TopicFailed    string
	Principal      string
	StartLatest    bool
}

// StorageConfig selects and configures the block store.
type StorageConfig struct {
	Provider string

	// Azure Blob
	AccountName      string
	SASToken         string
	ConnectionString string

	// S3
	S3Region         string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool

	// MemoryHost addresses the in-memory store.
	MemoryHost string
}

// TransferConfig tunes chunked uploads.
type TransferConfig struct {
	BlockSize int
}

// ExtractConfig locates the ffmpeg binary.
type ExtractConfig struct {
	FFmpegPath string
}

// STTConfig configures speech recognition.
type STTConfig struct {
	Provider        string
	LanguageCode    string
	SampleRateHz    int
	InterimResults  bool
	AudioEncoding   string
	Model           string
	Punctuation     bool
	CredentialsFile string
	ChunkSize       int
	StopTimeout     time.Duration
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	AudioContainer       string
	CaptionContainer     string
	MaxConcurrency       int64
	MaxCueSeconds        float64
	DeleteAudioOnFailure bool
}

// ObservabilityConfig configures logging and the metrics server.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

// LoadDotEnv loads variables from the given files (default ".env") without
// overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration from the environment. Unparsable values fall
// back to their defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-media-enrichment")

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
			Env:       envOrDefault("ENV", "prod"),
		},
		Kafka: KafkaConfig{
			Enabled:        envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:        envList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID:        envOrDefault("KAFKA_GROUP_ID", "media-enrichment"),
			TopicEvents:    envOrDefault("KAFKA_TOPIC_EVENTS", "media.uploaded"),
			TopicRequests:  envOrDefault("KAFKA_TOPIC_REQUESTS", "media.uploaded"),
			TopicCompleted: envOrDefault("KAFKA_TOPIC_COMPLETED", "media.enrichment.completed"),
			TopicFailed:    envOrDefault("KAFKA_TOPIC_FAILED", "media.enrichment.failed"),
			Principal:      envOrDefault("KAFKA_PRINCIPAL", principal),
			StartLatest:    envOrDefaultBool("KAFKA_START_LATEST", false),
		},
		Storage: StorageConfig{
			Provider:         strings.ToLower(envOrDefault("STORAGE_PROVIDER", StorageMemory)),
			AccountName:      os.Getenv("AZURE_STORAGE_ACCOUNT"),
			SASToken:         os.Getenv("AZURE_STORAGE_SAS_TOKEN"),
			ConnectionString: os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
			S3Region:         envOrDefault("S3_REGION", "us-east-1"),
			S3Endpoint:       os.Getenv("S3_ENDPOINT"),
			S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
			S3ForcePathStyle: envOrDefaultBool("S3_FORCE_PATH_STYLE", false),
			MemoryHost:       envOrDefault("MEMORY_STORAGE_HOST", "memory.local"),
		},
		Transfer: TransferConfig{
			BlockSize: envOrDefaultInt("TRANSFER_BLOCK_SIZE", 4*1024*1024),
		},
		Extract: ExtractConfig{
			FFmpegPath: envOrDefault("FFMPEG_PATH", "ffmpeg"),
		},
		STT: STTConfig{
			Provider:        strings.ToLower(envOrDefault("STT_PROVIDER", STTMock)),
			LanguageCode:    envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:    envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults:  envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:   envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			Model:           os.Getenv("STT_MODEL"),
			Punctuation:     envOrDefaultBool("STT_PUNCTUATION", true),
			CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
			ChunkSize:       envOrDefaultInt("STT_CHUNK_BYTES", 32000),
			StopTimeout:     envOrDefaultDuration("STT_STOP_TIMEOUT", 2*time.Minute),
		},
		Pipeline: PipelineConfig{
			AudioContainer:       envOrDefault("PIPELINE_AUDIO_CONTAINER", "audio"),
			CaptionContainer:     envOrDefault("PIPELINE_CAPTION_CONTAINER", "videocaptions"),
			MaxConcurrency:       int64(envOrDefaultInt("PIPELINE_MAX_CONCURRENCY", 4)),
			MaxCueSeconds:        envOrDefaultFloat("CAPTION_MAX_CUE_SECONDS", 5),
			DeleteAudioOnFailure: envOrDefaultBool("PIPELINE_DELETE_AUDIO_ON_FAILURE", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

// Validate reports every setting that would prevent the service from running.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Provider {
	case StorageAzure:
		if c.Storage.ConnectionString == "" && (c.Storage.AccountName == "" || c.Storage.SASToken == "") {
			errs = append(errs, errors.New("azure storage requires AZURE_STORAGE_CONNECTION_STRING or AZURE_STORAGE_ACCOUNT with AZURE_STORAGE_SAS_TOKEN"))
		}
	case StorageS3:
		if c.Storage.S3Region == "" {
			errs = append(errs, errors.New("s3 storage requires S3_REGION"))
		}
		if c.Transfer.BlockSize < s3MinPartSize {
			errs = append(errs, fmt.Errorf("s3 storage requires TRANSFER_BLOCK_SIZE >= %d, got %d", s3MinPartSize, c.Transfer.BlockSize))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_PROVIDER %q", c.Storage.Provider))
	}

	switch c.STT.Provider {
	case STTGoogle, STTMock:
	default:
		errs = append(errs, fmt.Errorf("unknown STT_PROVIDER %q", c.STT.Provider))
	}

	if c.Transfer.BlockSize <= 0 {
		errs = append(errs, errors.New("TRANSFER_BLOCK_SIZE must be positive"))
	}
	if c.Pipeline.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("PIPELINE_MAX_CONCURRENCY must be positive"))
	}
	if c.Pipeline.AudioContainer == "" || c.Pipeline.CaptionContainer == "" {
		errs = append(errs, errors.New("audio and caption containers must be set"))
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required when Kafka is enabled"))
		}
		if c.Kafka.TopicEvents == "" || c.Kafka.GroupID == "" {
			errs = append(errs, errors.New("KAFKA_TOPIC_EVENTS and KAFKA_GROUP_ID are required when Kafka is enabled"))
		}
	}

	return errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
