// Package app wires configuration into the running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"media-enrichment-service/internal/config"
	"media-enrichment-service/internal/events"
	"media-enrichment-service/internal/observability"
	"media-enrichment-service/internal/observability/logging"
	"media-enrichment-service/internal/observability/metrics"
	"media-enrichment-service/internal/service/extract"
	"media-enrichment-service/internal/service/pipeline"
	"media-enrichment-service/internal/service/stt"
	"media-enrichment-service/internal/service/stt/google"
	"media-enrichment-service/internal/service/stt/mock"
	"media-enrichment-service/internal/service/transfer"
	"media-enrichment-service/internal/storage"
	"media-enrichment-service/internal/storage/azure"
	"media-enrichment-service/internal/storage/memory"
	"media-enrichment-service/internal/storage/s3"
)

// healthService is the gRPC health service name reported by serve.
const healthService = "media.enrichment.Pipeline"

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Store     storage.BlockStore
	Transfer  *transfer.Client
	Provider  stt.Provider
	Publisher *events.Publisher
	Pipeline  *pipeline.Orchestrator

	closers []func() error
}

// New constructs the application from cfg. Any client that cannot be built
// is a startup error.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.Store = store
	a.Transfer = transfer.New(store, transfer.WithBlockSize(cfg.Transfer.BlockSize))

	provider, err := a.newProvider(ctx, cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("stt: %w", err)
	}
	a.Provider = provider

	a.Publisher = events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicRequests:  cfg.Kafka.TopicRequests,
		TopicCompleted: cfg.Kafka.TopicCompleted,
		TopicFailed:    cfg.Kafka.TopicFailed,
		Principal:      cfg.Kafka.Principal,
	})
	a.closers = append(a.closers, a.Publisher.Close)

	a.Pipeline, err = pipeline.New(pipeline.Config{
		AudioContainer:       cfg.Pipeline.AudioContainer,
		CaptionContainer:     cfg.Pipeline.CaptionContainer,
		MaxConcurrency:       cfg.Pipeline.MaxConcurrency,
		MaxCueSeconds:        cfg.Pipeline.MaxCueSeconds,
		ChunkSize:            cfg.STT.ChunkSize,
		StopTimeout:          cfg.STT.StopTimeout,
		DeleteAudioOnFailure: cfg.Pipeline.DeleteAudioOnFailure,
	}, pipeline.Deps{
		Transfer:  a.Transfer,
		Fetcher:   pipeline.NewHTTPFetcher(nil, a.Transfer),
		Extractor: extract.New(extract.WithBinary(cfg.Extract.FFmpegPath)),
		Provider:  provider,
		Publisher: a.Publisher,
		Metrics:   metrics.DefaultMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	a.Logger.Info().
		Str("storage", cfg.Storage.Provider).
		Str("host", store.Host()).
		Str("sttProvider", provider.Name()).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("Media enrichment application created")
	return a, nil
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.BlockStore, error) {
	switch cfg.Provider {
	case config.StorageAzure:
		store, err := azure.New(azure.Config{
			AccountName:      cfg.AccountName,
			SASToken:         cfg.SASToken,
			ConnectionString: cfg.ConnectionString,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageS3:
		store, err := s3.New(ctx, s3.Config{
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageMemory:
		return memory.New(cfg.MemoryHost), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func (a *Application) newProvider(ctx context.Context, cfg config.STTConfig) (stt.Provider, error) {
	switch cfg.Provider {
	case config.STTGoogle:
		p, err := google.NewProvider(ctx, google.Config{
			LanguageCode:    cfg.LanguageCode,
			SampleRateHz:    int32(cfg.SampleRateHz),
			InterimResults:  cfg.InterimResults,
			AudioEncoding:   cfg.AudioEncoding,
			Model:           cfg.Model,
			Punctuation:     cfg.Punctuation,
			CredentialsFile: cfg.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	case config.STTMock:
		return mock.NewProvider(mock.Config{}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Source opens the configured event source.
func (a *Application) Source() (events.Source, error) {
	if !a.Cfg.Kafka.Enabled {
		return nil, errors.New("no event source: set KAFKA_ENABLED=true")
	}
	return events.NewKafkaSource(events.ConsumerConfig{
		Brokers:     a.Cfg.Kafka.Brokers,
		Topic:       a.Cfg.Kafka.TopicEvents,
		GroupID:     a.Cfg.Kafka.GroupID,
		StartLatest: a.Cfg.Kafka.StartLatest,
	})
}

// Serve runs the observability server, the gRPC health endpoint and the
// pipeline over src until ctx is canceled.
func (a *Application) Serve(ctx context.Context, src events.Source) error {
	serveLogger := a.Logger.With().Str("method", "Serve").Logger()

	a.StartupTime = time.Now().UTC()

	lis, err := net.Listen("tcp", ":"+a.Cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	obs := observability.NewServer(":" + a.Cfg.Observability.MetricsPort)
	obs.Start()
	server := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(metrics.DefaultMetrics)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	reflection.Register(server)

	go func() {
		serveLogger.Info().Str("port", a.Cfg.Service.GRPCPort).Msg("gRPC health server started")
		if err := server.Serve(lis); err != nil {
			serveLogger.Error().Err(err).Msg("gRPC serve failed")
		}
	}()

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)
	obs.SetReady(true)

	serveLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Media enrichment service started")

	runErr := a.Pipeline.Run(ctx, src)

	obs.SetReady(false)
	healthServer.Shutdown()
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		serveLogger.Error().Err(err).Msg("Observability server shutdown failed")
	}
	if err := src.Close(); err != nil {
		serveLogger.Error().Err(err).Msg("Event source close failed")
	}
	return runErr
}

// Shutdown releases shared clients.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			shutdownLogger.Error().Err(err).Msg("Close failed")
		}
	}
	shutdownLogger.Info().Msg("Media enrichment service shut down")
}
