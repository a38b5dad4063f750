package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dreschagin/eventlogger/internal/application/port"
	redisIdentity "github.com/dreschagin/eventlogger/internal/infrastructure/cache/redis"
	"github.com/dreschagin/eventlogger/internal/infrastructure/identity"
	natsInfra "github.com/dreschagin/eventlogger/internal/infrastructure/messaging/nats"
	"github.com/dreschagin/eventlogger/internal/infrastructure/observability/cloudwatch"
	dynamodbSink "github.com/dreschagin/eventlogger/internal/infrastructure/persistence/dynamodb"
	"github.com/dreschagin/eventlogger/internal/infrastructure/persistence/memory"
	"github.com/dreschagin/eventlogger/internal/infrastructure/persistence/postgres"
	s3storage "github.com/dreschagin/eventlogger/internal/infrastructure/storage/s3"
	"github.com/dreschagin/eventlogger/internal/interfaces/http/handler"
	"github.com/dreschagin/eventlogger/pkg/config"
	"github.com/dreschagin/eventlogger/pkg/logger"

	_ "github.com/lib/pq"
)

// remoteBackend удаленное хранилище и то, что нужно закрыть при остановке
type remoteBackend struct {
	sink    port.RemoteSink
	archive handler.ArchiveLister
	closers []func() error
}

func (b *remoteBackend) close(log *logger.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn("Failed to close remote backend", "error", err.Error())
		}
	}
}

// buildRemoteSink поднимает хранилище, выбранное через REMOTE_SINK
func buildRemoteSink(ctx context.Context, cfg *config.Config, log *logger.Logger) (*remoteBackend, error) {
	backend := &remoteBackend{}

	switch cfg.RemoteSink {
	case config.SinkNone:
		log.Warn("Remote sink is disabled, remote writes will fail")
		return backend, nil

	case config.SinkMemory:
		backend.sink = memory.NewEventSink()

	case config.SinkDynamoDB:
		sink, err := dynamodbSink.NewEventSink(ctx, dynamodbSink.Config{
			TablePrefix:     cfg.DynamoDB.TablePrefix,
			Region:          cfg.DynamoDB.Region,
			Endpoint:        cfg.DynamoDB.Endpoint,
			AccessKeyID:     cfg.DynamoDB.AccessKeyID,
			SecretAccessKey: cfg.DynamoDB.SecretAccessKey,
			TTL:             cfg.DynamoDB.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb sink: %w", err)
		}
		backend.sink = sink

	case config.SinkPostgres:
		db, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		backend.closers = append(backend.closers, db.Close)

		// Настраиваем connection pool
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

		if err := db.PingContext(ctx); err != nil {
			backend.close(log)
			return nil, fmt.Errorf("ping database: %w", err)
		}

		sink := postgres.NewPostgresEventSink(db)
		if err := sink.EnsureSchema(ctx, cfg.Events.Collection); err != nil {
			backend.close(log)
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		log.Info("Database connected successfully")
		backend.sink = sink

	case config.SinkCloudWatch:
		sink, err := cloudwatch.NewLogsSink(ctx, cloudwatch.LogsSinkConfig{
			LogGroupName:    cfg.CloudWatch.LogGroupName,
			Region:          cfg.CloudWatch.Region,
			Endpoint:        cfg.CloudWatch.Endpoint,
			AccessKeyID:     cfg.CloudWatch.AccessKeyID,
			SecretAccessKey: cfg.CloudWatch.SecretAccessKey,
			AutoCreate:      cfg.CloudWatch.AutoCreate,
		})
		if err != nil {
			return nil, fmt.Errorf("cloudwatch logs sink: %w", err)
		}
		backend.sink = sink

	case config.SinkS3:
		sink, err := s3storage.NewArchiveSink(ctx, s3storage.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
			URLMode:         s3storage.URLMode(cfg.S3.URLMode),
			PresignedTTL:    cfg.S3.PresignedTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 archive sink: %w", err)
		}
		backend.sink = sink
		backend.archive = sink

	case config.SinkNATS:
		sink, err := natsInfra.NewEventSink(natsInfra.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Stream:        cfg.NATS.Stream,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("nats sink: %w", err)
		}
		backend.sink = sink
		backend.closers = append(backend.closers, sink.Close)

	default:
		return nil, fmt.Errorf("unsupported remote sink %q", cfg.RemoteSink)
	}

	log.Info("Remote sink initialized", "provider", cfg.RemoteSink)
	return backend, nil
}

// buildIdentity возвращает источник identity и функцию его остановки
func buildIdentity(cfg *config.Config, log *logger.Logger) (port.IdentityProvider, func() error, error) {
	if cfg.Identity.Provider != config.IdentityRedis {
		return identity.Static{UserID: cfg.Identity.UserID, Email: cfg.Identity.Email}, func() error { return nil }, nil
	}

	provider, err := redisIdentity.NewSessionIdentity(redisIdentity.Options{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}, cfg.Identity.SessionID, log)
	if err != nil {
		return nil, nil, fmt.Errorf("redis identity: %w", err)
	}
	provider.Start(cfg.Identity.RefreshInterval)

	log.Info("Redis session identity initialized", "session", cfg.Identity.SessionID)
	return provider, provider.Close, nil
}
