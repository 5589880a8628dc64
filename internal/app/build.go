package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/homepro-connect/internal/apiclient"
	"github.com/wolfman30/homepro-connect/internal/attachments"
	"github.com/wolfman30/homepro-connect/internal/config"
	"github.com/wolfman30/homepro-connect/internal/localstore"
	"github.com/wolfman30/homepro-connect/internal/notify"
	"github.com/wolfman30/homepro-connect/pkg/logging"
)

// BuildRedisClient returns a configured Redis client. When verify is true, a
// ping is issued and a failure is returned.
func BuildRedisClient(ctx context.Context, cfg *config.Config, logger *logging.Logger, verify bool) (*redis.Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, fmt.Errorf("app: REDIS_ADDR is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client, nil
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.Warn("redis not available", "addr", cfg.RedisAddr, "error", err)
		return nil, fmt.Errorf("app: redis ping: %w", err)
	}
	return client, nil
}

// BuildLocalStore picks the state backend named by STATE_BACKEND.
func BuildLocalStore(cfg *config.Config, redisClient *redis.Client) (localstore.Store, error) {
	switch cfg.StateBackend {
	case config.StateBackendMemory:
		return localstore.NewMemoryStore(), nil
	case config.StateBackendFile:
		return localstore.NewFileStore(cfg.StateFile)
	case config.StateBackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("app: redis state backend needs a redis client")
		}
		return localstore.NewRedisStore(redisClient, cfg.StateKeyPrefix), nil
	default:
		return nil, fmt.Errorf("app: unknown state backend %q", cfg.StateBackend)
	}
}

// BuildReminderLedger returns the send-once ledger. It is shared through
// Redis when a client is available and otherwise kept in the local store so
// it outlives the process.
func BuildReminderLedger(cfg *config.Config, redisClient *redis.Client, local localstore.Store) notify.Ledger {
	if cfg.ReminderPolicy != config.ReminderPolicyOncePerBooking {
		return nil
	}
	if redisClient != nil {
		return notify.NewRedisLedger(redisClient, cfg.StateKeyPrefix, 2*cfg.ReminderWindow)
	}
	if local != nil {
		return notify.NewStoreLedger(local, 2*cfg.ReminderWindow)
	}
	return notify.NewMemoryLedger()
}

// BuildUploader picks the attachment backend named by UPLOAD_BACKEND. s3Client
// overrides the SDK client, for tests.
func BuildUploader(ctx context.Context, cfg *config.Config, api *apiclient.Client, s3Client attachments.S3API, logger *logging.Logger) (attachments.Uploader, error) {
	switch cfg.UploadBackend {
	case "", config.UploadBackendHTTP:
		return attachments.NewHTTPUploader(api), nil
	case config.UploadBackendS3:
		s3cfg := attachments.S3Config{
			Bucket:           cfg.S3Bucket,
			Prefix:           cfg.S3Prefix,
			PublicBaseURL:    cfg.S3PublicBaseURL,
			Region:           cfg.AWSRegion,
			AccessKeyID:      cfg.AWSAccessKeyID,
			SecretAccessKey:  cfg.AWSSecretAccessKey,
			EndpointOverride: cfg.AWSEndpointOverride,
		}
		if s3Client == nil {
			client, err := attachments.NewS3Client(ctx, s3cfg)
			if err != nil {
				return nil, err
			}
			s3Client = client
		}
		logger.Info("attachments: uploading to s3", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
		return attachments.NewS3Uploader(s3Client, s3cfg, logger), nil
	default:
		return nil, fmt.Errorf("app: unknown upload backend %q", cfg.UploadBackend)
	}
}
