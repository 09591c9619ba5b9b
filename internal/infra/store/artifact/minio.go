package artifactstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	BasePath        string

	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// MinIO stores artifacts in an S3-compatible bucket and presigns GET URLs
// as retrieval references, so clients fetch bytes directly from object
// storage rather than through the orchestration layer.
type MinIO struct {
	client   *minio.Client
	bucket   string
	basePath string
}

// NewMinIO dials object storage with exponential backoff and ensures the
// bucket exists before returning.
func NewMinIO(ctx context.Context, cfg MinIOConfig) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty MinIO endpoint")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("empty MinIO bucket")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}

	basePath := strings.Trim(cfg.BasePath, "/")
	if basePath != "" {
		basePath += "/"
	}

	var lastErr error
	interval := cfg.InitialInterval

	for attempt := range cfg.MaxRetries {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("context canceled before MinIO init: %w", ctx.Err())
		}

		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			lastErr = fmt.Errorf("create MinIO client: %w", err)
		} else {
			if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
				lastErr = err
			} else {
				return &MinIO{client: client, bucket: cfg.Bucket, basePath: basePath}, nil
			}
		}

		if attempt < cfg.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("context canceled while waiting to retry MinIO: %w", ctx.Err())
			case <-time.After(interval):
				interval *= 2
				if interval > cfg.MaxInterval {
					interval = cfg.MaxInterval
				}
			}
		}
	}

	return nil, fmt.Errorf("init MinIO failed after %d attempts: %w", cfg.MaxRetries, lastErr)
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (s *MinIO) Put(ctx context.Context, localPath, key string) error {
	objectName, err := s.objectName(key)
	if err != nil {
		return err
	}

	info, err := s.client.FPutObject(ctx, s.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: contentTypeForKey(key),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	slog.Debug("artifact uploaded",
		slog.String("key", key),
		slog.Int64("size", info.Size),
	)
	return nil
}

func (s *MinIO) RetrievalRef(ctx context.Context, key string, ttl time.Duration) (domain.RetrievalRef, error) {
	objectName, err := s.objectName(key)
	if err != nil {
		return domain.RetrievalRef{}, err
	}

	if _, err := s.client.StatObject(ctx, s.bucket, objectName, minio.StatObjectOptions{}); err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == minio.NoSuchKey {
			return domain.RetrievalRef{}, domain.ErrArtifactNotFound
		}
		return domain.RetrievalRef{}, fmt.Errorf("stat object: %w", err)
	}

	params := make(url.Values)
	params.Set("response-content-disposition", `attachment; filename="`+path.Base(key)+`"`)

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, ttl, params)
	if err != nil {
		return domain.RetrievalRef{}, fmt.Errorf("presign object: %w", err)
	}

	return domain.RetrievalRef{
		URL:       u.String(),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (s *MinIO) Delete(ctx context.Context, key string) error {
	objectName, err := s.objectName(key)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *MinIO) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	border := time.Now().Add(-maxAge)

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.basePath,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("list objects: %w", obj.Err)
		}
		if obj.LastModified.Before(border) {
			if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
				slog.Warn("artifact cleanup: remove object",
					slog.String("key", obj.Key),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}

// contentTypeForKey maps an artifact key to its upload content type by
// extension. Audio-only clips carry a .mp3 key.
func contentTypeForKey(key string) string {
	switch path.Ext(key) {
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

func (s *MinIO) objectName(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty artifact key")
	}
	clean := path.Clean(key)
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid artifact key: %s", key)
	}
	return s.basePath + strings.TrimLeft(clean, "/"), nil
}
