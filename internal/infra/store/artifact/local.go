package artifactstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"
)

// Local stores artifacts as files under a base directory. Writes go through
// a temp file plus rename so a crash never leaves a half-written artifact
// at its final path.
type Local struct {
	baseDir string
	tokens  *tokenTable
}

func NewLocal(baseDir string) (*Local, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir is empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	return &Local{baseDir: baseDir, tokens: newTokenTable()}, nil
}

func (s *Local) Put(ctx context.Context, localPath, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullPath, err := s.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact source: %w", err)
	}
	defer src.Close()

	tempPath := fullPath + ".tmp-" + fmt.Sprint(time.Now().UnixNano())
	dst, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = dst.Close()
		_ = os.Remove(tempPath)
	}()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *Local) RetrievalRef(ctx context.Context, key string, ttl time.Duration) (domain.RetrievalRef, error) {
	fullPath, err := s.fullPath(key)
	if err != nil {
		return domain.RetrievalRef{}, err
	}
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return domain.RetrievalRef{}, domain.ErrArtifactNotFound
		}
		return domain.RetrievalRef{}, fmt.Errorf("stat artifact: %w", err)
	}

	token, expiresAt := s.tokens.issue(key, ttl)
	return domain.RetrievalRef{
		URL:       "/artifacts/" + token,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Local) OpenToken(ctx context.Context, token string) (io.ReadCloser, int64, error) {
	key, ok := s.tokens.resolve(token)
	if !ok {
		return nil, 0, domain.ErrArtifactNotFound
	}

	fullPath, err := s.fullPath(key)
	if err != nil {
		return nil, 0, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, domain.ErrArtifactNotFound
		}
		return nil, 0, fmt.Errorf("stat artifact: %w", err)
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, 0, fmt.Errorf("open artifact: %w", err)
	}
	return f, info.Size(), nil
}

func (s *Local) Delete(ctx context.Context, key string) error {
	fullPath, err := s.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			slog.Debug("artifact delete: key already absent", slog.String("key", key))
			return nil
		}
		return fmt.Errorf("remove artifact: %w", err)
	}
	s.tokens.revokeKey(key)
	return nil
}

// CleanupOlderThan removes orphaned files past maxAge; the janitor runs it
// behind the per-key deletes as a safety net.
func (s *Local) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	border := time.Now().Add(-maxAge)

	return filepath.WalkDir(s.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(border) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				slog.Warn("artifact cleanup: remove file",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil
	})
}

func (s *Local) fullPath(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty artifact key")
	}
	clean := filepath.Clean(key)
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid artifact key: %s", key)
	}
	return filepath.Join(s.baseDir, clean), nil
}
