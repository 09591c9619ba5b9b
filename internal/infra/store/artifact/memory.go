package artifactstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"
)

type memoryObject struct {
	data  []byte
	putAt time.Time
}

// Memory holds artifact bytes in a map. Used by tests and dev runs.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	tokens  *tokenTable
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]memoryObject),
		tokens:  newTokenTable(),
		now:     time.Now,
	}
}

func (s *Memory) Put(ctx context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read artifact source: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{data: data, putAt: s.now()}
	return nil
}

func (s *Memory) RetrievalRef(ctx context.Context, key string, ttl time.Duration) (domain.RetrievalRef, error) {
	s.mu.Lock()
	_, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return domain.RetrievalRef{}, domain.ErrArtifactNotFound
	}

	token, expiresAt := s.tokens.issue(key, ttl)
	return domain.RetrievalRef{
		URL:       "/artifacts/" + token,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Memory) OpenToken(ctx context.Context, token string) (io.ReadCloser, int64, error) {
	key, ok := s.tokens.resolve(token)
	if !ok {
		return nil, 0, domain.ErrArtifactNotFound
	}

	s.mu.Lock()
	obj, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return nil, 0, domain.ErrArtifactNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), int64(len(obj.data)), nil
}

func (s *Memory) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	_, ok := s.objects[key]
	delete(s.objects, key)
	s.mu.Unlock()

	if !ok {
		slog.Debug("artifact delete: key already absent", slog.String("key", key))
		return nil
	}
	s.tokens.revokeKey(key)
	return nil
}

func (s *Memory) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	border := s.now().Add(-maxAge)
	for key, obj := range s.objects {
		if obj.putAt.Before(border) {
			delete(s.objects, key)
		}
	}
	return nil
}
