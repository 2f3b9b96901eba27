package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/anonto42/chyrp-lite/backend/internal/metrics"
)

const memoryChunk = 256 << 10

// MemoryStore keeps objects in process. URLs use the memory:// scheme.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]memoryObject{}}
}

func (s *MemoryStore) Upload(ctx context.Context, objectPath string, r io.Reader, opts UploadOptions) (*Object, error) {
	var buf bytes.Buffer
	chunk := make([]byte, memoryChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if opts.Mode == Resumable && opts.Progress != nil {
				opts.Progress(int64(buf.Len()))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("writing %s: %w", objectPath, err)
		}
	}
	if opts.Mode != Resumable && opts.Progress != nil {
		opts.Progress(int64(buf.Len()))
	}

	s.mu.Lock()
	s.objects[objectPath] = memoryObject{data: buf.Bytes(), contentType: opts.ContentType}
	s.mu.Unlock()

	metrics.UploadBytes.WithLabelValues(string(modeOrDefault(opts.Mode))).Add(float64(buf.Len()))
	return &Object{
		Path:        objectPath,
		URL:         "memory://" + objectPath,
		ContentType: opts.ContentType,
		Size:        int64(buf.Len()),
	}, nil
}

func (s *MemoryStore) Delete(_ context.Context, objectPath string) error {
	s.mu.Lock()
	delete(s.objects, objectPath)
	s.mu.Unlock()
	return nil
}

// Get returns the stored bytes of an object.
func (s *MemoryStore) Get(objectPath string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectPath]
	return obj.data, ok
}

// Len is the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
