package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/metrics"
)

const (
	downloadTokenKey = "firebaseStorageDownloadTokens"
	defaultChunkSize = 16 << 20
)

// FirebaseStore writes objects to the Firebase Storage bucket.
type FirebaseStore struct {
	bucket     *gcs.BucketHandle
	bucketName string
	chunkSize  int
}

// NewFirebaseStore wraps a bucket. chunkSize applies to resumable uploads.
func NewFirebaseStore(bucket *gcs.BucketHandle, bucketName string, chunkSize int) *FirebaseStore {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &FirebaseStore{bucket: bucket, bucketName: bucketName, chunkSize: chunkSize}
}

func (s *FirebaseStore) Upload(ctx context.Context, objectPath string, r io.Reader, opts UploadOptions) (*Object, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	token := uuid.NewString()
	w := s.bucket.Object(objectPath).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.Metadata = map[string]string{downloadTokenKey: token}
	if opts.Mode == Resumable {
		w.ChunkSize = s.chunkSize
		w.ProgressFunc = opts.Progress
	} else {
		// A zero chunk size sends the object in one request.
		w.ChunkSize = 0
	}

	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()
		return nil, fmt.Errorf("writing %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing %s: %w", objectPath, err)
	}
	if opts.Mode != Resumable && opts.Progress != nil {
		opts.Progress(n)
	}

	metrics.UploadBytes.WithLabelValues(string(modeOrDefault(opts.Mode))).Add(float64(n))
	log.Debug().Str("path", objectPath).Int64("bytes", n).Str("mode", string(modeOrDefault(opts.Mode))).Msg("Uploaded object")
	return &Object{
		Path:        objectPath,
		URL:         DownloadURL(s.bucketName, objectPath, token),
		ContentType: opts.ContentType,
		Size:        n,
	}, nil
}

func (s *FirebaseStore) Delete(ctx context.Context, objectPath string) error {
	err := s.bucket.Object(objectPath).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("deleting %s: %w", objectPath, err)
	}
	return nil
}

func modeOrDefault(m UploadMode) UploadMode {
	if m == "" {
		return Sequential
	}
	return m
}
