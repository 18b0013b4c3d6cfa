// Package gcs stores cache entries as objects in a Google Cloud Storage
// bucket. Object generations serve as revisions: creates are conditioned on
// DoesNotExist and updates on GenerationMatch.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/fulltext-fetcher/internal/cache"
	"github.com/JakeFAU/fulltext-fetcher/internal/hash/sha256"
)

// Config captures the bucket layout.
type Config struct {
	Bucket string
	Prefix string
}

// KV implements cache.KV on GCS objects.
type KV struct {
	client *storage.Client
	bucket string
	prefix string
	hasher *sha256.Hasher
}

// New creates a GCS-backed KV.
func New(client *storage.Client, cfg Config) (*KV, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &KV{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		hasher: sha256.New(),
	}, nil
}

// ObjectName maps a cache key to its object path.
func (s *KV) ObjectName(key string) string {
	name := s.hasher.Key(key)
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Get implements cache.KV.
func (s *KV) Get(ctx context.Context, key string) (cache.Entry, error) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return cache.Entry{}, cache.ErrKeyNotFound
		}
		return cache.Entry{}, fmt.Errorf("open object: %w", err)
	}
	defer r.Close() //nolint:errcheck // read-only handle
	data, err := io.ReadAll(r)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("read object: %w", err)
	}
	return cache.Entry{Value: data, Revision: uint64(r.Attrs.Generation)}, nil
}

// Create implements cache.KV.
func (s *KV) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.write(ctx, s.object(key).If(storage.Conditions{DoesNotExist: true}), value)
}

// Update implements cache.KV.
func (s *KV) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return s.write(ctx, s.object(key).If(storage.Conditions{GenerationMatch: int64(revision)}), value)
}

func (s *KV) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.ObjectName(key))
}

func (s *KV) write(ctx context.Context, obj *storage.ObjectHandle, value []byte) (uint64, error) {
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	if _, err := writer.Write(value); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return 0, fmt.Errorf("write object: %w (close writer: %v)", mapError(err), closeErr)
		}
		return 0, fmt.Errorf("write object: %w", mapError(err))
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close writer: %w", mapError(err))
	}
	return uint64(writer.Attrs().Generation), nil
}

func mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return cache.ErrConflict
	}
	return err
}
