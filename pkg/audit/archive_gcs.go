//go:build gcp

package audit

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSArchive keeps evidence packs in a Google Cloud Storage bucket,
// content-addressed the same way as S3Archive.
type GCSArchive struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSArchiveConfig holds configuration for GCSArchive.
type GCSArchiveConfig struct {
	Bucket string
	Prefix string // Optional key prefix
}

// NewGCSArchive creates a GCS-backed evidence archive. Credentials come
// from Application Default Credentials.
func NewGCSArchive(ctx context.Context, cfg GCSArchiveConfig) (*GCSArchive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSArchive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (g *GCSArchive) object(raw string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.prefix + raw + ".zip")
}

func (g *GCSArchive) Store(ctx context.Context, data []byte) (string, error) {
	ref := packRef(data)
	raw, _ := parseRef(ref)

	obj := g.object(raw)
	if _, err := obj.Attrs(ctx); err == nil {
		return ref, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/zip"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close: %w", err)
	}
	return ref, nil
}

func (g *GCSArchive) Get(ctx context.Context, ref string) ([]byte, error) {
	raw, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	r, err := g.object(raw).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs get %s: %w", ref, err)
	}
	defer func() { _ = r.Close() }()

	return io.ReadAll(r)
}

func (g *GCSArchive) Exists(ctx context.Context, ref string) (bool, error) {
	raw, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	if _, err := g.object(raw).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs attrs: %w", err)
	}
	return true, nil
}

// Close releases the underlying client connection.
func (g *GCSArchive) Close() error {
	return g.client.Close()
}
