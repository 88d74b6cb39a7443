package persidict

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore keeps objects in one Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

var _ ObjectStore = (*GCSStore)(nil)

// NewGCSStore connects with a service-account key file; an empty path uses
// application default credentials.
func NewGCSStore(ctx context.Context, bucket, saKeyPath string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); err != nil {
			return nil, fmt.Errorf("service account key %s: %w", saKeyPath, err)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (g *GCSStore) Close() error { return g.client.Close() }

func (g *GCSStore) Put(ctx context.Context, name string, body io.Reader, _ int64) error {
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload gs://%s/%s: %w", g.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}
	return nil
}

func (g *GCSStore) Get(ctx context.Context, name string, dst *os.File) error {
	r, err := g.client.Bucket(g.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: gs://%s/%s", ErrNotFound, g.bucket, name)
	}
	if err != nil {
		return fmt.Errorf("read gs://%s/%s: %w", g.bucket, name, err)
	}
	defer r.Close()
	_, err = io.Copy(dst, r)
	return err
}

func (g *GCSStore) Delete(ctx context.Context, name string) error {
	err := g.client.Bucket(g.bucket).Object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: gs://%s/%s", ErrNotFound, g.bucket, name)
	}
	return err
}

func (g *GCSStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := g.client.Bucket(g.bucket).Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (g *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", g.bucket, prefix, err)
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}
