// Package archive keeps a copy of every generated export file.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrInvalidName is returned for object names that escape the archive.
var ErrInvalidName = errors.New("invalid archive object name")

// Archiver stores export files under a name and returns where they went.
type Archiver interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

func cleanName(name string) (string, error) {
	name = strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+name)), "/")
	if name == "" || name == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// Dir archives into a local directory.
type Dir struct {
	root string
}

// NewDir creates root if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(d.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// Bucket archives into a Google Cloud Storage bucket.
type Bucket struct {
	client *storage.Client
	bucket string
}

// NewBucket connects to GCS. An empty credentialsFile uses the ambient
// application default credentials.
func NewBucket(ctx context.Context, bucket, credentialsFile string) (*Bucket, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &Bucket{client: client, bucket: bucket}, nil
}

func (b *Bucket) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	w := b.client.Bucket(b.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", b.bucket, name), nil
}

// Close releases the GCS client.
func (b *Bucket) Close() error {
	return b.client.Close()
}
