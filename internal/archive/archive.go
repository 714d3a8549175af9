// Package archive stores rendered exports (PDF reports, history CSVs) in an
// object store so they can be downloaded after the request that produced them.
//
// Backends: local filesystem, Amazon S3 (or any S3-compatible endpoint),
// Google Cloud Storage and Azure Blob Storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"
)

// Storage is the object store used for exports. All keys are slash separated
// and relative to the backend's bucket, container or directory.
type Storage interface {
	// Put stores data at key. Returns ErrKeyExists when the key is taken and
	// opts.Overwrite is false.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get returns the object at key; the caller must close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete is idempotent.
	Delete(ctx context.Context, key string) error

	// URL returns a download URL, presigned for expires where the backend
	// supports it.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)

	Exists(ctx context.Context, key string) (bool, error)
}

type PutOptions struct {
	// ContentType is detected from the key's extension when empty.
	ContentType string
	Overwrite   bool
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

var (
	ErrNotFound       = errors.New("object not found")
	ErrKeyExists      = errors.New("object already exists at this key")
	ErrInvalidKey     = errors.New("invalid storage key")
	ErrAccessDenied   = errors.New("access denied")
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// StorageError records the operation and key that failed.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("archive %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("archive %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Backend names accepted in Config.Backend.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
	BackendAzure = "azure"
)

type Config struct {
	Backend string      `yaml:"backend"`
	Local   LocalConfig `yaml:"local"`
	S3      S3Config    `yaml:"s3"`
	GCS     GCSConfig   `yaml:"gcs"`
	Azure   AzureConfig `yaml:"azure"`
	// URLExpiry bounds presigned download links.
	URLExpiry time.Duration `yaml:"url_expiry"`
}

// New builds the backend named by cfg.Backend. An empty backend selects local
// storage.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocalStorage(cfg.Local, logger)
	case BackendS3:
		return NewS3Storage(ctx, cfg.S3, logger)
	case BackendGCS:
		return NewGCSStorage(ctx, cfg.GCS, logger)
	case BackendAzure:
		return NewAzureStorage(cfg.Azure, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// ExportKey returns the key an export for userID is stored under. The
// timestamp keeps repeated exports of the same document apart.
func ExportKey(userID, filename string, at time.Time) string {
	return path.Join("exports", sanitize(userID), at.UTC().Format("20060102T150405"), sanitize(filename))
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
	s = strings.Trim(s, ".")
	if s == "" {
		return "_"
	}
	return s
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || part == "" {
			return ErrInvalidKey
		}
	}
	return nil
}

func contentTypeFor(key, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
