package objstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/23skdu/vecbench/internal/errors"
)

// Backend transfers whole objects between a bucket and the local filesystem.
type Backend interface {
	Download(ctx context.Context, bucket, key, dst string) error
	Upload(ctx context.Context, bucket, key, src string) error
}

// Accessor resolves dataset URIs against a local cache directory and routes
// transfers to the backend registered for the URI scheme.
type Accessor struct {
	cacheDir string
	backends map[string]Backend
	logger   zerolog.Logger
}

// NewAccessor creates an accessor caching downloads under cacheDir.
func NewAccessor(cacheDir string, logger zerolog.Logger) *Accessor {
	return &Accessor{
		cacheDir: cacheDir,
		backends: make(map[string]Backend),
		logger:   logger.With().Str("component", "objstore").Logger(),
	}
}

// Register binds a backend to a URI scheme ("s3", "minio", ...).
func (a *Accessor) Register(scheme string, b Backend) {
	a.backends[scheme] = b
}

// CacheDir returns the local cache root.
func (a *Accessor) CacheDir() string {
	return a.cacheDir
}

// CachePath returns where uri is cached locally.
func (a *Accessor) CachePath(u URI) string {
	return filepath.Join(a.cacheDir, filepath.FromSlash(u.Key))
}

func (a *Accessor) backend(u URI) (Backend, error) {
	b, ok := a.backends[u.Scheme]
	if !ok {
		return nil, errors.New(errors.ErrorTypeStorage, "resolve", "no backend for scheme "+u.Scheme).
			WithContext("uri", u.String())
	}
	return b, nil
}

// EnsureFile returns a local path for path. Local paths are returned unchanged.
// Object URIs are downloaded into the cache directory unless already present;
// downloads land in a temporary sibling and are renamed into place.
func (a *Accessor) EnsureFile(ctx context.Context, path string) (string, error) {
	u, ok := ParseURI(path)
	if !ok {
		return path, nil
	}

	dst := a.CachePath(u)
	if _, err := os.Stat(dst); err == nil {
		a.logger.Debug().Str("uri", path).Str("path", dst).Msg("Using cached object")
		return dst, nil
	}

	b, err := a.backend(u)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.WrapStorageError(err, "download", "failed to create cache directory")
	}

	tmp := fmt.Sprintf("%s.%s.tmp", dst, uuid.NewString())
	a.logger.Info().Str("uri", path).Str("path", dst).Msg("Downloading object")
	if err := b.Download(ctx, u.Bucket, u.Key, tmp); err != nil {
		_ = os.Remove(tmp)
		return "", errors.WrapStorageError(err, "download", "failed to download "+path)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", errors.WrapStorageError(err, "download", "failed to move download into cache")
	}
	return dst, nil
}

// Upload publishes a local file to uri.
func (a *Accessor) Upload(ctx context.Context, localPath, uri string) error {
	u, ok := ParseURI(uri)
	if !ok {
		return errors.NewValidationError("upload", "not an object URI: "+uri)
	}
	b, err := a.backend(u)
	if err != nil {
		return err
	}

	a.logger.Info().Str("uri", uri).Str("path", localPath).Msg("Uploading object")
	if err := b.Upload(ctx, u.Bucket, u.Key, localPath); err != nil {
		return errors.WrapStorageError(err, "upload", "failed to upload "+uri)
	}
	return nil
}
