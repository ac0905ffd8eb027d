// Package storage holds pattern image blobs. A blob is addressed by an opaque
// reference returned from Put and persisted in patterns.image.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/patternvault/backend/shared/config"
)

type BlobStore interface {
	// Put stores r under key and returns the reference to persist.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Delete releases the blob. A missing blob is not an error.
	Delete(ctx context.Context, ref string) error
	// URL resolves ref to an absolute URL. origin is the public scheme://host
	// of the current request and is only used by stores that serve media
	// through the service itself.
	URL(ref, origin string) string
}

// NewKey returns patterns/YYYY/MM/DD/<uuid><ext> for the given upload time.
func NewKey(now time.Time, ext string) string {
	now = now.UTC()
	ext = strings.ToLower(ext)
	return fmt.Sprintf("patterns/%04d/%02d/%02d/%s%s", now.Year(), now.Month(), now.Day(), uuid.NewString(), ext)
}

// ExtensionFor maps a sniffed image content type onto the extension its blob
// is stored under. The client's file name never decides it, since the media
// route serves blobs with a type derived from the extension. ok is false for
// types outside the allowlist.
func ExtensionFor(contentType string) (ext string, ok bool) {
	switch contentType {
	case "image/png":
		return ".png", true
	case "image/jpeg":
		return ".jpg", true
	case "image/gif":
		return ".gif", true
	case "image/webp":
		return ".webp", true
	case "image/bmp":
		return ".bmp", true
	default:
		return "", false
	}
}

// NewFromConfig builds the store selected by STORAGE_DRIVER.
func NewFromConfig(ctx context.Context, cfg *config.Config) (BlobStore, error) {
	switch cfg.StorageDriver {
	case "", "local":
		return NewLocalStore(cfg.MediaRoot, cfg.MediaURLPrefix)
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			BaseEndpoint:  cfg.S3BaseEndpoint,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
	case "cloudinary":
		return NewCloudinaryStore(cfg.CloudinaryName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
