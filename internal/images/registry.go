// Package images stores OS images under their content hash and keeps their catalog.
package images

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"thinfleet/internal/database"
	"thinfleet/internal/metrics"
	"thinfleet/pkg/fsutil"
	"thinfleet/pkg/models"
)

const (
	defaultName    = "unknown"
	defaultVersion = "1.0"
)

// RegisterResult reports the outcome of an image registration
type RegisterResult struct {
	Success  bool   `json:"success"`
	ImageID  string `json:"image_id"`
	FilePath string `json:"file_path"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
	// Copied is false when identical bytes were already stored
	Copied bool `json:"copied"`
}

// Registry manages the image catalog and the stored artifacts
type Registry struct {
	images database.ImageRepository
	dir    string
	now    func() time.Time

	// mu covers choosing a file name, publishing it and recording the row
	mu sync.Mutex
}

// New creates an image registry storing artifacts in dir
func New(images database.ImageRepository, dir string) *Registry {
	return &Registry{images: images, dir: dir, now: time.Now}
}

// ImageID returns the content addressed id of an image
func ImageID(name, version, sha256Hex string) string {
	return fmt.Sprintf("%s-%s-%s", name, version, sha256Hex[:8])
}

// Register hashes the file at path, stores a copy and records it.
// metadata may carry name, version and description; it is stored as given.
func (r *Registry) Register(ctx context.Context, path string, metadata map[string]any) (result *RegisterResult, err error) {
	defer func() {
		metrics.ImageRegistrationsTotal.WithLabelValues(metrics.Result(err)).Inc()
	}()

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("image file %s: %w", path, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %v: %w", path, err, models.ErrIO)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("image path %s is a directory: %w", path, models.ErrValidation)
	}

	name := stringField(metadata, "name", defaultName)
	version := stringField(metadata, "version", defaultVersion)
	if strings.ContainsAny(name+version, "/\\") {
		return nil, fmt.Errorf("image name and version must not contain path separators: %w", models.ErrValidation)
	}

	hash, size, err := fsutil.HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %v: %w", path, err, models.ErrIO)
	}
	imageID := ImageID(name, version, hash)

	r.mu.Lock()
	defer r.mu.Unlock()

	dest, err := r.locate(ctx, imageID, hash)
	if err != nil {
		return nil, err
	}
	copied := false
	if dest == "" {
		if dest, copied, err = r.store(path, hash); err != nil {
			return nil, err
		}
	}

	stored, err := r.images.Upsert(ctx, &models.Image{
		ImageID:     imageID,
		Name:        name,
		Version:     version,
		Description: stringField(metadata, "description", ""),
		FilePath:    dest,
		FileSize:    size,
		SHA256Hash:  hash,
		Metadata:    metadata,
		CreatedAt:   r.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store image %s: %w", imageID, err)
	}

	log.Info().
		Str("image_id", stored.ImageID).
		Str("file_path", dest).
		Int64("file_size", size).
		Bool("copied", copied).
		Msg("Image registered")

	return &RegisterResult{
		Success:  true,
		ImageID:  stored.ImageID,
		FilePath: stored.FilePath,
		SHA256:   hash,
		FileSize: size,
		Copied:   copied,
	}, nil
}

// locate returns the stored artifact already recorded for imageID when it
// still holds the expected bytes, whatever the source file was called.
func (r *Registry) locate(ctx context.Context, imageID, hash string) (string, error) {
	existing, err := r.images.Get(ctx, imageID)
	if errors.Is(err, models.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if err := VerifyFile(existing.FilePath, hash); err != nil {
		log.Warn().Err(err).Str("image_id", imageID).Msg("Stored image no longer matches its record, storing it again")
		return "", nil
	}
	return existing.FilePath, nil
}

// store places the bytes of src in the image directory and reports whether
// they were copied. The basename is used unless another artifact with
// different content already owns it, in which case the hash is added to the
// stem. Names are claimed with a hard link, so a file that appears between the
// check and the publish is never overwritten, even by another process.
func (r *Registry) store(src, hash string) (string, bool, error) {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	candidates := []string{
		base,
		fmt.Sprintf("%s-%s%s", stem, hash[:8], ext),
		fmt.Sprintf("%s-%s%s", stem, hash, ext),
	}

	for _, name := range candidates {
		dest := filepath.Join(r.dir, name)

		same, err := matches(dest, hash)
		if err != nil {
			return "", false, err
		}
		if same {
			return dest, false, nil
		}

		taken, err := fsutil.Exists(dest)
		if err != nil {
			return "", false, fmt.Errorf("stat %s: %v: %w", dest, err, models.ErrIO)
		}
		if !taken {
			err = fsutil.PublishFile(src, dest, 0644, hash)
			switch {
			case err == nil:
				return dest, true, nil
			case errors.Is(err, fsutil.ErrDigestMismatch):
				return "", false, fmt.Errorf("%s changed while being copied: %w", src, models.ErrIntegrity)
			case !errors.Is(err, os.ErrExist):
				return "", false, fmt.Errorf("copy %s to %s: %v: %w", src, dest, err, models.ErrIO)
			}
			// claimed by someone else meanwhile
			if same, err = matches(dest, hash); err != nil {
				return "", false, err
			}
			if same {
				return dest, false, nil
			}
		}

		log.Warn().
			Str("file_path", dest).
			Str("sha256", hash).
			Msg("Image file name already holds different content")
	}
	return "", false, fmt.Errorf("no free file name for %s in %s: %w", base, r.dir, models.ErrIO)
}

func matches(path, hash string) (bool, error) {
	got, _, err := fsutil.HashFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("hash %s: %v: %w", path, err, models.ErrIO)
	}
	return got == hash, nil
}

// Get returns an image by id
func (r *Registry) Get(ctx context.Context, imageID string) (*models.Image, error) {
	return r.images.Get(ctx, imageID)
}

// List returns every image, newest first
func (r *Registry) List(ctx context.Context) ([]*models.Image, error) {
	return r.images.List(ctx)
}

// Verify re-hashes the stored artifact of imageID
func (r *Registry) Verify(ctx context.Context, imageID string) (*models.Image, error) {
	img, err := r.images.Get(ctx, imageID)
	if err != nil {
		return nil, err
	}

	err = VerifyFile(img.FilePath, img.SHA256Hash)
	metrics.ImageVerificationsTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return img, fmt.Errorf("image %s: %w", imageID, err)
	}
	return img, nil
}

// VerifyFile checks that the file at path has the expected SHA-256.
// A missing file wraps models.ErrIO, a digest mismatch models.ErrIntegrity.
func VerifyFile(path, expected string) error {
	got, _, err := fsutil.HashFile(path)
	if err != nil {
		return fmt.Errorf("hash %s: %v: %w", path, err, models.ErrIO)
	}
	if !strings.EqualFold(got, expected) {
		return fmt.Errorf("sha256 mismatch for %s: expected %s, got %s: %w", path, expected, got, models.ErrIntegrity)
	}
	return nil
}

func stringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}
