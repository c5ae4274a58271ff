// Package fsutil writes artifacts read by external servers so that a reader
// never observes a partially written file: content goes to a temporary file in
// the destination directory which is then renamed over, or linked to, the final name.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// ErrDigestMismatch is returned when copied bytes do not hash to the expected digest
var ErrDigestMismatch = errors.New("digest mismatch")

// WriteFile atomically replaces path with data
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return writeAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// CopyFile atomically copies src to dst and returns the SHA-256 of the copied bytes
func CopyFile(src, dst string, perm os.FileMode) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	h := sha256.New()
	err = writeAtomic(dst, perm, func(w io.Writer) error {
		_, err := io.Copy(io.MultiWriter(w, h), in)
		return err
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// PublishFile copies src to dst without ever replacing an existing dst. The
// bytes are staged in a temporary file, checked against wantSHA256 and then
// hard linked to dst. An existing dst yields an error matching os.ErrExist; a
// digest mismatch yields ErrDigestMismatch and leaves dst untouched.
func PublishFile(src, dst string, perm os.FileMode, wantSHA256 string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	pf, err := pending(dst, perm)
	if err != nil {
		return err
	}
	defer pf.Cleanup()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(pf, h), in); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != wantSHA256 {
		return fmt.Errorf("%s: expected %s, got %s: %w", src, wantSHA256, got, ErrDigestMismatch)
	}
	if err := pf.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	if err := os.Link(pf.Name(), dst); err != nil {
		return err
	}
	return syncDir(filepath.Dir(dst))
}

// HashFile streams path through SHA-256
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Exists reports whether path exists
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// RemoveIfExists deletes path, treating an absent file as success.
// It reports whether something was removed.
func RemoveIfExists(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func pending(path string, perm os.FileMode) (*renameio.PendingFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	pf, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(dir),
		renameio.WithStaticPermissions(perm),
	)
	if err != nil {
		return nil, fmt.Errorf("create temp file for %s: %w", path, err)
	}
	return pf, nil
}

func writeAtomic(path string, perm os.FileMode, fill func(io.Writer) error) error {
	pf, err := pending(path, perm)
	if err != nil {
		return err
	}
	defer pf.Cleanup()

	if err := fill(pf); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
