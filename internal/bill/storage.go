package bill

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ImageStore keeps the uploaded bill images for the lifetime of a session
type ImageStore interface {
	// Save stores an image under key and returns the reference to use for it
	Save(key string, data []byte) (string, error)

	// Get retrieves an image by reference
	Get(ref string) ([]byte, error)

	// Delete removes an image
	Delete(ref string) error
}

var (
	unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spacesRe     = regexp.MustCompile(`\s+`)
)

// ImageKey builds the storage key for a bill's image from the bill ID and the
// uploaded filename. Phone cameras produce long, noisy filenames, so the base
// name is reduced to a short alphanumeric form.
func ImageKey(billID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeNameRe.ReplaceAllString(base, "")
	base = spacesRe.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "bill"
	}
	return fmt.Sprintf("%s_%s%s", billID, base, ext)
}

// LocalStorage implements ImageStore on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage rooted at basePath
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes an image to disk
func (l *LocalStorage) Save(key string, data []byte) (string, error) {
	path, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return key, nil
}

// Get reads an image from disk
func (l *LocalStorage) Get(ref string) ([]byte, error) {
	path, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes an image from disk
func (l *LocalStorage) Delete(ref string) error {
	path, err := l.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Purge removes every stored image, leaving the directory in place
func (l *LocalStorage) Purge() error {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return fmt.Errorf("reading storage directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(l.basePath, e.Name())); err != nil {
			return fmt.Errorf("deleting file: %w", err)
		}
	}
	return nil
}

// resolve maps a reference to a path inside basePath
func (l *LocalStorage) resolve(ref string) (string, error) {
	if ref == "" || ref == "." || ref == ".." || ref != filepath.Base(ref) {
		return "", errors.New("invalid image reference")
	}
	return filepath.Join(l.basePath, ref), nil
}
