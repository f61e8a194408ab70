package receipt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ExtensionForMIME maps an upload's content type to the stored file
// extension. Unknown types default to .jpg.
func ExtensionForMIME(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/heic", "image/heif":
		return ".heic"
	case "application/pdf":
		return ".pdf"
	default:
		return ".jpg"
	}
}

// mimeForExtension is the reverse mapping used when serving stored objects.
func mimeForExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".heic":
		return "image/heic"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// NewObjectPath builds a receipts/{userId}/{uuid}.{ext} path for an upload.
func NewObjectPath(userID, contentType string) string {
	return fmt.Sprintf("receipts/%s/%s%s", userID, uuid.NewString(), ExtensionForMIME(contentType))
}

// LocalBlobStore implements the BlobStore interface on the local filesystem.
type LocalBlobStore struct {
	basePath string
}

// NewLocalBlobStore creates a blob store rooted at basePath.
func NewLocalBlobStore(basePath string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalBlobStore{basePath: basePath}, nil
}

// Put saves an object. Existing objects are never overwritten.
func (l *LocalBlobStore) Put(path string, data []byte, _ string) (string, error) {
	fullPath := filepath.Join(l.basePath, filepath.FromSlash(path))

	if _, err := os.Stat(fullPath); err == nil {
		return "", fmt.Errorf("object already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("creating object directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing object: %w", err)
	}
	return path, nil
}

// Get retrieves an object; the content type is derived from the extension.
func (l *LocalBlobStore) Get(path string) ([]byte, string, error) {
	fullPath := filepath.Join(l.basePath, filepath.FromSlash(path))
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading object: %w", err)
	}
	return data, mimeForExtension(filepath.Ext(path)), nil
}

// Delete removes an object.
func (l *LocalBlobStore) Delete(path string) error {
	fullPath := filepath.Join(l.basePath, filepath.FromSlash(path))
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}
