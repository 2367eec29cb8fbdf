package storage

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"duochat/internal/models"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// UploadStore owns the uploads directory and every file the rooms attach.
// It implements the core's ResourceReleaser.
type UploadStore struct {
	dir string
}

func NewUploadStore(dir string) (*UploadStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &UploadStore{dir: dir}, nil
}

// Dir returns the directory uploads are stored under.
func (s *UploadStore) Dir() string {
	return s.dir
}

// CleanupAll removes leftover files from previous runs. Rooms never survive
// a restart, so neither should their uploads.
func (s *UploadStore) CleanupAll() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		_ = os.Remove(filepath.Join(s.dir, entry.Name()))
	}
}

// Save persists an uploaded file under a sanitized timestamped name and
// describes it for the core. The media type is sniffed from content, never
// trusted from the client.
func (s *UploadStore) Save(fh *multipart.FileHeader) (models.FileDescriptor, error) {
	src, err := fh.Open()
	if err != nil {
		return models.FileDescriptor{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	safeName := unsafeNameChars.ReplaceAllString(filepath.Base(fh.Filename), "_")
	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), safeName)
	path := filepath.Join(s.dir, name)

	dst, err := os.Create(path)
	if err != nil {
		return models.FileDescriptor{}, fmt.Errorf("create upload file: %w", err)
	}
	size, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return models.FileDescriptor{}, fmt.Errorf("store upload: %w", err)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		_ = os.Remove(path)
		return models.FileDescriptor{}, fmt.Errorf("detect media type: %w", err)
	}

	return models.FileDescriptor{
		OriginalName: fh.Filename,
		MimeType:     mtype.String(),
		Size:         size,
		StorageRef:   path,
		URL:          "/uploads/" + name,
	}, nil
}

// Release deletes a stored file. Used both for upload rollback and for room
// teardown; a file that is already gone is not an error.
func (s *UploadStore) Release(ref string) error {
	if err := os.Remove(ref); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
