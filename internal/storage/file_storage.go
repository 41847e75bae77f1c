package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// FileStorage manages files relative to a base directory.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a new FileStorage rooted at dir.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

// Dir returns the base directory.
func (s *FileStorage) Dir() string {
	return s.dir
}

// Path resolves name against the base directory. Absolute names are returned unchanged.
func (s *FileStorage) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.dir, name)
}

// CreateFile creates (or truncates) the named file, creating parent directories.
func (s *FileStorage) CreateFile(name string) (*os.File, error) {
	path := s.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	return os.Create(path)
}

// OpenFile opens an existing file with the specified flags (e.g., read, write).
func (s *FileStorage) OpenFile(name string, flags int) (*os.File, error) {
	return os.OpenFile(s.Path(name), flags, 0o644)
}

// FileExists checks whether a file exists.
func (s *FileStorage) FileExists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// GetFileSize returns the size of the file in bytes.
func (s *FileStorage) GetFileSize(name string) (int64, error) {
	info, err := os.Stat(s.Path(name))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// WriteFile writes data to the named file, creating parent directories.
func (s *FileStorage) WriteFile(name string, data []byte) error {
	path := s.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFile reads the whole named file.
func (s *FileStorage) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(s.Path(name))
}

// Remove deletes the named file. A missing file is not an error.
func (s *FileStorage) Remove(name string) error {
	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// CopyFile copies data from the provided reader to the named file.
// Returns the number of bytes written and any error encountered.
func (s *FileStorage) CopyFile(src io.Reader, dstName string) (int64, error) {
	dst, err := s.CreateFile(dstName)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

// MoveInto moves the file at src to the named destination, replacing any
// existing file there. Falls back to copy and delete across devices.
func (s *FileStorage) MoveInto(src, dstName string) error {
	dst := s.Path(dstName)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove existing destination: %w", err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("move file: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if _, err := s.CopyFile(in, dst); err != nil {
		os.Remove(dst)
		return fmt.Errorf("copy file: %w", err)
	}
	return os.Remove(src)
}

// WriteResume stores resume data at the named path.
func (s *FileStorage) WriteResume(name string, data []byte) error {
	if err := s.WriteFile(name, data); err != nil {
		return fmt.Errorf("write resume data: %w", err)
	}
	return nil
}

// ReadResume returns stored resume data, or nil when there is none.
func (s *FileStorage) ReadResume(name string) ([]byte, error) {
	data, err := s.ReadFile(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read resume data: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}
