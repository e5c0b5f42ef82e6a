package attachments

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/go-git/go-billy/v5"
)

// Storage keeps attachment files as <library>/<key>/<filename>.
type Storage struct {
	fs billy.Filesystem
}

func NewStorage(fs billy.Filesystem) *Storage {
	return &Storage{fs: fs}
}

func (s *Storage) Path(lib models.LibraryID, key, filename string) string {
	return s.fs.Join(lib.String(), key, filename)
}

func (s *Storage) Open(path string) (billy.File, error) {
	f, err := s.fs.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return f, err
}

func (s *Storage) Stat(path string) (os.FileInfo, error) {
	fi, err := s.fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return fi, err
}

func (s *Storage) Exists(path string) bool {
	_, err := s.fs.Stat(path)
	return err == nil
}

func (s *Storage) WriteFile(path string, data []byte) error {
	f, err := s.fs.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Storage) ReadFile(path string) ([]byte, error) {
	f, err := s.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Remove deletes a file; a missing file is not an error.
func (s *Storage) Remove(path string) error {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Rename moves an attachment after its filename changed. Nothing happens
// when the old file was never downloaded.
func (s *Storage) Rename(lib models.LibraryID, key, from, to string) error {
	if from == to || from == "" || to == "" {
		return nil
	}
	src := s.Path(lib, key, from)
	if !s.Exists(src) {
		return nil
	}
	if err := s.fs.Rename(src, s.Path(lib, key, to)); err != nil {
		return fmt.Errorf("rename %s: %w", src, err)
	}
	return nil
}
