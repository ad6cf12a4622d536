package zipsniper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// spillFile holds the central directory on disk while it is being decoded.
//
// Close closes and removes the file.
type spillFile struct {
	*os.File
}

// createSpillFile creates a new uniquely named file in dir, or os.TempDir if dir is empty.
//
// The file is opened with flag `os.O_RDWR|os.O_CREATE|os.O_EXCL` so an existing file is never reused.
func createSpillFile(dir string) (*spillFile, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	name := filepath.Join(dir, "zipsniper-"+uuid.NewString()+".cd")
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create spill file error: %w", err)
	}

	return &spillFile{File: f}, nil
}

func (s *spillFile) Close() error {
	err := s.File.Close()
	if rerr := os.Remove(s.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		err = errors.Join(err, fmt.Errorf("remove spill file error: %w", rerr))
	}

	return err
}
