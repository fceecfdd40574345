// Package storage persists the license blob and the original install date
// for the application.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MacJediWizard/ocaquery/internal/license"
	"github.com/natefinch/atomic"
)

const (
	// LicenseFile holds the current license document.
	LicenseFile = "license.json"
	// InstallDateFile holds the first-run timestamp used as the trial start.
	InstallDateFile = "install_date"
)

// FileStore keeps license state as files in a data directory. Writes replace
// files atomically so a crash never leaves a truncated license behind.
type FileStore struct {
	dir string
}

var _ license.Store = (*FileStore)(nil)

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// LicensePath returns the path of the stored license document.
func (s *FileStore) LicensePath() string {
	return filepath.Join(s.dir, LicenseFile)
}

// LoadLicense implements license.Store.
func (s *FileStore) LoadLicense(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.read(LicenseFile)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, license.ErrNotFound
	}
	return data, nil
}

// SaveLicense implements license.Store.
func (s *FileStore) SaveLicense(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(LicenseFile, data)
}

// LoadInstallDate implements license.Store.
func (s *FileStore) LoadInstallDate(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	data, err := s.read(InstallDateFile)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse install date: %w", err)
	}
	return t.UTC(), nil
}

// SaveInstallDate implements license.Store.
func (s *FileStore) SaveInstallDate(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(InstallDateFile, []byte(t.UTC().Format(time.RFC3339Nano)+"\n"))
}

func (s *FileStore) read(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, license.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (s *FileStore) write(name string, data []byte) error {
	if err := atomic.WriteFile(filepath.Join(s.dir, name), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
