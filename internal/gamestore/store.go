// Package gamestore persists uploaded game files. The default backend is a
// directory on disk; an S3-compatible bucket is available via minio.
package gamestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gamegate/internal/config"
	"gamegate/internal/logging"
)

// ErrNotFound is returned by Get when no game is stored under the name.
var ErrNotFound = errors.New("game not found")

// Entry describes one stored game file.
type Entry struct {
	Name    string
	ModTime time.Time
}

// Store is the persistence seam for the upload API.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]Entry, error)
}

// Open builds the backend selected by cfg. gamesDir is used by the dir backend.
func Open(ctx context.Context, cfg config.StorageConfig, gamesDir string) (Store, error) {
	switch cfg.Backend {
	case "", "dir":
		return NewDirStore(gamesDir)
	case "minio":
		m := cfg.Minio
		return NewMinioStore(ctx, m.Endpoint, m.Region, m.Bucket, m.AccessKey, m.SecretKey, m.Prefix, m.UseSSL)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// DirStore keeps games as plain files in one directory.
type DirStore struct {
	dir string
}

// NewDirStore creates the directory when missing.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create games dir: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *DirStore) Dir() string { return s.dir }

// Put writes via a temp file and rename so readers never see a partial game.
func (s *DirStore) Put(ctx context.Context, name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	logging.Get(logging.CategoryStore).Debug("stored %s (%d bytes) in %s", name, len(data), s.dir)
	return nil
}

// Get reads a stored game.
func (s *DirStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// List returns every *.html file, sorted by name.
func (s *DirStore) List(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".html") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue // removed between ReadDir and Info
		}
		out = append(out, Entry{Name: de.Name(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid game name %q", name)
	}
	return nil
}
