package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/animemaker/server/internal/shared/logger"
)

// LocalStore writes artifacts to a directory served as static files.
type LocalStore struct {
	dir        string
	publicPath string
	log        *logger.Logger
}

// NewLocalStore creates the target directory if needed.
func NewLocalStore(dir, publicPath string, log *logger.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	if publicPath == "" {
		publicPath = "/generated"
	}
	return &LocalStore{
		dir:        dir,
		publicPath: strings.TrimSuffix(publicPath, "/"),
		log:        log.Component("storage.local"),
	}, nil
}

func (s *LocalStore) SaveImage(ctx context.Context, name string, data string) (string, error) {
	raw, err := DecodeImageData(data)
	if err != nil {
		return "", err
	}
	return s.write(name, raw)
}

func (s *LocalStore) SaveSnapshot(ctx context.Context, name string, v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.write(name, raw)
}

func (s *LocalStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read storage dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.log.Warn("delete artifact", "name", e.Name(), logger.Err(err))
		}
	}
	return nil
}

func (s *LocalStore) write(name string, raw []byte) (string, error) {
	target := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(target, raw, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	s.log.Debug("artifact saved", "name", name, "bytes", len(raw))
	return path.Join(s.publicPath, filepath.Base(name)), nil
}

var _ Store = (*LocalStore)(nil)
