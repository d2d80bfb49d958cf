package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/procureflow/invoice-orchestrator/internal/fault"
)

// FileStorage keeps raw documents on the local filesystem under a root
// directory, one file per object key.
type FileStorage struct {
	root string
}

func NewFileStorage(root string) (*FileStorage, error) {
	if root == "" {
		return nil, fault.New(fault.KindInvalidInput, "storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fault.Wrap(fault.KindTransient, err, "failed to create storage root")
	}
	return &FileStorage{root: root}, nil
}

func (s *FileStorage) pathFor(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fault.Newf(fault.KindInvalidInput, "invalid object key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FileStorage) Put(_ context.Context, key string, content []byte, _ string) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fault.Wrap(fault.KindTransient, err, "failed to create object directory")
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return fault.Wrap(fault.KindTransient, err, "failed to write object")
	}
	return nil
}

func (s *FileStorage) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.Newf(fault.KindNotFound, "object %s not found", key)
		}
		return nil, fault.Wrap(fault.KindTransient, err, "failed to read object")
	}
	return content, nil
}

func (s *FileStorage) Delete(_ context.Context, key string) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fault.Wrap(fault.KindTransient, err, "failed to delete object")
	}
	return nil
}
