package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileBlobStore keeps one file per blob. Writes go through a temp file and a
// rename so a crash never leaves a half-written escrow blob behind.
type FileBlobStore struct{ dir string }

func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create blob dir: %w", err)
	}
	return &FileBlobStore{dir: dir}, nil
}

func (f *FileBlobStore) path(id string) string {
	return filepath.Join(f.dir, id+".blob")
}

func (f *FileBlobStore) Put(_ context.Context, id string, data []byte) error {
	if err := validID(id); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path(id))
}

func (f *FileBlobStore) Get(_ context.Context, id string) ([]byte, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return b, err
}

func (f *FileBlobStore) Delete(_ context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	err := os.Remove(f.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
