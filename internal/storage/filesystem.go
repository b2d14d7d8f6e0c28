package storage

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
)

// FileKV stores one file per key under root.
// File names are the base64url encoding of the key, so any key is a valid name.
type FileKV struct {
	root      string
	writeLock sync.Mutex
}

// NewFileKV creates a new filesystem-backed store rooted at root.
func NewFileKV(root string) (*FileKV, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &FileKV{root: root}, nil
}

// Path returns the filesystem path for key.
func (f *FileKV) Path(key string) string {
	return filepath.Join(f.root, base64.RawURLEncoding.EncodeToString([]byte(key))+".json")
}

// Get reads the value for key.
func (f *FileKV) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(f.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Set persists the value atomically.
func (f *FileKV) Set(key string, value []byte) error {
	path := f.Path(key)

	f.writeLock.Lock()
	defer f.writeLock.Unlock()

	// Write to temp file first, then rename (atomic)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, value, 0644); err != nil {
		os.Remove(tmpPath)
		if errors.Is(err, syscall.ENOSPC) {
			return ErrQuotaExceeded
		}
		return err
	}

	return os.Rename(tmpPath, path)
}

// Remove deletes the file for key.
func (f *FileKV) Remove(key string) error {
	err := os.Remove(f.Path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Keys lists keys with the given prefix by decoding file names.
func (f *FileKV) Keys(prefix string) ([]string, error) {
	files, err := os.ReadDir(f.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// Not one of ours
			continue
		}
		if key := string(raw); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
