// Package artifact provides the content-addressed store for stage outputs.
//
// Every pipeline stage writes its output here, keyed by (run id, stage),
// before the next stage starts, so a partially completed run leaves a fully
// inspectable trail. Blobs are stored under their SHA-256 digest; keys are
// small index objects resolving to digests. Writes go through a temp file
// and an atomic rename, so readers never observe a half-written object.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Errors for store operations.
var (
	ErrNotFound   = errors.New("artifact not found")
	ErrInvalidKey = errors.New("invalid artifact key")
)

// Store is a file-backed content-addressed artifact store.
type Store struct {
	root string
}

// NewStore creates a store rooted at the given directory.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact store root is required")
	}
	for _, dir := range []string{root, filepath.Join(root, "objects"), filepath.Join(root, "keys")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string {
	return s.root
}

// StageKey builds the canonical key for a stage output.
func StageKey(runID, stage string) string {
	return "runs/" + runID + "/" + stage
}

// Put stores data under key and returns its content digest. Re-putting the
// same key repoints it; blobs themselves are immutable and deduplicated by
// digest.
func (s *Store) Put(key string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	blobPath := s.blobPath(digest)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0700); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}
	if _, err := os.Stat(blobPath); os.IsNotExist(err) {
		if err := writeAtomic(blobPath, data); err != nil {
			return "", fmt.Errorf("failed to write blob: %w", err)
		}
	}

	keyPath := s.keyPath(key)
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return "", fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := writeAtomic(keyPath, []byte(digest)); err != nil {
		return "", fmt.Errorf("failed to write key index: %w", err)
	}

	return digest, nil
}

// Get returns the data stored under key, or ErrNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	digestBytes, err := os.ReadFile(s.keyPath(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key index: %w", err)
	}

	data, err := os.ReadFile(s.blobPath(string(digestBytes)))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: blob for %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// PutJSON marshals v and stores it under key.
func (s *Store) PutJSON(key string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal artifact: %w", err)
	}
	return s.Put(key, data)
}

// GetJSON loads the data under key and unmarshals it into v.
func (s *Store) GetJSON(key string, v any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal artifact %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key resolves to a stored artifact.
func (s *Store) Exists(key string) bool {
	if validateKey(key) != nil {
		return false
	}
	_, err := os.Stat(s.keyPath(key))
	return err == nil
}

func (s *Store) blobPath(digest string) string {
	if len(digest) < 2 {
		return filepath.Join(s.root, "objects", digest)
	}
	return filepath.Join(s.root, "objects", digest[:2], digest)
}

func (s *Store) keyPath(key string) string {
	return filepath.Join(s.root, "keys", filepath.FromSlash(key))
}

// validateKey rejects empty keys and path escapes.
func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// writeAtomic writes data to path through a uniquely named temp file and a
// rename, so concurrent writers to the same path never clobber each other's
// in-progress temp file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
