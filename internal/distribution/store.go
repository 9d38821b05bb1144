package distribution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrArtifactNotFound indicates no artifact exists at the storage location.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore holds component archives by storage location.
type ArtifactStore interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	Put(ctx context.Context, location string, r io.Reader) error
}

// Presigner is implemented by stores that can hand out direct, time-limited URLs.
type Presigner interface {
	PresignGet(ctx context.Context, location string, ttl time.Duration) (string, error)
}

// cleanLocation rejects locations that would escape the store root.
func cleanLocation(location string) (string, error) {
	if location == "" || strings.HasPrefix(location, "/") || strings.Contains(location, "\\") {
		return "", fmt.Errorf("invalid storage location %q", location)
	}
	cleaned := path.Clean(location)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid storage location %q", location)
	}
	return cleaned, nil
}

// FSStore stores artifacts under a local directory.
type FSStore struct {
	root string
}

// NewFSStore creates an FSStore rooted at dir, creating it if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &FSStore{root: dir}, nil
}

func (s *FSStore) resolve(location string) (string, error) {
	cleaned, err := cleanLocation(location)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Open implements ArtifactStore.
func (s *FSStore) Open(_ context.Context, location string) (io.ReadCloser, error) {
	p, err := s.resolve(location)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, location)
		}
		return nil, err
	}
	return f, nil
}

// Put implements ArtifactStore. The artifact appears atomically.
func (s *FSStore) Put(_ context.Context, location string, r io.Reader) error {
	p, err := s.resolve(location)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	return nil
}
