// Package files manages the on-disk storage behind file-typed payload
// fields. Every stored file lives in a directory named by its uuid
// reference; payload values carry the reference, never the path.
package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store is a directory-per-reference file store rooted at one
// directory.
type Store struct {
	root string
}

// NewStore returns a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: dir}, nil
}

// NewRef returns a fresh storage reference.
func (s *Store) NewRef() string {
	return uuid.NewString()
}

// dir validates the reference before building a path so payload data
// cannot escape the storage root.
func (s *Store) dir(ref string) (string, error) {
	if _, err := uuid.Parse(ref); err != nil {
		return "", fmt.Errorf("invalid storage reference %q: %w", ref, err)
	}
	return filepath.Join(s.root, ref), nil
}

// Save writes a file under the reference's directory.
func (s *Store) Save(ref, filename string, r io.Reader) error {
	dir, err := s.dir(ref)
	if err != nil {
		return err
	}
	if filepath.Base(filename) != filename || filename == "" {
		return fmt.Errorf("invalid file name %q", filename)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	dest, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return fmt.Errorf("create stored file: %w", err)
	}
	defer dest.Close()
	if _, err := io.Copy(dest, r); err != nil {
		return fmt.Errorf("write stored file: %w", err)
	}
	return dest.Close()
}

// Open reads a stored file back.
func (s *Store) Open(ref, filename string) (io.ReadCloser, error) {
	dir, err := s.dir(ref)
	if err != nil {
		return nil, err
	}
	if filepath.Base(filename) != filename || filename == "" {
		return nil, fmt.Errorf("invalid file name %q", filename)
	}
	f, err := os.Open(filepath.Join(dir, filename))
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	return f, nil
}

// List returns the file names stored under a reference.
func (s *Store) List(ref string) ([]string, error) {
	dir, err := s.dir(ref)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list storage directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Remove deletes the reference's whole directory. Removing a
// reference that was never written is not an error. Remove satisfies
// the payload mutator's file store interface.
func (s *Store) Remove(ref string) error {
	dir, err := s.dir(ref)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove storage directory: %w", err)
	}
	return nil
}
