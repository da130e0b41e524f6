package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/near/borsh-go"

	"github.com/anchorageoss/selfprove-teeclient/document"
)

// FileStore keeps the catalog in a single Borsh file
type FileStore struct {
	Path string
	// Now overrides the clock used for CreatedAt
	Now func() time.Time

	mu sync.Mutex
}

// NewFileStore creates a store backed by path
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// DecodeCatalog decodes catalog bytes
func DecodeCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := borsh.Deserialize(&c, data); err != nil {
		return nil, fmt.Errorf("failed to deserialize catalog: %w", err)
	}
	if c.Version != CatalogVersion {
		return nil, fmt.Errorf("unsupported catalog version %d", c.Version)
	}
	return &c, nil
}

// EncodeCatalog encodes a catalog
func EncodeCatalog(c *Catalog) ([]byte, error) {
	data, err := borsh.Serialize(*c)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize catalog: %w", err)
	}
	return data, nil
}

// Put stores a raw envelope, selects it and returns its id
func (s *FileStore) Put(ctx context.Context, raw []byte, category document.Category, documentType string) (string, error) {
	id := ComputeHash(raw)
	err := s.update(func(c *Catalog) error {
		meta := Metadata{
			ID:           id,
			Category:     uint8(category),
			DocumentType: documentType,
			CreatedAt:    s.now().Unix(),
		}
		if i := c.index(id); i >= 0 {
			meta.Registered = c.Documents[i].Meta.Registered
			meta.CreatedAt = c.Documents[i].Meta.CreatedAt
			c.Documents[i] = Entry{Meta: meta, Raw: raw}
		} else {
			c.Documents = append(c.Documents, Entry{Meta: meta, Raw: raw})
		}
		c.Selected = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Select marks a stored document as the current one
func (s *FileStore) Select(ctx context.Context, id string) error {
	return s.update(func(c *Catalog) error {
		if c.index(id) < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		c.Selected = id
		return nil
	})
}

// Selected returns the currently selected document
func (s *FileStore) Selected(ctx context.Context) (*Entry, error) {
	c, err := s.read()
	if err != nil {
		return nil, err
	}
	if c.Selected == "" {
		return nil, ErrNoSelection
	}
	i := c.index(c.Selected)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c.Selected)
	}
	return &c.Documents[i], nil
}

// Load returns a stored document by id
func (s *FileStore) Load(ctx context.Context, id string) (*Entry, error) {
	c, err := s.read()
	if err != nil {
		return nil, err
	}
	i := c.index(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &c.Documents[i], nil
}

// Delete removes a document, clearing the selection if it pointed at it
func (s *FileStore) Delete(ctx context.Context, id string) error {
	return s.update(func(c *Catalog) error {
		i := c.index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		c.Documents = append(c.Documents[:i], c.Documents[i+1:]...)
		if c.Selected == id {
			c.Selected = ""
		}
		return nil
	})
}

// MarkRegistered records that a document has an on-chain commitment
func (s *FileStore) MarkRegistered(ctx context.Context, id string) error {
	return s.update(func(c *Catalog) error {
		i := c.index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		c.Documents[i].Meta.Registered = true
		return nil
	})
}

// List returns the metadata of every stored document
func (s *FileStore) List(ctx context.Context) ([]Metadata, error) {
	c, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]Metadata, len(c.Documents))
	for i, e := range c.Documents {
		out[i] = e.Meta
	}
	return out, nil
}

// HasOtherRegistered reports whether a registered document other than
// excludeID exists
func (s *FileStore) HasOtherRegistered(ctx context.Context, excludeID string) (bool, error) {
	docs, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range docs {
		if m.ID != excludeID && m.Registered {
			return true, nil
		}
	}
	return false, nil
}

func (s *FileStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *FileStore) read() (*Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *FileStore) readLocked() (*Catalog, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return &Catalog{Version: CatalogVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return DecodeCatalog(data)
}

func (s *FileStore) update(fn func(*Catalog) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.readLocked()
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}

	data, err := EncodeCatalog(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	// Step 1: write a sibling temp file
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	// Step 2: atomically replace the catalog
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	return nil
}
