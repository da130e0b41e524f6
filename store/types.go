// Package store provides the on-device document catalog used by the prover.
//
// The catalog is a Borsh-encoded file holding every scanned document the user
// has kept, the currently selected document, and per-document registration
// bookkeeping.
//
// # Catalog Structure
//
// A catalog contains:
//   - Version: Encoding version of the catalog file
//   - Selected: Id of the document used for the next proving session
//   - Documents: Raw scanned envelopes with their metadata
//
// # Document Ids
//
// Documents are keyed by the SHA-256 of their raw envelope bytes:
//
//	id := store.ComputeHash(raw)
//
// Storing the same envelope twice therefore updates a single entry.
package store

import (
	"errors"
	"fmt"

	"github.com/anchorageoss/selfprove-teeclient/document"
)

// CatalogVersion is the current encoding version
const CatalogVersion uint8 = 1

var (
	// ErrNotFound is returned when no document has the requested id
	ErrNotFound = errors.New("document not found")

	// ErrNoSelection is returned when no document is selected
	ErrNoSelection = errors.New("no document selected")
)

// Metadata describes a stored document
type Metadata struct {
	ID           string `borsh:"id"`
	Category     uint8  `borsh:"category"`
	DocumentType string `borsh:"document_type"`
	Registered   bool   `borsh:"registered"`
	CreatedAt    int64  `borsh:"created_at"`
}

// DocumentCategory returns the typed category of the document
func (m Metadata) DocumentCategory() (document.Category, error) {
	c := document.Category(m.Category)
	for _, known := range document.Categories() {
		if c == known {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown document category %d", m.Category)
}

// Entry is a stored document with its raw envelope
type Entry struct {
	Meta Metadata `borsh:"meta"`
	Raw  []byte   `borsh:"raw"`
}

// Catalog is the on-disk document catalog
type Catalog struct {
	Version   uint8   `borsh:"version"`
	Selected  string  `borsh:"selected"`
	Documents []Entry `borsh:"documents"`
}

func (c *Catalog) index(id string) int {
	for i := range c.Documents {
		if c.Documents[i].Meta.ID == id {
			return i
		}
	}
	return -1
}
