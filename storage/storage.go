// Package storage keeps each user's notes as a flat directory of
// timestamp-named markdown files. Plain I/O only; identity and trust are
// the auth package's problem.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	extension   = "md"
	previewSize = 1024
)

// DocumentID is the unix timestamp that (almost) uniquely names a document.
type DocumentID uint64

// ParseDocumentID reads an id from its decimal form.
func ParseDocumentID(s string) (DocumentID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid document id %q: %w", s, err)
	}
	return DocumentID(n), nil
}

func (id DocumentID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Document pairs an id with its contents, possibly truncated to a preview.
type Document struct {
	ID       DocumentID `json:"identifier"`
	Contents string     `json:"contents"`
}

// Store is the root directory holding one subdirectory per user.
type Store struct {
	root string
}

// New constructs a store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// User scopes the store to one subject's directory.
func (s *Store) User(subject string) *UserStorage {
	return &UserStorage{path: filepath.Join(s.root, safeSegment(subject))}
}

// UserStorage reads and writes one user's documents.
type UserStorage struct {
	path string
}

// Read returns the document, optionally truncated to a preview.
func (u *UserStorage) Read(id DocumentID, truncate bool) (Document, error) {
	raw, err := os.ReadFile(u.docPath(id))
	if err != nil {
		return Document{}, err
	}

	contents := string(raw)
	if truncate && len(contents) > previewSize {
		contents = contents[:previewSize]
	}
	return Document{ID: id, Contents: contents}, nil
}

// Write stores the document, creating the user directory on first use.
func (u *UserStorage) Write(doc Document) error {
	if err := os.MkdirAll(u.path, 0o755); err != nil {
		return err
	}
	return os.WriteFile(u.docPath(doc.ID), []byte(doc.Contents), 0o644)
}

// List returns previews of every document, newest first.
func (u *UserStorage) List() ([]Document, error) {
	if err := os.MkdirAll(u.path, 0o755); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(u.path)
	if err != nil {
		return nil, err
	}

	documents := make([]Document, 0, len(entries))
	for _, entry := range entries {
		name, ext, ok := strings.Cut(entry.Name(), ".")
		if !ok || ext != extension {
			continue
		}
		id, err := ParseDocumentID(name)
		if err != nil {
			continue
		}
		doc, err := u.Read(id, true)
		if err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}

	sort.Slice(documents, func(i, j int) bool {
		return documents[i].ID > documents[j].ID
	})
	return documents, nil
}

func (u *UserStorage) docPath(id DocumentID) string {
	return filepath.Join(u.path, id.String()+"."+extension)
}

// safeSegment keeps provider subjects from escaping the storage root.
func safeSegment(subject string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, subject)

	if mapped == "" || strings.Trim(mapped, ".") == "" {
		return "_"
	}
	return mapped
}
