// Package knowledge implements the keyword-indexed knowledge store. Documents
// live as markdown files next to a YAML index that maps each document to its
// trigger keywords. The store is loaded once per run and injected into the
// seed context at role-loop start, never mid-loop.
package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a loaded knowledge document.
type Document struct {
	// Key is the stable identifier from the index.
	Key string

	// Title is a short human-readable name.
	Title string

	// Content is the full document text.
	Content string
}

// IndexEntry describes one document in the store index.
type IndexEntry struct {
	Key      string   `yaml:"key"`
	Title    string   `yaml:"title,omitempty"`
	File     string   `yaml:"file"`
	Keywords []string `yaml:"keywords"`
}

type index struct {
	Documents []IndexEntry `yaml:"documents"`
}

// Store holds all knowledge documents for a run. Immutable after Load.
type Store struct {
	entries []IndexEntry
	docs    map[string]Document
}

// Load reads the index file and every document it references. All documents
// are loaded eagerly so matching during the run never touches the filesystem.
func Load(dir string) (*Store, error) {
	indexPath := filepath.Join(dir, "index.yaml")
	data, err := os.ReadFile(indexPath) // #nosec G304 -- store dir comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge index %s: %w", indexPath, err)
	}

	var idx index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge index %s: %w", indexPath, err)
	}

	docs := make(map[string]Document, len(idx.Documents))
	for _, entry := range idx.Documents {
		if entry.Key == "" || entry.File == "" {
			return nil, fmt.Errorf("knowledge index %s: entry missing key or file", indexPath)
		}
		if _, exists := docs[entry.Key]; exists {
			return nil, fmt.Errorf("knowledge index %s: duplicate key %q", indexPath, entry.Key)
		}
		docPath := filepath.Join(dir, entry.File)
		content, err := os.ReadFile(docPath) // #nosec G304 -- paths come from the index file
		if err != nil {
			return nil, fmt.Errorf("failed to read knowledge document %s: %w", docPath, err)
		}
		docs[entry.Key] = Document{
			Key:     entry.Key,
			Title:   entry.Title,
			Content: string(content),
		}
	}

	return &Store{entries: idx.Documents, docs: docs}, nil
}

// MatchKeys returns the keys of all entries whose keywords appear in text,
// in index order, each key at most once. Matching is case-insensitive
// substring containment.
func MatchKeys(entries []IndexEntry, text string) []string {
	lower := strings.ToLower(text)
	var keys []string
	for _, entry := range entries {
		for _, kw := range entry.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				keys = append(keys, entry.Key)
				break
			}
		}
	}
	return keys
}

// Match returns the documents whose keywords appear in text, in index order.
func (s *Store) Match(text string) []Document {
	keys := MatchKeys(s.entries, text)
	docs := make([]Document, 0, len(keys))
	for _, key := range keys {
		docs = append(docs, s.docs[key])
	}
	return docs
}

// Get returns the document for a key, if present.
func (s *Store) Get(key string) (Document, bool) {
	doc, ok := s.docs[key]
	return doc, ok
}

// Keys returns all document keys in index order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		keys = append(keys, e.Key)
	}
	return keys
}

// Empty is a store with no documents, used when no knowledge dir is
// configured.
func Empty() *Store {
	return &Store{docs: map[string]Document{}}
}
