// Package files serves a read-only view of the workspace directory.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/claude-collab/backend/internal/model"
)

// MaxContentSize is the largest file Content will read.
const MaxContentSize = 1 << 20

// Always hidden, with or without a .gitignore.
var alwaysIgnored = []string{"node_modules", ".git", "dist"}

// EntryType distinguishes files from directories in a listing.
type EntryType string

const (
	EntryDirectory EntryType = "directory"
	EntryFile      EntryType = "file"
)

// Entry is one item of a directory listing. Path is relative to the root
// and always uses forward slashes.
type Entry struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	Type EntryType `json:"type"`
}

// Tree lists and reads files under a root directory.
type Tree struct {
	root string

	mu      sync.Mutex
	ignorer *ignore.GitIgnore
}

// NewTree creates a Tree rooted at root.
func NewTree(root string) (*Tree, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	return &Tree{root: abs}, nil
}

// Root returns the absolute root directory.
func (t *Tree) Root() string {
	return t.root
}

// resolve maps a request path to an absolute path inside the root.
func (t *Tree) resolve(p string) (string, error) {
	if p == "" {
		p = "."
	}
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(t.root, p)
	}
	rel, err := filepath.Rel(t.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", model.ErrPathTraversal, p)
	}
	return abs, nil
}

// gitignore compiles the root .gitignore once.
func (t *Tree) gitignore() *ignore.GitIgnore {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ignorer != nil {
		return t.ignorer
	}
	ig, err := ignore.CompileIgnoreFileAndLines(filepath.Join(t.root, ".gitignore"), alwaysIgnored...)
	if err != nil {
		ig = ignore.CompileIgnoreLines(alwaysIgnored...)
	}
	t.ignorer = ig
	return ig
}

// InvalidateIgnore drops the cached .gitignore rules.
func (t *Tree) InvalidateIgnore() {
	t.mu.Lock()
	t.ignorer = nil
	t.mu.Unlock()
}

// List returns one level of the directory at p, directories first, then by name.
func (t *Tree) List(p string) ([]Entry, error) {
	abs, err := t.resolve(p)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	ig := t.gitignore()
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		rel, err := filepath.Rel(t.root, filepath.Join(abs, de.Name()))
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if ig.MatchesPath(rel) {
			continue
		}
		typ := EntryFile
		if de.IsDir() {
			typ = EntryDirectory
		}
		entries = append(entries, Entry{Name: de.Name(), Path: rel, Type: typ})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == EntryDirectory
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return entries, nil
}

// Content returns the contents of the file at p.
func (t *Tree) Content(p string) ([]byte, error) {
	abs, err := t.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", model.ErrIsDirectory, p)
	}
	if info.Size() > MaxContentSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", model.ErrFileTooLarge, p, info.Size())
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}
