package index

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// Source produces the symbol tree of a document, typically by opening it
// on a language server and requesting textDocument/documentSymbol.
type Source interface {
	DocumentSymbols(ctx context.Context, root string, relPath string) ([]*Entry, error)
}

// Index maintains the in-memory name/kind/container structures over every
// indexed file of one project root. Queries read under a shared lock;
// file-update events take the exclusive lock. No lock is ever held across
// a language server request.
type Index struct {
	root   string
	source Source
	cache  *Cache
	events *Bus
	log    *log.Logger

	watcher *Watcher

	mu          sync.RWMutex
	files       map[uri.URI]*FileRecord
	byName      map[string][]*Entry
	byKind      map[lsp.SymbolKind][]*Entry
	byContainer map[string][]*Entry
	lastUpdated time.Time
}

// Stats summarizes the index contents.
type Stats struct {
	Files       int
	Symbols     int
	LastUpdated time.Time
}

// Option configures an Index.
type Option func(*Index)

// WithCache attaches a persistent symbol cache.
func WithCache(cache *Cache) Option {
	return func(i *Index) { i.cache = cache }
}

// WithLogger attaches a logger for reindex errors.
func WithLogger(logger *log.Logger) Option {
	return func(i *Index) { i.log = logger }
}

func New(root string, source Source, opts ...Option) *Index {
	idx := &Index{
		root:        root,
		source:      source,
		events:      newBus(),
		log:         log.New(io.Discard, "", 0),
		files:       map[uri.URI]*FileRecord{},
		byName:      map[string][]*Entry{},
		byKind:      map[lsp.SymbolKind][]*Entry{},
		byContainer: map[string][]*Entry{},
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (i *Index) Root() string { return i.root }

// Events returns the index's event bus.
func (i *Index) Events() *Bus { return i.events }

// StartWatching begins filesystem-watch-driven invalidation. Every file
// indexed from now on is watched until removed from the index.
func (i *Index) StartWatching() error {
	watcher, err := NewWatcher(i, i.log)
	if err != nil {
		return err
	}
	i.watcher = watcher
	return nil
}

// Stop tears down the watcher; the in-memory index stays queryable.
func (i *Index) Stop() {
	if i.watcher != nil {
		i.watcher.Close()
		i.watcher = nil
	}
}

func (i *Index) absPath(relPath string) string {
	return filepath.Join(i.root, relPath)
}

// relPathOf maps an absolute path back to a root-relative one.
func (i *Index) relPathOf(absPath string) string {
	if rel, err := filepath.Rel(i.root, absPath); err == nil {
		return rel
	}
	return absPath
}

// IndexFile indexes one file: a valid cache entry (matching content hash)
// is loaded without touching the language server; otherwise the symbols
// are fetched from the source and written back to the cache.
func (i *Index) IndexFile(ctx context.Context, relPath string) error {
	return i.indexFile(ctx, relPath, "", false)
}

// IndexExternalFile indexes a file that belongs to an external library,
// tagging every entry with the library name.
func (i *Index) IndexExternalFile(ctx context.Context, relPath string, library string) error {
	return i.indexFile(ctx, relPath, library, true)
}

func (i *Index) indexFile(ctx context.Context, relPath string, library string, external bool) error {
	absPath := i.absPath(relPath)

	content, err := os.ReadFile(absPath)
	if err != nil {
		i.reportError(relPath, err)
		return err
	}
	hash := ContentHash(content)

	info, err := os.Stat(absPath)
	if err != nil {
		i.reportError(relPath, err)
		return err
	}

	var entries []*Entry
	fromCache := false
	if i.cache != nil {
		if data, ok := i.cache.Get(relPath, hash); ok {
			if json.Unmarshal(data, &entries) == nil {
				fromCache = true
			}
		}
	}

	if !fromCache {
		entries, err = i.source.DocumentSymbols(ctx, i.root, relPath)
		if err != nil {
			i.reportError(relPath, err)
			return err
		}

		if external {
			markExternal(entries, library)
		}

		if i.cache != nil {
			if data, err := json.Marshal(entries); err == nil {
				if err := i.cache.Put(relPath, hash, data); err != nil {
					i.log.Printf("index> cache write failed for %s: %s\n", relPath, err.Error())
				}
			}
		}
	}

	record := &FileRecord{
		URI:     uri.File(absPath),
		ModTime: info.ModTime(),
		Hash:    hash,
		Symbols: entries,
	}
	i.update(record)

	if i.watcher != nil {
		if err := i.watcher.Add(absPath); err != nil {
			i.log.Printf("index> watch failed for %s: %s\n", relPath, err.Error())
		}
	}

	if external {
		i.events.publish(Event{Kind: EventExternalLibrariesIndexed, Path: relPath, Count: countEntries(entries)})
	} else {
		i.events.publish(Event{Kind: EventFileIndexed, Path: relPath, Count: countEntries(entries)})
	}
	return nil
}

func countEntries(entries []*Entry) int {
	n := 0
	Walk(entries, func(*Entry) { n++ })
	return n
}

func (i *Index) update(record *FileRecord) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.removeLocked(record.URI)
	i.files[record.URI] = record
	Walk(record.Symbols, func(e *Entry) {
		i.byName[e.Name] = append(i.byName[e.Name], e)
		i.byKind[e.Kind] = append(i.byKind[e.Kind], e)
		if len(e.Container) != 0 {
			i.byContainer[e.Container] = append(i.byContainer[e.Container], e)
		}
	})
	i.lastUpdated = time.Now()
}

// RemoveFile strips a file from every index structure, invalidates its
// cache records, and stops watching it.
func (i *Index) RemoveFile(relPath string) {
	docURI := uri.File(i.absPath(relPath))

	i.mu.Lock()
	i.removeLocked(docURI)
	i.lastUpdated = time.Now()
	i.mu.Unlock()

	if i.cache != nil {
		if err := i.cache.Invalidate(relPath); err != nil {
			i.log.Printf("index> cache invalidation failed for %s: %s\n", relPath, err.Error())
		}
	}
	if i.watcher != nil {
		i.watcher.Remove(i.absPath(relPath))
	}

	i.events.publish(Event{Kind: EventFileRemoved, Path: relPath})
}

func (i *Index) removeLocked(docURI uri.URI) {
	record, ok := i.files[docURI]
	if !ok {
		return
	}
	delete(i.files, docURI)

	Walk(record.Symbols, func(e *Entry) {
		i.byName[e.Name] = removeEntry(i.byName[e.Name], e)
		if len(i.byName[e.Name]) == 0 {
			delete(i.byName, e.Name)
		}
		i.byKind[e.Kind] = removeEntry(i.byKind[e.Kind], e)
		if len(i.byKind[e.Kind]) == 0 {
			delete(i.byKind, e.Kind)
		}
		if len(e.Container) != 0 {
			i.byContainer[e.Container] = removeEntry(i.byContainer[e.Container], e)
			if len(i.byContainer[e.Container]) == 0 {
				delete(i.byContainer, e.Container)
			}
		}
	})
}

func removeEntry(entries []*Entry, target *Entry) []*Entry {
	kept := entries[:0]
	for _, e := range entries {
		if e != target {
			kept = append(kept, e)
		}
	}
	return kept
}

func (i *Index) reportError(relPath string, err error) {
	i.log.Printf("index> %s: %s\n", relPath, err.Error())
	i.events.publish(Event{Kind: EventIndexError, Path: relPath, Err: err})
}

// HasValidCache reports whether the file's current content hash has a
// cache record, i.e. indexing it will not need a language server.
func (i *Index) HasValidCache(relPath string) bool {
	if i.cache == nil {
		return false
	}

	content, err := os.ReadFile(i.absPath(relPath))
	if err != nil {
		return false
	}

	_, ok := i.cache.Get(relPath, ContentHash(content))
	return ok
}

// FileRecordFor returns the record of an indexed file, if present.
func (i *Index) FileRecordFor(relPath string) (*FileRecord, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	record, ok := i.files[uri.File(i.absPath(relPath))]
	return record, ok
}

// SymbolAt returns the deepest symbol whose range contains the position.
func (i *Index) SymbolAt(relPath string, pos lsp.Position) *Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()

	record, ok := i.files[uri.File(i.absPath(relPath))]
	if !ok {
		return nil
	}

	var deepest *Entry
	var descend func(entries []*Entry)
	descend = func(entries []*Entry) {
		for _, entry := range entries {
			if !containsPosition(entry.Location.Range, pos) {
				continue
			}
			deepest = entry
			descend(entry.Children)
			return
		}
	}
	descend(record.Symbols)
	return deepest
}

// Stats reports totals and the last update time.
func (i *Index) Stats() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()

	symbols := 0
	for _, record := range i.files {
		symbols += countEntries(record.Symbols)
	}

	return Stats{
		Files:       len(i.files),
		Symbols:     symbols,
		LastUpdated: i.lastUpdated,
	}
}
