package index

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
)

const reindexCoalesceWindow = 200 * time.Millisecond

// Watcher observes every indexed file. Writes invalidate the cache and
// queue a reindex; the queue drains in batches behind a short coalescing
// window. Renames and removals drop the file from the index.
type Watcher struct {
	idx *Index
	fs  *fsnotify.Watcher
	log *log.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	flush   func(f func())

	done chan struct{}
}

func NewWatcher(idx *Index, logger *log.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		idx:     idx,
		fs:      fsWatcher,
		log:     logger,
		pending: map[string]struct{}{},
		flush:   debounce.New(reindexCoalesceWindow),
		done:    make(chan struct{}),
	}

	go w.run()
	return w, nil
}

func (w *Watcher) Add(absPath string) error {
	return w.fs.Add(absPath)
}

func (w *Watcher) Remove(absPath string) {
	_ = w.fs.Remove(absPath)
}

func (w *Watcher) Close() {
	close(w.done)
	_ = w.fs.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Printf("index> watcher error: %s\n", err.Error())
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	relPath := w.idx.relPathOf(event.Name)

	switch {
	case event.Op.Has(fsnotify.Rename) || event.Op.Has(fsnotify.Remove):
		w.Remove(event.Name)
		w.idx.RemoveFile(relPath)
	case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
		if w.idx.cache != nil {
			_ = w.idx.cache.Invalidate(relPath)
		}

		w.mu.Lock()
		w.pending[relPath] = struct{}{}
		w.mu.Unlock()

		w.flush(w.drain)
	}
}

// drain reindexes everything queued during the coalescing window. Errors
// are logged and published; they never block other files.
func (w *Watcher) drain() {
	w.mu.Lock()
	batch := w.pending
	w.pending = map[string]struct{}{}
	w.mu.Unlock()

	for relPath := range batch {
		select {
		case <-w.done:
			return
		default:
		}

		if err := w.idx.IndexFile(context.Background(), relPath); err != nil {
			w.log.Printf("index> reindex failed for %s: %s\n", relPath, err.Error())
		}
	}
}
