package pool

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/lsmcp/lsmcp/edit"
	"github.com/lsmcp/lsmcp/helpers"
	"github.com/lsmcp/lsmcp/lsp"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/singleflight"
)

// SpawnFunc starts and initializes a language server for a project root.
// Overridable so tests can run against stub servers.
type SpawnFunc func(ctx context.Context, lang *lsp.Language, root string) (*lsp.Client, error)

type entryState int

const (
	stateReady entryState = iota
	stateDraining
	stateStopped
)

type entry struct {
	key    string
	root   string
	lang   *lsp.Language
	client *lsp.Client
	refs   int
	state  entryState
}

// Pool hands out reference-counted language server entries keyed by
// canonical project root and language. Concurrent acquires of a cold key
// collapse into a single spawn.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	flight  singleflight.Group
	spawn   SpawnFunc
	log     *log.Logger
}

// Handle is a live claim on a pool entry; it must be released exactly once.
type Handle struct {
	pool     *Pool
	entry    *entry
	released sync.Once
}

func (h *Handle) Client() *lsp.Client { return h.entry.client }
func (h *Handle) Root() string        { return h.entry.root }

// Release decrements the entry's reference count; the last release drains
// and stops the server.
func (h *Handle) Release() {
	h.released.Do(func() {
		h.pool.release(h.entry)
	})
}

func New(logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pool{
		entries: map[string]*entry{},
		spawn:   defaultSpawn,
		log:     logger,
	}
}

// NewWithSpawn builds a pool with a custom spawn function.
func NewWithSpawn(spawn SpawnFunc, logger *log.Logger) *Pool {
	p := New(logger)
	p.spawn = spawn
	return p
}

func defaultSpawn(ctx context.Context, lang *lsp.Language, root string) (*lsp.Client, error) {
	client, err := lsp.Spawn(ctx, lang, root, log.Default(), io.Discard)
	if err != nil {
		return nil, err
	}

	if err := client.Initialize(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

func poolKey(root, langID string) string {
	return root + "\x00" + langID
}

// Acquire returns a handle on the server entry for (root, language),
// spawning and initializing it when absent. Initialization for the same
// key is single-flight: N concurrent cold acquires spawn one process.
func (p *Pool) Acquire(ctx context.Context, root string, lang *lsp.Language) (*Handle, error) {
	canonRoot, err := helpers.CanonicalRoot(root)
	if err != nil {
		return nil, err
	}
	key := poolKey(canonRoot, lang.ID)

	for {
		p.mu.Lock()
		if e, ok := p.entries[key]; ok && e.state == stateReady && e.client.Alive() {
			e.refs++
			p.mu.Unlock()
			return &Handle{pool: p, entry: e}, nil
		}
		// a dead entry is respawned on the next acquire
		if e, ok := p.entries[key]; ok && !e.client.Alive() {
			delete(p.entries, key)
		}
		p.mu.Unlock()

		created, err, _ := p.flight.Do(key, func() (any, error) {
			client, err := p.spawn(ctx, lang, canonRoot)
			if err != nil {
				return nil, err
			}

			// the client advertises workspace/applyEdit; honor it by
			// applying server-initiated edits in-process
			client.SetApplyEditHandler(func(we lsp.WorkspaceEdit) (bool, error) {
				if _, err := edit.Apply(&we); err != nil {
					return false, err
				}
				return true, nil
			})

			e := &entry{
				key:    key,
				root:   canonRoot,
				lang:   lang,
				client: client,
				state:  stateReady,
			}

			go func() {
				<-client.ExitNotify()
				p.dropStopped(e)
			}()

			p.mu.Lock()
			p.entries[key] = e
			p.mu.Unlock()
			return e, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start %s server for %s: %w", lang.ID, canonRoot, err)
		}

		e := created.(*entry)
		p.mu.Lock()
		if e.state != stateReady || !e.client.Alive() {
			// the entry died between spawn and claim; retry
			p.mu.Unlock()
			continue
		}
		e.refs++
		p.mu.Unlock()
		return &Handle{pool: p, entry: e}, nil
	}
}

func (p *Pool) release(e *entry) {
	p.mu.Lock()
	e.refs--
	if e.refs > 0 || e.state != stateReady {
		p.mu.Unlock()
		return
	}
	e.state = stateDraining
	delete(p.entries, e.key)
	p.mu.Unlock()

	p.log.Printf("pool> stopping %s server for %s\n", e.lang.ID, e.root)
	go func() {
		_ = e.client.Shutdown(context.Background())
		p.mu.Lock()
		e.state = stateStopped
		p.mu.Unlock()
	}()
}

// dropStopped removes an entry whose transport died underneath it. Pending
// requests have already failed with a transport error inside the client.
func (p *Pool) dropStopped(e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.state == stateReady {
		p.log.Printf("pool> %s server for %s exited\n", e.lang.ID, e.root)
		e.state = stateStopped
	}
	if p.entries[e.key] == e {
		delete(p.entries, e.key)
	}
}

// Size returns the number of live entries.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Refs returns the reference count of the entry for (root, language), or 0.
func (p *Pool) Refs(root string, langID string) int {
	canonRoot, err := helpers.CanonicalRoot(root)
	if err != nil {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[poolKey(canonRoot, langID)]; ok {
		return e.refs
	}
	return 0
}

// ShutdownAll stops every entry regardless of reference counts.
func (p *Pool) ShutdownAll() {
	p.mu.Lock()
	stale := maps.Values(p.entries)
	p.entries = map[string]*entry{}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range stale {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			_ = e.client.Shutdown(context.Background())
		}(e)
	}
	wg.Wait()
}
