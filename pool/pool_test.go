package pool_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lsmcp/lsmcp/lsp"
	"github.com/lsmcp/lsmcp/pool"
	"github.com/lsmcp/lsmcp/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

// newStubClient builds a client whose far end acknowledges every request
// and closes the connection when told to exit, like a well-behaved server.
func newStubClient(t *testing.T, lang *lsp.Language, root string) *lsp.Client {
	t.Helper()

	clientSide, serverSide := net.Pipe()

	var serverConn *jsonrpc2.Conn
	serverConn = rpc.NewLspConn(context.Background(), serverSide, rpc.HandlerFunc(
		func(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) {
			if r.Notif {
				if r.Method == "exit" {
					serverConn.Close()
				}
				return
			}
			c.Reply(ctx, r.ID, nil)
		},
	))

	client := lsp.NewClientOn(clientSide, lang, root, nil)
	t.Cleanup(func() {
		client.Close()
		serverConn.Close()
	})
	return client
}

func testLanguage() *lsp.Language {
	return &lsp.Language{
		ID:               "typescript",
		Extensions:       []string{".ts"},
		OperationTimeout: 2 * time.Second,
	}
}

func TestPoolAcquireRelease(t *testing.T) {
	lang := testLanguage()
	root := t.TempDir()

	p := pool.NewWithSpawn(func(ctx context.Context, lang *lsp.Language, root string) (*lsp.Client, error) {
		return newStubClient(t, lang, root), nil
	}, nil)

	before := p.Size()

	handle, err := p.Acquire(context.Background(), root, lang)
	if err != nil {
		t.Fatal(err)
	}

	if p.Size() != before+1 {
		t.Fatalf("expected pool size %d after acquire, got %d", before+1, p.Size())
	}
	if refs := p.Refs(root, lang.ID); refs != 1 {
		t.Fatalf("expected 1 ref, got %d", refs)
	}

	handle.Release()

	if p.Size() != before {
		t.Fatalf("expected pool size %d after release, got %d", before, p.Size())
	}
}

func TestPoolSingleFlight(t *testing.T) {
	lang := testLanguage()
	root := t.TempDir()

	var spawns atomic.Int64
	p := pool.NewWithSpawn(func(ctx context.Context, lang *lsp.Language, root string) (*lsp.Client, error) {
		spawns.Add(1)
		// widen the race window
		time.Sleep(50 * time.Millisecond)
		return newStubClient(t, lang, root), nil
	}, nil)

	const parallel = 10
	handles := make([]*pool.Handle, parallel)

	var wg sync.WaitGroup
	for k := 0; k < parallel; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			handle, err := p.Acquire(context.Background(), root, lang)
			if err != nil {
				t.Error(err)
				return
			}
			handles[k] = handle
		}(k)
	}
	wg.Wait()

	if got := spawns.Load(); got != 1 {
		t.Fatalf("expected exactly one spawn, got %d", got)
	}
	if p.Size() != 1 {
		t.Fatalf("expected one pool entry, got %d", p.Size())
	}
	if refs := p.Refs(root, lang.ID); refs != parallel {
		t.Fatalf("expected %d refs, got %d", parallel, refs)
	}

	// all handles share the same client
	for _, handle := range handles[1:] {
		if handle.Client() != handles[0].Client() {
			t.Fatal("expected every handle to share one client")
		}
	}

	for _, handle := range handles {
		handle.Release()
	}
	if p.Size() != 0 {
		t.Fatalf("expected an empty pool after releasing every handle, got %d", p.Size())
	}
}

func TestPoolWiresLocalApplyEdit(t *testing.T) {
	lang := testLanguage()
	root := t.TempDir()
	target := filepath.Join(root, "a.ts")
	if err := os.WriteFile(target, []byte("greet();"), 0644); err != nil {
		t.Fatal(err)
	}

	// keep the stub's conn so the "server" can issue its own requests
	var serverConn *jsonrpc2.Conn
	p := pool.NewWithSpawn(func(ctx context.Context, lang *lsp.Language, root string) (*lsp.Client, error) {
		clientSide, serverSide := net.Pipe()
		serverConn = rpc.NewLspConn(context.Background(), serverSide, rpc.HandlerFunc(
			func(ctx context.Context, c *jsonrpc2.Conn, r *jsonrpc2.Request) {
				if !r.Notif {
					c.Reply(ctx, r.ID, nil)
				}
			},
		))
		client := lsp.NewClientOn(clientSide, lang, root, nil)
		t.Cleanup(func() {
			client.Close()
			serverConn.Close()
		})
		return client, nil
	}, nil)

	handle, err := p.Acquire(context.Background(), root, lang)
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Release()

	// a server-initiated workspace/applyEdit is recovered by applying the
	// edit in-process
	params := map[string]any{
		"edit": map[string]any{
			"changes": map[string]any{
				"file://" + target: []map[string]any{
					{
						"range": map[string]any{
							"start": map[string]any{"line": 0, "character": 0},
							"end":   map[string]any{"line": 0, "character": 5},
						},
						"newText": "hello",
					},
				},
			},
		},
	}

	var response struct {
		Applied bool `json:"applied"`
	}
	if err := serverConn.Call(context.Background(), "workspace/applyEdit", params, &response); err != nil {
		t.Fatal(err)
	}
	if !response.Applied {
		t.Fatal("expected the edit to be applied locally")
	}

	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello();" {
		t.Fatalf("expected the file to be rewritten, got %q", content)
	}
}

func TestPoolReleaseIsIdempotent(t *testing.T) {
	lang := testLanguage()
	root := t.TempDir()

	p := pool.NewWithSpawn(func(ctx context.Context, lang *lsp.Language, root string) (*lsp.Client, error) {
		return newStubClient(t, lang, root), nil
	}, nil)

	first, err := p.Acquire(context.Background(), root, lang)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Acquire(context.Background(), root, lang)
	if err != nil {
		t.Fatal(err)
	}

	first.Release()
	first.Release() // double release must not steal the second handle's ref

	if refs := p.Refs(root, lang.ID); refs != 1 {
		t.Fatalf("expected 1 ref after a double release, got %d", refs)
	}

	second.Release()
}

func TestPoolRespawnsDeadEntry(t *testing.T) {
	lang := testLanguage()
	root := t.TempDir()

	var spawns atomic.Int64
	p := pool.NewWithSpawn(func(ctx context.Context, lang *lsp.Language, root string) (*lsp.Client, error) {
		spawns.Add(1)
		return newStubClient(t, lang, root), nil
	}, nil)

	handle, err := p.Acquire(context.Background(), root, lang)
	if err != nil {
		t.Fatal(err)
	}

	// a fatal transport error stops the entry but not the pool
	handle.Client().Close()
	<-handle.Client().ExitNotify()
	handle.Release()

	replacement, err := p.Acquire(context.Background(), root, lang)
	if err != nil {
		t.Fatal(err)
	}
	defer replacement.Release()

	if got := spawns.Load(); got != 2 {
		t.Fatalf("expected a respawn after the crash, got %d spawn/s", got)
	}
	if !replacement.Client().Alive() {
		t.Fatal("expected the respawned client to be alive")
	}
}
