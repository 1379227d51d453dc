package pool_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lsmcp/lsmcp/lsp"
	"github.com/lsmcp/lsmcp/pool"
)

func newTestWorkspace(t *testing.T) *pool.Workspace {
	p := pool.NewWithSpawn(func(ctx context.Context, lang *lsp.Language, root string) (*lsp.Client, error) {
		return newStubClient(t, lang, root), nil
	}, nil)
	return pool.NewWorkspace(p, nil)
}

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	path := filepath.Join(root, relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWorkspaceWithDocument(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "const a = 1;")

	ws := newTestWorkspace(t)

	var openedClient *lsp.Client
	err := ws.WithDocument(context.Background(), root, "a.ts", func(ctx context.Context, client *lsp.Client, absPath string) error {
		openedClient = client
		if !client.Session().IsOpen(absPath) {
			t.Error("expected the document to be open inside the op")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// transient documents close on the way out, and the pool entry is
	// released
	if openedClient.Session().OpenCount() != 0 {
		t.Fatal("expected the transient document to be closed")
	}
	if ws.Pool().Size() != 0 {
		t.Fatalf("expected an empty pool, got %d", ws.Pool().Size())
	}
}

func TestWorkspaceWithDocumentClosesOnFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "const a = 1;")

	ws := newTestWorkspace(t)

	opErr := errors.New("op failed")
	var openedClient *lsp.Client
	err := ws.WithDocument(context.Background(), root, "a.ts", func(ctx context.Context, client *lsp.Client, absPath string) error {
		openedClient = client
		return opErr
	})
	if !errors.Is(err, opErr) {
		t.Fatalf("expected the op error to surface, got %v", err)
	}

	if openedClient.Session().OpenCount() != 0 {
		t.Fatal("expected the transient document to be closed after a failure")
	}
	if ws.Pool().Size() != 0 {
		t.Fatalf("expected the pool entry to be released, got size %d", ws.Pool().Size())
	}
}

func TestWorkspaceWithDocumentMissingFile(t *testing.T) {
	root := t.TempDir()
	ws := newTestWorkspace(t)

	err := ws.WithDocument(context.Background(), root, "missing.ts", func(ctx context.Context, client *lsp.Client, absPath string) error {
		t.Error("the op must not run for a missing file")
		return nil
	})

	var notFound *pool.FileNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected a FileNotFoundError, got %v", err)
	}
}

func TestWorkspaceWithDocumentsMixedLanguages(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "export const a = 1;")
	writeFile(t, root, "b.ts", "import {a} from './a';")

	ws := newTestWorkspace(t)

	err := ws.WithDocuments(context.Background(), root, []string{"a.ts", "b.ts"}, func(ctx context.Context, client *lsp.Client, absPaths []string) error {
		if len(absPaths) != 2 {
			t.Fatalf("expected 2 documents, got %d", len(absPaths))
		}
		for _, absPath := range absPaths {
			if !client.Session().IsOpen(absPath) {
				t.Errorf("expected %s to be open", absPath)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestWorkspaceOverlayReadsOpenDocuments(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.ts", "const a = 1;")

	ws := newTestWorkspace(t)

	err := ws.WithDocument(context.Background(), root, "a.ts", func(ctx context.Context, client *lsp.Client, absPath string) error {
		content, err := ws.ReadFile(absPath)
		if err != nil {
			return err
		}
		if string(content) != "const a = 1;" {
			t.Errorf("unexpected overlay content: %q", content)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
