package lsp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

func TestDocumentSessionLifecycle(t *testing.T) {
	client, server := newTestClient(t, testLanguage())
	session := client.Session()
	ctx := context.Background()

	if session.IsOpen("/tmp/a.ts") {
		t.Fatal("expected the document to start closed")
	}

	if err := session.Open(ctx, "/tmp/a.ts", "const a = 1;"); err != nil {
		t.Fatal(err)
	}

	if !session.IsOpen("/tmp/a.ts") {
		t.Fatal("expected the document to be open")
	}
	if version := session.Version("/tmp/a.ts"); version != 1 {
		t.Fatalf("expected version 1 after open, got %d", version)
	}

	server.waitForNotification(t, lsp.MethodTextDocumentDidOpen)

	if err := session.Close(ctx, "/tmp/a.ts"); err != nil {
		t.Fatal(err)
	}

	if session.IsOpen("/tmp/a.ts") {
		t.Fatal("expected the document to be closed")
	}

	server.waitForNotification(t, lsp.MethodTextDocumentDidClose)
}

func TestDocumentSessionVersionsIncrease(t *testing.T) {
	client, _ := newTestClient(t, testLanguage())
	session := client.Session()
	ctx := context.Background()

	if err := session.Open(ctx, "/tmp/a.ts", "v1"); err != nil {
		t.Fatal(err)
	}

	last := session.Version("/tmp/a.ts")
	for k := 0; k < 5; k++ {
		if err := session.Update(ctx, "/tmp/a.ts", fmt.Sprintf("v%d", k+2)); err != nil {
			t.Fatal(err)
		}

		version := session.Version("/tmp/a.ts")
		if version <= last {
			t.Fatalf("expected the version to strictly increase, got %d after %d", version, last)
		}
		last = version
	}
}

func TestDocumentSessionRejectsDoubleOpen(t *testing.T) {
	client, _ := newTestClient(t, testLanguage())
	session := client.Session()
	ctx := context.Background()

	if err := session.Open(ctx, "/tmp/a.ts", "text"); err != nil {
		t.Fatal(err)
	}

	err := session.Open(ctx, "/tmp/a.ts", "text")
	if !errors.Is(err, ErrDocumentOpen) {
		t.Fatalf("expected ErrDocumentOpen, got %v", err)
	}
}

func TestDocumentSessionRejectsUpdateOfClosedDocument(t *testing.T) {
	client, _ := newTestClient(t, testLanguage())
	session := client.Session()

	err := session.Update(context.Background(), "/tmp/a.ts", "text")
	if !errors.Is(err, ErrDocumentClosed) {
		t.Fatalf("expected ErrDocumentClosed, got %v", err)
	}

	err = session.Close(context.Background(), "/tmp/a.ts")
	if !errors.Is(err, ErrDocumentClosed) {
		t.Fatalf("expected ErrDocumentClosed, got %v", err)
	}
}

func TestDocumentSessionCloseClearsDiagnostics(t *testing.T) {
	client, server := newTestClient(t, testLanguage())
	session := client.Session()
	ctx := context.Background()

	if err := session.Open(ctx, "/tmp/a.ts", "text"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := client.Diagnostics().WaitFor("/tmp/a.ts", 2*time.Second)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	rng := lsp.Range{
		Start: lsp.Position{Line: 0, Character: 0},
		End:   lsp.Position{Line: 0, Character: 4},
	}
	if err := server.notify(lsp.MethodTextDocumentPublishDiagnostics, lsp.PublishDiagnosticsParams{
		URI:         uri.File("/tmp/a.ts"),
		Diagnostics: []lsp.Diagnostic{{Message: "unused", Range: rng}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if err := session.Close(ctx, "/tmp/a.ts"); err != nil {
		t.Fatal(err)
	}

	if got := client.Diagnostics().Get("/tmp/a.ts"); len(got) != 0 {
		t.Fatalf("expected diagnostics to be cleared on close, got %d", len(got))
	}
}

func TestWithTemporaryDocument(t *testing.T) {
	client, _ := newTestClient(t, testLanguage())
	session := client.Session()
	ctx := context.Background()

	ran := false
	err := session.WithTemporaryDocument(ctx, "/tmp/a.ts", "text", func(ctx context.Context) error {
		ran = true
		if !session.IsOpen("/tmp/a.ts") {
			t.Error("expected the document to be open inside the op")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("expected the op to run")
	}

	// open ; close leaves the session as it started
	if session.IsOpen("/tmp/a.ts") {
		t.Fatal("expected the temporary document to be closed afterwards")
	}
	if count := session.OpenCount(); count != 0 {
		t.Fatalf("expected no open documents, got %d", count)
	}
}

func TestWithTemporaryDocumentClosesOnFailure(t *testing.T) {
	client, _ := newTestClient(t, testLanguage())
	session := client.Session()

	opErr := errors.New("op failed")
	err := session.WithTemporaryDocument(context.Background(), "/tmp/a.ts", "text", func(ctx context.Context) error {
		return opErr
	})
	if !errors.Is(err, opErr) {
		t.Fatalf("expected the op error to surface, got %v", err)
	}

	if session.IsOpen("/tmp/a.ts") {
		t.Fatal("expected the temporary document to be closed after a failed op")
	}
}

func TestWithTemporaryDocumentKeepsAlreadyOpenDocuments(t *testing.T) {
	client, _ := newTestClient(t, testLanguage())
	session := client.Session()
	ctx := context.Background()

	if err := session.Open(ctx, "/tmp/a.ts", "text"); err != nil {
		t.Fatal(err)
	}

	err := session.WithTemporaryDocument(ctx, "/tmp/a.ts", "text", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if !session.IsOpen("/tmp/a.ts") {
		t.Fatal("expected an already-open document to stay open")
	}
}
