package lsp

import (
	"context"
	"fmt"
	"sync"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

func uriFromPath(path string) uri.URI {
	return uri.File(path)
}

// DocumentSession tracks the documents currently open on one server and
// their versions. Versions strictly increase across updates; a document
// must be closed before it can be opened again.
type DocumentSession struct {
	client *Client

	mu       sync.Mutex
	versions map[uri.URI]int32
}

func newDocumentSession(client *Client) *DocumentSession {
	return &DocumentSession{
		client:   client,
		versions: map[uri.URI]int32{},
	}
}

// Open emits didOpen for the document and records version 1. Opening an
// already-open document is an error.
func (s *DocumentSession) Open(ctx context.Context, path string, text string) error {
	return s.OpenWithLanguage(ctx, path, text, LanguageIDForFile(path))
}

// OpenWithLanguage is Open with an explicit languageId.
func (s *DocumentSession) OpenWithLanguage(ctx context.Context, path string, text string, languageID string) error {
	docURI := uriFromPath(path)

	s.mu.Lock()
	if _, open := s.versions[docURI]; open {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDocumentOpen, path)
	}
	s.versions[docURI] = 1
	s.mu.Unlock()

	err := s.client.Notify(ctx, lsp.MethodTextDocumentDidOpen, lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{
			URI:        docURI,
			LanguageID: lsp.LanguageIdentifier(languageID),
			Version:    1,
			Text:       text,
		},
	})
	if err != nil {
		s.mu.Lock()
		delete(s.versions, docURI)
		s.mu.Unlock()
		return err
	}

	return nil
}

// Update replaces the full text of an open document, bumping its version.
func (s *DocumentSession) Update(ctx context.Context, path string, text string) error {
	docURI := uriFromPath(path)

	s.mu.Lock()
	version, open := s.versions[docURI]
	if !open {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDocumentClosed, path)
	}
	version++
	s.versions[docURI] = version
	s.mu.Unlock()

	return s.client.Notify(ctx, lsp.MethodTextDocumentDidChange, didChangeFullParams{
		TextDocument: lsp.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: docURI},
			Version:                version,
		},
		ContentChanges: []fullContentChange{
			{Text: text},
		},
	})
}

// full-sync didChange payload; the protocol struct's range field would
// otherwise marshal as an incremental zero-range edit
type didChangeFullParams struct {
	TextDocument   lsp.VersionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges []fullContentChange                 `json:"contentChanges"`
}

type fullContentChange struct {
	Text string `json:"text"`
}

// Close emits didClose, drops the version, and clears the document's
// diagnostics.
func (s *DocumentSession) Close(ctx context.Context, path string) error {
	docURI := uriFromPath(path)

	s.mu.Lock()
	_, open := s.versions[docURI]
	if !open {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDocumentClosed, path)
	}
	delete(s.versions, docURI)
	s.mu.Unlock()

	err := s.client.Notify(ctx, lsp.MethodTextDocumentDidClose, lsp.DidCloseTextDocumentParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: docURI},
	})

	s.client.diags.clear(docURI)
	return err
}

// IsOpen reports whether the document is currently open.
func (s *DocumentSession) IsOpen(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, open := s.versions[uriFromPath(path)]
	return open
}

// Version returns the current version of an open document, or 0.
func (s *DocumentSession) Version(path string) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[uriFromPath(path)]
}

// OpenCount returns the number of currently-open documents.
func (s *DocumentSession) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.versions)
}

// WithTemporaryDocument opens the document if it is not already open, runs
// op, and closes it iff this call opened it. The canonical pattern for
// short-lived analyses.
func (s *DocumentSession) WithTemporaryDocument(ctx context.Context, path string, text string, op func(ctx context.Context) error) error {
	opened := false
	if !s.IsOpen(path) {
		if err := s.Open(ctx, path, text); err != nil {
			return err
		}
		opened = true
	}

	opErr := op(ctx)

	if opened {
		if err := s.Close(context.WithoutCancel(ctx), path); err != nil && opErr == nil {
			opErr = err
		}
	}

	return opErr
}
