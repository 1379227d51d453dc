package lsp

import (
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// TextEdit is a single replacement of a range with new text.
type TextEdit struct {
	Range   lsp.Range `json:"range"`
	NewText string    `json:"newText"`
}

// TextDocumentEdit groups edits for one versioned document.
type TextDocumentEdit struct {
	TextDocument struct {
		URI     string `json:"uri"`
		Version *int32 `json:"version"`
	} `json:"textDocument"`
	Edits []TextEdit `json:"edits"`
}

// WorkspaceEdit maps document URIs to ordered edit lists. Servers send
// either the changes map or the documentChanges list; Flatten merges both.
// File creations and renames inside documentChanges are not modeled; text
// edits are the baseline.
type WorkspaceEdit struct {
	Changes         map[string][]TextEdit `json:"changes,omitempty"`
	DocumentChanges []TextDocumentEdit    `json:"documentChanges,omitempty"`
}

// Flatten merges changes and documentChanges into one URI-keyed map.
func (we *WorkspaceEdit) Flatten() map[uri.URI][]TextEdit {
	merged := map[uri.URI][]TextEdit{}
	for rawURI, edits := range we.Changes {
		merged[uri.URI(rawURI)] = append(merged[uri.URI(rawURI)], edits...)
	}
	for _, docEdit := range we.DocumentChanges {
		if len(docEdit.TextDocument.URI) == 0 {
			continue
		}
		docURI := uri.URI(docEdit.TextDocument.URI)
		merged[docURI] = append(merged[docURI], docEdit.Edits...)
	}
	return merged
}

// IsEmpty reports whether the edit contains no text edits at all.
func (we *WorkspaceEdit) IsEmpty() bool {
	for _, edits := range we.Flatten() {
		if len(edits) > 0 {
			return false
		}
	}
	return true
}
