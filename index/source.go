package index

import (
	"context"

	"github.com/lsmcp/lsmcp/lsp"
	"github.com/lsmcp/lsmcp/pool"
	"go.lsp.dev/uri"
)

// LspSource fetches document symbols by opening the file transiently on
// the project's language server.
type LspSource struct {
	ws *pool.Workspace
}

func NewLspSource(ws *pool.Workspace) *LspSource {
	return &LspSource{ws: ws}
}

func (s *LspSource) DocumentSymbols(ctx context.Context, root string, relPath string) ([]*Entry, error) {
	var entries []*Entry
	err := s.ws.WithDocument(ctx, root, relPath, func(ctx context.Context, client *lsp.Client, absPath string) error {
		hierarchical, flat, err := client.DocumentSymbols(ctx, absPath)
		if err != nil {
			return err
		}

		if hierarchical != nil {
			entries = FromDocumentSymbols(uri.File(absPath), hierarchical)
		} else {
			entries = FromSymbolInformation(flat)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
