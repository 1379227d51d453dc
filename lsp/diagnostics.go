package lsp

import (
	"context"
	"sync"
	"time"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// Diagnostics aggregates push diagnostics per document. The stored list
// always reflects the most recent publishDiagnostics for each URI.
type Diagnostics struct {
	mu      sync.Mutex
	current map[uri.URI][]lsp.Diagnostic
	waiters map[uri.URI][]chan struct{}
	any     []chan struct{}
}

func newDiagnostics() *Diagnostics {
	return &Diagnostics{
		current: map[uri.URI][]lsp.Diagnostic{},
		waiters: map[uri.URI][]chan struct{}{},
	}
}

func emptyRange(r lsp.Range) bool {
	return r.Start.Line == r.End.Line && r.Start.Character == r.End.Character
}

func (d *Diagnostics) publish(docURI uri.URI, diagnostics []lsp.Diagnostic) {
	kept := make([]lsp.Diagnostic, 0, len(diagnostics))
	for _, diag := range diagnostics {
		// diagnostics with an empty range carry no usable location
		if emptyRange(diag.Range) {
			continue
		}
		kept = append(kept, diag)
	}

	d.mu.Lock()
	d.current[docURI] = kept

	woken := d.waiters[docURI]
	delete(d.waiters, docURI)
	anyWoken := d.any
	d.any = nil
	d.mu.Unlock()

	for _, ch := range woken {
		close(ch)
	}
	for _, ch := range anyWoken {
		close(ch)
	}
}

func (d *Diagnostics) clear(docURI uri.URI) {
	d.mu.Lock()
	delete(d.current, docURI)
	d.mu.Unlock()
}

// Get returns the current snapshot for the document.
func (d *Diagnostics) Get(path string) []lsp.Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]lsp.Diagnostic(nil), d.current[uriFromPath(path)]...)
}

// WaitFor blocks until the next publishDiagnostics for the document, then
// returns the fresh snapshot. Fails with a TimeoutError when nothing
// arrives in time.
func (d *Diagnostics) WaitFor(path string, timeout time.Duration) ([]lsp.Diagnostic, error) {
	docURI := uriFromPath(path)

	ch := make(chan struct{})
	d.mu.Lock()
	d.waiters[docURI] = append(d.waiters[docURI], ch)
	d.mu.Unlock()

	select {
	case <-ch:
		return d.Get(path), nil
	case <-time.After(timeout):
		d.mu.Lock()
		remaining := d.waiters[docURI][:0]
		for _, w := range d.waiters[docURI] {
			if w != ch {
				remaining = append(remaining, w)
			}
		}
		d.waiters[docURI] = remaining
		d.mu.Unlock()
		return nil, &TimeoutError{Method: lsp.MethodTextDocumentPublishDiagnostics, After: timeout}
	}
}

// WaitForAny blocks until any document receives diagnostics or the timeout
// elapses. Used as a readiness probe for servers that publish on startup.
func (d *Diagnostics) WaitForAny(timeout time.Duration) bool {
	ch := make(chan struct{})
	d.mu.Lock()
	d.any = append(d.any, ch)
	d.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// documentDiagnosticParams and friends cover the 3.17 pull-diagnostics
// surface, which go.lsp.dev/protocol predates.
type documentDiagnosticParams struct {
	TextDocument lsp.TextDocumentIdentifier `json:"textDocument"`
}

type documentDiagnosticReport struct {
	Kind  string           `json:"kind"`
	Items []lsp.Diagnostic `json:"items"`
}

const methodTextDocumentDiagnostic = "textDocument/diagnostic"

// Pull requests diagnostics from the server when it advertises pull
// support, and falls back to the push snapshot otherwise.
func (c *Client) Pull(ctx context.Context, path string) ([]lsp.Diagnostic, error) {
	if !c.SupportsPullDiagnostics() {
		return c.diags.Get(path), nil
	}

	var report documentDiagnosticReport
	err := c.Call(ctx, methodTextDocumentDiagnostic, documentDiagnosticParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: uriFromPath(path)},
	}, &report)
	if err != nil {
		if IsUnsupported(err) {
			return c.diags.Get(path), nil
		}
		return nil, err
	}

	kept := make([]lsp.Diagnostic, 0, len(report.Items))
	for _, diag := range report.Items {
		if emptyRange(diag.Range) {
			continue
		}
		kept = append(kept, diag)
	}
	return kept, nil
}
