package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

func parseURI(s string) uri.URI {
	return uri.URI(s)
}

func (c *Client) positionParams(path string, pos lsp.Position) lsp.TextDocumentPositionParams {
	return lsp.TextDocumentPositionParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: uriFromPath(path)},
		Position:     pos,
	}
}

// Hover is a normalized hover result.
type Hover struct {
	Contents string
	Range    *lsp.Range
}

type rawHover struct {
	Contents json.RawMessage `json:"contents"`
	Range    *lsp.Range      `json:"range,omitempty"`
}

// hover contents arrive as MarkupContent, MarkedString, or an array of
// MarkedStrings depending on the server's vintage
func normalizeHoverContents(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var markup struct {
		Kind  string `json:"kind"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &markup); err == nil && len(markup.Value) != 0 {
		return markup.Value
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var many []json.RawMessage
	if err := json.Unmarshal(raw, &many); err == nil {
		parts := make([]string, 0, len(many))
		for _, item := range many {
			if s := normalizeHoverContents(item); len(s) != 0 {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n\n")
	}

	var marked struct {
		Language string `json:"language"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(raw, &marked); err == nil {
		return marked.Value
	}

	return ""
}

// HoverAt requests hover information at the given position.
func (c *Client) HoverAt(ctx context.Context, path string, pos lsp.Position) (*Hover, error) {
	var raw *rawHover
	if err := c.Call(ctx, lsp.MethodTextDocumentHover, c.positionParams(path, pos), &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return &Hover{Contents: normalizeHoverContents(raw.Contents), Range: raw.Range}, nil
}

type locationLink struct {
	TargetURI   string    `json:"targetUri"`
	TargetRange lsp.Range `json:"targetSelectionRange"`
}

// decodeLocations accepts Location, []Location, or []LocationLink.
func decodeLocations(raw json.RawMessage) []lsp.Location {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var many []lsp.Location
	if err := json.Unmarshal(raw, &many); err == nil && (len(many) == 0 || len(many[0].URI) != 0) {
		return many
	}

	var one lsp.Location
	if err := json.Unmarshal(raw, &one); err == nil && len(one.URI) != 0 {
		return []lsp.Location{one}
	}

	var links []locationLink
	if err := json.Unmarshal(raw, &links); err == nil {
		locations := make([]lsp.Location, 0, len(links))
		for _, link := range links {
			if len(link.TargetURI) == 0 {
				continue
			}
			locations = append(locations, lsp.Location{
				URI:   parseURI(link.TargetURI),
				Range: link.TargetRange,
			})
		}
		return locations
	}

	return nil
}

// Definitions resolves the definition locations of the symbol at pos.
func (c *Client) Definitions(ctx context.Context, path string, pos lsp.Position) ([]lsp.Location, error) {
	var raw json.RawMessage
	if err := c.Call(ctx, lsp.MethodTextDocumentDefinition, c.positionParams(path, pos), &raw); err != nil {
		return nil, err
	}
	return decodeLocations(raw), nil
}

// References lists every reference to the symbol at pos.
func (c *Client) References(ctx context.Context, path string, pos lsp.Position, includeDeclaration bool) ([]lsp.Location, error) {
	params := struct {
		lsp.TextDocumentPositionParams
		Context lsp.ReferenceContext `json:"context"`
	}{
		TextDocumentPositionParams: c.positionParams(path, pos),
		Context:                    lsp.ReferenceContext{IncludeDeclaration: includeDeclaration},
	}

	var raw json.RawMessage
	if err := c.Call(ctx, lsp.MethodTextDocumentReferences, params, &raw); err != nil {
		return nil, err
	}
	return decodeLocations(raw), nil
}

// DocumentSymbols returns the symbol tree of a document. Servers without
// hierarchical support answer with flat SymbolInformation instead; both
// shapes are returned as-is for the caller to convert.
func (c *Client) DocumentSymbols(ctx context.Context, path string) ([]lsp.DocumentSymbol, []lsp.SymbolInformation, error) {
	params := lsp.DocumentSymbolParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: uriFromPath(path)},
	}

	var raw json.RawMessage
	if err := c.Call(ctx, lsp.MethodTextDocumentDocumentSymbol, params, &raw); err != nil {
		return nil, nil, err
	}

	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil, nil
	}

	// DocumentSymbol carries selectionRange, SymbolInformation carries
	// location; probe the first element to tell the shapes apart
	var probe []struct {
		Location *json.RawMessage `json:"location"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, err
	}

	if len(probe) > 0 && probe[0].Location != nil {
		var flat []lsp.SymbolInformation
		if err := json.Unmarshal(raw, &flat); err != nil {
			return nil, nil, err
		}
		return nil, flat, nil
	}

	var hierarchical []lsp.DocumentSymbol
	if err := json.Unmarshal(raw, &hierarchical); err != nil {
		return nil, nil, err
	}
	return hierarchical, nil, nil
}

// Completion requests completions at pos, normalizing list and array
// result shapes.
func (c *Client) Completion(ctx context.Context, path string, pos lsp.Position) ([]lsp.CompletionItem, error) {
	var raw json.RawMessage
	if err := c.Call(ctx, lsp.MethodTextDocumentCompletion, c.positionParams(path, pos), &raw); err != nil {
		return nil, err
	}

	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var items []lsp.CompletionItem
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}

	var list lsp.CompletionList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// SignatureHelp is a normalized signature help result.
type SignatureHelp struct {
	Signatures      []SignatureInformation `json:"signatures"`
	ActiveSignature int                    `json:"activeSignature"`
	ActiveParameter int                    `json:"activeParameter"`
}

type SignatureInformation struct {
	Label         string                 `json:"label"`
	Documentation json.RawMessage        `json:"documentation,omitempty"`
	Parameters    []ParameterInformation `json:"parameters,omitempty"`
}

type ParameterInformation struct {
	Label         json.RawMessage `json:"label"`
	Documentation json.RawMessage `json:"documentation,omitempty"`
}

// LabelText returns the parameter label, which may be a plain string or a
// [start, end) offset pair into the signature label.
func (p ParameterInformation) LabelText(signatureLabel string) string {
	var s string
	if err := json.Unmarshal(p.Label, &s); err == nil {
		return s
	}

	var span [2]int
	if err := json.Unmarshal(p.Label, &span); err == nil {
		if span[0] >= 0 && span[1] <= len(signatureLabel) && span[0] < span[1] {
			return signatureLabel[span[0]:span[1]]
		}
	}

	return ""
}

// SignatureHelpAt requests signature help at the given position.
func (c *Client) SignatureHelpAt(ctx context.Context, path string, pos lsp.Position) (*SignatureHelp, error) {
	var help *SignatureHelp
	if err := c.Call(ctx, lsp.MethodTextDocumentSignatureHelp, c.positionParams(path, pos), &help); err != nil {
		return nil, err
	}
	return help, nil
}

// CodeAction is the subset of the code action result the tool layer renders.
type CodeAction struct {
	Title       string           `json:"title"`
	Kind        string           `json:"kind,omitempty"`
	IsPreferred bool             `json:"isPreferred,omitempty"`
	Diagnostics []lsp.Diagnostic `json:"diagnostics,omitempty"`
	Edit        *WorkspaceEdit   `json:"edit,omitempty"`
	Command     *struct {
		Title   string `json:"title"`
		Command string `json:"command"`
	} `json:"command,omitempty"`
}

// CodeActions requests code actions for a range, optionally scoped to the
// given diagnostics.
func (c *Client) CodeActions(ctx context.Context, path string, rng lsp.Range, diagnostics []lsp.Diagnostic) ([]CodeAction, error) {
	params := struct {
		TextDocument lsp.TextDocumentIdentifier `json:"textDocument"`
		Range        lsp.Range                  `json:"range"`
		Context      struct {
			Diagnostics []lsp.Diagnostic `json:"diagnostics"`
		} `json:"context"`
	}{
		TextDocument: lsp.TextDocumentIdentifier{URI: uriFromPath(path)},
		Range:        rng,
	}
	if diagnostics == nil {
		diagnostics = []lsp.Diagnostic{}
	}
	params.Context.Diagnostics = diagnostics

	var actions []CodeAction
	if err := c.Call(ctx, lsp.MethodTextDocumentCodeAction, params, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// FormattingOptions are the options of a formatting request.
type FormattingOptions struct {
	TabSize      int  `json:"tabSize"`
	InsertSpaces bool `json:"insertSpaces"`
}

// Formatting requests whole-document formatting edits.
func (c *Client) Formatting(ctx context.Context, path string, options FormattingOptions) ([]TextEdit, error) {
	params := struct {
		TextDocument lsp.TextDocumentIdentifier `json:"textDocument"`
		Options      FormattingOptions          `json:"options"`
	}{
		TextDocument: lsp.TextDocumentIdentifier{URI: uriFromPath(path)},
		Options:      options,
	}

	var edits []TextEdit
	if err := c.Call(ctx, lsp.MethodTextDocumentFormatting, params, &edits); err != nil {
		return nil, err
	}
	return edits, nil
}

// RangeFormatting requests formatting edits for a range.
func (c *Client) RangeFormatting(ctx context.Context, path string, rng lsp.Range, options FormattingOptions) ([]TextEdit, error) {
	params := struct {
		TextDocument lsp.TextDocumentIdentifier `json:"textDocument"`
		Range        lsp.Range                  `json:"range"`
		Options      FormattingOptions          `json:"options"`
	}{
		TextDocument: lsp.TextDocumentIdentifier{URI: uriFromPath(path)},
		Range:        rng,
		Options:      options,
	}

	var edits []TextEdit
	if err := c.Call(ctx, lsp.MethodTextDocumentRangeFormatting, params, &edits); err != nil {
		return nil, err
	}
	return edits, nil
}

// Rename computes the workspace edit renaming the symbol at pos. A server
// without prepareRename support proceeds directly; a server without rename
// at all surfaces an UnsupportedError.
func (c *Client) Rename(ctx context.Context, path string, pos lsp.Position, newName string) (*WorkspaceEdit, error) {
	var prepareResult json.RawMessage
	err := c.Call(ctx, lsp.MethodTextDocumentPrepareRename, c.positionParams(path, pos), &prepareResult)
	if err != nil && !IsUnsupported(err) {
		// a server error here means the target is not renamable;
		// transport and timeout failures abort outright
		var serverErr *ServerError
		if !errors.As(err, &serverErr) {
			return nil, err
		}
		return nil, serverErr
	}

	params := struct {
		lsp.TextDocumentPositionParams
		NewName string `json:"newName"`
	}{
		TextDocumentPositionParams: c.positionParams(path, pos),
		NewName:                    newName,
	}

	var edit *WorkspaceEdit
	if err := c.Call(ctx, lsp.MethodTextDocumentRename, params, &edit); err != nil {
		return nil, err
	}
	return edit, nil
}

// WorkspaceSymbols queries the server-wide symbol search.
func (c *Client) WorkspaceSymbols(ctx context.Context, query string) ([]lsp.SymbolInformation, error) {
	params := struct {
		Query string `json:"query"`
	}{Query: query}

	var symbols []lsp.SymbolInformation
	if err := c.Call(ctx, lsp.MethodWorkspaceSymbol, params, &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}
