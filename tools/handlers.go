package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lsmcp/lsmcp/edit"
	"github.com/lsmcp/lsmcp/index"
	"github.com/lsmcp/lsmcp/lsp"
	"github.com/lsmcp/lsmcp/pool"
	"github.com/lsmcp/lsmcp/textbuf"
	"github.com/mark3labs/mcp-go/mcp"
	protocol "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"golang.org/x/sync/errgroup"
)

func (s *Server) documentArgs(req mcp.CallToolRequest) (root string, relPath string, err error) {
	root, err = stringArg(req, "root")
	if err != nil {
		return "", "", err
	}

	relPath, err = stringArg(req, "filePath")
	if err != nil {
		return "", "", err
	}

	return root, relPath, nil
}

func (s *Server) readTarget(root, relPath string) (string, error) {
	content, err := os.ReadFile(filepath.Join(root, relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", &pool.FileNotFoundError{Path: relPath}
		}
		return "", err
	}
	return string(content), nil
}

func (s *Server) handleGetHover(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, relPath, err := s.documentArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	errCtx := errorContext{Operation: "get_hover", FilePath: relPath, Language: languageOf(relPath)}

	content, err := s.readTarget(root, relPath)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	pos, err := resolvePosition(req, relPath, content)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	var hover *lsp.Hover
	err = s.ws.WithDocument(ctx, root, relPath, func(ctx context.Context, client *lsp.Client, absPath string) error {
		hover, err = client.HoverAt(ctx, absPath, pos)
		return err
	})
	if err != nil {
		return toolError(errCtx, err), nil
	}

	return mcp.NewToolResultText(formatHover(hover)), nil
}

func (s *Server) handleFindReferences(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, relPath, err := s.documentArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	symbolName, err := stringArg(req, "symbolName")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	errCtx := errorContext{Operation: "find_references", FilePath: relPath, SymbolName: symbolName, Language: languageOf(relPath)}

	content, err := s.readTarget(root, relPath)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	line, err := resolveLine(relPath, content, req.GetArguments()["line"])
	if err != nil {
		return toolError(errCtx, err), nil
	}

	pos, err := locateSymbol(relPath, content, line, symbolName)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	var locations []protocol.Location
	err = s.ws.WithDocument(ctx, root, relPath, func(ctx context.Context, client *lsp.Client, absPath string) error {
		locations, err = client.References(ctx, absPath, pos, true)
		return err
	})
	if err != nil {
		return toolError(errCtx, err), nil
	}

	return mcp.NewToolResultText(formatReferences(root, locations, s.ws.ReadFile)), nil
}

func (s *Server) handleGetDefinitions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, relPath, err := s.documentArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	symbolName, err := stringArg(req, "symbolName")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	errCtx := errorContext{Operation: "get_definitions", FilePath: relPath, SymbolName: symbolName, Language: languageOf(relPath)}

	content, err := s.readTarget(root, relPath)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	line, err := resolveLine(relPath, content, req.GetArguments()["line"])
	if err != nil {
		return toolError(errCtx, err), nil
	}

	pos, err := locateSymbol(relPath, content, line, symbolName)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	var locations []protocol.Location
	err = s.ws.WithDocument(ctx, root, relPath, func(ctx context.Context, client *lsp.Client, absPath string) error {
		locations, err = client.Definitions(ctx, absPath, pos)
		return err
	})
	if err != nil {
		return toolError(errCtx, err), nil
	}

	return mcp.NewToolResultText(formatLocationList(root, locations)), nil
}

// CollectDiagnostics opens the given documents, waits for fresh push
// diagnostics (falling back to pull, then to the current snapshot), and
// returns them keyed by absolute path. Shared by the tool handler and the
// batch CLI mode.
func CollectDiagnostics(ctx context.Context, ws *pool.Workspace, root string, relPaths []string) (map[string][]protocol.Diagnostic, error) {
	results := map[string][]protocol.Diagnostic{}
	var resultsMu sync.Mutex

	err := ws.WithDocuments(ctx, root, relPaths, func(ctx context.Context, client *lsp.Client, absPaths []string) error {
		g, ctx := errgroup.WithContext(ctx)
		for _, absPath := range absPaths {
			absPath := absPath
			g.Go(func() error {
				diagnostics, err := client.Diagnostics().WaitFor(absPath, 2*time.Second)
				if err != nil {
					diagnostics, err = client.Pull(ctx, absPath)
					if err != nil {
						return err
					}
				}

				resultsMu.Lock()
				results[absPath] = diagnostics
				resultsMu.Unlock()
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// ExpandPattern resolves a glob (with ** support) to root-relative paths.
func ExpandPattern(root, pattern string) ([]string, error) {
	if !strings.Contains(pattern, "**") {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, &InvalidArgumentError{Argument: "pattern", Reason: err.Error()}
		}

		relPaths := make([]string, 0, len(matches))
		for _, match := range matches {
			if rel, err := filepath.Rel(root, match); err == nil {
				relPaths = append(relPaths, rel)
			}
		}
		return relPaths, nil
	}

	// a/**/b.ext walks everything under the prefix and matches the leaf
	parts := strings.SplitN(pattern, "**", 2)
	prefix := strings.TrimSuffix(parts[0], "/")
	leaf := strings.TrimPrefix(parts[1], "/")

	var relPaths []string
	base := filepath.Join(root, filepath.FromSlash(prefix))
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		matched, matchErr := filepath.Match(leaf, d.Name())
		if matchErr != nil || !matched {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil {
			relPaths = append(relPaths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(relPaths)
	return relPaths, nil
}

func (s *Server) handleGetDiagnostics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, err := stringArg(req, "root")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	errCtx := errorContext{Operation: "get_diagnostics"}

	relPaths := stringSliceArg(req, "filePaths")
	if pattern := optionalStringArg(req, "pattern"); len(pattern) != 0 {
		expanded, err := ExpandPattern(root, pattern)
		if err != nil {
			return toolError(errCtx, err), nil
		}
		relPaths = append(relPaths, expanded...)
	}

	if len(relPaths) == 0 {
		return mcp.NewToolResultError((&InvalidArgumentError{
			Argument: "filePaths",
			Reason:   "at least one file path or a pattern is required",
		}).Error()), nil
	}

	results, err := CollectDiagnostics(ctx, s.ws, root, relPaths)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	return mcp.NewToolResultText(FormatDiagnostics(root, results)), nil
}

func (s *Server) handleRenameSymbol(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, relPath, err := s.documentArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	target, err := stringArg(req, "target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	newName, err := stringArg(req, "newName")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	errCtx := errorContext{Operation: "rename_symbol", FilePath: relPath, SymbolName: target, Language: languageOf(relPath)}

	content, err := s.readTarget(root, relPath)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	// the line argument is optional for rename: default to the first line
	// containing the target
	lineArg := req.GetArguments()["line"]
	if lineArg == nil {
		lineArg = target
	}
	line, err := resolveLine(relPath, content, lineArg)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	pos, err := locateSymbol(relPath, content, line, target)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	var workspaceEdit *lsp.WorkspaceEdit
	err = s.ws.WithDocument(ctx, root, relPath, func(ctx context.Context, client *lsp.Client, absPath string) error {
		workspaceEdit, err = client.Rename(ctx, absPath, pos, newName)
		return err
	})
	if err != nil {
		return toolError(errCtx, err), nil
	}

	if workspaceEdit == nil || workspaceEdit.IsEmpty() {
		return mcp.NewToolResultText("no occurrences to rename"), nil
	}

	changed, err := edit.Apply(workspaceEdit)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	return mcp.NewToolResultText(formatRenameResult(root, target, newName, changed)), nil
}

func wholeLineDeletion(startLine, endLine uint32) lsp.TextEdit {
	deletion := lsp.TextEdit{NewText: ""}
	deletion.Range.Start = protocol.Position{Line: startLine}
	deletion.Range.End = protocol.Position{Line: endLine + 1}
	return deletion
}

func (s *Server) handleDeleteSymbol(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, relPath, err := s.documentArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	symbolName, err := stringArg(req, "symbolName")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	removeReferences := optionalBoolArg(req, "removeReferences", false)
	errCtx := errorContext{Operation: "delete_symbol", FilePath: relPath, SymbolName: symbolName, Language: languageOf(relPath)}

	content, err := s.readTarget(root, relPath)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	line, err := resolveLine(relPath, content, req.GetArguments()["line"])
	if err != nil {
		return toolError(errCtx, err), nil
	}

	pos, err := locateSymbol(relPath, content, line, symbolName)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	workspaceEdit := &lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{}}
	err = s.ws.WithDocument(ctx, root, relPath, func(ctx context.Context, client *lsp.Client, absPath string) error {
		hierarchical, flat, err := client.DocumentSymbols(ctx, absPath)
		if err != nil {
			return err
		}

		var entries []*index.Entry
		if hierarchical != nil {
			entries = index.FromDocumentSymbols(uri.File(absPath), hierarchical)
		} else {
			entries = index.FromSymbolInformation(flat)
		}

		var symbol *index.Entry
		index.Walk(entries, func(e *index.Entry) {
			if e.Name == symbolName && rangeContains(e.Location.Range, pos) {
				symbol = e
			}
		})
		if symbol == nil {
			return &SymbolNotFoundOnLineError{
				FilePath: relPath,
				Line:     line + 1,
				Symbol:   symbolName,
			}
		}

		docURI := string(uri.File(absPath))
		workspaceEdit.Changes[docURI] = append(workspaceEdit.Changes[docURI],
			wholeLineDeletion(symbol.Location.Range.Start.Line, symbol.Location.Range.End.Line))

		if removeReferences {
			references, err := client.References(ctx, absPath, pos, false)
			if err != nil && !lsp.IsUnsupported(err) {
				return err
			}
			for _, ref := range references {
				if rangeContains(symbol.Location.Range, ref.Range.Start) && string(ref.URI) == docURI {
					continue
				}
				refURI := string(ref.URI)
				workspaceEdit.Changes[refURI] = append(workspaceEdit.Changes[refURI],
					wholeLineDeletion(ref.Range.Start.Line, ref.Range.End.Line))
			}
		}

		return nil
	})
	if err != nil {
		return toolError(errCtx, err), nil
	}

	changed, err := edit.Apply(workspaceEdit)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "removed %q from %d file/s\n", symbolName, len(changed))
	for _, file := range changed {
		fmt.Fprintf(&b, "  %s\n", relativeTo(root, file.Path))
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func rangeContains(r protocol.Range, pos protocol.Position) bool {
	if pos.Line < r.Start.Line || pos.Line > r.End.Line {
		return false
	}
	if pos.Line == r.Start.Line && pos.Character < r.Start.Character {
		return false
	}
	if pos.Line == r.End.Line && pos.Character > r.End.Character {
		return false
	}
	return true
}

func (s *Server) handleGetDocumentSymbols(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, relPath, err := s.documentArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	errCtx := errorContext{Operation: "get_document_symbols", FilePath: relPath, Language: languageOf(relPath)}

	var entries []*index.Entry
	err = s.ws.WithDocument(ctx, root, relPath, func(ctx context.Context, client *lsp.Client, absPath string) error {
		hierarchical, flat, err := client.DocumentSymbols(ctx, absPath)
		if err != nil {
			return err
		}

		if hierarchical != nil {
			entries = index.FromDocumentSymbols(uri.File(absPath), hierarchical)
		} else {
			entries = index.FromSymbolInformation(flat)
		}
		return nil
	})
	if err != nil {
		return toolError(errCtx, err), nil
	}

	return mcp.NewToolResultText(formatSymbolTree(entries)), nil
}

// firstIndexableFile finds a file to anchor workspace-level requests on.
func firstIndexableFile(root string) (string, bool) {
	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || len(found) != 0 {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if indexableExtensions[filepath.Ext(path)] {
			if rel, relErr := filepath.Rel(root, path); relErr == nil {
				found = rel
				return filepath.SkipAll
			}
		}
		return nil
	})
	return found, len(found) != 0
}

func (s *Server) handleGetWorkspaceSymbols(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := stringArg(req, "query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	root := optionalStringArg(req, "root")
	if len(root) == 0 {
		root = "."
	}
	errCtx := errorContext{Operation: "get_workspace_symbols"}

	anchor := optionalStringArg(req, "filePath")
	if len(anchor) == 0 {
		var ok bool
		anchor, ok = firstIndexableFile(root)
		if !ok {
			return toolError(errCtx, fmt.Errorf("no source files found under %s", root)), nil
		}
	}

	var symbols []protocol.SymbolInformation
	err = s.ws.WithClient(ctx, root, anchor, func(ctx context.Context, client *lsp.Client) error {
		symbols, err = client.WorkspaceSymbols(ctx, query)
		return err
	})
	if err != nil {
		return toolError(errCtx, err), nil
	}

	return mcp.NewToolResultText(formatWorkspaceSymbols(root, symbols)), nil
}

func (s *Server) handleGetCompletion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, relPath, err := s.documentArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	errCtx := errorContext{Operation: "get_completion", FilePath: relPath, Language: languageOf(relPath)}

	content, err := s.readTarget(root, relPath)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	pos, err := resolvePosition(req, relPath, content)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	var items []protocol.CompletionItem
	err = s.ws.WithDocument(ctx, root, relPath, func(ctx context.Context, client *lsp.Client, absPath string) error {
		items, err = client.Completion(ctx, absPath, pos)
		return err
	})
	if err != nil {
		return toolError(errCtx, err), nil
	}

	const maxShown = 30
	truncated := ""
	if len(items) > maxShown {
		truncated = fmt.Sprintf("\n… and %d more", len(items)-maxShown)
		items = items[:maxShown]
	}

	return mcp.NewToolResultText(formatCompletions(items) + truncated), nil
}

func (s *Server) handleGetSignatureHelp(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, relPath, err := s.documentArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	errCtx := errorContext{Operation: "get_signature_help", FilePath: relPath, Language: languageOf(relPath)}

	content, err := s.readTarget(root, relPath)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	pos, err := resolvePosition(req, relPath, content)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	// signature help wants the cursor inside the call's parentheses
	if target := optionalStringArg(req, "target"); len(target) != 0 {
		if _, hasCharacter := optionalNumberArg(req, "character"); !hasCharacter {
			pos.Character += uint32(len(target)) + 1
		}
	}

	var help *lsp.SignatureHelp
	err = s.ws.WithDocument(ctx, root, relPath, func(ctx context.Context, client *lsp.Client, absPath string) error {
		help, err = client.SignatureHelpAt(ctx, absPath, pos)
		return err
	})
	if err != nil {
		return toolError(errCtx, err), nil
	}

	return mcp.NewToolResultText(formatSignatureHelp(help)), nil
}

func (s *Server) handleGetCodeActions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, relPath, err := s.documentArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	errCtx := errorContext{Operation: "get_code_actions", FilePath: relPath, Language: languageOf(relPath)}

	startLine, ok := optionalNumberArg(req, "startLine")
	if !ok || startLine < 1 {
		return mcp.NewToolResultError((&InvalidArgumentError{
			Argument: "startLine",
			Reason:   "a one-based line number is required",
		}).Error()), nil
	}

	endLine, ok := optionalNumberArg(req, "endLine")
	if !ok || endLine < startLine {
		endLine = startLine
	}

	content, err := s.readTarget(root, relPath)
	if err != nil {
		return toolError(errCtx, err), nil
	}
	lines := textbuf.Lines(content)
	if startLine > len(lines) {
		return toolError(errCtx, &InvalidArgumentError{Argument: "startLine", Reason: "out of range"}), nil
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}

	rng := protocol.Range{
		Start: protocol.Position{Line: uint32(startLine - 1)},
		End:   protocol.Position{Line: uint32(endLine - 1), Character: uint32(len(lines[endLine-1]))},
	}

	var actions []lsp.CodeAction
	err = s.ws.WithDocument(ctx, root, relPath, func(ctx context.Context, client *lsp.Client, absPath string) error {
		diagnostics := client.Diagnostics().Get(absPath)
		inRange := make([]protocol.Diagnostic, 0, len(diagnostics))
		for _, diag := range diagnostics {
			if diag.Range.Start.Line <= rng.End.Line && diag.Range.End.Line >= rng.Start.Line {
				inRange = append(inRange, diag)
			}
		}

		actions, err = client.CodeActions(ctx, absPath, rng, inRange)
		return err
	})
	if err != nil {
		return toolError(errCtx, err), nil
	}

	return mcp.NewToolResultText(formatCodeActions(actions)), nil
}

func formattingOptions(req mcp.CallToolRequest) lsp.FormattingOptions {
	tabSize, ok := optionalNumberArg(req, "tabSize")
	if !ok || tabSize < 1 {
		tabSize = 4
	}
	return lsp.FormattingOptions{
		TabSize:      tabSize,
		InsertSpaces: optionalBoolArg(req, "insertSpaces", true),
	}
}

func (s *Server) applyFormatting(ctx context.Context, req mcp.CallToolRequest, rangeOnly bool) (*mcp.CallToolResult, error) {
	root, relPath, err := s.documentArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	operation := "format_document"
	if rangeOnly {
		operation = "format_range"
	}
	errCtx := errorContext{Operation: operation, FilePath: relPath, Language: languageOf(relPath)}

	content, err := s.readTarget(root, relPath)
	if err != nil {
		return toolError(errCtx, err), nil
	}

	var rng protocol.Range
	if rangeOnly {
		startLine, okStart := optionalNumberArg(req, "startLine")
		endLine, okEnd := optionalNumberArg(req, "endLine")
		if !okStart || !okEnd || startLine < 1 || endLine < startLine {
			return toolError(errCtx, &InvalidArgumentError{
				Argument: "startLine",
				Reason:   "a valid one-based line range is required",
			}), nil
		}

		lines := textbuf.Lines(content)
		if endLine > len(lines) {
			endLine = len(lines)
		}
		rng = protocol.Range{
			Start: protocol.Position{Line: uint32(startLine - 1)},
			End:   protocol.Position{Line: uint32(endLine - 1), Character: uint32(len(lines[endLine-1]))},
		}
	}

	options := formattingOptions(req)

	var edits []lsp.TextEdit
	err = s.ws.WithDocument(ctx, root, relPath, func(ctx context.Context, client *lsp.Client, absPath string) error {
		if rangeOnly {
			edits, err = client.RangeFormatting(ctx, absPath, rng, options)
		} else {
			edits, err = client.Formatting(ctx, absPath, options)
		}
		return err
	})
	if err != nil {
		return toolError(errCtx, err), nil
	}

	if len(edits) == 0 {
		return mcp.NewToolResultText("already formatted"), nil
	}

	updated, changes := edit.ApplyToContent(content, edits)

	if optionalBoolArg(req, "apply", false) {
		if err := os.WriteFile(filepath.Join(root, relPath), []byte(updated), 0644); err != nil {
			return toolError(errCtx, err), nil
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d edit/s in %s\n\n", len(changes), relPath)
	b.WriteString(edit.Preview(content, updated))
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleFormatDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.applyFormatting(ctx, req, false)
}

func (s *Server) handleFormatRange(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.applyFormatting(ctx, req, true)
}

func (s *Server) handleSearchSymbols(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root := optionalStringArg(req, "root")
	if len(root) == 0 {
		root = "."
	}
	errCtx := errorContext{Operation: "search_symbols"}

	idx, err := s.indexFor(root)
	if err != nil {
		return toolError(errCtx, err), nil
	}
	s.ensureScanned(ctx, idx)

	query := index.Query{
		Name:            optionalStringArg(req, "name"),
		Container:       optionalStringArg(req, "containerName"),
		File:            optionalStringArg(req, "file"),
		IncludeChildren: optionalBoolArg(req, "includeChildren", true),
		IncludeExternal: optionalBoolArg(req, "includeExternal", false),
		OnlyExternal:    optionalBoolArg(req, "onlyExternal", false),
		SourceLibrary:   optionalStringArg(req, "sourceLibrary"),
	}

	if kinds := optionalStringArg(req, "kind"); len(kinds) != 0 {
		for _, name := range strings.Split(kinds, ",") {
			kind, ok := index.ParseKind(strings.TrimSpace(name))
			if !ok {
				return toolError(errCtx, &InvalidArgumentError{
					Argument: "kind",
					Reason:   fmt.Sprintf("unknown symbol kind %q", strings.TrimSpace(name)),
				}), nil
			}
			query.Kinds = append(query.Kinds, kind)
		}
	}

	results := idx.Search(query)
	return mcp.NewToolResultText(FormatSearchResults(idx.Root(), results)), nil
}
