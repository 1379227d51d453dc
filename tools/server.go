package tools

import (
	"context"
	"io"
	"io/fs"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lsmcp/lsmcp/helpers"
	"github.com/lsmcp/lsmcp/index"
	"github.com/lsmcp/lsmcp/lsp"
	"github.com/lsmcp/lsmcp/pool"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Server exposes the tool set over the MCP stdio transport. Tool handlers
// translate between the one-based tool coordinates and the zero-based core,
// drive the workspace orchestrator, and format results as text.
type Server struct {
	mcpServer *mcpserver.MCPServer
	ws        *pool.Workspace
	log       *log.Logger

	mu      sync.Mutex
	indices map[string]*index.Index
	scanned map[string]bool
}

func NewServer(ws *pool.Workspace, version string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Server{
		mcpServer: mcpserver.NewMCPServer("lsmcp", version,
			mcpserver.WithToolCapabilities(false),
		),
		ws:      ws,
		log:     logger,
		indices: map[string]*index.Index{},
		scanned: map[string]bool{},
	}
	s.registerTools()
	return s
}

// MCPServer exposes the underlying server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// ServeStdio blocks serving the tool protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	defer s.shutdown()
	return mcpserver.ServeStdio(s.mcpServer)
}

func (s *Server) shutdown() {
	s.mu.Lock()
	indices := make([]*index.Index, 0, len(s.indices))
	for _, idx := range s.indices {
		indices = append(indices, idx)
	}
	s.indices = map[string]*index.Index{}
	s.mu.Unlock()

	for _, idx := range indices {
		idx.Stop()
	}
	s.ws.Pool().ShutdownAll()
}

// indexFor returns (creating if needed) the symbol index for a root, with
// its persistent cache attached and the watcher running.
func (s *Server) indexFor(root string) (*index.Index, error) {
	canonRoot, err := helpers.CanonicalRoot(root)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.indices[canonRoot]; ok {
		return idx, nil
	}

	opts := []index.Option{index.WithLogger(s.log)}
	cache, err := index.OpenCache(canonRoot)
	if err != nil {
		s.log.Printf("tools> symbol cache unavailable for %s: %s\n", canonRoot, err.Error())
	} else {
		opts = append(opts, index.WithCache(cache))
	}

	idx := index.New(canonRoot, index.NewLspSource(s.ws), opts...)
	if err := idx.StartWatching(); err != nil {
		s.log.Printf("tools> watcher unavailable for %s: %s\n", canonRoot, err.Error())
	}

	s.indices[canonRoot] = idx
	return idx, nil
}

var skippedDirs = map[string]bool{
	".git":         true,
	".lsmcp":       true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"target":       true,
}

// ensureScanned runs the initial project scan exactly once per root.
func (s *Server) ensureScanned(ctx context.Context, idx *index.Index) {
	s.mu.Lock()
	if s.scanned[idx.Root()] {
		s.mu.Unlock()
		return
	}
	s.scanned[idx.Root()] = true
	s.mu.Unlock()

	ScanProject(ctx, s.ws, idx)
}

// ScanProject walks the project and indexes every source file with a known
// language. Files whose cache records are still valid never touch a
// language server; for the rest, one server per language is held for the
// whole scan so per-file release does not tear it down between files.
func ScanProject(ctx context.Context, ws *pool.Workspace, idx *index.Index) {
	var relPaths []string
	_ = filepath.WalkDir(idx.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") && path != idx.Root() {
				return filepath.SkipDir
			}
			return nil
		}

		if !indexableExtensions[filepath.Ext(path)] {
			return nil
		}

		if relPath, relErr := filepath.Rel(idx.Root(), path); relErr == nil {
			relPaths = append(relPaths, relPath)
		}
		return nil
	})

	held := map[string]*pool.Handle{}
	defer func() {
		for _, handle := range held {
			handle.Release()
		}
	}()

	for _, relPath := range relPaths {
		if ws != nil && !idx.HasValidCache(relPath) {
			if lang, err := lsp.DetectLanguage(relPath); err == nil {
				if _, ok := held[lang.ID]; !ok {
					if handle, err := ws.Pool().Acquire(ctx, idx.Root(), lang); err == nil {
						held[lang.ID] = handle
					}
				}
			}
		}

		// reindex errors are logged and published; they never block
		// other files
		_ = idx.IndexFile(ctx, relPath)
	}
}

var indexableExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".rs": true, ".py": true, ".pyi": true, ".go": true,
}

func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.getHoverTool(),
		s.findReferencesTool(),
		s.getDefinitionsTool(),
		s.getDiagnosticsTool(),
		s.renameSymbolTool(),
		s.deleteSymbolTool(),
		s.getDocumentSymbolsTool(),
		s.getWorkspaceSymbolsTool(),
		s.getCompletionTool(),
		s.getSignatureHelpTool(),
		s.getCodeActionsTool(),
		s.formatDocumentTool(),
		s.formatRangeTool(),
		s.searchSymbolsTool(),
	)
}

func (s *Server) getHoverTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("get_hover",
			mcp.WithDescription("Get hover information (signature and documentation) for a symbol"),
			mcp.WithString("root", mcp.Required(), mcp.Description("Project root directory")),
			mcp.WithString("filePath", mcp.Required(), mcp.Description("File path relative to root")),
			mcp.WithString("line", mcp.Required(), mcp.Description("One-based line number or a substring of the line")),
			mcp.WithNumber("character", mcp.Description("One-based column")),
			mcp.WithString("target", mcp.Description("Symbol text to locate on the line")),
		),
		Handler: s.handleGetHover,
	}
}

func (s *Server) findReferencesTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("find_references",
			mcp.WithDescription("Find all references to a symbol, with surrounding context lines"),
			mcp.WithString("root", mcp.Required(), mcp.Description("Project root directory")),
			mcp.WithString("filePath", mcp.Required(), mcp.Description("File path relative to root")),
			mcp.WithString("line", mcp.Required(), mcp.Description("One-based line number or a substring of the line")),
			mcp.WithString("symbolName", mcp.Required(), mcp.Description("Symbol to look up on the line")),
		),
		Handler: s.handleFindReferences,
	}
}

func (s *Server) getDefinitionsTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("get_definitions",
			mcp.WithDescription("Get the definition locations of a symbol"),
			mcp.WithString("root", mcp.Required(), mcp.Description("Project root directory")),
			mcp.WithString("filePath", mcp.Required(), mcp.Description("File path relative to root")),
			mcp.WithString("line", mcp.Required(), mcp.Description("One-based line number or a substring of the line")),
			mcp.WithString("symbolName", mcp.Required(), mcp.Description("Symbol to look up on the line")),
		),
		Handler: s.handleGetDefinitions,
	}
}

func (s *Server) getDiagnosticsTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("get_diagnostics",
			mcp.WithDescription("Get diagnostics for one or more files, grouped by file with counts"),
			mcp.WithString("root", mcp.Required(), mcp.Description("Project root directory")),
			mcp.WithArray("filePaths", mcp.Description("File paths relative to root")),
			mcp.WithString("pattern", mcp.Description("Glob pattern relative to root, e.g. src/**/*.ts")),
		),
		Handler: s.handleGetDiagnostics,
	}
}

func (s *Server) renameSymbolTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("rename_symbol",
			mcp.WithDescription("Rename a symbol across the project"),
			mcp.WithString("root", mcp.Required(), mcp.Description("Project root directory")),
			mcp.WithString("filePath", mcp.Required(), mcp.Description("File path relative to root")),
			mcp.WithString("line", mcp.Description("One-based line number or a substring of the line")),
			mcp.WithString("target", mcp.Required(), mcp.Description("Symbol to rename")),
			mcp.WithString("newName", mcp.Required(), mcp.Description("New symbol name")),
		),
		Handler: s.handleRenameSymbol,
	}
}

func (s *Server) deleteSymbolTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("delete_symbol",
			mcp.WithDescription("Delete a symbol definition, optionally removing its references"),
			mcp.WithString("root", mcp.Required(), mcp.Description("Project root directory")),
			mcp.WithString("filePath", mcp.Required(), mcp.Description("File path relative to root")),
			mcp.WithString("line", mcp.Required(), mcp.Description("One-based line number or a substring of the line")),
			mcp.WithString("symbolName", mcp.Required(), mcp.Description("Symbol to delete")),
			mcp.WithBoolean("removeReferences", mcp.Description("Also remove lines referencing the symbol")),
		),
		Handler: s.handleDeleteSymbol,
	}
}

func (s *Server) getDocumentSymbolsTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("get_document_symbols",
			mcp.WithDescription("Get the symbol tree of a document with kind tags"),
			mcp.WithString("root", mcp.Required(), mcp.Description("Project root directory")),
			mcp.WithString("filePath", mcp.Required(), mcp.Description("File path relative to root")),
		),
		Handler: s.handleGetDocumentSymbols,
	}
}

func (s *Server) getWorkspaceSymbolsTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("get_workspace_symbols",
			mcp.WithDescription("Query workspace-wide symbols, grouped by file"),
			mcp.WithString("query", mcp.Required(), mcp.Description("Symbol query string")),
			mcp.WithString("root", mcp.Description("Project root directory (defaults to the current directory)")),
			mcp.WithString("filePath", mcp.Description("Any project file used to pick the language server")),
		),
		Handler: s.handleGetWorkspaceSymbols,
	}
}

func (s *Server) getCompletionTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("get_completion",
			mcp.WithDescription("Get completion candidates at a position"),
			mcp.WithString("root", mcp.Required(), mcp.Description("Project root directory")),
			mcp.WithString("filePath", mcp.Required(), mcp.Description("File path relative to root")),
			mcp.WithString("line", mcp.Required(), mcp.Description("One-based line number or a substring of the line")),
			mcp.WithNumber("character", mcp.Description("One-based column")),
			mcp.WithString("target", mcp.Description("Symbol text to locate on the line")),
		),
		Handler: s.handleGetCompletion,
	}
}

func (s *Server) getSignatureHelpTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("get_signature_help",
			mcp.WithDescription("Get signature help with the active parameter highlighted"),
			mcp.WithString("root", mcp.Required(), mcp.Description("Project root directory")),
			mcp.WithString("filePath", mcp.Required(), mcp.Description("File path relative to root")),
			mcp.WithString("line", mcp.Required(), mcp.Description("One-based line number or a substring of the line")),
			mcp.WithString("target", mcp.Description("Call text to locate on the line")),
		),
		Handler: s.handleGetSignatureHelp,
	}
}

func (s *Server) getCodeActionsTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("get_code_actions",
			mcp.WithDescription("List code actions available for a line range"),
			mcp.WithString("root", mcp.Required(), mcp.Description("Project root directory")),
			mcp.WithString("filePath", mcp.Required(), mcp.Description("File path relative to root")),
			mcp.WithNumber("startLine", mcp.Required(), mcp.Description("One-based start line")),
			mcp.WithNumber("endLine", mcp.Description("One-based end line (defaults to startLine)")),
		),
		Handler: s.handleGetCodeActions,
	}
}

func (s *Server) formatDocumentTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("format_document",
			mcp.WithDescription("Format a document and preview the changes"),
			mcp.WithString("root", mcp.Required(), mcp.Description("Project root directory")),
			mcp.WithString("filePath", mcp.Required(), mcp.Description("File path relative to root")),
			mcp.WithNumber("tabSize", mcp.Description("Indentation width (default 4)")),
			mcp.WithBoolean("insertSpaces", mcp.Description("Indent with spaces (default true)")),
			mcp.WithBoolean("apply", mcp.Description("Write the formatted result back to disk")),
		),
		Handler: s.handleFormatDocument,
	}
}

func (s *Server) formatRangeTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("format_range",
			mcp.WithDescription("Format a line range and preview the changes"),
			mcp.WithString("root", mcp.Required(), mcp.Description("Project root directory")),
			mcp.WithString("filePath", mcp.Required(), mcp.Description("File path relative to root")),
			mcp.WithNumber("startLine", mcp.Required(), mcp.Description("One-based start line")),
			mcp.WithNumber("endLine", mcp.Required(), mcp.Description("One-based end line")),
			mcp.WithNumber("tabSize", mcp.Description("Indentation width (default 4)")),
			mcp.WithBoolean("insertSpaces", mcp.Description("Indent with spaces (default true)")),
			mcp.WithBoolean("apply", mcp.Description("Write the formatted result back to disk")),
		),
		Handler: s.handleFormatRange,
	}
}

func (s *Server) searchSymbolsTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcp.NewTool("search_symbols",
			mcp.WithDescription("Search the persistent symbol index by name, kind, and container"),
			mcp.WithString("root", mcp.Description("Project root directory (defaults to the current directory)")),
			mcp.WithString("name", mcp.Description("Symbol name (exact, falling back to case-insensitive substring)")),
			mcp.WithString("kind", mcp.Description("Comma-separated kind filter, e.g. Class,Function")),
			mcp.WithString("containerName", mcp.Description("Containing symbol name")),
			mcp.WithString("file", mcp.Description("Restrict to one file (relative to root)")),
			mcp.WithBoolean("includeChildren", mcp.Description("Include nested symbols (default true)")),
			mcp.WithBoolean("includeExternal", mcp.Description("Include external-library symbols (default false)")),
			mcp.WithBoolean("onlyExternal", mcp.Description("Only external-library symbols")),
			mcp.WithString("sourceLibrary", mcp.Description("Restrict to one external library")),
		),
		Handler: s.handleSearchSymbols,
	}
}

func toolError(c errorContext, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(c.wrap(err))
}

func languageOf(relPath string) string {
	if lang, err := lsp.DetectLanguage(relPath); err == nil {
		return lang.ID
	}
	return ""
}
