package index

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// Entry is one symbol in the index. Children are strictly nested: a
// child's range lies inside its parent's.
type Entry struct {
	Name           string         `json:"name"`
	Kind           lsp.SymbolKind `json:"kind"`
	Location       lsp.Location   `json:"location"`
	SelectionRange lsp.Range      `json:"selectionRange"`
	Container      string         `json:"container,omitempty"`
	Detail         string         `json:"detail,omitempty"`
	Deprecated     bool           `json:"deprecated,omitempty"`
	External       bool           `json:"external,omitempty"`
	SourceLibrary  string         `json:"sourceLibrary,omitempty"`
	Children       []*Entry       `json:"children,omitempty"`
}

// FileRecord is the indexed state of one document.
type FileRecord struct {
	URI     uri.URI   `json:"uri"`
	ModTime time.Time `json:"modTime"`
	Hash    string    `json:"hash"`
	Symbols []*Entry  `json:"symbols"`
}

var kindNames = map[lsp.SymbolKind]string{
	lsp.SymbolKindFile:          "File",
	lsp.SymbolKindModule:        "Module",
	lsp.SymbolKindNamespace:     "Namespace",
	lsp.SymbolKindPackage:       "Package",
	lsp.SymbolKindClass:         "Class",
	lsp.SymbolKindMethod:        "Method",
	lsp.SymbolKindProperty:      "Property",
	lsp.SymbolKindField:         "Field",
	lsp.SymbolKindConstructor:   "Constructor",
	lsp.SymbolKindEnum:          "Enum",
	lsp.SymbolKindInterface:     "Interface",
	lsp.SymbolKindFunction:      "Function",
	lsp.SymbolKindVariable:      "Variable",
	lsp.SymbolKindConstant:      "Constant",
	lsp.SymbolKindString:        "String",
	lsp.SymbolKindNumber:        "Number",
	lsp.SymbolKindBoolean:       "Boolean",
	lsp.SymbolKindArray:         "Array",
	lsp.SymbolKindObject:        "Object",
	lsp.SymbolKindKey:           "Key",
	lsp.SymbolKindNull:          "Null",
	lsp.SymbolKindEnumMember:    "EnumMember",
	lsp.SymbolKindStruct:        "Struct",
	lsp.SymbolKindEvent:         "Event",
	lsp.SymbolKindOperator:      "Operator",
	lsp.SymbolKindTypeParameter: "TypeParameter",
}

var kindsByName = func() map[string]lsp.SymbolKind {
	m := map[string]lsp.SymbolKind{}
	for kind, name := range kindNames {
		m[name] = kind
	}
	return m
}()

// KindName renders a symbol kind as its LSP name.
func KindName(kind lsp.SymbolKind) string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return "Unknown"
}

// ParseKind resolves a kind name (as produced by KindName) back to the
// symbol kind.
func ParseKind(name string) (lsp.SymbolKind, bool) {
	kind, ok := kindsByName[name]
	return kind, ok
}

// FromDocumentSymbols converts a hierarchical documentSymbol result into
// index entries, preserving nesting and deprecation flags. The container
// of a child is its parent's name.
func FromDocumentSymbols(docURI uri.URI, symbols []lsp.DocumentSymbol) []*Entry {
	return convertDocumentSymbols(docURI, symbols, "")
}

func convertDocumentSymbols(docURI uri.URI, symbols []lsp.DocumentSymbol, container string) []*Entry {
	entries := make([]*Entry, 0, len(symbols))
	for _, sym := range symbols {
		entry := &Entry{
			Name: sym.Name,
			Kind: sym.Kind,
			Location: lsp.Location{
				URI:   docURI,
				Range: sym.Range,
			},
			SelectionRange: sym.SelectionRange,
			Container:      container,
			Detail:         sym.Detail,
			Deprecated:     sym.Deprecated,
		}
		entry.Children = convertDocumentSymbols(docURI, sym.Children, sym.Name)
		entries = append(entries, entry)
	}
	return entries
}

// FromSymbolInformation converts a flat symbolInformation result.
func FromSymbolInformation(symbols []lsp.SymbolInformation) []*Entry {
	entries := make([]*Entry, 0, len(symbols))
	for _, sym := range symbols {
		entries = append(entries, &Entry{
			Name:           sym.Name,
			Kind:           sym.Kind,
			Location:       sym.Location,
			SelectionRange: sym.Location.Range,
			Container:      sym.ContainerName,
			Deprecated:     sym.Deprecated,
		})
	}
	return entries
}

// Walk visits every entry in the tree, parents before children.
func Walk(entries []*Entry, visit func(*Entry)) {
	for _, entry := range entries {
		visit(entry)
		Walk(entry.Children, visit)
	}
}

func markExternal(entries []*Entry, library string) {
	Walk(entries, func(e *Entry) {
		e.External = true
		e.SourceLibrary = library
	})
}

// ContentHash digests file contents for cache keying.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashFile hashes a file's current on-disk contents.
func HashFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return ContentHash(content), nil
}

func containsPosition(r lsp.Range, pos lsp.Position) bool {
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
