package tools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lsmcp/lsmcp/edit"
	"github.com/lsmcp/lsmcp/index"
	"github.com/lsmcp/lsmcp/lsp"
	protocol "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

func location(path string, line, character uint32) protocol.Location {
	return protocol.Location{
		URI: uri.File(path),
		Range: protocol.Range{
			Start: protocol.Position{Line: line, Character: character},
			End:   protocol.Position{Line: line, Character: character + 5},
		},
	}
}

func TestFormatReferences(t *testing.T) {
	root := t.TempDir()

	aPath := filepath.Join(root, "a.ts")
	bPath := filepath.Join(root, "b.ts")
	if err := os.WriteFile(aPath, []byte("// header\nexport function greet() {}\n// footer\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bPath, []byte("import {greet} from './a';\ngreet('w')\n"), 0644); err != nil {
		t.Fatal(err)
	}

	locations := []protocol.Location{
		location(aPath, 1, 16),
		location(bPath, 0, 8),
		location(bPath, 1, 0),
	}

	output := formatReferences(root, locations, os.ReadFile)

	if !strings.Contains(output, "3 reference/s") {
		t.Errorf("expected the reference count, got:\n%s", output)
	}

	// paths render relative to root, coordinates one-based
	if !strings.Contains(output, "a.ts:2:17") {
		t.Errorf("expected a.ts:2:17, got:\n%s", output)
	}
	if !strings.Contains(output, "b.ts:1:9") {
		t.Errorf("expected b.ts:1:9, got:\n%s", output)
	}

	// each occurrence carries its line plus surrounding lines when present
	for _, want := range []string{
		"> 2 | export function greet() {}",
		"  1 | // header",
		"  3 | // footer",
		"> 1 | import {greet} from './a';",
		"  2 | greet('w')",
	} {
		normalized := strings.ReplaceAll(output, "    ", " ")
		normalized = strings.ReplaceAll(normalized, "   ", " ")
		normalized = strings.ReplaceAll(normalized, "  ", " ")
		wantNormalized := strings.ReplaceAll(want, "  ", " ")
		if !strings.Contains(normalized, wantNormalized) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}

	// a reference in an unreadable file is skipped, not fatal
	withMissing := append(locations, location(filepath.Join(root, "gone.ts"), 0, 0))
	output = formatReferences(root, withMissing, os.ReadFile)
	if strings.Contains(output, "gone.ts") {
		t.Errorf("expected the unreadable file to be skipped, got:\n%s", output)
	}
}

func TestFormatDiagnosticsCounts(t *testing.T) {
	root := "/tmp/project"
	byFile := map[string][]protocol.Diagnostic{
		"/tmp/project/a.ts": {
			{
				Message:  "type mismatch",
				Severity: protocol.DiagnosticSeverityError,
				Range: protocol.Range{
					Start: protocol.Position{Line: 0, Character: 6},
					End:   protocol.Position{Line: 0, Character: 7},
				},
			},
			{
				Message:  "unused variable",
				Severity: protocol.DiagnosticSeverityWarning,
				Range: protocol.Range{
					Start: protocol.Position{Line: 2, Character: 0},
					End:   protocol.Position{Line: 2, Character: 1},
				},
			},
		},
	}

	output := FormatDiagnostics(root, byFile)

	if !strings.Contains(output, "a.ts: 2 diagnostic/s") {
		t.Errorf("expected the per-file count, got:\n%s", output)
	}
	if !strings.Contains(output, "1:7 error: type mismatch") {
		t.Errorf("expected one-based coordinates, got:\n%s", output)
	}
	if !strings.Contains(output, "1 error/s, 1 warning/s in 1 file/s") {
		t.Errorf("expected the totals, got:\n%s", output)
	}
}

func TestFormatSymbolTree(t *testing.T) {
	docURI := uri.File("/tmp/a.ts")
	entries := []*index.Entry{
		{
			Name:     "Greeter",
			Kind:     protocol.SymbolKindClass,
			Location: protocol.Location{URI: docURI},
			Children: []*index.Entry{
				{
					Name:       "hello",
					Kind:       protocol.SymbolKindMethod,
					Location:   protocol.Location{URI: docURI},
					Container:  "Greeter",
					Deprecated: true,
				},
			},
		},
	}

	output := formatSymbolTree(entries)

	if !strings.Contains(output, "Greeter [Class]") {
		t.Errorf("expected the class with its kind tag, got:\n%s", output)
	}
	if !strings.Contains(output, "  hello [Method] (deprecated)") {
		t.Errorf("expected the nested deprecated method, got:\n%s", output)
	}
}

func TestFormatSignatureHelp(t *testing.T) {
	help := &lsp.SignatureHelp{
		Signatures: []lsp.SignatureInformation{
			{
				Label: "greet(name: string, loud: boolean): string",
				Parameters: []lsp.ParameterInformation{
					{Label: []byte(`"name: string"`)},
					{Label: []byte(`"loud: boolean"`)},
				},
			},
		},
		ActiveParameter: 1,
	}

	output := formatSignatureHelp(help)

	if !strings.Contains(output, "greet(name: string, loud: boolean): string") {
		t.Errorf("expected the signature label, got:\n%s", output)
	}
	if !strings.Contains(output, "parameter 2 of 2: loud: boolean") {
		t.Errorf("expected the active parameter callout, got:\n%s", output)
	}
	if !strings.Contains(output, "^^^^^^^^^^^^^") {
		t.Errorf("expected the parameter to be underlined, got:\n%s", output)
	}
}

func TestFormatRenameResult(t *testing.T) {
	root := "/tmp/project"
	changed := []edit.FileChanges{
		{
			Path: "/tmp/project/a.ts",
			Changes: []edit.Change{
				{Line: 0, Column: 16, Old: "greet", New: "hello"},
			},
		},
		{
			Path: "/tmp/project/b.ts",
			Changes: []edit.Change{
				{Line: 0, Column: 8, Old: "greet", New: "hello"},
				{Line: 0, Column: 27, Old: "greet", New: "hello"},
			},
		},
	}

	output := formatRenameResult(root, "greet", "hello", changed)

	if !strings.Contains(output, `renamed "greet" → "hello": 3 occurrence/s in 2 file/s`) {
		t.Errorf("expected the summary line, got:\n%s", output)
	}
	for _, want := range []string{"a.ts", "b.ts", `"greet" → "hello"`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q, got:\n%s", want, output)
		}
	}
}

func TestFormatSearchResults(t *testing.T) {
	root := "/tmp/project"
	entries := []*index.Entry{
		{
			Name:     "greet",
			Kind:     protocol.SymbolKindFunction,
			Location: location("/tmp/project/a.ts", 5, 16),
		},
		{
			Name:          "parse",
			Kind:          protocol.SymbolKindFunction,
			Location:      location("/tmp/project/lib.ts", 0, 0),
			External:      true,
			SourceLibrary: "parser-kit",
		},
	}

	output := FormatSearchResults(root, entries)

	if !strings.Contains(output, "2 symbol/s") {
		t.Errorf("expected the count, got:\n%s", output)
	}
	if !strings.Contains(output, "greet [Function] — a.ts:6:17") {
		t.Errorf("expected the internal symbol line, got:\n%s", output)
	}
	if !strings.Contains(output, "(external: parser-kit)") {
		t.Errorf("expected the external tag, got:\n%s", output)
	}
}

func TestExpandPattern(t *testing.T) {
	root := t.TempDir()
	for _, relPath := range []string{"src/a.ts", "src/deep/b.ts", "src/deep/c.js", "top.ts"} {
		path := filepath.Join(root, relPath)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("// stub"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := ExpandPattern(root, "src/**/*.ts")
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{
		filepath.Join("src", "a.ts"):         true,
		filepath.Join("src", "deep", "b.ts"): true,
	}
	if len(matches) != len(want) {
		t.Fatalf("expected %d matches, got %v", len(want), matches)
	}
	for _, match := range matches {
		if !want[match] {
			t.Errorf("unexpected match %q", match)
		}
	}

	matches, err = ExpandPattern(root, "*.ts")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0] != "top.ts" {
		t.Fatalf("expected only top.ts, got %v", matches)
	}
}
