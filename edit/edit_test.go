package edit_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lsmcp/lsmcp/edit"
	"github.com/lsmcp/lsmcp/lsp"
	protocol "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

func textEdit(startLine, startChar, endLine, endChar uint32, newText string) lsp.TextEdit {
	return lsp.TextEdit{
		Range: protocol.Range{
			Start: protocol.Position{Line: startLine, Character: startChar},
			End:   protocol.Position{Line: endLine, Character: endChar},
		},
		NewText: newText,
	}
}

func TestApplyToContentSingleEdit(t *testing.T) {
	content := "export function greet(n: string){ return 'h'+n }"

	updated, changes := edit.ApplyToContent(content, []lsp.TextEdit{
		textEdit(0, 16, 0, 21, "hello"),
	})

	expected := "export function hello(n: string){ return 'h'+n }"
	if updated != expected {
		t.Fatalf("expected %q, got %q", expected, updated)
	}

	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	if changes[0].Line != 0 || changes[0].Column != 16 {
		t.Errorf("unexpected change position: %+v", changes[0])
	}
	if changes[0].Old != "greet" || changes[0].New != "hello" {
		t.Errorf("unexpected change texts: %+v", changes[0])
	}
}

func TestApplyToContentMultipleEditsKeepPositionsValid(t *testing.T) {
	// both edits are positioned against the original document; applying
	// end-to-start keeps the earlier offsets valid
	content := "greet();\ngreet();\n"

	updated, _ := edit.ApplyToContent(content, []lsp.TextEdit{
		textEdit(0, 0, 0, 5, "hello"),
		textEdit(1, 0, 1, 5, "hello"),
	})

	expected := "hello();\nhello();\n"
	if updated != expected {
		t.Fatalf("expected %q, got %q", expected, updated)
	}
}

func TestApplyToContentWholeLineDeletion(t *testing.T) {
	content := "keep\ndrop one\ndrop two\nkeep too\n"

	updated, _ := edit.ApplyToContent(content, []lsp.TextEdit{
		textEdit(1, 0, 3, 0, ""),
	})

	expected := "keep\nkeep too\n"
	if updated != expected {
		t.Fatalf("expected %q, got %q", expected, updated)
	}
}

func TestApplyWritesFiles(t *testing.T) {
	root := t.TempDir()
	aPath := filepath.Join(root, "a.ts")
	bPath := filepath.Join(root, "b.ts")

	if err := os.WriteFile(aPath, []byte("export function greet(n: string){ return 'h'+n }"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bPath, []byte("import {greet} from './a'; greet('w')"), 0644); err != nil {
		t.Fatal(err)
	}

	workspaceEdit := &lsp.WorkspaceEdit{
		Changes: map[string][]lsp.TextEdit{
			string(uri.File(aPath)): {
				textEdit(0, 16, 0, 21, "hello"),
			},
			string(uri.File(bPath)): {
				textEdit(0, 8, 0, 13, "hello"),
				textEdit(0, 27, 0, 32, "hello"),
			},
		},
	}

	changed, err := edit.Apply(workspaceEdit)
	if err != nil {
		t.Fatal(err)
	}

	if len(changed) != 2 {
		t.Fatalf("expected 2 changed files, got %d", len(changed))
	}

	occurrences := 0
	for _, file := range changed {
		occurrences += len(file.Changes)
	}
	if occurrences != 3 {
		t.Fatalf("expected 3 changed occurrences, got %d", occurrences)
	}

	aContent, err := os.ReadFile(aPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(aContent) != "export function hello(n: string){ return 'h'+n }" {
		t.Fatalf("unexpected a.ts content: %s", aContent)
	}

	bContent, err := os.ReadFile(bPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(bContent) != "import {hello} from './a'; hello('w')" {
		t.Fatalf("unexpected b.ts content: %s", bContent)
	}
}

func TestInverseRestoresContent(t *testing.T) {
	cases := []struct {
		name    string
		content string
		edits   []lsp.TextEdit
	}{
		{
			name:    "single replacement",
			content: "export function greet(n: string){ return 'h'+n }",
			edits:   []lsp.TextEdit{textEdit(0, 16, 0, 21, "hello")},
		},
		{
			name:    "multiple replacements",
			content: "greet();\ngreet();\ngreet();\n",
			edits: []lsp.TextEdit{
				textEdit(0, 0, 0, 5, "salutations"),
				textEdit(1, 0, 1, 5, "hi"),
				textEdit(2, 0, 2, 5, "hello"),
			},
		},
		{
			name:    "deletion",
			content: "keep\ndrop\nkeep\n",
			edits:   []lsp.TextEdit{textEdit(1, 0, 2, 0, "")},
		},
		{
			name:    "insertion",
			content: "first\nlast\n",
			edits:   []lsp.TextEdit{textEdit(1, 0, 1, 0, "middle\n")},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			updated, _ := edit.ApplyToContent(tc.content, tc.edits)

			inverse := edit.Inverse(tc.content, tc.edits)
			restored, _ := edit.ApplyToContent(updated, inverse)

			if restored != tc.content {
				t.Fatalf("expected the inverse to restore %q, got %q", tc.content, restored)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	original := "const a = 1;\nconst b = 2;\n"
	updated := "const a = 1;\nconst b = 3;\n"

	preview := edit.Preview(original, updated)

	if preview == "no changes" {
		t.Fatal("expected a diff")
	}
	for _, want := range []string{"- const b = 2;", "+ const b = 3;"} {
		if !strings.Contains(preview, want) {
			t.Errorf("expected preview to contain %q, got:\n%s", want, preview)
		}
	}

	if edit.Preview(original, original) != "no changes" {
		t.Error("expected no changes for identical content")
	}
}
