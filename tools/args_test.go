package tools

import (
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func requestWithArgs(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func TestResolveLineByNumber(t *testing.T) {
	content := "first\nsecond\nthird\n"

	line, err := resolveLine("a.ts", content, float64(2))
	if err != nil {
		t.Fatal(err)
	}
	if line != 1 {
		t.Fatalf("expected zero-based line 1 for one-based 2, got %d", line)
	}

	if _, err := resolveLine("a.ts", content, float64(0)); err == nil {
		t.Fatal("expected an error for line 0")
	}
	if _, err := resolveLine("a.ts", content, float64(4)); err == nil {
		t.Fatal("expected an error for a line past the end")
	}
}

func TestResolveLineBySubstring(t *testing.T) {
	content := "alpha\nbeta target\ngamma target\n"

	line, err := resolveLine("a.ts", content, "target")
	if err != nil {
		t.Fatal(err)
	}

	// ties go to the earliest line
	if line != 1 {
		t.Fatalf("expected the first matching line, got %d", line)
	}
}

func TestResolveLineSubstringNotFound(t *testing.T) {
	_, err := resolveLine("a.ts", "alpha\nbeta\n", "missing")

	var notFound *LineNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected a LineNotFoundError, got %v", err)
	}
	if notFound.Needle != "missing" {
		t.Errorf("unexpected needle: %q", notFound.Needle)
	}
}

func TestLocateSymbol(t *testing.T) {
	content := "export function greet(n: string){}\n"

	pos, err := locateSymbol("a.ts", content, 0, "greet")
	if err != nil {
		t.Fatal(err)
	}
	if pos.Line != 0 || pos.Character != 16 {
		t.Fatalf("expected position 0:16, got %d:%d", pos.Line, pos.Character)
	}
}

func TestLocateSymbolNotFound(t *testing.T) {
	content := "export function greet(n: string){}\n"

	_, err := locateSymbol("a.ts", content, 0, "gret")

	var notFound *SymbolNotFoundOnLineError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected a SymbolNotFoundOnLineError, got %v", err)
	}
	if notFound.Line != 1 {
		t.Errorf("expected the one-based line in the error, got %d", notFound.Line)
	}

	// "greet" is on the line and close to "gret"
	found := false
	for _, suggestion := range notFound.Suggestions {
		if suggestion == "greet" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %q among suggestions, got %v", "greet", notFound.Suggestions)
	}
}

func TestResolvePositionWithCharacter(t *testing.T) {
	req := requestWithArgs(map[string]any{
		"line":      float64(1),
		"character": float64(5),
	})

	pos, err := resolvePosition(req, "a.ts", "hello world\n")
	if err != nil {
		t.Fatal(err)
	}

	// one-based in, zero-based out
	if pos.Line != 0 || pos.Character != 4 {
		t.Fatalf("expected 0:4, got %d:%d", pos.Line, pos.Character)
	}
}

func TestResolvePositionWithTarget(t *testing.T) {
	req := requestWithArgs(map[string]any{
		"line":   "world",
		"target": "world",
	})

	pos, err := resolvePosition(req, "a.ts", "hello\nhello world\n")
	if err != nil {
		t.Fatal(err)
	}

	if pos.Line != 1 || pos.Character != 6 {
		t.Fatalf("expected 1:6, got %d:%d", pos.Line, pos.Character)
	}
}

func TestStringArgValidation(t *testing.T) {
	req := requestWithArgs(map[string]any{"root": ""})

	_, err := stringArg(req, "root")
	var invalid *InvalidArgumentError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected an InvalidArgumentError, got %v", err)
	}

	_, err = stringArg(req, "absent")
	if !errors.As(err, &invalid) {
		t.Fatalf("expected an InvalidArgumentError for a missing arg, got %v", err)
	}
}

func TestIdentifierTokens(t *testing.T) {
	tokens := identifierTokens("export function greet(n: string) {")

	expected := map[string]bool{"export": true, "function": true, "greet": true, "n": true, "string": true}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %v", len(expected), tokens)
	}
	for _, token := range tokens {
		if !expected[token] {
			t.Errorf("unexpected token %q", token)
		}
	}
}
