package tools

import (
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/lsmcp/lsmcp/textbuf"
	"github.com/mark3labs/mcp-go/mcp"
	lsp "go.lsp.dev/protocol"
)

func stringArg(req mcp.CallToolRequest, name string) (string, error) {
	raw, ok := req.GetArguments()[name]
	if !ok {
		return "", &InvalidArgumentError{Argument: name, Reason: "required"}
	}

	value, ok := raw.(string)
	if !ok || len(value) == 0 {
		return "", &InvalidArgumentError{Argument: name, Reason: "must be a non-empty string"}
	}
	return value, nil
}

func optionalStringArg(req mcp.CallToolRequest, name string) string {
	value, _ := req.GetArguments()[name].(string)
	return value
}

func optionalBoolArg(req mcp.CallToolRequest, name string, fallback bool) bool {
	raw, ok := req.GetArguments()[name]
	if !ok {
		return fallback
	}
	value, ok := raw.(bool)
	if !ok {
		return fallback
	}
	return value
}

func optionalNumberArg(req mcp.CallToolRequest, name string) (int, bool) {
	raw, ok := req.GetArguments()[name]
	if !ok {
		return 0, false
	}
	value, ok := raw.(float64)
	if !ok {
		return 0, false
	}
	return int(value), true
}

func stringSliceArg(req mcp.CallToolRequest, name string) []string {
	raw, ok := req.GetArguments()[name].([]any)
	if !ok {
		return nil
	}

	values := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && len(s) != 0 {
			values = append(values, s)
		}
	}
	return values
}

// resolveLine resolves the tool protocol's line argument, which is either
// a one-based number or a substring selecting the first line containing
// it. The result is a zero-based line index.
func resolveLine(filePath string, content string, lineArg any) (int, error) {
	lines := textbuf.Lines(content)

	switch v := lineArg.(type) {
	case float64:
		line := int(v) - 1
		if line < 0 || line >= max(len(lines), 1) {
			return 0, &InvalidArgumentError{Argument: "line", Reason: "out of range"}
		}
		return line, nil
	case string:
		if len(v) == 0 {
			return 0, &InvalidArgumentError{Argument: "line", Reason: "must be a line number or a non-empty substring"}
		}
		for k, line := range lines {
			if strings.Contains(line, v) {
				return k, nil
			}
		}
		return 0, &LineNotFoundError{FilePath: filePath, Needle: v}
	case nil:
		return 0, &InvalidArgumentError{Argument: "line", Reason: "required"}
	default:
		return 0, &InvalidArgumentError{Argument: "line", Reason: "must be a number or a string"}
	}
}

func identifierTokens(line string) []string {
	var tokens []string
	start := -1
	for k, r := range line {
		isIdent := r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
		if isIdent && start < 0 {
			start = k
		} else if !isIdent && start >= 0 {
			tokens = append(tokens, line[start:k])
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, line[start:])
	}
	return tokens
}

// locateSymbol finds the target symbol on the resolved line by substring
// and returns its zero-based column. Misses come back with fuzzy-ranked
// suggestions drawn from the line's identifiers.
func locateSymbol(filePath string, content string, line int, symbol string) (lsp.Position, error) {
	lines := textbuf.Lines(content)
	if line < 0 || line >= len(lines) {
		return lsp.Position{}, &InvalidArgumentError{Argument: "line", Reason: "out of range"}
	}

	lineText := lines[line]
	column := strings.Index(lineText, symbol)
	if column < 0 {
		ranks := fuzzy.RankFindFold(symbol, identifierTokens(lineText))
		suggestions := make([]string, 0, len(ranks))
		for _, rank := range ranks {
			if len(suggestions) >= 3 {
				break
			}
			suggestions = append(suggestions, rank.Target)
		}

		return lsp.Position{}, &SymbolNotFoundOnLineError{
			FilePath:    filePath,
			Line:        line + 1,
			Symbol:      symbol,
			Suggestions: suggestions,
		}
	}

	return lsp.Position{
		Line:      uint32(line),
		Character: uint32(column),
	}, nil
}

// resolvePosition resolves a (line, character?/target?) argument pair into
// a zero-based position. An explicit one-based character wins; otherwise
// the target substring is located on the line; otherwise the position is
// the start of the line.
func resolvePosition(req mcp.CallToolRequest, filePath string, content string) (lsp.Position, error) {
	line, err := resolveLine(filePath, content, req.GetArguments()["line"])
	if err != nil {
		return lsp.Position{}, err
	}

	if character, ok := optionalNumberArg(req, "character"); ok {
		if character < 1 {
			return lsp.Position{}, &InvalidArgumentError{Argument: "character", Reason: "must be one-based"}
		}
		return lsp.Position{Line: uint32(line), Character: uint32(character - 1)}, nil
	}

	if target := optionalStringArg(req, "target"); len(target) != 0 {
		return locateSymbol(filePath, content, line, target)
	}

	return lsp.Position{Line: uint32(line)}, nil
}
