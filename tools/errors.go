package tools

import (
	"fmt"
	"strings"
)

// InvalidArgumentError marks a malformed tool call; it is produced before
// the pool is touched.
type InvalidArgumentError struct {
	Argument string
	Reason   string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Argument, e.Reason)
}

// LineNotFoundError means a line-selector substring matched no line.
type LineNotFoundError struct {
	FilePath string
	Needle   string
}

func (e *LineNotFoundError) Error() string {
	return fmt.Sprintf("no line containing %q found in %s", e.Needle, e.FilePath)
}

// SymbolNotFoundOnLineError means the target symbol does not occur on the
// resolved line. Suggestions list near-miss tokens from that line.
type SymbolNotFoundOnLineError struct {
	FilePath    string
	Line        int // one-based
	Symbol      string
	Suggestions []string
}

func (e *SymbolNotFoundOnLineError) Error() string {
	msg := fmt.Sprintf("symbol %q not found on line %d of %s", e.Symbol, e.Line, e.FilePath)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

// errorContext wraps a failure with the operation's identifying details
// before it is formatted for the caller.
type errorContext struct {
	Operation  string
	FilePath   string
	SymbolName string
	Language   string
}

func (c errorContext) wrap(err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", c.Operation)
	if len(c.FilePath) != 0 {
		fmt.Fprintf(&b, " for %s", c.FilePath)
	}
	if len(c.SymbolName) != 0 {
		fmt.Fprintf(&b, " (symbol %q)", c.SymbolName)
	}
	if len(c.Language) != 0 {
		fmt.Fprintf(&b, " [%s]", c.Language)
	}
	fmt.Fprintf(&b, ": %s", err.Error())
	return b.String()
}
