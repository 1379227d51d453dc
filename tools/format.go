package tools

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lsmcp/lsmcp/edit"
	"github.com/lsmcp/lsmcp/index"
	"github.com/lsmcp/lsmcp/lsp"
	"github.com/lsmcp/lsmcp/textbuf"
	protocol "go.lsp.dev/protocol"
)

func relativeTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

// one-based rendering happens only here, at the tool boundary
func formatLocation(root string, loc protocol.Location) string {
	return fmt.Sprintf("%s:%d:%d",
		relativeTo(root, loc.URI.Filename()),
		loc.Range.Start.Line+1,
		loc.Range.Start.Character+1,
	)
}

func formatLocationList(root string, locations []protocol.Location) string {
	if len(locations) == 0 {
		return "no locations found"
	}

	var b strings.Builder
	for _, loc := range locations {
		b.WriteString(formatLocation(root, loc))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatReferences renders each occurrence with the line itself and the
// preceding and following source lines when they exist. Files that cannot
// be read (e.g. deleted mid-request) are skipped.
func formatReferences(root string, locations []protocol.Location, readFile func(string) ([]byte, error)) string {
	if len(locations) == 0 {
		return "no references found"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d reference/s\n\n", len(locations))

	for _, loc := range locations {
		path := loc.URI.Filename()
		content, err := readFile(path)
		if err != nil {
			continue
		}

		lines := textbuf.Lines(string(content))
		line := int(loc.Range.Start.Line)
		if line >= len(lines) {
			continue
		}

		fmt.Fprintf(&b, "%s\n", formatLocation(root, loc))
		for k := max(line-1, 0); k <= min(line+1, len(lines)-1); k++ {
			marker := " "
			if k == line {
				marker = ">"
			}
			fmt.Fprintf(&b, "%s %4d | %s\n", marker, k+1, lines[k])
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func severityName(severity protocol.DiagnosticSeverity) string {
	switch severity {
	case protocol.DiagnosticSeverityError:
		return "error"
	case protocol.DiagnosticSeverityWarning:
		return "warning"
	case protocol.DiagnosticSeverityInformation:
		return "information"
	case protocol.DiagnosticSeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

func FormatDiagnostics(root string, byFile map[string][]protocol.Diagnostic) string {
	paths := make([]string, 0, len(byFile))
	for path := range byFile {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	totalErrors, totalWarnings := 0, 0
	var b strings.Builder
	for _, path := range paths {
		diagnostics := byFile[path]
		fmt.Fprintf(&b, "%s: %d diagnostic/s\n", relativeTo(root, path), len(diagnostics))

		for _, diag := range diagnostics {
			switch diag.Severity {
			case protocol.DiagnosticSeverityError:
				totalErrors++
			case protocol.DiagnosticSeverityWarning:
				totalWarnings++
			}

			code := ""
			if diag.Code != nil {
				code = fmt.Sprintf(" [%v]", diag.Code)
			}
			fmt.Fprintf(&b, "  %d:%d %s%s: %s\n",
				diag.Range.Start.Line+1,
				diag.Range.Start.Character+1,
				severityName(diag.Severity),
				code,
				diag.Message,
			)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "%d error/s, %d warning/s in %d file/s", totalErrors, totalWarnings, len(byFile))
	return b.String()
}

func formatHover(hover *lsp.Hover) string {
	if hover == nil || len(hover.Contents) == 0 {
		return "no hover information"
	}
	return strings.TrimSpace(hover.Contents)
}

func formatSymbolTree(entries []*index.Entry) string {
	if len(entries) == 0 {
		return "no symbols found"
	}

	var b strings.Builder
	var render func(entries []*index.Entry, depth int)
	render = func(entries []*index.Entry, depth int) {
		for _, entry := range entries {
			deprecated := ""
			if entry.Deprecated {
				deprecated = " (deprecated)"
			}
			fmt.Fprintf(&b, "%s%s [%s]%s\n",
				strings.Repeat("  ", depth),
				entry.Name,
				index.KindName(entry.Kind),
				deprecated,
			)
			render(entry.Children, depth+1)
		}
	}
	render(entries, 0)
	return strings.TrimRight(b.String(), "\n")
}

func formatWorkspaceSymbols(root string, symbols []protocol.SymbolInformation) string {
	if len(symbols) == 0 {
		return "no symbols found"
	}

	byFile := map[string][]protocol.SymbolInformation{}
	paths := []string{}
	for _, sym := range symbols {
		path := sym.Location.URI.Filename()
		if _, seen := byFile[path]; !seen {
			paths = append(paths, path)
		}
		byFile[path] = append(byFile[path], sym)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, path := range paths {
		fmt.Fprintf(&b, "%s\n", relativeTo(root, path))
		for _, sym := range byFile[path] {
			fmt.Fprintf(&b, "  %s [%s] :%d\n",
				sym.Name,
				index.KindName(sym.Kind),
				sym.Location.Range.Start.Line+1,
			)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCompletions(items []protocol.CompletionItem) string {
	if len(items) == 0 {
		return "no completions"
	}

	var b strings.Builder
	for _, item := range items {
		if len(item.Detail) != 0 {
			fmt.Fprintf(&b, "%s — %s\n", item.Label, item.Detail)
		} else {
			fmt.Fprintf(&b, "%s\n", item.Label)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatSignatureHelp renders the active signature with an arrow pointing
// at the active parameter.
func formatSignatureHelp(help *lsp.SignatureHelp) string {
	if help == nil || len(help.Signatures) == 0 {
		return "no signature help"
	}

	active := help.ActiveSignature
	if active < 0 || active >= len(help.Signatures) {
		active = 0
	}
	signature := help.Signatures[active]

	var b strings.Builder
	b.WriteString(signature.Label)
	b.WriteString("\n")

	if len(signature.Parameters) > 0 {
		param := help.ActiveParameter
		if param < 0 || param >= len(signature.Parameters) {
			param = 0
		}

		label := signature.Parameters[param].LabelText(signature.Label)
		if offset := strings.Index(signature.Label, label); len(label) != 0 && offset >= 0 {
			b.WriteString(strings.Repeat(" ", offset))
			b.WriteString(strings.Repeat("^", len(label)))
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "→ parameter %d of %d: %s", param+1, len(signature.Parameters), label)
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatCodeActions(actions []lsp.CodeAction) string {
	if len(actions) == 0 {
		return "no code actions available"
	}

	var b strings.Builder
	for _, action := range actions {
		kind := ""
		if len(action.Kind) != 0 {
			kind = fmt.Sprintf(" [%s]", action.Kind)
		}
		preferred := ""
		if action.IsPreferred {
			preferred = " (preferred)"
		}
		fmt.Fprintf(&b, "%s%s%s\n", action.Title, kind, preferred)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRenameResult(root, oldName, newName string, changed []edit.FileChanges) string {
	occurrences := 0
	for _, file := range changed {
		occurrences += len(file.Changes)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "renamed %q → %q: %d occurrence/s in %d file/s\n",
		oldName, newName, occurrences, len(changed))
	for _, file := range changed {
		fmt.Fprintf(&b, "  %s\n", relativeTo(root, file.Path))
		for _, change := range file.Changes {
			fmt.Fprintf(&b, "    %d:%d %q → %q\n",
				change.Line+1, change.Column+1, change.Old, change.New)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func FormatSearchResults(root string, entries []*index.Entry) string {
	if len(entries) == 0 {
		return "no symbols found"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d symbol/s\n", len(entries))
	for _, entry := range entries {
		container := ""
		if len(entry.Container) != 0 {
			container = fmt.Sprintf(" in %s", entry.Container)
		}
		library := ""
		if entry.External {
			library = fmt.Sprintf(" (external: %s)", entry.SourceLibrary)
		}
		fmt.Fprintf(&b, "  %s [%s]%s%s — %s\n",
			entry.Name,
			index.KindName(entry.Kind),
			container,
			library,
			formatLocation(root, entry.Location),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}
