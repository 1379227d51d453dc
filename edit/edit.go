package edit

import (
	"fmt"
	"os"
	"sort"

	"github.com/lsmcp/lsmcp/lsp"
	"github.com/lsmcp/lsmcp/textbuf"
)

// Change is one applied replacement, positioned in the pre-edit document
// (zero-based).
type Change struct {
	Line   int
	Column int
	Old    string
	New    string
}

// FileChanges summarizes the edits applied to one file.
type FileChanges struct {
	Path    string
	Changes []Change
}

type offsetEdit struct {
	start int
	end   int
	text  string
}

func toOffsetEdits(content string, edits []lsp.TextEdit) []offsetEdit {
	converted := make([]offsetEdit, 0, len(edits))
	for _, e := range edits {
		start := textbuf.OffsetAt(content, int(e.Range.Start.Line), int(e.Range.Start.Character))
		end := textbuf.OffsetAt(content, int(e.Range.End.Line), int(e.Range.End.Character))
		if end < start {
			start, end = end, start
		}
		converted = append(converted, offsetEdit{start: start, end: end, text: e.NewText})
	}

	sort.SliceStable(converted, func(a, b int) bool {
		if converted[a].start != converted[b].start {
			return converted[a].start < converted[b].start
		}
		return converted[a].end < converted[b].end
	})
	return converted
}

// applyOffsets splices edits into content. Edits are given in ascending
// document order and applied end-to-start so earlier offsets stay valid.
func applyOffsets(content string, edits []offsetEdit) string {
	buf := textbuf.NewRope(content)
	for k := len(edits) - 1; k >= 0; k-- {
		buf.Splice(edits[k].start, edits[k].end, edits[k].text)
	}
	return buf.ToString()
}

// ApplyToContent applies edits to a document in memory, returning the new
// content and a change summary against the original.
func ApplyToContent(content string, edits []lsp.TextEdit) (string, []Change) {
	offsets := toOffsetEdits(content, edits)

	changes := make([]Change, 0, len(offsets))
	lineStarts := textbuf.LineOffsets(content)
	for _, e := range offsets {
		line, column := positionAt(lineStarts, e.start)
		changes = append(changes, Change{
			Line:   line,
			Column: column,
			Old:    content[e.start:e.end],
			New:    e.text,
		})
	}

	return applyOffsets(content, offsets), changes
}

func positionAt(lineStarts []int, offset int) (line, column int) {
	line = sort.Search(len(lineStarts), func(k int) bool {
		return lineStarts[k] > offset
	}) - 1
	if line < 0 {
		line = 0
	}
	return line, offset - lineStarts[line]
}

// Apply writes a workspace edit to disk: per file, edits are applied
// end-to-start, so every edit's positions refer to the original document.
// The returned summaries are ordered by file path.
func Apply(we *lsp.WorkspaceEdit) ([]FileChanges, error) {
	flattened := we.Flatten()

	paths := make([]string, 0, len(flattened))
	byPath := map[string][]lsp.TextEdit{}
	for docURI, edits := range flattened {
		if len(edits) == 0 {
			continue
		}
		path := docURI.Filename()
		byPath[path] = edits
		paths = append(paths, path)
	}
	sort.Strings(paths)

	results := make([]FileChanges, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return results, fmt.Errorf("failed to read %s: %w", path, err)
		}

		updated, changes := ApplyToContent(string(content), byPath[path])

		if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
			return results, fmt.Errorf("failed to write %s: %w", path, err)
		}

		results = append(results, FileChanges{Path: path, Changes: changes})
	}

	return results, nil
}

// Inverse computes the edits that undo edits against the original content.
// Applying edits and then the returned inverse restores the original
// byte-for-byte.
func Inverse(content string, edits []lsp.TextEdit) []lsp.TextEdit {
	offsets := toOffsetEdits(content, edits)
	updated := applyOffsets(content, offsets)
	updatedStarts := textbuf.LineOffsets(updated)

	inverse := make([]lsp.TextEdit, 0, len(offsets))
	delta := 0
	for _, e := range offsets {
		newStart := e.start + delta
		newEnd := newStart + len(e.text)
		delta += len(e.text) - (e.end - e.start)

		startLine, startCol := positionAt(updatedStarts, newStart)
		endLine, endCol := positionAt(updatedStarts, newEnd)

		inv := lsp.TextEdit{NewText: content[e.start:e.end]}
		inv.Range.Start.Line = uint32(startLine)
		inv.Range.Start.Character = uint32(startCol)
		inv.Range.End.Line = uint32(endLine)
		inv.Range.End.Character = uint32(endCol)
		inverse = append(inverse, inv)
	}

	return inverse
}
