package edit

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Preview renders a line-based diff between two versions of a document,
// with removed lines prefixed "-" and added lines prefixed "+".
func Preview(original, updated string) string {
	dmp := diffmatchpatch.New()
	lineText1, lineText2, lineArray := dmp.DiffLinesToChars(original, updated)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(lineText1, lineText2, false), lineArray)

	var b strings.Builder
	for _, diff := range diffs {
		prefix := "  "
		switch diff.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffEqual:
			continue
		}

		for _, line := range strings.Split(strings.TrimRight(diff.Text, "\n"), "\n") {
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if b.Len() == 0 {
		return "no changes"
	}
	return strings.TrimRight(b.String(), "\n")
}
