package textbuf

import "strings"

// LineOffsets returns the byte offset of the start of every line in text.
// The result always has at least one element (offset 0).
func LineOffsets(text string) []int {
	offsets := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// OffsetAt converts a zero-based (line, character) pair into a byte offset
// within text. Positions past the end of a line clamp to the line end;
// lines past the last line clamp to the end of text.
func OffsetAt(text string, line, character int) int {
	offsets := LineOffsets(text)
	if line < 0 {
		return 0
	}
	if line >= len(offsets) {
		return len(text)
	}

	lineStart := offsets[line]
	lineEnd := len(text)
	if line+1 < len(offsets) {
		lineEnd = offsets[line+1] - 1 // exclude the newline
	}

	offset := lineStart + character
	if offset > lineEnd {
		offset = lineEnd
	}
	return offset
}

// Lines splits text into lines without their trailing newlines. A trailing
// newline does not produce a final empty line.
func Lines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
