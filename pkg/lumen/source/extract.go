// Package source turns a Lumen source unit — a raw ".lm" file or a
// ".lm.md" Markdown document — into the canonical buffer the lexer
// consumes, plus a mapping back to original file offsets for diagnostics.
package source

import (
	"fmt"
	"strings"
)

// Unit is a single compilation input.
type Unit struct {
	// Path is the originating file path, used only for diagnostics.
	Path string

	// Canonical is the extracted source the lexer tokenizes.
	Canonical string

	// LineMap maps each 1-based canonical line number to the 1-based
	// line number it came from in the original file. Lines that were
	// blanked out (non-lumen fences, prose) map to themselves, since
	// they are still present (as blank lines) at the same position.
	LineMap []int
}

// ExtractionError reports a fatal failure while assembling a Unit.
type ExtractionError struct {
	Path   string
	Line   int
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Reason)
}

// IsMarkdown reports whether path should be run through the fence
// extractor rather than treated as raw Lumen source.
func IsMarkdown(path string) bool {
	return strings.HasSuffix(path, ".lm.md") || strings.HasSuffix(path, ".lumen.md")
}

// Load builds a Unit from raw file bytes. For non-Markdown inputs the
// mapping is the identity; for Markdown inputs only fenced blocks tagged
// "lumen" contribute code, concatenated in document order, with every
// other line — including fences tagged with another language — replaced
// by a blank line so original line numbers are preserved.
func Load(path string, contents []byte) (*Unit, error) {
	text := string(contents)
	if !IsMarkdown(path) {
		lines := splitLines(text)
		lineMap := make([]int, len(lines))
		for i := range lines {
			lineMap[i] = i + 1
		}
		return &Unit{Path: path, Canonical: strings.Join(lines, "\n"), LineMap: lineMap}, nil
	}
	return extractMarkdown(path, text)
}

const fenceMarker = "```"

func extractMarkdown(path, text string) (*Unit, error) {
	lines := splitLines(text)
	out := make([]string, len(lines))
	lineMap := make([]int, len(lines))

	inFence := false
	fenceIndent := 0
	fenceIsLumen := false
	fenceStartLine := 0

	for i, line := range lines {
		lineNo := i + 1
		lineMap[i] = lineNo
		trimmed := strings.TrimLeft(line, " \t")
		indent := len(line) - len(trimmed)

		if !inFence {
			if strings.HasPrefix(trimmed, fenceMarker) {
				tag := strings.TrimSpace(strings.TrimPrefix(trimmed, fenceMarker))
				inFence = true
				fenceIndent = indent
				fenceIsLumen = tag == "lumen"
				fenceStartLine = lineNo
				out[i] = ""
				continue
			}
			out[i] = ""
			continue
		}

		// inside a fence: look for the closing marker at <= opening indent.
		if strings.HasPrefix(trimmed, fenceMarker) && indent <= fenceIndent {
			inFence = false
			out[i] = ""
			continue
		}

		if fenceIsLumen {
			out[i] = line
		} else {
			out[i] = ""
		}
	}

	if inFence {
		return nil, &ExtractionError{Path: path, Line: fenceStartLine, Reason: "unterminated fenced code block"}
	}

	return &Unit{Path: path, Canonical: strings.Join(out, "\n"), LineMap: lineMap}, nil
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if text == "" {
		return []string{""}
	}
	return strings.Split(text, "\n")
}

// OriginalLine translates a 1-based canonical line number back to the
// corresponding line in the original file.
func (u *Unit) OriginalLine(canonicalLine int) int {
	if canonicalLine < 1 || canonicalLine > len(u.LineMap) {
		return canonicalLine
	}
	return u.LineMap[canonicalLine-1]
}
