// Package document provides immutable text-document snapshots with
// position/offset conversion and edit application.
package document

import (
	"sort"
	"strings"
)

// Position is a zero-based line/column location. Col counts bytes within
// the line.
type Position struct {
	Line int
	Col  int
}

// Snapshot is an immutable view of a document at one version. Edits never
// mutate a snapshot in place; WithEdit returns a new one.
type Snapshot struct {
	uri         string
	languageID  string
	version     int
	text        string
	lineOffsets []int
}

// NewSnapshot creates a snapshot of the given document content.
func NewSnapshot(uri, languageID string, version int, text string) *Snapshot {
	return &Snapshot{
		uri:         uri,
		languageID:  languageID,
		version:     version,
		text:        text,
		lineOffsets: computeLineOffsets(text),
	}
}

func computeLineOffsets(text string) []int {
	offsets := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// URI returns the document identifier.
func (s *Snapshot) URI() string { return s.uri }

// LanguageID returns the editor's language identifier for the document.
func (s *Snapshot) LanguageID() string { return s.languageID }

// Version returns the document version.
func (s *Snapshot) Version() int { return s.version }

// Text returns the full document content.
func (s *Snapshot) Text() string { return s.text }

// LineCount returns the number of lines in the document.
func (s *Snapshot) LineCount() int { return len(s.lineOffsets) }

// OffsetAt converts a position to a byte offset, clamping to document bounds.
func (s *Snapshot) OffsetAt(pos Position) int {
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(s.lineOffsets) {
		return len(s.text)
	}
	off := s.lineOffsets[pos.Line] + pos.Col
	lineEnd := s.lineEnd(pos.Line)
	if off > lineEnd {
		off = lineEnd
	}
	if off < s.lineOffsets[pos.Line] {
		off = s.lineOffsets[pos.Line]
	}
	return off
}

// PositionAt converts a byte offset to a position, clamping to document bounds.
func (s *Snapshot) PositionAt(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(s.text) {
		offset = len(s.text)
	}
	line := sort.Search(len(s.lineOffsets), func(i int) bool {
		return s.lineOffsets[i] > offset
	}) - 1
	return Position{Line: line, Col: offset - s.lineOffsets[line]}
}

// lineEnd returns the offset just before the terminating newline of the line,
// or the end of the document for the last line.
func (s *Snapshot) lineEnd(line int) int {
	if line+1 < len(s.lineOffsets) {
		return s.lineOffsets[line+1] - 1
	}
	return len(s.text)
}

// Line returns the content of the given line without its newline.
func (s *Snapshot) Line(line int) string {
	if line < 0 || line >= len(s.lineOffsets) {
		return ""
	}
	return s.text[s.lineOffsets[line]:s.lineEnd(line)]
}

// Prefix returns all document text from the start up to the position.
func (s *Snapshot) Prefix(pos Position) string {
	return s.text[:s.OffsetAt(pos)]
}

// Suffix returns all document text from the position to the end.
func (s *Snapshot) Suffix(pos Position) string {
	return s.text[s.OffsetAt(pos):]
}

// RestOfLine returns the text from the position to the end of its line.
func (s *Snapshot) RestOfLine(pos Position) string {
	off := s.OffsetAt(pos)
	return s.text[off:s.lineEnd(pos.Line)]
}

// ValidCompletionPosition reports whether a completion may be requested at
// the position. Positions followed by non-whitespace on the same line are
// mid-line and invalid: a suggestion inserted there would split the text the
// user already wrote.
func (s *Snapshot) ValidCompletionPosition(pos Position) bool {
	if pos.Line < 0 || pos.Line >= len(s.lineOffsets) || pos.Col < 0 {
		return false
	}
	if s.lineOffsets[pos.Line]+pos.Col > s.lineEnd(pos.Line) {
		return false
	}
	return strings.TrimSpace(s.RestOfLine(pos)) == ""
}

// WithEdit returns a new snapshot with text[start:end] replaced by insert
// and the version bumped. Offsets are clamped to document bounds.
func (s *Snapshot) WithEdit(start, end int, insert string) *Snapshot {
	if start < 0 {
		start = 0
	}
	if end > len(s.text) {
		end = len(s.text)
	}
	if start > end {
		start, end = end, start
	}
	return NewSnapshot(s.uri, s.languageID, s.version+1, s.text[:start]+insert+s.text[end:])
}

// WithInsert returns a new snapshot with insert placed at the position.
func (s *Snapshot) WithInsert(pos Position, insert string) *Snapshot {
	off := s.OffsetAt(pos)
	return s.WithEdit(off, off, insert)
}
