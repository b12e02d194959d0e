package chunking

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators is the boundary preference order: markdown headings,
// paragraphs, lines, sentences, words, then single characters.
var DefaultSeparators = []string{"\n## ", "\n### ", "\n\n", "\n", ". ", " ", ""}

// Splitter recursively splits text on an ordered list of separators so that
// every piece is at most ChunkSize characters, carrying trailing context of
// at least Overlap characters into the next piece when piece sizes allow.
// Lengths are counted in runes.
type Splitter struct {
	ChunkSize  int
	Overlap    int
	Separators []string
}

// NewSplitter validates the sizes and returns a Splitter using DefaultSeparators.
func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap %d must be in [0, %d)", overlap, chunkSize)
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap, Separators: DefaultSeparators}, nil
}

// Split returns the trimmed, non-empty pieces of text in document order.
func (s *Splitter) Split(text string) []string {
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return s.split(text, seps)
}

func (s *Splitter) split(text string, separators []string) []string {
	// Use the first separator present in text; the empty separator always is.
	sep := separators[len(separators)-1]
	var rest []string
	for i, c := range separators {
		if c == "" {
			sep = ""
			rest = nil
			break
		}
		if strings.Contains(text, c) {
			sep = c
			rest = separators[i+1:]
			break
		}
	}

	var out, small []string
	for _, piece := range splitKeep(text, sep) {
		if runeLen(piece) < s.ChunkSize {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			out = append(out, s.merge(small)...)
			small = nil
		}
		if len(rest) == 0 {
			out = append(out, s.slice(piece)...)
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(small) > 0 {
		out = append(out, s.merge(small)...)
	}
	return out
}

// merge packs consecutive small pieces into chunks no longer than ChunkSize.
// After emitting a chunk it keeps the shortest tail of pieces that still
// exceeds Overlap, dropping more only when the next piece would not fit.
func (s *Splitter) merge(pieces []string) []string {
	var docs, cur []string
	total := 0

	for _, p := range pieces {
		l := runeLen(p)
		if total+l > s.ChunkSize && len(cur) > 0 {
			if doc := strings.TrimSpace(strings.Join(cur, "")); doc != "" {
				docs = append(docs, doc)
			}
			for len(cur) > 0 {
				first := runeLen(cur[0])
				if s.Overlap > 0 && total-first <= s.Overlap && total+l <= s.ChunkSize {
					break
				}
				total -= first
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		total += l
	}

	if doc := strings.TrimSpace(strings.Join(cur, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// slice cuts text into fixed windows when no separator is left to try.
func (s *Splitter) slice(text string) []string {
	var out []string
	runes := []rune(text)
	step := s.ChunkSize - s.Overlap
	for start := 0; start < len(runes); start += step {
		end := min(start+s.ChunkSize, len(runes))
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// splitKeep splits text on sep, keeping sep at the start of each following
// piece so that joining the pieces restores the text.
func splitKeep(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
