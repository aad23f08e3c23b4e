package chunker

import (
	"strings"
	"unicode/utf8"
)

// Default segmentation parameters, sized for embedding input limits.
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// Splitter segments text into overlapping chunks, preferring natural
// boundaries: paragraph first, then line, sentence, word, and finally
// individual characters. A chunk only exceeds the target size when a
// single unsplittable unit is longer than the target itself.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// New creates a Splitter with the given target chunk size (in characters)
// and overlap between consecutive chunks. Non-positive or inconsistent
// values fall back to the defaults.
func New(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
		if overlap >= chunkSize {
			overlap = chunkSize / 5
		}
	}
	return &Splitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: []string{"\n\n", "\n", ". ", " ", ""},
	}
}

// Split returns the ordered chunk sequence for text. Empty or whitespace-only
// input yields an empty result, not an error.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

// split recursively segments text using the first separator present in it,
// descending to finer separators for pieces still over the target size.
func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, cand := range separators {
		if cand == "" || strings.Contains(text, cand) {
			sep = cand
			rest = separators[i+1:]
			break
		}
	}

	var chunks []string
	var pending []string
	for _, piece := range splitWithSep(text, sep) {
		if piece == "" {
			continue
		}
		if runeLen(piece) < s.chunkSize {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			chunks = append(chunks, s.merge(pending, sep)...)
			pending = nil
		}
		if len(rest) == 0 {
			// Atomic unit longer than the target size; kept whole.
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.split(piece, rest)...)
		}
	}
	if len(pending) > 0 {
		chunks = append(chunks, s.merge(pending, sep)...)
	}
	return chunks
}

// merge greedily joins consecutive pieces into chunks up to the target size,
// carrying a tail of up to overlap characters into the next chunk.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)

	var docs []string
	var current []string
	total := 0

	joinLen := func(next int) int {
		l := total + next
		if len(current) > 0 {
			l += sepLen
		}
		return l
	}

	for _, p := range pieces {
		l := runeLen(p)
		if joinLen(l) > s.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
				docs = append(docs, doc)
			}
			// Shed leading pieces until the retained tail fits the overlap
			// budget and leaves room for the next piece.
			for total > s.overlap || (joinLen(l) > s.chunkSize && total > 0) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, p)
		total += l
	}

	if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitWithSep splits text by sep; the empty separator splits into
// individual characters so a chunk boundary never lands mid-rune.
func splitWithSep(text, sep string) []string {
	if sep == "" {
		runes := []rune(text)
		out := make([]string, len(runes))
		for i, r := range runes {
			out[i] = string(r)
		}
		return out
	}
	return strings.Split(text, sep)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
