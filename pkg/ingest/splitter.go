package ingest

import (
	"strings"
)

// CharacterSplitter splits text on a separator and greedily merges the
// pieces into chunks of at most Size characters. Consecutive chunks share up
// to Overlap characters of trailing pieces.
//
// A single piece longer than Size becomes its own oversized chunk rather than
// being cut mid-piece.
type CharacterSplitter struct {
	Size      int
	Overlap   int
	Separator string
}

// NewCharacterSplitter returns a splitter. A non-positive size means 1000
// and an out-of-range overlap means a fifth of the size.
func NewCharacterSplitter(size, overlap int, separator string) *CharacterSplitter {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	if separator == "" {
		separator = "\n"
	}
	return &CharacterSplitter{Size: size, Overlap: overlap, Separator: separator}
}

// Split returns the chunks of text in document order.
func (s *CharacterSplitter) Split(text string) []string {
	var pieces []string
	for _, p := range strings.Split(text, s.Separator) {
		if strings.TrimSpace(p) != "" {
			pieces = append(pieces, p)
		}
	}
	return s.merge(pieces)
}

func (s *CharacterSplitter) merge(pieces []string) []string {
	sepLen := len(s.Separator)

	var (
		chunks  []string
		current []string
		total   int
	)

	joinedLen := func(extra int) int {
		if len(current) == 0 {
			return extra
		}
		return total + sepLen + extra
	}

	for _, piece := range pieces {
		if len(current) > 0 && joinedLen(len(piece)) > s.Size {
			if chunk := strings.TrimSpace(strings.Join(current, s.Separator)); chunk != "" {
				chunks = append(chunks, chunk)
			}
			// Drop leading pieces until what remains fits the overlap window
			// and leaves room for the incoming piece.
			for len(current) > 0 && (total > s.Overlap || joinedLen(len(piece)) > s.Size) {
				total -= len(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		total = joinedLen(len(piece))
		current = append(current, piece)
	}

	if chunk := strings.TrimSpace(strings.Join(current, s.Separator)); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}
