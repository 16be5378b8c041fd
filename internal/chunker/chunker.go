package chunker

import (
	"errors"
	"strings"
)

// DefaultSeparators orders cut points from larger semantic boundaries down to
// a hard character cut: paragraph, line, sentence, word.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

const (
	DefaultSize    = 1000
	DefaultOverlap = 100
)

var ErrBadOverlap = errors.New("chunker: overlap must be smaller than size")

// Splitter cuts text into segments of at most Size runes. The final Overlap
// runes of each segment are repeated at the start of the next one so that
// context survives the boundary.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		return nil, ErrBadOverlap
	}
	return &Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}, nil
}

// Split returns the chunk sequence for text. Empty input yields no chunks.
// Stripping the Overlap-rune prefix from every chunk after the first and
// concatenating reconstructs the input exactly.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= s.Size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + s.Size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		cut := s.cutPoint(runes, start, end)
		chunks = append(chunks, string(runes[start:cut]))
		start = cut - s.Overlap
	}
	return chunks
}

// cutPoint picks the rightmost separator boundary inside the window,
// preferring larger separators. It never cuts before the window midpoint so
// separator-dense text cannot degenerate into slivers; with no separator in
// range it falls back to a hard cut at end.
func (s *Splitter) cutPoint(runes []rune, start, end int) int {
	floor := start + s.Size/2
	if floor <= start+s.Overlap {
		floor = start + s.Overlap + 1
	}
	window := string(runes[floor:end])
	for _, sep := range s.Separators {
		if sep == "" {
			continue
		}
		if i := strings.LastIndex(window, sep); i >= 0 {
			// Cut after the separator so it stays with the left chunk.
			return floor + len([]rune(window[:i])) + len([]rune(sep))
		}
	}
	return end
}
