package ingest

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 1000
	// DefaultOverlap is how many characters consecutive chunks share.
	DefaultOverlap = 200
)

// defaultSeparators is the split hierarchy, coarsest first. The empty string
// is the terminal fallback: a hard character window.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts a document into overlapping chunks. It prefers splitting on
// paragraph boundaries, then lines, then words, and only windows through raw
// characters when a single word exceeds the chunk size.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// NewSplitter creates a splitter. Non-positive arguments fall back to the
// defaults; overlap is clamped below chunkSize.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 2
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap, separators: defaultSeparators}
}

// Split cuts text into chunks of at most chunkSize characters.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep, rest := pickSeparator(text, separators)
	if sep == "" {
		return s.window(text)
	}

	var out []string
	var fitting []string
	for _, part := range strings.Split(text, sep) {
		if runeLen(part) < s.chunkSize {
			fitting = append(fitting, part)
			continue
		}
		// Oversized part: flush what fits, then descend a separator level.
		if len(fitting) > 0 {
			out = append(out, s.merge(fitting, sep)...)
			fitting = nil
		}
		out = append(out, s.split(part, rest)...)
	}
	if len(fitting) > 0 {
		out = append(out, s.merge(fitting, sep)...)
	}
	return out
}

// merge greedily packs parts into chunks of at most chunkSize characters,
// re-seeding each new chunk with the previous chunk's tail for overlap.
func (s *Splitter) merge(parts []string, sep string) []string {
	sepLen := runeLen(sep)

	var chunks []string
	var cur []string
	total := 0
	for _, part := range parts {
		partLen := runeLen(part)
		joinLen := 0
		if len(cur) > 0 {
			joinLen = sepLen
		}
		if total+joinLen+partLen > s.chunkSize && len(cur) > 0 {
			if doc := strings.TrimSpace(strings.Join(cur, sep)); doc != "" {
				chunks = append(chunks, doc)
			}
			// Drop from the front until the carried tail fits the overlap
			// and leaves room for the incoming part.
			for total > s.overlap || (total+sepLen+partLen > s.chunkSize && total > 0) {
				total -= runeLen(cur[0])
				if len(cur) > 1 {
					total -= sepLen
				}
				cur = cur[1:]
			}
		}
		if len(cur) > 0 {
			total += sepLen
		}
		cur = append(cur, part)
		total += partLen
	}
	if doc := strings.TrimSpace(strings.Join(cur, sep)); doc != "" {
		chunks = append(chunks, doc)
	}
	return chunks
}

// window is the terminal fallback: fixed-size character windows advancing by
// chunkSize-overlap.
func (s *Splitter) window(text string) []string {
	runes := []rune(text)
	step := s.chunkSize - s.overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

func pickSeparator(text string, separators []string) (string, []string) {
	for i, sep := range separators {
		if sep == "" {
			return "", nil
		}
		if strings.Contains(text, sep) {
			return sep, separators[i+1:]
		}
	}
	return "", nil
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
