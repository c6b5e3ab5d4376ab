package docstore

import "strings"

// Splitter cuts document text into chunks of roughly ChunkSize
// characters, preferring paragraph then sentence boundaries so a chunk
// reads as coherent prose. Overlap carries the tail of each chunk into
// the next one.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap}
}

func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var pieces []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= s.ChunkSize {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, splitSentences(para)...)
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		chunk := strings.TrimSpace(cur.String())
		cur.Reset()
		if chunk == "" {
			return
		}
		chunks = append(chunks, chunk)
		if s.Overlap > 0 && len(chunk) > s.Overlap {
			cur.WriteString(chunk[len(chunk)-s.Overlap:])
			cur.WriteByte(' ')
		}
	}

	for _, piece := range pieces {
		// Oversized single sentences get hard cuts.
		for len(piece) > s.ChunkSize {
			flush()
			chunks = append(chunks, strings.TrimSpace(piece[:s.ChunkSize]))
			piece = strings.TrimSpace(piece[s.ChunkSize:])
		}
		if piece == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(piece)+1 > s.ChunkSize {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(piece)
	}
	flush()
	return chunks
}

var sentenceEnders = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

func splitSentences(text string) []string {
	var out []string
	rest := text
	for rest != "" {
		best, bestEnd := -1, 0
		for _, end := range sentenceEnders {
			if idx := strings.Index(rest, end); idx >= 0 && (best < 0 || idx < best) {
				best, bestEnd = idx, len(end)
			}
		}
		if best < 0 {
			if tail := strings.TrimSpace(rest); tail != "" {
				out = append(out, tail)
			}
			break
		}
		if sentence := strings.TrimSpace(rest[:best+bestEnd]); sentence != "" {
			out = append(out, sentence)
		}
		rest = rest[best+bestEnd:]
	}
	return out
}
