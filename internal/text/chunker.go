// Package text splits extracted page and document text into bounded,
// overlapping chunks ready for embedding.
package text

import (
	"regexp"
	"strings"
)

type Chunk struct {
	Text     string
	Position int
}

// Splitter cuts text at paragraph and sentence boundaries into chunks of
// [MinChars, MaxChars], carrying roughly OverlapChars of trailing context
// into the next chunk. A sentence is only ever broken mid-way when it alone
// exceeds MaxChars.
type Splitter struct {
	MinChars     int
	MaxChars     int
	OverlapChars int

	sentenceRe *regexp.Regexp
}

func NewSplitter(minChars, maxChars, overlapChars int) *Splitter {
	if minChars <= 0 {
		minChars = 200
	}
	if maxChars <= minChars {
		maxChars = minChars * 6
	}
	if overlapChars < 0 || overlapChars >= maxChars {
		overlapChars = maxChars / 8
	}
	return &Splitter{
		MinChars:     minChars,
		MaxChars:     maxChars,
		OverlapChars: overlapChars,
		sentenceRe:   regexp.MustCompile(`(?U)([^.!?]+[.!?]+(?:\s|$))`),
	}
}

// Split returns ordered chunks with stable 0-based positions. Every chunk is
// at most MaxChars long.
func (s *Splitter) Split(text string) []Chunk {
	sentences := s.sentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(sentences) {
		end := start
		size := 0
		for end < len(sentences) {
			add := len(sentences[end])
			if size > 0 {
				add++ // joining space
			}
			if size+add > s.MaxChars {
				break
			}
			size += add
			end++
		}
		if end == start {
			// A single sentence above MaxChars has already been hard-split
			// in sentences(); this branch only guards against regression.
			end = start + 1
		}

		chunks = append(chunks, Chunk{
			Text:     strings.Join(sentences[start:end], " "),
			Position: len(chunks),
		})

		if end >= len(sentences) {
			break
		}
		start = s.overlapStart(sentences, start, end)
	}
	return chunks
}

// overlapStart walks back from the end of the previous chunk until roughly
// OverlapChars of text is repeated, always advancing past the previous start
// so the loop terminates.
func (s *Splitter) overlapStart(sentences []string, prevStart, prevEnd int) int {
	next := prevEnd
	carried := 0
	for next > prevStart+1 && carried < s.OverlapChars {
		if carried+len(sentences[next-1]) > s.OverlapChars {
			break
		}
		carried += len(sentences[next-1]) + 1
		next--
	}
	return next
}

// sentences flattens paragraphs into a list of sentence-sized units, none
// longer than MaxChars.
func (s *Splitter) sentences(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(normalizeSpace(para))
		if para == "" {
			continue
		}

		parts := s.sentenceRe.FindAllString(para, -1)
		if rest := strings.TrimSpace(s.sentenceRe.ReplaceAllString(para, "")); rest != "" {
			parts = append(parts, rest)
		}
		if len(parts) == 0 {
			parts = []string{para}
		}

		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			out = append(out, s.hardSplit(p)...)
		}
	}
	return out
}

// hardSplit slices an over-long sentence at word boundaries, falling back to
// raw rune windows for unbroken runs.
func (s *Splitter) hardSplit(sentence string) []string {
	if len(sentence) <= s.MaxChars {
		return []string{sentence}
	}

	var out []string
	var cur strings.Builder
	for _, word := range strings.Fields(sentence) {
		for len(word) > s.MaxChars {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			runes := []rune(word)
			cut := s.MaxChars
			if cut > len(runes) {
				cut = len(runes)
			}
			out = append(out, string(runes[:cut]))
			word = string(runes[cut:])
		}
		if word == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+1+len(word) > s.MaxChars {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

var spaceRe = regexp.MustCompile(`[ \t\r\f]+`)

func normalizeSpace(s string) string {
	return spaceRe.ReplaceAllString(strings.ReplaceAll(s, "\n", " "), " ")
}
