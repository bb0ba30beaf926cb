// Copyright 2026 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package chunking splits long inputs into overlapping character windows
// small enough for the encoder's sequence capacity.
package chunking

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
	"github.com/antflydb/gliner2/pkg/gliner2/lib/tokenizers"
)

// Config controls the text chunker.
type Config struct {
	// MaxChars is the window size in bytes. Must be at least 256.
	MaxChars int

	// OverlapChars is how far consecutive windows overlap.
	OverlapChars int

	// MaxWords is the word budget per chunk.
	MaxWords int
}

// DefaultConfig returns the chunker defaults.
func DefaultConfig() Config {
	return Config{
		MaxChars:     1600,
		OverlapChars: 200,
		MaxWords:     240,
	}
}

// TextChunk is a character-bounded slice of the original input together
// with its [Start, End) range in that input.
type TextChunk struct {
	Text  string
	Start int
	End   int
}

// TextChunker splits text into overlapping windows that respect a word
// budget, preferring newline then whitespace boundaries.
type TextChunker struct {
	cfg Config
}

// NewTextChunker validates the configuration and builds a chunker.
func NewTextChunker(cfg Config) (*TextChunker, error) {
	if cfg.MaxChars < 256 {
		return nil, errdefs.InvalidInputf("chunker max_chars %d below minimum 256", cfg.MaxChars)
	}
	if cfg.OverlapChars < 0 {
		return nil, errdefs.InvalidInputf("chunker overlap_chars must not be negative")
	}
	if cfg.MaxWords <= 0 {
		return nil, errdefs.InvalidInputf("chunker max_words must be positive")
	}
	return &TextChunker{cfg: cfg}, nil
}

// ShouldChunk reports whether text exceeds the per-chunk word budget.
func (c *TextChunker) ShouldChunk(text string) bool {
	return tokenizers.WordCount(text) > c.cfg.MaxWords
}

// Chunk partitions text into non-empty chunks. Each step picks a window of
// up to MaxChars, ends it at the last newline inside the window, otherwise
// the last whitespace, otherwise the hard boundary, trims surrounding
// whitespace, and shrinks further while the word budget is exceeded. The
// cursor then moves to End - OverlapChars, clamped so progress is always
// made. Chunking stops once a window reaches the end of the input.
func (c *TextChunker) Chunk(ctx context.Context, text string) ([]TextChunk, error) {
	var chunks []TextChunk

	cursor := 0
	for cursor < len(text) {
		if err := ctx.Err(); err != nil {
			return nil, errdefs.Cancelledf("chunking: %v", err)
		}

		end := cursor + c.cfg.MaxChars
		if end >= len(text) {
			end = len(text)
		} else {
			end = runeStart(text, end)
			window := text[cursor:end]
			if cut := strings.LastIndexByte(window, '\n'); cut > 0 {
				end = cursor + cut + 1
			} else if cut := lastSpace(window); cut > 0 {
				end = cursor + cut
			}
		}
		if end <= cursor {
			end = cursor + c.cfg.MaxChars
			if end > len(text) {
				end = len(text)
			}
		}

		start, trimmedEnd := trimRange(text, cursor, end)

		// Retreat to the previous whitespace until the word budget holds.
		for start < trimmedEnd && tokenizers.WordCount(text[start:trimmedEnd]) > c.cfg.MaxWords {
			cut := lastSpace(text[start:trimmedEnd])
			if cut <= 0 {
				break
			}
			end = start + cut
			start, trimmedEnd = trimRange(text, start, end)
		}

		if start < trimmedEnd {
			chunks = append(chunks, TextChunk{
				Text:  text[start:trimmedEnd],
				Start: start,
				End:   trimmedEnd,
			})
		}

		if end >= len(text) {
			break
		}
		next := end - c.cfg.OverlapChars
		if next <= cursor {
			next = end
		}
		cursor = next
	}

	return chunks, nil
}

// runeStart steps i back to the nearest rune boundary in s.
func runeStart(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// lastSpace returns the byte index of the last whitespace rune in s, or -1.
func lastSpace(s string) int {
	return strings.LastIndexFunc(s, unicode.IsSpace)
}

// trimRange narrows [start, end) so it excludes surrounding whitespace.
func trimRange(text string, start, end int) (int, int) {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return start, end
}
