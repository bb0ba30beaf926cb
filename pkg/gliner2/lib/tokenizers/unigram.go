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

// Package tokenizers implements the SentencePiece Unigram tokenizer used by
// GLiNER2 models, together with the prompt and schema formatters that feed
// the inference pipeline.
package tokenizers

import (
	"math"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// spaceMarker is the SentencePiece whitespace continuation marker U+2581.
const spaceMarker = '▁'

// Token is a single subword piece.
type Token struct {
	// ID is the vocabulary index of the piece.
	ID int
	// Surface is the piece text as it appears in the vocabulary.
	Surface string
}

// vocabEntry is one Unigram vocabulary row.
type vocabEntry struct {
	surface string
	score   float64
}

// Tokenizer is a SentencePiece Unigram model with Viterbi decoding and a
// special-token registry. The loaded vocabulary is immutable; only the
// registry mutates after load, guarded by mu.
type Tokenizer struct {
	entries     []vocabEntry
	lookup      map[string]int // surface → id
	maxPieceLen int            // longest piece, in runes
	unkID       int
	maxLength   int

	mu       sync.RWMutex
	specials map[string]int // surface → id

	scratch sync.Pool
}

// viterbiScratch holds the per-call lattice buffers. Instances are pooled
// and reused across calls to reduce allocator pressure; they are never
// shared between goroutines.
type viterbiScratch struct {
	runes     []rune
	scores    []float64
	backPiece []int // piece id chosen at this end position, -1 for none
	backLen   []int // rune length of that piece
}

// MaxLength returns the tokenizer's maximum sequence length.
func (t *Tokenizer) MaxLength() int { return t.maxLength }

// VocabSize returns the number of vocabulary pieces.
func (t *Tokenizer) VocabSize() int { return len(t.entries) }

// RegisterSpecial registers a special token surface with a fixed vocabulary
// ID. Special tokens are emitted verbatim by the schema formatter and are
// never re-tokenized into subwords.
func (t *Tokenizer) RegisterSpecial(surface string, id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.specials[surface] = id
}

// SpecialID returns the registered ID for a special token surface.
func (t *Tokenizer) SpecialID(surface string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.specials[surface]
	return id, ok
}

// Normalize applies the SentencePiece input normalisation: trim, NFKC,
// whitespace collapsing, a leading space, and the U+2581 space marker.
func (t *Tokenizer) Normalize(text string) string {
	text = strings.TrimSpace(text)
	text = norm.NFKC.String(text)

	var sb strings.Builder
	sb.Grow(len(text) + 4)
	inSpace := false
	for _, r := range text {
		if r == '\uFEFF' {
			// Treat the BOM as whitespace so it collapses away.
			r = ' '
		}
		if unicode.IsSpace(r) {
			if !inSpace {
				sb.WriteByte(' ')
			}
			inSpace = true
			continue
		}
		inSpace = false
		sb.WriteRune(r)
	}
	out := sb.String()
	if out != "" && !strings.HasPrefix(out, " ") {
		out = " " + out
	}
	return strings.ReplaceAll(out, " ", string(spaceMarker))
}

// Tokenize segments text into subword pieces using Viterbi decoding over
// the Unigram lattice. The input is normalised first.
func (t *Tokenizer) Tokenize(text string) []Token {
	normalized := t.Normalize(text)
	if normalized == "" {
		return nil
	}
	return t.tokenizeNormalized(normalized)
}

func (t *Tokenizer) tokenizeNormalized(s string) []Token {
	sc := t.scratch.Get().(*viterbiScratch)
	defer t.scratch.Put(sc)

	sc.runes = append(sc.runes[:0], []rune(s)...)
	n := len(sc.runes)
	sc.grow(n + 1)

	negInf := math.Inf(-1)
	sc.scores[0] = 0
	for i := 1; i <= n; i++ {
		sc.scores[i] = negInf
		sc.backPiece[i] = -1
		sc.backLen[i] = 0
	}

	unkScore := t.unkScore()

	for i := 0; i < n; i++ {
		if math.IsInf(sc.scores[i], -1) {
			continue
		}
		matched := false
		limit := t.maxPieceLen
		if n-i < limit {
			limit = n - i
		}
		for size := 1; size <= limit; size++ {
			sub := string(sc.runes[i : i+size])
			id, ok := t.lookup[sub]
			if !ok {
				continue
			}
			matched = true
			cand := sc.scores[i] + t.entries[id].score
			if cand > sc.scores[i+size] {
				sc.scores[i+size] = cand
				sc.backPiece[i+size] = id
				sc.backLen[i+size] = size
			}
		}
		if !matched {
			// No vocabulary piece starts here: lattice falls back to a
			// single-character unknown so every position stays reachable.
			cand := sc.scores[i] + unkScore
			if cand > sc.scores[i+1] {
				sc.scores[i+1] = cand
				sc.backPiece[i+1] = -2 // unk sentinel
				sc.backLen[i+1] = 1
			}
		}
	}

	// Back-track from the end. Positions with no back-pointer emit a
	// one-character unknown.
	var out []Token
	for j := n; j > 0; {
		pieceID := sc.backPiece[j]
		length := sc.backLen[j]
		if length == 0 {
			pieceID = -2
			length = 1
		}
		start := j - length
		if pieceID == -2 {
			out = append(out, Token{ID: t.unkID, Surface: string(sc.runes[start:j])})
		} else {
			out = append(out, Token{ID: pieceID, Surface: t.entries[pieceID].surface})
		}
		j = start
	}

	// Reverse into document order.
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

func (t *Tokenizer) unkScore() float64 {
	if t.unkID >= 0 && t.unkID < len(t.entries) {
		return t.entries[t.unkID].score - 10
	}
	return -20
}

func (sc *viterbiScratch) grow(n int) {
	if cap(sc.scores) < n {
		sc.scores = make([]float64, n)
		sc.backPiece = make([]int, n)
		sc.backLen = make([]int, n)
		return
	}
	sc.scores = sc.scores[:n]
	sc.backPiece = sc.backPiece[:n]
	sc.backLen = sc.backLen[:n]
}

// Decode reconstructs text from token IDs, mapping the space marker back to
// ASCII spaces. Unknown IDs are skipped.
func (t *Tokenizer) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(t.entries) {
			continue
		}
		sb.WriteString(t.entries[id].surface)
	}
	return strings.TrimPrefix(strings.ReplaceAll(sb.String(), string(spaceMarker), " "), " ")
}
