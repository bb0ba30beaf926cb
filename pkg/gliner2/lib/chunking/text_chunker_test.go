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

package chunking

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
	"github.com/antflydb/gliner2/pkg/gliner2/lib/tokenizers"
)

func newTestChunker(t *testing.T, cfg Config) *TextChunker {
	t.Helper()
	c, err := NewTextChunker(cfg)
	require.NoError(t, err)
	return c
}

func TestNewTextChunkerValidation(t *testing.T) {
	_, err := NewTextChunker(Config{MaxChars: 100, OverlapChars: 10, MaxWords: 50})
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)

	_, err = NewTextChunker(Config{MaxChars: 512, OverlapChars: -1, MaxWords: 50})
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)

	_, err = NewTextChunker(Config{MaxChars: 512, OverlapChars: 10, MaxWords: 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
}

func TestShouldChunk(t *testing.T) {
	c := newTestChunker(t, Config{MaxChars: 512, OverlapChars: 50, MaxWords: 4})

	assert.False(t, c.ShouldChunk("one two three four"))
	assert.True(t, c.ShouldChunk("one two three four five"))
	assert.False(t, c.ShouldChunk(""))
}

func TestChunkShortTextSingleChunk(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())

	chunks, err := c.Chunk(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 11, chunks[0].End)
}

func TestChunkLongTextProperties(t *testing.T) {
	cfg := Config{MaxChars: 1600, OverlapChars: 200, MaxWords: 240}
	c := newTestChunker(t, cfg)

	text := strings.Repeat("word ", 500)
	chunks, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	for i, chunk := range chunks {
		assert.NotEmpty(t, chunk.Text)
		assert.Equal(t, text[chunk.Start:chunk.End], chunk.Text)
		assert.LessOrEqual(t, tokenizers.WordCount(chunk.Text), cfg.MaxWords)

		if i > 0 {
			prev := chunks[i-1]
			overlap := prev.End - chunk.Start
			assert.LessOrEqual(t, overlap, cfg.OverlapChars)
			assert.Greater(t, chunk.Start, prev.Start, "chunker must make progress")
		}
	}

	// Together the chunk ranges cover all non-whitespace characters.
	covered := make([]bool, len(text))
	for _, chunk := range chunks {
		for i := chunk.Start; i < chunk.End; i++ {
			covered[i] = true
		}
	}
	for i, r := range text {
		if r != ' ' {
			assert.True(t, covered[i], "character %d not covered", i)
		}
	}
}

func TestChunkPrefersNewlineBoundary(t *testing.T) {
	cfg := Config{MaxChars: 300, OverlapChars: 0, MaxWords: 240}
	c := newTestChunker(t, cfg)

	para := strings.Repeat("alpha beta ", 20) // 220 chars
	text := para + "\n" + para + "\n" + para
	chunks, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	// The first window (300 chars) contains the newline at 220; the chunk
	// ends there rather than mid-word.
	assert.Equal(t, strings.TrimSpace(para), chunks[0].Text)
}

func TestChunkShrinksToWordBudget(t *testing.T) {
	cfg := Config{MaxChars: 2000, OverlapChars: 0, MaxWords: 10}
	c := newTestChunker(t, cfg)

	text := strings.Repeat("word ", 50)
	chunks, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, tokenizers.WordCount(chunk.Text), 10)
	}
}

func TestChunkCancellation(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Chunk(ctx, "hello world")
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrCancelled)
}

func TestChunkEmptyText(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())

	chunks, err := c.Chunk(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
