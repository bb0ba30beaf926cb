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

package gliner2

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/backends"
	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
)

const (
	testHidden    = 4 // 3 label channels + 1 bias channel
	testMaxSeqLen = 384
	testMaxSchema = 16
	testMaxWidth  = 8
	testMaxCount  = 6
)

// desiredSpan marks a (startWord, endWord) pair the fake span head should
// light up. gain controls the resulting sigmoid: score = sigmoid(6*gain-6).
type desiredSpan struct {
	label int
	gain  float32
}

// fakeBackend scripts the five modules so the full pipeline produces
// predetermined spans. The span head writes gain*e_label + e_bias for
// desired spans and e_bias elsewhere; the count-embed head yields label
// rows 6*e_label - 6*e_bias, so desired dots are 6*gain-6 and everything
// else sits at -6 (sigmoid ~0.0025).
type fakeBackend struct {
	numLabels int
	desired   map[[2]int32]desiredSpan
	zeroCount bool
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Compile(path string) (backends.Session, error) {
	kind := strings.TrimSuffix(filepath.Base(path), ".bin")
	return &fakeSession{backend: b, kind: kind}, nil
}

type fakeSession struct {
	backend *fakeBackend
	kind    string
}

func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) Predict(_ context.Context, inputs map[string]backends.Tensor) (map[string]backends.Tensor, error) {
	b := s.backend
	switch s.kind {
	case "encoder":
		seqLen := int(inputs["input_ids"].Shape[1])
		return map[string]backends.Tensor{
			"hidden_states": backends.Float32s(
				[]int64{1, int64(seqLen), testHidden},
				make([]float32, seqLen*testHidden)),
		}, nil

	case "span_rep":
		spans, err := inputs["span_indices"].Ints()
		if err != nil {
			return nil, err
		}
		seqLen := int(inputs["token_embeddings"].Shape[1])
		data := make([]float32, seqLen*testMaxWidth*testHidden)
		for i := 0; i < seqLen*testMaxWidth; i++ {
			row := data[i*testHidden : (i+1)*testHidden]
			row[testHidden-1] = 1
			key := [2]int32{spans[i*2], spans[i*2+1]}
			if d, ok := b.desired[key]; ok {
				row[d.label] = d.gain
			}
		}
		return map[string]backends.Tensor{
			"span_rep": backends.Float32s(
				[]int64{1, int64(seqLen), testMaxWidth, testHidden}, data),
		}, nil

	case "classifier":
		rows := int(inputs["schema_embeddings"].Shape[0])
		return map[string]backends.Tensor{
			"logits": backends.Float32s([]int64{int64(rows), 1}, make([]float32, rows)),
		}, nil

	case "count_predictor":
		logits := make([]float32, testMaxCount+1)
		if b.zeroCount {
			logits[0] = 10
		} else {
			logits[1] = 10
		}
		return map[string]backends.Tensor{
			"count_logits": backends.Float32s([]int64{1, testMaxCount + 1}, logits),
		}, nil

	case "count_embed":
		capacity := int(inputs["label_embeddings"].Shape[0])
		data := make([]float32, testMaxCount*capacity*testHidden)
		for l := 0; l < b.numLabels; l++ {
			row := data[l*testHidden : (l+1)*testHidden] // instance 0
			row[l] = 6
			row[testHidden-1] = -6
		}
		return map[string]backends.Tensor{
			"structure_embeddings": backends.Float32s(
				[]int64{testMaxCount, int64(capacity), testHidden}, data),
		}, nil

	default:
		return nil, fmt.Errorf("unexpected module %q", s.kind)
	}
}

// testVocabWords are the whole-word pieces the fixture tokenizer knows.
var testVocabWords = []string{
	"acme", "corp", "hired", "jane", "doe", "in", "paris",
	"john", "smith", "works", "at", "apple",
	"person", "company", "location", "organization", "entities",
}

// writeModelBundle writes a complete fake export bundle and returns the
// manifest path.
func writeModelBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	for _, name := range []string{"encoder.bin", "span_rep.bin", "classifier.bin", "count_predictor.bin", "count_embed.bin"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	tokDir := filepath.Join(dir, "tokenizer")
	require.NoError(t, os.MkdirAll(tokDir, 0o755))

	vocab := [][2]any{
		{"<unk>", -10.0},
		{"▁", -4.0},
	}
	for _, w := range testVocabWords {
		vocab = append(vocab, [2]any{"▁" + w, -1.0})
	}
	for c := 'a'; c <= 'z'; c++ {
		vocab = append(vocab, [2]any{string(c), -5.0})
	}
	for _, c := range []string{".", ",", "(", ")", "-", "_"} {
		vocab = append(vocab, [2]any{c, -5.0})
	}
	tokDoc := map[string]any{
		"model": map[string]any{"type": "unigram", "unk_id": 0, "vocab": vocab},
		"added_tokens": []map[string]any{
			{"id": 0, "content": "[UNK]", "special": true},
			{"id": 1000, "content": "[PAD]", "special": true},
			{"id": 1001, "content": "[CLS]", "special": true},
			{"id": 1002, "content": "[SEP]", "special": true},
		},
	}
	tokData, err := json.Marshal(tokDoc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(tokDir, "tokenizer.json"), tokData, 0o644))

	metaDoc := map[string]any{
		"hidden_size":       testHidden,
		"max_width":         testMaxWidth,
		"class_token_index": 57,
		"ent_token":         "[E]",
		"sep_token":         "[SEP_STRUCT]",
		"special_tokens": map[string]any{
			"prompt_token": "[P]", "prompt_token_index": 1010,
			"ent_token_index": 57, "sep_token_index": 1013,
			"text_token": "[SEP_TEXT]", "text_token_index": 1012,
			"cls_token_index": 1001, "base_sep_token_index": 1002,
			"unk_token_index": 0, "pad_token_index": 1000, "mask_token_index": 1003,
		},
	}
	metaData, err := json.Marshal(metaDoc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), metaData, 0o644))

	manifestDoc := map[string]any{
		"model_id":          "fastino/gliner2-base-v1",
		"max_seq_len":       testMaxSeqLen,
		"max_schema_tokens": testMaxSchema,
		"max_width":         testMaxWidth,
		"hidden_size":       testHidden,
		"counting_layer":    "transformer",
		"max_count":         testMaxCount,
		"precision":         "fp32",
		"artifacts": map[string]any{
			"encoder":         "encoder.bin",
			"span_rep":        "span_rep.bin",
			"classifier":      "classifier.bin",
			"count_predictor": "count_predictor.bin",
			"count_embed":     "count_embed.bin",
		},
		"tokenizer_dir": "tokenizer",
	}
	manifestData, err := json.Marshal(manifestDoc)
	require.NoError(t, err)
	path := filepath.Join(dir, "export_manifest.json")
	require.NoError(t, os.WriteFile(path, manifestData, 0o644))
	return path
}

func newTestRecognizer(t *testing.T, backend *fakeBackend) *Recognizer {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxSequenceLength = testMaxSeqLen
	cfg.Backend = backend
	cfg.Logger = zaptest.NewLogger(t)

	r, err := New(writeModelBundle(t), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
	})
	return r
}

func assertEntityInvariants(t *testing.T, text string, labels []string, threshold float32, entities []Entity) {
	t.Helper()
	for i, e := range entities {
		assert.GreaterOrEqual(t, e.Start, 0)
		assert.Less(t, e.Start, e.End)
		assert.LessOrEqual(t, e.End, len(text))
		assert.Equal(t, text[e.Start:e.End], e.Text)
		assert.Contains(t, labels, e.Label)
		assert.GreaterOrEqual(t, e.Score, threshold)
		assert.LessOrEqual(t, e.Score, float32(1))
		if i > 0 {
			assert.GreaterOrEqual(t, e.Start, entities[i-1].Start, "entities out of order")
		}
		for j := 0; j < i; j++ {
			other := entities[j]
			if other.Label == e.Label {
				assert.False(t, e.Start < other.End && other.Start < e.End,
					"overlapping entities with the same label: %v and %v", other, e)
			}
		}
	}
}

func TestExtractEntitiesEmptyText(t *testing.T) {
	r := newTestRecognizer(t, &fakeBackend{numLabels: 1})

	entities, err := r.ExtractEntities(context.Background(), "", []string{"person"})
	require.NoError(t, err)
	assert.NotNil(t, entities)
	assert.Empty(t, entities)
}

func TestExtractEntitiesEmptyLabels(t *testing.T) {
	r := newTestRecognizer(t, &fakeBackend{numLabels: 1})

	entities, err := r.ExtractEntities(context.Background(), "John Smith works at Apple.", nil)
	require.NoError(t, err)
	assert.NotNil(t, entities)
	assert.Empty(t, entities)
}

func TestExtractEntitiesThreeLabels(t *testing.T) {
	// Words: ACME(0) Corp(1) hired(2) Jane(3) Doe(4) in(5) Paris(6) .(7)
	backend := &fakeBackend{
		numLabels: 3,
		desired: map[[2]int32]desiredSpan{
			{0, 1}: {label: 0, gain: 2}, // "ACME Corp" company
			{3, 4}: {label: 1, gain: 2}, // "Jane Doe" person
			{6, 6}: {label: 2, gain: 2}, // "Paris" location
		},
	}
	r := newTestRecognizer(t, backend)

	text := "ACME Corp hired Jane Doe in Paris."
	labels := []string{"company", "person", "location"}

	entities, err := r.ExtractEntities(context.Background(), text, labels, WithThreshold(0.5))
	require.NoError(t, err)
	require.Len(t, entities, 3)

	assert.Equal(t, "ACME Corp", entities[0].Text)
	assert.Equal(t, "company", entities[0].Label)
	assert.Equal(t, strings.Index(text, "ACME Corp"), entities[0].Start)

	assert.Equal(t, "Jane Doe", entities[1].Text)
	assert.Equal(t, "person", entities[1].Label)
	assert.Equal(t, strings.Index(text, "Jane Doe"), entities[1].Start)

	assert.Equal(t, "Paris", entities[2].Text)
	assert.Equal(t, "location", entities[2].Label)
	assert.Equal(t, strings.Index(text, "Paris"), entities[2].Start)

	assertEntityInvariants(t, text, labels, 0.5, entities)
}

func TestExtractEntitiesHighThreshold(t *testing.T) {
	// Weak spans: sigmoid(6*4/3-6) = sigmoid(2) ~ 0.88, below 0.99.
	backend := &fakeBackend{
		numLabels: 2,
		desired: map[[2]int32]desiredSpan{
			{0, 1}: {label: 0, gain: 4.0 / 3.0}, // "John Smith" person
			{4, 4}: {label: 1, gain: 4.0 / 3.0}, // "Apple" organization
		},
	}
	r := newTestRecognizer(t, backend)

	text := "John Smith works at Apple."
	labels := []string{"person", "organization"}

	entities, err := r.ExtractEntities(context.Background(), text, labels, WithThreshold(0.99))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entities), 2)

	entities, err = r.ExtractEntities(context.Background(), text, labels, WithThreshold(0.5))
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "John Smith", entities[0].Text)
	assert.Equal(t, "Apple", entities[1].Text)
}

func TestExtractEntitiesThresholdMonotonic(t *testing.T) {
	backend := &fakeBackend{
		numLabels: 2,
		desired: map[[2]int32]desiredSpan{
			{0, 1}: {label: 0, gain: 2},
			{4, 4}: {label: 1, gain: 4.0 / 3.0},
		},
	}
	r := newTestRecognizer(t, backend)

	text := "John Smith works at Apple."
	labels := []string{"person", "organization"}

	prev := -1
	for _, threshold := range []float32{0.1, 0.3, 0.5, 0.9, 0.99} {
		entities, err := r.ExtractEntities(context.Background(), text, labels, WithThreshold(threshold))
		require.NoError(t, err)
		assertEntityInvariants(t, text, labels, threshold, entities)
		if prev >= 0 {
			assert.LessOrEqual(t, len(entities), prev, "raising the threshold added entities")
		}
		prev = len(entities)
	}
}

func TestExtractEntitiesZeroCount(t *testing.T) {
	backend := &fakeBackend{
		numLabels: 1,
		desired:   map[[2]int32]desiredSpan{{0, 1}: {label: 0, gain: 2}},
		zeroCount: true,
	}
	r := newTestRecognizer(t, backend)

	entities, err := r.ExtractEntities(context.Background(), "John Smith works at Apple.", []string{"person"})
	require.NoError(t, err)
	assert.Empty(t, entities, "a zero count prediction yields no candidates")
}

func TestExtractEntitiesCancellation(t *testing.T) {
	r := newTestRecognizer(t, &fakeBackend{numLabels: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ExtractEntities(ctx, "John Smith works at Apple.", []string{"person"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrCancelled)
}

func TestExtractEntitiesLabelCapacity(t *testing.T) {
	r := newTestRecognizer(t, &fakeBackend{numLabels: 1})

	labels := make([]string, testMaxSchema)
	for i := range labels {
		labels[i] = fmt.Sprintf("label%d", i)
	}

	_, err := r.ExtractEntities(context.Background(), "John Smith works at Apple.", labels)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
}

func TestExtractEntitiesInvalidThreshold(t *testing.T) {
	r := newTestRecognizer(t, &fakeBackend{numLabels: 1})

	_, err := r.ExtractEntities(context.Background(), "hired", []string{"person"}, WithThreshold(1.5))
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
}

func TestExtractEntitiesChunkedInput(t *testing.T) {
	backend := &fakeBackend{
		numLabels: 3,
		desired: map[[2]int32]desiredSpan{
			{0, 1}: {label: 0, gain: 2},
			{3, 4}: {label: 1, gain: 2},
			{6, 6}: {label: 2, gain: 2},
		},
	}
	r := newTestRecognizer(t, backend)

	sentence := "ACME Corp hired Jane Doe in Paris. "
	text := strings.TrimSpace(strings.Repeat(sentence, 40)) // ~320 words
	labels := []string{"company", "person", "location"}

	entities, err := r.ExtractEntities(context.Background(), text, labels, WithThreshold(0.5))
	require.NoError(t, err)
	require.NotEmpty(t, entities)
	assertEntityInvariants(t, text, labels, 0.5, entities)
}

func TestNewRejectsMismatchedSequenceLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSequenceLength = 512 // manifest says 384
	cfg.Backend = &fakeBackend{numLabels: 1}

	_, err := New(writeModelBundle(t), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
}

func TestNewRejectsBadSimilarityMetric(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSequenceLength = testMaxSeqLen
	cfg.SimilarityMetric = "euclidean"
	cfg.Backend = &fakeBackend{numLabels: 1}

	_, err := New(writeModelBundle(t), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
}

func TestNewMissingManifest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSequenceLength = testMaxSeqLen
	cfg.Backend = &fakeBackend{numLabels: 1}

	_, err := New(filepath.Join(t.TempDir(), "missing.json"), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrResource)
}

func TestConcurrentExtraction(t *testing.T) {
	backend := &fakeBackend{
		numLabels: 3,
		desired: map[[2]int32]desiredSpan{
			{0, 1}: {label: 0, gain: 2},
			{3, 4}: {label: 1, gain: 2},
			{6, 6}: {label: 2, gain: 2},
		},
	}
	r := newTestRecognizer(t, backend)

	text := "ACME Corp hired Jane Doe in Paris."
	labels := []string{"company", "person", "location"}

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			entities, err := r.ExtractEntities(context.Background(), text, labels, WithThreshold(0.5))
			if err == nil && len(entities) != 3 {
				err = fmt.Errorf("got %d entities, want 3", len(entities))
			}
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		assert.NoError(t, <-done)
	}
}
