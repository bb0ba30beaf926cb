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

package backends

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
)

// adapter wraps one module session. Prediction calls are serialised on a
// weighted semaphore so backends requiring serial access are satisfied; the
// adapter itself is safe to share across goroutines.
type adapter struct {
	name   string
	sess   Session
	sem    *semaphore.Weighted
	logger *zap.Logger
}

func newAdapter(name string, sess Session, logger *zap.Logger) adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return adapter{
		name:   name,
		sess:   sess,
		sem:    semaphore.NewWeighted(1),
		logger: logger,
	}
}

func (a *adapter) predict(ctx context.Context, inputs map[string]Tensor) (map[string]Tensor, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, errdefs.Stage(a.name, errdefs.Cancelledf("%v", err))
	}
	defer a.sem.Release(1)

	if err := ctx.Err(); err != nil {
		return nil, errdefs.Stage(a.name, errdefs.Cancelledf("%v", err))
	}

	outputs, err := a.sess.Predict(ctx, inputs)
	if err != nil {
		return nil, errdefs.Stage(a.name, err)
	}
	return outputs, nil
}

// output selects the module's output tensor: a preferred name when present,
// otherwise the sole output.
func (a *adapter) output(outputs map[string]Tensor, preferred ...string) (Tensor, error) {
	for _, name := range preferred {
		if t, ok := outputs[name]; ok {
			return t, nil
		}
	}
	if len(outputs) == 1 {
		for _, t := range outputs {
			return t, nil
		}
	}
	return Tensor{}, errdefs.Stage(a.name,
		errdefs.InvalidOutputf("missing expected output feature (got %d outputs)", len(outputs)))
}

func (a *adapter) Close() error {
	return a.sess.Close()
}

// Encoder runs the transformer encoder: (input_ids, attention_mask) →
// contextual hidden states.
type Encoder struct {
	adapter
	hidden int
}

// NewEncoder wraps an encoder session with hidden dimension H.
func NewEncoder(sess Session, hidden int, logger *zap.Logger) *Encoder {
	return &Encoder{adapter: newAdapter("encoder", sess, logger), hidden: hidden}
}

// Encode returns one hidden-state vector per subword position.
func (e *Encoder) Encode(ctx context.Context, inputIDs, attentionMask []int32) ([][]float32, error) {
	if len(inputIDs) != len(attentionMask) {
		return nil, errdefs.Stage(e.name,
			errdefs.Encodingf("input ids length %d does not match mask length %d", len(inputIDs), len(attentionMask)))
	}
	seqLen := len(inputIDs)

	outputs, err := e.predict(ctx, map[string]Tensor{
		"input_ids":      Int32s([]int64{1, int64(seqLen)}, inputIDs),
		"attention_mask": Int32s([]int64{1, int64(seqLen)}, attentionMask),
	})
	if err != nil {
		return nil, err
	}

	out, err := e.output(outputs, "hidden_states", "last_hidden_state")
	if err != nil {
		return nil, err
	}
	if err := checkRank(e.name, out, 1, int64(seqLen), int64(e.hidden)); err != nil {
		return nil, err
	}
	data, err := out.Floats()
	if err != nil {
		return nil, errdefs.Stage(e.name, err)
	}
	return nested2(data, seqLen, e.hidden), nil
}

// SpanRep runs the span representation head over padded word embeddings and
// the planned span grid.
type SpanRep struct {
	adapter
	hidden   int
	maxWidth int
}

// NewSpanRep wraps a span-rep session compiled for the given width.
func NewSpanRep(sess Session, hidden, maxWidth int, logger *zap.Logger) *SpanRep {
	return &SpanRep{adapter: newAdapter("span_rep", sess, logger), hidden: hidden, maxWidth: maxWidth}
}

// Represent returns span embeddings [seq][width][hidden]. tokenEmbeddings
// must already be padded to the compiled sequence capacity and spanIndices
// must hold seq*width (start, end) pairs.
func (s *SpanRep) Represent(ctx context.Context, tokenEmbeddings [][]float32, spanIndices []int32) ([][][]float32, error) {
	seqLen := len(tokenEmbeddings)
	if len(spanIndices) != seqLen*s.maxWidth*2 {
		return nil, errdefs.Stage(s.name,
			errdefs.InvalidInputf("span-index tensor has %d values, want %d", len(spanIndices), seqLen*s.maxWidth*2))
	}

	flat, err := flatten(tokenEmbeddings, s.hidden)
	if err != nil {
		return nil, errdefs.Stage(s.name, err)
	}

	outputs, err := s.predict(ctx, map[string]Tensor{
		"token_embeddings": Float32s([]int64{1, int64(seqLen), int64(s.hidden)}, flat),
		"span_indices":     Int32s([]int64{1, int64(seqLen * s.maxWidth), 2}, spanIndices),
	})
	if err != nil {
		return nil, err
	}

	out, err := s.output(outputs, "span_rep", "span_embeddings")
	if err != nil {
		return nil, err
	}
	if err := checkRank(s.name, out, 1, int64(seqLen), int64(s.maxWidth), int64(s.hidden)); err != nil {
		return nil, err
	}
	data, err := out.Floats()
	if err != nil {
		return nil, errdefs.Stage(s.name, err)
	}
	return nested3(data, seqLen, s.maxWidth, s.hidden), nil
}

// Classifier scores the ordered schema marker embeddings.
type Classifier struct {
	adapter
	hidden int
}

// NewClassifier wraps a classifier session.
func NewClassifier(sess Session, hidden int, logger *zap.Logger) *Classifier {
	return &Classifier{adapter: newAdapter("classifier", sess, logger), hidden: hidden}
}

// Classify returns one logit row per schema embedding.
func (c *Classifier) Classify(ctx context.Context, schemaEmbeddings [][]float32) ([][]float32, error) {
	rows := len(schemaEmbeddings)
	flat, err := flatten(schemaEmbeddings, c.hidden)
	if err != nil {
		return nil, errdefs.Stage(c.name, err)
	}

	outputs, err := c.predict(ctx, map[string]Tensor{
		"schema_embeddings": Float32s([]int64{int64(rows), int64(c.hidden)}, flat),
	})
	if err != nil {
		return nil, err
	}

	out, err := c.output(outputs, "logits", "class_logits")
	if err != nil {
		return nil, err
	}
	data, err := out.Floats()
	if err != nil {
		return nil, errdefs.Stage(c.name, err)
	}
	switch len(out.Shape) {
	case 1:
		if int(out.Shape[0]) != rows {
			return nil, errdefs.Stage(c.name,
				errdefs.InvalidOutputf("logit rows %d, want %d", out.Shape[0], rows))
		}
		return nested2(data, rows, 1), nil
	case 2:
		if int(out.Shape[0]) != rows {
			return nil, errdefs.Stage(c.name,
				errdefs.InvalidOutputf("logit rows %d, want %d", out.Shape[0], rows))
		}
		return nested2(data, rows, int(out.Shape[1])), nil
	default:
		return nil, errdefs.Stage(c.name,
			errdefs.InvalidOutputf("logit tensor rank %d, want 1 or 2", len(out.Shape)))
	}
}

// CountPredictor predicts the structure instance count from the prompt
// marker embedding.
type CountPredictor struct {
	adapter
	hidden int
}

// NewCountPredictor wraps a count-predictor session.
func NewCountPredictor(sess Session, hidden int, logger *zap.Logger) *CountPredictor {
	return &CountPredictor{adapter: newAdapter("count_predictor", sess, logger), hidden: hidden}
}

// PredictCount returns the raw count logits for a single prompt embedding.
func (c *CountPredictor) PredictCount(ctx context.Context, promptEmbedding []float32) ([]float32, error) {
	if len(promptEmbedding) != c.hidden {
		return nil, errdefs.Stage(c.name,
			errdefs.InvalidInputf("prompt embedding width %d, want %d", len(promptEmbedding), c.hidden))
	}

	outputs, err := c.predict(ctx, map[string]Tensor{
		"prompt_embeddings": Float32s([]int64{1, int64(c.hidden)}, promptEmbedding),
	})
	if err != nil {
		return nil, err
	}

	out, err := c.output(outputs, "count_logits", "logits")
	if err != nil {
		return nil, err
	}
	data, err := out.Floats()
	if err != nil {
		return nil, errdefs.Stage(c.name, err)
	}
	if len(data) == 0 {
		return nil, errdefs.Stage(c.name, errdefs.InvalidOutputf("empty count logits"))
	}
	return data, nil
}

// CountEmbed projects label embeddings into per-instance structure
// embeddings.
type CountEmbed struct {
	adapter
	hidden   int
	maxCount int
}

// NewCountEmbed wraps a count-embed session compiled for maxCount
// instances.
func NewCountEmbed(sess Session, hidden, maxCount int, logger *zap.Logger) *CountEmbed {
	return &CountEmbed{adapter: newAdapter("count_embed", sess, logger), hidden: hidden, maxCount: maxCount}
}

// Project pads the label embeddings to capacity rows and returns the
// projected structure embeddings [maxCount][capacity][hidden].
func (c *CountEmbed) Project(ctx context.Context, labelEmbeddings [][]float32, capacity int) ([][][]float32, error) {
	if len(labelEmbeddings) > capacity {
		return nil, errdefs.Stage(c.name,
			errdefs.InvalidInputf("%d label embeddings exceed schema capacity %d", len(labelEmbeddings), capacity))
	}

	padded := make([][]float32, capacity)
	for i := range padded {
		if i < len(labelEmbeddings) {
			padded[i] = labelEmbeddings[i]
		} else {
			padded[i] = make([]float32, c.hidden)
		}
	}
	flat, err := flatten(padded, c.hidden)
	if err != nil {
		return nil, errdefs.Stage(c.name, err)
	}

	outputs, err := c.predict(ctx, map[string]Tensor{
		"label_embeddings": Float32s([]int64{int64(capacity), int64(c.hidden)}, flat),
	})
	if err != nil {
		return nil, err
	}

	out, err := c.output(outputs, "structure_embeddings", "projected")
	if err != nil {
		return nil, err
	}
	if err := checkRank(c.name, out, int64(c.maxCount), -1, int64(c.hidden)); err != nil {
		return nil, err
	}
	data, err := out.Floats()
	if err != nil {
		return nil, errdefs.Stage(c.name, err)
	}
	return nested3(data, c.maxCount, int(out.Shape[1]), c.hidden), nil
}

// flatten concatenates equally-sized rows into one row-major buffer.
func flatten(rows [][]float32, width int) ([]float32, error) {
	out := make([]float32, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return nil, errdefs.InvalidInputf("embedding row %d has width %d, want %d", i, len(row), width)
		}
		out = append(out, row...)
	}
	return out, nil
}
