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

package pipelines

import (
	"context"

	"go.uber.org/zap"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/backends"
	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
	"github.com/antflydb/gliner2/pkg/gliner2/lib/tokenizers"
)

// Modules bundles the five backend adapters the pipeline drives.
type Modules struct {
	Encoder        *backends.Encoder
	SpanRep        *backends.SpanRep
	Classifier     *backends.Classifier
	CountPredictor *backends.CountPredictor
	CountEmbed     *backends.CountEmbed
}

// Close closes every module session.
func (m *Modules) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{
		m.Encoder, m.SpanRep, m.Classifier, m.CountPredictor, m.CountEmbed,
	} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SpanPipelineConfig carries the shape constants the modules were compiled
// against.
type SpanPipelineConfig struct {
	MaxSeqLen       int
	MaxSchemaTokens int
	MaxWidth        int
	MaxCount        int
	HiddenSize      int
}

// SpanResult is the structured bundle the span pipeline returns for one
// encoded call.
type SpanResult struct {
	// SpanEmb holds span embeddings trimmed to the text word count.
	SpanEmb [][][]float32

	// SpanMask is the encoding's span validity mask.
	SpanMask []float32

	// WordEmb holds the projected per-word embeddings.
	WordEmb [][]float32

	// LabelEmb holds the entity marker embeddings, one per label.
	LabelEmb [][]float32

	// PromptEmb is the pooled [P] marker embedding.
	PromptEmb []float32

	// ClassifierLogits are the classifier's raw logits over the group's
	// ordered marker embeddings. The entity path carries but does not
	// consume them.
	ClassifierLogits [][]float32

	// CountLogits are the raw count predictor logits.
	CountLogits []float32

	// StructureEmb holds the first PredictedCount instance projections.
	StructureEmb [][][]float32

	// PredictedCount is the clamped argmax of CountLogits.
	PredictedCount int

	// Labels are the caller's labels, in order.
	Labels []string
}

// RunSpanPipeline orchestrates the four non-encoder heads over the encoder's
// hidden states.
func RunSpanPipeline(
	ctx context.Context,
	modules *Modules,
	cfg SpanPipelineConfig,
	enc *tokenizers.SchemaEncoding,
	hidden [][]float32,
	logger *zap.Logger,
) (*SpanResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	wordEmb, err := ProjectWords(hidden, enc)
	if err != nil {
		return nil, errdefs.Stage("projection", err)
	}
	promptGroups, err := ProjectPrompts(hidden, enc)
	if err != nil {
		return nil, errdefs.Stage("projection", err)
	}
	if len(promptGroups) == 0 {
		return nil, errdefs.Encodingf("schema encoding produced no prompt groups")
	}

	// The entity task lives in the first (and only) schema group.
	group := promptGroups[0]
	var promptEmb []float32
	var labelEmb [][]float32
	specials := make([][]float32, 0, len(group))
	for _, pv := range group {
		specials = append(specials, pv.Vector)
		switch pv.Kind {
		case tokenizers.PromptKindPrompt:
			if promptEmb == nil {
				promptEmb = pv.Vector
			}
		case tokenizers.PromptKindEntity:
			labelEmb = append(labelEmb, pv.Vector)
		}
	}
	if promptEmb == nil {
		return nil, errdefs.Encodingf("schema group has no [P] prompt marker")
	}
	if len(labelEmb) != len(enc.EntityLabels) {
		return nil, errdefs.Encodingf("schema group has %d entity markers for %d labels", len(labelEmb), len(enc.EntityLabels))
	}

	if err := ctx.Err(); err != nil {
		return nil, errdefs.Cancelledf("before span representation: %v", err)
	}

	// Pad word embeddings and the span plan to the compiled capacity.
	numWords := len(enc.TextWords)
	padded := make([][]float32, cfg.MaxSeqLen)
	for i := range padded {
		if i < numWords {
			padded[i] = wordEmb[i]
		} else {
			padded[i] = make([]float32, cfg.HiddenSize)
		}
	}
	spanIndices := make([]int32, cfg.MaxSeqLen*cfg.MaxWidth*2)
	copy(spanIndices, enc.SpanIndices)

	spanEmb, err := modules.SpanRep.Represent(ctx, padded, spanIndices)
	if err != nil {
		return nil, err
	}
	if numWords > len(spanEmb) {
		return nil, errdefs.Encodingf("span representation has %d rows for %d words", len(spanEmb), numWords)
	}
	spanEmb = spanEmb[:numWords]

	classifierLogits, err := modules.Classifier.Classify(ctx, specials)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errdefs.Cancelledf("before count prediction: %v", err)
	}

	countLogits, err := modules.CountPredictor.PredictCount(ctx, promptEmb)
	if err != nil {
		return nil, err
	}
	predicted := argmax(countLogits)
	if predicted > cfg.MaxCount {
		predicted = cfg.MaxCount
	}

	var structureEmb [][][]float32
	if predicted > 0 {
		projected, err := modules.CountEmbed.Project(ctx, labelEmb, cfg.MaxSchemaTokens)
		if err != nil {
			return nil, err
		}
		if predicted > len(projected) {
			predicted = len(projected)
		}
		structureEmb = projected[:predicted]
	}

	logger.Debug("span pipeline complete",
		zap.Int("words", numWords),
		zap.Int("labels", len(enc.EntityLabels)),
		zap.Int("predicted_count", predicted))

	return &SpanResult{
		SpanEmb:          spanEmb,
		SpanMask:         enc.SpanMask,
		WordEmb:          wordEmb,
		LabelEmb:         labelEmb,
		PromptEmb:        promptEmb,
		ClassifierLogits: classifierLogits,
		CountLogits:      countLogits,
		StructureEmb:     structureEmb,
		PredictedCount:   predicted,
		Labels:           enc.EntityLabels,
	}, nil
}

func argmax(values []float32) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
