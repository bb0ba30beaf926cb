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

// Package gliner2 is an on-device zero-shot named-entity recognition
// runtime for GLiNER2 model exports. A Recognizer owns the tokenizer, the
// five compiled neural modules, and the chunker; it is immutable after
// construction and safe to share across goroutines.
package gliner2

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/backends"
	"github.com/antflydb/gliner2/pkg/gliner2/lib/chunking"
	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
	"github.com/antflydb/gliner2/pkg/gliner2/lib/manifest"
	"github.com/antflydb/gliner2/pkg/gliner2/lib/metadata"
	"github.com/antflydb/gliner2/pkg/gliner2/lib/pipelines"
	"github.com/antflydb/gliner2/pkg/gliner2/lib/tokenizers"
)

// Entity is a named entity extracted from text. Identity is defined over
// (text, label, start, end).
type Entity = pipelines.Entity

// MetadataFile is the span-head metadata file expected next to the
// manifest.
const MetadataFile = "metadata.json"

// Config holds recognizer configuration. The zero value of each field means
// "use the default".
type Config struct {
	// Threshold is the global sigmoid cutoff for span candidates.
	Threshold float32

	// MaxSequenceLength must equal the backend's compiled capacity. When
	// zero the default of 384 applies.
	MaxSequenceLength int

	// MaxSpanLength is the maximum entity span width in words and must
	// equal the manifest's max_width. When zero the default of 8 applies.
	MaxSpanLength int

	// StrideLength is the legacy sliding-window advance. Accepted for
	// compatibility; the character chunker below governs the GLiNER2 path.
	StrideLength int

	// Chunker configures long-input chunking.
	Chunker chunking.Config

	// SimilarityMetric ("cosine" or "dot") and PoolingMethod ("mean",
	// "max" or "concat") are reserved for the legacy pooled-embedding
	// fallback. The GLiNER2 head uses raw dot products.
	SimilarityMetric string
	PoolingMethod    string

	// NMSThreshold is reserved for the legacy IoU path. The GLiNER2
	// decoder uses strict interval overlap instead.
	NMSThreshold float32

	// DefaultLabels are used by callers that do not supply labels, such as
	// the CLI. ExtractEntities itself never substitutes them.
	DefaultLabels []string

	// MaxConcurrentCalls caps concurrent ExtractEntities calls per handle
	// (0 = unlimited).
	MaxConcurrentCalls int

	// Backend compiles the model artifacts. Nil selects the registered
	// default backend for this build.
	Backend backends.Backend

	// Logger receives structured runtime logs. Nil disables logging.
	Logger *zap.Logger
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Threshold:         0.3,
		MaxSequenceLength: 384,
		MaxSpanLength:     8,
		StrideLength:      192,
		Chunker:           chunking.DefaultConfig(),
		SimilarityMetric:  "dot",
		PoolingMethod:     "mean",
		NMSThreshold:      0.5,
	}
}

// Recognizer is the top-level NER handle.
type Recognizer struct {
	cfg      Config
	manifest *manifest.Manifest
	meta     *metadata.SpanHead
	tok      *tokenizers.Tokenizer
	modules  *pipelines.Modules
	chunker  *chunking.TextChunker
	callSem  *semaphore.Weighted
	logger   *zap.Logger
}

// New loads the manifest, tokenizer, and span-head metadata, compiles the
// five model artifacts, and returns an immutable recognizer handle. This is
// the only blocking initialisation point.
func New(manifestPath string, cfg *Config) (*Recognizer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	resolved := *cfg
	applyDefaults(&resolved)
	if err := validateConfig(&resolved); err != nil {
		return nil, err
	}

	logger := resolved.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}

	if resolved.MaxSequenceLength != m.MaxSeqLen {
		return nil, errdefs.InvalidInputf("max_sequence_length %d does not match the compiled capacity %d",
			resolved.MaxSequenceLength, m.MaxSeqLen)
	}
	if resolved.MaxSpanLength != m.MaxWidth {
		return nil, errdefs.InvalidInputf("max_span_length %d does not match the compiled width %d",
			resolved.MaxSpanLength, m.MaxWidth)
	}

	meta, err := metadata.LoadCached(filepath.Join(m.Dir, MetadataFile))
	if err != nil {
		return nil, err
	}

	tok, err := tokenizers.LoadCached(m.TokenizerDir, tokenizers.WithMaxLength(m.MaxSeqLen))
	if err != nil {
		return nil, err
	}
	for surface, id := range meta.MarkerTokens() {
		tok.RegisterSpecial(surface, id)
	}

	backend := resolved.Backend
	if backend == nil {
		backend, err = backends.Default()
		if err != nil {
			return nil, err
		}
	}

	logger.Info("compiling model artifacts",
		zap.String("model_id", m.ModelID),
		zap.String("backend", backend.Name()),
		zap.String("precision", m.Precision))

	modules, err := compileModules(backend, m, logger)
	if err != nil {
		return nil, err
	}

	chunker, err := chunking.NewTextChunker(resolved.Chunker)
	if err != nil {
		return nil, err
	}

	r := &Recognizer{
		cfg:      resolved,
		manifest: m,
		meta:     meta,
		tok:      tok,
		modules:  modules,
		chunker:  chunker,
		logger:   logger,
	}
	if resolved.MaxConcurrentCalls > 0 {
		r.callSem = semaphore.NewWeighted(int64(resolved.MaxConcurrentCalls))
	}
	return r, nil
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Threshold == 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MaxSequenceLength == 0 {
		cfg.MaxSequenceLength = def.MaxSequenceLength
	}
	if cfg.MaxSpanLength == 0 {
		cfg.MaxSpanLength = def.MaxSpanLength
	}
	if cfg.StrideLength == 0 {
		cfg.StrideLength = def.StrideLength
	}
	if cfg.Chunker.MaxChars == 0 {
		cfg.Chunker.MaxChars = def.Chunker.MaxChars
	}
	if cfg.Chunker.OverlapChars == 0 {
		cfg.Chunker.OverlapChars = def.Chunker.OverlapChars
	}
	if cfg.Chunker.MaxWords == 0 {
		cfg.Chunker.MaxWords = def.Chunker.MaxWords
	}
	if cfg.SimilarityMetric == "" {
		cfg.SimilarityMetric = def.SimilarityMetric
	}
	if cfg.PoolingMethod == "" {
		cfg.PoolingMethod = def.PoolingMethod
	}
	if cfg.NMSThreshold == 0 {
		cfg.NMSThreshold = def.NMSThreshold
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return errdefs.InvalidInputf("threshold %v outside [0, 1]", cfg.Threshold)
	}
	if cfg.StrideLength < 0 {
		return errdefs.InvalidInputf("stride_length must not be negative")
	}
	switch cfg.SimilarityMetric {
	case "cosine", "dot":
	default:
		return errdefs.InvalidInputf("similarity_metric %q is not one of cosine, dot", cfg.SimilarityMetric)
	}
	switch cfg.PoolingMethod {
	case "mean", "max", "concat":
	default:
		return errdefs.InvalidInputf("pooling_method %q is not one of mean, max, concat", cfg.PoolingMethod)
	}
	if cfg.NMSThreshold < 0 || cfg.NMSThreshold > 1 {
		return errdefs.InvalidInputf("nms_threshold %v outside [0, 1]", cfg.NMSThreshold)
	}
	return nil
}

func compileModules(backend backends.Backend, m *manifest.Manifest, logger *zap.Logger) (*pipelines.Modules, error) {
	compile := func(name, path string) (backends.Session, error) {
		start := time.Now()
		sess, err := backend.Compile(path)
		if err != nil {
			return nil, errdefs.Stage(name, err)
		}
		logger.Debug("artifact compiled",
			zap.String("module", name),
			zap.Duration("elapsed", time.Since(start)))
		return sess, nil
	}

	encoderSess, err := compile("encoder", m.Artifacts.Encoder)
	if err != nil {
		return nil, err
	}
	spanRepSess, err := compile("span_rep", m.Artifacts.SpanRep)
	if err != nil {
		return nil, err
	}
	classifierSess, err := compile("classifier", m.Artifacts.Classifier)
	if err != nil {
		return nil, err
	}
	countPredSess, err := compile("count_predictor", m.Artifacts.CountPredictor)
	if err != nil {
		return nil, err
	}
	countEmbedSess, err := compile("count_embed", m.Artifacts.CountEmbed)
	if err != nil {
		return nil, err
	}

	return &pipelines.Modules{
		Encoder:        backends.NewEncoder(encoderSess, m.HiddenSize, logger),
		SpanRep:        backends.NewSpanRep(spanRepSess, m.HiddenSize, m.MaxWidth, logger),
		Classifier:     backends.NewClassifier(classifierSess, m.HiddenSize, logger),
		CountPredictor: backends.NewCountPredictor(countPredSess, m.HiddenSize, logger),
		CountEmbed:     backends.NewCountEmbed(countEmbedSess, m.HiddenSize, m.MaxCount, logger),
	}, nil
}

// ExtractOption adjusts a single extraction call.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	threshold float32
}

// WithThreshold overrides the configured sigmoid cutoff for one call.
func WithThreshold(threshold float32) ExtractOption {
	return func(c *extractConfig) {
		c.threshold = threshold
	}
}

// ExtractEntities returns character-offset spans of text labelled with one
// of the caller's entity types. Empty text or labels yield an empty list
// without running inference. Long inputs are chunked and the per-chunk
// entities merged; entities are returned ordered by start offset.
func (r *Recognizer) ExtractEntities(ctx context.Context, text string, labels []string, opts ...ExtractOption) ([]Entity, error) {
	start := time.Now()
	entities, err := r.extract(ctx, text, labels, opts...)
	observeExtraction(time.Since(start), len(entities), err)
	return entities, err
}

func (r *Recognizer) extract(ctx context.Context, text string, labels []string, opts ...ExtractOption) ([]Entity, error) {
	ec := extractConfig{threshold: r.cfg.Threshold}
	for _, opt := range opts {
		opt(&ec)
	}
	if ec.threshold < 0 || ec.threshold > 1 {
		return nil, errdefs.InvalidInputf("threshold %v outside [0, 1]", ec.threshold)
	}

	if text == "" || len(labels) == 0 {
		return []Entity{}, nil
	}

	// Each [E] marker plus the [P] marker must fit the schema capacity.
	if len(labels)+1 > r.manifest.MaxSchemaTokens {
		return nil, errdefs.InvalidInputf("%d labels exceed the schema capacity of %d markers",
			len(labels), r.manifest.MaxSchemaTokens-1)
	}

	if r.callSem != nil {
		if err := r.callSem.Acquire(ctx, 1); err != nil {
			return nil, errdefs.Cancelledf("%v", err)
		}
		defer r.callSem.Release(1)
	}

	if !r.chunker.ShouldChunk(text) {
		entities, err := r.processChunk(ctx, text, labels, ec.threshold)
		if err != nil {
			return nil, err
		}
		pipelines.SortByPosition(entities)
		return nonNil(entities), nil
	}

	chunks, err := r.chunker.Chunk(ctx, text)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("input chunked",
		zap.Int("chars", len(text)),
		zap.Int("chunks", len(chunks)))

	var all []Entity
	for _, chunk := range chunks {
		entities, err := r.processChunk(ctx, chunk.Text, labels, ec.threshold)
		if err != nil {
			return nil, err
		}
		for _, e := range entities {
			e.Start += chunk.Start
			e.End += chunk.Start
			e.Text = text[e.Start:e.End]
			all = append(all, e)
		}
	}

	merged := pipelines.MergeEntities(all)
	pipelines.SortByPosition(merged)
	return nonNil(merged), nil
}

// processChunk runs the full pipeline over one chunk. Returned offsets are
// chunk-local.
func (r *Recognizer) processChunk(ctx context.Context, text string, labels []string, threshold float32) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, errdefs.Cancelledf("before encoding: %v", err)
	}

	enc, err := r.tok.EncodeSchema(text, labels, r.manifest.MaxWidth)
	if err != nil {
		return nil, err
	}
	if len(enc.TextWords) == 0 {
		return nil, nil
	}

	hidden, err := r.modules.Encoder.Encode(ctx, enc.InputIDs, enc.AttentionMask)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errdefs.Cancelledf("after encoder: %v", err)
	}

	result, err := pipelines.RunSpanPipeline(ctx, r.modules, pipelines.SpanPipelineConfig{
		MaxSeqLen:       r.manifest.MaxSeqLen,
		MaxSchemaTokens: r.manifest.MaxSchemaTokens,
		MaxWidth:        r.manifest.MaxWidth,
		MaxCount:        r.manifest.MaxCount,
		HiddenSize:      r.manifest.HiddenSize,
	}, enc, hidden, r.logger)
	if err != nil {
		return nil, err
	}
	// A zero count prediction leaves no structure instance to score against,
	// so the chunk yields no candidates.
	if result.PredictedCount == 0 {
		return nil, nil
	}

	scores := pipelines.BuildScores(result)
	return pipelines.DecodeSpans(scores, labels, threshold, text, enc.TextWordRanges), nil
}

// Tokenizer returns the recognizer's tokenizer, for callers that need the
// raw subword surface.
func (r *Recognizer) Tokenizer() *tokenizers.Tokenizer {
	return r.tok
}

// Manifest returns the loaded manifest.
func (r *Recognizer) Manifest() *manifest.Manifest {
	return r.manifest
}

// Close releases the compiled module sessions.
func (r *Recognizer) Close() error {
	return r.modules.Close()
}

func nonNil(entities []Entity) []Entity {
	if entities == nil {
		return []Entity{}
	}
	return entities
}
