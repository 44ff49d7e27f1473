// Package inference runs the preprocessing, forward-pass and postprocessing
// pipeline against whatever model the cache currently holds. The engine
// itself is stateless with respect to model identity.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/greenstack/leafserve/internal/cache"
	"github.com/greenstack/leafserve/internal/model"
	"github.com/greenstack/leafserve/internal/stats"
	"go.uber.org/zap"
)

// DefaultMaxBatchSize bounds predictBatch when no limit is configured
const DefaultMaxBatchSize = 10

// Prediction is the result of a single inference
type Prediction struct {
	PredictedClass string             `json:"prediction"`
	Confidence     float64            `json:"confidence"`
	Probabilities  map[string]float64 `json:"probabilities"`
	LatencyMS      float64            `json:"inference_time_ms"`
	ModelVersion   string             `json:"model_version,omitempty"`
	ModelSource    string             `json:"model_source"`
}

// BatchItem is one named image in a batch request
type BatchItem struct {
	Name string
	Data []byte
}

// BatchItemResult carries either a prediction or a per-item error; a
// malformed image never aborts the rest of the batch.
type BatchItemResult struct {
	Name       string      `json:"filename"`
	Success    bool        `json:"success"`
	Prediction *Prediction `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// BatchResult summarizes a batch prediction
type BatchResult struct {
	Predictions []BatchItemResult `json:"predictions"`
	Total       int               `json:"total_images"`
	Successful  int               `json:"successful"`
	Failed      int               `json:"failed"`
	TotalTimeMS float64           `json:"total_time_ms"`
}

// Engine executes predictions against the cached model
type Engine struct {
	cache        *cache.Cache
	stats        *stats.Stats
	maxBatchSize int
	logger       *zap.Logger
}

// New creates an inference engine
func New(c *cache.Cache, s *stats.Stats, maxBatchSize int, logger *zap.Logger) *Engine {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &Engine{
		cache:        c,
		stats:        s,
		maxBatchSize: maxBatchSize,
		logger:       logger,
	}
}

// MaxBatchSize returns the configured batch limit
func (e *Engine) MaxBatchSize() int {
	return e.maxBatchSize
}

// PredictOne classifies a single image against the current model
func (e *Engine) PredictOne(ctx context.Context, raw []byte) (*Prediction, error) {
	handle, err := e.cache.Current()
	if err != nil {
		return nil, err
	}

	start := time.Now()

	tensor, err := Preprocess(raw, handle.Classifier.InputSpec())
	if err != nil {
		e.stats.RecordFailure()
		return nil, err
	}

	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	logits, err := handle.Classifier.Forward(PooledFeatures(tensor))
	if err != nil {
		e.stats.RecordFailure()
		return nil, fmt.Errorf("forward pass: %w", err)
	}

	probs := model.Softmax(logits)
	classNames := handle.Classifier.ClassNames()

	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}

	probabilities := make(map[string]float64, len(classNames))
	for i, name := range classNames {
		probabilities[name] = probs[i]
	}

	latency := time.Since(start)
	e.stats.RecordSuccess(latency)

	e.logger.Debug("prediction",
		zap.String("class", classNames[best]),
		zap.Float64("confidence", probs[best]),
		zap.Duration("latency", latency))

	return &Prediction{
		PredictedClass: classNames[best],
		Confidence:     probs[best],
		Probabilities:  probabilities,
		LatencyMS:      float64(latency.Microseconds()) / 1000.0,
		ModelVersion:   handle.Version,
		ModelSource:    handle.Source.String(),
	}, nil
}

// PredictBatch classifies each item independently. Per-item decode failures
// become per-item errors; only a missing model or an oversized batch fails
// the call wholesale.
func (e *Engine) PredictBatch(ctx context.Context, items []BatchItem) (*BatchResult, error) {
	if len(items) > e.maxBatchSize {
		return nil, BatchTooLargeError{Size: len(items), Limit: e.maxBatchSize}
	}
	if _, err := e.cache.Current(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &BatchResult{
		Predictions: make([]BatchItemResult, 0, len(items)),
		Total:       len(items),
	}

	for _, item := range items {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}

		pred, err := e.PredictOne(ctx, item.Data)
		if err != nil {
			if errors.Is(err, ErrInvalidInput) {
				result.Predictions = append(result.Predictions, BatchItemResult{
					Name:    item.Name,
					Success: false,
					Error:   err.Error(),
				})
				result.Failed++
				continue
			}
			return nil, err
		}

		result.Predictions = append(result.Predictions, BatchItemResult{
			Name:       item.Name,
			Success:    true,
			Prediction: pred,
		})
		result.Successful++
	}

	result.TotalTimeMS = float64(time.Since(start).Microseconds()) / 1000.0
	return result, nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	default:
		return nil
	}
}
