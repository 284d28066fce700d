/*
File: service.go
Version: 2.1.0
Description: Prediction orchestration: cache lookup, override matching,
             request coalescing and the inference strategy chain. One
             instance serves every listener.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	// MaxBatchURLs caps a single batch request; the overflow is truncated,
	// not rejected.
	MaxBatchURLs = 100

	batchWorkers = 8
)

var (
	ErrNoURL            = errors.New("no URL provided")
	ErrModelUnavailable = errors.New("no model loaded")
	ErrInferenceFailed  = errors.New("inference failed")
)

const (
	labelPhishing   = "phishing"
	labelLegitimate = "legitimate"
)

func phishingLabel(phishing bool) string {
	if phishing {
		return labelPhishing
	}
	return labelLegitimate
}

// PredictionResult is a finished classification. The URL field carries the
// normalized spelling; cached instances are shared across requests and must
// not be mutated after Predict returns them.
type PredictionResult struct {
	URL           string          `json:"url"`
	Prediction    int             `json:"prediction"`
	Probability   *float64        `json:"probability"`
	PhishingLabel string          `json:"phishing_label"`
	Threshold     float64         `json:"threshold"`
	Source        string          `json:"source,omitempty"`
	Features      *FeatureMapping `json:"features,omitempty"`
}

// IsPhishing reports the decision as a boolean.
func (r *PredictionResult) IsPhishing() bool {
	return r.PhishingLabel == labelPhishing
}

// BatchItem is one slot of a batch response. Exactly one of the prediction
// fields or Error is meaningful; results keep the input order.
type BatchItem struct {
	URL           string   `json:"url"`
	Prediction    *int     `json:"prediction"`
	Probability   *float64 `json:"probability"`
	PhishingLabel string   `json:"phishing_label,omitempty"`
	Threshold     *float64 `json:"threshold,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// ServiceStats are process-lifetime counters, read lock-free by /health.
type ServiceStats struct {
	Predictions       atomic.Uint64
	CacheHits         atomic.Uint64
	CacheMisses       atomic.Uint64
	Coalesced         atomic.Uint64
	OverrideHits      atomic.Uint64
	SchemaDrift       atomic.Uint64
	ScalerFallbacks   atomic.Uint64
	InferenceFailures atomic.Uint64
}

func (s *ServiceStats) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"predictions":        s.Predictions.Load(),
		"cache_hits":         s.CacheHits.Load(),
		"cache_misses":       s.CacheMisses.Load(),
		"coalesced":          s.Coalesced.Load(),
		"override_hits":      s.OverrideHits.Load(),
		"schema_drift":       s.SchemaDrift.Load(),
		"scaler_fallbacks":   s.ScalerFallbacks.Load(),
		"inference_failures": s.InferenceFailures.Load(),
	}
}

type PredictionService struct {
	bundle    *ModelBundle // nil when running degraded
	cache     *PredictionCache
	flight    *ShardedGroup
	overrides *OverrideList // nil when overrides are not configured
	Stats     ServiceStats
}

func NewPredictionService(bundle *ModelBundle, cache *PredictionCache, overrides *OverrideList) *PredictionService {
	return &PredictionService{
		bundle:    bundle,
		cache:     cache,
		flight:    NewShardedGroup(),
		overrides: overrides,
	}
}

// Ready reports whether a model is loaded.
func (s *PredictionService) Ready() bool {
	return s.bundle != nil
}

// Bundle exposes the loaded model for health reporting; nil when degraded.
func (s *PredictionService) Bundle() *ModelBundle {
	return s.bundle
}

// Cache exposes the prediction cache for health reporting and persistence.
func (s *PredictionService) Cache() *PredictionCache {
	return s.cache
}

// Predict classifies a single URL. The cache key is the raw URL exactly as
// received; normalization happens inside the coalesced inference path.
func (s *PredictionService) Predict(ctx context.Context, rawURL string) (*PredictionResult, error) {
	if rawURL == "" {
		return nil, ErrNoURL
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(rawURL); ok {
			s.Stats.CacheHits.Add(1)
			return cached, nil
		}
		s.Stats.CacheMisses.Add(1)
	}

	if s.overrides != nil {
		if verdict, ok := s.overrides.Match(rawURL); ok {
			s.Stats.OverrideHits.Add(1)
			result := s.overrideResult(rawURL, verdict)
			if s.cache != nil {
				s.cache.Put(rawURL, result)
			}
			return result, nil
		}
	}

	if s.bundle == nil {
		return nil, ErrModelUnavailable
	}

	v, err, shared := s.flight.Do(rawURL, func() (interface{}, error) {
		result, err := s.infer(rawURL)
		if err == nil && s.cache != nil {
			s.cache.Put(rawURL, result)
		}
		return result, err
	})
	if shared {
		s.Stats.Coalesced.Add(1)
	}
	if err != nil {
		return nil, err
	}
	return v.(*PredictionResult), nil
}

// infer runs the full pipeline for one URL: extract, align, scale, then walk
// the strategy chain until a predictor succeeds.
func (s *PredictionService) infer(rawURL string) (*PredictionResult, error) {
	feats := ExtractFeatures(rawURL)

	vector, drift := AlignFeatures(feats, s.bundle.FeatureNames)
	if !drift.Empty() {
		s.Stats.SchemaDrift.Add(1)
	}

	if s.bundle.Scaler != nil {
		scaled, err := s.bundle.Scaler.Transform(vector)
		if err != nil {
			// A misfitted scaler degrades to raw values rather than failing
			// the request.
			s.Stats.ScalerFallbacks.Add(1)
			LogWarn("[PREDICT] Scaler rejected vector for %s: %v; using unscaled values", rawURL, err)
		} else {
			vector = scaled
		}
	}

	var lastErr error
	for _, strategy := range s.bundle.Strategies() {
		prediction, probability, err := attemptInference(strategy.Classifier, vector)
		if err != nil {
			lastErr = err
			LogWarn("[PREDICT] Strategy '%s' failed for %s: %v", strategy.Name, rawURL, err)
			continue
		}

		phishing := prediction == 1
		if probability != nil {
			phishing = *probability >= s.bundle.Threshold
			if phishing {
				prediction = 1
			} else {
				prediction = 0
			}
		}

		s.Stats.Predictions.Add(1)
		return &PredictionResult{
			URL:           NormalizeURL(rawURL),
			Prediction:    prediction,
			Probability:   probability,
			PhishingLabel: phishingLabel(phishing),
			Threshold:     s.bundle.Threshold,
			Source:        strategy.Name,
			Features:      feats,
		}, nil
	}

	s.Stats.InferenceFailures.Add(1)
	LogError("[PREDICT] All strategies failed for %s: %v", rawURL, lastErr)
	return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, lastErr)
}

// attemptInference isolates one classifier call so a defect in a single
// artifact cannot take the process down.
func attemptInference(clf Classifier, vector []float64) (prediction int, probability *float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()

	if p, ok := clf.PredictProba(vector); ok {
		probability = &p
		prediction = 0
		if p >= 0.5 {
			prediction = 1
		}
		return prediction, probability, nil
	}
	return clf.Predict(vector), nil, nil
}

func (s *PredictionService) overrideResult(rawURL string, verdict OverrideVerdict) *PredictionResult {
	prediction := 0
	if verdict.Deny {
		prediction = 1
	}
	threshold := DefaultThreshold
	if s.bundle != nil {
		threshold = s.bundle.Threshold
	}
	LogDebug("[PREDICT] Override %s for %s (list: %s)", verdict.Action(), rawURL, verdict.Source)
	return &PredictionResult{
		URL:           NormalizeURL(rawURL),
		Prediction:    prediction,
		PhishingLabel: phishingLabel(verdict.Deny),
		Threshold:     threshold,
		Source:        "override:" + verdict.Source,
	}
}

// PredictBatch classifies up to MaxBatchURLs URLs with per-item error
// isolation. Output order matches input order; overflow is dropped with a
// warning rather than failing the whole request.
func (s *PredictionService) PredictBatch(ctx context.Context, urls []string) []BatchItem {
	if len(urls) > MaxBatchURLs {
		LogWarn("[PREDICT] Batch of %d truncated to %d", len(urls), MaxBatchURLs)
		urls = urls[:MaxBatchURLs]
	}

	items := make([]BatchItem, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchWorkers)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			result, err := s.Predict(ctx, u)
			if err != nil {
				items[i] = BatchItem{URL: u, Error: err.Error()}
				return nil
			}
			prediction := result.Prediction
			threshold := result.Threshold
			items[i] = BatchItem{
				URL:           result.URL,
				Prediction:    &prediction,
				Probability:   result.Probability,
				PhishingLabel: result.PhishingLabel,
				Threshold:     &threshold,
			}
			return nil
		})
	}
	g.Wait()

	return items
}
