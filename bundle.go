/*
File: bundle.go
Version: 1.3.0
Description: Loads the frozen model bundle from persisted artifacts.
             Candidates are tried in preference order; malformed files are
             logged and skipped. The bundle is immutable after load and shared
             lock-free by every request for the life of the process.
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"
)

const DefaultThreshold = 0.5

// ModelBundle is the loaded classifier with its optional scaler, expected
// feature order, and decision threshold. Read-only after load; hot reload is
// deliberately unsupported, restart to pick up new artifacts.
type ModelBundle struct {
	Primary      Classifier
	Fallback     Classifier
	Scaler       *StandardScaler
	FeatureNames []string
	Threshold    float64
	SourcePath   string
	SourceKind   string // "bundle", "pipeline" or "classifier"
}

// InferenceStrategy is one entry in the ordered chain of predictors a request
// is tried against. Strategies replace nested try/except fallbacks: each
// attempt is explicit and its outcome logged.
type InferenceStrategy struct {
	Name       string
	Classifier Classifier
}

// Strategies returns the inference chain in attempt order.
func (b *ModelBundle) Strategies() []InferenceStrategy {
	strategies := []InferenceStrategy{{Name: b.SourceKind, Classifier: b.Primary}}
	if b.Fallback != nil {
		strategies = append(strategies, InferenceStrategy{Name: "raw_classifier", Classifier: b.Fallback})
	}
	return strategies
}

// ModelKind names the active predictor for health reporting.
func (b *ModelBundle) ModelKind() string {
	return fmt.Sprintf("%s (%s)", b.Primary.Kind(), b.SourceKind)
}

// FeatureCount reports how many features the classifier consumes.
func (b *ModelBundle) FeatureCount() int {
	if len(b.FeatureNames) > 0 {
		return len(b.FeatureNames)
	}
	return b.Primary.NumFeatures()
}

// --- Artifact file shapes ---

type bundleArtifact struct {
	Model    *classifierArtifact `json:"model"`
	Scaler   *StandardScaler     `json:"scaler"`
	Features []string            `json:"features"`
}

type pipelineStep struct {
	Name   string              `json:"name"`
	Scaler *StandardScaler     `json:"scaler"`
	Model  *classifierArtifact `json:"model"`
}

type pipelineArtifact struct {
	Steps    []pipelineStep `json:"steps"`
	Features []string       `json:"features"`
}

type thresholdConfig struct {
	PhishingThreshold float64 `json:"phishing_threshold"`
}

// --- Loading ---

// LoadModelBundle tries the configured artifact candidates in preference
// order. Returns nil when no candidate loads; the service then runs degraded
// and reports itself unhealthy instead of refusing to start.
func LoadModelBundle(cfg ModelConfig) *ModelBundle {
	bundle := loadFirst(cfg)
	if bundle == nil {
		LogWarn("[MODEL] No usable artifact found; starting degraded (candidates: %v, %v, %v)",
			cfg.BundleCandidates, cfg.PipelineCandidates, cfg.ClassifierCandidates)
		return nil
	}

	// A pipeline-sourced primary keeps a bare classifier as a one-retry
	// fallback when one is present on disk, mirroring the legacy layout
	// where both artifacts coexisted.
	if bundle.SourceKind == "pipeline" {
		if raw, path := loadBareClassifier(cfg.ClassifierCandidates); raw != nil {
			bundle.Fallback = raw
			LogInfo("[MODEL] Registered fallback classifier from %s", path)
		}
	}

	bundle.Threshold = loadThreshold(cfg)

	LogInfo("[MODEL] Loaded %s from %s (features: %d, scaler: %v, threshold: %.4f)",
		bundle.ModelKind(), bundle.SourcePath, bundle.FeatureCount(), bundle.Scaler != nil, bundle.Threshold)
	return bundle
}

func loadFirst(cfg ModelConfig) *ModelBundle {
	for _, path := range cfg.BundleCandidates {
		if b := loadBundleFile(path); b != nil {
			return b
		}
	}
	for _, path := range cfg.PipelineCandidates {
		if b := loadPipelineFile(path); b != nil {
			return b
		}
	}
	if clf, path := loadBareClassifier(cfg.ClassifierCandidates); clf != nil {
		return &ModelBundle{Primary: clf, SourcePath: path, SourceKind: "classifier"}
	}
	return nil
}

func loadBundleFile(path string) *ModelBundle {
	var art bundleArtifact
	if !decodeArtifact(path, &art) {
		return nil
	}
	if art.Model == nil {
		LogWarn("[MODEL] Skipping bundle candidate %s: no model entry", path)
		return nil
	}
	clf, err := buildClassifier(art.Model)
	if err != nil {
		LogWarn("[MODEL] Skipping bundle candidate %s: %v", path, err)
		return nil
	}
	return &ModelBundle{
		Primary:      clf,
		Scaler:       art.Scaler,
		FeatureNames: art.Features,
		SourcePath:   path,
		SourceKind:   "bundle",
	}
}

func loadPipelineFile(path string) *ModelBundle {
	var art pipelineArtifact
	if !decodeArtifact(path, &art) {
		return nil
	}

	// Flatten once at load time: the scaler step and the final estimator
	// become explicit bundle members, never re-inspected per request.
	var scaler *StandardScaler
	var clf Classifier
	for _, step := range art.Steps {
		if step.Scaler != nil {
			scaler = step.Scaler
		}
		if step.Model != nil {
			built, err := buildClassifier(step.Model)
			if err != nil {
				LogWarn("[MODEL] Skipping pipeline candidate %s: step '%s': %v", path, step.Name, err)
				return nil
			}
			clf = built
		}
	}
	if clf == nil {
		LogWarn("[MODEL] Skipping pipeline candidate %s: no estimator step", path)
		return nil
	}
	return &ModelBundle{
		Primary:      clf,
		Scaler:       scaler,
		FeatureNames: art.Features,
		SourcePath:   path,
		SourceKind:   "pipeline",
	}
}

func loadBareClassifier(candidates []string) (Classifier, string) {
	for _, path := range candidates {
		var art classifierArtifact
		if !decodeArtifact(path, &art) {
			continue
		}
		clf, err := buildClassifier(&art)
		if err != nil {
			LogWarn("[MODEL] Skipping classifier candidate %s: %v", path, err)
			continue
		}
		return clf, path
	}
	return nil, ""
}

// decodeArtifact reads and unmarshals a candidate. Missing files are silent
// (candidates are a preference list), malformed ones are logged.
func decodeArtifact(path string, v interface{}) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			LogWarn("[MODEL] Failed to read candidate %s: %v", path, err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		LogWarn("[MODEL] Failed to parse candidate %s: %v", path, err)
		return false
	}
	return true
}

func loadThreshold(cfg ModelConfig) float64 {
	if cfg.Threshold > 0 && cfg.Threshold <= 1 {
		return cfg.Threshold
	}

	data, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			LogWarn("[MODEL] Failed to read %s: %v", cfg.ConfigFile, err)
		}
		return DefaultThreshold
	}

	var tc thresholdConfig
	if err := json.Unmarshal(data, &tc); err != nil {
		LogWarn("[MODEL] Failed to parse %s: %v", cfg.ConfigFile, err)
		return DefaultThreshold
	}
	if tc.PhishingThreshold <= 0 || tc.PhishingThreshold > 1 {
		LogWarn("[MODEL] Ignoring out-of-range phishing_threshold %.4f in %s", tc.PhishingThreshold, cfg.ConfigFile)
		return DefaultThreshold
	}
	LogInfo("[MODEL] Loaded threshold %.4f from %s", tc.PhishingThreshold, cfg.ConfigFile)
	return tc.PhishingThreshold
}
