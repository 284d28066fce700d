/*
File: bundle_test.go
Version: 1.0.0
Description: Tests for artifact candidate resolution and threshold loading.
*/

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stumpForestJSON = `{
	"kind": "random_forest",
	"n_features": 1,
	"trees": [{
		"feature": [0, -2, -2],
		"threshold": [0.5, 0, 0],
		"left": [1, -1, -1],
		"right": [2, -1, -1],
		"value": [[0, 0], [10, 0], [0, 10]]
	}]
}`

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testModelConfig(dir string) ModelConfig {
	return ModelConfig{
		BundleCandidates:     []string{filepath.Join(dir, "model.json")},
		PipelineCandidates:   []string{filepath.Join(dir, "pipeline.json")},
		ClassifierCandidates: []string{filepath.Join(dir, "classifier.json")},
		ConfigFile:           filepath.Join(dir, "model_config.json"),
	}
}

func TestLoadModelBundlePrefersBundle(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "model.json", fmt.Sprintf(`{"model": %s, "features": ["url_length"]}`, stumpForestJSON))
	writeArtifact(t, dir, "classifier.json", stumpForestJSON)

	b := LoadModelBundle(testModelConfig(dir))
	require.NotNil(t, b)
	assert.Equal(t, "bundle", b.SourceKind)
	assert.Equal(t, []string{"url_length"}, b.FeatureNames)
	assert.Nil(t, b.Scaler)
	assert.Equal(t, 0.5, b.Threshold)
	assert.Len(t, b.Strategies(), 1)
}

func TestLoadModelBundlePipelineFallback(t *testing.T) {
	dir := t.TempDir()
	pipeline := fmt.Sprintf(`{
		"steps": [
			{"name": "scaler", "scaler": {"mean": [0], "scale": [1]}},
			{"name": "clf", "model": %s}
		]
	}`, stumpForestJSON)
	writeArtifact(t, dir, "pipeline.json", pipeline)
	writeArtifact(t, dir, "classifier.json", stumpForestJSON)

	b := LoadModelBundle(testModelConfig(dir))
	require.NotNil(t, b)
	assert.Equal(t, "pipeline", b.SourceKind)
	require.NotNil(t, b.Scaler)
	require.NotNil(t, b.Fallback)
	assert.Len(t, b.Strategies(), 2)
}

func TestLoadModelBundleSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "model.json", `{not json`)
	writeArtifact(t, dir, "classifier.json", stumpForestJSON)

	b := LoadModelBundle(testModelConfig(dir))
	require.NotNil(t, b)
	assert.Equal(t, "classifier", b.SourceKind)
}

func TestLoadModelBundleDegraded(t *testing.T) {
	b := LoadModelBundle(testModelConfig(t.TempDir()))
	assert.Nil(t, b)
}

func TestThresholdFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "model.json", fmt.Sprintf(`{"model": %s}`, stumpForestJSON))
	writeArtifact(t, dir, "model_config.json", `{"phishing_threshold": 0.7}`)

	b := LoadModelBundle(testModelConfig(dir))
	require.NotNil(t, b)
	assert.Equal(t, 0.7, b.Threshold)
}

func TestThresholdYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "model.json", fmt.Sprintf(`{"model": %s}`, stumpForestJSON))
	writeArtifact(t, dir, "model_config.json", `{"phishing_threshold": 0.7}`)

	cfg := testModelConfig(dir)
	cfg.Threshold = 0.3
	b := LoadModelBundle(cfg)
	require.NotNil(t, b)
	assert.Equal(t, 0.3, b.Threshold)
}

func TestThresholdOutOfRangeIgnored(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "model.json", fmt.Sprintf(`{"model": %s}`, stumpForestJSON))
	writeArtifact(t, dir, "model_config.json", `{"phishing_threshold": 1.5}`)

	b := LoadModelBundle(testModelConfig(dir))
	require.NotNil(t, b)
	assert.Equal(t, DefaultThreshold, b.Threshold)
}
