/*
File: model_test.go
Version: 1.0.0
Description: Tests for the classifier implementations and the scaler.
*/

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stumpTree splits on feature 0 at 0.5: low goes to class 0, high to class 1.
func stumpTree() forestTree {
	return forestTree{
		Feature:   []int{0, -2, -2},
		Threshold: []float64{0.5, 0, 0},
		Left:      []int{1, -1, -1},
		Right:     []int{2, -1, -1},
		Value:     [][2]float64{{0, 0}, {10, 0}, {0, 10}},
	}
}

func TestForestTreeValidate(t *testing.T) {
	tree := stumpTree()
	assert.NoError(t, tree.validate())

	bad := stumpTree()
	bad.Left[0] = 99
	assert.Error(t, bad.validate())

	empty := forestTree{}
	assert.Error(t, empty.validate())
}

func TestRandomForestPredict(t *testing.T) {
	rf := &RandomForest{trees: []forestTree{stumpTree(), stumpTree()}, nFeatures: 1, hasProba: true}

	assert.Equal(t, 0, rf.Predict([]float64{0.0}))
	assert.Equal(t, 1, rf.Predict([]float64{1.0}))

	p, ok := rf.PredictProba([]float64{1.0})
	require.True(t, ok)
	assert.Equal(t, 1.0, p)

	p, ok = rf.PredictProba([]float64{0.0})
	require.True(t, ok)
	assert.Equal(t, 0.0, p)
}

func TestRandomForestNoProba(t *testing.T) {
	rf := &RandomForest{trees: []forestTree{stumpTree()}, nFeatures: 1, hasProba: false}
	_, ok := rf.PredictProba([]float64{1.0})
	assert.False(t, ok)
	assert.Equal(t, 1, rf.Predict([]float64{1.0}))
}

func TestLogisticRegression(t *testing.T) {
	lr := &LogisticRegression{bias: -1, coefs: []float64{2}, hasProba: true}

	assert.Equal(t, 1, lr.Predict([]float64{1}))  // -1 + 2 = 1 >= 0
	assert.Equal(t, 0, lr.Predict([]float64{0}))  // -1 < 0

	p, ok := lr.PredictProba([]float64{0.5}) // decision = 0 -> sigmoid = 0.5
	require.True(t, ok)
	assert.InDelta(t, 0.5, p, 1e-9)
}

func TestBuildClassifier(t *testing.T) {
	tree := stumpTree()

	clf, err := buildClassifier(&classifierArtifact{Kind: "random_forest", NFeatures: 1, Trees: []forestTree{tree}})
	require.NoError(t, err)
	assert.Equal(t, "random_forest", clf.Kind())

	clf, err = buildClassifier(&classifierArtifact{Kind: "logistic_regression", Bias: 0, Coefficients: []float64{1}})
	require.NoError(t, err)
	assert.Equal(t, "logistic_regression", clf.Kind())

	_, err = buildClassifier(&classifierArtifact{Kind: "svm"})
	assert.Error(t, err)

	_, err = buildClassifier(&classifierArtifact{})
	assert.Error(t, err)

	_, err = buildClassifier(&classifierArtifact{Kind: "random_forest"})
	assert.Error(t, err)
}

func TestBuildClassifierProbaFlag(t *testing.T) {
	off := false
	clf, err := buildClassifier(&classifierArtifact{
		Kind: "random_forest", NFeatures: 1, Trees: []forestTree{stumpTree()}, Proba: &off,
	})
	require.NoError(t, err)
	_, ok := clf.PredictProba([]float64{1})
	assert.False(t, ok)
}

func TestStandardScaler(t *testing.T) {
	s := &StandardScaler{Mean: []float64{1, 2}, Scale: []float64{2, 0}}

	out, err := s.Transform([]float64{3, 5})
	require.NoError(t, err)
	assert.Equal(t, 1.0, out[0])
	// Zero scale passes the centered value through unscaled.
	assert.Equal(t, 3.0, out[1])

	_, err = s.Transform([]float64{1})
	assert.Error(t, err)
}
