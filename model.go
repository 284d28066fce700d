/*
File: model.go
Version: 2.0.1
Description: Classifier implementations and the fitted value scaler.
             Artifacts are JSON exports of the offline training run: tree
             ensembles as flat node arrays, logistic models as bias plus
             coefficients.
*/

package main

import (
	"fmt"
	"math"
)

// Classifier is the inference capability a loaded artifact exposes.
// PredictProba reports ok=false when the underlying model cannot produce a
// class-1 probability; callers then fall back to the raw class label.
type Classifier interface {
	Kind() string
	NumFeatures() int
	Predict(vector []float64) int
	PredictProba(vector []float64) (float64, bool)
}

// --- Random Forest ---

// forestTree is one decision tree in flat-array form. Node i is a leaf when
// Left[i] < 0; Value[i] holds the training class counts at that node.
type forestTree struct {
	Feature   []int        `json:"feature"`
	Threshold []float64    `json:"threshold"`
	Left      []int        `json:"left"`
	Right     []int        `json:"right"`
	Value     [][2]float64 `json:"value"`
}

func (t *forestTree) validate() error {
	n := len(t.Feature)
	if n == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	if len(t.Threshold) != n || len(t.Left) != n || len(t.Right) != n || len(t.Value) != n {
		return fmt.Errorf("tree arrays disagree on node count")
	}
	for i := 0; i < n; i++ {
		if t.Left[i] >= n || t.Right[i] >= n {
			return fmt.Errorf("tree node %d links out of range", i)
		}
	}
	return nil
}

// classShare walks the tree and returns the class-1 fraction at the leaf.
func (t *forestTree) classShare(vector []float64) float64 {
	node := 0
	for t.Left[node] >= 0 {
		f := t.Feature[node]
		var x float64
		if f >= 0 && f < len(vector) {
			x = vector[f]
		}
		if x <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	c0 := t.Value[node][0]
	c1 := t.Value[node][1]
	total := c0 + c1
	if total <= 0 {
		return 0
	}
	return c1 / total
}

type RandomForest struct {
	trees     []forestTree
	nFeatures int
	hasProba  bool
}

func (rf *RandomForest) Kind() string     { return "random_forest" }
func (rf *RandomForest) NumFeatures() int { return rf.nFeatures }

func (rf *RandomForest) Predict(vector []float64) int {
	votes := 0
	for i := range rf.trees {
		if rf.trees[i].classShare(vector) >= 0.5 {
			votes++
		}
	}
	if votes*2 >= len(rf.trees) {
		return 1
	}
	return 0
}

func (rf *RandomForest) PredictProba(vector []float64) (float64, bool) {
	if !rf.hasProba || len(rf.trees) == 0 {
		return 0, false
	}
	var sum float64
	for i := range rf.trees {
		sum += rf.trees[i].classShare(vector)
	}
	return sum / float64(len(rf.trees)), true
}

// --- Logistic Regression ---

type LogisticRegression struct {
	bias     float64
	coefs    []float64
	hasProba bool
}

func (lr *LogisticRegression) Kind() string     { return "logistic_regression" }
func (lr *LogisticRegression) NumFeatures() int { return len(lr.coefs) }

func (lr *LogisticRegression) decision(vector []float64) float64 {
	sum := lr.bias
	for i, c := range lr.coefs {
		if i < len(vector) {
			sum += c * vector[i]
		}
	}
	return sum
}

func (lr *LogisticRegression) Predict(vector []float64) int {
	if lr.decision(vector) >= 0 {
		return 1
	}
	return 0
}

func (lr *LogisticRegression) PredictProba(vector []float64) (float64, bool) {
	if !lr.hasProba {
		return 0, false
	}
	return 1.0 / (1.0 + math.Exp(-lr.decision(vector))), true
}

// --- Artifact decoding ---

// classifierArtifact is the union of the classifier fields an artifact may
// carry; Kind selects which are meaningful.
type classifierArtifact struct {
	Kind         string       `json:"kind"`
	Proba        *bool        `json:"proba"`
	NFeatures    int          `json:"n_features"`
	Trees        []forestTree `json:"trees"`
	Bias         float64      `json:"bias"`
	Coefficients []float64    `json:"coefficients"`
}

func buildClassifier(art *classifierArtifact) (Classifier, error) {
	hasProba := art.Proba == nil || *art.Proba

	switch art.Kind {
	case "random_forest", "extra_trees":
		if len(art.Trees) == 0 {
			return nil, fmt.Errorf("%s artifact has no trees", art.Kind)
		}
		for i := range art.Trees {
			if err := art.Trees[i].validate(); err != nil {
				return nil, fmt.Errorf("tree %d: %w", i, err)
			}
		}
		return &RandomForest{trees: art.Trees, nFeatures: art.NFeatures, hasProba: hasProba}, nil

	case "logistic_regression":
		if len(art.Coefficients) == 0 {
			return nil, fmt.Errorf("logistic_regression artifact has no coefficients")
		}
		return &LogisticRegression{bias: art.Bias, coefs: art.Coefficients, hasProba: hasProba}, nil

	case "":
		return nil, fmt.Errorf("artifact missing classifier kind")
	default:
		return nil, fmt.Errorf("unrecognized classifier kind '%s'", art.Kind)
	}
}

// --- Scaler ---

// StandardScaler applies the per-feature affine transform fitted offline.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Transform(vector []float64) ([]float64, error) {
	if len(s.Mean) != len(vector) || len(s.Scale) != len(vector) {
		return nil, fmt.Errorf("scaler fitted on %d features, vector has %d", len(s.Mean), len(vector))
	}
	out := make([]float64, len(vector))
	for i, v := range vector {
		sc := s.Scale[i]
		if sc == 0 {
			sc = 1
		}
		out[i] = (v - s.Mean[i]) / sc
	}
	return out, nil
}
