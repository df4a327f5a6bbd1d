package ml

import (
	"fmt"
)

// Classifier returns the positive-class probability for one scaled sample.
type Classifier interface {
	PredictProba(x []float64) (float64, error)
	FeatureImportances() []float64
	NFeatures() int
}

// DecisionTree is a binary tree in flat array form. Node i is a leaf when
// ChildrenLeft[i] == -1; otherwise samples with x[Feature[i]] <= Threshold[i]
// go left. Value[i] holds the per-class sample weights reaching node i.
type DecisionTree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

const leafNode = -1

// Validate checks array lengths and child indices so Predict cannot loop or index out of range.
func (t *DecisionTree) Validate(nFeatures int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("tree arrays disagree on node count %d", n)
	}
	for i := 0; i < n; i++ {
		left, right := t.ChildrenLeft[i], t.ChildrenRight[i]
		if left == leafNode {
			if len(t.Value[i]) < 2 {
				return fmt.Errorf("leaf %d has %d class values, want 2", i, len(t.Value[i]))
			}
			continue
		}
		// children are always stored after their parent
		if left <= i || left >= n || right <= i || right >= n {
			return fmt.Errorf("node %d has invalid children (%d, %d)", i, left, right)
		}
		if f := t.Feature[i]; f < 0 || f >= nFeatures {
			return fmt.Errorf("node %d splits on feature %d outside [0,%d)", i, f, nFeatures)
		}
	}
	return nil
}

// Predict returns the class-1 fraction of the leaf x lands in.
func (t *DecisionTree) Predict(x []float64) float64 {
	node := 0
	for t.ChildrenLeft[node] != leafNode {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	values := t.Value[node]
	total := 0.0
	for _, v := range values {
		total += v
	}
	if total == 0 {
		return 0
	}
	return values[1] / total
}

// RandomForest averages the leaf probabilities of its trees.
type RandomForest struct {
	Trees       []DecisionTree
	Importances []float64
}

// NewRandomForest validates every tree against the feature count.
func NewRandomForest(trees []DecisionTree, importances []float64) (*RandomForest, error) {
	if len(trees) == 0 {
		return nil, fmt.Errorf("random forest has no trees")
	}
	nFeatures := len(importances)
	if nFeatures == 0 {
		return nil, fmt.Errorf("random forest has no feature importances")
	}
	for i := range trees {
		if err := trees[i].Validate(nFeatures); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return &RandomForest{Trees: trees, Importances: importances}, nil
}

// PredictProba implements Classifier.
func (f *RandomForest) PredictProba(x []float64) (float64, error) {
	if len(x) != len(f.Importances) {
		return 0, fmt.Errorf("forest expects %d features, got %d", len(f.Importances), len(x))
	}
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return clampUnit(sum / float64(len(f.Trees))), nil
}

// FeatureImportances implements Classifier.
func (f *RandomForest) FeatureImportances() []float64 {
	return f.Importances
}

// NFeatures implements Classifier.
func (f *RandomForest) NFeatures() int {
	return len(f.Importances)
}

func clampUnit(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
