package forest

import (
	"bytes"
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobs draws n points per class around well-separated centres in two
// dimensions.
func blobs(n int, seed uint64) ([][]float64, []int) {
	rng := rand.New(rand.NewPCG(seed, 1))
	centres := map[int][2]float64{0: {0.1, 0.1}, 1: {0.9, 0.1}, 2: {0.1, 0.9}, 3: {0.9, 0.9}}
	var rows [][]float64
	var labels []int
	for c := 0; c < 4; c++ {
		for range n {
			ctr := centres[c]
			rows = append(rows, []float64{ctr[0] + (rng.Float64()-0.5)*0.2, ctr[1] + (rng.Float64()-0.5)*0.2})
			labels = append(labels, c)
		}
	}
	return rows, labels
}

func TestTrain_SeparatesClasses(t *testing.T) {
	rows, labels := blobs(40, 3)
	f, err := Train(context.Background(), []string{"ndvi", "mndwi"}, rows, labels, Options{Trees: 50, Workers: 4, Seed: 9})
	require.NoError(t, err)
	assert.Len(t, f.Trees, 50)
	assert.Equal(t, []int{0, 1, 2, 3}, f.Classes)

	assert.Equal(t, 0, f.Predict([]float64{0.12, 0.08}))
	assert.Equal(t, 1, f.Predict([]float64{0.88, 0.12}))
	assert.Equal(t, 2, f.Predict([]float64{0.05, 0.95}))
	assert.Equal(t, 3, f.Predict([]float64{0.92, 0.91}))
}

func TestTrain_DeterministicAcrossWorkerCounts(t *testing.T) {
	rows, labels := blobs(25, 5)
	features := []string{"a", "b"}

	a, err := Train(context.Background(), features, rows, labels, Options{Trees: 20, Workers: 1, Seed: 11})
	require.NoError(t, err)
	b, err := Train(context.Background(), features, rows, labels, Options{Trees: 20, Workers: 8, Seed: 11})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Train(context.Background(), features, rows, labels, Options{Trees: 20, Workers: 8, Seed: 12})
	require.NoError(t, err)
	assert.NotEqual(t, a.Trees, c.Trees)
}

func TestTrain_InsufficientData(t *testing.T) {
	tests := []struct {
		name   string
		rows   [][]float64
		labels []int
	}{
		{"empty", nil, nil},
		{"single class", [][]float64{{1}, {2}, {3}}, []int{2, 2, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Train(context.Background(), []string{"x"}, tt.rows, tt.labels, Options{})
			assert.ErrorIs(t, err, ErrInsufficientTrainingData)
		})
	}
}

func TestTrain_ShapeErrors(t *testing.T) {
	_, err := Train(context.Background(), []string{"x"}, [][]float64{{1}, {2}}, []int{0}, Options{})
	require.Error(t, err)
	_, err = Train(context.Background(), []string{"x", "y"}, [][]float64{{1}, {2}}, []int{0, 1}, Options{})
	require.Error(t, err)
}

func TestTrain_TwoClassesNonContiguousCodes(t *testing.T) {
	rows := [][]float64{{0}, {0.1}, {0.2}, {0.8}, {0.9}, {1}}
	labels := []int{3, 3, 3, 1, 1, 1}
	f, err := Train(context.Background(), []string{"x"}, rows, labels, Options{Trees: 5, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, f.Classes)
	for _, x := range []float64{0, 0.05, 0.15} {
		assert.Equal(t, 3, f.Predict([]float64{x}))
	}
	for _, x := range []float64{0.85, 0.95, 1} {
		assert.Equal(t, 1, f.Predict([]float64{x}))
	}
}

func TestPredict_TieGoesToLowestCode(t *testing.T) {
	leaf := func(c int) Tree { return Tree{Nodes: []Node{{Leaf: true, Class: c}}} }
	f := &Forest{Features: []string{"x"}, Classes: []int{0, 2}, Trees: []Tree{leaf(1), leaf(0)}}
	assert.Equal(t, 0, f.Predict([]float64{0}))
}

func TestGini(t *testing.T) {
	assert.InDelta(t, 0.0, gini([]int{4, 0}, 4), 1e-12)
	assert.InDelta(t, 0.5, gini([]int{2, 2}, 4), 1e-12)
	assert.InDelta(t, 0.75, gini([]int{1, 1, 1, 1}, 4), 1e-12)
}

func TestSaveLoad(t *testing.T) {
	rows, labels := blobs(10, 7)
	f, err := Train(context.Background(), []string{"a", "b"}, rows, labels, Options{Trees: 5, Seed: 2})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, f))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, f.Features, loaded.Features)
	for _, row := range rows {
		assert.Equal(t, f.Predict(row), loaded.Predict(row))
	}
}

func TestLoad_RejectsMalformed(t *testing.T) {
	tests := []string{
		`{"features":["a"],"classes":[0,1],"trees":[]}`,
		`{"features":["a"],"classes":[0],"trees":[{"nodes":[{"leaf":true}]}]}`,
		`{"features":["a"],"classes":[0,1],"trees":[{"nodes":[{"feature":0,"left":5,"right":6}]}]}`,
		`{"features":["a"],"classes":[0,1],"trees":[{"nodes":[{"leaf":true,"class":7}]}]}`,
		`not json`,
	}
	for _, doc := range tests {
		_, err := Load(bytes.NewBufferString(doc))
		assert.Error(t, err, doc)
	}
}
