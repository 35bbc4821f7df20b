package intelligence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/recall-go/pkg/intelligence"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, intelligence.CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, intelligence.CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, intelligence.CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, intelligence.CosineSimilarity([]float64{1}, []float64{1, 0}))
	assert.Equal(t, 0.0, intelligence.CosineSimilarity([]float64{0, 0}, []float64{1, 0}))
}

func TestCentroid(t *testing.T) {
	c := intelligence.Centroid([][]float64{{1, 0}, {0, 1}, {1, 2, 3}})
	assert.InDelta(t, 0.7071, c[0], 1e-4)
	assert.InDelta(t, 0.7071, c[1], 1e-4)
	assert.Nil(t, intelligence.Centroid(nil))
}
