package cluster

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobs returns count points around each of the given axis directions.
func blobs(dim, count int, axes ...int) ([][]float32, []int) {
	rng := rand.New(rand.NewPCG(7, 7))
	var points [][]float32
	var truth []int
	for b, axis := range axes {
		for i := 0; i < count; i++ {
			p := make([]float32, dim)
			for d := range p {
				p[d] = float32(rng.NormFloat64() * 0.05)
			}
			p[axis] += 5
			points = append(points, p)
			truth = append(truth, b)
		}
	}
	return points, truth
}

func assertPartition(t *testing.T, groups [][]int, n int) {
	t.Helper()
	seen := make(map[int]bool)
	for _, g := range groups {
		require.NotEmpty(t, g)
		for _, i := range g {
			assert.False(t, seen[i], "index %d appears twice", i)
			seen[i] = true
		}
	}
	assert.Len(t, seen, n)
}

func TestRun_SeparatesBlobs(t *testing.T) {
	points, truth := blobs(16, 8, 0, 5, 11)

	res, err := Run(points, TopicParams)
	require.NoError(t, err)
	assertPartition(t, res.Groups, len(points))
	require.Len(t, res.Groups, 3)

	for _, g := range res.Groups {
		assert.Len(t, g, 8)
		for _, i := range g {
			assert.Equal(t, truth[g[0]], truth[i], "group mixes blobs")
		}
	}
	for _, l := range res.Labels {
		assert.NotEqual(t, Noise, l)
	}
}

func TestRun_IsDeterministic(t *testing.T) {
	points, _ := blobs(12, 6, 1, 4)

	first, err := Run(points, ThreadParams)
	require.NoError(t, err)
	second, err := Run(points, ThreadParams)
	require.NoError(t, err)

	assert.Equal(t, first.Labels, second.Labels)
	assert.Equal(t, first.Groups, second.Groups)
	assert.Equal(t, first.Layout, second.Layout)
}

func TestRun_TooFewPointsIsOneNoiseGroup(t *testing.T) {
	points, _ := blobs(8, 3, 2)

	res, err := Run(points, TopicParams)
	require.NoError(t, err)
	assert.Equal(t, []int{Noise, Noise, Noise}, res.Labels)
	assert.Equal(t, [][]int{{0, 1, 2}}, res.Groups)
}

func TestRun_SinglePoint(t *testing.T) {
	res, err := Run([][]float32{{0.3, 0.4}}, ThreadParams)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0}}, res.Groups)
	assert.Equal(t, [][]float64{{0, 0}}, res.Layout)
}

func TestRun_InvalidInput(t *testing.T) {
	_, err := Run(nil, TopicParams)
	assert.ErrorIs(t, err, ErrNoPoints)

	_, err = Run([][]float32{{1, 2}, {1}}, TopicParams)
	assert.Error(t, err)
}

func TestOrder(t *testing.T) {
	groups := order([]int{1, 0, 0, Noise, 1, 2, 2, 2})
	assert.Equal(t, [][]int{{5, 6, 7}, {0, 4}, {1, 2}, {3}}, groups)
}

func TestHDBSCAN_TwoClumpsAndOutlier(t *testing.T) {
	clump := func(cx, cy float64) [][]float64 {
		return [][]float64{{cx, cy}, {cx + 0.1, cy}, {cx, cy + 0.1}, {cx + 0.1, cy + 0.1}, {cx + 0.05, cy + 0.05}}
	}
	x := append(clump(0, 0), clump(10, 10)...)
	x = append(x, []float64{5, -20})

	h := runHDBSCAN(x, 5)
	require.Len(t, h.selected, 2)
	for i := 1; i < 5; i++ {
		assert.Equal(t, h.labels[0], h.labels[i])
		assert.Equal(t, h.labels[5], h.labels[5+i])
	}
	assert.NotEqual(t, h.labels[0], h.labels[5])
	assert.NotEqual(t, Noise, h.labels[0])
	assert.Equal(t, Noise, h.labels[10])

	labels := assignNoise(x, h)
	assert.Equal(t, labels[0], labels[10], "outlier joins the closer clump")
}

func TestAssignNoise_FallsBackToNearestNeighbours(t *testing.T) {
	clump := func(cx, cy float64) [][]float64 {
		return [][]float64{{cx, cy}, {cx + 0.1, cy}, {cx, cy + 0.1}, {cx + 0.1, cy + 0.1}, {cx + 0.05, cy + 0.05}}
	}
	x := append(clump(0, 0), clump(10, 10)...)
	x = append(x, []float64{25, 25})

	h := runHDBSCAN(x, 5)
	require.Len(t, h.selected, 2)
	require.Equal(t, Noise, h.labels[10])

	// With no outlier signal every soft score is zero.
	for l := range h.maxLam {
		h.maxLam[l] = 0
	}
	for _, s := range h.membership(x, 10) {
		require.LessOrEqual(t, s, 0.0)
	}

	labels := assignNoise(x, h)
	assert.Equal(t, h.labels[5], labels[10], "the point takes the label of its nearest clustered neighbours")
	for i := 0; i < 10; i++ {
		assert.Equal(t, h.labels[i], labels[i], "clustered points keep their label")
	}
}

func TestKNNVote(t *testing.T) {
	x := [][]float64{{0, 0}, {1, 0}, {0, 1}, {9, 9}, {0.5, 0.5}}
	labels := []int{0, 0, 1, 1, Noise}
	assert.Equal(t, 0, knnVote(x, 4, []int{0, 1, 2, 3}, labels, 3))
	assert.Equal(t, 0, knnVote(x, 4, []int{1, 2}, labels, 2), "ties go to the smaller label")
}

func TestFitCurve(t *testing.T) {
	a, b := curveParams()
	assert.InDelta(t, 1.9, a, 0.2)
	assert.InDelta(t, 0.8, b, 0.1)
}

func TestReducePCA(t *testing.T) {
	x := [][]float64{{1, 2, 3}, {2, 4, 6}, {3, 6, 9}, {4, 8, 12.5}}
	out := reducePCA(x)
	require.Len(t, out, 4)
	assert.Len(t, out[0], 3, "min(50, n-1, dim) components")

	one := reducePCA([][]float64{{1, 2}})
	assert.Equal(t, [][]float64{{1, 2}}, one)
}
