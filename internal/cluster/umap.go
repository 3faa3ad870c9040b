package cluster

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

const (
	layoutMinDist       = 0.01
	layoutSpread        = 1.0
	layoutEpochs        = 500
	negativeSampleRate  = 5
	gradientClip        = 4.0
	smoothKNNIterations = 64
	smoothKNNTolerance  = 1e-5
	minKDistScale       = 1e-3
)

// curveParams fits 1/(1 + a*d^(2b)) to the target membership curve for
// layoutMinDist and layoutSpread. The fit is computed once.
var curveParams = sync.OnceValues(func() (float64, float64) {
	return fitCurve(layoutMinDist, layoutSpread)
})

func fitCurve(minDist, spread float64) (float64, float64) {
	const samples = 300
	xs := make([]float64, samples)
	ys := make([]float64, samples)
	floats.Span(xs, 0, 3*spread)
	for i, x := range xs {
		if x < minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist) / spread)
		}
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			a, b := p[0], p[1]
			if a <= 0 || b <= 0 {
				return math.Inf(1)
			}
			var sse float64
			for i, x := range xs {
				d := 1/(1+a*math.Pow(x, 2*b)) - ys[i]
				sse += d * d
			}
			return sse
		},
	}
	res, err := optimize.Minimize(problem, []float64{1.8, 0.8}, nil, &optimize.NelderMead{})
	if err != nil || res == nil || res.X[0] <= 0 || res.X[1] <= 0 {
		// Published values for min_dist=0.01, spread=1.
		return 1.896, 0.8006
	}
	return res.X[0], res.X[1]
}

// edge is one weighted entry of the symmetric fuzzy graph.
type edge struct {
	head, tail int
	weight     float64
}

// embed lays x out in two dimensions: a fuzzy simplicial set is built from
// the cosine k-nearest-neighbour graph and optimised with seeded SGD and
// negative sampling.
func embed(x [][]float64, nNeighbors int, seed int64) [][]float64 {
	n := len(x)
	if n == 1 {
		return [][]float64{{0, 0}}
	}

	k := min(nNeighbors, n)
	idx, dist := cosineKNN(x, k)
	edges := fuzzyGraph(idx, dist, k)

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	y := initLayout(x, rng)
	a, b := curveParams()
	optimizeLayout(y, edges, a, b, rng)
	return y
}

// cosineKNN returns, for every point, its k nearest points by cosine
// distance, itself first. Ties keep index order.
func cosineKNN(x [][]float64, k int) ([][]int, [][]float64) {
	n := len(x)
	norms := make([]float64, n)
	for i, row := range x {
		norms[i] = floats.Norm(row, 2)
	}

	idx := make([][]int, n)
	dist := make([][]float64, n)
	cand := make([]int, n)
	d := make([]float64, n)
	for i := range x {
		for j := range x {
			cand[j] = j
			d[j] = cosineDistance(x[i], x[j], norms[i], norms[j])
		}
		d[i] = -1 // self sorts first
		sort.SliceStable(cand, func(a, b int) bool { return d[cand[a]] < d[cand[b]] })

		idx[i] = append([]int(nil), cand[:k]...)
		dist[i] = make([]float64, k)
		for m, j := range idx[i] {
			dist[i][m] = math.Max(d[j], 0)
		}
	}
	return idx, dist
}

func cosineDistance(a, b []float64, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - floats.Dot(a, b)/(na*nb)
}

// smoothKNN finds per-point rho (distance to the nearest neighbour) and
// sigma such that the neighbour memberships sum to log2(k).
func smoothKNN(dist [][]float64, k int) (sigmas, rhos []float64) {
	n := len(dist)
	target := math.Log2(float64(k))
	sigmas = make([]float64, n)
	rhos = make([]float64, n)

	var total float64
	var count int
	for _, row := range dist {
		for _, v := range row {
			total += v
			count++
		}
	}
	meanAll := total / float64(max(count, 1))

	for i, row := range dist {
		for _, v := range row[1:] {
			if v > 0 {
				rhos[i] = v
				break
			}
		}

		lo, hi, mid := 0.0, math.Inf(1), 1.0
		for iter := 0; iter < smoothKNNIterations; iter++ {
			var psum float64
			for _, v := range row[1:] {
				if d := v - rhos[i]; d > 0 {
					psum += math.Exp(-d / mid)
				} else {
					psum++
				}
			}
			if math.Abs(psum-target) < smoothKNNTolerance {
				break
			}
			if psum > target {
				hi = mid
				mid = (lo + hi) / 2
			} else {
				lo = mid
				if math.IsInf(hi, 1) {
					mid *= 2
				} else {
					mid = (lo + hi) / 2
				}
			}
		}

		if rhos[i] > 0 {
			if m := floats.Sum(row) / float64(len(row)); mid < minKDistScale*m {
				mid = minKDistScale * m
			}
		} else if mid < minKDistScale*meanAll {
			mid = minKDistScale * meanAll
		}
		sigmas[i] = mid
	}
	return sigmas, rhos
}

// fuzzyGraph builds the symmetric membership graph w = a + aT - a*aT and
// drops edges too weak to be sampled during optimisation.
func fuzzyGraph(idx [][]int, dist [][]float64, k int) []edge {
	sigmas, rhos := smoothKNN(dist, k)

	directed := make(map[[2]int]float64)
	for i := range idx {
		for m := 1; m < len(idx[i]); m++ {
			j := idx[i][m]
			w := 1.0
			if d := dist[i][m] - rhos[i]; d > 0 {
				w = math.Exp(-d / sigmas[i])
			}
			directed[[2]int{i, j}] = w
		}
	}

	sym := make(map[[2]int]float64)
	for key, w := range directed {
		wt := directed[[2]int{key[1], key[0]}]
		v := w + wt - w*wt
		sym[key] = v
		sym[[2]int{key[1], key[0]}] = v
	}

	var maxW float64
	for _, w := range sym {
		maxW = math.Max(maxW, w)
	}
	edges := make([]edge, 0, len(sym))
	for key, w := range sym {
		if w < maxW/layoutEpochs {
			continue
		}
		edges = append(edges, edge{head: key[0], tail: key[1], weight: w})
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].head != edges[b].head {
			return edges[a].head < edges[b].head
		}
		return edges[a].tail < edges[b].tail
	})
	return edges
}

// initLayout starts from the two leading feature columns scaled to [-10, 10],
// with a small seeded jitter so coincident points can separate.
func initLayout(x [][]float64, rng *rand.Rand) [][]float64 {
	n := len(x)
	y := make([][]float64, n)
	for d := 0; d < 2; d++ {
		col := make([]float64, n)
		if d < len(x[0]) {
			for i := range x {
				col[i] = x[i][d]
			}
		}
		scale := 0.0
		for _, v := range col {
			scale = math.Max(scale, math.Abs(v))
		}
		for i := range col {
			if scale > 0 {
				col[i] = 10 * col[i] / scale
			} else {
				col[i] = rng.Float64()*20 - 10
			}
			if y[i] == nil {
				y[i] = make([]float64, 2)
			}
			y[i][d] = col[i] + 1e-4*(rng.Float64()-0.5)
		}
	}
	return y
}

func clip(v float64) float64 {
	return math.Max(-gradientClip, math.Min(gradientClip, v))
}

// optimizeLayout runs attractive updates along graph edges and repulsive
// updates against randomly sampled points, with a linearly decaying rate.
func optimizeLayout(y [][]float64, edges []edge, a, b float64, rng *rand.Rand) {
	if len(edges) == 0 {
		return
	}
	n := len(y)
	var maxW float64
	for _, e := range edges {
		maxW = math.Max(maxW, e.weight)
	}

	perSample := make([]float64, len(edges))
	perNegative := make([]float64, len(edges))
	nextSample := make([]float64, len(edges))
	nextNegative := make([]float64, len(edges))
	for i, e := range edges {
		perSample[i] = maxW / e.weight
		perNegative[i] = perSample[i] / negativeSampleRate
		nextSample[i] = perSample[i]
		nextNegative[i] = perNegative[i]
	}

	for epoch := 0; epoch < layoutEpochs; epoch++ {
		alpha := 1 - float64(epoch)/float64(layoutEpochs)
		for ei, e := range edges {
			if nextSample[ei] > float64(epoch) {
				continue
			}
			cur, other := y[e.head], y[e.tail]

			d2 := sqDist(cur, other)
			var coeff float64
			if d2 > 0 {
				coeff = -2 * a * b * math.Pow(d2, b-1) / (a*math.Pow(d2, b) + 1)
			}
			for d := 0; d < 2; d++ {
				g := clip(coeff * (cur[d] - other[d]))
				cur[d] += g * alpha
				other[d] -= g * alpha
			}
			nextSample[ei] += perSample[ei]

			negatives := int((float64(epoch) - nextNegative[ei]) / perNegative[ei])
			for p := 0; p < negatives; p++ {
				kk := rng.IntN(n)
				if kk == e.head {
					continue
				}
				other := y[kk]
				d2 := sqDist(cur, other)
				var coeff float64
				if d2 > 0 {
					coeff = 2 * b / ((0.001 + d2) * (a*math.Pow(d2, b) + 1))
				}
				for d := 0; d < 2; d++ {
					g := gradientClip
					if coeff > 0 {
						g = clip(coeff * (cur[d] - other[d]))
					}
					cur[d] += g * alpha
				}
			}
			nextNegative[ei] += float64(max(negatives, 0)) * perNegative[ei]
		}
	}
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
