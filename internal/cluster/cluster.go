// Package cluster groups embedding vectors into topics and threads.
//
// Run reduces the vectors with PCA, lays them out in two dimensions with a
// UMAP-style fuzzy-graph embedding, clusters the layout with HDBSCAN and then
// assigns every noise point it can to a cluster. The whole pipeline is
// deterministic for a given seed.
package cluster

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultSeed seeds the layout when Params.Seed is zero.
const DefaultSeed int64 = 42

// Noise is the label of points that belong to no cluster.
const Noise = -1

// ErrNoPoints is returned when Run is called without input.
var ErrNoPoints = errors.New("cluster: no points to cluster")

// Params controls one clustering pass.
type Params struct {
	NNeighbors     int   // Neighbourhood size of the layout graph
	MinClusterSize int   // Smallest group HDBSCAN reports as a cluster
	Seed           int64 // Layout seed; zero means DefaultSeed
}

var (
	// TopicParams is used for the coarse pass over a speaker's experiences.
	TopicParams = Params{NNeighbors: 10, MinClusterSize: 5}

	// ThreadParams is used to split one topic into threads.
	ThreadParams = Params{NNeighbors: 2, MinClusterSize: 2}
)

// WithSeed returns a copy of p using seed.
func (p Params) WithSeed(seed int64) Params {
	p.Seed = seed
	return p
}

func (p Params) normalized() Params {
	if p.NNeighbors < 2 {
		p.NNeighbors = 2
	}
	if p.MinClusterSize < 2 {
		p.MinClusterSize = 2
	}
	if p.Seed == 0 {
		p.Seed = DefaultSeed
	}
	return p
}

// Result is the outcome of Run.
type Result struct {
	// Labels holds the final cluster label of every input point. Points that
	// could not be assigned keep Noise.
	Labels []int
	// Groups lists point indices per cluster: clusters by size descending
	// (ties by first appearance), residual noise last.
	Groups [][]int
	// Layout is the two-dimensional embedding the clusters were found in.
	Layout [][]float64
}

// Run clusters points. All points must have the same non-zero dimension.
func Run(points [][]float32, p Params) (*Result, error) {
	if len(points) == 0 {
		return nil, ErrNoPoints
	}
	dim := len(points[0])
	if dim == 0 {
		return nil, fmt.Errorf("cluster: points have no dimensions")
	}
	x := make([][]float64, len(points))
	for i, pt := range points {
		if len(pt) != dim {
			return nil, fmt.Errorf("cluster: point %d has dimension %d, want %d", i, len(pt), dim)
		}
		row := make([]float64, dim)
		for j, v := range pt {
			row[j] = float64(v)
		}
		x[i] = row
	}

	p = p.normalized()
	features := reducePCA(x)
	layout := embed(features, p.NNeighbors, p.Seed)
	h := runHDBSCAN(layout, p.MinClusterSize)
	labels := assignNoise(layout, h)

	return &Result{Labels: labels, Groups: order(labels), Layout: layout}, nil
}

// assignNoise gives every noise point the cluster with the highest soft
// membership. A point whose scores are all non-positive takes the majority
// label of its nearest non-noise neighbours instead.
func assignNoise(layout [][]float64, h *hdbscanResult) []int {
	labels := append([]int(nil), h.labels...)

	var clustered []int
	for i, l := range h.labels {
		if l != Noise {
			clustered = append(clustered, i)
		}
	}
	if len(clustered) == 0 {
		return labels
	}

	k := min(5, len(clustered))
	for i, l := range h.labels {
		if l != Noise {
			continue
		}
		scores := h.membership(layout, i)
		best, bestScore := -1, 0.0
		for c, s := range scores {
			if s > bestScore {
				best, bestScore = c, s
			}
		}
		if best >= 0 {
			labels[i] = best
			continue
		}
		labels[i] = knnVote(layout, i, clustered, h.labels, k)
	}
	return labels
}

// order groups point indices by label. Clusters are sorted by size
// descending with ties broken by first appearance; noise goes last.
func order(labels []int) [][]int {
	var seen []int
	members := make(map[int][]int)
	for i, l := range labels {
		if _, ok := members[l]; !ok {
			seen = append(seen, l)
		}
		members[l] = append(members[l], i)
	}
	sort.SliceStable(seen, func(a, b int) bool {
		la, lb := seen[a], seen[b]
		if (la == Noise) != (lb == Noise) {
			return lb == Noise
		}
		if la == Noise {
			return false
		}
		return len(members[la]) > len(members[lb])
	})

	groups := make([][]int, len(seen))
	for i, l := range seen {
		groups[i] = members[l]
	}
	return groups
}
