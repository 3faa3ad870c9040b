package cluster

import (
	"math"
	"sort"
)

// maxLambda bounds 1/distance for coincident points.
const maxLambda = 1e12

func lambdaOf(d float64) float64 {
	if d <= 1/maxLambda {
		return maxLambda
	}
	return 1 / d
}

// merge is one step of the single-linkage tree. Node n+i is created by
// merges[i]; nodes below n are points.
type merge struct {
	left, right int
	dist        float64
	size        int
}

// condensedCluster is one node of the condensed cluster tree.
type condensedCluster struct {
	parent    int // -1 for the root
	birth     float64
	children  []int
	stability float64
	points    []int // points that fall out of this cluster directly
}

// hdbscanResult holds the flat labels and the tree data needed for soft
// membership.
type hdbscanResult struct {
	labels   []int
	clusters []condensedCluster
	selected []int     // cluster ids, in label order
	pointOf  []int     // cluster each point falls out of
	lambdaP  []float64 // lambda at which each point falls out
	maxLam   []float64 // per selected label: max point lambda in its subtree
	exemplar [][]int   // per selected label: exemplar points
}

// runHDBSCAN clusters 2-D points with min_samples=1, Euclidean distance and
// excess-of-mass selection. The root is never selected as a cluster.
func runHDBSCAN(x [][]float64, minClusterSize int) *hdbscanResult {
	n := len(x)
	res := &hdbscanResult{labels: make([]int, n)}
	for i := range res.labels {
		res.labels[i] = Noise
	}
	if n < 2 {
		return res
	}

	merges := singleLinkage(x)
	res.condense(merges, n, minClusterSize)
	res.selectEOM()
	res.label()
	res.prepareMembership()
	return res
}

// singleLinkage builds the mutual-reachability minimum spanning tree with
// Prim's algorithm and turns it into a single-linkage merge list.
func singleLinkage(x [][]float64) []merge {
	n := len(x)
	dist := func(i, j int) float64 { return math.Sqrt(sqDist(x[i], x[j])) }

	// With min_samples=1 the core distance is the nearest-neighbour distance.
	core := make([]float64, n)
	for i := range x {
		core[i] = math.Inf(1)
		for j := range x {
			if i != j {
				core[i] = math.Min(core[i], dist(i, j))
			}
		}
	}
	reach := func(i, j int) float64 {
		return math.Max(dist(i, j), math.Max(core[i], core[j]))
	}

	type mstEdge struct {
		a, b int
		w    float64
	}
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}
	edges := make([]mstEdge, 0, n-1)
	cur := 0
	inTree[0] = true
	for len(edges) < n-1 {
		next, nextW := -1, math.Inf(1)
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			if w := reach(cur, j); w < best[j] {
				best[j], from[j] = w, cur
			}
			if best[j] < nextW {
				next, nextW = j, best[j]
			}
		}
		inTree[next] = true
		edges = append(edges, mstEdge{a: from[next], b: next, w: nextW})
		cur = next
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].w < edges[j].w })

	parent := make([]int, n)
	node := make([]int, n)
	size := make([]int, n)
	for i := range parent {
		parent[i], node[i], size[i] = i, i, 1
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	merges := make([]merge, 0, n-1)
	for _, e := range edges {
		ra, rb := find(e.a), find(e.b)
		merges = append(merges, merge{left: node[ra], right: node[rb], dist: e.w, size: size[ra] + size[rb]})
		parent[rb] = ra
		size[ra] += size[rb]
		node[ra] = n + len(merges) - 1
	}
	return merges
}

func (r *hdbscanResult) condense(merges []merge, n, minSize int) {
	r.pointOf = make([]int, n)
	r.lambdaP = make([]float64, n)

	sizeOf := func(node int) int {
		if node < n {
			return 1
		}
		return merges[node-n].size
	}
	leaves := func(node int) []int {
		var out []int
		stack := []int{node}
		for len(stack) > 0 {
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if v < n {
				out = append(out, v)
				continue
			}
			m := merges[v-n]
			stack = append(stack, m.right, m.left)
		}
		return out
	}
	fallOut := func(c int, points []int, lambda float64) {
		for _, p := range points {
			r.pointOf[p] = c
			r.lambdaP[p] = lambda
			r.clusters[c].points = append(r.clusters[c].points, p)
			r.clusters[c].stability += lambda - r.clusters[c].birth
		}
	}

	r.clusters = []condensedCluster{{parent: -1}}
	var walk func(node, c int)
	walk = func(node, c int) {
		if node < n {
			fallOut(c, []int{node}, maxLambda)
			return
		}
		m := merges[node-n]
		lambda := lambdaOf(m.dist)
		ls, rs := sizeOf(m.left), sizeOf(m.right)
		switch {
		case ls >= minSize && rs >= minSize:
			for _, child := range []int{m.left, m.right} {
				id := len(r.clusters)
				r.clusters = append(r.clusters, condensedCluster{parent: c, birth: lambda})
				r.clusters[c].children = append(r.clusters[c].children, id)
				r.clusters[c].stability += (lambda - r.clusters[c].birth) * float64(sizeOf(child))
				walk(child, id)
			}
		case ls < minSize && rs < minSize:
			fallOut(c, leaves(m.left), lambda)
			fallOut(c, leaves(m.right), lambda)
		case ls >= minSize:
			fallOut(c, leaves(m.right), lambda)
			walk(m.left, c)
		default:
			fallOut(c, leaves(m.left), lambda)
			walk(m.right, c)
		}
	}
	walk(2*n-2, 0)
}

// selectEOM picks the clusters with excess-of-mass selection. Children have
// larger ids than their parents, so a reverse scan visits them first.
func (r *hdbscanResult) selectEOM() {
	stab := make([]float64, len(r.clusters))
	chosen := make([]bool, len(r.clusters))
	for i, c := range r.clusters {
		stab[i] = c.stability
	}
	for c := len(r.clusters) - 1; c >= 1; c-- {
		var childSum float64
		for _, ch := range r.clusters[c].children {
			childSum += stab[ch]
		}
		if len(r.clusters[c].children) > 0 && childSum > stab[c] {
			stab[c] = childSum
			continue
		}
		chosen[c] = true
		r.unselectDescendants(c, chosen)
	}
	for c := 1; c < len(r.clusters); c++ {
		if chosen[c] {
			r.selected = append(r.selected, c)
		}
	}
}

func (r *hdbscanResult) unselectDescendants(c int, chosen []bool) {
	for _, ch := range r.clusters[c].children {
		chosen[ch] = false
		r.unselectDescendants(ch, chosen)
	}
}

// label assigns every point the selected cluster that contains it.
func (r *hdbscanResult) label() {
	labelOf := make(map[int]int, len(r.selected))
	for l, c := range r.selected {
		labelOf[c] = l
	}
	for p, c := range r.pointOf {
		for ; c >= 0; c = r.clusters[c].parent {
			if l, ok := labelOf[c]; ok {
				r.labels[p] = l
				break
			}
		}
	}
}

func (r *hdbscanResult) isAncestor(anc, c int) bool {
	for ; c >= 0; c = r.clusters[c].parent {
		if c == anc {
			return true
		}
	}
	return false
}

func (r *hdbscanResult) subtree(c int) []int {
	out := []int{c}
	for i := 0; i < len(out); i++ {
		out = append(out, r.clusters[out[i]].children...)
	}
	return out
}

// prepareMembership records, per selected cluster, the largest lambda of its
// points and its exemplars: the most persistent points of each leaf cluster.
func (r *hdbscanResult) prepareMembership() {
	r.maxLam = make([]float64, len(r.selected))
	r.exemplar = make([][]int, len(r.selected))
	for l, c := range r.selected {
		for _, sc := range r.subtree(c) {
			node := r.clusters[sc]
			var leafMax float64
			for _, p := range node.points {
				leafMax = math.Max(leafMax, r.lambdaP[p])
			}
			r.maxLam[l] = math.Max(r.maxLam[l], leafMax)
			if len(node.children) > 0 {
				continue
			}
			for _, p := range node.points {
				if r.lambdaP[p] == leafMax {
					r.exemplar[l] = append(r.exemplar[l], p)
				}
			}
		}
	}
}

// mergeHeight is the lambda at which point p and selected cluster c part.
func (r *hdbscanResult) mergeHeight(p, c int) float64 {
	pc := r.pointOf[p]
	if r.isAncestor(c, pc) {
		return r.lambdaP[p]
	}
	// Walk up from c until reaching an ancestor of p's cluster; the child on
	// that path was born when the two separated.
	child := c
	for anc := r.clusters[c].parent; anc >= 0; anc = r.clusters[anc].parent {
		if r.isAncestor(anc, pc) {
			return r.clusters[child].birth
		}
		child = anc
	}
	return 0
}

// membership returns the soft membership of point i in every selected
// cluster: exemplar distance scores times merge-height scores, normalised
// and scaled by how strongly the point belongs to any cluster.
func (r *hdbscanResult) membership(x [][]float64, i int) []float64 {
	k := len(r.selected)
	if k == 0 {
		return nil
	}

	distVec := make([]float64, k)
	outVec := make([]float64, k)
	heights := make([]float64, k)
	for l := range r.selected {
		minD := math.Inf(1)
		for _, e := range r.exemplar[l] {
			minD = math.Min(minD, math.Sqrt(sqDist(x[i], x[e])))
		}
		distVec[l] = lambdaOf(minD)

		heights[l] = r.mergeHeight(i, r.selected[l])
		gap := r.maxLam[l] - heights[l]
		outVec[l] = r.maxLam[l] / math.Max(gap, 1/maxLambda)
	}
	normalize(distVec)
	normalize(outVec)

	out := make([]float64, k)
	for l := range out {
		out[l] = distVec[l] * outVec[l]
	}
	normalize(out)

	nearest := 0
	for l := range heights {
		if heights[l] > heights[nearest] {
			nearest = l
		}
	}
	var prob float64
	if r.maxLam[nearest] > 0 {
		prob = math.Min(1, heights[nearest]/r.maxLam[nearest])
	}
	for l := range out {
		out[l] *= prob
	}
	return out
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum <= 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		return
	}
	for i := range v {
		v[i] /= sum
	}
}
