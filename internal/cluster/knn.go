package cluster

import "sort"

// knnVote returns the majority label among the k candidates closest to point
// i. Ties go to the smaller label.
func knnVote(x [][]float64, i int, candidates []int, labels []int, k int) int {
	nearest := append([]int(nil), candidates...)
	sort.SliceStable(nearest, func(a, b int) bool {
		return sqDist(x[i], x[nearest[a]]) < sqDist(x[i], x[nearest[b]])
	})
	if len(nearest) > k {
		nearest = nearest[:k]
	}

	votes := make(map[int]int)
	for _, j := range nearest {
		votes[labels[j]]++
	}
	best, bestVotes := Noise, 0
	for l, v := range votes {
		if v > bestVotes || (v == bestVotes && l < best) {
			best, bestVotes = l, v
		}
	}
	return best
}
