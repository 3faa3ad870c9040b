package cluster

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// maxComponents caps the PCA output dimension.
const maxComponents = 50

// reducePCA projects x onto its first min(50, n-1, dim) principal
// components. Fewer than two points, or a failed decomposition, return x.
func reducePCA(x [][]float64) [][]float64 {
	n := len(x)
	if n < 2 {
		return x
	}
	dim := len(x[0])
	k := min(maxComponents, n-1, dim)
	if k < 1 {
		return x
	}

	data := mat.NewDense(n, dim, nil)
	for i, row := range x {
		data.SetRow(i, row)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return x
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	// Center before projecting.
	centered := mat.NewDense(n, dim, nil)
	centered.Copy(data)
	for j := 0; j < dim; j++ {
		col := mat.Col(nil, j, data)
		mean := stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			centered.Set(i, j, col[i]-mean)
		}
	}

	var proj mat.Dense
	proj.Mul(centered, vecs.Slice(0, dim, 0, k))

	out := make([][]float64, n)
	for i := range out {
		out[i] = mat.Row(nil, i, &proj)
	}
	return out
}
