package merge

import (
	hungarian "github.com/arthurkushman/go-hungarian"
	"gonum.org/v1/gonum/mat"
)

// forbidden is the cost of pairs that may never be matched.
const forbidden = 1e9

// assign solves the square minimum cost assignment problem on cost and returns the column
// assigned to every row.
func assign(cost mat.Matrix) []int {
	n, _ := cost.Dims()
	if n == 0 {
		return nil
	}
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, cost)
	}
	out := make([]int, n)
	for i, cols := range hungarian.SolveMin(rows) {
		for j := range cols {
			out[i] = j
		}
	}
	return out
}

// matchCosts builds the augmented cost matrix for matching n chains to m objects where either
// side may stay unmatched at unmatchedCost per node. pairCost returns the cost of a pair and
// false when the pair is forbidden. The result maps chains to objects, -1 for unmatched.
func matchCosts(n, m int, unmatchedCost float64, pairCost func(i, j int) (float64, bool)) []int {
	size := n + m
	out := make([]int, n)
	for i := range out {
		out[i] = -1
	}
	if n == 0 || m == 0 {
		return out
	}
	cost := mat.NewDense(size, size, nil)
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			switch {
			case i < n && j < m:
				c, ok := pairCost(i, j)
				if !ok {
					c = forbidden
				}
				cost.Set(i, j, c)
			case i < n:
				// chain i left unmatched
				if j-m == i {
					cost.Set(i, j, unmatchedCost)
				} else {
					cost.Set(i, j, forbidden)
				}
			case j < m:
				// object j left unmatched
				if i-n == j {
					cost.Set(i, j, unmatchedCost)
				} else {
					cost.Set(i, j, forbidden)
				}
			}
		}
	}
	rows := assign(cost)
	for i := 0; i < n; i++ {
		if j := rows[i]; j < m {
			if _, ok := pairCost(i, j); ok {
				out[i] = j
			}
		}
	}
	return out
}
