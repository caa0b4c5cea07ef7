package tree

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// featureThreshold is the minimum gap between consecutive sorted values for a
// split to be considered between them.
const featureThreshold = 1e-7

// Columns is a column-major copy of a feature matrix: Columns[j][i] is
// feature j of row i. Forests build it once and share it across trees.
type Columns [][]float64

// ColumnsOf copies X into column-major form.
func ColumnsOf(X mat.Matrix) Columns {
	rows, cols := X.Dims()
	out := make(Columns, cols)
	for j := 0; j < cols; j++ {
		col := make([]float64, rows)
		mat.Col(col, j, X)
		out[j] = col
	}
	return out
}

type builder struct {
	X               Columns
	y               []int
	w               []float64
	nClasses        int
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	minImpurityDec  float64
	rng             *rand.Rand

	nodes        []Node
	importances  []float64
	maxSeenDepth int
	totalWeight  float64
}

type split struct {
	feature   int
	threshold float64
	pos       int // rows[:pos] go left after sorting by feature
	proxy     float64
	impLeft   float64
	impRight  float64
}

func (b *builder) build(rows []int) {
	for _, i := range rows {
		b.totalWeight += b.w[i]
	}
	b.grow(rows, 0)
}

// grow appends the subtree for rows and returns its root index.
func (b *builder) grow(rows []int, depth int) int {
	value := make([]float64, b.nClasses)
	weighted := 0.0
	for _, i := range rows {
		value[b.y[i]] += b.w[i]
		weighted += b.w[i]
	}
	impurity := b.impurity(value, weighted)

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature:          LeafFeature,
		Left:             -1,
		Right:            -1,
		Impurity:         impurity,
		NSamples:         len(rows),
		WeightedNSamples: weighted,
		Value:            value,
	})
	if depth > b.maxSeenDepth {
		b.maxSeenDepth = depth
	}

	n := len(rows)
	isLeaf := (b.maxDepth > 0 && depth >= b.maxDepth) ||
		n < b.minSamplesSplit ||
		n < 2*b.minSamplesLeaf ||
		impurity <= 1e-12
	if isLeaf {
		return id
	}

	best, ok := b.bestSplit(rows, value, weighted)
	if !ok {
		return id
	}

	// impurity decrease weighted by the node's share of the total weight
	var wl float64
	b.sortBy(rows, best.feature)
	for _, i := range rows[:best.pos] {
		wl += b.w[i]
	}
	wr := weighted - wl
	decrease := weighted / b.totalWeight *
		(impurity - wl/weighted*best.impLeft - wr/weighted*best.impRight)
	if decrease+1e-12 < b.minImpurityDec {
		return id
	}
	b.importances[best.feature] += weighted * (impurity - wl/weighted*best.impLeft - wr/weighted*best.impRight)

	left := append([]int(nil), rows[:best.pos]...)
	right := append([]int(nil), rows[best.pos:]...)

	b.nodes[id].Feature = best.feature
	b.nodes[id].Threshold = best.threshold
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

// bestSplit evaluates up to maxFeatures non-constant features in random
// order and returns the split with the highest proxy improvement.
func (b *builder) bestSplit(rows []int, parent []float64, weighted float64) (split, bool) {
	nFeatures := len(b.X)
	order := b.rng.Perm(nFeatures)

	best := split{proxy: math.Inf(-1)}
	found := false
	visited := 0

	left := make([]float64, b.nClasses)
	right := make([]float64, b.nClasses)

	for _, f := range order {
		if visited >= b.maxFeatures && found {
			break
		}
		b.sortBy(rows, f)
		col := b.X[f]
		if col[rows[len(rows)-1]] <= col[rows[0]]+featureThreshold {
			continue // constant in this node
		}
		visited++

		for k := range left {
			left[k] = 0
			right[k] = parent[k]
		}
		wl := 0.0
		for p := 0; p < len(rows)-1; p++ {
			i := rows[p]
			left[b.y[i]] += b.w[i]
			right[b.y[i]] -= b.w[i]
			wl += b.w[i]

			cur, next := col[i], col[rows[p+1]]
			if next <= cur+featureThreshold {
				continue
			}
			nl := p + 1
			if nl < b.minSamplesLeaf || len(rows)-nl < b.minSamplesLeaf {
				continue
			}
			wr := weighted - wl
			if wl <= 0 || wr <= 0 {
				continue
			}

			impL := b.impurity(left, wl)
			impR := b.impurity(right, wr)
			proxy := -wl*impL - wr*impR
			if proxy > best.proxy {
				threshold := cur/2 + next/2
				if threshold == next || math.IsInf(threshold, 0) || math.IsNaN(threshold) {
					threshold = cur
				}
				best = split{
					feature:   f,
					threshold: threshold,
					pos:       nl,
					proxy:     proxy,
					impLeft:   impL,
					impRight:  impR,
				}
				found = true
			}
		}
	}
	return best, found
}

func (b *builder) sortBy(rows []int, f int) {
	col := b.X[f]
	sort.SliceStable(rows, func(a, c int) bool { return col[rows[a]] < col[rows[c]] })
}

func (b *builder) impurity(counts []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	switch b.criterion {
	case "entropy":
		h := 0.0
		for _, c := range counts {
			if c > 0 {
				p := c / total
				h -= p * math.Log2(p)
			}
		}
		return h
	default:
		g := 1.0
		for _, c := range counts {
			p := c / total
			g -= p * p
		}
		return g
	}
}

func sortInts(a []int) { sort.Ints(a) }
