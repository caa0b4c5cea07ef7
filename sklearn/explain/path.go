package explain

import "github.com/YuminosukeSato/failrisk/sklearn/tree"

// pathElem is one feature on the current root-to-node path.
// zero is the fraction of "feature missing" paths flowing through, one is 1
// when x follows the path and 0 otherwise, weight is the permutation weight.
type pathElem struct {
	feature int
	zero    float64
	one     float64
	weight  float64
}

type walker struct {
	nodes []tree.Node
	x     []float64
	phi   [][]float64
}

func (w *walker) recurse(node int, path []pathElem, pz, po float64, pi int) {
	path = extend(path, pz, po, pi)
	n := &w.nodes[node]

	if n.IsLeaf() {
		v := leafProba(n)
		for i := 1; i < len(path); i++ {
			s := unwoundSum(path, i) * (path[i].one - path[i].zero)
			for c, vc := range v {
				w.phi[path[i].feature][c] += s * vc
			}
		}
		return
	}

	hot, cold := n.Left, n.Right
	if w.x[n.Feature] > n.Threshold {
		hot, cold = cold, hot
	}

	iz, io := 1.0, 1.0
	for k := 1; k < len(path); k++ {
		if path[k].feature == n.Feature {
			iz, io = path[k].zero, path[k].one
			path = unwind(path, k)
			break
		}
	}

	cover := n.WeightedNSamples
	w.recurse(hot, path, iz*w.nodes[hot].WeightedNSamples/cover, io, n.Feature)
	w.recurse(cold, path, iz*w.nodes[cold].WeightedNSamples/cover, 0, n.Feature)
}

// extend returns a copy of path grown by one element.
func extend(path []pathElem, pz, po float64, pi int) []pathElem {
	l := len(path)
	out := make([]pathElem, l+1)
	copy(out, path)
	out[l] = pathElem{feature: pi, zero: pz, one: po}
	if l == 0 {
		out[l].weight = 1
	}
	for i := l - 1; i >= 0; i-- {
		out[i+1].weight += po * out[i].weight * float64(i+1) / float64(l+1)
		out[i].weight = pz * out[i].weight * float64(l-i) / float64(l+1)
	}
	return out
}

// unwind returns a copy of path with element i removed, undoing extend.
func unwind(path []pathElem, i int) []pathElem {
	l := len(path) - 1
	out := make([]pathElem, len(path))
	copy(out, path)
	one, zero := out[i].one, out[i].zero

	n := out[l].weight
	for j := l - 1; j >= 0; j-- {
		if one != 0 {
			t := out[j].weight
			out[j].weight = n * float64(l+1) / (float64(j+1) * one)
			n = t - out[j].weight*zero*float64(l-j)/float64(l+1)
		} else {
			out[j].weight = out[j].weight * float64(l+1) / (zero * float64(l-j))
		}
	}
	for j := i; j < l; j++ {
		out[j].feature = out[j+1].feature
		out[j].zero = out[j+1].zero
		out[j].one = out[j+1].one
	}
	return out[:l]
}

// unwoundSum is the total weight of path with element i removed.
func unwoundSum(path []pathElem, i int) float64 {
	l := len(path) - 1
	one, zero := path[i].one, path[i].zero
	total := 0.0
	if one != 0 {
		n := path[l].weight
		for j := l - 1; j >= 0; j-- {
			t := n * float64(l+1) / (float64(j+1) * one)
			total += t
			n = path[j].weight - t*zero*float64(l-j)/float64(l+1)
		}
	} else {
		for j := l - 1; j >= 0; j-- {
			total += path[j].weight * float64(l+1) / (zero * float64(l-j))
		}
	}
	return total
}
