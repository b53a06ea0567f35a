package forest

import (
	"math/rand/v2"
	"slices"
)

// Node is one tree node. Leaves carry a class index; internal nodes send
// x[Feature] <= Threshold to Left and the rest to Right.
type Node struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Class     int     `json:"class,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

// Tree is a flattened decision tree rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) predict(x []float64) int {
	n := &t.Nodes[0]
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n.Class
}

type builder struct {
	x    [][]float64
	y    []int
	k    int
	opts Options
	rng  *rand.Rand

	nodes []Node
}

func (b *builder) grow(idx []int) Tree {
	b.nodes = nil
	b.split(idx, 0)
	return Tree{Nodes: b.nodes}
}

// split appends the subtree for idx and returns its node index.
func (b *builder) split(idx []int, depth int) int {
	counts := b.count(idx)
	at := len(b.nodes)
	b.nodes = append(b.nodes, Node{Leaf: true, Class: majority(counts)})

	if pure(counts) || len(idx) < 2*b.opts.MinLeafSize || (b.opts.MaxDepth > 0 && depth >= b.opts.MaxDepth) {
		return at
	}

	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		return at
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.split(left, depth+1)
	r := b.split(right, depth+1)
	b.nodes[at] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return at
}

// bestSplit tries a random subset of features and returns the split with
// the lowest weighted Gini impurity that improves on the parent.
func (b *builder) bestSplit(idx []int, parent []int) (int, float64, bool) {
	n := float64(len(idx))
	bestScore := gini(parent, len(idx)) * n
	bestFeature, bestThreshold, found := -1, 0.0, false

	features := b.rng.Perm(len(b.x[0]))[:b.opts.FeaturesPerSplit]
	sorted := slices.Clone(idx)
	left := make([]int, b.k)
	right := make([]int, b.k)

	for _, f := range features {
		slices.SortFunc(sorted, func(i, j int) int {
			switch a, c := b.x[i][f], b.x[j][f]; {
			case a < c:
				return -1
			case a > c:
				return 1
			}
			return 0
		})

		clear(left)
		copy(right, parent)
		for pos := 0; pos < len(sorted)-1; pos++ {
			c := b.y[sorted[pos]]
			left[c]++
			right[c]--

			nl := pos + 1
			nr := len(sorted) - nl
			if nl < b.opts.MinLeafSize || nr < b.opts.MinLeafSize {
				continue
			}
			v, next := b.x[sorted[pos]][f], b.x[sorted[pos+1]][f]
			if v == next {
				continue
			}

			score := gini(left, nl)*float64(nl) + gini(right, nr)*float64(nr)
			if score < bestScore-1e-12 {
				bestScore = score
				bestFeature = f
				bestThreshold = v + (next-v)/2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func (b *builder) count(idx []int) []int {
	counts := make([]int, b.k)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	return counts
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		g -= p * p
	}
	return g
}

// majority returns the most frequent class index, lowest index on ties.
func majority(counts []int) int {
	best := 0
	for c := 1; c < len(counts); c++ {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

func pure(counts []int) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}
