// Package forest trains and evaluates random forest classifiers: bagged
// CART trees grown on Gini impurity with a random feature subset tried at
// every split.
package forest

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInsufficientTrainingData is returned when the training set is empty or
// holds fewer than two classes. It is not retryable.
var ErrInsufficientTrainingData = eris.New("forest: insufficient training data")

// DefaultTrees is the ensemble size used when Options.Trees is unset.
const DefaultTrees = 50

// Options configures training.
type Options struct {
	Trees int
	// MaxDepth limits tree depth; 0 means unlimited.
	MaxDepth    int
	MinLeafSize int
	// FeaturesPerSplit is the number of candidate features per split;
	// 0 means floor(sqrt(features)).
	FeaturesPerSplit int
	Workers          int
	Seed             uint64
}

func (o Options) withDefaults(features int) Options {
	if o.Trees < 1 {
		o.Trees = DefaultTrees
	}
	if o.MinLeafSize < 1 {
		o.MinLeafSize = 1
	}
	if o.FeaturesPerSplit < 1 {
		o.FeaturesPerSplit = max(1, int(math.Sqrt(float64(features))))
	}
	o.FeaturesPerSplit = min(o.FeaturesPerSplit, features)
	if o.Workers < 1 {
		o.Workers = 1
	}
	return o
}

// Forest is a trained ensemble. Features records the column order the
// model was trained on; Classes lists the class codes it can emit in
// ascending order.
type Forest struct {
	Features []string `json:"features"`
	Classes  []int    `json:"classes"`
	Trees    []Tree   `json:"trees"`
}

// Train fits a forest to rows (one feature vector per observation, columns
// named by features) and their class labels.
func Train(ctx context.Context, features []string, rows [][]float64, labels []int, opts Options) (*Forest, error) {
	if len(rows) == 0 {
		return nil, eris.Wrap(ErrInsufficientTrainingData, "forest: empty training set")
	}
	if len(rows) != len(labels) {
		return nil, eris.Errorf("forest: %d rows but %d labels", len(rows), len(labels))
	}
	for i, r := range rows {
		if len(r) != len(features) {
			return nil, eris.Errorf("forest: row %d has %d values, want %d", i, len(r), len(features))
		}
	}

	classes := slices.Clone(labels)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	if len(classes) < 2 {
		return nil, eris.Wrapf(ErrInsufficientTrainingData, "forest: only class %d present", classes[0])
	}

	// Internally labels are indexes into classes.
	y := make([]int, len(labels))
	for i, l := range labels {
		y[i], _ = slices.BinarySearch(classes, l)
	}

	opts = opts.withDefaults(len(features))
	f := &Forest{
		Features: slices.Clone(features),
		Classes:  classes,
		Trees:    make([]Tree, opts.Trees),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for t := range opts.Trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(opts.Seed, uint64(t)+1))
			b := &builder{x: rows, y: y, k: len(classes), opts: opts, rng: rng}
			f.Trees[t] = b.grow(bootstrap(len(rows), rng))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "forest: train")
	}

	zap.L().Debug("forest: trained",
		zap.Int("trees", len(f.Trees)),
		zap.Int("observations", len(rows)),
		zap.Int("features", len(features)),
		zap.Ints("classes", classes),
	)
	return f, nil
}

// Predict returns the majority-vote class of x. Ties go to the lowest
// class code.
func (f *Forest) Predict(x []float64) int {
	var buf [8]int
	var votes []int
	if n := len(f.Classes); n <= len(buf) {
		votes = buf[:n]
	} else {
		votes = make([]int, n)
	}

	for i := range f.Trees {
		votes[f.Trees[i].predict(x)]++
	}
	best := 0
	for c := 1; c < len(votes); c++ {
		if votes[c] > votes[best] {
			best = c
		}
	}
	return f.Classes[best]
}

func bootstrap(n int, rng *rand.Rand) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.IntN(n)
	}
	return idx
}
