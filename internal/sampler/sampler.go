// Package sampler draws bounded row samples from a frame.
//
// Two modes exist. Plain draws a uniform random subset. Recommending first
// picks one anchor row per column (the first row where that column is
// present) so that every column keeps at least one value in the sample, then
// tops the sample up with random non-anchor rows.
package sampler

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"bifrost/internal/frame"
)

// Mode selects the sampling strategy.
type Mode int

const (
	Plain Mode = iota
	Recommending
)

func (m Mode) String() string {
	if m == Recommending {
		return "recommending"
	}
	return "plain"
}

var (
	// ErrAllMissing is matched by *InputValidationError.
	ErrAllMissing   = errors.New("sampler: column has no non-missing value")
	ErrNegativeSize = errors.New("sampler: negative sample size")
)

// InputValidationError reports columns that are missing in every row.
type InputValidationError struct {
	Columns []string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("sampler: columns entirely missing: %s", strings.Join(e.Columns, ", "))
}

func (e *InputValidationError) Is(target error) bool { return target == ErrAllMissing }

// Options configures one Sample call.
type Options struct {
	// Size is the requested number of rows. Zero means no size was given.
	Size int
	Mode Mode
	// Rand is the randomness source. Nil uses a randomly seeded generator.
	Rand *rand.Rand
}

// Result is a materialized sample.
type Result struct {
	// Rows are positions into the sampled frame, anchors first.
	Rows    []int
	Records []frame.Record
	// Size is the sample size to publish: the requested size, unless the
	// anchors forced it wider, in which case Adjusted is set.
	Size     int
	Adjusted bool
}

// Validate fails when any column of f has no non-missing value.
func Validate(f *frame.Frame) error {
	if cols := f.AllMissing(); len(cols) > 0 {
		return &InputValidationError{Columns: cols}
	}
	return nil
}

// Anchors returns, in column order, the first present row of every column,
// without duplicates.
func Anchors(f *frame.Frame) []int {
	seen := make(map[int]bool, f.Width())
	var out []int
	for j := 0; j < f.Width(); j++ {
		r := f.FirstPresent(j)
		if r < 0 || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// Sample draws rows from f according to opts.
func Sample(f *frame.Frame, opts Options) (Result, error) {
	if err := Validate(f); err != nil {
		return Result{}, err
	}
	if opts.Size < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrNegativeSize, opts.Size)
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	var res Result
	switch opts.Mode {
	case Recommending:
		res = recommend(f, opts.Size, rng)
	default:
		res = plain(f, opts.Size, rng)
	}

	recs, err := f.Records(res.Rows)
	if err != nil {
		return Result{}, err
	}
	res.Records = recs
	return res, nil
}

func plain(f *frame.Frame, size int, rng *rand.Rand) Result {
	n := f.Len()
	if size == 0 {
		return Result{Rows: seq(n), Size: 0}
	}
	return Result{Rows: pick(seq(n), min(size, n), rng), Size: size}
}

func recommend(f *frame.Frame, size int, rng *rand.Rand) Result {
	anchors := Anchors(f)
	if size == 0 {
		return Result{Rows: anchors, Size: 0}
	}
	remainder := size - len(anchors)
	if remainder < 0 {
		return Result{Rows: anchors, Size: len(anchors), Adjusted: true}
	}

	isAnchor := make(map[int]bool, len(anchors))
	for _, r := range anchors {
		isAnchor[r] = true
	}
	rest := make([]int, 0, f.Len()-len(anchors))
	for r := 0; r < f.Len(); r++ {
		if !isAnchor[r] {
			rest = append(rest, r)
		}
	}
	rows := append(append([]int(nil), anchors...), pick(rest, min(remainder, len(rest)), rng)...)
	return Result{Rows: rows, Size: size}
}

// pick returns k elements of pool chosen uniformly without replacement. The
// pool is reordered in place.
func pick(pool []int, k int, rng *rand.Rand) []int {
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k:k]
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
