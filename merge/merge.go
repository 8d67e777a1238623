// Package merge stitches independently labeled slices into consistent 3D objects.
package merge

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/mask"
)

// Metric is the overlap measure between two objects on different slices.
type Metric int

const (
	// IoU is intersection over union.
	IoU Metric = iota
	// IntersectionOverMin is the intersection divided by the smaller area.
	IntersectionOverMin
)

// MetricFromString parses "iou" or "intersection_over_min". The empty string selects IoU.
func MetricFromString(name string) (Metric, error) {
	switch name {
	case "", "iou":
		return IoU, nil
	case "intersection_over_min":
		return IntersectionOverMin, nil
	default:
		return IoU, errors.Errorf("unknown overlap metric %q", name)
	}
}

func (m Metric) String() string {
	if m == IntersectionOverMin {
		return "intersection_over_min"
	}
	return "iou"
}

func (m Metric) of(o mask.Overlap) float64 {
	if m == IntersectionOverMin {
		return o.IntersectionOverMin()
	}
	return o.IoU()
}

// Options configures Merge3D.
type Options struct {
	// Beta is the overlap a pair must exceed to be matched.
	Beta float64
	// GapClosing is the number of consecutive slices an object may be missing from before its
	// chain is closed.
	GapClosing int
	// MinZExtent is the smallest number of slices an object must span to be kept.
	MinZExtent int
	// WithBackground treats local label 0 as background. Otherwise 0 is an object like any other.
	WithBackground bool
	Metric         Metric
}

// Validate checks the merge parameters.
func (o Options) Validate() error {
	if o.Beta < 0 || o.Beta > 1 {
		return errors.Errorf("beta must be in [0, 1], got %v", o.Beta)
	}
	if o.GapClosing < 0 {
		return errors.Errorf("gap closing must not be negative, got %d", o.GapClosing)
	}
	if o.MinZExtent < 0 {
		return errors.Errorf("min z extent must not be negative, got %d", o.MinZExtent)
	}
	return nil
}

type chain struct {
	id    uint32
	first int
	last  int
	// label is the local label of the object on slice last.
	label uint32
}

// Merge3D relabels a stack of slices with slice local labels into global 3D objects.
// Objects on consecutive slices are matched by minimum cost assignment where a pair costs
// 1 - overlap and leaving an object unmatched costs (1 - Beta) / 2, so a pair can only match
// when its overlap exceeds Beta. Unmatched objects open a new global id. Global ids start at 1,
// grow monotonically and are never reused, also not for objects dropped for spanning fewer
// than MinZExtent slices.
func Merge3D(ctx context.Context, stack *mask.Stack, opts Options, logger logging.Logger) (*mask.Stack, error) {
	ctx, span := trace.StartSpan(ctx, "merge::Merge3D")
	defer span.End()

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	work := stack.Clone()
	if !opts.WithBackground {
		for z := 0; z < work.Depth(); z++ {
			data := work.Slice(z).Data()
			for i := range data {
				data[i]++
			}
		}
	}

	out := mask.NewStack(stack.Shape())
	unmatchedCost := (1 - opts.Beta) / 2
	var (
		active []*chain
		chains []*chain
		nextID uint32 = 1
	)
	for z := 0; z < work.Depth(); z++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := work.Slice(z)
		objects := current.IDs()
		if len(objects) == 0 {
			continue
		}

		open := active[:0]
		for _, c := range active {
			if z-c.last-1 <= opts.GapClosing {
				open = append(open, c)
			}
		}
		active = open

		overlaps := map[int]map[[2]uint32]float64{}
		for _, c := range active {
			if _, ok := overlaps[c.last]; ok {
				continue
			}
			pairs, err := mask.Overlaps(work.Slice(c.last), current)
			if err != nil {
				return nil, err
			}
			byPair := make(map[[2]uint32]float64, len(pairs))
			for _, o := range pairs {
				byPair[[2]uint32{o.A, o.B}] = opts.Metric.of(o)
			}
			overlaps[c.last] = byPair
		}

		matches := matchCosts(len(active), len(objects), unmatchedCost, func(i, j int) (float64, bool) {
			c := active[i]
			overlap := overlaps[c.last][[2]uint32{c.label, objects[j]}]
			if overlap <= 0 || overlap <= opts.Beta {
				return 0, false
			}
			return 1 - overlap, true
		})

		mapping := make(map[uint32]uint32, len(objects))
		taken := make([]bool, len(objects))
		for i, j := range matches {
			if j < 0 {
				continue
			}
			c := active[i]
			c.last, c.label = z, objects[j]
			mapping[objects[j]] = c.id
			taken[j] = true
		}
		for j, label := range objects {
			if taken[j] {
				continue
			}
			c := &chain{id: nextID, first: z, last: z, label: label}
			nextID++
			chains = append(chains, c)
			active = append(active, c)
			mapping[label] = c.id
		}

		relabeled := current.Clone()
		relabeled.Relabel(mapping)
		if err := out.SetSlice(z, relabeled); err != nil {
			return nil, err
		}
	}

	dropped := 0
	for _, c := range chains {
		if c.last-c.first+1 < opts.MinZExtent {
			out.Replace(c.id, mask.Background)
			dropped++
		}
	}
	if logger != nil {
		logger.Debugw("merged slices into objects", "objects", len(chains)-dropped, "dropped", dropped)
	}
	return out, nil
}

// OffsetSlices returns a copy of stack where the labels of every slice are shifted past the
// largest label of the slices before it, making them unique over the whole stack.
func OffsetSlices(stack *mask.Stack) *mask.Stack {
	out := stack.Clone()
	var offset uint32
	for z := 0; z < out.Depth(); z++ {
		m := out.Slice(z)
		if m.IsEmpty() {
			continue
		}
		data := m.Data()
		for i, v := range data {
			if v != mask.Background {
				data[i] = v + offset
			}
		}
		offset = m.Max()
	}
	return out
}
