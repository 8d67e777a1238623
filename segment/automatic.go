package segment

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/mask"
	"go.viam.com/maskprop/oracle"
)

// Postprocessor filters the candidates of automatic mask generation.
type Postprocessor func([]oracle.Candidate) []oracle.Candidate

// NewAreaFilter returns a function that filters out candidates outside of [minArea, maxArea].
// A maxArea of 0 means no upper limit.
func NewAreaFilter(minArea, maxArea int) Postprocessor {
	return func(in []oracle.Candidate) []oracle.Candidate {
		out := make([]oracle.Candidate, 0, len(in))
		for _, c := range in {
			area := c.Area()
			if area < minArea || (maxArea > 0 && area > maxArea) {
				continue
			}
			out = append(out, c)
		}
		return out
	}
}

// NewScoreFilter returns a function that filters out candidates below the given predicted IoU
// or stability score.
func NewScoreFilter(predIoU, stability float64) Postprocessor {
	return func(in []oracle.Candidate) []oracle.Candidate {
		out := make([]oracle.Candidate, 0, len(in))
		for _, c := range in {
			if c.PredictedIoU >= predIoU && c.StabilityScore >= stability {
				out = append(out, c)
			}
		}
		return out
	}
}

// AutoOptions controls how candidates are turned into a label image.
type AutoOptions struct {
	WithBackground bool
	MinObjectSize  int
	MaxObjectSize  int
}

// MasksToSegmentation paints candidates into one label image of the given size. Candidates are
// painted from the largest to the smallest so that small objects stay visible, and get the
// labels 1, 2, ... in that order. With background set, the largest label region becomes
// background if it is not already and the remaining labels are made consecutive.
func MasksToSegmentation(candidates []oracle.Candidate, width, height int, opts AutoOptions) (*mask.Mask, error) {
	candidates = NewAreaFilter(opts.MinObjectSize, opts.MaxObjectSize)(candidates)
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Area() > candidates[j].Area() })

	seg := mask.New(width, height)
	for i, c := range candidates {
		if err := seg.Paint(c.Mask, uint32(i+1)); err != nil {
			return nil, errors.Wrapf(err, "painting candidate %d", i)
		}
	}
	if !opts.WithBackground {
		return seg, nil
	}

	areas := seg.Areas()
	bg, bgArea := mask.Background, areas[mask.Background]
	for _, id := range seg.IDs() {
		if areas[id] > bgArea {
			bg, bgArea = id, areas[id]
		}
	}
	if bg != mask.Background {
		seg.Replace(bg, mask.Background)
	}
	mapping := map[uint32]uint32{}
	for i, id := range seg.IDs() {
		mapping[id] = uint32(i + 1)
	}
	seg.Relabel(mapping)
	return seg, nil
}

// AutoSegmenter runs automatic segmentation with a Generator. The generator is stateful so
// calls are serialized.
type AutoSegmenter struct {
	mu        sync.Mutex
	generator oracle.Generator
	logger    logging.Logger
}

// NewAutoSegmenter returns an AutoSegmenter backed by generator.
func NewAutoSegmenter(generator oracle.Generator, logger logging.Logger) *AutoSegmenter {
	return &AutoSegmenter{generator: generator, logger: logger}
}

// Initialize computes the reusable state of slice.
func (a *AutoSegmenter) Initialize(ctx context.Context, slice int) (oracle.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, err := a.generator.Initialize(ctx, slice)
	if err != nil {
		return oracle.State{}, oracle.NewFailure(slice, err)
	}
	return state, nil
}

// Segment restores state, generates candidates and turns them into a label image.
func (a *AutoSegmenter) Segment(
	ctx context.Context,
	slice int,
	state oracle.State,
	width, height int,
	params oracle.GenerateParams,
	opts AutoOptions,
) (*mask.Mask, error) {
	candidates, err := a.generate(ctx, slice, state, params)
	if err != nil {
		return nil, err
	}
	candidates = NewScoreFilter(params.PredIoUThresh, params.StabilityScoreThresh)(candidates)
	if a.logger != nil {
		a.logger.Debugw("generated candidates", "slice", slice, "count", len(candidates))
	}
	return MasksToSegmentation(candidates, width, height, opts)
}

func (a *AutoSegmenter) generate(
	ctx context.Context,
	slice int,
	state oracle.State,
	params oracle.GenerateParams,
) ([]oracle.Candidate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.generator.SetState(state); err != nil {
		return nil, oracle.NewFailure(slice, err)
	}
	candidates, err := a.generator.Generate(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, oracle.NewFailure(slice, err)
	}
	return candidates, nil
}
