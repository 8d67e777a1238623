package propagate

import (
	"context"
	"maps"
	"math"
	"slices"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/mask"
	"go.viam.com/maskprop/oracle"
	"go.viam.com/maskprop/prompt"
	"go.viam.com/maskprop/segment"
)

// TrackOptions configures object tracking over time.
type TrackOptions struct {
	Projection   Projection
	IoUThreshold float64
	BoxExtension float64
	Agreement    Agreement
	// MotionSmoothing weights the previous displacement estimate against the latest one.
	// 0 uses only the latest displacement, 1 never updates the estimate.
	MotionSmoothing float64
	// MinSuccessorArea is the smallest connected component counted as a successor object.
	MinSuccessorArea int
	// SuccessorThreshold is the smallest backend score of a candidate counted as a successor.
	SuccessorThreshold float64
}

// TrackResult is the outcome of tracking one object.
type TrackResult struct {
	Seg       *mask.Stack
	Annotated []int
	State     State
	// ZMin and ZMax bound the frames that hold the object.
	ZMin   int
	ZMax   int
	Scores map[int]float64
	// Division is set when the object split into several successors on DivisionFrame.
	Division      bool
	DivisionFrame int
}

// Track follows the object forward in time, starting from the earliest seed frame. Seed frames
// keep their own segmentation, every frame between them is propagated so that the track stays
// continuous. The walk ends at the last frame, at the last seed when StopUpper is set, at low
// agreement, or on the first frame where the object divides.
func Track(ctx context.Context, seg *segment.Segmenter, in Input, opts TrackOptions, logger logging.Logger) (*TrackResult, error) {
	ctx, span := trace.StartSpan(ctx, "propagate::Track")
	defer span.End()

	if opts.MotionSmoothing < 0 || opts.MotionSmoothing > 1 {
		return nil, errors.Errorf("motion smoothing must be in [0, 1], got %v", opts.MotionSmoothing)
	}
	annotated, err := validateInput(in)
	if err != nil {
		return nil, err
	}
	stack := mask.NewStack(in.Shape)
	for _, z := range annotated {
		if err := stack.SetSlice(z, in.Seeds[z].Binarize()); err != nil {
			return nil, err
		}
	}
	res := &TrackResult{
		Seg:       stack,
		Annotated: annotated,
		State:     Active,
		Scores:    map[int]float64{},
	}
	for _, z := range annotated {
		res.Scores[z] = 1
	}

	first := annotated[0]
	end := in.Shape.Depth - 1
	if in.StopUpper {
		end = annotated[len(annotated)-1]
	}
	t := &tracker{
		walker: walker{
			seg:   seg,
			stack: stack,
			opts: Options{
				Projection:   opts.Projection,
				IoUThreshold: opts.IoUThreshold,
				BoxExtension: opts.BoxExtension,
				Agreement:    opts.Agreement,
			},
			logger: logger,
		},
		opts: opts,
	}
	runErr := t.run(ctx, res, first, end)

	res.ZMin, res.ZMax = first, first
	for z := range res.Scores {
		res.ZMin = min(res.ZMin, z)
		res.ZMax = max(res.ZMax, z)
	}
	if logger != nil {
		logger.Debugw("tracking finished",
			"first", res.ZMin, "last", res.ZMax, "state", res.State.String(),
			"division", res.Division, "division_frame", res.DivisionFrame)
	}
	return res, runErr
}

type tracker struct {
	walker
	opts   TrackOptions
	motion r2.Point
}

func (t *tracker) run(ctx context.Context, res *TrackResult, first, end int) error {
	seeds := map[int]bool{}
	for _, z := range res.Annotated {
		seeds[z] = true
	}
	prev := t.stack.Slice(first)
	for z := first + 1; z <= end; z++ {
		if seeds[z] {
			t.updateMotion(prev, t.stack.Slice(z))
			prev = t.stack.Slice(z)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		projected := prev
		dx, dy := int(math.Round(t.motion.X)), int(math.Round(t.motion.Y))
		if dx != 0 || dy != 0 {
			if moved := prev.Translate(dx, dy); !moved.IsEmpty() {
				projected = moved
			}
		}
		set, err := Project(projected, t.opts.Projection, t.opts.BoxExtension)
		if err != nil {
			res.State = StoppedLowAgreement
			return nil
		}
		out, err := t.seg.SegmentSlice(ctx, z, set, prev.Width(), prev.Height(), segment.Options{
			Policy:             segment.SingleObject,
			Multimask:          true,
			CandidateThreshold: t.opts.SuccessorThreshold,
		})
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case oracle.IsFailure(err):
			res.State = StoppedLowAgreement
			return err
		case errors.Is(err, segment.ErrDegenerateGeometry), errors.Is(err, prompt.ErrEmptyPrompt):
			res.State = StoppedLowAgreement
			return nil
		default:
			res.State = StoppedLowAgreement
			return err
		}

		next := out.Mask.Binarize()
		if next.IsEmpty() {
			res.State = StoppedLowAgreement
			return nil
		}
		score, err := t.agreement(out.Score, next, projected)
		if err != nil {
			res.State = StoppedLowAgreement
			return err
		}
		if score < t.opts.IoUThreshold {
			if t.logger != nil {
				t.logger.Debugw("stopping track on low agreement", "frame", z, "score", score)
			}
			res.State = StoppedLowAgreement
			return nil
		}
		if err := t.stack.SetSlice(z, next); err != nil {
			return err
		}
		res.Scores[z] = score

		if t.divided(next, out.Candidates) {
			res.State = StoppedDivision
			res.Division = true
			res.DivisionFrame = z
			return nil
		}
		t.updateMotion(prev, next)
		prev = next
	}
	if end == t.stack.Depth()-1 {
		res.State = StoppedBoundary
	} else {
		res.State = StoppedDirective
	}
	return nil
}

// updateMotion blends the centroid displacement between prev and next into the motion estimate.
func (t *tracker) updateMotion(prev, next *mask.Mask) {
	a, okA := prev.Centroid()
	b, okB := next.Centroid()
	if !okA || !okB {
		return
	}
	s := t.opts.MotionSmoothing
	t.motion = t.motion.Mul(s).Add(b.Sub(a).Mul(1 - s))
}

// divided reports whether the object has more than one successor: either the mask falls apart
// into several large enough components or the backend proposes several disjoint candidates.
func (t *tracker) divided(next *mask.Mask, candidates []segment.Candidate) bool {
	if next.CountComponents(max(t.opts.MinSuccessorArea, 1)) > 1 {
		return true
	}
	return len(disjointCandidates(candidates)) > 1
}

// disjointCandidates keeps candidates, best first, that do not overlap any kept candidate.
func disjointCandidates(candidates []segment.Candidate) []segment.Candidate {
	kept := []segment.Candidate{}
	for _, c := range candidates {
		if c.Mask == nil || c.Mask.IsEmpty() {
			continue
		}
		overlapping := slices.ContainsFunc(kept, func(k segment.Candidate) bool {
			iou, err := mask.IoU(c.Mask, k.Mask)
			return err != nil || iou > 0
		})
		if !overlapping {
			kept = append(kept, c)
		}
	}
	return kept
}

// Frames returns the frames of r that hold the object, in ascending order.
func (r *TrackResult) Frames() []int {
	return slices.Sorted(maps.Keys(r.Scores))
}
