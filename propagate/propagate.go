// Package propagate extends annotated masks through a volume slice by slice.
package propagate

import (
	"context"
	"maps"
	"slices"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/mask"
	"go.viam.com/maskprop/oracle"
	"go.viam.com/maskprop/prompt"
	"go.viam.com/maskprop/segment"
)

// State is the state of one propagation direction.
type State int

const (
	// Active means the direction is still extending.
	Active State = iota
	// StoppedBoundary means the volume edge was reached.
	StoppedBoundary
	// StoppedLowAgreement means the agreement score fell below the threshold, the projection
	// was degenerate or the backend failed.
	StoppedLowAgreement
	// StoppedDirective means the user placed a stop marker in this direction.
	StoppedDirective
	// StoppedDivision means a tracked object divided.
	StoppedDivision
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case StoppedBoundary:
		return "stopped_boundary"
	case StoppedLowAgreement:
		return "stopped_low_agreement"
	case StoppedDirective:
		return "stopped_directive"
	case StoppedDivision:
		return "stopped_division"
	default:
		return "unknown"
	}
}

// Stopped reports whether the direction terminated.
func (s State) Stopped() bool {
	return s != Active
}

// Agreement selects how a new slice result is scored against the threshold.
type Agreement int

const (
	// OracleScore uses the quality score reported by the backend.
	OracleScore Agreement = iota
	// MaskIoU uses the IoU between the new mask and the mask it was projected from.
	MaskIoU
)

// AgreementFromString parses "oracle_score" or "mask_iou". The empty string selects OracleScore.
func AgreementFromString(name string) (Agreement, error) {
	switch name {
	case "", "oracle_score":
		return OracleScore, nil
	case "mask_iou":
		return MaskIoU, nil
	default:
		return OracleScore, errors.Errorf("unknown agreement %q, expected oracle_score or mask_iou", name)
	}
}

// Input is the seed of a propagation run.
type Input struct {
	Shape mask.Shape
	// Seeds maps annotated slices to their segmentation. Any foreground counts as the object.
	Seeds map[int]*mask.Mask
	// StopLower and StopUpper disable extension below the lowest or above the highest seed.
	StopLower bool
	StopUpper bool
}

// Options configures a propagation run.
type Options struct {
	Projection   Projection
	IoUThreshold float64
	BoxExtension float64
	Agreement    Agreement
	// FillGaps segments the slices between annotated slices by propagating from both sides
	// towards the middle. Without it those slices stay empty.
	FillGaps bool
	// ConcurrentDirections extends the lower and upper direction at the same time.
	ConcurrentDirections bool
}

// Result is the outcome of a propagation run.
type Result struct {
	// Seg holds the object as label 1 on every segmented slice.
	Seg *mask.Stack
	// Annotated are the slices segmented from their own prompts, in ascending order.
	Annotated []int
	Lower     State
	Upper     State
	// ZMin and ZMax bound the slices that hold the object.
	ZMin   int
	ZMax   int
	Scores map[int]float64
}

// StopLower reports whether extension below the annotated range has terminated.
func (r *Result) StopLower() bool {
	return r.Lower.Stopped()
}

// StopUpper reports whether extension above the annotated range has terminated.
func (r *Result) StopUpper() bool {
	return r.Upper.Stopped()
}

func validateInput(in Input) ([]int, error) {
	if err := in.Shape.Validate(); err != nil {
		return nil, err
	}
	if len(in.Seeds) == 0 {
		return nil, errors.Wrap(prompt.ErrEmptyPrompt, "propagation needs at least one seed slice")
	}
	for z, m := range in.Seeds {
		if !in.Shape.InRange(z) {
			return nil, errors.Errorf("seed slice %d out of range for volume %s", z, in.Shape)
		}
		if m == nil || m.Width() != in.Shape.Width || m.Height() != in.Shape.Height {
			return nil, errors.Errorf("seed on slice %d does not match volume %s", z, in.Shape)
		}
	}
	return slices.Sorted(maps.Keys(in.Seeds)), nil
}

// Propagate writes the seeds into an empty stack and extends the object outwards from the
// lowest and highest seed until each direction stops. Backend failures stop the direction
// they occur in and are returned together with the result. When ctx is canceled the partial
// result is returned with the context error.
func Propagate(ctx context.Context, seg *segment.Segmenter, in Input, opts Options, logger logging.Logger) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "propagate::Propagate")
	defer span.End()

	annotated, err := validateInput(in)
	if err != nil {
		return nil, err
	}
	w := &walker{seg: seg, stack: mask.NewStack(in.Shape), opts: opts, logger: logger}
	for _, z := range annotated {
		if err := w.stack.SetSlice(z, in.Seeds[z].Binarize()); err != nil {
			return nil, err
		}
	}
	res := &Result{
		Seg:       w.stack,
		Annotated: annotated,
		Lower:     Active,
		Upper:     Active,
		Scores:    map[int]float64{},
	}
	for _, z := range annotated {
		res.Scores[z] = 1
	}

	var gapErr error
	if opts.FillGaps {
		scores, err := w.fillGaps(ctx, annotated)
		maps.Copy(res.Scores, scores)
		gapErr = err
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}

	lowest, highest := annotated[0], annotated[len(annotated)-1]
	var lowerScores, upperScores map[int]float64
	var lowerErr, upperErr error
	lower := func() {
		if in.StopLower {
			res.Lower = StoppedDirective
			return
		}
		res.Lower, lowerScores, lowerErr = w.walk(ctx, lowest, 0, -1)
	}
	upper := func() {
		if in.StopUpper {
			res.Upper = StoppedDirective
			return
		}
		res.Upper, upperScores, upperErr = w.walk(ctx, highest, in.Shape.Depth-1, 1)
	}
	if opts.ConcurrentDirections {
		var g errgroup.Group
		g.Go(func() error { lower(); return nil })
		g.Go(func() error { upper(); return nil })
		_ = g.Wait()
	} else {
		lower()
		upper()
	}
	maps.Copy(res.Scores, lowerScores)
	maps.Copy(res.Scores, upperScores)

	res.ZMin, res.ZMax = lowest, highest
	for z := range res.Scores {
		res.ZMin = min(res.ZMin, z)
		res.ZMax = max(res.ZMax, z)
	}
	if logger != nil {
		mean, _ := stats.Mean(slices.Collect(maps.Values(res.Scores)))
		logger.Debugw("propagation finished",
			"z_min", res.ZMin, "z_max", res.ZMax,
			"lower", res.Lower.String(), "upper", res.Upper.String(),
			"mean_agreement", mean)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, multierr.Combine(gapErr, lowerErr, upperErr)
}

// walker runs single object segmentation along the slice axis.
type walker struct {
	seg    *segment.Segmenter
	stack  *mask.Stack
	opts   Options
	logger logging.Logger
}

// walk extends the object from the committed slice start by step until it passes stop.
// Reaching stop ends the walk in StoppedBoundary.
func (w *walker) walk(ctx context.Context, start, stop, step int) (State, map[int]float64, error) {
	scores := map[int]float64{}
	prev := w.stack.Slice(start)
	for z := start + step; (step > 0 && z <= stop) || (step < 0 && z >= stop); z += step {
		next, score, state, err := w.step(ctx, z, prev)
		if state != Active || err != nil {
			if w.logger != nil {
				w.logger.Debugw("stopping propagation", "slice", z, "state", state.String(), "score", score)
			}
			return state, scores, err
		}
		if err := w.stack.SetSlice(z, next); err != nil {
			return StoppedLowAgreement, scores, err
		}
		scores[z] = score
		prev = next
	}
	return StoppedBoundary, scores, nil
}

// step segments slice z from prev. A state other than Active means nothing is committed.
func (w *walker) step(ctx context.Context, z int, prev *mask.Mask) (*mask.Mask, float64, State, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, Active, err
	}
	set, err := Project(prev, w.opts.Projection, w.opts.BoxExtension)
	if err != nil {
		return nil, 0, StoppedLowAgreement, nil
	}
	res, err := w.seg.SegmentSlice(ctx, z, set, prev.Width(), prev.Height(), segment.Options{Policy: segment.SingleObject})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, 0, Active, ctx.Err()
	case oracle.IsFailure(err):
		return nil, 0, StoppedLowAgreement, err
	case errors.Is(err, segment.ErrDegenerateGeometry), errors.Is(err, prompt.ErrEmptyPrompt):
		return nil, 0, StoppedLowAgreement, nil
	default:
		return nil, 0, StoppedLowAgreement, err
	}

	next := res.Mask.Binarize()
	if next.IsEmpty() {
		return nil, 0, StoppedLowAgreement, nil
	}
	score, err := w.agreement(res.Score, next, prev)
	if err != nil {
		return nil, 0, StoppedLowAgreement, err
	}
	if score < w.opts.IoUThreshold {
		return nil, score, StoppedLowAgreement, nil
	}
	return next, score, Active, nil
}

func (w *walker) agreement(oracleScore float64, next, prev *mask.Mask) (float64, error) {
	if w.opts.Agreement == MaskIoU {
		return mask.IoU(next, prev.Binarize())
	}
	return oracleScore, nil
}

// fillGaps segments the slices between consecutive annotated slices. Each gap is walked from
// both ends towards its middle; when the gap has odd length the middle slice is segmented from
// the union of its two neighbors.
func (w *walker) fillGaps(ctx context.Context, annotated []int) (map[int]float64, error) {
	scores := map[int]float64{}
	var errs error
	for i := 0; i+1 < len(annotated); i++ {
		lo, hi := annotated[i], annotated[i+1]
		diff := hi - lo
		if diff < 2 {
			continue
		}
		mid := (lo + hi) / 2
		upTo := mid
		if diff%2 == 0 {
			upTo = mid - 1
		}
		_, up, err := w.walk(ctx, lo, upTo, 1)
		errs = multierr.Append(errs, err)
		_, down, err := w.walk(ctx, hi, mid+1, -1)
		errs = multierr.Append(errs, err)
		maps.Copy(scores, up)
		maps.Copy(scores, down)
		if diff%2 == 0 {
			score, ok, err := w.segmentBetween(ctx, mid, w.stack.Slice(mid-1), w.stack.Slice(mid+1))
			if ok {
				scores[mid] = score
			}
			errs = multierr.Append(errs, err)
		}
		if ctx.Err() != nil {
			return scores, ctx.Err()
		}
	}
	return scores, errs
}

// segmentBetween segments slice z from the union of the slices around it and commits the
// result when it is accepted.
func (w *walker) segmentBetween(ctx context.Context, z int, below, above *mask.Mask) (float64, bool, error) {
	union, err := mask.Union(below, above)
	if err != nil {
		return 0, false, err
	}
	next, score, state, err := w.step(ctx, z, union)
	if state != Active || err != nil {
		return 0, false, err
	}
	if err := w.stack.SetSlice(z, next); err != nil {
		return 0, false, err
	}
	return score, true, nil
}
