// Package segment runs the segmentation backend on a single slice.
package segment

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/pkg/errors"

	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/mask"
	"go.viam.com/maskprop/oracle"
	"go.viam.com/maskprop/prompt"
)

// ErrDegenerateGeometry is returned for prompts with no extent, such as a zero area box or an empty mask.
var ErrDegenerateGeometry = errors.New("degenerate prompt geometry")

// Policy decides how the prompts of a set are combined into backend requests.
type Policy int

const (
	// SingleObject submits one combined request and yields at most one object.
	SingleObject Policy = iota
	// MultipleBoxes submits one request per box; points inside a box are attached to it.
	MultipleBoxes
	// MultiplePoints submits one request per positive point, or one per box like
	// MultipleBoxes when the prompts carry boxes.
	MultiplePoints
)

// Options configures a segmentation call.
type Options struct {
	Policy Policy
	// BoxExtension enlarges every box before submission, see prompt.ExtendBox.
	BoxExtension float64
	// Multimask requests several candidates and keeps the best one. Only used by SingleObject.
	Multimask bool
	// CandidateThreshold is the minimum score for a candidate to be reported in Result.Candidates.
	CandidateThreshold float64
}

// Candidate is one alternative mask proposed by the backend.
type Candidate struct {
	Mask  *mask.Mask
	Score float64
}

// Result is the outcome of segmenting one slice. Objects in Mask are labeled from 1.
type Result struct {
	Mask  *mask.Mask
	Score float64
	// Candidates holds every candidate of a multimask request scoring at least
	// Options.CandidateThreshold, best first.
	Candidates []Candidate
}

// Segmenter runs prompt based segmentation on single slices.
type Segmenter struct {
	predictor oracle.Predictor
	logger    logging.Logger
}

// NewSegmenter returns a Segmenter backed by the given predictor.
func NewSegmenter(predictor oracle.Predictor, logger logging.Logger) *Segmenter {
	return &Segmenter{predictor: predictor, logger: logger}
}

// SegmentSlice segments slice from the prompts in set. The output has the given width and
// height. It returns prompt.ErrEmptyPrompt when set is empty, ErrDegenerateGeometry for
// prompts without extent, and an *oracle.Failure when the backend fails.
func (s *Segmenter) SegmentSlice(
	ctx context.Context,
	slice int,
	set prompt.Set,
	width, height int,
	opts Options,
) (*Result, error) {
	if set.IsEmpty() {
		return nil, prompt.ErrEmptyPrompt
	}
	bounds := image.Rect(0, 0, width, height)
	boxes, err := prepareBoxes(set.Boxes, opts.BoxExtension, bounds)
	if err != nil {
		return nil, err
	}
	for _, m := range set.Masks {
		if m.Width() != width || m.Height() != height {
			return nil, errors.Wrapf(prompt.ErrInvalidPrompt, "mask prompt is %dx%d, expected %dx%d",
				m.Width(), m.Height(), width, height)
		}
		if m.IsEmpty() {
			return nil, errors.Wrap(ErrDegenerateGeometry, "mask prompt is empty")
		}
	}

	var requests []oracle.Request
	switch {
	case opts.Policy != SingleObject && len(boxes) > 0:
		requests = s.boxRequests(slice, set, boxes)
	case opts.Policy == MultiplePoints:
		requests = pointRequests(set)
		if len(requests) == 0 {
			return nil, errors.Wrap(prompt.ErrEmptyPrompt, "no positive point prompts")
		}
	default:
		req, err := combinedRequest(set, boxes)
		if err != nil {
			return nil, err
		}
		req.Multimask = opts.Multimask && opts.Policy == SingleObject
		requests = []oracle.Request{req}
	}

	out := mask.New(width, height)
	result := &Result{Mask: out, Score: math.Inf(1)}
	for i, req := range requests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := s.predictor.Predict(ctx, slice, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, oracle.NewFailure(slice, err)
		}
		best, score, ok := resp.Best()
		if !ok {
			return nil, oracle.NewFailure(slice, errors.New("backend returned no masks"))
		}
		if best.Width() != width || best.Height() != height {
			return nil, oracle.NewFailure(slice, errors.Errorf("backend returned a %dx%d mask, expected %dx%d",
				best.Width(), best.Height(), width, height))
		}
		if err := out.Paint(best, uint32(i+1)); err != nil {
			return nil, err
		}
		result.Score = math.Min(result.Score, score)
		if req.Multimask {
			result.Candidates = candidates(resp, opts.CandidateThreshold)
		}
	}
	return result, nil
}

func prepareBoxes(boxes []image.Rectangle, extension float64, bounds image.Rectangle) ([]image.Rectangle, error) {
	out := make([]image.Rectangle, 0, len(boxes))
	for _, box := range boxes {
		if mask.BoxArea(box) == 0 {
			return nil, errors.Wrapf(ErrDegenerateGeometry, "box %v has zero area", box)
		}
		extended := prompt.ExtendBox(box, extension, bounds)
		if mask.BoxArea(extended) == 0 {
			return nil, errors.Wrapf(ErrDegenerateGeometry, "box %v lies outside of the image", box)
		}
		out = append(out, extended)
	}
	return out, nil
}

func combinedRequest(set prompt.Set, boxes []image.Rectangle) (oracle.Request, error) {
	if len(boxes) > 1 {
		return oracle.Request{}, errors.Wrapf(prompt.ErrInvalidPrompt,
			"got %d box prompts, a single object can only be segmented from one box", len(boxes))
	}
	if len(set.Masks) > 1 {
		return oracle.Request{}, errors.Wrapf(prompt.ErrInvalidPrompt,
			"got %d mask prompts, a single object can only be segmented from one mask", len(set.Masks))
	}
	req := oracle.Request{Points: set.Coords(), Labels: set.Labels()}
	if len(boxes) == 1 {
		box := boxes[0]
		req.Box = &box
	}
	if len(set.Masks) == 1 {
		req.Mask = set.Masks[0]
	}
	return req, nil
}

// boxRequests builds one request per box. A point is attached to every box that contains it,
// and masks are attached by index when there is one per box.
func (s *Segmenter) boxRequests(slice int, set prompt.Set, boxes []image.Rectangle) []oracle.Request {
	requests := make([]oracle.Request, 0, len(boxes))
	used := make([]bool, len(set.Points))
	for i := range boxes {
		box := boxes[i]
		req := oracle.Request{Box: &box}
		for j, p := range set.Points {
			if p.Pt().In(box) {
				req.Points = append(req.Points, p.Pt())
				req.Labels = append(req.Labels, p.Label)
				used[j] = true
			}
		}
		if len(set.Masks) == len(boxes) {
			req.Mask = set.Masks[i]
		}
		requests = append(requests, req)
	}
	for j, ok := range used {
		if !ok && s.logger != nil {
			s.logger.Debugw("point prompt is outside of every box and is ignored", "slice", slice, "point", set.Points[j].Pt())
		}
	}
	return requests
}

func pointRequests(set prompt.Set) []oracle.Request {
	positives := set.PositivePoints()
	requests := make([]oracle.Request, 0, len(positives))
	for _, p := range positives {
		requests = append(requests, oracle.Request{
			Points: []image.Point{p.Pt()},
			Labels: []prompt.Label{prompt.Positive},
		})
	}
	return requests
}

func candidates(resp *oracle.Response, threshold float64) []Candidate {
	out := []Candidate{}
	for i, m := range resp.Masks {
		if i >= len(resp.Scores) || resp.Scores[i] < threshold {
			continue
		}
		out = append(out, Candidate{Mask: m, Score: resp.Scores[i]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
