package propagate

import (
	"context"
	"image"
	"testing"

	"go.viam.com/test"

	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/mask"
	"go.viam.com/maskprop/oracle"
	"go.viam.com/maskprop/segment"
	"go.viam.com/maskprop/testutils/inject"
)

func defaultTrackOptions() TrackOptions {
	return TrackOptions{
		IoUThreshold:       0.5,
		MotionSmoothing:    0.5,
		MinSuccessorArea:   1,
		SuccessorThreshold: 0.5,
	}
}

func TestTrackToEnd(t *testing.T) {
	logger := logging.NewTestLogger(t)
	shape := mask.Shape{Depth: 5, Height: 10, Width: 10}
	seed := rectMask(10, 10, image.Rect(1, 1, 3, 3))
	p := echoPredictor(10, 10, func(int) float64 { return 0.9 })

	in := Input{Shape: shape, Seeds: map[int]*mask.Mask{1: seed}}
	res, err := Track(context.Background(), segment.NewSegmenter(p, logger), in, defaultTrackOptions(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.State, test.ShouldEqual, StoppedBoundary)
	test.That(t, res.Division, test.ShouldBeFalse)
	test.That(t, res.Frames(), test.ShouldResemble, []int{1, 2, 3, 4})
	test.That(t, res.Seg.Slice(0).IsEmpty(), test.ShouldBeTrue)
	test.That(t, res.Seg.Slice(4).Equal(seed), test.ShouldBeTrue)

	in.StopUpper = true
	in.Seeds[3] = seed
	res, err = Track(context.Background(), segment.NewSegmenter(p, logger), in, defaultTrackOptions(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.State, test.ShouldEqual, StoppedDirective)
	test.That(t, res.Frames(), test.ShouldResemble, []int{1, 2, 3})

	opts := defaultTrackOptions()
	opts.MotionSmoothing = 2
	_, err = Track(context.Background(), segment.NewSegmenter(p, logger), in, opts, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTrackMotion(t *testing.T) {
	logger := logging.NewTestLogger(t)
	shape := mask.Shape{Depth: 4, Height: 10, Width: 10}
	object := func(frame int) *mask.Mask {
		return rectMask(10, 10, image.Rect(frame, 2, frame+2, 4))
	}
	prompts := map[int]*mask.Mask{}
	p := &inject.Predictor{}
	p.PredictFunc = func(ctx context.Context, slice int, req oracle.Request) (*oracle.Response, error) {
		prompts[slice] = req.Mask
		return &oracle.Response{Masks: []*mask.Mask{object(slice)}, Scores: []float64{1}}, nil
	}

	in := Input{Shape: shape, Seeds: map[int]*mask.Mask{0: object(0)}}
	res, err := Track(context.Background(), segment.NewSegmenter(p, logger), in, defaultTrackOptions(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.State, test.ShouldEqual, StoppedBoundary)

	box, ok := prompts[1].ForegroundBoundingBox()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, box, test.ShouldResemble, image.Rect(0, 2, 2, 4))
	box, ok = prompts[2].ForegroundBoundingBox()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, box, test.ShouldResemble, image.Rect(2, 2, 4, 4))
}

func TestTrackDivision(t *testing.T) {
	logger := logging.NewTestLogger(t)
	shape := mask.Shape{Depth: 6, Height: 10, Width: 10}
	seed := rectMask(10, 10, image.Rect(2, 2, 8, 5))
	left := rectMask(10, 10, image.Rect(2, 2, 4, 5))
	right := rectMask(10, 10, image.Rect(6, 2, 8, 5))

	p := &inject.Predictor{}
	p.PredictFunc = func(ctx context.Context, slice int, req oracle.Request) (*oracle.Response, error) {
		if slice == 3 {
			split := left.Clone()
			test.That(t, split.Paint(right, 1), test.ShouldBeNil)
			return &oracle.Response{Masks: []*mask.Mask{split}, Scores: []float64{0.9}}, nil
		}
		return &oracle.Response{Masks: []*mask.Mask{req.Mask.Clone()}, Scores: []float64{0.9}}, nil
	}
	in := Input{Shape: shape, Seeds: map[int]*mask.Mask{0: seed}}
	res, err := Track(context.Background(), segment.NewSegmenter(p, logger), in, defaultTrackOptions(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Division, test.ShouldBeTrue)
	test.That(t, res.DivisionFrame, test.ShouldEqual, 3)
	test.That(t, res.State, test.ShouldEqual, StoppedDivision)
	test.That(t, res.ZMax, test.ShouldEqual, 3)
	test.That(t, res.Seg.Slice(3).CountComponents(1), test.ShouldEqual, 2)
	test.That(t, res.Seg.Slice(4).IsEmpty(), test.ShouldBeTrue)

	// Nested candidates overlap and are a single object, disjoint ones are successors.
	p.PredictFunc = func(ctx context.Context, slice int, req oracle.Request) (*oracle.Response, error) {
		if slice == 2 {
			return &oracle.Response{Masks: []*mask.Mask{left, right, seed.Clone()}, Scores: []float64{0.95, 0.8, 0.4}}, nil
		}
		return &oracle.Response{Masks: []*mask.Mask{req.Mask.Clone(), left}, Scores: []float64{0.95, 0.9}}, nil
	}
	res, err = Track(context.Background(), segment.NewSegmenter(p, logger), in, defaultTrackOptions(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Division, test.ShouldBeTrue)
	test.That(t, res.DivisionFrame, test.ShouldEqual, 2)
	test.That(t, res.Seg.Slice(2).Equal(left), test.ShouldBeTrue)
}

func TestDisjointCandidates(t *testing.T) {
	whole := rectMask(6, 6, image.Rect(0, 0, 6, 3))
	part := rectMask(6, 6, image.Rect(0, 0, 2, 2))
	other := rectMask(6, 6, image.Rect(0, 4, 6, 6))
	kept := disjointCandidates([]segment.Candidate{
		{Mask: whole, Score: 0.9},
		{Mask: part, Score: 0.8},
		{Mask: other, Score: 0.7},
		{Mask: mask.New(6, 6), Score: 0.6},
	})
	test.That(t, kept, test.ShouldHaveLength, 2)
	test.That(t, kept[0].Mask, test.ShouldEqual, whole)
	test.That(t, kept[1].Mask, test.ShouldEqual, other)
}
