package prompt

import (
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/mask"
)

func TestExtract(t *testing.T) {
	logger := logging.NewTestLogger(t)
	points := []PointAnnotation{
		{Slice: 2, X: 4, Y: 4, Label: Positive},
		{Slice: 2, X: 1, Y: 1, Label: Negative},
		{Slice: 2, X: 100, Y: 1, Label: Positive},
		{Slice: 5, X: 3, Y: 3, Label: Stop},
		{Slice: 6, X: 3, Y: 3, Label: Stop},
		{Slice: 6, X: 4, Y: 4, Label: Positive},
	}
	shapes := []ShapeAnnotation{
		{Slice: 2, Box: image.Rect(2, 2, 6, 6), Mask: mask.New(10, 10)},
		{Slice: 3, Box: image.Rect(0, 0, 3, 3)},
	}
	opts := ExtractOptions{WithStopAnnotation: true, Bounds: image.Rect(0, 0, 10, 10), Logger: logger}

	t.Run("points and shapes", func(t *testing.T) {
		set, err := Extract(points, shapes, 2, opts)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, set.Points, test.ShouldHaveLength, 2)
		test.That(t, set.Labels(), test.ShouldResemble, []Label{Positive, Negative})
		test.That(t, set.Boxes, test.ShouldResemble, []image.Rectangle{image.Rect(2, 2, 6, 6)})
		test.That(t, set.Masks, test.ShouldHaveLength, 1)
		test.That(t, set.PositivePoints(), test.ShouldHaveLength, 1)
	})

	t.Run("box only", func(t *testing.T) {
		set, err := Extract(points, shapes, 3, opts)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, set.Points, test.ShouldBeEmpty)
		test.That(t, set.Boxes, test.ShouldHaveLength, 1)
	})

	t.Run("no annotation is empty, not stop", func(t *testing.T) {
		_, err := Extract(points, shapes, 4, opts)
		test.That(t, errors.Is(err, ErrEmptyPrompt), test.ShouldBeTrue)
		test.That(t, errors.Is(err, ErrStopDirective), test.ShouldBeFalse)
	})

	t.Run("single stop point", func(t *testing.T) {
		_, err := Extract(points, shapes, 5, opts)
		test.That(t, errors.Is(err, ErrStopDirective), test.ShouldBeTrue)
	})

	t.Run("stop point outside of the image", func(t *testing.T) {
		outside := []PointAnnotation{{Slice: 0, X: 12, Y: 40, Label: Stop}}
		_, err := Extract(outside, nil, 0, opts)
		test.That(t, errors.Is(err, ErrStopDirective), test.ShouldBeTrue)
	})

	t.Run("stop mixed with prompts", func(t *testing.T) {
		_, err := Extract(points, shapes, 6, opts)
		test.That(t, errors.Is(err, ErrInvalidPrompt), test.ShouldBeTrue)
	})

	t.Run("stop not allowed", func(t *testing.T) {
		noStop := opts
		noStop.WithStopAnnotation = false
		_, err := Extract(points, shapes, 5, noStop)
		test.That(t, errors.Is(err, ErrInvalidPrompt), test.ShouldBeTrue)
	})
}

func TestExtractTracking(t *testing.T) {
	points := []PointAnnotation{
		{Slice: 0, TrackID: 1, X: 1, Y: 1, Label: Positive},
		{Slice: 0, TrackID: 2, X: 5, Y: 5, Label: Positive},
		{Slice: 3, TrackID: 2, X: 5, Y: 5, Label: Positive},
	}
	opts := ExtractOptions{Tracking: true, TrackID: 2}
	set, err := Extract(points, nil, 0, opts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, set.Coords(), test.ShouldResemble, []image.Point{{5, 5}})

	test.That(t, AnnotatedSlices(points, nil, opts), test.ShouldResemble, []int{0, 3})
	test.That(t, AnnotatedSlices(points, nil, ExtractOptions{}), test.ShouldResemble, []int{0, 3})
	test.That(t, TrackIDs(points, nil), test.ShouldResemble, []uint32{1, 2})

	opts.TrackID = 3
	_, err = Extract(points, nil, 0, opts)
	test.That(t, errors.Is(err, ErrEmptyPrompt), test.ShouldBeTrue)
}

func TestExtendBox(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 100)
	test.That(t, ExtendBox(image.Rect(10, 10, 30, 50), 0.1, bounds), test.ShouldResemble, image.Rect(8, 6, 32, 54))
	test.That(t, ExtendBox(image.Rect(0, 0, 20, 20), 0.5, bounds), test.ShouldResemble, image.Rect(0, 0, 30, 30))
	test.That(t, ExtendBox(image.Rect(10, 10, 30, 50), 0, bounds), test.ShouldResemble, image.Rect(10, 10, 30, 50))
	test.That(t, ExtendBox(image.Rect(10, 10, 30, 50), 3, bounds), test.ShouldResemble, image.Rect(7, 7, 33, 53))
	test.That(t, ExtendBox(image.Rect(120, 120, 130, 130), 0.1, bounds).Empty(), test.ShouldBeTrue)
}

func TestLabelFromString(t *testing.T) {
	l, err := LabelFromString("positive")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l, test.ShouldEqual, Positive)
	test.That(t, Stop.String(), test.ShouldEqual, "stop")
	_, err = LabelFromString("maybe")
	test.That(t, err, test.ShouldNotBeNil)
}
