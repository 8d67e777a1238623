package merge

import (
	"context"
	"image"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/mask"
)

func paint(m *mask.Mask, r image.Rectangle, label uint32) *mask.Mask {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.Set(x, y, label)
		}
	}
	return m
}

func stackOf(t *testing.T, masks ...*mask.Mask) *mask.Stack {
	t.Helper()
	s, err := mask.NewStackFromSlices(masks)
	test.That(t, err, test.ShouldBeNil)
	return s
}

var (
	boxA = image.Rect(0, 0, 4, 4)
	boxB = image.Rect(6, 0, 10, 4)
	boxC = image.Rect(6, 6, 10, 10)
)

func TestAssign(t *testing.T) {
	cost := mat.NewDense(3, 3, []float64{
		4, 1, 3,
		2, 0, 5,
		3, 2, 2,
	})
	test.That(t, assign(cost), test.ShouldResemble, []int{1, 0, 2})
	test.That(t, assign(mat.NewDense(1, 1, []float64{7})), test.ShouldResemble, []int{0})

	// forbidden pairs are avoided even when that costs more elsewhere
	cost = mat.NewDense(2, 2, []float64{
		forbidden, 0.9,
		0.1, forbidden,
	})
	test.That(t, assign(cost), test.ShouldResemble, []int{1, 0})

	matches := matchCosts(2, 1, 0.25, func(i, j int) (float64, bool) {
		if i == 0 {
			return 0, false
		}
		return 0.1, true
	})
	test.That(t, matches, test.ShouldResemble, []int{-1, 0})
}

func TestMergeIdenticalSlices(t *testing.T) {
	logger := logging.NewTestLogger(t)
	var masks []*mask.Mask
	for z := 0; z < 4; z++ {
		masks = append(masks, paint(mask.New(10, 10), boxA, 5))
	}
	out, err := Merge3D(context.Background(), stackOf(t, masks...), Options{Beta: 0.5, WithBackground: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.IDs(), test.ShouldResemble, []uint32{1})
	first, last, ok := out.SliceRange(1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, first, test.ShouldEqual, 0)
	test.That(t, last, test.ShouldEqual, 3)
	test.That(t, out.Slice(2).Area(1), test.ShouldEqual, 16)
}

func TestMergeTwoSlices(t *testing.T) {
	logger := logging.NewTestLogger(t)
	s0 := paint(paint(mask.New(10, 10), boxA, 1), boxB, 2)
	s1 := paint(paint(mask.New(10, 10), boxA, 1), boxC, 2)

	out, err := Merge3D(context.Background(), stackOf(t, s0, s1), Options{Beta: 0.5, MinZExtent: 1, WithBackground: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.IDs(), test.ShouldResemble, []uint32{1, 2, 3})
	test.That(t, out.Slice(0).Get(0, 0), test.ShouldEqual, uint32(1))
	test.That(t, out.Slice(1).Get(0, 0), test.ShouldEqual, uint32(1))
	test.That(t, out.Slice(0).Get(7, 1), test.ShouldEqual, uint32(2))
	test.That(t, out.Slice(1).Get(7, 7), test.ShouldEqual, uint32(3))
	test.That(t, out.Slice(1).Get(7, 1), test.ShouldEqual, mask.Background)
}

func TestMergeGapClosing(t *testing.T) {
	logger := logging.NewTestLogger(t)
	object := func() *mask.Mask { return paint(mask.New(10, 10), boxA, 1) }
	oneGap := stackOf(t, object(), mask.New(10, 10), object())
	twoGaps := stackOf(t, object(), mask.New(10, 10), mask.New(10, 10), object())

	out, err := Merge3D(context.Background(), oneGap, Options{Beta: 0.5, WithBackground: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.IDs(), test.ShouldResemble, []uint32{1, 2})

	out, err = Merge3D(context.Background(), oneGap, Options{Beta: 0.5, GapClosing: 1, WithBackground: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.IDs(), test.ShouldResemble, []uint32{1})
	test.That(t, out.Slice(2).Get(0, 0), test.ShouldEqual, uint32(1))

	out, err = Merge3D(context.Background(), twoGaps, Options{Beta: 0.5, GapClosing: 1, WithBackground: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.IDs(), test.ShouldResemble, []uint32{1, 2})

	out, err = Merge3D(context.Background(), twoGaps, Options{Beta: 0.5, GapClosing: 2, WithBackground: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.IDs(), test.ShouldResemble, []uint32{1})
}

func TestMergeMinZExtent(t *testing.T) {
	logger := logging.NewTestLogger(t)
	s0 := paint(paint(mask.New(10, 10), boxA, 1), boxB, 2)
	s1 := paint(mask.New(10, 10), boxA, 1)
	s2 := paint(mask.New(10, 10), boxC, 4)
	s3 := paint(mask.New(10, 10), boxC, 9)
	stack := stackOf(t, s0, s1, s2, s3)

	out, err := Merge3D(context.Background(), stack, Options{Beta: 0.5, MinZExtent: 2, WithBackground: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	// the single slice object got id 2 and is dropped, ids are not compacted
	test.That(t, out.IDs(), test.ShouldResemble, []uint32{1, 3})
	test.That(t, out.Slice(0).Get(7, 1), test.ShouldEqual, mask.Background)

	out, err = Merge3D(context.Background(), stack, Options{Beta: 0.5, MinZExtent: 3, WithBackground: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.IDs(), test.ShouldBeEmpty)
}

func TestMergeAssignment(t *testing.T) {
	logger := logging.NewTestLogger(t)
	// two objects compete for one successor, the larger overlap wins
	s0 := paint(paint(mask.New(10, 10), image.Rect(0, 0, 5, 10), 1), image.Rect(5, 0, 10, 10), 2)
	s1 := paint(mask.New(10, 10), image.Rect(0, 0, 6, 10), 1)
	out, err := Merge3D(context.Background(), stackOf(t, s0, s1), Options{Beta: 0.5, MinZExtent: 1, WithBackground: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Slice(1).IDs(), test.ShouldResemble, []uint32{1})

	// a small object inside a large one only matches with intersection over min
	s0 = paint(mask.New(10, 10), image.Rect(0, 0, 10, 10), 1)
	s1 = paint(mask.New(10, 10), image.Rect(0, 0, 3, 3), 1)
	out, err = Merge3D(context.Background(), stackOf(t, s0, s1), Options{Beta: 0.5, MinZExtent: 1, WithBackground: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Slice(1).IDs(), test.ShouldResemble, []uint32{2})

	opts := Options{Beta: 0.5, MinZExtent: 1, WithBackground: true, Metric: IntersectionOverMin}
	out, err = Merge3D(context.Background(), stackOf(t, s0, s1), opts, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Slice(1).IDs(), test.ShouldResemble, []uint32{1})
}

func TestMergeWithoutBackground(t *testing.T) {
	logger := logging.NewTestLogger(t)
	s0 := paint(mask.New(10, 10), image.Rect(0, 0, 10, 5), 1)
	s1 := paint(mask.New(10, 10), image.Rect(0, 0, 10, 5), 1)
	out, err := Merge3D(context.Background(), stackOf(t, s0, s1), Options{Beta: 0.5}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.IDs(), test.ShouldResemble, []uint32{1, 2})
	test.That(t, out.Slice(0).Get(0, 9), test.ShouldEqual, out.Slice(1).Get(0, 9))
	test.That(t, out.Slice(0).Get(0, 9), test.ShouldNotEqual, mask.Background)
	test.That(t, out.Slice(1).IsEmpty(), test.ShouldBeFalse)
}

func TestMergeValidation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	stack := stackOf(t, mask.New(2, 2))
	for _, opts := range []Options{{Beta: -0.1}, {Beta: 1.5}, {GapClosing: -1}, {MinZExtent: -1}} {
		_, err := Merge3D(context.Background(), stack, opts, logger)
		test.That(t, err, test.ShouldNotBeNil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Merge3D(ctx, stack, Options{Beta: 0.5}, logger)
	test.That(t, err, test.ShouldEqual, context.Canceled)

	m, err := MetricFromString("intersection_over_min")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m, test.ShouldEqual, IntersectionOverMin)
	_, err = MetricFromString("dice")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOffsetSlices(t *testing.T) {
	s0 := paint(paint(mask.New(4, 4), image.Rect(0, 0, 1, 1), 1), image.Rect(1, 1, 2, 2), 2)
	s1 := paint(mask.New(4, 4), image.Rect(0, 0, 1, 1), 1)
	s2 := mask.New(4, 4)
	s3 := paint(paint(mask.New(4, 4), image.Rect(0, 0, 1, 1), 1), image.Rect(2, 2, 3, 3), 3)
	stack := stackOf(t, s0, s1, s2, s3)

	out := OffsetSlices(stack)
	test.That(t, out.Slice(0).IDs(), test.ShouldResemble, []uint32{1, 2})
	test.That(t, out.Slice(1).IDs(), test.ShouldResemble, []uint32{3})
	test.That(t, out.Slice(2).IDs(), test.ShouldBeEmpty)
	test.That(t, out.Slice(3).IDs(), test.ShouldResemble, []uint32{4, 6})
	test.That(t, stack.Slice(1).IDs(), test.ShouldResemble, []uint32{1})
}
