package oracle

import (
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/maskprop/mask"
)

func TestNewTiling(t *testing.T) {
	tiling, err := NewTiling(0, 0, 0, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tiling, test.ShouldResemble, NoTiling{})

	tiling, err = NewTiling(512, 0, 0, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tiling, test.ShouldResemble, Tiled{Shape: image.Point{512, 512}})

	tiling, err = NewTiling(0, 100, 0, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tiling, test.ShouldResemble, Tiled{Shape: image.Point{256, 256}})

	tiling, err = NewTiling(100, 1024, 32, 64)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tiling, test.ShouldResemble, Tiled{Shape: image.Point{256, 1024}, Halo: image.Point{64, 64}})
	test.That(t, tiling.String(), test.ShouldEqual, "tiles 256x1024 halo 64x64")

	_, err = NewTiling(512, 512, 32, 0)
	test.That(t, errors.Is(err, ErrAmbiguousHalo), test.ShouldBeTrue)

	_, err = NewTiling(0, 0, 32, 32)
	test.That(t, errors.Is(err, ErrHaloWithoutTiling), test.ShouldBeTrue)

	_, err = NewTiling(-1, 0, 0, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFailure(t *testing.T) {
	test.That(t, NewFailure(3, nil), test.ShouldBeNil)

	err := NewFailure(3, errors.New("out of memory"))
	test.That(t, IsFailure(err), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "slice 3")

	wrapped := errors.Wrap(err, "propagating")
	test.That(t, IsFailure(wrapped), test.ShouldBeTrue)
	test.That(t, NewFailure(4, wrapped), test.ShouldEqual, wrapped)
	test.That(t, IsFailure(errors.New("plain")), test.ShouldBeFalse)
}

func TestResponseBest(t *testing.T) {
	var empty *Response
	_, _, ok := empty.Best()
	test.That(t, ok, test.ShouldBeFalse)

	a, b := mask.New(2, 2), mask.New(2, 2)
	b.Set(0, 0, 1)
	resp := &Response{Masks: []*mask.Mask{a, b}, Scores: []float64{0.2, 0.7}}
	best, score, ok := resp.Best()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, best, test.ShouldEqual, b)
	test.That(t, score, test.ShouldEqual, 0.7)
}
