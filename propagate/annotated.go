package propagate

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/maskprop/mask"
	"go.viam.com/maskprop/prompt"
	"go.viam.com/maskprop/segment"
)

// AnnotateOptions selects the annotations used by SegmentAnnotated.
type AnnotateOptions struct {
	Tracking     bool
	TrackID      uint32
	BoxExtension float64
}

// Annotated holds the slices segmented from their own prompts. It is ready to be used as the
// seed of a propagation run.
type Annotated struct {
	Seeds     map[int]*mask.Mask
	Slices    []int
	StopLower bool
	StopUpper bool
}

// Input returns the propagation input seeded by a.
func (a *Annotated) Input(shape mask.Shape) Input {
	return Input{Shape: shape, Seeds: a.Seeds, StopLower: a.StopLower, StopUpper: a.StopUpper}
}

// SegmentAnnotated segments every annotated slice from its own prompts as a single object.
// A stop marker below every annotated slice sets StopLower, one above sets StopUpper, and one
// in between is an invalid prompt.
func SegmentAnnotated(
	ctx context.Context,
	seg *segment.Segmenter,
	points []prompt.PointAnnotation,
	shapes []prompt.ShapeAnnotation,
	shape mask.Shape,
	opts AnnotateOptions,
) (*Annotated, error) {
	ctx, span := trace.StartSpan(ctx, "propagate::SegmentAnnotated")
	defer span.End()

	if err := shape.Validate(); err != nil {
		return nil, err
	}
	extract := prompt.ExtractOptions{
		Tracking:           opts.Tracking,
		TrackID:            opts.TrackID,
		WithStopAnnotation: true,
		Bounds:             image.Rect(0, 0, shape.Width, shape.Height),
	}
	out := &Annotated{Seeds: map[int]*mask.Mask{}}
	var stops []int
	for _, z := range prompt.AnnotatedSlices(points, shapes, extract) {
		if !shape.InRange(z) {
			return nil, errors.Wrapf(prompt.ErrInvalidPrompt, "annotation on slice %d is outside of volume %s", z, shape)
		}
		set, err := prompt.Extract(points, shapes, z, extract)
		switch {
		case err == nil:
		case errors.Is(err, prompt.ErrStopDirective):
			stops = append(stops, z)
			continue
		case errors.Is(err, prompt.ErrEmptyPrompt):
			continue
		default:
			return nil, err
		}
		res, err := seg.SegmentSlice(ctx, z, set, shape.Width, shape.Height, segment.Options{
			Policy:       segment.SingleObject,
			BoxExtension: opts.BoxExtension,
		})
		if err != nil {
			return nil, err
		}
		out.Seeds[z] = res.Mask.Binarize()
		out.Slices = append(out.Slices, z)
	}

	if len(out.Slices) == 0 {
		return nil, errors.Wrap(prompt.ErrEmptyPrompt, "no annotated slice to segment")
	}
	lowest, highest := out.Slices[0], out.Slices[len(out.Slices)-1]
	for _, z := range stops {
		switch {
		case z < lowest:
			out.StopLower = true
		case z > highest:
			out.StopUpper = true
		default:
			return nil, errors.Wrapf(prompt.ErrInvalidPrompt,
				"stop annotation on slice %d lies between annotated slices %d and %d", z, lowest, highest)
		}
	}
	return out, nil
}
