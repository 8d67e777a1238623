package prompt

import (
	"image"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/mask"
)

// PointAnnotation is a point placed by the user on one slice.
type PointAnnotation struct {
	Slice   int    `json:"slice"`
	TrackID uint32 `json:"track_id,omitempty"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Label   Label  `json:"label"`
}

// ShapeAnnotation is a box, optionally with a rasterized shape, drawn by the user on one slice.
type ShapeAnnotation struct {
	Slice   int             `json:"slice"`
	TrackID uint32          `json:"track_id,omitempty"`
	Box     image.Rectangle `json:"box"`
	Mask    *mask.Mask      `json:"-"`
}

// ExtractOptions controls which annotations are turned into prompts.
type ExtractOptions struct {
	// Tracking restricts extraction to annotations carrying TrackID.
	Tracking bool
	TrackID  uint32
	// WithStopAnnotation allows a single stop point to mark a slice. When false a
	// stop label is invalid.
	WithStopAnnotation bool
	// Bounds drops points outside the image. The zero value disables the check.
	Bounds image.Rectangle
	Logger logging.Logger
}

func (opts ExtractOptions) matches(slice, wantSlice int, trackID uint32) bool {
	if slice != wantSlice {
		return false
	}
	return !opts.Tracking || trackID == opts.TrackID
}

// Extract collects the prompts of one slice. It returns ErrEmptyPrompt when the slice
// carries nothing and ErrStopDirective when it carries exactly one stop point.
func Extract(points []PointAnnotation, shapes []ShapeAnnotation, slice int, opts ExtractOptions) (Set, error) {
	var set Set
	hasStop := false
	for _, p := range points {
		if !opts.matches(p.Slice, slice, p.TrackID) {
			continue
		}
		if p.Label == Stop {
			if !opts.WithStopAnnotation {
				return Set{}, errors.Wrapf(ErrInvalidPrompt, "stop annotation on slice %d is not supported here", slice)
			}
			hasStop = true
		}
		if p.Label != Stop && !opts.Bounds.Empty() && !image.Pt(p.X, p.Y).In(opts.Bounds) {
			if opts.Logger != nil {
				opts.Logger.Debugw("dropping point outside of image", "slice", slice, "x", p.X, "y", p.Y)
			}
			continue
		}
		set.Points = append(set.Points, Point{X: p.X, Y: p.Y, Label: p.Label})
	}
	for _, s := range shapes {
		if !opts.matches(s.Slice, slice, s.TrackID) {
			continue
		}
		set.Boxes = append(set.Boxes, s.Box)
		if s.Mask != nil {
			set.Masks = append(set.Masks, s.Mask)
		}
	}

	if hasStop {
		if len(set.Points) == 1 && len(set.Boxes) == 0 {
			return Set{}, ErrStopDirective
		}
		return Set{}, errors.Wrapf(ErrInvalidPrompt, "stop annotation on slice %d must be the only prompt", slice)
	}
	if set.IsEmpty() {
		return Set{}, ErrEmptyPrompt
	}
	return set, nil
}

// AnnotatedSlices returns the sorted indices of slices that carry any annotation.
func AnnotatedSlices(points []PointAnnotation, shapes []ShapeAnnotation, opts ExtractOptions) []int {
	out := make([]int, 0, len(points)+len(shapes))
	for _, p := range points {
		if !opts.Tracking || p.TrackID == opts.TrackID {
			out = append(out, p.Slice)
		}
	}
	for _, s := range shapes {
		if !opts.Tracking || s.TrackID == opts.TrackID {
			out = append(out, s.Slice)
		}
	}
	out = lo.Uniq(out)
	slices.Sort(out)
	return out
}

// TrackIDs returns the sorted unique track ids used by the annotations.
func TrackIDs(points []PointAnnotation, shapes []ShapeAnnotation) []uint32 {
	ids := lo.Map(points, func(p PointAnnotation, _ int) uint32 { return p.TrackID })
	ids = append(ids, lo.Map(shapes, func(s ShapeAnnotation, _ int) uint32 { return s.TrackID })...)
	ids = lo.Uniq(ids)
	slices.Sort(ids)
	return ids
}
