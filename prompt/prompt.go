// Package prompt turns raw per-slice annotations into the prompt sets consumed by the segmenter.
package prompt

import (
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/maskprop/mask"
)

var (
	// ErrEmptyPrompt signals that a slice carries no usable annotation. It means "skip", not "stop".
	ErrEmptyPrompt = errors.New("no prompts given")
	// ErrStopDirective signals an explicit request not to segment a slice.
	ErrStopDirective = errors.New("stop annotation")
	// ErrInvalidPrompt signals annotations that cannot be interpreted.
	ErrInvalidPrompt = errors.New("invalid prompts")
)

// Label is the role of a point prompt.
type Label int

const (
	// Negative marks background.
	Negative Label = iota
	// Positive marks foreground.
	Positive
	// Stop marks a slice that must not be segmented.
	Stop
)

func (l Label) String() string {
	switch l {
	case Negative:
		return "negative"
	case Positive:
		return "positive"
	case Stop:
		return "stop"
	}
	return "unknown"
}

// LabelFromString parses the label names used by annotation layers.
func LabelFromString(s string) (Label, error) {
	switch s {
	case "negative":
		return Negative, nil
	case "positive":
		return Positive, nil
	case "stop":
		return Stop, nil
	}
	return Negative, errors.Wrapf(ErrInvalidPrompt, "unknown point label %q", s)
}

// Point is a labeled point prompt in pixel coordinates.
type Point struct {
	X     int   `json:"x"`
	Y     int   `json:"y"`
	Label Label `json:"label"`
}

// Pt returns the point position.
func (p Point) Pt() image.Point {
	return image.Point{p.X, p.Y}
}

// Set is the normalized prompt input for one segmentation call.
type Set struct {
	Points []Point
	Boxes  []image.Rectangle
	Masks  []*mask.Mask
}

// IsEmpty reports whether the set holds no prompt at all.
func (s Set) IsEmpty() bool {
	return len(s.Points) == 0 && len(s.Boxes) == 0 && len(s.Masks) == 0
}

// Coords returns the point positions.
func (s Set) Coords() []image.Point {
	out := make([]image.Point, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Pt()
	}
	return out
}

// Labels returns the point labels.
func (s Set) Labels() []Label {
	out := make([]Label, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Label
	}
	return out
}

// PositivePoints returns the foreground points only.
func (s Set) PositivePoints() []Point {
	out := []Point{}
	for _, p := range s.Points {
		if p.Label == Positive {
			out = append(out, p)
		}
	}
	return out
}

// ExtendBox enlarges box on every side and clips it to bounds. An extension below 1 is a
// fraction of the box size (0.05 on a 100 pixel wide box adds 5 pixels left and right),
// an extension of 1 or more is an absolute number of pixels.
func ExtendBox(box image.Rectangle, extension float64, bounds image.Rectangle) image.Rectangle {
	var dx, dy int
	switch {
	case extension <= 0:
	case extension >= 1:
		dx = int(math.Round(extension))
		dy = dx
	default:
		dx = int(math.Round(float64(box.Dx()) * extension))
		dy = int(math.Round(float64(box.Dy()) * extension))
	}
	box = image.Rect(box.Min.X-dx, box.Min.Y-dy, box.Max.X+dx, box.Max.Y+dy)
	return box.Intersect(bounds)
}
