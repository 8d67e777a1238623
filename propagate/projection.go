package propagate

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/maskprop/mask"
	"go.viam.com/maskprop/prompt"
	"go.viam.com/maskprop/segment"
)

// Projection turns the mask of one slice into the prompts for the next.
type Projection int

const (
	// ProjectMask emits the bounding box and the mask itself.
	ProjectMask Projection = iota
	// ProjectBoundingBox emits the bounding box only.
	ProjectBoundingBox
	// ProjectPoints emits the bounding box, the mask and points sampled from it.
	ProjectPoints
)

// NumSampledPoints is the number of foreground points sampled by ProjectPoints in addition
// to the interior point closest to the centroid.
const NumSampledPoints = 4

// ProjectionFromString parses a projection name. "default" and the empty string select ProjectMask.
func ProjectionFromString(name string) (Projection, error) {
	switch name {
	case "", "default", "mask":
		return ProjectMask, nil
	case "bounding_box":
		return ProjectBoundingBox, nil
	case "points":
		return ProjectPoints, nil
	default:
		return ProjectMask, errors.Errorf("unknown projection %q, expected one of bounding_box, mask, points", name)
	}
}

func (p Projection) String() string {
	switch p {
	case ProjectMask:
		return "mask"
	case ProjectBoundingBox:
		return "bounding_box"
	case ProjectPoints:
		return "points"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Projection) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Projection) UnmarshalText(text []byte) error {
	parsed, err := ProjectionFromString(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Project converts the foreground of m into prompts for the adjacent slice. It returns
// segment.ErrDegenerateGeometry when m has no foreground.
func Project(m *mask.Mask, p Projection, boxExtension float64) (prompt.Set, error) {
	binary := m.Binarize()
	box, ok := binary.ForegroundBoundingBox()
	if !ok {
		return prompt.Set{}, errors.Wrap(segment.ErrDegenerateGeometry, "cannot project an empty mask")
	}
	box = prompt.ExtendBox(box, boxExtension, binary.Bounds())
	if mask.BoxArea(box) == 0 {
		return prompt.Set{}, errors.Wrap(segment.ErrDegenerateGeometry, "projected box has zero area")
	}

	set := prompt.Set{Boxes: []image.Rectangle{box}}
	switch p {
	case ProjectBoundingBox:
	case ProjectMask:
		set.Masks = []*mask.Mask{binary}
	case ProjectPoints:
		set.Masks = []*mask.Mask{binary}
		set.Points = samplePoints(binary, box)
	default:
		return prompt.Set{}, errors.Errorf("unknown projection %d", p)
	}
	return set, nil
}

// samplePoints returns foreground points (the interior pixel closest to the centroid and up to
// NumSampledPoints pixels spread evenly over the mask in scan order) followed by background
// points at the corners of box that lie outside of the mask.
func samplePoints(binary *mask.Mask, box image.Rectangle) []prompt.Point {
	var fg []image.Point
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			if binary.Get(x, y) != mask.Background {
				fg = append(fg, image.Pt(x, y))
			}
		}
	}

	centroid, _ := binary.Centroid()
	center := fg[0]
	best := math.Inf(1)
	for _, pt := range fg {
		d := r2.Point{X: float64(pt.X), Y: float64(pt.Y)}.Sub(centroid).Norm()
		if d < best {
			center, best = pt, d
		}
	}

	points := []prompt.Point{{X: center.X, Y: center.Y, Label: prompt.Positive}}
	seen := map[image.Point]bool{center: true}
	n := min(NumSampledPoints, len(fg))
	for i := 0; i < n; i++ {
		pt := fg[(2*i+1)*len(fg)/(2*n)]
		if seen[pt] {
			continue
		}
		seen[pt] = true
		points = append(points, prompt.Point{X: pt.X, Y: pt.Y, Label: prompt.Positive})
	}

	corners := []image.Point{
		box.Min,
		{box.Max.X - 1, box.Min.Y},
		{box.Min.X, box.Max.Y - 1},
		box.Max.Sub(image.Pt(1, 1)),
	}
	for _, pt := range corners {
		if seen[pt] || binary.GetPoint(pt) != mask.Background {
			continue
		}
		seen[pt] = true
		points = append(points, prompt.Point{X: pt.X, Y: pt.Y, Label: prompt.Negative})
	}
	return points
}
