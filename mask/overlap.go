package mask

import (
	"image"

	"github.com/pkg/errors"
)

// IoU returns the intersection over union of the foreground of two masks.
// Two empty masks have an IoU of 0.
func IoU(a, b *Mask) (float64, error) {
	if !a.SameSize(b) {
		return 0, errors.Errorf("cannot compare %dx%d and %dx%d masks", a.width, a.height, b.width, b.height)
	}
	inter, union := 0, 0
	for i := range a.data {
		fa, fb := a.data[i] != Background, b.data[i] != Background
		if fa && fb {
			inter++
		}
		if fa || fb {
			union++
		}
	}
	if union == 0 {
		return 0, nil
	}
	return float64(inter) / float64(union), nil
}

// Overlap holds the pixel statistics between one label of a mask and one label of another.
type Overlap struct {
	A, B         uint32
	Intersection int
	AreaA, AreaB int
}

// IoU returns intersection over union.
func (o Overlap) IoU() float64 {
	union := o.AreaA + o.AreaB - o.Intersection
	if union <= 0 {
		return 0
	}
	return float64(o.Intersection) / float64(union)
}

// IntersectionOverMin returns the intersection divided by the smaller of both areas.
func (o Overlap) IntersectionOverMin() float64 {
	min := o.AreaA
	if o.AreaB < min {
		min = o.AreaB
	}
	if min <= 0 {
		return 0
	}
	return float64(o.Intersection) / float64(min)
}

// Overlaps computes the pairwise overlap between every non-background label of a
// and every non-background label of b. Pairs that never touch are omitted.
func Overlaps(a, b *Mask) ([]Overlap, error) {
	if !a.SameSize(b) {
		return nil, errors.Errorf("cannot compare %dx%d and %dx%d masks", a.width, a.height, b.width, b.height)
	}
	type pair struct{ a, b uint32 }
	inter := map[pair]int{}
	areaA := map[uint32]int{}
	areaB := map[uint32]int{}
	for i := range a.data {
		va, vb := a.data[i], b.data[i]
		if va != Background {
			areaA[va]++
		}
		if vb != Background {
			areaB[vb]++
		}
		if va != Background && vb != Background {
			inter[pair{va, vb}]++
		}
	}
	out := make([]Overlap, 0, len(inter))
	for p, n := range inter {
		out = append(out, Overlap{A: p.a, B: p.b, Intersection: n, AreaA: areaA[p.a], AreaB: areaB[p.b]})
	}
	return out, nil
}

// BoxArea returns the area of a rectangle, 0 for empty ones.
func BoxArea(r image.Rectangle) int {
	if r.Empty() {
		return 0
	}
	return r.Dx() * r.Dy()
}
