package mask

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// Shape is the size of a volume: Depth slices of Height rows and Width columns.
type Shape struct {
	Depth  int `json:"depth"`
	Height int `json:"height"`
	Width  int `json:"width"`
}

// Validate ensures the shape describes a non-empty volume.
func (s Shape) Validate() error {
	if s.Depth <= 0 || s.Height <= 0 || s.Width <= 0 {
		return errors.Errorf("invalid volume shape %s", s)
	}
	return nil
}

// InRange reports whether z is a valid slice index.
func (s Shape) InRange(z int) bool {
	return z >= 0 && z < s.Depth
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.Depth, s.Height, s.Width)
}

// A Stack is an ordered sequence of equally sized masks along the volume axis.
type Stack struct {
	shape  Shape
	slices []*Mask
}

// NewStack returns an all-background stack.
func NewStack(shape Shape) *Stack {
	masks := make([]*Mask, shape.Depth)
	for z := range masks {
		masks[z] = New(shape.Width, shape.Height)
	}
	return &Stack{shape: shape, slices: masks}
}

// NewStackFromSlices wraps existing masks. They must share one size.
func NewStackFromSlices(masks []*Mask) (*Stack, error) {
	if len(masks) == 0 {
		return nil, errors.New("cannot build a stack without slices")
	}
	first := masks[0]
	for z, m := range masks {
		if m == nil {
			return nil, errors.Errorf("slice %d is nil", z)
		}
		if !m.SameSize(first) {
			return nil, errors.Errorf("slice %d is %dx%d, expected %dx%d", z, m.width, m.height, first.width, first.height)
		}
	}
	return &Stack{
		shape:  Shape{Depth: len(masks), Height: first.height, Width: first.width},
		slices: masks,
	}, nil
}

// Shape returns the volume shape.
func (s *Stack) Shape() Shape {
	return s.shape
}

// Depth returns the number of slices.
func (s *Stack) Depth() int {
	return s.shape.Depth
}

// Slice returns the mask at index z. The mask is shared, not copied.
func (s *Stack) Slice(z int) *Mask {
	return s.slices[z]
}

// SetSlice replaces the mask at index z with a copy of m.
func (s *Stack) SetSlice(z int, m *Mask) error {
	if !s.shape.InRange(z) {
		return errors.Errorf("slice %d out of range [0, %d)", z, s.shape.Depth)
	}
	if m.width != s.shape.Width || m.height != s.shape.Height {
		return errors.Errorf("slice is %dx%d, expected %dx%d", m.width, m.height, s.shape.Width, s.shape.Height)
	}
	s.slices[z] = m.Clone()
	return nil
}

// Clone returns a deep copy.
func (s *Stack) Clone() *Stack {
	masks := make([]*Mask, len(s.slices))
	for z, m := range s.slices {
		masks[z] = m.Clone()
	}
	return &Stack{shape: s.shape, slices: masks}
}

// Max returns the largest label in the stack.
func (s *Stack) Max() uint32 {
	var max uint32
	for _, m := range s.slices {
		if v := m.Max(); v > max {
			max = v
		}
	}
	return max
}

// Offset adds off to every non-background label in place.
func (s *Stack) Offset(off uint32) {
	if off == 0 {
		return
	}
	for _, m := range s.slices {
		for i, v := range m.data {
			if v != Background {
				m.data[i] = v + off
			}
		}
	}
}

// Replace rewrites label from as to on every slice.
func (s *Stack) Replace(from, to uint32) {
	for _, m := range s.slices {
		m.Replace(from, to)
	}
}

// IDs returns the sorted non-background labels present anywhere in the stack.
func (s *Stack) IDs() []uint32 {
	seen := map[uint32]struct{}{}
	ids := []uint32{}
	for _, m := range s.slices {
		for _, id := range m.IDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// SliceRange returns the first and last slice containing label id.
func (s *Stack) SliceRange(id uint32) (int, int, bool) {
	first, last := -1, -1
	for z, m := range s.slices {
		if m.Area(id) == 0 {
			continue
		}
		if first < 0 {
			first = z
		}
		last = z
	}
	return first, last, first >= 0
}

// SegmentedSlices returns the indices of slices that contain any foreground.
func (s *Stack) SegmentedSlices() []int {
	out := []int{}
	for z, m := range s.slices {
		if !m.IsEmpty() {
			out = append(out, z)
		}
	}
	return out
}
