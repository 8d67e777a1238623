// Package mask defines the label images produced and consumed by the segmentation core.
package mask

import (
	"image"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// Background is the label reserved for pixels that belong to no object.
const Background uint32 = 0

// A Mask is a 2D label image. Label 0 is background, every other value is an
// object id local to whoever produced the mask.
type Mask struct {
	width  int
	height int

	data []uint32
}

// New returns an all-background mask of the given size.
func New(width, height int) *Mask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Mask{
		width:  width,
		height: height,
		data:   make([]uint32, width*height),
	}
}

// NewFromData wraps row-major label data. The slice is not copied.
func NewFromData(width, height int, data []uint32) (*Mask, error) {
	if width < 0 || height < 0 {
		return nil, errors.Errorf("invalid mask size %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, errors.Errorf("mask data has %d elements, expected %d", len(data), width*height)
	}
	return &Mask{width: width, height: height, data: data}, nil
}

// Width returns the number of columns.
func (m *Mask) Width() int {
	return m.width
}

// Height returns the number of rows.
func (m *Mask) Height() int {
	return m.height
}

// Bounds returns the rectangle covered by the mask.
func (m *Mask) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.width, m.height)
}

// SameSize reports whether both masks have identical dimensions.
func (m *Mask) SameSize(other *Mask) bool {
	return m.width == other.width && m.height == other.height
}

// In reports whether (x, y) lies inside the mask.
func (m *Mask) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.width && y < m.height
}

func (m *Mask) kxy(x, y int) int {
	return (y * m.width) + x
}

// Get returns the label at (x, y).
func (m *Mask) Get(x, y int) uint32 {
	return m.data[m.kxy(x, y)]
}

// GetPoint returns the label at p.
func (m *Mask) GetPoint(p image.Point) uint32 {
	return m.Get(p.X, p.Y)
}

// Set assigns the label at (x, y).
func (m *Mask) Set(x, y int, label uint32) {
	m.data[m.kxy(x, y)] = label
}

// Data exposes the row-major label buffer.
func (m *Mask) Data() []uint32 {
	return m.data
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	data := make([]uint32, len(m.data))
	copy(data, m.data)
	return &Mask{width: m.width, height: m.height, data: data}
}

// Equal reports whether both masks have the same size and labels.
func (m *Mask) Equal(other *Mask) bool {
	if other == nil || !m.SameSize(other) {
		return false
	}
	for i, v := range m.data {
		if other.data[i] != v {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the mask contains no foreground pixels.
func (m *Mask) IsEmpty() bool {
	for _, v := range m.data {
		if v != Background {
			return false
		}
	}
	return true
}

// Max returns the largest label in the mask.
func (m *Mask) Max() uint32 {
	var max uint32
	for _, v := range m.data {
		if v > max {
			max = v
		}
	}
	return max
}

// IDs returns the sorted set of non-background labels.
func (m *Mask) IDs() []uint32 {
	seen := map[uint32]struct{}{}
	for _, v := range m.data {
		if v != Background {
			seen[v] = struct{}{}
		}
	}
	ids := make([]uint32, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Areas returns the pixel count of every label, background included.
func (m *Mask) Areas() map[uint32]int {
	areas := map[uint32]int{}
	for _, v := range m.data {
		areas[v]++
	}
	return areas
}

// Area returns the number of pixels carrying the given label.
func (m *Mask) Area(id uint32) int {
	n := 0
	for _, v := range m.data {
		if v == id {
			n++
		}
	}
	return n
}

// Foreground returns the number of non-background pixels.
func (m *Mask) Foreground() int {
	n := 0
	for _, v := range m.data {
		if v != Background {
			n++
		}
	}
	return n
}

// Binary returns a new mask with every pixel of label id set to 1.
func (m *Mask) Binary(id uint32) *Mask {
	out := New(m.width, m.height)
	for i, v := range m.data {
		if v == id {
			out.data[i] = 1
		}
	}
	return out
}

// Binarize returns a new mask with every non-background pixel set to 1.
func (m *Mask) Binarize() *Mask {
	out := New(m.width, m.height)
	for i, v := range m.data {
		if v != Background {
			out.data[i] = 1
		}
	}
	return out
}

// Paint writes label wherever src is non-zero. Sizes must match.
func (m *Mask) Paint(src *Mask, label uint32) error {
	if !m.SameSize(src) {
		return errors.Errorf("cannot paint %dx%d mask onto %dx%d mask", src.width, src.height, m.width, m.height)
	}
	for i, v := range src.data {
		if v != Background {
			m.data[i] = label
		}
	}
	return nil
}

// Replace rewrites every pixel labeled from as to.
func (m *Mask) Replace(from, to uint32) {
	for i, v := range m.data {
		if v == from {
			m.data[i] = to
		}
	}
}

// Relabel rewrites labels through mapping. Labels missing from mapping become background.
func (m *Mask) Relabel(mapping map[uint32]uint32) {
	for i, v := range m.data {
		if v == Background {
			continue
		}
		m.data[i] = mapping[v]
	}
}

// Union returns the pixelwise OR of two masks as a binary mask.
func Union(a, b *Mask) (*Mask, error) {
	if !a.SameSize(b) {
		return nil, errors.Errorf("cannot union %dx%d and %dx%d masks", a.width, a.height, b.width, b.height)
	}
	out := New(a.width, a.height)
	for i := range a.data {
		if a.data[i] != Background || b.data[i] != Background {
			out.data[i] = 1
		}
	}
	return out, nil
}

// BoundingBox returns the smallest rectangle enclosing every pixel labeled id.
// The rectangle's Max is exclusive. ok is false when the label is absent.
func (m *Mask) BoundingBox(id uint32) (image.Rectangle, bool) {
	return m.boundingBox(func(v uint32) bool { return v == id })
}

// ForegroundBoundingBox is like BoundingBox but over every non-background pixel.
func (m *Mask) ForegroundBoundingBox() (image.Rectangle, bool) {
	return m.boundingBox(func(v uint32) bool { return v != Background })
}

func (m *Mask) boundingBox(match func(uint32) bool) (image.Rectangle, bool) {
	x0, y0, x1, y1 := m.width, m.height, -1, -1
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			if !match(m.data[m.kxy(x, y)]) {
				continue
			}
			if x < x0 {
				x0 = x
			}
			if x > x1 {
				x1 = x
			}
			if y < y0 {
				y0 = y
			}
			if y > y1 {
				y1 = y
			}
		}
	}
	if x1 < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(x0, y0, x1+1, y1+1), true
}

// Centroid returns the mean pixel position of the foreground.
func (m *Mask) Centroid() (r2.Point, bool) {
	var sum r2.Point
	n := 0
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			if m.data[m.kxy(x, y)] != Background {
				sum = sum.Add(r2.Point{X: float64(x), Y: float64(y)})
				n++
			}
		}
	}
	if n == 0 {
		return r2.Point{}, false
	}
	return sum.Mul(1 / float64(n)), true
}

// Translate returns a copy shifted by (dx, dy). Pixels shifted outside the bounds are lost.
func (m *Mask) Translate(dx, dy int) *Mask {
	out := New(m.width, m.height)
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			v := m.data[m.kxy(x, y)]
			if v == Background {
				continue
			}
			nx, ny := x+dx, y+dy
			if out.In(nx, ny) {
				out.data[out.kxy(nx, ny)] = v
			}
		}
	}
	return out
}
