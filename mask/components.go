package mask

import "image"

// ConnectedComponents labels the 4-connected foreground regions of m.
// It returns a new mask with components numbered from 1 and the area of each
// component, indexed by label-1.
func (m *Mask) ConnectedComponents() (*Mask, []int) {
	out := New(m.width, m.height)
	seen := make([]bool, m.width*m.height)
	areas := []int{}
	queue := []image.Point{}
	var next uint32
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			indx := m.kxy(x, y)
			if seen[indx] {
				continue
			}
			seen[indx] = true
			if m.data[indx] == Background {
				continue
			}
			next++
			area := 0
			queue = append(queue[:0], image.Point{x, y})
			for len(queue) != 0 {
				pt := queue[0]
				queue = queue[1:]
				out.data[m.kxy(pt.X, pt.Y)] = next
				area++
				for _, n := range m.neighbors(pt) {
					nIndx := m.kxy(n.X, n.Y)
					if seen[nIndx] {
						continue
					}
					seen[nIndx] = true
					if m.data[nIndx] != Background {
						queue = append(queue, n)
					}
				}
			}
			areas = append(areas, area)
		}
	}
	return out, areas
}

// CountComponents returns how many 4-connected foreground regions have at least minArea pixels.
func (m *Mask) CountComponents(minArea int) int {
	_, areas := m.ConnectedComponents()
	n := 0
	for _, a := range areas {
		if a >= minArea {
			n++
		}
	}
	return n
}

func (m *Mask) neighbors(pt image.Point) []image.Point {
	candidates := [4]image.Point{
		{pt.X - 1, pt.Y},
		{pt.X + 1, pt.Y},
		{pt.X, pt.Y - 1},
		{pt.X, pt.Y + 1},
	}
	out := make([]image.Point, 0, 4)
	for _, c := range candidates {
		if m.In(c.X, c.Y) {
			out = append(out, c)
		}
	}
	return out
}
