// Package lineage keeps the division history of tracked objects.
package lineage

import (
	"maps"
	"slices"

	"github.com/pkg/errors"
)

// TrackID identifies one track, the cells between two divisions.
type TrackID uint32

// RootTrack is the track every new lineage starts with.
const RootTrack TrackID = 1

var (
	// ErrAlreadyDivided is returned by Divide when the parent already has children.
	ErrAlreadyDivided = errors.New("track already divided")
	// ErrUnknownTrack is returned for tracks that are not part of the lineage.
	ErrUnknownTrack = errors.New("unknown track")
)

// Lineage maps every track to its children. A track has either no children or exactly two.
// The zero value is not usable, use New.
type Lineage struct {
	children map[TrackID][]TrackID
}

// New returns a lineage holding RootTrack only.
func New() *Lineage {
	return &Lineage{children: map[TrackID][]TrackID{RootTrack: {}}}
}

// FromMap builds a lineage from a parent to children mapping. Every child must be listed as a
// track itself and have at most one parent.
func FromMap(m map[TrackID][]TrackID) (*Lineage, error) {
	l := &Lineage{children: make(map[TrackID][]TrackID, len(m))}
	parents := map[TrackID]TrackID{}
	for parent, children := range m {
		if len(children) != 0 && len(children) != 2 {
			return nil, errors.Errorf("track %d must have zero or two children, got %d", parent, len(children))
		}
		for _, c := range children {
			if _, ok := m[c]; !ok {
				return nil, errors.Wrapf(ErrUnknownTrack, "child %d of track %d", c, parent)
			}
			if other, ok := parents[c]; ok {
				return nil, errors.Errorf("track %d has two parents, %d and %d", c, other, parent)
			}
			parents[c] = parent
		}
		l.children[parent] = slices.Clone(children)
	}
	return l, nil
}

// Has reports whether id is part of the lineage.
func (l *Lineage) Has(id TrackID) bool {
	_, ok := l.children[id]
	return ok
}

// Len returns the number of tracks.
func (l *Lineage) Len() int {
	return len(l.children)
}

// Max returns the largest track id, 0 for an empty lineage.
func (l *Lineage) Max() TrackID {
	var max TrackID
	for id := range l.children {
		if id > max {
			max = id
		}
	}
	return max
}

// Divide records that parent divided into two new tracks, numbered after the largest
// track id. It returns ErrAlreadyDivided together with the existing children when parent
// already divided.
func (l *Lineage) Divide(parent TrackID) (TrackID, TrackID, error) {
	children, ok := l.children[parent]
	if !ok {
		return 0, 0, errors.Wrapf(ErrUnknownTrack, "cannot divide track %d", parent)
	}
	if len(children) == 2 {
		return children[0], children[1], ErrAlreadyDivided
	}
	next := l.Max()
	a, b := next+1, next+2
	l.children[parent] = []TrackID{a, b}
	l.children[a] = []TrackID{}
	l.children[b] = []TrackID{}
	return a, b, nil
}

// RecordDivision is Divide where a parent that already divided is not an error: its existing
// children are returned and the lineage is left unchanged.
func (l *Lineage) RecordDivision(parent TrackID) (TrackID, TrackID, error) {
	a, b, err := l.Divide(parent)
	if errors.Is(err, ErrAlreadyDivided) {
		return a, b, nil
	}
	return a, b, err
}

// Children returns the children of id.
func (l *Lineage) Children(id TrackID) ([]TrackID, bool) {
	children, ok := l.children[id]
	return slices.Clone(children), ok
}

// IsLeaf reports whether id is known and has not divided.
func (l *Lineage) IsLeaf(id TrackID) bool {
	children, ok := l.children[id]
	return ok && len(children) == 0
}

// Parent returns the parent of id. Roots have no parent.
func (l *Lineage) Parent(id TrackID) (TrackID, bool) {
	for parent, children := range l.children {
		if slices.Contains(children, id) {
			return parent, true
		}
	}
	return 0, false
}

// TrackIDs returns all track ids in ascending order.
func (l *Lineage) TrackIDs() []TrackID {
	return slices.Sorted(maps.Keys(l.children))
}

// Roots returns the tracks without parent in ascending order.
func (l *Lineage) Roots() []TrackID {
	isChild := map[TrackID]bool{}
	for _, children := range l.children {
		for _, c := range children {
			isChild[c] = true
		}
	}
	out := []TrackID{}
	for _, id := range l.TrackIDs() {
		if !isChild[id] {
			out = append(out, id)
		}
	}
	return out
}

// Offset returns a copy where every track id is shifted by off.
func (l *Lineage) Offset(off TrackID) *Lineage {
	out := &Lineage{children: make(map[TrackID][]TrackID, len(l.children))}
	for parent, children := range l.children {
		shifted := make([]TrackID, len(children))
		for i, c := range children {
			shifted[i] = c + off
		}
		out.children[parent+off] = shifted
	}
	return out
}

// Map returns a copy of the parent to children mapping.
func (l *Lineage) Map() map[TrackID][]TrackID {
	out := make(map[TrackID][]TrackID, len(l.children))
	for id, children := range l.children {
		out[id] = slices.Clone(children)
	}
	return out
}

// Clone returns a deep copy.
func (l *Lineage) Clone() *Lineage {
	return &Lineage{children: l.Map()}
}

// Equal reports whether both lineages hold the same tracks and divisions.
func (l *Lineage) Equal(other *Lineage) bool {
	return maps.EqualFunc(l.children, other.children, func(a, b []TrackID) bool { return slices.Equal(a, b) })
}

// History accumulates committed lineages.
type History struct {
	lineages []*Lineage
}

// Add appends a copy of l.
func (h *History) Add(l *Lineage) {
	h.lineages = append(h.lineages, l.Clone())
}

// Lineages returns the committed lineages in commit order.
func (h *History) Lineages() []*Lineage {
	return slices.Clone(h.lineages)
}

// Len returns the number of committed lineages.
func (h *History) Len() int {
	return len(h.lineages)
}

// Max returns the largest track id over all committed lineages.
func (h *History) Max() TrackID {
	var max TrackID
	for _, l := range h.lineages {
		if m := l.Max(); m > max {
			max = m
		}
	}
	return max
}
