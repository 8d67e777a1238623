package session

import (
	"context"

	"go.opencensus.io/trace"

	"go.viam.com/maskprop/lineage"
	"go.viam.com/maskprop/mask"
)

// Commit copies the objects of layer into the committed segmentation. Labels are shifted by
// the largest committed label so they never collide with earlier commits, and only the
// z-range of the last volume segmentation is written when there is one. Committing the
// current object clears the annotations, committing the automatic segmentation clears that
// layer. It returns the applied offset.
func (s *Session) Commit(ctx context.Context, layer Layer) uint32 {
	_, span := trace.StartSpan(ctx, "session::Commit")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	offset := s.commit(layer)
	if layer == CurrentObject {
		s.clearAnnotations()
	} else {
		s.autoSeg = mask.NewStack(s.shape)
	}
	return offset
}

// CommitTrack commits the current object like Commit and stores the lineage of the tracking
// run, shifted by the same offset as the labels. The tracking state is reset afterwards.
func (s *Session) CommitTrack(ctx context.Context) uint32 {
	_, span := trace.StartSpan(ctx, "session::CommitTrack")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	offset := s.commit(CurrentObject)
	s.history.Add(s.lineage.Offset(lineage.TrackID(offset)))
	s.clearAnnotations()
	s.resetTracking()
	return offset
}

func (s *Session) commit(layer Layer) uint32 {
	src := s.current
	if layer == AutoSegmentation {
		src = s.autoSeg
	}
	zMin, zMax := 0, s.shape.Depth-1
	if s.zRange != nil {
		zMin, zMax = s.zRange[0], s.zRange[1]
	}

	offset := s.committed.Max()
	written := 0
	for z := zMin; z <= zMax; z++ {
		from, to := src.Slice(z).Data(), s.committed.Slice(z).Data()
		for i, v := range from {
			if v == mask.Background {
				continue
			}
			to[i] = v + offset
			written++
		}
	}
	s.logger.Infow("committed", "layer", layer.String(), "offset", offset, "z_min", zMin, "z_max", zMax, "pixels", written)
	return offset
}

// CommittedLineages returns the lineages of every committed tracking run in commit order.
func (s *Session) CommittedLineages() []*lineage.Lineage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Lineages()
}
