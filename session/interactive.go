package session

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/maskprop/lineage"
	"go.viam.com/maskprop/mask"
	"go.viam.com/maskprop/prompt"
	"go.viam.com/maskprop/propagate"
	"go.viam.com/maskprop/segment"
)

// SegmentSlice segments the object on slice z from the prompts on that slice and writes it to
// the current object as label 1. It returns prompt.ErrStopDirective for a slice carrying a stop
// marker and prompt.ErrEmptyPrompt for a slice without prompts. Neither changes the layer.
func (s *Session) SegmentSlice(ctx context.Context, z int) (*segment.Result, error) {
	ctx, span := trace.StartSpan(ctx, "session::SegmentSlice")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.segmentFromPrompts(ctx, z, prompt.ExtractOptions{WithStopAnnotation: true}, segment.Options{
		Policy:       segment.SingleObject,
		BoxExtension: s.cfg.Segment.BoxExtension,
	})
	if err != nil {
		return nil, err
	}
	if err := s.current.SetSlice(z, res.Mask); err != nil {
		return nil, err
	}
	return res, nil
}

// SegmentObjects segments every prompted object of slice z at once: each box is its own object,
// or each positive point when the segment config is batched. The objects are written to the
// current object as labels 1, 2, ...
func (s *Session) SegmentObjects(ctx context.Context, z int) (*segment.Result, error) {
	ctx, span := trace.StartSpan(ctx, "session::SegmentObjects")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	policy := segment.MultipleBoxes
	if s.cfg.Segment.Batched {
		policy = segment.MultiplePoints
	}
	res, err := s.segmentFromPrompts(ctx, z, prompt.ExtractOptions{}, segment.Options{
		Policy:       policy,
		BoxExtension: s.cfg.Segment.BoxExtension,
	})
	if err != nil {
		return nil, err
	}
	if err := s.current.SetSlice(z, res.Mask); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Session) segmentFromPrompts(
	ctx context.Context,
	z int,
	extract prompt.ExtractOptions,
	opts segment.Options,
) (*segment.Result, error) {
	if err := s.checkSlice(z); err != nil {
		return nil, err
	}
	extract.Bounds = s.bounds()
	extract.Logger = s.logger
	set, err := prompt.Extract(s.points, s.shapes, z, extract)
	if err != nil {
		if errors.Is(err, prompt.ErrStopDirective) || errors.Is(err, prompt.ErrEmptyPrompt) {
			s.logger.Infow("skipping segmentation", "slice", z, "reason", err.Error())
		}
		return nil, err
	}
	return s.segmenter.SegmentSlice(ctx, z, set, s.shape.Width, s.shape.Height, opts)
}

// SegmentObject segments the annotated slices and propagates the object through the volume.
// The current object is replaced by the result and the z-range is set to the segmented range.
// Backend failures are returned together with the partial result, which is kept.
func (s *Session) SegmentObject(ctx context.Context) (*propagate.Result, error) {
	ctx, span := trace.StartSpan(ctx, "session::SegmentObject")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	opts, err := s.cfg.Volume.Options()
	if err != nil {
		return nil, err
	}
	annotated, err := propagate.SegmentAnnotated(ctx, s.segmenter, s.points, s.shapes, s.shape, propagate.AnnotateOptions{
		BoxExtension: s.cfg.Segment.BoxExtension,
	})
	if err != nil {
		return nil, err
	}
	res, err := propagate.Propagate(ctx, s.segmenter, annotated.Input(s.shape), opts, s.logger.Sublogger("propagate"))
	if res == nil {
		return nil, err
	}
	s.current = res.Seg.Clone()
	s.zRange = &[2]int{res.ZMin, res.ZMax}
	s.logger.Infow("segmented object", "annotated", res.Annotated, "z_min", res.ZMin, "z_max", res.ZMax,
		"lower", res.Lower.String(), "upper", res.Upper.String())
	return res, err
}

// SegmentFrame segments the current track on frame t from the prompts of that track. The old
// segmentation of the track on t is replaced.
func (s *Session) SegmentFrame(ctx context.Context, t int) (*segment.Result, error) {
	ctx, span := trace.StartSpan(ctx, "session::SegmentFrame")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.segmentFromPrompts(ctx, t, prompt.ExtractOptions{
		Tracking:           true,
		TrackID:            uint32(s.trackID),
		WithStopAnnotation: true,
	}, segment.Options{
		Policy:       segment.SingleObject,
		BoxExtension: s.cfg.Segment.BoxExtension,
	})
	if err != nil {
		return nil, err
	}
	frame := s.current.Slice(t)
	frame.Replace(uint32(s.trackID), mask.Background)
	if err := frame.Paint(res.Mask, uint32(s.trackID)); err != nil {
		return nil, err
	}
	return res, nil
}

// TrackObject tracks the current track through time from its annotated frames. The first time
// a division is seen on a track, its two children are added to the lineage. The old
// segmentation of the track is replaced by the result.
func (s *Session) TrackObject(ctx context.Context) (*propagate.TrackResult, error) {
	ctx, span := trace.StartSpan(ctx, "session::TrackObject")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	opts, err := s.cfg.Track.Options()
	if err != nil {
		return nil, err
	}
	annotated, err := propagate.SegmentAnnotated(ctx, s.segmenter, s.points, s.shapes, s.shape, propagate.AnnotateOptions{
		Tracking:     true,
		TrackID:      uint32(s.trackID),
		BoxExtension: s.cfg.Segment.BoxExtension,
	})
	if err != nil {
		return nil, err
	}
	res, err := propagate.Track(ctx, s.segmenter, annotated.Input(s.shape), opts, s.logger.Sublogger("track"))
	if res == nil {
		return nil, err
	}

	if res.Division && s.lineage.IsLeaf(s.trackID) {
		a, b, divErr := s.lineage.RecordDivision(s.trackID)
		if divErr != nil {
			return res, divErr
		}
		s.logger.Infow("recorded division", "track", s.trackID, "frame", res.DivisionFrame, "children", []lineage.TrackID{a, b})
	}

	label := uint32(s.trackID)
	s.current.Replace(label, mask.Background)
	for z := 0; z < s.shape.Depth; z++ {
		if paintErr := s.current.Slice(z).Paint(res.Seg.Slice(z), label); paintErr != nil {
			return res, paintErr
		}
	}
	return res, err
}

// CurrentTrack returns the track annotations and tracking apply to.
func (s *Session) CurrentTrack() lineage.TrackID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackID
}

// SetCurrentTrack selects the track annotations and tracking apply to. It must be part of the
// lineage.
func (s *Session) SetCurrentTrack(id lineage.TrackID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lineage.Has(id) {
		return errors.Wrapf(lineage.ErrUnknownTrack, "track %d", id)
	}
	s.trackID = id
	return nil
}

// Lineage returns a copy of the lineage of the current tracking run.
func (s *Session) Lineage() *lineage.Lineage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lineage.Clone()
}

// ClearTrack resets the tracking state and removes every annotation and the current object.
func (s *Session) ClearTrack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetTracking()
	s.clearAnnotations()
}

func (s *Session) resetTracking() {
	s.lineage = lineage.New()
	s.trackID = lineage.RootTrack
}
