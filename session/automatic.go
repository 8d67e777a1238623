package session

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/maskprop/mask"
	"go.viam.com/maskprop/merge"
	"go.viam.com/maskprop/oracle"
	"go.viam.com/maskprop/propagate"
)

// AutoSegmentSlice runs automatic segmentation on slice z and writes the result to the
// automatic segmentation layer. Generator state is taken from the cache when possible.
func (s *Session) AutoSegmentSlice(ctx context.Context, z int) (*mask.Mask, error) {
	ctx, span := trace.StartSpan(ctx, "session::AutoSegmentSlice")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auto == nil {
		return nil, ErrNoGenerator
	}
	if err := s.checkSlice(z); err != nil {
		return nil, err
	}
	seg, err := s.autoSegment(ctx, z)
	if err != nil {
		return nil, err
	}
	if err := s.autoSeg.SetSlice(z, seg); err != nil {
		return nil, err
	}
	return seg, nil
}

func (s *Session) autoSegment(ctx context.Context, z int) (*mask.Mask, error) {
	state, err := s.cache.GetOrCompute(ctx, z, s.auto.Initialize)
	if err != nil {
		return nil, err
	}
	return s.auto.Segment(ctx, z, state, s.shape.Width, s.shape.Height, s.cfg.Auto.GenerateParams(), s.cfg.Auto.AutoOptions())
}

// AutoSegmentVolume runs automatic segmentation on every slice and merges the slice results
// into 3D objects. Slices are segmented concurrently, bounded by the configured workers. The
// automatic segmentation layer is only replaced when every slice succeeded.
func (s *Session) AutoSegmentVolume(ctx context.Context) (*mask.Stack, error) {
	ctx, span := trace.StartSpan(ctx, "session::AutoSegmentVolume")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auto == nil {
		return nil, ErrNoGenerator
	}
	mergeOpts, err := s.cfg.Auto.MergeOptions()
	if err != nil {
		return nil, err
	}

	segs := make([]*mask.Mask, s.shape.Depth)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Auto.NumWorkers())
	for z := range segs {
		g.Go(func() error {
			seg, err := s.autoSegment(gctx, z)
			if err != nil {
				return err
			}
			segs[z] = seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stack, err := mask.NewStackFromSlices(segs)
	if err != nil {
		return nil, err
	}
	merged, err := merge.Merge3D(ctx, merge.OffsetSlices(stack), mergeOpts, s.logger.Sublogger("merge"))
	if err != nil {
		return nil, err
	}
	s.autoSeg = merged.Clone()
	if n, err := s.cache.Len(ctx); err == nil {
		s.logger.Debugw("segmented volume", "objects", len(merged.IDs()), "cached_slices", n)
	}
	return merged, nil
}

// PropagateAutoSegmentation propagates every object of the automatic segmentation on slice
// start through the volume, one object at a time. The layer is cleared outside of start first,
// later objects overwrite earlier ones where they overlap. A backend failure stops at the
// failing object and is returned with what was propagated so far.
func (s *Session) PropagateAutoSegmentation(ctx context.Context, start int) (*mask.Stack, error) {
	ctx, span := trace.StartSpan(ctx, "session::PropagateAutoSegmentation")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkSlice(start); err != nil {
		return nil, err
	}
	opts, err := s.cfg.Volume.Options()
	if err != nil {
		return nil, err
	}

	startSeg := s.autoSeg.Slice(start).Clone()
	out := mask.NewStack(s.shape)
	if err := out.SetSlice(start, startSeg); err != nil {
		return nil, err
	}
	ids := startSeg.IDs()
	var errs error
	for _, id := range ids {
		in := propagate.Input{Shape: s.shape, Seeds: map[int]*mask.Mask{start: startSeg.Binary(id)}}
		res, err := propagate.Propagate(ctx, s.segmenter, in, opts, s.logger.Sublogger("propagate"))
		if res != nil {
			for z := 0; z < s.shape.Depth; z++ {
				if paintErr := out.Slice(z).Paint(res.Seg.Slice(z), id); paintErr != nil {
					return nil, paintErr
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil || oracle.IsFailure(err) {
				errs = multierr.Append(errs, errors.Wrapf(err, "propagating object %d", id))
				break
			}
			return nil, err
		}
	}
	s.autoSeg = out
	s.logger.Infow("propagated automatic segmentation", "start", start, "objects", len(ids))
	return out.Clone(), errs
}
