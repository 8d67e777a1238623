// Package session holds the state of one annotation session and implements the annotator
// operations on top of the segmentation core.
package session

import (
	"context"
	"image"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/maskprop/amgcache"
	"go.viam.com/maskprop/config"
	"go.viam.com/maskprop/lineage"
	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/mask"
	"go.viam.com/maskprop/oracle"
	"go.viam.com/maskprop/prompt"
	"go.viam.com/maskprop/segment"
)

// ErrNoGenerator is returned by automatic segmentation in sessions without a generator.
var ErrNoGenerator = errors.New("session has no automatic mask generator")

// Layer names a segmentation held by the session.
type Layer int

const (
	// CurrentObject holds the result of interactive segmentation and tracking.
	CurrentObject Layer = iota
	// AutoSegmentation holds the result of automatic segmentation.
	AutoSegmentation
)

func (l Layer) String() string {
	if l == AutoSegmentation {
		return "auto_segmentation"
	}
	return "current_object"
}

// Options are the collaborators of a session.
type Options struct {
	Shape     mask.Shape
	Predictor oracle.Predictor
	// Generator enables automatic segmentation. It may be nil.
	Generator oracle.Generator
	// Store keeps generator state. When nil a store is opened from Config.Cache and closed
	// with the session.
	Store amgcache.Store
	// Config defaults to config.Default().
	Config *config.Config
	// Committed is an existing segmentation to continue from.
	Committed *mask.Stack
}

// A Session is the explicit context of an annotation session. It owns the backends and every
// layer an operation reads or writes. Operations are serialized.
type Session struct {
	mu     sync.Mutex
	id     uuid.UUID
	cfg    *config.Config
	shape  mask.Shape
	logger logging.Logger

	segmenter *segment.Segmenter
	auto      *segment.AutoSegmenter
	cache     *amgcache.Cache
	ownStore  amgcache.Store
	tiling    oracle.Tiling

	points []prompt.PointAnnotation
	shapes []prompt.ShapeAnnotation

	current   *mask.Stack
	autoSeg   *mask.Stack
	committed *mask.Stack
	zRange    *[2]int

	lineage *lineage.Lineage
	trackID lineage.TrackID
	history lineage.History
}

// New creates a session over a volume of the given shape. A nil logger discards all output.
func New(ctx context.Context, opts Options, logger logging.Logger) (*Session, error) {
	if err := opts.Shape.Validate(); err != nil {
		return nil, err
	}
	if opts.Predictor == nil {
		return nil, errors.New("session requires a predictor")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	tiling, err := cfg.Tiling.Tiling()
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	if logger == nil {
		logger = logging.NewBlankLogger("")
	}
	logger = logger.Sublogger("session")
	if cfg.LogLevel != "" {
		level, err := logging.LevelFromString(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		logger.SetLevel(level)
	}

	s := &Session{
		id:        id,
		cfg:       cfg,
		shape:     opts.Shape,
		logger:    logger,
		segmenter: segment.NewSegmenter(opts.Predictor, logger.Sublogger("segment")),
		tiling:    tiling,
		current:   mask.NewStack(opts.Shape),
		autoSeg:   mask.NewStack(opts.Shape),
		committed: mask.NewStack(opts.Shape),
		lineage:   lineage.New(),
		trackID:   lineage.RootTrack,
	}
	if opts.Committed != nil {
		if opts.Committed.Shape() != opts.Shape {
			return nil, errors.Errorf("committed segmentation is %s, expected %s", opts.Committed.Shape(), opts.Shape)
		}
		s.committed = opts.Committed.Clone()
	}
	if opts.Generator != nil {
		store := opts.Store
		if store == nil {
			if store, err = OpenStore(ctx, cfg.Cache); err != nil {
				return nil, err
			}
			s.ownStore = store
		}
		s.auto = segment.NewAutoSegmenter(opts.Generator, logger.Sublogger("auto"))
		s.cache = amgcache.New(store, opts.Generator.ID(), nil, logger.Sublogger("amgcache"))
	}
	logger.Infow("session started", "id", id.String(), "shape", opts.Shape.String(), "tiling", tiling.String(),
		"predictor", opts.Predictor.ID(), "automatic", opts.Generator != nil)
	return s, nil
}

// OpenStore opens the generator state store described by cfg.
func OpenStore(ctx context.Context, cfg config.CacheConfig) (amgcache.Store, error) {
	switch cfg.Type {
	case "", config.CacheMemory:
		return amgcache.NewMemoryStore(cfg.Size)
	case config.CacheDir:
		return amgcache.NewDirStore(cfg.Path)
	case config.CacheSQLite:
		return amgcache.NewSQLiteStore(ctx, cfg.Path)
	default:
		return nil, errors.Errorf("unknown cache type %q", cfg.Type)
	}
}

// Close releases the resources opened by the session.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownStore == nil {
		return nil
	}
	err := s.ownStore.Close()
	s.ownStore = nil
	return err
}

// ID returns the id of this session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Shape returns the volume shape.
func (s *Session) Shape() mask.Shape {
	return s.shape
}

// Config returns the session settings.
func (s *Session) Config() *config.Config {
	return s.cfg
}

// Tiling returns how embeddings of this session are tiled.
func (s *Session) Tiling() oracle.Tiling {
	return s.tiling
}

// Configure applies attribute overrides to the session settings.
func (s *Session) Configure(attrs config.AttributeMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Apply(attrs)
}

// Layer returns a copy of the given layer.
func (s *Session) Layer(l Layer) *mask.Stack {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l == AutoSegmentation {
		return s.autoSeg.Clone()
	}
	return s.current.Clone()
}

// Committed returns a copy of the committed segmentation.
func (s *Session) Committed() *mask.Stack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed.Clone()
}

// ZRange returns the slice range of the last volume segmentation.
func (s *Session) ZRange() (int, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.zRange == nil {
		return 0, 0, false
	}
	return s.zRange[0], s.zRange[1], true
}

// AddPoints adds point annotations.
func (s *Session) AddPoints(points ...prompt.PointAnnotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, points...)
}

// AddShapes adds box and shape annotations.
func (s *Session) AddShapes(shapes ...prompt.ShapeAnnotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shapes = append(s.shapes, shapes...)
}

// Annotations returns copies of the current annotations.
func (s *Session) Annotations() ([]prompt.PointAnnotation, []prompt.ShapeAnnotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.points), slices.Clone(s.shapes)
}

// ClearAnnotations removes every annotation and the current object.
func (s *Session) ClearAnnotations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearAnnotations()
}

func (s *Session) clearAnnotations() {
	s.points = nil
	s.shapes = nil
	s.current = mask.NewStack(s.shape)
	s.zRange = nil
}

// ClearSliceAnnotations removes the annotations of one slice.
func (s *Session) ClearSliceAnnotations(z int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = slices.DeleteFunc(s.points, func(p prompt.PointAnnotation) bool { return p.Slice == z })
	s.shapes = slices.DeleteFunc(s.shapes, func(sh prompt.ShapeAnnotation) bool { return sh.Slice == z })
}

func (s *Session) bounds() image.Rectangle {
	return image.Rect(0, 0, s.shape.Width, s.shape.Height)
}

func (s *Session) checkSlice(z int) error {
	if !s.shape.InRange(z) {
		return errors.Errorf("slice %d out of range for volume %s", z, s.shape)
	}
	return nil
}
