// Package config defines the settings of an annotation session and how they are read.
package config

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/merge"
	"go.viam.com/maskprop/oracle"
	"go.viam.com/maskprop/propagate"
	"go.viam.com/maskprop/segment"
)

// A Config describes every tunable part of an annotation session.
type Config struct {
	ConfigFilePath string `json:"-"`

	Segment  SegmentConfig `json:"segment"`
	Volume   VolumeConfig  `json:"volume"`
	Track    TrackConfig   `json:"track"`
	Auto     AutoConfig    `json:"auto"`
	Cache    CacheConfig   `json:"cache"`
	Tiling   TilingConfig  `json:"tiling"`
	LogLevel string        `json:"log_level,omitempty"`
}

// Default returns the settings the annotator starts with.
func Default() *Config {
	return &Config{
		Segment: SegmentConfig{BoxExtension: 0.1},
		Volume: VolumeConfig{
			IoUThreshold: 0.8,
			Projection:   "mask",
			BoxExtension: 0.05,
			Agreement:    "oracle_score",
			FillGaps:     true,
		},
		Track: TrackConfig{
			IoUThreshold:       0.5,
			Projection:         "points",
			BoxExtension:       0.1,
			Agreement:          "oracle_score",
			MotionSmoothing:    0.5,
			MinSuccessorArea:   20,
			SuccessorThreshold: 0.7,
		},
		Auto: AutoConfig{
			PredIoUThresh:          0.88,
			StabilityScoreThresh:   0.95,
			BoxNMSThresh:           0.7,
			CenterDistanceThresh:   0.5,
			BoundaryDistanceThresh: 0.5,
			MinObjectSize:          100,
			WithBackground:         true,
			GapClosing:             2,
			MinExtent:              2,
			Beta:                   0.5,
			Metric:                 "iou",
		},
		Cache: CacheConfig{Type: CacheMemory},
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if err := cfg.Segment.Validate(fmt.Sprintf("%s.%s", path, "segment")); err != nil {
		return err
	}
	if err := cfg.Volume.Validate(fmt.Sprintf("%s.%s", path, "volume")); err != nil {
		return err
	}
	if err := cfg.Track.Validate(fmt.Sprintf("%s.%s", path, "track")); err != nil {
		return err
	}
	if err := cfg.Auto.Validate(fmt.Sprintf("%s.%s", path, "auto")); err != nil {
		return err
	}
	if err := cfg.Cache.Validate(fmt.Sprintf("%s.%s", path, "cache")); err != nil {
		return err
	}
	if err := cfg.Tiling.Validate(fmt.Sprintf("%s.%s", path, "tiling")); err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		if _, err := logging.LevelFromString(cfg.LogLevel); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	return nil
}

func checkFraction(field string, v float64) error {
	if v < 0 || v > 1 {
		return errors.Errorf("%s must be in [0, 1], got %v", field, v)
	}
	return nil
}

func checkNonNegative(field string, v float64) error {
	if v < 0 {
		return errors.Errorf("%s must not be negative, got %v", field, v)
	}
	return nil
}

// SegmentConfig configures segmentation of a single slice or frame from its prompts.
type SegmentConfig struct {
	BoxExtension float64 `json:"box_extension"`
	// Batched segments every positive point as its own object.
	Batched bool `json:"batched,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *SegmentConfig) Validate(path string) error {
	if err := checkNonNegative("box_extension", cfg.BoxExtension); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// VolumeConfig configures propagation of an object through a volume.
type VolumeConfig struct {
	IoUThreshold         float64 `json:"iou_threshold"`
	Projection           string  `json:"projection"`
	BoxExtension         float64 `json:"box_extension"`
	Agreement            string  `json:"agreement,omitempty"`
	FillGaps             bool    `json:"fill_gaps"`
	ConcurrentDirections bool    `json:"concurrent_directions,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *VolumeConfig) Validate(path string) error {
	if _, err := cfg.Options(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Options converts the config into propagation options.
func (cfg *VolumeConfig) Options() (propagate.Options, error) {
	if err := checkFraction("iou_threshold", cfg.IoUThreshold); err != nil {
		return propagate.Options{}, err
	}
	if err := checkNonNegative("box_extension", cfg.BoxExtension); err != nil {
		return propagate.Options{}, err
	}
	projection, err := propagate.ProjectionFromString(cfg.Projection)
	if err != nil {
		return propagate.Options{}, err
	}
	agreement, err := propagate.AgreementFromString(cfg.Agreement)
	if err != nil {
		return propagate.Options{}, err
	}
	return propagate.Options{
		Projection:           projection,
		IoUThreshold:         cfg.IoUThreshold,
		BoxExtension:         cfg.BoxExtension,
		Agreement:            agreement,
		FillGaps:             cfg.FillGaps,
		ConcurrentDirections: cfg.ConcurrentDirections,
	}, nil
}

// TrackConfig configures tracking of an object over time.
type TrackConfig struct {
	IoUThreshold       float64 `json:"iou_threshold"`
	Projection         string  `json:"projection"`
	BoxExtension       float64 `json:"box_extension"`
	Agreement          string  `json:"agreement,omitempty"`
	MotionSmoothing    float64 `json:"motion_smoothing"`
	MinSuccessorArea   int     `json:"min_successor_area"`
	SuccessorThreshold float64 `json:"successor_threshold"`
}

// Validate ensures all parts of the config are valid.
func (cfg *TrackConfig) Validate(path string) error {
	if _, err := cfg.Options(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Options converts the config into tracking options.
func (cfg *TrackConfig) Options() (propagate.TrackOptions, error) {
	for field, v := range map[string]float64{
		"iou_threshold":       cfg.IoUThreshold,
		"motion_smoothing":    cfg.MotionSmoothing,
		"successor_threshold": cfg.SuccessorThreshold,
	} {
		if err := checkFraction(field, v); err != nil {
			return propagate.TrackOptions{}, err
		}
	}
	if cfg.MinSuccessorArea < 0 {
		return propagate.TrackOptions{}, errors.Errorf("min_successor_area must not be negative, got %d", cfg.MinSuccessorArea)
	}
	if err := checkNonNegative("box_extension", cfg.BoxExtension); err != nil {
		return propagate.TrackOptions{}, err
	}
	projection, err := propagate.ProjectionFromString(cfg.Projection)
	if err != nil {
		return propagate.TrackOptions{}, err
	}
	agreement, err := propagate.AgreementFromString(cfg.Agreement)
	if err != nil {
		return propagate.TrackOptions{}, err
	}
	return propagate.TrackOptions{
		Projection:         projection,
		IoUThreshold:       cfg.IoUThreshold,
		BoxExtension:       cfg.BoxExtension,
		Agreement:          agreement,
		MotionSmoothing:    cfg.MotionSmoothing,
		MinSuccessorArea:   cfg.MinSuccessorArea,
		SuccessorThreshold: cfg.SuccessorThreshold,
	}, nil
}

// AutoConfig configures automatic segmentation of slices and volumes.
type AutoConfig struct {
	PredIoUThresh          float64 `json:"pred_iou_thresh"`
	StabilityScoreThresh   float64 `json:"stability_score_thresh"`
	BoxNMSThresh           float64 `json:"box_nms_thresh"`
	CenterDistanceThresh   float64 `json:"center_distance_threshold"`
	BoundaryDistanceThresh float64 `json:"boundary_distance_threshold"`
	MinObjectSize          int     `json:"min_object_size"`
	MaxObjectSize          int     `json:"max_object_size,omitempty"`
	WithBackground         bool    `json:"with_background"`

	// Volume merging.
	GapClosing int     `json:"gap_closing"`
	MinExtent  int     `json:"min_extent"`
	Beta       float64 `json:"beta"`
	Metric     string  `json:"metric,omitempty"`
	// Workers bounds the number of slices segmented at once. 0 uses GOMAXPROCS.
	Workers int `json:"workers,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *AutoConfig) Validate(path string) error {
	for field, v := range map[string]float64{
		"pred_iou_thresh":        cfg.PredIoUThresh,
		"stability_score_thresh": cfg.StabilityScoreThresh,
		"box_nms_thresh":         cfg.BoxNMSThresh,
	} {
		if err := checkFraction(field, v); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	if cfg.MinObjectSize < 0 || cfg.MaxObjectSize < 0 {
		return utils.NewConfigValidationError(path, errors.New("object sizes must not be negative"))
	}
	if cfg.MaxObjectSize > 0 && cfg.MaxObjectSize < cfg.MinObjectSize {
		return utils.NewConfigValidationError(path,
			errors.Errorf("max_object_size %d is smaller than min_object_size %d", cfg.MaxObjectSize, cfg.MinObjectSize))
	}
	if cfg.Workers < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("workers must not be negative, got %d", cfg.Workers))
	}
	opts, err := cfg.MergeOptions()
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if err := opts.Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// GenerateParams returns the thresholds handed to the generator.
func (cfg *AutoConfig) GenerateParams() oracle.GenerateParams {
	return oracle.GenerateParams{
		PredIoUThresh:          cfg.PredIoUThresh,
		StabilityScoreThresh:   cfg.StabilityScoreThresh,
		BoxNMSThresh:           cfg.BoxNMSThresh,
		CenterDistanceThresh:   cfg.CenterDistanceThresh,
		BoundaryDistanceThresh: cfg.BoundaryDistanceThresh,
		MinSize:                cfg.MinObjectSize,
	}
}

// AutoOptions returns how candidates are painted into a label image.
func (cfg *AutoConfig) AutoOptions() segment.AutoOptions {
	return segment.AutoOptions{
		WithBackground: cfg.WithBackground,
		MinObjectSize:  cfg.MinObjectSize,
		MaxObjectSize:  cfg.MaxObjectSize,
	}
}

// MergeOptions returns how slice results are merged into 3D objects.
func (cfg *AutoConfig) MergeOptions() (merge.Options, error) {
	metric, err := merge.MetricFromString(cfg.Metric)
	if err != nil {
		return merge.Options{}, err
	}
	return merge.Options{
		Beta:           cfg.Beta,
		GapClosing:     cfg.GapClosing,
		MinZExtent:     cfg.MinExtent,
		WithBackground: cfg.WithBackground,
		Metric:         metric,
	}, nil
}

// NumWorkers returns the effective worker count.
func (cfg *AutoConfig) NumWorkers() int {
	if cfg.Workers > 0 {
		return cfg.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// CacheType selects where automatic segmentation state is kept.
type CacheType string

// The supported cache types.
const (
	CacheMemory CacheType = "memory"
	CacheDir    CacheType = "dir"
	CacheSQLite CacheType = "sqlite"
)

// CacheConfig configures the automatic segmentation state cache.
type CacheConfig struct {
	Type CacheType `json:"type"`
	// Path is the directory of a dir cache or the database file of a sqlite cache.
	Path string `json:"path,omitempty"`
	// Size bounds the number of entries of a memory cache.
	Size int `json:"size,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *CacheConfig) Validate(path string) error {
	switch cfg.Type {
	case "", CacheMemory:
		if cfg.Size < 0 {
			return utils.NewConfigValidationError(path, errors.Errorf("size must not be negative, got %d", cfg.Size))
		}
	case CacheDir, CacheSQLite:
		if cfg.Path == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "path")
		}
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown cache type %q", cfg.Type))
	}
	return nil
}

// TilingConfig holds the raw tile and halo inputs. Zero means not set.
type TilingConfig struct {
	TileX int `json:"tile_shape_x,omitempty"`
	TileY int `json:"tile_shape_y,omitempty"`
	HaloX int `json:"halo_x,omitempty"`
	HaloY int `json:"halo_y,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *TilingConfig) Validate(path string) error {
	if _, err := cfg.Tiling(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Tiling normalizes the raw inputs.
func (cfg *TilingConfig) Tiling() (oracle.Tiling, error) {
	return oracle.NewTiling(cfg.TileX, cfg.TileY, cfg.HaloX, cfg.HaloY)
}
