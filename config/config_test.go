package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/merge"
	"go.viam.com/maskprop/oracle"
	"go.viam.com/maskprop/propagate"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate("config"), test.ShouldBeNil)

	volume, err := cfg.Volume.Options()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, volume.Projection, test.ShouldEqual, propagate.ProjectMask)
	test.That(t, volume.IoUThreshold, test.ShouldEqual, 0.8)
	test.That(t, volume.FillGaps, test.ShouldBeTrue)

	track, err := cfg.Track.Options()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, track.Projection, test.ShouldEqual, propagate.ProjectPoints)
	test.That(t, track.MotionSmoothing, test.ShouldEqual, 0.5)

	mergeOpts, err := cfg.Auto.MergeOptions()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mergeOpts, test.ShouldResemble, merge.Options{
		Beta:           0.5,
		GapClosing:     2,
		MinZExtent:     2,
		WithBackground: true,
		Metric:         merge.IoU,
	})
	test.That(t, cfg.Auto.GenerateParams().PredIoUThresh, test.ShouldEqual, 0.88)
	test.That(t, cfg.Auto.AutoOptions().MinObjectSize, test.ShouldEqual, 100)
	test.That(t, cfg.Auto.NumWorkers(), test.ShouldBeGreaterThan, 0)

	tiling, err := cfg.Tiling.Tiling()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tiling, test.ShouldResemble, oracle.NoTiling{})
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(cfg *Config)
		errMsg string
	}{
		{"iou threshold", func(cfg *Config) { cfg.Volume.IoUThreshold = 1.5 }, "config.volume"},
		{"projection", func(cfg *Config) { cfg.Volume.Projection = "hull" }, "unknown projection"},
		{"agreement", func(cfg *Config) { cfg.Track.Agreement = "vote" }, "unknown agreement"},
		{"motion smoothing", func(cfg *Config) { cfg.Track.MotionSmoothing = -0.1 }, "motion_smoothing"},
		{"successor area", func(cfg *Config) { cfg.Track.MinSuccessorArea = -1 }, "min_successor_area"},
		{"box extension", func(cfg *Config) { cfg.Segment.BoxExtension = -1 }, "config.segment"},
		{"object sizes", func(cfg *Config) { cfg.Auto.MaxObjectSize = 10 }, "max_object_size"},
		{"beta", func(cfg *Config) { cfg.Auto.Beta = 2 }, "beta"},
		{"metric", func(cfg *Config) { cfg.Auto.Metric = "dice" }, "unknown overlap metric"},
		{"gap closing", func(cfg *Config) { cfg.Auto.GapClosing = -1 }, "gap closing"},
		{"cache type", func(cfg *Config) { cfg.Cache.Type = "redis" }, "unknown cache type"},
		{"cache path", func(cfg *Config) { cfg.Cache.Type = CacheSQLite }, "path"},
		{"halo", func(cfg *Config) { cfg.Tiling = TilingConfig{TileX: 512, HaloX: 16} }, "halo"},
		{"log level", func(cfg *Config) { cfg.LogLevel = "loud" }, "unknown log level"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate("config")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errMsg)
		})
	}

	cfg := Default()
	cfg.Tiling = TilingConfig{TileX: 100, HaloX: 8, HaloY: 8}
	test.That(t, cfg.Validate("config"), test.ShouldBeNil)
	tiling, err := cfg.Tiling.Tiling()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tiling.String(), test.ShouldEqual, "tiles 256x256 halo 8x8")
}

func TestRead(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	t.Setenv("MASKPROP_CACHE_DIR", filepath.Join(dir, "amg"))

	path := filepath.Join(dir, "annotator.json")
	err := os.WriteFile(path, []byte(`{
	"volume": {"iou_threshold": 0.6, "projection": "bounding_box"},
	"auto": {"min_object_size": 20, "workers": 2},
	"cache": {"type": "dir", "path": "${MASKPROP_CACHE_DIR}"},
	"log_level": "debug"
}`), 0o600)
	test.That(t, err, test.ShouldBeNil)

	cfg, err := Read(context.Background(), path, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, cfg.Cache.Path, test.ShouldEqual, filepath.Join(dir, "amg"))
	test.That(t, cfg.Volume.IoUThreshold, test.ShouldEqual, 0.6)
	test.That(t, cfg.Volume.Projection, test.ShouldEqual, "bounding_box")
	// unset fields keep their defaults
	test.That(t, cfg.Volume.BoxExtension, test.ShouldEqual, 0.05)
	test.That(t, cfg.Volume.FillGaps, test.ShouldBeTrue)
	test.That(t, cfg.Auto.MinObjectSize, test.ShouldEqual, 20)
	test.That(t, cfg.Auto.PredIoUThresh, test.ShouldEqual, 0.88)
	test.That(t, cfg.Auto.NumWorkers(), test.ShouldEqual, 2)

	_, err = FromReader(context.Background(), "", strings.NewReader(`{"volume": {"iou": 1}}`), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to decode")

	_, err = FromReader(context.Background(), "", strings.NewReader(`{"cache": {"type": "sqlite"}}`), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to validate")

	_, err = Read(context.Background(), filepath.Join(dir, "missing.json"), logger)
	test.That(t, errors.Is(err, os.ErrNotExist), test.ShouldBeTrue)
}

func TestApply(t *testing.T) {
	cfg := Default()
	err := cfg.Apply(AttributeMap{
		"volume": map[string]interface{}{"iou_threshold": 0.7, "projection": "points"},
		"track":  map[string]interface{}{"min_successor_area": 50.0},
		"cache":  map[string]interface{}{"type": "sqlite", "path": "/tmp/amg.db"},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Volume.IoUThreshold, test.ShouldEqual, 0.7)
	test.That(t, cfg.Volume.Projection, test.ShouldEqual, "points")
	test.That(t, cfg.Volume.BoxExtension, test.ShouldEqual, 0.05)
	test.That(t, cfg.Track.MinSuccessorArea, test.ShouldEqual, 50)
	test.That(t, cfg.Cache.Type, test.ShouldEqual, CacheSQLite)

	err = cfg.Apply(AttributeMap{"volume": map[string]interface{}{"threshold": 0.7}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "threshold")

	// invalid updates leave the config untouched
	err = cfg.Apply(AttributeMap{"volume": map[string]interface{}{"iou_threshold": 3.0}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, cfg.Volume.IoUThreshold, test.ShouldEqual, 0.7)

	auto := cfg.Auto
	test.That(t, DecodeAttributes(AttributeMap{"gap_closing": 4, "with_background": false}, &auto), test.ShouldBeNil)
	test.That(t, auto.GapClosing, test.ShouldEqual, 4)
	test.That(t, auto.WithBackground, test.ShouldBeFalse)
	test.That(t, auto.MinExtent, test.ShouldEqual, 2)
	test.That(t, AttributeMap{"a": nil}.Has("a"), test.ShouldBeTrue)
}

func TestJSONSchema(t *testing.T) {
	data, err := json.Marshal(JSONSchema())
	test.That(t, err, test.ShouldBeNil)
	for _, name := range []string{"iou_threshold", "motion_smoothing", "gap_closing", "tile_shape_x"} {
		test.That(t, string(data), test.ShouldContainSubstring, name)
	}
	test.That(t, string(data), test.ShouldNotContainSubstring, "ConfigFilePath")
}
