package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/maskprop/amgcache"
	"go.viam.com/maskprop/config"
	"go.viam.com/maskprop/logging"
	"go.viam.com/maskprop/session"
)

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	_, _ = fmt.Fprintf(w, format+"\n", a...)
}

// newLogger returns the logger of an action. The returned function closes the log file.
func newLogger(c *cli.Context) (logging.Logger, func() error) {
	logger := logging.NewBlankLogger("maskprop")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if !c.Bool(flagDebug) {
		logger.SetLevel(logging.WARN)
	}
	closeLog := func() error { return nil }
	if path := c.String(flagLogFile); path != "" {
		const maxSizeMB = 64
		appender := logging.NewFileAppender(path, maxSizeMB)
		logger.AddAppender(appender)
		closeLog = func() error { return multierr.Combine(logger.Sync(), appender.Close()) }
	}
	return logger, closeLog
}

// loadConfig reads the file given with --config, or returns the defaults when there is none.
func loadConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	path := c.String(flagConfig)
	if path == "" {
		return config.Default(), nil
	}
	return config.Read(c.Context, path, logger)
}

// ConfigValidateAction reads and validates the configuration and prints the resolved settings.
func ConfigValidateAction(c *cli.Context) (err error) {
	logger, closeLog := newLogger(c)
	defer func() {
		err = multierr.Combine(err, closeLog())
	}()
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "configuration is valid")
	return printSettings(c.App.Writer, cfg)
}

// ConfigWatchAction prints the resolved settings of the configuration file and again every
// time the file changes, until interrupted.
func ConfigWatchAction(c *cli.Context) (err error) {
	path := c.String(flagConfig)
	if path == "" {
		return errors.New("watching requires a configuration file, set --config")
	}
	logger, closeLog := newLogger(c)
	defer func() {
		err = multierr.Combine(err, closeLog())
	}()
	cfg, err := config.Read(c.Context, path, logger)
	if err != nil {
		return err
	}
	if err := printSettings(c.App.Writer, cfg); err != nil {
		return err
	}

	w, err := config.NewWatcher(c.Context, path, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, w.Close())
	}()
	for {
		select {
		case <-c.Context.Done():
			return nil
		case cfg := <-w.Config():
			printf(c.App.Writer, "configuration changed")
			if err := printSettings(c.App.Writer, cfg); err != nil {
				return err
			}
		}
	}
}

func printSettings(w io.Writer, cfg *config.Config) error {
	tiling, err := cfg.Tiling.Tiling()
	if err != nil {
		return err
	}
	printf(w, "\tvolume: iou_threshold %.2f, projection %s, agreement %s",
		cfg.Volume.IoUThreshold, cfg.Volume.Projection, cfg.Volume.Agreement)
	printf(w, "\ttrack: iou_threshold %.2f, projection %s, motion_smoothing %.2f",
		cfg.Track.IoUThreshold, cfg.Track.Projection, cfg.Track.MotionSmoothing)
	printf(w, "\tauto: min_object_size %d, gap_closing %d, min_extent %d, workers %d",
		cfg.Auto.MinObjectSize, cfg.Auto.GapClosing, cfg.Auto.MinExtent, cfg.Auto.NumWorkers())
	printf(w, "\tcache: %s", describeCache(cfg.Cache))
	printf(w, "\ttiling: %s", tiling)
	return nil
}

func describeCache(cfg config.CacheConfig) string {
	if cfg.Path == "" {
		return string(cfg.Type)
	}
	return fmt.Sprintf("%s at %s", cfg.Type, cfg.Path)
}

// ConfigSchemaAction prints the JSON schema of the configuration file.
func ConfigSchemaAction(c *cli.Context) error {
	data, err := json.MarshalIndent(config.JSONSchema(), "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", data)
	return nil
}

// openCache opens the persistent cache selected by the flags or the configuration.
func openCache(c *cli.Context, logger logging.Logger) (amgcache.Store, error) {
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return nil, err
	}
	cacheCfg := cfg.Cache
	if c.IsSet(flagCacheType) {
		cacheCfg.Type = config.CacheType(c.String(flagCacheType))
	}
	if c.IsSet(flagCachePath) {
		cacheCfg.Path = c.String(flagCachePath)
	}
	if cacheCfg.Type == "" || cacheCfg.Type == config.CacheMemory {
		return nil, errors.New("memory caches only live as long as their session, select a dir or sqlite cache")
	}
	if err := cacheCfg.Validate("cache"); err != nil {
		return nil, err
	}
	logger.Debugw("opening cache", "cache", describeCache(cacheCfg))
	return session.OpenStore(c.Context, cacheCfg)
}

// CacheListAction prints a table of the cached slices.
func CacheListAction(c *cli.Context) (err error) {
	logger, closeLog := newLogger(c)
	defer func() {
		err = multierr.Combine(err, closeLog())
	}()
	store, err := openCache(c, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, store.Close())
	}()

	slices, err := store.Slices(c.Context)
	if err != nil {
		return err
	}
	if len(slices) == 0 {
		printf(c.App.Writer, "cache is empty")
		return nil
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Slice", "Kind", "Oracle", "Schema", "Created"})
	for _, z := range slices {
		e, err := store.Get(c.Context, z)
		if err != nil {
			printf(c.App.ErrWriter, "slice %d: %v", z, err)
			continue
		}
		t.AppendRow(table.Row{e.Slice, e.Kind, e.OracleID, e.SchemaVersion, e.CreatedAt.UTC().Format(time.RFC3339)})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// CacheClearAction removes every cached slice.
func CacheClearAction(c *cli.Context) (err error) {
	logger, closeLog := newLogger(c)
	defer func() {
		err = multierr.Combine(err, closeLog())
	}()
	store, err := openCache(c, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, store.Close())
	}()

	slices, err := store.Slices(c.Context)
	if err != nil {
		return err
	}
	if err := store.Clear(c.Context); err != nil {
		return errors.Wrap(err, "clearing cache")
	}
	printf(c.App.Writer, "removed %d cached slices", len(slices))
	return nil
}
