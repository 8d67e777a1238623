// Package cli contains the maskprop command line tool for inspecting annotator settings and
// automatic segmentation caches.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagConfig    = "config"
	flagDebug     = "debug"
	flagLogFile   = "log-file"
	flagCacheType = "type"
	flagCachePath = "path"
)

var cacheFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  flagCacheType,
		Usage: "cache type to open instead of the configured one (dir or sqlite)",
	},
	&cli.StringFlag{
		Name:  flagCachePath,
		Usage: "cache directory or database `FILE` instead of the configured one",
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "maskprop",
		Usage:           "inspect annotator settings and automatic segmentation caches",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to the size rotated `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:            "config",
				Usage:           "work with annotator settings",
				HideHelpCommand: true,
				Subcommands: []*cli.Command{
					{
						Name:   "validate",
						Usage:  "validate the configuration and print the resolved settings",
						Action: ConfigValidateAction,
					},
					{
						Name:   "watch",
						Usage:  "print the resolved settings every time the configuration file changes",
						Action: ConfigWatchAction,
					},
					{
						Name:   "schema",
						Usage:  "print the JSON schema of the configuration",
						Action: ConfigSchemaAction,
					},
				},
			},
			{
				Name:            "cache",
				Usage:           "work with automatic segmentation state caches",
				HideHelpCommand: true,
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list the cached slices",
						Flags:  cacheFlags,
						Action: CacheListAction,
					},
					{
						Name:   "clear",
						Usage:  "remove every cached slice",
						Flags:  cacheFlags,
						Action: CacheClearAction,
					},
				},
			},
		},
	}
}
