package config

import (
	"fmt"
	"slices"

	"github.com/urfave/cli/v2"
)

// Flag names shared by the staff detection binaries.
const (
	FlagConfig          = "config"
	FlagVideo           = "video"
	FlagModel           = "model"
	FlagBackend         = "backend"
	FlagOutputDir       = "output-dir"
	FlagShowCoordinates = "show-coordinates"
	FlagStore           = "store"

	flagConfigAlias = "c"
)

// Flags returns the command line flags that override configuration file values.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    FlagConfig,
			Aliases: []string{flagConfigAlias},
			Usage:   "load configuration from `FILE`",
			EnvVars: []string{"STAFF_CONFIG"},
		},
		&cli.StringFlag{
			Name:  FlagVideo,
			Usage: "input video `FILE`",
		},
		&cli.StringFlag{
			Name:  FlagModel,
			Usage: "detector model `FILE`",
		},
		&cli.StringFlag{
			Name:  FlagBackend,
			Usage: "detector backend: dnn, process, http or mock",
		},
		&cli.StringFlag{
			Name:  FlagOutputDir,
			Usage: "directory for annotated output videos",
		},
		&cli.BoolFlag{
			Name:  FlagShowCoordinates,
			Usage: "draw the raw box coordinates on each frame",
		},
		&cli.StringFlag{
			Name:  FlagStore,
			Usage: "session history database `FILE`",
		},
	}
}

// FromContext loads the file named by --config, or the defaults, and applies the
// flags that were set on the command line. A flag may be given to the command or
// to any of its parents; the one nearest the command wins.
func FromContext(c *cli.Context) (*Config, error) {
	path := c.String(FlagConfig)
	if ctx := setIn(c, FlagConfig, flagConfigAlias); ctx != nil {
		path = ctx.String(FlagConfig)
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	if ctx := setIn(c, FlagVideo); ctx != nil {
		cfg.Video = ctx.String(FlagVideo)
	}
	if ctx := setIn(c, FlagModel); ctx != nil {
		cfg.Detector.Model = ctx.String(FlagModel)
	}
	if ctx := setIn(c, FlagBackend); ctx != nil {
		cfg.Detector.Backend = ctx.String(FlagBackend)
	}
	if ctx := setIn(c, FlagOutputDir); ctx != nil {
		cfg.OutputDir = ctx.String(FlagOutputDir)
	}
	if ctx := setIn(c, FlagShowCoordinates); ctx != nil {
		cfg.Annotate.ShowCoordinates = ctx.Bool(FlagShowCoordinates)
	}
	if ctx := setIn(c, FlagStore); ctx != nil {
		cfg.Store.Path = ctx.String(FlagStore)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setIn returns the nearest context in c's lineage whose command line set the
// flag under one of names, or nil.
func setIn(c *cli.Context, names ...string) *cli.Context {
	for _, ctx := range c.Lineage() {
		// The outermost context wraps the parent context.Context and has no flags.
		if ctx.App == nil {
			continue
		}
		for _, set := range ctx.LocalFlagNames() {
			if slices.Contains(names, set) {
				return ctx
			}
		}
	}
	return nil
}
