// Package cli contains the splatlod command line interface.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig = "config"
	flagDebug  = "debug"

	flagOut          = "out"
	flagScene        = "scene"
	flagCount        = "count"
	flagRadius       = "radius"
	flagSeed         = "seed"
	flagSHDegree     = "sh-degree"
	flagBase         = "base"
	flagMinSizeRatio = "min-size-ratio"
	flagAntialiased  = "antialiased"
	flagLevels       = "levels"
	flagMaxSplats    = "max-splats"
	flagScreenHeight = "screen-height"
	flagDistance     = "distance"
	flagTimeout      = "timeout"
)

var app = &cli.App{
	Name:            "splatlod",
	Usage:           "build and query level of detail trees for gaussian splats",
	HideHelpCommand: true,
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
	},
	Commands: []*cli.Command{
		{
			Name:      "generate",
			Usage:     "write a synthetic splat scene",
			UsageText: "splatlod generate --out <file> [other options]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagOut,
					Required: true,
					Usage:    "output splat file",
				},
				&cli.StringFlag{
					Name:  flagScene,
					Value: sceneSphere,
					Usage: "scene to generate: sphere, random or coincident",
				},
				&cli.IntFlag{
					Name:  flagCount,
					Value: 1000,
					Usage: "number of splats",
				},
				&cli.Float64Flag{
					Name:  flagRadius,
					Value: 1,
					Usage: "sphere radius or random half extent",
				},
				&cli.Int64Flag{
					Name:  flagSeed,
					Value: 1,
					Usage: "random seed",
				},
				&cli.IntFlag{
					Name:  flagSHDegree,
					Value: 3,
					Usage: "maximum spherical harmonics degree to write, negative for none",
				},
			},
			Action: GenerateAction,
		},
		{
			Name:      "build",
			Usage:     "build a level of detail tree from a splat file",
			UsageText: "splatlod build --out <file> [other options] <input>",
			ArgsUsage: "<input>",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagOut,
					Required: true,
					Usage:    "output splat file with tree",
				},
				&cli.Float64Flag{
					Name:  flagBase,
					Usage: "voxel size ratio between levels, overrides config",
				},
				&cli.Float64Flag{
					Name:  flagMinSizeRatio,
					Usage: "smallest feature size as a fraction of the scene extent, overrides config",
				},
				&cli.BoolFlag{
					Name:  flagAntialiased,
					Usage: "mark the output as antialiased",
				},
				&cli.IntFlag{
					Name:  flagSHDegree,
					Value: 3,
					Usage: "maximum spherical harmonics degree to write, negative for none",
				},
			},
			Action: BuildAction,
		},
		{
			Name:      "info",
			Usage:     "describe splat files",
			ArgsUsage: "<file> [file...]",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  flagLevels,
					Usage: "print the node count of every tree level",
				},
			},
			Action: InfoAction,
		},
		{
			Name:      "traverse",
			Usage:     "select a frontier across the configured trees, or the given files",
			ArgsUsage: "[file...]",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  flagMaxSplats,
					Usage: "splat budget, overrides config",
				},
				&cli.IntFlag{
					Name:  flagScreenHeight,
					Usage: "screen height in pixels, overrides config",
				},
				&cli.Float64Flag{
					Name:  flagDistance,
					Value: 5,
					Usage: "distance in front of the viewer to place trees given as files",
				},
				&cli.DurationFlag{
					Name:  flagTimeout,
					Value: defaultTraverseTimeout,
					Usage: "how long to wait for trees and the traversal",
				},
			},
			Action: TraverseAction,
		},
		{
			Name:   "version",
			Usage:  "print version info for this program",
			Action: VersionAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
