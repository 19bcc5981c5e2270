package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	"go.opencensus.io/trace"

	"github.com/efikit/memmap/internal/oc"
)

const desc = `A stand-alone tool for inspecting firmware memory-map dumps and for
exercising the map manager against a synthetic physical address space.`

func main() {
	app := &cli.App{
		Name:        "memmap-info",
		Usage:       "inspect and exercise boot-time memory maps",
		Description: desc,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging and span output",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				logrus.SetLevel(logrus.DebugLevel)
				trace.RegisterExporter(&oc.LogrusExporter{})
				trace.ApplyConfig(trace.Config{DefaultSampler: oc.DefaultSampler})
			}
			return nil
		},
		Commands: []*cli.Command{
			inspectCommand,
			summaryCommand,
			exerciseCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
