package main

import (
	"fmt"
	"image"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/KhawLiang/Staff-Detection/internal/capture"
	"github.com/KhawLiang/Staff-Detection/internal/dataset"
)

const (
	flagOut    = "out"
	flagEvery  = "every"
	flagRatio  = "ratio"
	flagLabels = "labels"
	flagImages = "images"
	flagTrain  = "train"
	flagVal    = "val"
	flagSize   = "size"
)

func datasetCommand() *cli.Command {
	return &cli.Command{
		Name:  "dataset",
		Usage: "prepare training data for the detector",
		Subcommands: []*cli.Command{
			{
				Name:      "extract",
				Usage:     "save every nth frame of a video as JPEG",
				ArgsUsage: "<video>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagOut, Value: "img", Usage: "output `DIR`"},
					&cli.IntFlag{Name: flagEvery, Value: dataset.DefaultEvery, Usage: "keep one frame in `N`"},
				},
				Action: extractAction,
			},
			{
				Name:  "split",
				Usage: "split label files into train and val sets",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagLabels, Value: "dataset/labels", Usage: "label `DIR`"},
					&cli.StringFlag{Name: flagTrain, Value: "dataset/labels/train", Usage: "train `DIR`"},
					&cli.StringFlag{Name: flagVal, Value: "dataset/labels/val", Usage: "val `DIR`"},
					&cli.Float64Flag{Name: flagRatio, Value: dataset.DefaultSplitRatio, Usage: "share of files used for training"},
				},
				Action: splitAction,
			},
			{
				Name:  "collect",
				Usage: "copy the image of every label file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagLabels, Value: "dataset/labels/train", Usage: "label `DIR`"},
					&cli.StringFlag{Name: flagImages, Value: "img", Usage: "extracted image `DIR`"},
					&cli.StringFlag{Name: flagOut, Value: "dataset/images/train", Usage: "output `DIR`"},
				},
				Action: collectAction,
			},
			{
				Name:      "resize",
				Usage:     "resize every image in a directory in place",
				ArgsUsage: "<dir>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagSize, Value: dataset.DefaultImageSize.X, Usage: "square size in pixels"},
				},
				Action: resizeAction,
			},
			{
				Name:  "count",
				Usage: "check the split directories against the annotations",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagLabels, Value: "staff_annotations", Usage: "annotation `DIR`"},
					&cli.StringFlag{Name: flagTrain, Value: "dataset/labels/train", Usage: "train `DIR`"},
					&cli.StringFlag{Name: flagVal, Value: "dataset/labels/val", Usage: "val `DIR`"},
				},
				Action: countAction,
			},
		},
	}
}

func extractAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("video path is required", 1)
	}

	src, err := capture.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	n, err := dataset.Extract(src, c.String(flagOut), c.Int(flagEvery))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Extracted %d frames to %s\n", n, c.String(flagOut))
	return nil
}

func splitAction(c *cli.Context) error {
	res, err := dataset.Split(c.String(flagLabels), c.String(flagTrain), c.String(flagVal), c.Float64(flagRatio), nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Copied %d files to %s\n", res.Train, c.String(flagTrain))
	fmt.Fprintf(c.App.Writer, "Copied %d files to %s\n", res.Val, c.String(flagVal))
	return nil
}

func collectAction(c *cli.Context) error {
	res, err := dataset.CollectImages(c.String(flagLabels), c.String(flagImages), c.String(flagOut))
	if err != nil {
		return err
	}
	for _, missing := range res.Missing {
		fmt.Fprintf(c.App.Writer, "Image not found: %s\n", missing)
	}
	fmt.Fprintf(c.App.Writer, "Copied %d images to %s\n", res.Copied, c.String(flagOut))
	return nil
}

func resizeAction(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return cli.Exit("image directory is required", 1)
	}

	size := c.Int(flagSize)
	n, err := dataset.ResizeImages(dir, image.Pt(size, size))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Resized %d images to %dx%d\n", n, size, size)
	return nil
}

func countAction(c *cli.Context) error {
	counts, err := dataset.Count(c.String(flagLabels), c.String(flagTrain), c.String(flagVal))
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.AppendHeader(table.Row{"Split", "Files", "Annotated"})
	t.AppendRows([]table.Row{
		{"train", counts.Train.Total, counts.Train.Labelled},
		{"val", counts.Val.Total, counts.Val.Labelled},
	})
	t.Render()
	return nil
}
