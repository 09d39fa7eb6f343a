// Command staff-ui is the desktop front-end: load a video, watch the annotated
// preview and stop detection at any time.
package main

import (
	"image"
	"log"
	"os"

	fyneapp "fyne.io/fyne/v2/app"
	"github.com/urfave/cli/v2"

	"github.com/KhawLiang/Staff-Detection/internal/app"
	"github.com/KhawLiang/Staff-Detection/internal/config"
	"github.com/KhawLiang/Staff-Detection/internal/sink"
	"github.com/KhawLiang/Staff-Detection/internal/ui"
)

func main() {
	a := &cli.App{
		Name:   "staff-ui",
		Usage:  "desktop window for staff detection",
		Flags:  config.Flags(),
		Action: run,
	}

	if err := a.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}

	width, height := cfg.Display.Width, cfg.Display.Height
	presenter := sink.NewChannelPresenter(width, height)

	a, err := app.New(app.Config{
		Settings:  cfg,
		Presenter: presenter,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	w := ui.New(fyneapp.NewWithID("com.khawliang.staffdetection"), ui.Config{
		Title:       "Staff Detection",
		Controller:  a.Controller(),
		Scheduler:   a.Scheduler(),
		Presenter:   presenter,
		Settings:    a.Store().Settings(),
		PreviewSize: image.Pt(width, height),
	})

	if cfg.Video != "" {
		w.Load(cfg.Video)
	}

	w.ShowAndRun()
	return nil
}
