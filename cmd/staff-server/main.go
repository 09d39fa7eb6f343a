// Command staff-server exposes the staff detection pipeline over HTTP with an
// MJPEG preview, websocket events and an optional system tray.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/urfave/cli/v2"

	"github.com/KhawLiang/Staff-Detection/internal/app"
	"github.com/KhawLiang/Staff-Detection/internal/config"
	"github.com/KhawLiang/Staff-Detection/internal/pipeline"
	"github.com/KhawLiang/Staff-Detection/internal/server"
	"github.com/KhawLiang/Staff-Detection/internal/tray"
)

const (
	flagAddr      = "addr"
	flagStaticDir = "static-dir"
	flagTray      = "tray"
)

func init() {
	// The tray event loop must run on the main thread.
	runtime.LockOSThread()
}

func main() {
	a := &cli.App{
		Name:  "staff-server",
		Usage: "operate staff detection from a browser",
		Flags: append(config.Flags(),
			&cli.StringFlag{
				Name:  flagAddr,
				Usage: "listen address, overrides server.addr",
			},
			&cli.StringFlag{
				Name:  flagStaticDir,
				Usage: "serve a web front-end from `DIR`",
			},
			&cli.BoolFlag{
				Name:  flagTray,
				Usage: "show a system tray icon with detection controls",
			},
		),
		Action: serve,
	}

	if err := a.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}
	if c.IsSet(flagAddr) {
		cfg.Server.Addr = c.String(flagAddr)
	}
	if c.IsSet(flagStaticDir) {
		cfg.Server.StaticDir = c.String(flagStaticDir)
	}
	if cfg.Server.StaticDir == "" {
		cfg.Server.StaticDir = findWebDir()
	}

	preview := server.NewPreview(cfg.Display.Width)
	a, err := app.New(app.Config{
		Settings:  cfg,
		Presenter: preview,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var t *tray.Tray
	if c.Bool(flagTray) {
		t = newTray(a, previewURL(cfg.Server.Addr), stop)
	}

	if video := a.LastVideo(); video != "" {
		if err := a.Controller().Load(video); err != nil {
			log.Printf("Could not preload %s: %v", video, err)
		}
	}

	srv := server.New(server.Config{
		StaticDir:  cfg.Server.StaticDir,
		Store:      a.Store(),
		Controller: a.Controller(),
		Runner:     a.Scheduler(),
		Preview:    preview,
	})
	if cfg.Server.StaticDir != "" {
		log.Printf("Serving static files from: %s", cfg.Server.StaticDir)
	}

	httpServer := srv.HTTPServer(cfg.Server.Addr)
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if t != nil {
		go func() {
			<-ctx.Done()
			t.Quit()
		}()
		// Blocks until Quit is chosen or the context ends.
		t.Run()
		stop()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	log.Println("Shutting down server")
	if err := a.Scheduler().Stop(); err != nil && !errors.Is(err, pipeline.ErrInvalidState) {
		log.Printf("Error stopping detection: %v", err)
	}
	// Ends open MJPEG streams so Shutdown does not wait on them.
	preview.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newTray(a *app.App, url string, quit func()) *tray.Tray {
	t := tray.New()
	a.Controller().Subscribe(t.HandleEvent)

	t.OnStart(func() {
		if err := a.Scheduler().Start(); err != nil {
			log.Printf("Failed to start detection: %v", err)
		}
	})
	t.OnStop(func() {
		if err := a.Scheduler().Stop(); err != nil {
			log.Printf("Failed to stop detection: %v", err)
		}
	})
	t.OnPreview(func() {
		if err := browser.OpenURL(url); err != nil {
			log.Printf("Failed to open %s: %v", url, err)
		}
	})
	t.OnQuit(quit)
	return t
}

// previewURL returns the local address of the MJPEG stream for addr.
func previewURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://localhost:8080/api/stream"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/api/stream", net.JoinHostPort(host, port))
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.staff-detection/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, config.DataDirName, "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
