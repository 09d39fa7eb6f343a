// Command staff runs staff detection over a video file and keeps a history of
// processed sessions.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/KhawLiang/Staff-Detection/internal/app"
	"github.com/KhawLiang/Staff-Detection/internal/config"
	"github.com/KhawLiang/Staff-Detection/internal/pipeline"
	"github.com/KhawLiang/Staff-Detection/internal/sink"
	"github.com/KhawLiang/Staff-Detection/internal/store"
)

const (
	flagNoWindow  = "no-window"
	flagNoHistory = "no-history"
	flagLimit     = "limit"
)

func init() {
	// The preview window is driven from the main goroutine and must stay on one OS thread.
	runtime.LockOSThread()
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "staff",
		Usage: "detect staff members in recorded video",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "annotate a video and save the result",
				ArgsUsage: "[video]",
				Flags: append(config.Flags(),
					&cli.BoolFlag{
						Name:  flagNoWindow,
						Usage: "do not show the live preview window",
					},
					&cli.BoolFlag{
						Name:  flagNoHistory,
						Usage: "do not record the session in the history database",
					},
				),
				Action: runAction,
			},
			{
				Name:  "sessions",
				Usage: "list recent sessions",
				Flags: append(config.Flags(),
					&cli.IntFlag{
						Name:  flagLimit,
						Value: 20,
						Usage: "maximum number of sessions to show",
					},
				),
				Action: listSessionsAction,
				Subcommands: []*cli.Command{
					{
						Name:      "delete",
						Usage:     "remove a session from the history",
						ArgsUsage: "<id>",
						Flags:     config.Flags(),
						Action:    deleteSessionAction,
					},
				},
			},
			datasetCommand(),
		},
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}
	if c.Args().Present() {
		cfg.Video = c.Args().First()
	}
	if cfg.Video == "" {
		return cli.Exit("no video given: pass one as an argument, with --video or in the config file", 1)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var presenter sink.Presenter
	if cfg.Display.Window && !c.Bool(flagNoWindow) {
		presenter = sink.NewWindowPresenter(cfg.Display.WindowName, cfg.Display.WaitMs, cfg.QuitRune(), stop)
	}

	a, err := app.New(app.Config{
		Settings:  cfg,
		Presenter: presenter,
		NoHistory: c.Bool(flagNoHistory),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	sess, err := a.Process(ctx, cfg.Video)
	if sess.ID != "" {
		printSummary(c.App.Writer, sess)
	}
	if err != nil {
		return err
	}
	if sess.EndReason == pipeline.ReasonError {
		return cli.Exit(sess.Error, 1)
	}
	return nil
}

func printSummary(w io.Writer, sess pipeline.Session) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"Session", sess.ID},
		{"Source", sess.SourcePath},
		{"Output", sess.OutputPath},
		{"Format", fmt.Sprintf("%dx%d @ %.2f fps", sess.Width, sess.Height, sess.FPS)},
		{"Frames written", sess.FramesWritten},
		{"Frames skipped", sess.FramesSkipped},
		{"Ended", sess.EndReason},
		{"Duration", sess.Duration().Round(time.Millisecond)},
	})
	if sess.Error != "" {
		t.AppendRow(table.Row{"Error", sess.Error})
	}
	t.Render()
}

func openStore(c *cli.Context) (*store.Store, error) {
	cfg, err := config.FromContext(c)
	if err != nil {
		return nil, err
	}
	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	return store.New(path)
}

func listSessionsAction(c *cli.Context) error {
	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := st.Sessions().List(c.Int(flagLimit))
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(c.App.Writer, "No sessions recorded")
		return nil
	}

	renderSessions(c.App.Writer, sessions)
	return nil
}

func renderSessions(w io.Writer, sessions []*store.Session) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Started", "Source", "Output", "Frames", "Skipped", "Ended", "Duration"})
	for _, s := range sessions {
		ended, duration := "running", ""
		if s.Finished() {
			ended = s.EndReason
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			s.ID,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			s.SourcePath,
			s.OutputPath,
			s.FramesWritten,
			s.FramesSkipped,
			ended,
			duration,
		})
	}
	t.Render()
}

func deleteSessionAction(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return cli.Exit("session id is required", 1)
	}

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Sessions().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return cli.Exit(fmt.Sprintf("session %s not found", id), 1)
		}
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted session %s\n", id)
	return nil
}
