package app

import (
	"context"
	"log"

	"github.com/KhawLiang/Staff-Detection/internal/pipeline"
)

// Process loads path and runs detection on it back to back until the video is
// exhausted, the session fails or ctx is cancelled. The finished session is
// returned along with the error that ended it, if any.
func (a *App) Process(ctx context.Context, path string) (pipeline.Session, error) {
	c := a.controller

	if c.State() == pipeline.Stopped {
		if err := c.Unload(); err != nil {
			return pipeline.Session{}, err
		}
	}

	if err := c.Load(path); err != nil {
		return pipeline.Session{}, err
	}
	a.RememberVideo(path)

	if err := c.Start(); err != nil {
		sess, _ := c.Session()
		return sess, err
	}

	err := pipeline.RunLoop(ctx, c)
	sess, _ := c.Session()
	if err != nil {
		log.Printf("Session %s ended with error: %v", sess.ID, err)
	}
	return sess, err
}
