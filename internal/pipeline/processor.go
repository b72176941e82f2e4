package pipeline

import (
	"context"
	"fmt"

	"solveeverylight/internal/imaging"
	"solveeverylight/internal/mediator"
)

// FrameLoader reads an image file into a Frame.
type FrameLoader interface {
	Load(path string) (*imaging.Frame, error)
}

// SavePublisher raises the before-image-saved event and waits for handlers.
type SavePublisher interface {
	BeforeImageSaved(ctx context.Context, ev mediator.BeforeImageSavedEvent)
}

// SidecarWriter persists the headers added during the save.
type SidecarWriter func(imagePath string, entries []imaging.HeaderEntry) (string, error)

// SaveProcessor loads a file, publishes it as a save event and writes any
// added headers to a sidecar next to the image.
type SaveProcessor struct {
	Loader    FrameLoader
	Publisher SavePublisher
	Sidecar   SidecarWriter
}

// NewSaveProcessor wires the default loader and sidecar writer.
func NewSaveProcessor(pub SavePublisher) *SaveProcessor {
	return &SaveProcessor{
		Loader:    imaging.NewLoader(),
		Publisher: pub,
		Sidecar:   imaging.WriteSidecar,
	}
}

func (s *SaveProcessor) Process(ctx context.Context, job Job) Result {
	frame, err := s.Loader.Load(job.Path)
	if err != nil {
		return Result{Job: job, Error: fmt.Errorf("load %s: %w", job.Path, err)}
	}
	if job.ID != "" {
		frame.ID = job.ID
	}

	// the file is already on disk, there is no pending preview
	rendered := make(chan []byte)
	close(rendered)
	s.Publisher.BeforeImageSaved(ctx, mediator.BeforeImageSavedEvent{Image: frame, Rendered: rendered})

	res := Result{Job: job, Frame: frame, Headers: frame.Headers()}
	if len(res.Headers) == 0 || s.Sidecar == nil {
		return res
	}
	out, err := s.Sidecar(job.Path, res.Headers)
	if err != nil {
		res.Error = err
		return res
	}
	res.Sidecar = out
	return res
}
