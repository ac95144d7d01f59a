package viewer

import (
	"errors"
	"image"
)

// Reduction is the fraction of the original frame size that gets rendered.
const Reduction = 0.25

var ErrRunning = errors.New("invalid state transition: player is running")

// Capture is an open network video stream.
type Capture interface {
	// Read returns the next decoded frame, or false when no frame could be decoded.
	Read() (image.Image, bool)
	Close() error
}

// Display is a surface frames are rendered on.
type Display interface {
	Show(frame image.Image) error
	Close() error
}

type Source interface {
	OpenCapture(url string) (Capture, error)
}

type Surface interface {
	OpenDisplay(name string) (Display, error)
}

type SourceFunc func(url string) (Capture, error)

func (f SourceFunc) OpenCapture(url string) (Capture, error) {
	return f(url)
}

type SurfaceFunc func(name string) (Display, error)

func (f SurfaceFunc) OpenDisplay(name string) (Display, error) {
	return f(name)
}
