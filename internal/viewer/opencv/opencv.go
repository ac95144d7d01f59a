// Package opencv decodes and displays camera streams with OpenCV.
package opencv

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/bilbercode/gopro-stream/internal/viewer"
)

type capture struct {
	vid *gocv.VideoCapture
	mat gocv.Mat
}

// Source opens streams through OpenCV's FFmpeg backend.
type Source struct{}

func (Source) OpenCapture(url string) (viewer.Capture, error) {
	vid, err := gocv.OpenVideoCaptureWithAPI(url, gocv.VideoCaptureFFmpeg)
	if err != nil {
		return nil, fmt.Errorf("failed to open video capture %s: %w", url, err)
	}
	if !vid.IsOpened() {
		_ = vid.Close()
		return nil, errors.New("video capture is not opened")
	}
	return &capture{vid: vid, mat: gocv.NewMat()}, nil
}

func (c *capture) Read() (image.Image, bool) {
	if ok := c.vid.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, false
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, false
	}
	return img, true
}

func (c *capture) Close() error {
	_ = c.mat.Close()
	return c.vid.Close()
}

type window struct {
	thread *viewer.Thread
	win    *gocv.Window
}

// Surface renders frames in a resizable native window per stream. HighGUI is not
// thread safe, so every window call of every stream runs on one locked OS thread.
type Surface struct {
	thread *viewer.Thread
}

func NewSurface() *Surface {
	return &Surface{thread: viewer.NewThread()}
}

func (s *Surface) OpenDisplay(name string) (viewer.Display, error) {
	var win *gocv.Window
	err := s.thread.Do(func() {
		win = gocv.NewWindow(name)
		win.SetWindowProperty(gocv.WindowPropertyAutosize, gocv.WindowNormal)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open window %s: %w", name, err)
	}
	return &window{thread: s.thread, win: win}, nil
}

// Close stops the GUI thread. Windows must be closed first.
func (s *Surface) Close() {
	s.thread.Close()
}

func (w *window) Show(frame image.Image) error {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return err
	}
	defer mat.Close()
	return w.thread.Do(func() {
		w.win.IMShow(mat)
		w.win.WaitKey(1)
	})
}

func (w *window) Close() error {
	var err error
	if doErr := w.thread.Do(func() {
		err = w.win.Close()
	}); doErr != nil {
		return doErr
	}
	return err
}
