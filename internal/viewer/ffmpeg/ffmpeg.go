// Package ffmpeg decodes camera streams by piping them through an ffmpeg process as
// a sequence of JPEG images.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os/exec"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/gopro-stream/internal/viewer"
)

const (
	maxFrameSize = 16 << 20

	// DefaultOpenTimeout bounds the wait for the first decoded frame.
	DefaultOpenTimeout = 30 * time.Second
)

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

type Source struct {
	// Binary defaults to "ffmpeg" on the PATH.
	Binary string
	// OpenTimeout defaults to DefaultOpenTimeout.
	OpenTimeout time.Duration
}

type capture struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	scanner *bufio.Scanner
	first   []byte
	ended   bool
}

// OpenCapture starts ffmpeg on url and returns once the first frame has been decoded.
// It fails if ffmpeg exits, or produces no frame within the open timeout.
func (s Source) OpenCapture(url string) (viewer.Capture, error) {
	bin := s.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	timeout := s.OpenTimeout
	if timeout <= 0 {
		timeout = DefaultOpenTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, bin,
		"-loglevel", "error",
		"-i", url,
		"-an",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "5",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.WithField("url", url).Debugf("ffmpeg: %s", scanner.Text())
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1<<20), maxFrameSize)
	scanner.Split(SplitJPEG)
	c := &capture{cmd: cmd, cancel: cancel, scanner: scanner}

	opened := make(chan bool, 1)
	go func() {
		opened <- scanner.Scan()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ok := <-opened:
		if ok {
			c.first = append([]byte(nil), scanner.Bytes()...)
			return c, nil
		}
		scanErr := scanner.Err()
		waitErr := c.release()
		switch {
		case scanErr != nil:
			return nil, fmt.Errorf("failed to read from ffmpeg for %s: %w", url, scanErr)
		case waitErr != nil:
			return nil, fmt.Errorf("ffmpeg could not open %s: %w", url, waitErr)
		}
		return nil, fmt.Errorf("ffmpeg produced no frame for %s", url)
	case <-timer.C:
		cancel()
		<-opened
		_ = c.release()
		return nil, fmt.Errorf("no frame from %s within %s", url, timeout)
	}
}

func (c *capture) Read() (image.Image, bool) {
	if c.first != nil {
		data := c.first
		c.first = nil
		return decode(data)
	}
	if c.ended {
		time.Sleep(100 * time.Millisecond)
		return nil, false
	}
	if !c.scanner.Scan() {
		c.ended = true
		if err := c.scanner.Err(); err != nil {
			log.WithError(err).Warn("ffmpeg frame stream ended")
		}
		return nil, false
	}
	return decode(c.scanner.Bytes())
}

func decode(data []byte) (image.Image, bool) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	return img, true
}

func (c *capture) release() error {
	c.cancel()
	return c.cmd.Wait()
}

func (c *capture) Close() error {
	// ffmpeg killed by the cancelled context exits with an error; that is the expected path.
	_ = c.release()
	return nil
}

// SplitJPEG is a bufio.SplitFunc yielding complete JPEG images from a concatenated
// stream. Bytes before a start-of-image marker are discarded.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, soi)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// keep a trailing 0xFF, it may be the first half of a marker
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	end := bytes.Index(data[start+len(soi):], eoi)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	end += start + len(soi) + len(eoi)
	return end, data[start:end], nil
}
