package ffmpeg

import (
	"bufio"
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilbercode/gopro-stream/internal/viewer"
)

func encode(t *testing.T, w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestSplitJPEG(t *testing.T) {
	first := encode(t, 64, 48)
	second := encode(t, 32, 16)

	var stream bytes.Buffer
	stream.Write([]byte("garbage"))
	stream.Write(first)
	stream.Write(second)

	scanner := bufio.NewScanner(&stream)
	scanner.Split(SplitJPEG)

	var sizes []image.Point
	for scanner.Scan() {
		img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
		require.NoError(t, err)
		sizes = append(sizes, img.Bounds().Size())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []image.Point{{64, 48}, {32, 16}}, sizes)
}

func TestSplitJPEGNeedsMoreData(t *testing.T) {
	frame := encode(t, 16, 16)

	advance, token, err := SplitJPEG(frame[:len(frame)-1], false)
	require.NoError(t, err)
	assert.Nil(t, token)
	assert.Equal(t, 0, advance)

	advance, token, err = SplitJPEG(frame, false)
	require.NoError(t, err)
	assert.Equal(t, frame, token)
	assert.Equal(t, len(frame), advance)
}

func TestSplitJPEGKeepsPartialMarker(t *testing.T) {
	advance, token, err := SplitJPEG([]byte{0x01, 0x02, 0xFF}, false)
	require.NoError(t, err)
	assert.Nil(t, token)
	assert.Equal(t, 2, advance)
}

func TestSplitJPEGDropsTrailingGarbage(t *testing.T) {
	advance, token, err := SplitJPEG([]byte{0xFF, 0xD8, 0x00}, true)
	require.NoError(t, err)
	assert.Nil(t, token)
	assert.Equal(t, 3, advance)
}

func TestOpenCaptureMissingBinary(t *testing.T) {
	_, err := Source{Binary: "/nonexistent/ffmpeg"}.OpenCapture("udp://0.0.0.0:8554")
	assert.Error(t, err)
}

// fakeFFmpeg writes a shell script that ignores ffmpeg's arguments and runs body.
func fakeFFmpeg(t *testing.T, body string) string {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

type nopDisplay struct{}

func (nopDisplay) Show(image.Image) error { return nil }
func (nopDisplay) Close() error { return nil }

func TestOpenCaptureProcessExits(t *testing.T) {
	bin := fakeFFmpeg(t, "exit 1")

	_, err := Source{Binary: bin}.OpenCapture("udp://0.0.0.0:8554")
	assert.Error(t, err)
}

func TestOpenCaptureNoOutput(t *testing.T) {
	bin := fakeFFmpeg(t, "exit 0")

	_, err := Source{Binary: bin}.OpenCapture("udp://0.0.0.0:8554")
	assert.Error(t, err)
}

func TestOpenCaptureWaitsForFirstFrame(t *testing.T) {
	frames := filepath.Join(t.TempDir(), "frames.mjpeg")
	require.NoError(t, os.WriteFile(frames, append(encode(t, 64, 48), encode(t, 32, 16)...), 0o644))
	bin := fakeFFmpeg(t, "exec cat '"+frames+"'")

	c, err := Source{Binary: bin}.OpenCapture("udp://0.0.0.0:8554")
	require.NoError(t, err)
	defer c.Close()

	img, ok := c.Read()
	require.True(t, ok)
	assert.Equal(t, image.Pt(64, 48), img.Bounds().Size())

	img, ok = c.Read()
	require.True(t, ok)
	assert.Equal(t, image.Pt(32, 16), img.Bounds().Size())

	_, ok = c.Read()
	assert.False(t, ok)
}

func TestOpenCaptureTimeout(t *testing.T) {
	bin := fakeFFmpeg(t, "exec sleep 10")

	began := time.Now()
	_, err := Source{Binary: bin, OpenTimeout: 100 * time.Millisecond}.OpenCapture("udp://0.0.0.0:8554")
	assert.Error(t, err)
	assert.Less(t, time.Since(began), 5*time.Second)
}

func TestPlayerStartFailsWhenFFmpegExits(t *testing.T) {
	if _, err := os.Stat("/bin/false"); err != nil {
		t.Skip("no /bin/false")
	}
	surface := viewer.SurfaceFunc(func(string) (viewer.Display, error) {
		return nopDisplay{}, nil
	})
	p := viewer.NewPlayer("test", Source{Binary: "/bin/false"}, surface)

	err := p.Start("udp://0.0.0.0:1?overrun_nonfatal=1")
	assert.Error(t, err)
	assert.False(t, p.IsRunning())
}
