package preview

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub(80)
	d, err := hub.OpenDisplay("cam")
	require.NoError(t, err)
	assert.Equal(t, []string{"cam"}, hub.Names())

	a, cancelA := hub.Subscribe("cam")
	b, cancelB := hub.Subscribe("cam")
	defer cancelA()
	defer cancelB()

	require.NoError(t, d.Show(image.NewRGBA(image.Rect(0, 0, 40, 30))))

	for _, c := range []<-chan []byte{a, b} {
		select {
		case frame := <-c:
			img, err := jpeg.Decode(bytes.NewReader(frame))
			require.NoError(t, err)
			assert.Equal(t, image.Pt(40, 30), img.Bounds().Size())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive frame")
		}
	}

	latest, ok := hub.Latest("cam")
	assert.True(t, ok)
	assert.NotEmpty(t, latest)
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(0)
	d, err := hub.OpenDisplay("cam")
	require.NoError(t, err)
	_, cancel := hub.Subscribe("cam")
	defer cancel()

	frame := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < subscriberBuffer*3; i++ {
		require.NoError(t, d.Show(frame))
	}
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(0)
	d, err := hub.OpenDisplay("cam")
	require.NoError(t, err)
	c, cancel := hub.Subscribe("cam")

	require.NoError(t, d.Close())
	_, open := <-c
	assert.False(t, open)
	assert.Empty(t, hub.Names())
	assert.ErrorIs(t, d.Show(image.NewRGBA(image.Rect(0, 0, 1, 1))), ErrClosed)

	cancel()
	assert.NoError(t, d.Close())
}

func TestHubLatestUnknown(t *testing.T) {
	hub := NewHub(0)
	_, ok := hub.Latest("missing")
	assert.False(t, ok)
}
