// Package preview renders camera frames to HTTP and websocket viewers instead of a
// native window.
package preview

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bilbercode/gopro-stream/internal/viewer"
)

const subscriberBuffer = 4

var ErrClosed = errors.New("display closed")

type stream struct {
	latest      []byte
	open        bool
	subscribers map[string]chan []byte
}

// Hub is a viewer.Surface. Each display it opens JPEG-encodes frames and fans them out
// to the subscribers registered under the display's name. Slow subscribers miss frames.
type Hub struct {
	sync.Mutex
	quality int
	streams map[string]*stream
}

func NewHub(quality int) *Hub {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Hub{
		Mutex:   sync.Mutex{},
		quality: quality,
		streams: make(map[string]*stream),
	}
}

func (h *Hub) OpenDisplay(name string) (viewer.Display, error) {
	h.Lock()
	defer h.Unlock()
	s := h.stream(name)
	s.open = true
	return &display{hub: h, name: name}, nil
}

// Subscribe returns a channel of encoded frames for name and a func to cancel it.
func (h *Hub) Subscribe(name string) (<-chan []byte, func()) {
	h.Lock()
	defer h.Unlock()

	id := uuid.NewString()
	c := make(chan []byte, subscriberBuffer)
	h.stream(name).subscribers[id] = c

	var once sync.Once
	return c, func() {
		once.Do(func() {
			h.Lock()
			defer h.Unlock()
			s := h.streams[name]
			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
		})
	}
}

func (h *Hub) Latest(name string) ([]byte, bool) {
	h.Lock()
	defer h.Unlock()
	s, ok := h.streams[name]
	if !ok || s.latest == nil {
		return nil, false
	}
	return s.latest, true
}

// Names lists the displays that are currently open.
func (h *Hub) Names() []string {
	h.Lock()
	defer h.Unlock()
	var names []string
	for name, s := range h.streams {
		if s.open {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (h *Hub) stream(name string) *stream {
	s, ok := h.streams[name]
	if !ok {
		s = &stream{subscribers: make(map[string]chan []byte)}
		h.streams[name] = s
	}
	return s
}

func (h *Hub) publish(name string, frame []byte) {
	h.Lock()
	defer h.Unlock()
	s := h.stream(name)
	s.latest = frame
	for _, sub := range s.subscribers {
		select {
		case sub <- frame:
		default:
		}
	}
}

func (h *Hub) close(name string) {
	h.Lock()
	defer h.Unlock()
	s := h.stream(name)
	s.open = false
	for id, sub := range s.subscribers {
		delete(s.subscribers, id)
		close(sub)
	}
}

type display struct {
	sync.Mutex
	hub    *Hub
	name   string
	closed bool
	buf    bytes.Buffer
}

func (d *display) Show(frame image.Image) error {
	d.Lock()
	defer d.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.buf.Reset()
	if err := jpeg.Encode(&d.buf, frame, &jpeg.Options{Quality: d.hub.quality}); err != nil {
		return err
	}
	encoded := make([]byte, d.buf.Len())
	copy(encoded, d.buf.Bytes())
	d.hub.publish(d.name, encoded)
	return nil
}

func (d *display) Close() error {
	d.Lock()
	defer d.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.hub.close(d.name)
	return nil
}
