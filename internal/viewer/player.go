package viewer

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

var frames = promauto.NewCounterVec(prometheus.CounterOpts{
	Name:      "viewer_frames_total",
	Namespace: "gopro_stream",
	Help:      "number of frames read by stream viewers",
}, []string{"stream", "result"})

// Player renders one network video stream in its own worker goroutine.
type Player struct {
	sync.Mutex
	name    string
	source  Source
	surface Surface
	log     *log.Entry

	url      string
	running  bool
	starting bool
	stopping bool
	stop     chan struct{}
	done     chan struct{}
	shown    atomic.Uint64
}

type PlayerOption func(*Player)

func WithLogger(entry *log.Entry) PlayerOption {
	return func(p *Player) {
		p.log = entry
	}
}

func NewPlayer(name string, source Source, surface Surface, opts ...PlayerOption) *Player {
	p := &Player{
		Mutex:   sync.Mutex{},
		name:    name,
		source:  source,
		surface: surface,
		log:     log.WithField("stream", name),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Player) Name() string {
	return p.name
}

func (p *Player) URL() string {
	p.Lock()
	defer p.Unlock()
	return p.url
}

func (p *Player) SetURL(url string) error {
	p.Lock()
	defer p.Unlock()
	if p.running || p.starting {
		return ErrRunning
	}
	p.url = url
	return nil
}

func (p *Player) IsRunning() bool {
	p.Lock()
	defer p.Unlock()
	return p.running
}

// Frames returns the number of frames rendered since the player was created.
func (p *Player) Frames() uint64 {
	return p.shown.Load()
}

// Start launches the worker and returns once it has opened the stream. The player's
// lock is not held while the stream opens.
func (p *Player) Start(url string) error {
	p.Lock()
	if p.running || p.starting {
		p.Unlock()
		return ErrRunning
	}
	p.starting = true
	p.url = url
	p.Unlock()

	p.log.Infof("starting player @ %s", url)
	ready := make(chan error, 1)
	stop := make(chan struct{})
	done := make(chan struct{})
	go p.run(url, ready, stop, done)

	if err := <-ready; err != nil {
		<-done
		p.Lock()
		p.starting = false
		p.Unlock()
		return fmt.Errorf("failed to open stream %s: %w", url, err)
	}

	p.Lock()
	p.starting = false
	p.running = true
	p.stop = stop
	p.done = done
	p.Unlock()
	p.log.Info("player started")
	return nil
}

// Stop asks the worker to leave its render loop and waits until it has released the
// capture and display. It does nothing if the player is not running. Concurrent calls
// all wait for the same worker.
func (p *Player) Stop() {
	p.Lock()
	if !p.running {
		p.Unlock()
		return
	}
	done := p.done
	if !p.stopping {
		p.stopping = true
		p.log.Info("stopping player")
		close(p.stop)
	}
	p.Unlock()

	<-done

	p.Lock()
	if p.done == done {
		p.running = false
		p.stopping = false
	}
	p.Unlock()
}

func (p *Player) run(url string, ready chan<- error, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	capture, err := p.source.OpenCapture(url)
	if err != nil {
		ready <- err
		return
	}
	display, err := p.surface.OpenDisplay(p.name)
	if err != nil {
		_ = capture.Close()
		ready <- fmt.Errorf("failed to open display: %w", err)
		return
	}
	ready <- nil

	defer func() {
		if err := capture.Close(); err != nil {
			p.log.WithError(err).Warn("failed to release capture")
		}
		if err := display.Close(); err != nil {
			p.log.WithError(err).Warn("failed to close display")
		}
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, ok := capture.Read()
		if !ok || frame == nil {
			frames.WithLabelValues(p.name, "dropped").Inc()
			continue
		}
		if err := display.Show(Scale(frame, Reduction)); err != nil {
			p.log.WithError(err).Debug("failed to render frame")
			frames.WithLabelValues(p.name, "dropped").Inc()
			continue
		}
		p.shown.Add(1)
		frames.WithLabelValues(p.name, "shown").Inc()
	}
}

// Scale resizes frame by factor, keeping at least one pixel in each dimension.
func Scale(frame image.Image, factor float64) image.Image {
	b := frame.Bounds()
	w := int(float64(b.Dx()) * factor)
	h := int(float64(b.Dy()) * factor)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, b, draw.Src, nil)
	return dst
}
