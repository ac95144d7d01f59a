package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/gopro-stream/internal/ports"
	"github.com/bilbercode/gopro-stream/internal/viewer"
	"github.com/bilbercode/gopro-stream/internal/webcam"
)

const streamURLTemplate = "udp://0.0.0.0:%d?overrun_nonfatal=1&fifo_size=50000000"

var sessionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name:      "session_errors_total",
	Namespace: "gopro_stream",
	Help:      "number of failed camera session operations",
}, []string{"camera", "op"})

// StreamURL is where a camera streaming to port is received.
func StreamURL(port int) string {
	return fmt.Sprintf(streamURLTemplate, port)
}

// Session configures one camera and shows its stream.
type Session struct {
	sync.Mutex
	id         string
	serial     string
	port       int
	resolution *webcam.Resolution
	fov        *webcam.FOV

	ports  *ports.Allocator
	webcam webcam.Client
	player *viewer.Player
	log    *log.Entry
	notify func(*Event)
	closed atomic.Bool
}

type options struct {
	webcam  []webcam.Option
	client  webcam.Client
	source  viewer.Source
	surface viewer.Surface
}

type Option func(*options)

func WithWebcamOptions(opts ...webcam.Option) Option {
	return func(o *options) {
		o.webcam = append(o.webcam, opts...)
	}
}

// WithWebcamClient replaces the HTTP controller built from the serial.
func WithWebcamClient(c webcam.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

func WithSource(src viewer.Source) Option {
	return func(o *options) {
		o.source = src
	}
}

func WithSurface(dst viewer.Surface) Option {
	return func(o *options) {
		o.surface = dst
	}
}

// NewSession validates the settings and claims a port from alloc. Nothing is sent to
// the camera until Open.
func NewSession(settings Settings, alloc *ports.Allocator, opts ...Option) (*Session, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.source == nil || o.surface == nil {
		return nil, errors.New("camera session needs a capture source and a display surface")
	}

	res, fov, err := parseSettings(settings)
	if err != nil {
		return nil, fmt.Errorf("camera %s: %w", settings.Serial, err)
	}

	id := uuid.NewString()
	entry := log.WithFields(log.Fields{"camera": settings.Serial, "session": id})

	client := o.client
	if client == nil {
		client, err = webcam.NewClient(settings.Serial, append([]webcam.Option{webcam.WithLogger(entry)}, o.webcam...)...)
		if err != nil {
			return nil, err
		}
	}

	port, err := alloc.Allocate(settings.Port)
	if err != nil {
		return nil, fmt.Errorf("camera %s: %w", settings.Serial, err)
	}
	entry = entry.WithField("port", port)
	entry.Debug("using port")

	return &Session{
		Mutex:      sync.Mutex{},
		id:         id,
		serial:     settings.Serial,
		port:       port,
		resolution: res,
		fov:        fov,
		ports:      alloc,
		webcam:     client,
		player:     viewer.NewPlayer(settings.Serial, o.source, o.surface, viewer.WithLogger(entry)),
		log:        entry,
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Serial() string {
	return s.serial
}

func (s *Session) Port() int {
	return s.port
}

func (s *Session) Webcam() webcam.Client {
	return s.webcam
}

func (s *Session) Info() Info {
	info := Info{
		ID:        s.id,
		Serial:    s.serial,
		Port:      s.port,
		State:     s.webcam.State().String(),
		StreamURL: StreamURL(s.port),
		Viewing:   s.player.IsRunning(),
		Frames:    s.player.Frames(),
		Closed:    s.closed.Load(),
	}
	if s.resolution != nil {
		info.Resolution = s.resolution.String()
	}
	if s.fov != nil {
		info.FOV = s.fov.String()
	}
	return info
}

// Open readies the camera for webcam mode.
func (s *Session) Open(ctx context.Context) error {
	s.Lock()
	err := s.open(ctx)
	s.Unlock()
	return s.finish("open", EventTypeOpened, err)
}

func (s *Session) open(ctx context.Context) error {
	if s.closed.Load() {
		return errClosed
	}
	return s.webcam.Enable(ctx)
}

// Play starts the camera's stream and the viewer that shows it.
func (s *Session) Play(ctx context.Context) error {
	s.Lock()
	err := s.play(ctx)
	s.Unlock()
	return s.finish("play", EventTypePlaying, err)
}

func (s *Session) play(ctx context.Context) error {
	if s.closed.Load() {
		return errClosed
	}
	opts := []webcam.StartOption{webcam.WithPort(s.port)}
	if s.resolution != nil {
		opts = append(opts, webcam.WithResolution(*s.resolution))
	}
	if s.fov != nil {
		opts = append(opts, webcam.WithFOV(*s.fov))
	}
	if err := s.webcam.Start(ctx, opts...); err != nil {
		return err
	}
	return s.player.Start(StreamURL(s.port))
}

// Preview puts the camera in low power preview. The stream is not displayed.
func (s *Session) Preview(ctx context.Context) error {
	s.Lock()
	err := s.preview(ctx)
	s.Unlock()
	return s.finish("preview", EventTypePreview, err)
}

func (s *Session) preview(ctx context.Context) error {
	if s.closed.Load() {
		return errClosed
	}
	return s.webcam.Preview(ctx)
}

// Close stops the viewer and waits for it, then stops and disables the camera and
// gives the port back. A failed Close can be called again; once one succeeds, later
// calls do nothing.
func (s *Session) Close(ctx context.Context) error {
	s.Lock()
	if s.closed.Load() {
		s.Unlock()
		return nil
	}
	err := s.close(ctx)
	s.Unlock()
	return s.finish("close", EventTypeClosed, err)
}

func (s *Session) close(ctx context.Context) error {
	s.player.Stop()

	var errs []error
	if s.webcam.State() == webcam.StateHighPowerPreview {
		if err := s.webcam.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.webcam.Disable(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.ports.Release(s.port)
	s.closed.Store(true)
	return nil
}

func (s *Session) finish(op string, success EventType, err error) error {
	if err != nil {
		sessionErrors.WithLabelValues(s.serial, op).Inc()
		s.log.WithError(err).Errorf("%s failed", op)
		s.emit(EventTypeFailed, err)
		return &SessionError{Serial: s.serial, Op: op, Err: err}
	}
	s.emit(success, nil)
	return nil
}

func (s *Session) emit(t EventType, err error) {
	s.Lock()
	notify := s.notify
	s.Unlock()
	if notify == nil {
		return
	}
	ev := &Event{Type: t, Info: s.Info()}
	if err != nil {
		ev.Error = err.Error()
	}
	notify(ev)
}

func (s *Session) setNotify(f func(*Event)) {
	s.Lock()
	defer s.Unlock()
	s.notify = f
}

var errClosed = errors.New("session is closed")
