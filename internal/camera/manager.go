package camera

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Manager runs a set of camera sessions side by side. Failures are reported per camera
// and never undo the progress of the other cameras.
type Manager struct {
	sync.Mutex
	sessions    []*Session
	bySerial    map[string]*Session
	subscribers map[string]func(*Event)
}

func NewManager(sessions ...*Session) *Manager {
	m := &Manager{
		Mutex:       sync.Mutex{},
		sessions:    sessions,
		bySerial:    make(map[string]*Session, len(sessions)),
		subscribers: make(map[string]func(*Event)),
	}
	for _, s := range sessions {
		m.bySerial[s.Serial()] = s
		s.setNotify(m.publish)
	}
	return m
}

func (m *Manager) Sessions() []*Session {
	m.Lock()
	defer m.Unlock()
	return append([]*Session(nil), m.sessions...)
}

func (m *Manager) Session(serial string) (*Session, bool) {
	m.Lock()
	defer m.Unlock()
	s, ok := m.bySerial[serial]
	return s, ok
}

// Open enables every camera and starts its stream and viewer, all cameras in parallel.
// The returned error joins one *SessionError per failed camera.
func (m *Manager) Open(ctx context.Context) error {
	return m.each(func(s *Session) error {
		if err := s.Open(ctx); err != nil {
			return err
		}
		return s.Play(ctx)
	})
}

// Close tears down every session in parallel.
func (m *Manager) Close(ctx context.Context) error {
	return m.each(func(s *Session) error {
		return s.Close(ctx)
	})
}

func (m *Manager) each(f func(*Session) error) error {
	sessions := m.Sessions()
	errs := make([]error, len(sessions))

	var group errgroup.Group
	for i, s := range sessions {
		i, s := i, s
		group.Go(func() error {
			errs[i] = f(s)
			return nil
		})
	}
	_ = group.Wait()

	err := errors.Join(errs...)
	if err != nil {
		log.WithError(err).Warn("not every camera completed")
	}
	return err
}

// Subscribe registers f for session events. f is first called once per session with
// its current state. Handlers run without the manager's lock held and may call back
// into it. The returned func removes the subscription.
func (m *Manager) Subscribe(f func(*Event)) func() {
	id := uuid.NewString()
	m.Lock()
	m.subscribers[id] = f
	sessions := append([]*Session(nil), m.sessions...)
	m.Unlock()

	for _, s := range sessions {
		f(&Event{Type: EventTypeSnapshot, Info: s.Info()})
	}
	return func() {
		m.Lock()
		defer m.Unlock()
		delete(m.subscribers, id)
	}
}

func (m *Manager) publish(ev *Event) {
	m.Lock()
	handlers := make([]func(*Event), 0, len(m.subscribers))
	for _, h := range m.subscribers {
		handlers = append(handlers, h)
	}
	m.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
