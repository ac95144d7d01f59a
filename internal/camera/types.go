package camera

import (
	"fmt"

	"github.com/bilbercode/gopro-stream/internal/webcam"
)

// Settings are the caller-supplied parameters of one camera session. Port 0 asks for an
// automatically assigned port; empty Resolution or FOV leave the camera's default.
type Settings struct {
	Serial     string
	Port       int
	Resolution string
	FOV        string
}

type Info struct {
	ID         string `json:"id"`
	Serial     string `json:"serial"`
	Port       int    `json:"port"`
	Resolution string `json:"resolution,omitempty"`
	FOV        string `json:"fov,omitempty"`
	State      string `json:"state"`
	StreamURL  string `json:"stream_url"`
	Viewing    bool   `json:"viewing"`
	Frames     uint64 `json:"frames"`
	Closed     bool   `json:"closed"`
}

type EventType int

const (
	EventTypeUnknown EventType = iota
	EventTypeSnapshot
	EventTypeOpened
	EventTypePlaying
	EventTypePreview
	EventTypeClosed
	EventTypeFailed
)

func (t EventType) String() string {
	switch t {
	case EventTypeSnapshot:
		return "snapshot"
	case EventTypeOpened:
		return "opened"
	case EventTypePlaying:
		return "playing"
	case EventTypePreview:
		return "preview"
	case EventTypeClosed:
		return "closed"
	case EventTypeFailed:
		return "failed"
	}
	return "unknown"
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

type Event struct {
	Type  EventType `json:"type"`
	Info  Info      `json:"camera"`
	Error string    `json:"error,omitempty"`
}

// SessionError names the camera and operation a failure belongs to.
type SessionError struct {
	Serial string
	Op     string
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("camera %s: %s: %v", e.Serial, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func parseSettings(s Settings) (res *webcam.Resolution, fov *webcam.FOV, err error) {
	if s.Resolution != "" {
		r, err := webcam.ParseResolution(s.Resolution)
		if err != nil {
			return nil, nil, err
		}
		res = &r
	}
	if s.FOV != "" {
		f, err := webcam.ParseFOV(s.FOV)
		if err != nil {
			return nil, nil, err
		}
		fov = &f
	}
	return res, fov, nil
}
