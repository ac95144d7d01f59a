package webcam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidSetting         = errors.New("invalid setting")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidSerial          = errors.New("serial must have at least 3 characters")
)

// Client drives the webcam mode of a single camera over its HTTP control API.
type Client interface {
	Enable(ctx context.Context) error
	Preview(ctx context.Context) error
	Start(ctx context.Context, opts ...StartOption) error
	Stop(ctx context.Context) error
	Disable(ctx context.Context) error
	Status(ctx context.Context) (*Status, error)
	DateTime(ctx context.Context) (time.Time, error)
	State() State
	BaseURL() string
}

type State int

const (
	StateDisabled State = iota
	StateReady
	StateLowPowerPreview
	StateHighPowerPreview
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateReady:
		return "ready"
	case StateLowPowerPreview:
		return "low_power_preview"
	case StateHighPowerPreview:
		return "high_power_preview"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Resolution values are the camera's own setting codes.
type Resolution int

const (
	Resolution1080p Resolution = 12
	Resolution720p  Resolution = 7
)

var resolutionNames = map[string]Resolution{
	"1080p": Resolution1080p,
	"720p":  Resolution720p,
}

func ParseResolution(name string) (Resolution, error) {
	res, ok := resolutionNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: resolution %q (want 1080p or 720p)", ErrInvalidSetting, name)
	}
	return res, nil
}

func (r Resolution) String() string {
	switch r {
	case Resolution1080p:
		return "1080p"
	case Resolution720p:
		return "720p"
	}
	return fmt.Sprintf("resolution(%d)", int(r))
}

// FOV values are the camera's own setting codes.
type FOV int

const (
	FOVWide      FOV = 0
	FOVNarrow    FOV = 2
	FOVSuperview FOV = 3
	FOVLinear    FOV = 4
)

var fovNames = map[string]FOV{
	"WIDE":      FOVWide,
	"NARROW":    FOVNarrow,
	"SUPERVIEW": FOVSuperview,
	"LINEAR":    FOVLinear,
}

func ParseFOV(name string) (FOV, error) {
	fov, ok := fovNames[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: fov %q (want LINEAR, NARROW, SUPERVIEW or WIDE)", ErrInvalidSetting, name)
	}
	return fov, nil
}

func (f FOV) String() string {
	switch f {
	case FOVWide:
		return "WIDE"
	case FOVNarrow:
		return "NARROW"
	case FOVSuperview:
		return "SUPERVIEW"
	case FOVLinear:
		return "LINEAR"
	}
	return fmt.Sprintf("fov(%d)", int(f))
}

type Endpoint string

const (
	EndpointWiredUSB Endpoint = "camera/control/wired_usb"
	EndpointDateTime Endpoint = "camera/get_date_time"
	EndpointStatus   Endpoint = "webcam/status"
	EndpointPreview  Endpoint = "webcam/preview"
	EndpointStart    Endpoint = "webcam/start"
	EndpointStop     Endpoint = "webcam/stop"
	EndpointExit     Endpoint = "webcam/exit"
)

// HTTPError is returned when the camera answers a validated request with a non-2xx status.
type HTTPError struct {
	Endpoint   Endpoint
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("camera returned HTTP %d for %s", e.StatusCode, e.Endpoint)
}

type WebcamStatus int

const (
	WebcamStatusOff              WebcamStatus = 0
	WebcamStatusIdle             WebcamStatus = 1
	WebcamStatusHighPowerPreview WebcamStatus = 2
	WebcamStatusLowPowerPreview  WebcamStatus = 3
)

func (s WebcamStatus) String() string {
	switch s {
	case WebcamStatusOff:
		return "off"
	case WebcamStatusIdle:
		return "idle"
	case WebcamStatusHighPowerPreview:
		return "high_power_preview"
	case WebcamStatusLowPowerPreview:
		return "low_power_preview"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type Status struct {
	Status WebcamStatus `json:"status"`
	Error  int          `json:"error"`
}

type dateTimeResponse struct {
	Date string `json:"date"`
	Time string `json:"time"`
}
