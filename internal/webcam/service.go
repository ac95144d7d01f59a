package webcam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	addressTemplate = "172.2%c.1%c%c.51"
	controlPort     = 8080
	dateTimeLayout  = "2006_1_2 15_4_5"
)

var requests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name:      "webcam_requests_total",
	Namespace: "gopro_stream",
	Help:      "number of HTTP requests sent to cameras",
}, []string{"endpoint", "code"})

type client struct {
	sync.Mutex
	serial  string
	baseURL string
	http    *http.Client
	log     *log.Entry
	state   State
}

type Option func(*client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *client) {
		cl.http = c
	}
}

// WithBaseURL overrides the address derived from the serial.
func WithBaseURL(base string) Option {
	return func(cl *client) {
		cl.baseURL = base
	}
}

func WithLogger(entry *log.Entry) Option {
	return func(cl *client) {
		cl.log = entry
	}
}

// Address returns the camera's IP on its USB network link. Only the last three
// characters of the serial are used.
func Address(serial string) (string, error) {
	if len(serial) < 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSerial, serial)
	}
	tail := serial[len(serial)-3:]
	return fmt.Sprintf(addressTemplate, tail[0], tail[1], tail[2]), nil
}

func NewClient(serial string, opts ...Option) (Client, error) {
	ip, err := Address(serial)
	if err != nil {
		return nil, err
	}

	c := &client{
		Mutex:   sync.Mutex{},
		serial:  serial,
		baseURL: fmt.Sprintf("http://%s:%d/gopro/", ip, controlPort),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log.WithField("camera", serial),
		state:   StateDisabled,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL[len(c.baseURL)-1] != '/' {
		c.baseURL += "/"
	}
	return c, nil
}

func (c *client) BaseURL() string {
	return c.baseURL
}

func (c *client) State() State {
	c.Lock()
	defer c.Unlock()
	return c.state
}

// Enable readies the camera for webcam mode. The reply status is not treated as a
// failure: a camera already out of wired USB control answers with an error code but is
// still usable. Transport errors are returned.
func (c *client) Enable(ctx context.Context) error {
	c.Lock()
	defer c.Unlock()

	res, _, err := c.send(ctx, EndpointWiredUSB, url.Values{"p": []string{"0"}})
	if err != nil {
		return err
	}
	if !success(res.StatusCode) {
		c.log.WithField("code", res.StatusCode).Warn("camera rejected wired USB disable, continuing")
	}
	c.state = StateReady
	return nil
}

func (c *client) Preview(ctx context.Context) error {
	c.Lock()
	defer c.Unlock()

	if err := c.require(StateReady, "preview"); err != nil {
		return err
	}
	c.log.Info("starting preview")
	if _, err := c.sendValidated(ctx, EndpointPreview, nil); err != nil {
		return err
	}
	c.state = StateLowPowerPreview
	return nil
}

func (c *client) Start(ctx context.Context, opts ...StartOption) error {
	c.Lock()
	defer c.Unlock()

	if err := c.require(StateReady, "start"); err != nil {
		return err
	}
	params := url.Values{}
	for _, opt := range opts {
		opt(params)
	}
	c.log.WithField("params", params.Encode()).Info("starting webcam")
	if _, err := c.sendValidated(ctx, EndpointStart, params); err != nil {
		return err
	}
	c.state = StateHighPowerPreview
	c.log.Info("webcam started")
	return nil
}

func (c *client) Stop(ctx context.Context) error {
	c.Lock()
	defer c.Unlock()

	if err := c.require(StateHighPowerPreview, "stop"); err != nil {
		return err
	}
	c.log.Info("stopping webcam")
	if _, err := c.sendValidated(ctx, EndpointStop, nil); err != nil {
		return err
	}
	c.state = StateReady
	return nil
}

func (c *client) Disable(ctx context.Context) error {
	c.Lock()
	defer c.Unlock()

	c.log.Info("disabling webcam")
	if _, err := c.sendValidated(ctx, EndpointExit, nil); err != nil {
		return err
	}
	c.state = StateDisabled
	return nil
}

func (c *client) Status(ctx context.Context) (*Status, error) {
	body, err := c.sendValidated(ctx, EndpointStatus, nil)
	if err != nil {
		return nil, err
	}
	var status Status
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to decode webcam status: %w", err)
	}
	return &status, nil
}

func (c *client) DateTime(ctx context.Context) (time.Time, error) {
	body, err := c.sendValidated(ctx, EndpointDateTime, nil)
	if err != nil {
		return time.Time{}, err
	}
	var dt dateTimeResponse
	if err := json.Unmarshal(body, &dt); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode camera date/time: %w", err)
	}
	t, err := time.Parse(dateTimeLayout, dt.Date+" "+dt.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse camera date/time %q %q: %w", dt.Date, dt.Time, err)
	}
	return t, nil
}

func (c *client) require(want State, op string) error {
	if c.state != want {
		return fmt.Errorf("%w: %s requires %s, camera is %s", ErrInvalidStateTransition, op, want, c.state)
	}
	return nil
}

func (c *client) sendValidated(ctx context.Context, endpoint Endpoint, params url.Values) ([]byte, error) {
	res, body, err := c.send(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	if !success(res.StatusCode) {
		return nil, &HTTPError{Endpoint: endpoint, StatusCode: res.StatusCode}
	}
	return body, nil
}

func (c *client) send(ctx context.Context, endpoint Endpoint, params url.Values) (*http.Response, []byte, error) {
	target := c.baseURL + string(endpoint)
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	c.log.Debugf("sending %s", target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		requests.WithLabelValues(string(endpoint), "error").Inc()
		return nil, nil, fmt.Errorf("failed to reach camera %s at %s: %w", c.serial, endpoint, err)
	}
	body, err := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response for %s: %w", endpoint, err)
	}
	requests.WithLabelValues(string(endpoint), strconv.Itoa(res.StatusCode)).Inc()

	c.log.Debugf("HTTP return code %d", res.StatusCode)
	if c.log.Logger.IsLevelEnabled(log.DebugLevel) {
		var pretty bytes.Buffer
		if json.Indent(&pretty, body, "", "    ") == nil {
			c.log.Debug(pretty.String())
		}
	}
	return res, body, nil
}

func success(code int) bool {
	return code >= 200 && code < 300
}

type StartOption func(url.Values)

func WithPort(port int) StartOption {
	return func(v url.Values) {
		v.Set("port", strconv.Itoa(port))
	}
}

func WithResolution(res Resolution) StartOption {
	return func(v url.Values) {
		v.Set("res", strconv.Itoa(int(res)))
	}
}

func WithFOV(fov FOV) StartOption {
	return func(v url.Values) {
		v.Set("fov", strconv.Itoa(int(fov)))
	}
}
