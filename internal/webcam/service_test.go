package webcam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCamera struct {
	sync.Mutex
	requests []*url.URL
	codes    map[string]int
	bodies   map[string]string
}

func newFakeCamera(t *testing.T) (*fakeCamera, *httptest.Server) {
	fc := &fakeCamera{codes: map[string]int{}, bodies: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fc.Lock()
		defer fc.Unlock()
		fc.requests = append(fc.requests, r.URL)
		path := strings.TrimPrefix(r.URL.Path, "/gopro/")
		code, ok := fc.codes[path]
		if !ok {
			code = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		body, ok := fc.bodies[path]
		if !ok {
			body = "{}"
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return fc, srv
}

func (fc *fakeCamera) paths() []string {
	fc.Lock()
	defer fc.Unlock()
	var out []string
	for _, u := range fc.requests {
		out = append(out, strings.TrimPrefix(u.Path, "/gopro/"))
	}
	return out
}

func (fc *fakeCamera) last() *url.URL {
	fc.Lock()
	defer fc.Unlock()
	return fc.requests[len(fc.requests)-1]
}

func newTestClient(t *testing.T, srv *httptest.Server) Client {
	c, err := NewClient("C3441234567ABC", WithBaseURL(srv.URL+"/gopro"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestAddress(t *testing.T) {
	ip, err := Address("C3441234567ABC")
	require.NoError(t, err)
	assert.Equal(t, "172.2A.1BC.51", ip)

	ip, err = Address("456")
	require.NoError(t, err)
	assert.Equal(t, "172.24.156.51", ip)

	_, err = Address("45")
	assert.ErrorIs(t, err, ErrInvalidSerial)
}

func TestNewClientDerivesBaseURL(t *testing.T) {
	c, err := NewClient("C123456789456")
	require.NoError(t, err)
	assert.Equal(t, "http://172.24.156.51:8080/gopro/", c.BaseURL())
	assert.Equal(t, StateDisabled, c.State())

	_, err = NewClient("12")
	assert.ErrorIs(t, err, ErrInvalidSerial)
}

func TestParseSettings(t *testing.T) {
	res, err := ParseResolution("1080p")
	require.NoError(t, err)
	assert.Equal(t, Resolution1080p, res)
	assert.Equal(t, 12, int(res))

	res, err = ParseResolution("720P")
	require.NoError(t, err)
	assert.Equal(t, 7, int(res))

	_, err = ParseResolution("4K")
	assert.ErrorIs(t, err, ErrInvalidSetting)

	cases := map[string]int{"LINEAR": 4, "narrow": 2, "SuperView": 3, "WIDE": 0}
	for name, code := range cases {
		fov, err := ParseFOV(name)
		require.NoError(t, err, name)
		assert.Equal(t, code, int(fov), name)
	}

	_, err = ParseFOV("fisheye")
	assert.ErrorIs(t, err, ErrInvalidSetting)
	_, err = ParseFOV("")
	assert.ErrorIs(t, err, ErrInvalidSetting)
}

func TestSettingStrings(t *testing.T) {
	assert.Equal(t, "1080p", Resolution1080p.String())
	assert.Equal(t, "720p", Resolution720p.String())
	assert.Equal(t, "resolution(3)", Resolution(3).String())
	for name, fov := range fovNames {
		assert.Equal(t, name, fov.String())
	}
	assert.Equal(t, "fov(9)", FOV(9).String())
	assert.Equal(t, "high_power_preview", StateHighPowerPreview.String())
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	fc, srv := newFakeCamera(t)
	c := newTestClient(t, srv)

	require.NoError(t, c.Enable(ctx))
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, "0", fc.last().Query().Get("p"))

	require.NoError(t, c.Start(ctx, WithPort(8554), WithResolution(Resolution1080p), WithFOV(FOVLinear)))
	assert.Equal(t, StateHighPowerPreview, c.State())
	q := fc.last().Query()
	assert.Equal(t, "8554", q.Get("port"))
	assert.Equal(t, "12", q.Get("res"))
	assert.Equal(t, "4", q.Get("fov"))

	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateReady, c.State())

	require.NoError(t, c.Disable(ctx))
	assert.Equal(t, StateDisabled, c.State())

	assert.Equal(t, []string{
		"camera/control/wired_usb",
		"webcam/start",
		"webcam/stop",
		"webcam/exit",
	}, fc.paths())
}

func TestStartOmitsUnsetParameters(t *testing.T) {
	ctx := context.Background()
	fc, srv := newFakeCamera(t)
	c := newTestClient(t, srv)

	require.NoError(t, c.Enable(ctx))
	require.NoError(t, c.Start(ctx, WithFOV(FOVWide)))

	q := fc.last().Query()
	assert.False(t, q.Has("port"))
	assert.False(t, q.Has("res"))
	assert.Equal(t, "0", q.Get("fov"))
}

func TestStopTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	fc, srv := newFakeCamera(t)
	c := newTestClient(t, srv)

	require.NoError(t, c.Enable(ctx))
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop(ctx))

	before := len(fc.paths())
	err := c.Stop(ctx)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Len(t, fc.paths(), before, "rejected transition must not reach the camera")
	assert.Equal(t, StateReady, c.State())
}

func TestStartRequiresReady(t *testing.T) {
	ctx := context.Background()
	fc, srv := newFakeCamera(t)
	c := newTestClient(t, srv)

	assert.ErrorIs(t, c.Start(ctx), ErrInvalidStateTransition)
	assert.ErrorIs(t, c.Preview(ctx), ErrInvalidStateTransition)
	assert.Empty(t, fc.paths())
}

func TestPreview(t *testing.T) {
	ctx := context.Background()
	fc, srv := newFakeCamera(t)
	c := newTestClient(t, srv)

	require.NoError(t, c.Enable(ctx))
	require.NoError(t, c.Preview(ctx))
	assert.Equal(t, StateLowPowerPreview, c.State())
	assert.Equal(t, "webcam/preview", fc.paths()[1])

	assert.ErrorIs(t, c.Start(ctx), ErrInvalidStateTransition)
	require.NoError(t, c.Disable(ctx))
	assert.Equal(t, StateDisabled, c.State())
}

func TestEnableIgnoresErrorStatus(t *testing.T) {
	ctx := context.Background()
	fc, srv := newFakeCamera(t)
	fc.codes["camera/control/wired_usb"] = http.StatusForbidden
	c := newTestClient(t, srv)

	require.NoError(t, c.Enable(ctx))
	assert.Equal(t, StateReady, c.State())
}

func TestEnableReturnsTransportError(t *testing.T) {
	_, srv := newFakeCamera(t)
	c := newTestClient(t, srv)
	srv.Close()

	err := c.Enable(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateDisabled, c.State())
}

func TestNonSuccessStatusIsHTTPError(t *testing.T) {
	ctx := context.Background()
	fc, srv := newFakeCamera(t)
	fc.codes["webcam/start"] = http.StatusInternalServerError
	c := newTestClient(t, srv)

	require.NoError(t, c.Enable(ctx))
	err := c.Start(ctx, WithPort(9000))

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, EndpointStart, httpErr.Endpoint)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, StateReady, c.State())
}

func TestDisableFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	fc, srv := newFakeCamera(t)
	fc.codes["webcam/exit"] = http.StatusBadRequest
	c := newTestClient(t, srv)

	require.NoError(t, c.Enable(ctx))
	var httpErr *HTTPError
	assert.ErrorAs(t, c.Disable(ctx), &httpErr)
	assert.Equal(t, StateReady, c.State())
}

func TestStatusAndDateTime(t *testing.T) {
	ctx := context.Background()
	fc, srv := newFakeCamera(t)
	fc.bodies["webcam/status"] = `{"status": 2, "error": 0}`
	fc.bodies["camera/get_date_time"] = `{"date": "2023_1_31", "time": "14_56_54", "tzone": 0, "dst": 0}`
	c := newTestClient(t, srv)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, WebcamStatusHighPowerPreview, status.Status)
	assert.Equal(t, 0, status.Error)

	dt, err := c.DateTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, time.January, 31, 14, 56, 54, 0, time.UTC), dt)
}

func TestStatusError(t *testing.T) {
	fc, srv := newFakeCamera(t)
	fc.codes["webcam/status"] = http.StatusServiceUnavailable
	c := newTestClient(t, srv)

	_, err := c.Status(context.Background())
	var httpErr *HTTPError
	assert.ErrorAs(t, err, &httpErr)
}
