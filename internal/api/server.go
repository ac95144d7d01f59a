package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bilbercode/gopro-stream/internal/camera"
	"github.com/bilbercode/gopro-stream/internal/preview"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second
	eventBuffer = 16
)

// Server is the local control surface: camera listing, live previews, metrics and
// the shutdown request that ends a run.
type Server struct {
	manager  *camera.Manager
	hub      *preview.Hub
	router   *gin.Engine
	upgrader websocket.Upgrader
	done     chan struct{}
	once     sync.Once
}

// NewServer builds the router. hub may be nil when frames are rendered elsewhere.
func NewServer(manager *camera.Manager, hub *preview.Hub) *Server {
	s := &Server{
		manager: manager,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().Unix()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/cameras", s.handleListCameras)
		api.GET("/cameras/:serial", s.handleGetCamera)
		api.GET("/cameras/:serial/status", s.handleCameraStatus)
		api.GET("/cameras/:serial/frame", s.handleFrame)
		api.GET("/cameras/:serial/mjpeg", s.handleMJPEG)
		api.POST("/shutdown", s.handleShutdown)
	}

	ws := r.Group("/ws")
	{
		ws.GET("/events", s.handleEvents)
		ws.GET("/cameras/:serial", s.handleFrames)
	}

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Done is closed when a client asks for shutdown.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	group, ctx := errgroup.WithContext(ctx)
	server := http.Server{Addr: addr, Handler: s.router}
	group.Go(func() error {
		log.Infof("control API listening on %s", addr)
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func (s *Server) handleListCameras(c *gin.Context) {
	sessions := s.manager.Sessions()
	infos := make([]camera.Info, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	c.JSON(http.StatusOK, infos)
}

func (s *Server) handleGetCamera(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.Info())
}

func (s *Server) handleCameraStatus(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	status, err := session.Webcam().Status(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	res := cameraStatus{
		Camera:       session.Info(),
		WebcamStatus: status.Status.String(),
		WebcamError:  status.Error,
	}
	if dt, err := session.Webcam().DateTime(ctx); err == nil {
		res.DateTime = &dt
	} else {
		log.WithError(err).WithField("camera", session.Serial()).Debug("camera date/time unavailable")
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleFrame(c *gin.Context) {
	session, ok := s.session(c)
	if !ok || !s.requireHub(c) {
		return
	}
	frame, ok := s.hub.Latest(session.Serial())
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "no frame available"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", frame)
}

func (s *Server) handleMJPEG(c *gin.Context) {
	session, ok := s.session(c)
	if !ok || !s.requireHub(c) {
		return
	}
	frames, cancel := s.hub.Subscribe(session.Serial())
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Stream(func(w io.Writer) bool {
		select {
		case frame, open := <-frames:
			if !open {
				return false
			}
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return false
			}
			if _, err := w.Write(frame); err != nil {
				return false
			}
			_, err := w.Write([]byte("\r\n"))
			return err == nil
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) handleShutdown(c *gin.Context) {
	s.once.Do(func() {
		log.Info("shutdown requested through the control API")
		close(s.done)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events := make(chan *camera.Event, eventBuffer)
	var mu sync.Mutex
	closed := false
	unsubscribe := s.manager.Subscribe(func(ev *camera.Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case events <- ev:
		default:
			log.Debug("event subscriber too slow, dropping event")
		}
	})
	defer func() {
		unsubscribe()
		mu.Lock()
		closed = true
		mu.Unlock()
	}()

	gone := readPump(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleFrames(c *gin.Context) {
	session, ok := s.session(c)
	if !ok || !s.requireHub(c) {
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	frames, cancel := s.hub.Subscribe(session.Serial())
	defer cancel()

	gone := readPump(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case frame, open := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) session(c *gin.Context) (*camera.Session, bool) {
	serial := c.Param("serial")
	session, ok := s.manager.Session(serial)
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: fmt.Sprintf("unknown camera %s", serial)})
		return nil, false
	}
	return session, true
}

func (s *Server) requireHub(c *gin.Context) bool {
	if s.hub == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "web preview is not enabled"})
		return false
	}
	return true
}

// readPump discards client messages and reports when the peer goes away.
func readPump(conn *websocket.Conn) <-chan struct{} {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.WithError(err).Debug("websocket closed")
				}
				return
			}
		}
	}()
	return gone
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("api request")
	}
}
