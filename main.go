package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/jawher/mow.cli"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bilbercode/gopro-stream/internal/api"
	"github.com/bilbercode/gopro-stream/internal/camera"
	"github.com/bilbercode/gopro-stream/internal/config"
	"github.com/bilbercode/gopro-stream/internal/ports"
	"github.com/bilbercode/gopro-stream/internal/preview"
	"github.com/bilbercode/gopro-stream/internal/viewer"
	"github.com/bilbercode/gopro-stream/internal/viewer/ffmpeg"
	"github.com/bilbercode/gopro-stream/internal/viewer/opencv"
	"github.com/bilbercode/gopro-stream/internal/webcam"
)

const (
	appName = "gopro-stream"
	appDesc = "configure GoPro cameras as webcams and view their streams"
)

func main() {

	app := cli.App(appName, appDesc)

	configLocation := app.String(cli.StringOpt{
		Name:   "config",
		Desc:   "camera config file (JSON or YAML)",
		EnvVar: "CONFIG_LOCATION",
		Value:  "webcam_config.json",
	})

	httpAddr := app.String(cli.StringOpt{
		Name:   "http",
		Desc:   "listen address of the control API, empty to disable",
		EnvVar: "HTTP_ADDR",
		Value:  ":8080",
	})

	captureBackend := app.String(cli.StringOpt{
		Name:   "capture",
		Desc:   "stream decoder: opencv or ffmpeg",
		EnvVar: "CAPTURE_BACKEND",
		Value:  "opencv",
	})

	displayBackend := app.String(cli.StringOpt{
		Name:   "display",
		Desc:   "frame display: window or web",
		EnvVar: "DISPLAY_BACKEND",
		Value:  "window",
	})

	portStart := app.Int(cli.IntOpt{
		Name:   "port-start",
		Desc:   "first port handed to cameras without an explicit port",
		EnvVar: "PORT_START",
		Value:  ports.DefaultStart,
	})

	runFor := app.String(cli.StringOpt{
		Name:   "run-for",
		Desc:   "stop after this long (e.g. 10m), 0 runs until interrupted",
		EnvVar: "RUN_FOR",
		Value:  "0",
	})

	httpTimeout := app.String(cli.StringOpt{
		Name:   "timeout",
		Desc:   "camera HTTP request timeout",
		EnvVar: "HTTP_TIMEOUT",
		Value:  "10s",
	})

	logLevel := app.String(cli.StringOpt{
		Name:   "log-level",
		Desc:   "log level",
		EnvVar: "LOG_LEVEL",
		Value:  "info",
	})

	logJSON := app.Bool(cli.BoolOpt{
		Name:   "log-json",
		Desc:   "log as JSON",
		EnvVar: "LOG_JSON",
		Value:  false,
	})

	app.Action = func() {
		level, err := log.ParseLevel(*logLevel)
		if err != nil {
			log.WithError(err).Fatal("invalid log level")
		}
		log.SetLevel(level)
		if *logJSON {
			log.SetFormatter(&log.JSONFormatter{})
		}

		duration, err := parseDuration(*runFor)
		if err != nil {
			log.WithError(err).Fatal("invalid --run-for")
		}
		timeout, err := parseDuration(*httpTimeout)
		if err != nil {
			log.WithError(err).Fatal("invalid --timeout")
		}

		cfg, err := config.Load(*configLocation)
		if err != nil {
			log.WithError(err).Fatal("failed to load camera config")
		}

		source, err := captureSource(*captureBackend)
		if err != nil {
			log.WithError(err).Fatal("failed to select capture backend")
		}
		var hub *preview.Hub
		var surface viewer.Surface
		switch *displayBackend {
		case "window":
			gui := opencv.NewSurface()
			defer gui.Close()
			surface = gui
		case "web":
			hub = preview.NewHub(0)
			surface = hub
		default:
			log.Fatalf("unknown display backend %q", *displayBackend)
		}

		alloc := ports.New(*portStart)
		httpClient := &http.Client{Timeout: timeout}

		var sessions []*camera.Session
		for _, cam := range cfg.Cameras {
			session, err := camera.NewSession(camera.Settings{
				Serial:     cam.Serial,
				Port:       cam.Port,
				Resolution: cam.Resolution,
				FOV:        cam.FOV,
			}, alloc,
				camera.WithWebcamOptions(webcam.WithHTTPClient(httpClient)),
				camera.WithSource(source),
				camera.WithSurface(surface),
			)
			if err != nil {
				log.WithError(err).Fatal("invalid camera settings")
			}
			sessions = append(sessions, session)
		}
		manager := camera.NewManager(sessions...)
		server := api.NewServer(manager, hub)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		group, ctx := errgroup.WithContext(ctx)

		if *httpAddr != "" {
			group.Go(func() error {
				return server.Start(ctx, *httpAddr)
			})
		}

		group.Go(func() error {
			if err := manager.Open(ctx); err != nil {
				log.WithError(err).Error("some cameras failed to start")
			}
			log.Info("cameras running, interrupt or POST /api/shutdown to stop")

			select {
			case <-ctx.Done():
			case <-server.Done():
			}

			log.Info("stopping cameras")
			closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := manager.Close(closeCtx); err != nil {
				log.WithError(err).Error("some cameras failed to stop")
			}
			stop()
			return errStopped
		})

		err = group.Wait()
		if err != nil && !errors.Is(err, errStopped) {
			log.WithError(err).Panic("stopped")
		}
	}

	err := app.Run(os.Args)
	if err != nil {
		log.WithError(err).Panic("failed to execute application")
	}
}

var errStopped = errors.New("cameras stopped")

func captureSource(name string) (viewer.Source, error) {
	switch name {
	case "opencv":
		return opencv.Source{}, nil
	case "ffmpeg":
		return ffmpeg.Source{}, nil
	}
	return nil, fmt.Errorf("unknown capture backend %q", name)
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	return time.ParseDuration(value)
}
