package api

import (
	"time"

	"github.com/bilbercode/gopro-stream/internal/camera"
)

type cameraStatus struct {
	Camera       camera.Info `json:"camera"`
	WebcamStatus string      `json:"webcam_status"`
	WebcamError  int         `json:"webcam_error"`
	DateTime     *time.Time  `json:"date_time,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
