// Package api serves the preview session to the design tool over HTTP: JSON
// requests for the session operations, a server-sent event stream for
// status, progress, errors and prompts, and PNG renders of the canvas.
package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/camera.preview/internal/config"
	"github.com/banshee-data/camera.preview/internal/db"
	"github.com/banshee-data/camera.preview/internal/device"
	"github.com/banshee-data/camera.preview/internal/monitoring"
	"github.com/banshee-data/camera.preview/internal/session"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Canvas is the composited preview image.
type Canvas interface {
	WritePNG(w io.Writer) error
	Clear()
}

// SessionLister lists logged sessions. *db.DB implements it.
type SessionLister interface {
	RecentSessions(ctx context.Context, limit int) ([]db.SessionRecord, error)
}

// Options configure a Server. Controller and Hub are required.
type Options struct {
	Controller *session.Controller
	Hub        *Hub
	Canvas     Canvas
	Sessions   SessionLister
	Config     *config.PreviewConfig
	// Device is started when a start request names no machine.
	Device *device.Info
	// SnapshotDir is where canvas saves are written. Empty disables saving.
	SnapshotDir string
}

type Server struct {
	ctrl        *session.Controller
	hub         *Hub
	canvas      Canvas
	sessions    SessionLister
	cfg         *config.PreviewConfig
	device      *device.Info
	snapshotDir string
}

func NewServer(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.EmptyPreviewConfig()
	}
	return &Server{
		ctrl:        opts.Controller,
		hub:         opts.Hub,
		canvas:      opts.Canvas,
		sessions:    opts.Sessions,
		cfg:         cfg,
		device:      opts.Device,
		snapshotDir: opts.SnapshotDir,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/preview/status", s.showStatus)
	mux.HandleFunc("/api/preview/start", s.startPreview)
	mux.HandleFunc("/api/preview/end", s.endPreview)
	mux.HandleFunc("/api/preview/capture/point", s.capturePoint)
	mux.HandleFunc("/api/preview/capture/region", s.captureRegion)
	mux.HandleFunc("/api/preview/capture/full", s.captureFullArea)
	mux.HandleFunc("/api/preview/stop", s.requestStop)
	mux.HandleFunc("/api/preview/mode", s.switchMode)
	mux.HandleFunc("/api/preview/live", s.toggleLive)
	mux.HandleFunc("/api/preview/height/reset", s.resetObjectHeight)
	mux.HandleFunc("/api/preview/leveling/reload", s.reloadLeveling)
	mux.HandleFunc("/api/preview/plan", s.showPlan)
	mux.HandleFunc("/api/preview/events", s.streamEvents)
	mux.HandleFunc("/api/preview/prompts/", s.answerPrompt)
	mux.HandleFunc("/api/preview/canvas.png", s.showCanvas)
	mux.HandleFunc("/api/preview/canvas/clear", s.clearCanvas)
	mux.HandleFunc("/api/preview/canvas/save", s.saveCanvas)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}
