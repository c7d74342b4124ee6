package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/camera.preview/internal/db"
	"github.com/banshee-data/camera.preview/internal/device"
	"github.com/banshee-data/camera.preview/internal/httputil"
	"github.com/banshee-data/camera.preview/internal/preview"
	"github.com/banshee-data/camera.preview/internal/security"
	"github.com/banshee-data/camera.preview/internal/session"
	"github.com/banshee-data/camera.preview/internal/tiling"
	"github.com/banshee-data/camera.preview/internal/version"
)

const maxBodyBytes = 1 << 16

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		httputil.MethodNotAllowed(w)
		return false
	}
	return true
}

// writeSessionError maps session and preview errors onto status codes.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotActive), errors.Is(err, session.ErrBusy):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, session.ErrNotSupported), errors.Is(err, preview.ErrNoPlan):
		httputil.WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, tiling.ErrOutsideBounds):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, device.ErrUnknownMachine), errors.Is(err, preview.ErrUnsupportedModel):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, device.ErrCameraLink):
		httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

// captureResult is the reply to every capture-like request.
type captureResult struct {
	Captured bool           `json:"captured"`
	Status   session.Status `json:"status"`
}

func (s *Server) writeCapture(w http.ResponseWriter, ok bool, err error) {
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSONOK(w, captureResult{Captured: ok, Status: s.ctrl.Status()})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

type startResult struct {
	Started bool           `json:"started"`
	Status  session.Status `json:"status"`
}

func (s *Server) startPreview(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var info device.Info
	if !decode(w, r, &info) {
		return
	}
	if info.Serial == "" {
		if s.device == nil {
			httputil.BadRequest(w, "serial is required")
			return
		}
		info = *s.device
	}
	ok, err := s.ctrl.Start(r.Context(), info)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSONOK(w, startResult{Started: ok, Status: s.ctrl.Status()})
}

func (s *Server) endPreview(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	wait := true
	if v := r.URL.Query().Get("wait"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.BadRequest(w, "invalid 'wait' parameter")
			return
		}
		wait = b
	}
	s.ctrl.End(r.Context(), wait)
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) capturePoint(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var p tiling.Point
	if !decode(w, r, &p) {
		return
	}
	ok, err := s.ctrl.CapturePoint(r.Context(), p)
	s.writeCapture(w, ok, err)
}

// readRect accepts any two opposite corners.
func readRect(w http.ResponseWriter, r *http.Request) (tiling.Rect, bool) {
	var in tiling.Rect
	if !decode(w, r, &in) {
		return tiling.Rect{}, false
	}
	rect := tiling.RectFromCorners(in.Min.X, in.Min.Y, in.Max.X, in.Max.Y)
	if rect.Width() <= 0 || rect.Height() <= 0 {
		httputil.BadRequest(w, "region must have a positive width and height")
		return tiling.Rect{}, false
	}
	return rect, true
}

func (s *Server) captureRegion(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	rect, ok := readRect(w, r)
	if !ok {
		return
	}
	captured, err := s.ctrl.CaptureRegion(r.Context(), rect)
	s.writeCapture(w, captured, err)
}

func (s *Server) captureFullArea(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	ok, err := s.ctrl.CaptureFullArea(r.Context())
	s.writeCapture(w, ok, err)
}

func (s *Server) requestStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.ctrl.RequestStop()
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) switchMode(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Mode preview.Mode `json:"mode"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Mode != preview.ModeRegion && req.Mode != preview.ModeFullArea {
		httputil.BadRequest(w, fmt.Sprintf("mode must be %q or %q", preview.ModeRegion, preview.ModeFullArea))
		return
	}
	if _, err := s.ctrl.SwitchMode(r.Context(), req.Mode); err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) toggleLive(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.ctrl.ToggleLiveFullArea()
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) resetObjectHeight(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	ok, err := s.ctrl.ResetObjectHeight(r.Context())
	s.writeCapture(w, ok, err)
}

func (s *Server) reloadLeveling(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.ctrl.ReloadLevelingOffset(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

// showPlan renders the tiles a region capture would take, as a PNG plot or
// with ?format=json as the tile list.
func (s *Server) showPlan(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	var c [4]float64
	for i, name := range []string{"x1", "y1", "x2", "y2"} {
		v, err := strconv.ParseFloat(q.Get(name), 64)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid '%s' parameter", name))
			return
		}
		c[i] = v
	}
	plan, err := s.ctrl.PlanRegion(tiling.RectFromCorners(c[0], c[1], c[2], c[3]))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if q.Get("format") == "json" {
		httputil.WriteJSONOK(w, plan)
		return
	}
	httputil.WritePNG(w, func(out io.Writer) error {
		return tiling.PlotPlan(out, plan.Tiles, plan.Footprint, plan.Bounds)
	})
}

// streamEvents sends the current status, then every hub event, as
// server-sent events until the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}
	id, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, Event{Type: EventStatus, Data: s.ctrl.Status()}); err != nil {
		return
	}
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func (s *Server) answerPrompt(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/preview/prompts/")
	if id == "" || strings.Contains(id, "/") {
		httputil.NotFound(w, "prompt not found")
		return
	}
	var a Answer
	if !decode(w, r, &a) {
		return
	}
	if err := s.hub.Answer(id, a); err != nil {
		if errors.Is(err, ErrUnknownPrompt) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "answered"})
}

func (s *Server) showCanvas(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.canvas == nil {
		httputil.NotFound(w, "no canvas")
		return
	}
	httputil.WritePNG(w, s.canvas.WritePNG)
}

func (s *Server) clearCanvas(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.canvas == nil {
		httputil.NotFound(w, "no canvas")
		return
	}
	s.canvas.Clear()
	httputil.WriteJSONOK(w, map[string]bool{"clean": true})
}

// saveCanvas writes the canvas as a PNG under the snapshot directory.
func (s *Server) saveCanvas(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.canvas == nil || s.snapshotDir == "" {
		httputil.NotFound(w, "canvas saving is disabled")
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	name := security.SanitizeFilename(strings.TrimSuffix(req.Name, ".png")) + ".png"
	path := filepath.Join(s.snapshotDir, name)
	if err := security.ValidatePathWithinDirectory(path, s.snapshotDir); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := s.canvas.WritePNG(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to encode canvas: %v", err))
		return
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to save canvas: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.sessions == nil {
		httputil.WriteJSONOK(w, []struct{}{})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	recs, err := s.sessions.RecentSessions(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list sessions: %v", err))
		return
	}
	if recs == nil {
		recs = []db.SessionRecord{}
	}
	httputil.WriteJSONOK(w, recs)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"settle_margin":        s.cfg.GetSettleMargin(),
		"settle_latency":       s.cfg.GetSettleLatency().String(),
		"overlap_ratio":        s.cfg.GetOverlapRatio(),
		"live_interval":        s.cfg.GetLiveInterval().String(),
		"movement_speed_level": s.cfg.GetMovementSpeedLevel(),
		"preview_ppmm":         s.cfg.GetPreviewPPMM(),
		"camera_ppmm":          s.cfg.GetCameraPPMM(),
		"camera_cable_alert":   s.cfg.GetCameraCableAlert(),
	})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
