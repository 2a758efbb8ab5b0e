// SPDX-License-Identifier: MIT

// Package httpapi implements the REST surface for scripted automation:
// move, click, type, scroll, drag, shortcut, and screenshot, each a thin
// translation layer on top of internal/input and the session registry.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/deskbridge/rfbgateway"
	"github.com/deskbridge/rfbgateway/internal/imagecodec"
	"github.com/deskbridge/rfbgateway/internal/input"
	"github.com/deskbridge/rfbgateway/internal/registry"
)

// API wires the REST surface to a session registry and image encoder.
type API struct {
	registry *registry.Registry
	encoder  imagecodec.Encoder
	logger   rfb.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the API's logger.
func WithLogger(l rfb.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New constructs an API backed by reg.
func New(reg *registry.Registry, encoder imagecodec.Encoder, opts ...Option) *API {
	a := &API{registry: reg, encoder: encoder, logger: &rfb.NoOpLogger{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register mounts the REST routes on router under the
// /sessions/{host}/{port} prefix.
func (a *API) Register(router *mux.Router) {
	sub := router.PathPrefix("/sessions/{host}/{port}").Subrouter()
	sub.HandleFunc("/move", a.handleMove).Methods(http.MethodPost)
	sub.HandleFunc("/click", a.handleClick).Methods(http.MethodPost)
	sub.HandleFunc("/type", a.handleType).Methods(http.MethodPost)
	sub.HandleFunc("/scroll", a.handleScroll).Methods(http.MethodPost)
	sub.HandleFunc("/drag", a.handleDrag).Methods(http.MethodPost)
	sub.HandleFunc("/shortcut", a.handleShortcut).Methods(http.MethodPost)
	sub.HandleFunc("/screenshot", a.handleScreenshot).Methods(http.MethodGet)
}

func (a *API) surfaceFor(w http.ResponseWriter, r *http.Request) (*input.Surface, bool) {
	vars := mux.Vars(r)
	host, port := vars["host"], vars["port"]
	logger := rfb.WithSession(a.logger, host, port)

	session, err := a.registry.GetOrCreate(r.Context(), host, port)
	if err != nil {
		logger.Warn("session unavailable for REST action", rfb.ErrorField(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "VNC connection failed"})
		return nil, false
	}
	return input.New(session, logger), true
}

type moveRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (a *API) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	surface, ok := a.surfaceFor(w, r)
	if !ok {
		return
	}
	if err := surface.Move(r.Context(), toUint16(req.X), toUint16(req.Y), nil); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "VNC connection failed"})
		return
	}
	writeSuccess(w)
}

type clickRequest struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Button int `json:"button"`
}

func (a *API) handleClick(w http.ResponseWriter, r *http.Request) {
	req := clickRequest{Button: 1}
	if !decodeJSON(w, r, &req) {
		return
	}
	surface, ok := a.surfaceFor(w, r)
	if !ok {
		return
	}
	if err := surface.Click(r.Context(), toUint16(req.X), toUint16(req.Y), req.Button); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "VNC connection failed"})
		return
	}
	writeSuccess(w)
}

type typeRequest struct {
	Text  string  `json:"text"`
	Delay float64 `json:"delay"`
}

func (a *API) handleType(w http.ResponseWriter, r *http.Request) {
	req := typeRequest{Delay: 0.05}
	if !decodeJSON(w, r, &req) {
		return
	}
	surface, ok := a.surfaceFor(w, r)
	if !ok {
		return
	}
	if err := surface.Text(r.Context(), req.Text, secondsToDuration(req.Delay)); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "VNC connection failed"})
		return
	}
	writeSuccess(w)
}

type scrollRequest struct {
	Direction string `json:"direction"`
	X         *int   `json:"x"`
	Y         *int   `json:"y"`
}

func (a *API) handleScroll(w http.ResponseWriter, r *http.Request) {
	var req scrollRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	surface, ok := a.surfaceFor(w, r)
	if !ok {
		return
	}

	width, height := surface.Size()
	x, y := width/2, height/2
	if req.X != nil {
		x = toUint16(*req.X)
	}
	if req.Y != nil {
		y = toUint16(*req.Y)
	}

	if err := surface.Scroll(r.Context(), x, y, req.Direction); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "VNC connection failed"})
		return
	}
	writeSuccess(w)
}

type dragRequest struct {
	XStart int     `json:"x_start"`
	YStart int     `json:"y_start"`
	XEnd   int     `json:"x_end"`
	YEnd   int     `json:"y_end"`
	Button int     `json:"button"`
	Delay  float64 `json:"delay"`
}

func (a *API) handleDrag(w http.ResponseWriter, r *http.Request) {
	req := dragRequest{Button: 1, Delay: 0.5}
	if !decodeJSON(w, r, &req) {
		return
	}
	surface, ok := a.surfaceFor(w, r)
	if !ok {
		return
	}
	err := surface.Drag(r.Context(), toUint16(req.XStart), toUint16(req.YStart),
		toUint16(req.XEnd), toUint16(req.YEnd), req.Button, secondsToDuration(req.Delay))
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "VNC connection failed"})
		return
	}
	writeSuccess(w)
}

type shortcutRequest struct {
	Keys []string `json:"keys"`
}

func (a *API) handleShortcut(w http.ResponseWriter, r *http.Request) {
	var req shortcutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	surface, ok := a.surfaceFor(w, r)
	if !ok {
		return
	}
	if err := surface.Shortcut(r.Context(), req.Keys); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "VNC connection failed"})
		return
	}
	writeSuccess(w)
}

func (a *API) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	session, err := a.registry.GetOrCreate(r.Context(), vars["host"], vars["port"])
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "VNC connection failed"})
		return
	}

	fb := session.Framebuffer()
	width, height := fb.Size()
	pixels, err := fb.SnapshotBBox(rfb.Rect{X: 0, Y: 0, W: width, H: height})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "VNC connection failed"})
		return
	}

	png, err := a.encoder.EncodePNG(pixels, int(width), int(height))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to encode screenshot"})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func toUint16(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
