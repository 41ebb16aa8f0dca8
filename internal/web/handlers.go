package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/ecobrazo/sortarm/internal/debug"
	"github.com/ecobrazo/sortarm/internal/logic/audit"
	"github.com/ecobrazo/sortarm/internal/logic/calibration"
	"github.com/ecobrazo/sortarm/internal/logic/kinematics"
	"github.com/ecobrazo/sortarm/internal/logic/motion"
	"github.com/ecobrazo/sortarm/internal/logic/sorter"
)

// maxBodyBytes bounds request bodies; every endpoint takes a small JSON
// object.
const maxBodyBytes = 64 << 10

// Arm runs moves one at a time. *sorter.Sorter implements it.
type Arm interface {
	Submit(ctx context.Context, req sorter.Request) (sorter.Result, error)
	Status() sorter.Status
}

// Solver computes joint pulses without moving the arm.
type Solver interface {
	Solve(pose kinematics.TargetPose) (kinematics.Solution, error)
}

// ConfigView is what GET /config reports.
type ConfigView struct {
	Geometry  kinematics.Geometry                     `json:"geometry"`
	Joints    map[string]calibration.JointCalibration `json:"joints"`
	Placement map[motion.Category]motion.Placement    `json:"placement"`
	Profiles  motion.Profiles                         `json:"profiles"`
	GrabPose  kinematics.TargetPose                   `json:"grab_pose"`
}

// Deps are the handlers' collaborators. Arm and Solver may be nil, in
// which case their endpoints answer 503.
type Deps struct {
	Broadcaster *StatusBroadcaster
	Arm         Arm
	Solver      Solver
	Log         audit.Log
	Config      ConfigView
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Deps
	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(deps Deps, staticFS fs.FS) *Handlers {
	if deps.Broadcaster == nil {
		deps.Broadcaster = NewStatusBroadcaster()
	}
	if deps.Log == nil {
		deps.Log = audit.Nop{}
	}
	return &Handlers{Deps: deps, staticFS: staticFS}
}

// SolveResponse is the body of a POST /solve answer.
type SolveResponse struct {
	Solution   kinematics.Solution `json:"solution"`
	AuditError string              `json:"audit_error,omitempty"`
}

// MoveResponse is the body of every move answer.
type MoveResponse struct {
	sorter.Result
	Error string `json:"error,omitempty"`
}

// PlaceRequest is the body of POST /move/place and POST /sort.
type PlaceRequest struct {
	Category motion.Category `json:"category"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Warn("web: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// decodeBody decodes a JSON object into v. An empty body leaves v
// untouched when optional is true.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// statusFor maps move and solve errors onto HTTP status codes.
func statusFor(err error) int {
	var aerr *motion.ActuatorError
	switch {
	case errors.Is(err, sorter.ErrBusy), errors.Is(err, motion.ErrInconsistent):
		return http.StatusConflict
	case errors.Is(err, kinematics.ErrInvalidPose), errors.Is(err, motion.ErrUnknownCategory):
		return http.StatusBadRequest
	case errors.Is(err, kinematics.ErrUnreachable):
		return http.StatusUnprocessableEntity
	case errors.As(err, &aerr):
		return http.StatusBadGateway
	case errors.Is(err, sorter.ErrStopped), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// HandleSolve handles POST /solve. It computes pulses for a pose without
// moving the arm.
func (h *Handlers) HandleSolve(w http.ResponseWriter, r *http.Request) {
	if h.Solver == nil {
		http.Error(w, "solver not configured", http.StatusServiceUnavailable)
		return
	}
	var pose kinematics.TargetPose
	if err := decodeBody(w, r, &pose, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sol, err := h.Solver.Solve(pose)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, SolveResponse{Solution: sol})
	case errors.Is(err, kinematics.ErrAudit):
		// The solution stands; only its record was lost.
		writeJSON(w, http.StatusOK, SolveResponse{Solution: sol, AuditError: err.Error()})
	default:
		writeError(w, statusFor(err), err)
	}
}

// HandleHome handles POST /move/home.
func (h *Handlers) HandleHome(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, sorter.Request{Kind: sorter.KindHome})
}

// HandleGrab handles POST /move/grab. An empty body grabs at the
// conveyor pickup point.
func (h *Handlers) HandleGrab(w http.ResponseWriter, r *http.Request) {
	var pose *kinematics.TargetPose
	if err := decodeBody(w, r, &pose, true); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.submit(w, r, sorter.Request{Kind: sorter.KindGrab, Pose: pose})
}

// HandleRelease handles POST /move/release.
func (h *Handlers) HandleRelease(w http.ResponseWriter, r *http.Request) {
	var pose kinematics.TargetPose
	if err := decodeBody(w, r, &pose, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.submit(w, r, sorter.Request{Kind: sorter.KindRelease, Pose: &pose})
}

// HandlePlace handles POST /move/place.
func (h *Handlers) HandlePlace(w http.ResponseWriter, r *http.Request) {
	var req PlaceRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.submit(w, r, sorter.Request{Kind: sorter.KindPlace, Category: req.Category})
}

// HandleSort handles POST /sort: one full cycle. The category, when
// given, replaces the classifier's label.
func (h *Handlers) HandleSort(w http.ResponseWriter, r *http.Request) {
	var req PlaceRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.submit(w, r, sorter.Request{Kind: sorter.KindCycle, Category: req.Category})
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, req sorter.Request) {
	if h.Arm == nil {
		http.Error(w, "arm not configured", http.StatusServiceUnavailable)
		return
	}
	res, err := h.Arm.Submit(r.Context(), req)
	if err != nil {
		h.Broadcaster.Broadcast(LevelError, fmt.Sprintf("%s failed: %v", req.Kind, err))
		writeJSON(w, statusFor(err), MoveResponse{Result: res, Error: err.Error()})
		return
	}
	h.Broadcaster.BroadcastMsg(fmt.Sprintf("%s complete", req.Kind))
	writeJSON(w, http.StatusOK, MoveResponse{Result: res})
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Arm == nil {
		http.Error(w, "arm not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Arm.Status())
}

// HandleAudit handles GET /audit?limit=N and returns the newest records
// last.
func (h *Handlers) HandleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := h.Log.Records()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleConfig returns the active geometry, calibration and profiles.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Config)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatusStream handles GET /status/stream for SSE. The current
// status is sent first so a fresh client does not wait for a transition.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	if h.Arm != nil {
		st := h.Arm.Status()
		data, _ := json.Marshal(StatusEvent{Time: time.Now().Format(time.RFC3339), Level: LevelStatus, Status: &st})
		w.Write([]byte("data: " + string(data) + "\n\n"))
	}
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
