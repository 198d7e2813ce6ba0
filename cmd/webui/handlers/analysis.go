package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/23skdu/longbow-lens/internal/inference"
	"github.com/23skdu/longbow-lens/internal/inspect"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/session"
)

// maxBodyBytes bounds the size of JSON request bodies.
const maxBodyBytes = 1 << 20

// API serves the analysis endpoints backed by one session.
type API struct {
	Session     *session.Session
	WaitTimeout time.Duration
}

func NewAPI(s *session.Session, waitTimeout time.Duration) *API {
	return &API{Session: s, WaitTimeout: waitTimeout}
}

// Register mounts the API under mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/analyze", a.AnalyzeHandler())
	mux.HandleFunc("/api/state", a.StateHandler())
	mux.HandleFunc("/api/attention", a.AttentionHandler())
	mux.HandleFunc("/api/trajectory", a.TrajectoryHandler())
	mux.HandleFunc("/api/select", a.SelectHandler())
}

// SelectRequest changes any subset of the current selection.
type SelectRequest struct {
	Layer *int `json:"layer,omitempty"`
	Head  *int `json:"head,omitempty"`
	Token *int `json:"token,omitempty"`
}

// AnalyzeHandler submits a prompt. By default it waits for the analysis to
// settle and returns the snapshot; with ?wait=false it answers 202 at once.
func (a *API) AnalyzeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req inference.Request
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, &inference.ValidationError{Field: "body", Reason: err.Error()})
			return
		}

		gen, err := a.Session.Submit(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}

		if r.URL.Query().Get("wait") == "false" {
			writeJSON(w, http.StatusAccepted, a.Session.Snapshot())
			return
		}

		ctx := r.Context()
		if a.WaitTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.WaitTimeout)
			defer cancel()
		}

		snap, err := a.Session.Wait(ctx, gen)
		switch {
		case errors.Is(err, session.ErrSuperseded):
			writeDetail(w, http.StatusConflict, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeJSON(w, http.StatusAccepted, snap)
		case err != nil:
			writeError(w, err)
		case snap.State == session.StateFailed:
			RecordError("service")
			writeDetail(w, http.StatusBadGateway, snap.Error)
		default:
			writeJSON(w, http.StatusOK, snap)
		}
	}
}

func (a *API) StateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, a.Session.Snapshot())
	}
}

// AttentionHandler returns the heatmap of the current selection. The layer
// and head query parameters select a new head first.
func (a *API) AttentionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		q := r.URL.Query()
		if q.Has("layer") || q.Has("head") {
			sel := a.Session.Snapshot().Selection
			layer, err := intParam(q.Get("layer"), sel.Layer)
			if err != nil {
				writeError(w, &inference.ValidationError{Field: "layer", Reason: err.Error()})
				return
			}
			head, err := intParam(q.Get("head"), sel.Head)
			if err != nil {
				writeError(w, &inference.ValidationError{Field: "head", Reason: err.Error()})
				return
			}
			if err := a.Session.SelectAttention(layer, head); err != nil {
				writeError(w, err)
				return
			}
		}

		hm, err := a.Session.Heatmap()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, hm)
	}
}

// TrajectoryHandler returns the chart of the selected token, changing the
// selection first when ?token= is given.
func (a *API) TrajectoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		if raw := r.URL.Query().Get("token"); raw != "" {
			token, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, &inference.ValidationError{Field: "token", Reason: "must be an integer"})
				return
			}
			if err := a.Session.SelectToken(token); err != nil {
				writeError(w, err)
				return
			}
		}

		tr, err := a.Session.Trajectory()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tr)
	}
}

func (a *API) SelectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req SelectRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, &inference.ValidationError{Field: "body", Reason: err.Error()})
			return
		}
		if err := applySelection(a.Session, req); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a.Session.Snapshot().Selection)
	}
}

func applySelection(s *session.Session, req SelectRequest) error {
	if req.Layer != nil || req.Head != nil {
		sel := s.Snapshot().Selection
		layer, head := sel.Layer, sel.Head
		if req.Layer != nil {
			layer = *req.Layer
		}
		if req.Head != nil {
			head = *req.Head
		}
		if err := s.SelectAttention(layer, head); err != nil {
			return err
		}
	}
	if req.Token != nil {
		return s.SelectToken(*req.Token)
	}
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	return n, nil
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) (int, string) {
	var (
		verr *inference.ValidationError
		serr *inference.ServiceError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, inspect.ErrIndexOutOfRange):
		return http.StatusBadRequest, "index_out_of_range"
	case errors.Is(err, session.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.As(err, &serr):
		return http.StatusBadGateway, "service"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := statusOf(err)
	RecordError(kind)
	if status >= http.StatusInternalServerError {
		logger.Log.Error("API error", "type", kind, "error", err)
	}
	writeDetail(w, status, err.Error())
}

// writeDetail answers with a {"detail": msg} body, the shape the inference
// service uses for its own errors.
func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to encode response", "error", err)
	}
}
