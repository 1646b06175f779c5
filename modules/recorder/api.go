package recorder

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/zachfi/streamsniffer/pkg/session"
	"github.com/zachfi/streamsniffer/pkg/shoutcast"
)

const (
	pathRecordings = "/api/recordings"
	pathCurrent    = "/api/recordings/current"
)

type startRequest struct {
	URL      string      `json:"url"`
	Folder   string      `json:"folder"`
	Name     string      `json:"name"`
	Duration json.Number `json:"duration"`
	Unit     string      `json:"unit"`
}

type eventResponse struct {
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	StartTime string `json:"start_time"`
}

type sessionResponse struct {
	State        session.State   `json:"state"`
	URL          string          `json:"url"`
	Station      string          `json:"station,omitempty"`
	ContentType  string          `json:"content_type,omitempty"`
	AudioPath    string          `json:"audio_path"`
	MetadataPath string          `json:"metadata_path"`
	StartedAt    time.Time       `json:"started_at"`
	Duration     string          `json:"duration"`
	Progress     int             `json:"progress"`
	Events       []eventResponse `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// RegisterRoutes adds the recording API to router.
func (r *Recorder) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(pathRecordings, r.handleStart).Methods(http.MethodPost)
	router.HandleFunc(pathCurrent, r.handleCurrent).Methods(http.MethodGet)
	router.HandleFunc(pathCurrent, r.handleCancel).Methods(http.MethodDelete)
}

func (r *Recorder) handleStart(w http.ResponseWriter, req *http.Request) {
	var body startRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request: " + err.Error()})
		return
	}

	d, err := session.ParseDuration(body.Duration.String(), body.Unit)
	if err != nil {
		r.writeError(w, err)
		return
	}

	folder := body.Folder
	if folder == "" {
		folder = r.cfg.Dir
	}

	s, err := r.Start(req.Context(), session.Params{
		URL:      body.URL,
		Folder:   folder,
		BaseName: body.Name,
		Duration: d,
	})
	if err != nil {
		r.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newSessionResponse(s))
}

func (r *Recorder) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	s := r.Current()
	if s == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no recording"})
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse(s))
}

func (r *Recorder) handleCancel(w http.ResponseWriter, _ *http.Request) {
	s := r.Current()
	if s == nil || s.State().Terminal() {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no recording in progress"})
		return
	}

	s.Cancel()
	r.logger.Info("recording cancelled", "audio", s.AudioPath)

	writeJSON(w, http.StatusAccepted, newSessionResponse(s))
}

func (r *Recorder) writeError(w http.ResponseWriter, err error) {
	var (
		verr *session.ValidationError
		perr *shoutcast.ProtocolError
		nerr *shoutcast.NetworkError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: verr.Field})
	case errors.Is(err, session.ErrBusy):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &perr), errors.As(err, &nerr):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		r.logger.Error("failed to start recording", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func newSessionResponse(s *session.Session) sessionResponse {
	events := s.Events()

	resp := sessionResponse{
		State:        s.State(),
		URL:          s.Handle.URL,
		Station:      s.Handle.Name,
		ContentType:  s.Handle.ContentType,
		AudioPath:    s.AudioPath,
		MetadataPath: s.MetadataPath,
		StartedAt:    s.StartedAt,
		Duration:     s.Duration.String(),
		Progress:     s.Progress(),
		Events:       make([]eventResponse, 0, len(events)),
	}
	for _, e := range events {
		resp.Events = append(resp.Events, eventResponse{
			Artist:    e.Artist,
			Title:     e.Title,
			StartTime: e.ObservedAt.Format(session.TimeFormat),
		})
	}

	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
