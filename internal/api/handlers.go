package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spyrothon/graphics-sub000/internal/obs"
	"github.com/spyrothon/graphics-sub000/internal/storage"
	"github.com/spyrothon/graphics-sub000/internal/timing"
	"github.com/spyrothon/graphics-sub000/internal/transitions"
)

// OriginatorHeader carries the control client's instance ID.
const OriginatorHeader = "X-Originator"

// originator returns the calling client's ID, minting one for clients that
// did not send it.
func originator(r *http.Request) string {
	if o := r.Header.Get(OriginatorHeader); o != "" {
		return o
	}
	return uuid.NewString()
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var reqErr *obs.RequestError
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, timing.ErrParticipantNotFound),
		errors.Is(err, transitions.ErrTransitionNotFound):
		return http.StatusNotFound
	case errors.Is(err, transitions.ErrBusy),
		errors.Is(err, timing.ErrActionUnavailable),
		errors.Is(err, transitions.ErrSetStarted):
		return http.StatusConflict
	case errors.Is(err, timing.ErrInvariantViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, transitions.ErrDeviceTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, obs.ErrUnreachable),
		errors.Is(err, obs.ErrDisconnected),
		errors.As(err, &reqErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// sequenceContext detaches a sequence from its request so a dropped client
// connection cannot abort it halfway through a switch.
func (s *Server) sequenceContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	if s.opts.Lifetime == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(s.opts.Lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, code, err.Error())
}

func (s *Server) getTransitionSet(w http.ResponseWriter, r *http.Request) {
	set, err := s.opts.Engine.TransitionSet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setResponse(set))
}

type TransitionSetResponse struct {
	transitions.TransitionSet
	State transitions.State `json:"state"`
}

func setResponse(set transitions.TransitionSet) TransitionSetResponse {
	return TransitionSetResponse{TransitionSet: set, State: set.State()}
}

type ExecuteResponse struct {
	OK         bool   `json:"ok"`
	Originator string `json:"originator"`
}

// executeTransitionSet runs the set and replies once the sequence ends. Step
// progress reaches clients over the sync channel while it runs.
func (s *Server) executeTransitionSet(w http.ResponseWriter, r *http.Request) {
	from := originator(r)
	ctx, cancel := s.sequenceContext(r)
	defer cancel()
	if err := s.opts.Engine.ExecuteSet(ctx, chi.URLParam(r, "id"), from); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{OK: true, Originator: from})
}

func (s *Server) resetTransitionSet(w http.ResponseWriter, r *http.Request) {
	set, err := s.opts.Engine.ResetSet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setResponse(set))
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.opts.Engine.Schedule(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

type TransitionRequest struct {
	EntryID string `json:"entry_id"`
}

func (s *Server) transitionSchedule(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.EntryID == "" {
		writeError(w, http.StatusBadRequest, "entry_id required")
		return
	}

	from := originator(r)
	ctx, cancel := s.sequenceContext(r)
	defer cancel()
	if err := s.opts.Engine.TransitionTo(ctx, req.EntryID, from); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{OK: true, Originator: from})
}

// ActivityResponse is an activity with its clock and legal controls as of
// the server's current time.
type ActivityResponse struct {
	Activity           timing.Activity    `json:"activity"`
	ElapsedSeconds     float64            `json:"elapsed_seconds"`
	ParticipantElapsed map[string]float64 `json:"participant_elapsed_seconds,omitempty"`
	Actions            timing.Actions     `json:"actions"`
	AsOf               string             `json:"as_of"`
}

func (s *Server) activityResponse(a timing.Activity) ActivityResponse {
	now := s.opts.Engine.Now()
	resp := ActivityResponse{
		Activity:       a,
		ElapsedSeconds: timing.Elapsed(a, "", now),
		Actions:        timing.AvailableActions(a),
		AsOf:           now.UTC().Format(time.RFC3339Nano),
	}
	if len(a.Participants) > 0 {
		resp.ParticipantElapsed = make(map[string]float64, len(a.Participants))
		for _, p := range a.Participants {
			resp.ParticipantElapsed[p.ID] = timing.Elapsed(a, p.ID, now)
		}
	}
	return resp
}

func (s *Server) getActivity(w http.ResponseWriter, r *http.Request) {
	a, err := s.opts.Engine.Activity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.activityResponse(a))
}

type ElapsedResponse struct {
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	ParticipantID  string  `json:"participant_id,omitempty"`
	AsOf           string  `json:"as_of"`
}

// getElapsed reports the clock as of ?as_of (RFC 3339, default now), for the
// activity or for ?participant_id.
func (s *Server) getElapsed(w http.ResponseWriter, r *http.Request) {
	asOf := s.opts.Engine.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid as_of")
			return
		}
		asOf = t
	}
	pid := r.URL.Query().Get("participant_id")

	secs, err := s.opts.Engine.Elapsed(r.Context(), chi.URLParam(r, "id"), pid, asOf)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ElapsedResponse{
		ElapsedSeconds: secs,
		ParticipantID:  pid,
		AsOf:           asOf.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) getActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.opts.Engine.Actions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

type ActionRequest struct {
	Action        timing.Action `json:"action"`
	ParticipantID string        `json:"participant_id,omitempty"`
}

func (s *Server) actOnActivity(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action required")
		return
	}

	a, err := s.opts.Engine.Act(r.Context(), chi.URLParam(r, "id"), req.Action, req.ParticipantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.activityResponse(a))
}

// deviceScenes lists the scenes OBS currently knows, for operators building
// transition sets.
func (s *Server) deviceScenes(w http.ResponseWriter, r *http.Request) {
	list, err := obs.GetSceneList(r.Context(), s.opts.Device)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) deviceTransitions(w http.ResponseWriter, r *http.Request) {
	list, err := obs.GetTransitionList(r.Context(), s.opts.Device)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type VolumeRequest struct {
	VolumeDB *float64 `json:"volume_db"`
}

func (s *Server) setInputVolume(w http.ResponseWriter, r *http.Request) {
	var req VolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.VolumeDB == nil {
		writeError(w, http.StatusBadRequest, "volume_db required")
		return
	}
	if err := obs.SetInputVolume(r.Context(), s.opts.Device, chi.URLParam(r, "name"), *req.VolumeDB); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
