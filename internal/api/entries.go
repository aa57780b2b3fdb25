package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fing-bridge/internal/entity"
	"github.com/nerrad567/fing-bridge/internal/entry"
	"github.com/nerrad567/fing-bridge/internal/infrastructure/logging"
)

// entryResponse is an entry as returned by the API. The API key is redacted.
type entryResponse struct {
	entry.Entry

	Loaded            bool       `json:"loaded"`
	AlertMode         *bool      `json:"alert_mode,omitempty"`
	LastUpdateSuccess *bool      `json:"last_update_success,omitempty"`
	LastPoll          *time.Time `json:"last_poll,omitempty"`
}

// createEntryRequest is the setup form: a title plus the entry data fields.
type createEntryRequest struct {
	Title string `json:"title"`
	entry.Config
}

type entityResponse struct {
	UniqueID    string          `json:"unique_id"`
	Name        string          `json:"name"`
	Platform    entity.Platform `json:"platform"`
	DeviceClass string          `json:"device_class,omitempty"`
	State       any             `json:"state"`
}

type alertModeBody struct {
	On *bool `json:"on"`
}

type refreshResponse struct {
	Devices   int       `json:"devices"`
	Online    int       `json:"online"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (s *Server) entryView(e entry.Entry) entryResponse {
	e.Data.APIKey = logging.Redact(e.Data.APIKey)
	resp := entryResponse{Entry: e}

	rt, ok := s.manager.Runtime(e.ID)
	if !ok {
		return resp
	}
	resp.Loaded = true
	alert := rt.AlertMode()
	resp.AlertMode = &alert
	success := rt.Coordinator().LastUpdateSuccess()
	resp.LastUpdateSuccess = &success
	if snap := rt.Data(); snap != nil {
		fetched := snap.FetchedAt
		resp.LastPoll = &fetched
	}
	return resp
}

func (s *Server) handleEntrySchema(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fields": entry.Schema()})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.manager.Repository().List(r.Context())
	if err != nil {
		s.logger.Error("listing entries", "error", err)
		writeInternalError(w, "failed to list entries")
		return
	}

	views := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		views = append(views, s.entryView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views, "count": len(views)})
}

// handleCreateEntry runs the setup flow. A failed agent probe returns the
// form errors with 400; invalid input returns 422.
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	e, formErrs, err := s.manager.Create(r.Context(), req.Title, req.Config)
	switch {
	case formErrs != nil:
		writeFormErrors(w, formErrs)
		return
	case isValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
		return
	case err != nil && e == nil:
		s.logger.Error("creating entry", "error", err)
		writeInternalError(w, "failed to create entry")
		return
	case err != nil:
		// Stored but not loaded. It is retried on the next start.
		s.logger.Error("setting up new entry", "entry_id", e.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, s.entryView(*e))
}

func isValidationError(err error) bool {
	for _, target := range []error{
		entry.ErrHostRequired,
		entry.ErrAPIKeyRequired,
		entry.ErrInvalidPort,
		entry.ErrInvalidScanInterval,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.manager.Repository().Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, entry.ErrEntryNotFound) {
		writeNotFound(w, "entry not found")
		return
	}
	if err != nil {
		s.logger.Error("getting entry", "error", err)
		writeInternalError(w, "failed to get entry")
		return
	}
	writeJSON(w, http.StatusOK, s.entryView(*e))
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.manager.Delete(r.Context(), id)
	if errors.Is(err, entry.ErrEntryNotFound) {
		writeNotFound(w, "entry not found")
		return
	}
	if err != nil {
		s.logger.Error("deleting entry", "entry_id", id, "error", err)
		writeInternalError(w, "failed to delete entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadedRuntime resolves the {id} parameter to a loaded runtime, writing
// 404 for unknown entries and 409 for stored entries that are not loaded.
func (s *Server) loadedRuntime(w http.ResponseWriter, r *http.Request) (*entry.Runtime, bool) {
	id := chi.URLParam(r, "id")
	if rt, ok := s.manager.Runtime(id); ok {
		return rt, true
	}

	_, err := s.manager.Repository().Get(r.Context(), id)
	switch {
	case errors.Is(err, entry.ErrEntryNotFound):
		writeNotFound(w, "entry not found")
	case err != nil:
		s.logger.Error("getting entry", "entry_id", id, "error", err)
		writeInternalError(w, "failed to get entry")
	default:
		writeError(w, http.StatusConflict, ErrCodeConflict, "entry is not loaded")
	}
	return nil, false
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.loadedRuntime(w, r)
	if !ok {
		return
	}

	snap := rt.Data()
	entities := rt.Entities()
	views := make([]entityResponse, 0, len(entities))
	for _, e := range entities {
		views = append(views, entityResponse{
			UniqueID:    e.UniqueID(),
			Name:        e.Name(),
			Platform:    e.Platform(),
			DeviceClass: e.DeviceClass(),
			State:       e.State(snap),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": views, "count": len(views)})
}

func (s *Server) handleGetAlertMode(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.loadedRuntime(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"on": rt.AlertMode()})
}

func (s *Server) handleSetAlertMode(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.loadedRuntime(w, r)
	if !ok {
		return
	}

	var body alertModeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.On == nil {
		writeBadRequest(w, `"on" is required`)
		return
	}

	rt.SetAlertMode(*body.On)
	writeJSON(w, http.StatusOK, map[string]bool{"on": rt.AlertMode()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.loadedRuntime(w, r)
	if !ok {
		return
	}

	if err := s.manager.Refresh(r.Context(), rt.ID()); err != nil {
		if errors.Is(err, entry.ErrNotLoaded) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "entry is not loaded")
			return
		}
		s.logger.Warn("manual refresh failed", "entry_id", rt.ID(), "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		return
	}

	snap := rt.Data()
	writeJSON(w, http.StatusOK, refreshResponse{
		Devices:   snap.Devices.Len(),
		Online:    rt.OnlineCount(snap),
		FetchedAt: snap.FetchedAt,
	})
}
