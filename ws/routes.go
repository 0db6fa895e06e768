package ws

import (
	"encoding/json"
	"net/http"

	"meeting-server/domain"
	"meeting-server/repositories"
)

// initRequest is the lifecycle front door's create-meeting payload.
type initRequest struct {
	ID       domain.RoomID         `json:"id" validate:"required"`
	HostID   string                `json:"hostId" validate:"required"`
	Settings *domain.SettingsPatch `json:"settings,omitempty"`
}

type endRequest struct {
	ID domain.RoomID `json:"id" validate:"required"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type historyResponse struct {
	Messages []repositories.DiskMessage `json:"messages"`
	Cursor   *string                    `json:"cursor,omitempty"`
}

// Routes exposes the coordinator's lifecycle contract: init, state,
// end, archived history, plus the websocket endpoint itself.
// Authorization of these calls is the surrounding product's concern.
func (s *Server) Routes(archive repositories.IMessageArchive) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("POST /init", s.handleInit)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /end", s.handleEnd)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if archive != nil {
		mux.HandleFunc("GET /messages", s.handleMessages(archive))
	}
	return mux
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	var patch domain.SettingsPatch
	if req.Settings != nil {
		patch = *req.Settings
	}
	if err := s.rooms.Get(req.ID).Init(r.Context(), req.HostID, patch); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, successResponse{Success: true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	worker, ok := s.rooms.Lookup(domain.RoomID(r.URL.Query().Get("id")))
	if !ok {
		http.Error(w, "meeting not found", http.StatusNotFound)
		return
	}
	state, err := worker.Snapshot(r.Context())
	if err != nil {
		http.Error(w, "meeting not found", http.StatusNotFound)
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// Ending an absent meeting succeeds: the desired state is reached.
	if worker, ok := s.rooms.Lookup(req.ID); ok {
		if err := worker.End(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, successResponse{Success: true})
}

func (s *Server) handleMessages(archive repositories.IMessageArchive) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := domain.RoomID(r.URL.Query().Get("id"))
		if roomID == "" {
			http.Error(w, "missing meeting id", http.StatusBadRequest)
			return
		}
		var cursor *string
		if c := r.URL.Query().Get("cursor"); c != "" {
			cursor = &c
		}
		messages, next, err := archive.GetMessages(roomID, cursor)
		if err != nil {
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, historyResponse{Messages: messages, Cursor: next})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
	}
}
