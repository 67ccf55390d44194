package api

import (
	"net/http"

	"github.com/session-foundation/seshd/internal/dispatch"
	"github.com/session-foundation/seshd/internal/status"
	"github.com/session-foundation/seshd/internal/store"
)

// SyncService serves sync state and force operations.
type SyncService struct {
	db         *store.DB
	dispatcher *dispatch.Dispatcher
	machine    *status.Machine
}

// NewSyncService creates a new sync service.
func NewSyncService(db *store.DB, dispatcher *dispatch.Dispatcher, machine *status.Machine) *SyncService {
	return &SyncService{db: db, dispatcher: dispatcher, machine: machine}
}

// SyncStatusResponse is the sync status payload. Queue maps push-queue
// status to entry count.
type SyncStatusResponse struct {
	State string           `json:"state"`
	Queue map[string]int64 `json:"queue"`
}

// Register mounts the service's routes.
func (s *SyncService) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/sync/status", s.handleStatus)
	mux.HandleFunc("POST /v1/sync/push", s.handlePush)
}

func (s *SyncService) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.db.PushQueueCounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncStatusResponse{
		State: string(s.machine.Current()),
		Queue: counts,
	})
}

// handlePush drains the push queue immediately instead of waiting for the
// next dispatcher tick.
func (s *SyncService) handlePush(w http.ResponseWriter, r *http.Request) {
	s.dispatcher.ProcessPending(r.Context())
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
