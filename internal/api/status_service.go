package api

import (
	"net/http"
	"time"

	"github.com/session-foundation/seshd/internal/status"
	"github.com/session-foundation/seshd/internal/store"
)

// StatusService serves daemon health over the control socket.
type StatusService struct {
	db          *store.DB
	machine     *status.Machine
	accountName string
	pubkey      string
	startedAt   time.Time
}

// NewStatusService creates a new status service.
func NewStatusService(db *store.DB, machine *status.Machine, accountName, pubkey string) *StatusService {
	return &StatusService{
		db:          db,
		machine:     machine,
		accountName: accountName,
		pubkey:      pubkey,
		startedAt:   time.Now(),
	}
}

// StatusResponse is the daemon status payload.
type StatusResponse struct {
	Account    string `json:"account"`
	PubKey     string `json:"pubkey"`
	State      string `json:"state"`
	UptimeSecs int64  `json:"uptime_secs"`
	Contacts   int64  `json:"contacts"`
	Threads    int64  `json:"threads"`
}

// Register mounts the service's routes.
func (s *StatusService) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", s.handleStatus)
}

func (s *StatusService) handleStatus(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.db.ContactCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	threads, err := s.db.ThreadCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Account:    s.accountName,
		PubKey:     s.pubkey,
		State:      string(s.machine.Current()),
		UptimeSecs: int64(time.Since(s.startedAt).Seconds()),
		Contacts:   contacts,
		Threads:    threads,
	})
}
