package api

import (
	"errors"
	"net/http"

	"github.com/session-foundation/seshd/internal/configstore"
	"github.com/session-foundation/seshd/internal/store"
	"github.com/session-foundation/seshd/internal/sync"
)

// ContactService serves contact reads and routes contact mutations through
// the outgoing change mapper. Writes never touch relational rows directly;
// the mapper updates the config object and the engine re-reconciles, so the
// change survives the next remote merge.
type ContactService struct {
	db     *store.DB
	mapper *sync.Mapper
	engine *sync.Engine
	owner  string
}

// NewContactService creates a new contact service. owner is the local
// account's public key.
func NewContactService(db *store.DB, mapper *sync.Mapper, engine *sync.Engine, owner string) *ContactService {
	return &ContactService{db: db, mapper: mapper, engine: engine, owner: owner}
}

// ContactView is one contact in a list response, joined with its profile.
type ContactView struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Nickname     string `json:"nickname,omitempty"`
	IsApproved   bool   `json:"is_approved"`
	IsBlocked    bool   `json:"is_blocked"`
	DidApproveMe bool   `json:"did_approve_me"`
}

type nicknameRequest struct {
	ContactID string `json:"contact_id"`
	Nickname  string `json:"nickname"`
}

type contactIDRequest struct {
	ContactID string `json:"contact_id"`
}

type blockRequest struct {
	ContactID string `json:"contact_id"`
	Blocked   bool   `json:"blocked"`
}

type contactIDsRequest struct {
	ContactIDs []string `json:"contact_ids"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// Register mounts the service's routes.
func (s *ContactService) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/contacts", s.handleList)
	mux.HandleFunc("POST /v1/contacts/nickname", s.handleNickname)
	mux.HandleFunc("POST /v1/contacts/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/contacts/block", s.handleBlock)
	mux.HandleFunc("POST /v1/contacts/hide", s.handleHide)
	mux.HandleFunc("POST /v1/contacts/remove", s.handleRemove)
}

func (s *ContactService) handleList(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.db.ListContacts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]ContactView, 0, len(contacts))
	for _, c := range contacts {
		v := ContactView{
			ID:           c.ID,
			IsApproved:   c.IsApproved,
			IsBlocked:    c.IsBlocked,
			DidApproveMe: c.DidApproveMe,
		}
		if p, err := s.db.GetProfile(c.ID); err == nil && p != nil {
			v.Name = p.Name
			if p.Nickname != nil {
				v.Nickname = *p.Nickname
			}
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *ContactService) handleNickname(w http.ResponseWriter, r *http.Request) {
	var req nicknameRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.ContactID == "" {
		writeError(w, http.StatusBadRequest, errors.New("contact_id is required"))
		return
	}
	if err := s.mapper.SetNickname(r.Context(), s.owner, req.ContactID, req.Nickname); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *ContactService) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req contactIDRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.ContactID == "" {
		writeError(w, http.StatusBadRequest, errors.New("contact_id is required"))
		return
	}
	if err := s.mapper.ApproveContact(r.Context(), s.owner, req.ContactID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *ContactService) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.ContactID == "" {
		writeError(w, http.StatusBadRequest, errors.New("contact_id is required"))
		return
	}
	if err := s.mapper.SetBlocked(r.Context(), s.owner, req.ContactID, req.Blocked); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// handleHide marks the conversations hidden in the config object, then
// re-reconciles so the thread rows disappear in the same way a remote hide
// would make them disappear.
func (s *ContactService) handleHide(w http.ResponseWriter, r *http.Request) {
	var req contactIDsRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.ContactIDs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("contact_ids is required"))
		return
	}
	if err := s.mapper.HideContacts(r.Context(), s.owner, req.ContactIDs); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.engine.ReconcileLocal(configstore.Contacts, s.owner); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// handleRemove erases the contacts from the config object; the follow-up
// reconcile prunes their rows, threads, and nicknames.
func (s *ContactService) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req contactIDsRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.ContactIDs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("contact_ids is required"))
		return
	}
	if err := s.mapper.RemoveContacts(r.Context(), s.owner, req.ContactIDs); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.engine.ReconcileLocal(configstore.Contacts, s.owner); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
