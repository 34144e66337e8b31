package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dushky/requesty-pie/backend/session"
	"github.com/dushky/requesty-pie/backend/songrequest"
)

// HandleSongRequest dispatches /song-request by method: POST submits a new
// request, GET lists the pending queue, PATCH resolves a batch, DELETE
// removes a single row. All but POST require a validated owner session.
func (h *Handlers) HandleSongRequest(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleSubmit(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPatch:
		h.handleResolve(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, PATCH, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type submitRequest struct {
	TrackID   string `json:"trackId"`
	Requester string `json:"requester"`
}

func (h *Handlers) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if h.validator.RequireServiceToken {
		tok := bearerToken(r)
		if tok == "" {
			writeError(w, r, fmt.Errorf("%w: missing service token", songrequest.ErrUnauthorized))
			return
		}
		if err := h.issuer.Verify(tok); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", songrequest.ErrUnauthorized, err))
			return
		}
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", songrequest.ErrValidation))
		return
	}
	if len(req.Requester) > maxRequesterLen {
		req.Requester = req.Requester[:maxRequesterLen]
	}
	sub, err := h.svc.Submit(r.Context(), req.TrackID, req.Requester)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.ownerSession(w, r)
	if !ok {
		return
	}
	listing, err := h.svc.List(r.Context(), cred.Lifecycle())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

type resolveRequest struct {
	RequestIDs []int64 `json:"requestIds"`
	Status     string  `json:"status"`
}

func (h *Handlers) handleResolve(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.ownerSession(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", songrequest.ErrValidation))
		return
	}
	if err := h.svc.BatchResolve(r.Context(), cred.Lifecycle(), req.RequestIDs, songrequest.Status(req.Status)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.ownerSession(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, fmt.Errorf("%w: id must be a positive integer", songrequest.ErrValidation))
		return
	}
	if err := h.svc.Delete(r.Context(), cred.Lifecycle(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ownerSession validates the owner session from cookies and rewrites the
// cookie triple when the credential was refreshed in flight. On failure the
// error response has already been written.
func (h *Handlers) ownerSession(w http.ResponseWriter, r *http.Request) (session.OwnerCredential, bool) {
	cred, err := h.validator.ValidateOwnerSession(r.Context(), ownerCredentials(r))
	if err != nil {
		writeError(w, r, err)
		return session.OwnerCredential{}, false
	}
	if cred.Refreshed {
		setOwnerCookies(w, cred)
	}
	return cred, true
}
