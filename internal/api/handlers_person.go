package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/pulseboard/pulseboard/internal/api/respond"
	"github.com/pulseboard/pulseboard/internal/api/validate"
	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/services"
)

// PersonHandler is a thin HTTP transport over the person directory.
type PersonHandler struct {
	svc *services.PersonService
}

func NewPersonHandler(svc *services.PersonService) *PersonHandler { return &PersonHandler{svc: svc} }

func personIDVar(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["personId"], 10, 64)
	return id, err == nil
}

// CreatePerson POST /api/v1/persons
func (h *PersonHandler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalID string  `json:"externalId"`
		Username   string  `json:"username"`
		AvatarURL  *string `json:"avatarUrl,omitempty"`
		Email      *string `json:"email,omitempty"`
		TelegramID *string `json:"telegramId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if err := validate.CreatePerson(req.ExternalID, req.Username, req.Email, req.TelegramID, req.AvatarURL); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	p := &model.Person{
		ExternalID: req.ExternalID,
		Username:   req.Username,
		AvatarURL:  req.AvatarURL,
		Email:      req.Email,
		TelegramID: req.TelegramID,
	}
	out, err := h.svc.CreatePerson(r.Context(), p)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, out)
}

// GetPerson GET /api/v1/persons/{personId}
func (h *PersonHandler) GetPerson(w http.ResponseWriter, r *http.Request) {
	id, ok := personIDVar(r)
	if !ok {
		respond.WriteBadRequest(w, "personId must be an integer")
		return
	}
	p, err := h.svc.GetPerson(r.Context(), id)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, p)
}

// GetPersonByExternalID GET /api/v1/persons/by-external/{externalId}
func (h *PersonHandler) GetPersonByExternalID(w http.ResponseWriter, r *http.Request) {
	externalID := mux.Vars(r)["externalId"]
	p, err := h.svc.GetPersonByExternalID(r.Context(), externalID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, p)
}

// ListPersons GET /api/v1/persons?search=&offset=&limit=
func (h *PersonHandler) ListPersons(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		respond.WriteBadRequest(w, "offset must be a non-negative integer")
		return
	}
	limit, err := queryInt(q.Get("limit"), 100)
	if err != nil || limit < 1 || limit > 1000 {
		respond.WriteBadRequest(w, "limit must be between 1 and 1000")
		return
	}

	req := model.ListPersonsRequest{Search: q.Get("search"), Offset: offset, Limit: limit}
	persons, total, err := h.svc.ListPersons(r.Context(), req)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	if persons == nil {
		persons = []*model.Person{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"persons": persons,
		"total":   total,
		"offset":  offset,
		"limit":   limit,
	})
}

// UpdatePerson PUT /api/v1/persons/{personId}
func (h *PersonHandler) UpdatePerson(w http.ResponseWriter, r *http.Request) {
	id, ok := personIDVar(r)
	if !ok {
		respond.WriteBadRequest(w, "personId must be an integer")
		return
	}
	var req model.UpdatePersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if err := validate.UpdatePerson(req.Username, req.AvatarURL, req.Email, req.TelegramID); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	p, err := h.svc.UpdatePerson(r.Context(), id, req)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, p)
}

// DeletePerson DELETE /api/v1/persons/{personId}
func (h *PersonHandler) DeletePerson(w http.ResponseWriter, r *http.Request) {
	id, ok := personIDVar(r)
	if !ok {
		respond.WriteBadRequest(w, "personId must be an integer")
		return
	}
	if err := h.svc.DeletePerson(r.Context(), id); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryInt parses an optional integer query parameter.
func queryInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
