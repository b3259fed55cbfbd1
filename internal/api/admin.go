package api

import (
	"encoding/json"
	"net/http"

	"studybuddy/internal/models"
	"studybuddy/internal/users"
)

// AdminHandler mirrors user records from the external account service
// into the local directory. It is only served on the localhost admin
// listener.
type AdminHandler struct {
	users *users.Directory
}

func NewAdminHandler(dir *users.Directory) *AdminHandler {
	return &AdminHandler{users: dir}
}

type UpsertUserRequest struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type UpsertUserResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	User    models.User `json:"user,omitempty"`
}

func (h *AdminHandler) UpsertUserHandler(w http.ResponseWriter, r *http.Request) {
	var req UpsertUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	user, err := h.users.Upsert(models.User{
		ID:       req.ID,
		Username: req.Username,
		Avatar:   req.Avatar,
	})
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(UpsertUserResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	writeJSON(w, UpsertUserResponse{Success: true, User: user})
}
