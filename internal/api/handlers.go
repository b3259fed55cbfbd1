package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"studybuddy/internal/content"
	"studybuddy/internal/filestore"
	"studybuddy/internal/models"
	"studybuddy/internal/push"
	"studybuddy/internal/storage"
	"studybuddy/internal/users"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxUploadSize       = 25 << 20 // 25 MiB
	sniffSize           = 262      // filetype needs at most 262 bytes
)

type API struct {
	store    *storage.BboltStorage
	users    *users.Directory
	files    filestore.FileStore
	notifier *push.Notifier
	baseURL  string
}

func New(store *storage.BboltStorage, dir *users.Directory, files filestore.FileStore, notifier *push.Notifier, baseURL string) *API {
	return &API{store: store, users: dir, files: files, notifier: notifier, baseURL: baseURL}
}

// RequireAuth resolves the caller's identity from the session layer.
// Sessions are owned by an external auth collaborator; by the time a
// request reaches this process the X-User-ID header has been stamped by
// the authenticated page session (same trust boundary as the websocket
// handshake).
func (a *API) RequireAuth(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, userID)
	}
}

// HistoryHandler returns messages between the caller and a friend,
// oldest first, with an optional before-cursor for paging backwards.
func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request, userID string) {
	friendID := r.URL.Query().Get("friendId")
	if friendID == "" {
		http.Error(w, "friendId is required", http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	messages, err := a.store.ConversationMessages(userID, friendID, limit, r.URL.Query().Get("before"))
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "unknown cursor", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("failed to load history for user %s: %v", userID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	for i := range messages {
		a.decorate(&messages[i])
	}
	writeJSON(w, messages)
}

// ConversationsHandler lists the caller's most recently active DMs.
func (a *API) ConversationsHandler(w http.ResponseWriter, r *http.Request, userID string) {
	conversations, err := a.store.RecentConversations(userID, 20)
	if err != nil {
		log.Printf("failed to load conversations for user %s: %v", userID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	for i := range conversations {
		if user, err := a.users.FindByID(conversations[i].OtherUser.ID); err == nil {
			conversations[i].OtherUser = user
		}
		a.decorate(&conversations[i].LastMessage)
	}
	writeJSON(w, conversations)
}

// UploadHandler stores an attachment blob and returns the media
// descriptor to embed in a dm:send. The media kind is sniffed from the
// file content, never trusted from the client.
func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		http.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}
	head = head[:n]

	id := uuid.NewString()
	if err := a.files.Save(io.MultiReader(bytes.NewReader(head), file), id); err != nil {
		log.Printf("failed to store upload for user %s: %v", userID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	name := header.Filename
	if len(name) > models.MaxMediaNameLength {
		name = name[:models.MaxMediaNameLength]
	}

	writeJSON(w, models.Media{
		URL:  fmt.Sprintf("%s/api/files/%s", a.baseURL, id),
		Type: mediaTypeFor(head),
		Name: content.Sanitize(name),
		Size: header.Size,
	})
}

// GetFileHandler streams a stored attachment blob.
func (a *API) GetFileHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "file ID is required", http.StatusBadRequest)
		return
	}

	f, err := a.files.Get(id)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(w, f); err != nil {
		log.Printf("failed to stream file %s: %v", id, err)
	}
}

type pushSubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// PushSubscribeHandler registers a browser push endpoint for the caller.
func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req pushSubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := a.notifier.Subscribe(storage.PushSubscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	user, err := a.users.FindByID(id)
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("failed to look up user %s: %v", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, user)
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request, userID string) {
	list, err := a.users.List()
	if err != nil {
		log.Printf("failed to list users: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (a *API) decorate(msg *models.Message) {
	if user, err := a.users.FindByID(msg.SenderID); err == nil {
		msg.Sender = user
	} else {
		msg.Sender = models.User{ID: msg.SenderID}
	}
	if user, err := a.users.FindByID(msg.ReceiverID); err == nil {
		msg.Receiver = user
	} else {
		msg.Receiver = models.User{ID: msg.ReceiverID}
	}
	if msg.Content != "" {
		if rendered, err := content.RenderMarkdown(msg.Content); err == nil {
			msg.ContentHTML = rendered
		}
	}
}

func mediaTypeFor(head []byte) models.MediaType {
	switch {
	case filetype.IsImage(head):
		return models.MediaTypeImage
	case filetype.IsVideo(head):
		return models.MediaTypeVideo
	case filetype.IsAudio(head):
		return models.MediaTypeAudio
	default:
		return models.MediaTypeDocument
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
