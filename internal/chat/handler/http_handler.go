// Package handler exposes chat history and presence over HTTP.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"conify/internal/chat/repository"
	"conify/internal/chat/service"
	"conify/internal/common"
	"conify/internal/presence"
)

type ChatHandler struct {
	chatService service.ChatService
	tracker     presence.Tracker
	profiles    repository.ProfileRepository
	log         *zap.Logger
}

func NewChatHandler(chatService service.ChatService, tracker presence.Tracker, profiles repository.ProfileRepository, log *zap.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		tracker:     tracker,
		profiles:    profiles,
		log:         log.Named("http"),
	}
}

// Register mounts the routes on an authenticated router.
func (h *ChatHandler) Register(r *mux.Router) {
	r.HandleFunc("/conversations", h.listConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{counterpartId}/messages", h.openConversation).Methods(http.MethodGet)
	r.HandleFunc("/presence/online-users", h.onlineUsers).Methods(http.MethodGet)
	r.HandleFunc("/presence/{userId}/last-seen", h.lastSeen).Methods(http.MethodGet)
}

type lastSeenResponse struct {
	UserID     int64      `json:"userId"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"lastSeenAt"`
}

func pathUserID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, common.Invalid("%s must be a positive integer", name)
	}
	return id, nil
}

func caller(r *http.Request) (int64, error) {
	uid, ok := common.UserIDFromContext(r.Context())
	if !ok {
		return 0, common.ErrUnauthenticated
	}
	return uid, nil
}

func (h *ChatHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if common.HTTPStatus(err) == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	common.WriteError(w, err)
}

func (h *ChatHandler) listConversations(w http.ResponseWriter, r *http.Request) {
	uid, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.chatService.ListConversations(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []service.ConversationSummary{}
	}
	common.WriteJSON(w, http.StatusOK, list)
}

func (h *ChatHandler) openConversation(w http.ResponseWriter, r *http.Request) {
	uid, err := caller(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	counterpart, err := pathUserID(r, "counterpartId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	history, err := h.chatService.OpenConversation(r.Context(), uid, counterpart)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, history)
}

func (h *ChatHandler) onlineUsers(w http.ResponseWriter, r *http.Request) {
	users := h.tracker.Snapshot(r.Context())
	if users == nil {
		users = []int64{}
	}
	common.WriteJSON(w, http.StatusOK, users)
}

func (h *ChatHandler) lastSeen(w http.ResponseWriter, r *http.Request) {
	uid, err := pathUserID(r, "userId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := lastSeenResponse{UserID: uid, Online: h.tracker.IsOnline(r.Context(), uid)}

	p, err := h.profiles.FindByUserID(r.Context(), uid)
	switch {
	case err == nil:
		resp.LastSeenAt = p.LastSeenAt
	case !errors.Is(err, common.ErrNotFound):
		h.fail(w, r, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, resp)
}
