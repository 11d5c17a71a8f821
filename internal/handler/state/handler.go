package state

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/agora/backend/internal/model/persona"
	"github.com/zhouzirui/agora/backend/internal/model/session"
	"github.com/zhouzirui/agora/backend/internal/pubsub"
	chatService "github.com/zhouzirui/agora/backend/internal/service/chat"
	"github.com/zhouzirui/agora/backend/internal/service/conversation"
	stateService "github.com/zhouzirui/agora/backend/internal/service/state"
	"github.com/zhouzirui/agora/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Handler exposes a session's state over REST and Server-Sent Events.
type Handler struct {
	chatSvc  *chatService.Service
	personas persona.Store
	pipeline *conversation.Pipeline
}

// New creates the state handler. pipeline may be nil, in which case text
// turns are rejected.
func New(chatSvc *chatService.Service, personas persona.Store, pipeline *conversation.Pipeline) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		personas: personas,
		pipeline: pipeline,
	}
}

// RegisterRoutes mounts the routes under /sessions/{sessionID}.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/state", h.handleGetState)
		r.Put("/role", h.handleSetRole)
		r.Post("/messages", h.handleSendText)
		r.Patch("/messages/{messageID}", h.handlePatchMessage)
		r.Delete("/error", h.handleClearError)
		r.Get("/events", h.handleEvents)
	})
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	store, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, store.Snapshot())
}

// handleSetRole switches persona. The store itself takes any string; the API
// only accepts roles from the catalogue.
func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	store, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Role string `json:"role"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, found := h.personas.FindByID(payload.Role); !found {
		utils.RespondError(w, http.StatusBadRequest, "persona not found")
		return
	}

	store.SetRole(payload.Role)
	utils.RespondJSON(w, http.StatusOK, store.Snapshot())
}

func (h *Handler) handleSendText(w http.ResponseWriter, r *http.Request) {
	store, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if h.pipeline == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "reply generation unavailable")
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, err := h.pipeline.HandleText(r.Context(), chi.URLParam(r, "sessionID"), store, payload.Text)
	switch {
	case errors.Is(err, conversation.ErrEmptyText):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrSynthesisFailed) && turn != nil:
		// text reply is usable without audio
		utils.RespondJSON(w, http.StatusOK, turn)
	case err != nil:
		utils.RespondError(w, http.StatusBadGateway, err.Error())
	default:
		utils.RespondJSON(w, http.StatusOK, turn)
	}
}

func (h *Handler) handlePatchMessage(w http.ResponseWriter, r *http.Request) {
	store, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var patch session.MessagePatch
	if err := utils.DecodeJSON(r, &patch); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if patch.Empty() {
		utils.RespondError(w, http.StatusBadRequest, "patch has no fields")
		return
	}

	store.UpdateMessage(chi.URLParam(r, "messageID"), patch)
	utils.RespondJSON(w, http.StatusOK, store.Snapshot())
}

func (h *Handler) handleClearError(w http.ResponseWriter, r *http.Request) {
	store, ok := h.lookup(w, r)
	if !ok {
		return
	}
	store.SetError("")
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams every state change until the client leaves or the
// session ends.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	store, ok := h.lookup(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")
	events := store.Subscribe(ctx)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	log.Printf("[sse] opening state stream for session=%s", sessionID)

	if err := utils.SendSSEEvent(w, flusher, "state", store.Snapshot()); err != nil {
		log.Printf("[sse] %v", err)
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] client left session=%s", sessionID)
			return
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		case event, open := <-events:
			if !open || event.Type == pubsub.EventTypeClosed {
				_ = utils.SendSSEEvent(w, flusher, "closed", map[string]any{
					"sessionId": sessionID,
					"state":     event.Payload.State,
				})
				log.Printf("[sse] session closed session=%s", sessionID)
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "change", event.Payload); err != nil {
				log.Printf("[sse] %v", err)
				return
			}
		}
	}
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*stateService.Store, bool) {
	store, err := h.chatSvc.State(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chatService.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return nil, false
	}
	return store, true
}
