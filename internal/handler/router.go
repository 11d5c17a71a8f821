package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/agora/backend/internal/handler/audio"
	"github.com/zhouzirui/agora/backend/internal/handler/chat"
	"github.com/zhouzirui/agora/backend/internal/handler/persona"
	"github.com/zhouzirui/agora/backend/internal/handler/state"
	"github.com/zhouzirui/agora/backend/internal/handler/voice"
	middlewarePkg "github.com/zhouzirui/agora/backend/internal/middleware"
	personaModel "github.com/zhouzirui/agora/backend/internal/model/persona"
	chatService "github.com/zhouzirui/agora/backend/internal/service/chat"
	"github.com/zhouzirui/agora/backend/internal/service/conversation"
	speechService "github.com/zhouzirui/agora/backend/internal/service/speech"
	"github.com/zhouzirui/agora/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. audioCache may be nil when
// speech synthesis is disabled.
func NewRouter(personas personaModel.Store, chatSvc *chatService.Service, pipeline *conversation.Pipeline, audioCache *speechService.AudioCache) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"status":        "ok",
			"sessions":      len(chatSvc.List(r.Context())),
			"speechEnabled": pipeline != nil && pipeline.SpeechEnabled(),
		}
		if audioCache != nil {
			body["audioClips"] = audioCache.Len()
		}
		utils.RespondJSON(w, http.StatusOK, body)
	})

	r.Route("/api", func(api chi.Router) {
		persona.New(personas).RegisterRoutes(api)
		chat.New(chatSvc, personas).RegisterRoutes(api)
		state.New(chatSvc, personas, pipeline).RegisterRoutes(api)

		if audioCache != nil {
			audio.New(audioCache).RegisterRoutes(api)
		}
	})

	voice.New(chatSvc, personas, pipeline).RegisterRoutes(r)

	return r
}
