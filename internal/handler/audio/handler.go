package audio

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	speechService "github.com/zhouzirui/agora/backend/internal/service/speech"
	"github.com/zhouzirui/agora/backend/pkg/utils"
)

// Handler serves synthesized reply clips referenced by message audio URLs.
type Handler struct {
	cache *speechService.AudioCache
}

func New(cache *speechService.AudioCache) *Handler {
	return &Handler{cache: cache}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/audio/{clipID}", h.handleGetClip)
}

func (h *Handler) handleGetClip(w http.ResponseWriter, r *http.Request) {
	clip, err := h.cache.Get(chi.URLParam(r, "clipID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", clip.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Data)))
	w.Header().Set("Cache-Control", "private, max-age=600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clip.Data)
}
