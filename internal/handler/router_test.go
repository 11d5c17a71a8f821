package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatModel "github.com/zhouzirui/agora/backend/internal/model/chat"
	"github.com/zhouzirui/agora/backend/internal/model/persona"
	"github.com/zhouzirui/agora/backend/internal/model/session"
	"github.com/zhouzirui/agora/backend/internal/service/ai"
	chatService "github.com/zhouzirui/agora/backend/internal/service/chat"
	"github.com/zhouzirui/agora/backend/internal/service/conversation"
	speechService "github.com/zhouzirui/agora/backend/internal/service/speech"
)

func newTestRouter() http.Handler {
	personas := persona.NewMemoryStore(persona.Seed())
	return NewRouter(personas, chatService.NewService(persona.DefaultID), conversation.New(ai.NewTemplateReplier()), nil)
}

func TestRouterSessionFlow(t *testing.T) {
	router := newTestRouter()

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/session", bytes.NewReader([]byte(`{"role":"interviewer"}`))))
	require.Equal(t, http.StatusCreated, resp.Code)

	var created chatModel.Session
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/sessions/"+created.ID+"/messages", bytes.NewReader([]byte(`{"text":"自我介绍"}`))))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/sessions/"+created.ID+"/state", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var st session.State
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &st))
	assert.Equal(t, "interviewer", st.Role)
	require.Len(t, st.Messages, 1)
	assert.Contains(t, st.Messages[0].ReplyText, "自我介绍")
	assert.Nil(t, st.Messages[0].AudioURL)
}

func TestRouterHealthAndCORS(t *testing.T) {
	router := newTestRouter()

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Body.String(), `"speechEnabled":false`)
	assert.NotContains(t, resp.Body.String(), "audioClips")
}

func TestRouterHealthReportsAudioClips(t *testing.T) {
	personas := persona.NewMemoryStore(persona.Seed())
	cache := speechService.NewAudioCache(time.Minute, "/api/audio/")
	cache.Put([]byte("mp3"), "mp3")
	router := NewRouter(personas, chatService.NewService(persona.DefaultID), conversation.New(ai.NewTemplateReplier()), cache)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"audioClips":1`)
}

func TestRouterAudioRouteRequiresCache(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/audio/anything", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
