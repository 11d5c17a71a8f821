package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/agora/backend/internal/model/persona"
	"github.com/zhouzirui/agora/backend/internal/model/session"
	"github.com/zhouzirui/agora/backend/internal/pubsub"
	chatService "github.com/zhouzirui/agora/backend/internal/service/chat"
	"github.com/zhouzirui/agora/backend/internal/service/conversation"
	stateService "github.com/zhouzirui/agora/backend/internal/service/state"
)

const (
	pongWait      = 60 * time.Second
	pingPeriod    = 30 * time.Second
	writeWait     = 10 * time.Second
	maxAudioBytes = 25 << 20
	outboundQueue = 32
)

// control message types sent by the browser
const (
	controlStart  = "START"
	controlEnd    = "END"
	controlText   = "TEXT"
	controlRole   = "ROLE"
	controlCancel = "CANCEL"
)

// Handler WebSocket语音处理器：二进制帧为录音分片，文本帧为 JSON 控制消息。
type Handler struct {
	chatSvc  *chatService.Service
	personas persona.Store
	pipeline *conversation.Pipeline
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(chatSvc *chatService.Service, personas persona.Store, pipeline *conversation.Pipeline) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		personas: personas,
		pipeline: pipeline,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat/{sessionID}", h.handleWebSocket)
}

type controlMessage struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Role   string `json:"role,omitempty"`
	Format string `json:"format,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type frame struct {
	kind int
	data []byte
}

type connection struct {
	conn      *websocket.Conn
	sessionID string
	store     *stateService.Store
	out       chan frame
	ctx       context.Context
	cancel    context.CancelFunc
	audio     bytes.Buffer
	format    string

	turnMu     sync.Mutex
	turnCancel context.CancelFunc
	turns      sync.WaitGroup
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if h.pipeline == nil {
		http.Error(w, "conversation pipeline unavailable", http.StatusServiceUnavailable)
		return
	}

	store, err := h.chatSvc.State(r.Context(), sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chatService.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &connection{
		conn:      conn,
		sessionID: sessionID,
		store:     store,
		out:       make(chan frame, outboundQueue),
		ctx:       ctx,
		cancel:    cancel,
		format:    "webm",
	}

	log.Printf("[ws] new connection for session=%s", sessionID)

	changes := store.Subscribe(ctx)
	go c.writeLoop(changes)

	c.send("connected", map[string]any{
		"role":          store.Role(),
		"speechEnabled": h.pipeline.SpeechEnabled(),
	})
	c.send("state", session.Change{State: store.Snapshot()})

	conn.SetReadLimit(maxAudioBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error session=%s: %v", sessionID, err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch kind {
		case websocket.BinaryMessage:
			h.handleAudioChunk(c, data)
		case websocket.TextMessage:
			h.handleControl(c, data)
		}
	}

	cancel()
	c.turns.Wait()
	if store.IsRecording() {
		h.pipeline.CancelRecording(store)
	}
	log.Printf("[ws] connection closed for session=%s", sessionID)
}

func (h *Handler) handleAudioChunk(c *connection, data []byte) {
	if !c.store.IsRecording() {
		c.audio.Reset()
		h.pipeline.StartRecording(c.store)
	}

	if c.audio.Len()+len(data) > maxAudioBytes {
		c.audio.Reset()
		h.pipeline.CancelRecording(c.store)
		c.store.SetError("recording too long")
		c.sendError("recording too long")
		return
	}
	c.audio.Write(data)
}

func (h *Handler) handleControl(c *connection, data []byte) {
	var ctrl controlMessage
	if err := json.Unmarshal(data, &ctrl); err != nil {
		c.sendError("invalid control message")
		return
	}

	if ctrl.Role != "" && ctrl.Role != c.store.Role() {
		if _, ok := h.personas.FindByID(ctrl.Role); !ok {
			c.sendError("persona not found: " + ctrl.Role)
			return
		}
		c.store.SetRole(ctrl.Role)
	}

	switch strings.ToUpper(ctrl.Type) {
	case controlStart:
		c.audio.Reset()
		if ctrl.Format != "" {
			c.format = ctrl.Format
		}
		h.pipeline.StartRecording(c.store)
	case controlCancel:
		c.audio.Reset()
		h.pipeline.CancelRecording(c.store)
		c.cancelTurn()
	case controlEnd:
		if ctrl.Format != "" {
			c.format = ctrl.Format
		}
		audio := append([]byte(nil), c.audio.Bytes()...)
		format := c.format
		c.audio.Reset()

		c.startTurn(func(ctx context.Context) (*conversation.Turn, error) {
			turn, err := h.pipeline.HandleAudio(ctx, c.sessionID, c.store, audio, format)
			if turn != nil || errors.Is(err, conversation.ErrReplyFailed) {
				c.send("stt", map[string]string{"text": c.store.STTText()})
			}
			return turn, err
		})
	case controlText:
		text := ctrl.Text
		c.startTurn(func(ctx context.Context) (*conversation.Turn, error) {
			return h.pipeline.HandleText(ctx, c.sessionID, c.store, text)
		})
	case controlRole:
		// applied above
	default:
		c.sendError("unsupported message type: " + ctrl.Type)
	}
}

// startTurn runs one turn off the read loop so control frames keep flowing.
// A connection runs at most one turn at a time; the slot frees up before the
// result is delivered.
func (c *connection) startTurn(run func(ctx context.Context) (*conversation.Turn, error)) {
	c.turnMu.Lock()
	if c.turnCancel != nil {
		c.turnMu.Unlock()
		c.sendError("a reply is already in progress")
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.turnCancel = cancel
	c.turns.Add(1)
	c.turnMu.Unlock()

	go func() {
		defer c.turns.Done()
		turn, err := run(ctx)
		c.finishTurn()
		c.deliver(turn, err)
	}()
}

func (c *connection) finishTurn() {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
}

// cancelTurn interrupts the running turn, if any.
func (c *connection) cancelTurn() {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if c.turnCancel != nil {
		c.turnCancel()
	}
}

func (c *connection) deliver(turn *conversation.Turn, err error) {
	if errors.Is(err, conversation.ErrCanceled) {
		c.send("cancelled", nil)
		return
	}
	if turn != nil {
		c.send("reply", map[string]string{
			"messageId": turn.MessageID,
			"text":      turn.ReplyText,
		})
		if len(turn.Audio) > 0 {
			c.send("audio", map[string]string{
				"messageId": turn.MessageID,
				"url":       turn.AudioURL,
				"format":    turn.AudioFormat,
			})
			c.enqueue(frame{kind: websocket.BinaryMessage, data: turn.Audio})
		}
	}
	if err != nil {
		c.sendError(err.Error())
	}
}

func (c *connection) send(msgType string, data interface{}) {
	payload, err := json.Marshal(outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("[ws] failed to marshal %s message: %v", msgType, err)
		return
	}
	c.enqueue(frame{kind: websocket.TextMessage, data: payload})
}

func (c *connection) sendError(message string) {
	c.send("error", map[string]string{"message": message})
}

func (c *connection) enqueue(f frame) {
	select {
	case c.out <- f:
	case <-c.ctx.Done():
	}
}

// writeLoop is the only goroutine writing to the socket.
func (c *connection) writeLoop(changes <-chan pubsub.Event[session.Change]) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()
	defer c.cancel()

	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.out:
			if err := c.write(f.kind, f.data); err != nil {
				log.Printf("[ws] write error session=%s: %v", c.sessionID, err)
				return
			}
		case event, open := <-changes:
			if !open || event.Type == pubsub.EventTypeClosed {
				// session ended
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(writeWait))
				return
			}
			payload, err := json.Marshal(outgoingMessage{
				Type:      "state",
				SessionID: c.sessionID,
				Data:      event.Payload,
				Timestamp: time.Now().UnixMilli(),
			})
			if err != nil {
				continue
			}
			if err := c.write(websocket.TextMessage, payload); err != nil {
				log.Printf("[ws] write error session=%s: %v", c.sessionID, err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *connection) write(kind int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}
