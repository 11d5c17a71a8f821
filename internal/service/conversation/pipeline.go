package conversation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zhouzirui/agora/backend/internal/model/persona"
	"github.com/zhouzirui/agora/backend/internal/model/session"
	speechModel "github.com/zhouzirui/agora/backend/internal/model/speech"
	"github.com/zhouzirui/agora/backend/internal/service/ai"
	"github.com/zhouzirui/agora/backend/internal/service/speech"
	"github.com/zhouzirui/agora/backend/internal/service/state"
)

var (
	ErrEmptyText        = errors.New("text is required")
	ErrNoSpeech         = errors.New("no speech detected")
	ErrSpeechDisabled   = errors.New("speech recognition is not configured")
	ErrSynthesisFailed  = errors.New("speech synthesis failed")
	ErrReplyFailed      = errors.New("reply generation failed")
	ErrTranscribeFailed = errors.New("transcription failed")
	ErrCanceled         = errors.New("turn canceled")
)

// AudioStore keeps synthesized clips and hands out their URLs.
type AudioStore interface {
	Put(data []byte, format string) string
	URL(id string) string
}

// Turn is the outcome of one user utterance.
type Turn struct {
	MessageID   string `json:"messageId"`
	UserText    string `json:"userText"`
	ReplyText   string `json:"replyText"`
	AudioURL    string `json:"audioUrl,omitempty"`
	Audio       []byte `json:"-"`
	AudioFormat string `json:"audioFormat,omitempty"`
}

// Pipeline runs speech-to-text, reply generation and text-to-speech for a
// session and reflects every step in its state store.
type Pipeline struct {
	replier     ai.Replier
	transcriber speech.Transcriber
	synthesizer speech.Synthesizer
	audio       AudioStore
	personas    persona.Store
	newID       func() string

	mu       sync.Mutex
	inflight map[*state.Store]int
}

// Option configures optional collaborators.
type Option func(*Pipeline)

// WithTranscriber enables audio turns.
func WithTranscriber(t speech.Transcriber) Option {
	return func(p *Pipeline) { p.transcriber = t }
}

// WithSynthesizer enables reply audio. Both arguments are required.
func WithSynthesizer(s speech.Synthesizer, audio AudioStore) Option {
	return func(p *Pipeline) {
		if s != nil && audio != nil {
			p.synthesizer = s
			p.audio = audio
		}
	}
}

// WithPersonas lets the pipeline pick the TTS voice of the current role.
func WithPersonas(personas persona.Store) Option {
	return func(p *Pipeline) { p.personas = personas }
}

// WithIDGenerator replaces the message id generator.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// New creates a pipeline around the reply generator.
func New(replier ai.Replier, opts ...Option) *Pipeline {
	p := &Pipeline{
		replier:  replier,
		newID:    uuid.NewString,
		inflight: make(map[*state.Store]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SpeechEnabled reports whether audio turns are accepted.
func (p *Pipeline) SpeechEnabled() bool {
	return p.transcriber != nil
}

// StartRecording marks capture as active and clears the previous
// transcription and error.
func (p *Pipeline) StartRecording(store *state.Store) {
	store.SetError("")
	store.UpdateSTT("")
	store.SetRecording(true)
}

// CancelRecording stops capture without producing a turn.
func (p *Pipeline) CancelRecording(store *state.Store) {
	store.SetRecording(false)
}

// HandleAudio transcribes a finished recording and answers it.
func (p *Pipeline) HandleAudio(ctx context.Context, sessionID string, store *state.Store, audio []byte, format string) (*Turn, error) {
	store.SetRecording(false)

	if p.transcriber == nil {
		return nil, p.fail(sessionID, store, ErrSpeechDisabled)
	}
	if len(audio) == 0 {
		return nil, p.fail(sessionID, store, speech.ErrEmptyAudio)
	}

	store.SetError("")
	p.beginSending(store)
	defer p.endSending(store)

	log.Printf("[pipeline] transcribing session=%s format=%s bytes=%d", sessionID, format, len(audio))
	resp, err := p.transcriber.Transcribe(ctx, &speechModel.ASRRequest{
		SessionID: sessionID,
		AudioData: bytes.NewReader(audio),
		Format:    format,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, p.canceled(sessionID)
		}
		return nil, p.fail(sessionID, store, fmt.Errorf("%w: %v", ErrTranscribeFailed, err))
	}

	text := strings.TrimSpace(resp.Text)
	store.UpdateSTT(text)
	if text == "" {
		return nil, p.fail(sessionID, store, ErrNoSpeech)
	}

	return p.respond(ctx, sessionID, store, text)
}

// HandleText answers a typed message.
func (p *Pipeline) HandleText(ctx context.Context, sessionID string, store *state.Store, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, p.fail(sessionID, store, ErrEmptyText)
	}

	store.SetError("")
	p.beginSending(store)
	defer p.endSending(store)

	return p.respond(ctx, sessionID, store, text)
}

func (p *Pipeline) respond(ctx context.Context, sessionID string, store *state.Store, text string) (*Turn, error) {
	history := store.Messages()
	role := store.Role()

	id := p.newID()
	store.PushMessage(session.ChatMessage{ID: id, UserText: text})
	store.UpdateReply("")

	var partial strings.Builder
	reply, err := p.replier.StreamReply(ctx, ai.Request{
		SessionID: sessionID,
		Role:      role,
		History:   history,
		UserText:  text,
	}, func(chunk string) {
		partial.WriteString(chunk)
		store.UpdateReply(partial.String())
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, p.canceled(sessionID)
		}
		return nil, p.fail(sessionID, store, fmt.Errorf("%w: %v", ErrReplyFailed, err))
	}

	store.UpdateReply(reply)
	store.UpdateMessage(id, session.MessagePatch{ReplyText: session.Text(reply)})

	turn := &Turn{MessageID: id, UserText: text, ReplyText: reply}
	if p.synthesizer == nil || strings.TrimSpace(reply) == "" {
		return turn, nil
	}

	tts, err := p.synthesizer.Synthesize(ctx, &speechModel.TTSRequest{
		SessionID: sessionID,
		Text:      reply,
		Voice:     p.voiceFor(role),
	})
	if err != nil {
		// the reply text is already committed, only the audio is missing
		if ctx.Err() != nil {
			return turn, p.canceled(sessionID)
		}
		return turn, p.fail(sessionID, store, fmt.Errorf("%w: %v", ErrSynthesisFailed, err))
	}

	clipID := p.audio.Put(tts.AudioData, tts.Format)
	url := p.audio.URL(clipID)
	store.UpdateMessage(id, session.MessagePatch{AudioURL: session.Text(url)})

	turn.AudioURL = url
	turn.Audio = tts.AudioData
	turn.AudioFormat = tts.Format
	return turn, nil
}

// beginSending and endSending count the turns in flight per store so that
// isSending stays set until the last concurrent turn finishes.
func (p *Pipeline) beginSending(store *state.Store) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight[store]++
	store.SetSending(true)
}

func (p *Pipeline) endSending(store *state.Store) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.inflight[store] - 1; n > 0 {
		p.inflight[store] = n
		return
	}
	delete(p.inflight, store)
	store.SetSending(false)
}

func (p *Pipeline) voiceFor(role string) string {
	if p.personas == nil {
		return ""
	}
	if match, ok := p.personas.FindByID(role); ok {
		return match.Voice
	}
	return ""
}

// canceled reports an interrupted turn. It is not recorded as an error.
func (p *Pipeline) canceled(sessionID string) error {
	log.Printf("[pipeline] session=%s turn canceled", sessionID)
	return ErrCanceled
}

func (p *Pipeline) fail(sessionID string, store *state.Store, err error) error {
	log.Printf("[pipeline] session=%s error: %v", sessionID, err)
	store.SetError(err.Error())
	return err
}
