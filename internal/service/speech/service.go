package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/zhouzirui/agora/backend/internal/config"
	"github.com/zhouzirui/agora/backend/internal/model/speech"
)

var (
	ErrEmptyAudio = errors.New("audio payload is empty")
	ErrEmptyText  = errors.New("text is empty")
)

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
}

// Synthesizer turns reply text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// audioClient is the subset of *openai.Client used here.
type audioClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// Service 语音服务，基于 OpenAI 兼容的音频接口实现 STT 与 TTS。
type Service struct {
	client audioClient
	cfg    config.SpeechConfig
	now    func() time.Time
}

// NewService creates a speech service from configuration.
func NewService(cfg config.SpeechConfig) *Service {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newServiceWithClient(openai.NewClientWithConfig(clientCfg), cfg)
}

func newServiceWithClient(client audioClient, cfg config.SpeechConfig) *Service {
	return &Service{
		client: client,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Transcribe 语音转文字
func (s *Service) Transcribe(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	if req == nil || req.AudioData == nil {
		return nil, ErrEmptyAudio
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	format := normalizeFormat(req.Format, "webm")
	language := req.Language
	if language == "" {
		language = s.cfg.STTLanguage
	}

	started := s.now()
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.cfg.STTModel,
		FilePath: fmt.Sprintf("%s.%s", fileStem(req.SessionID), format),
		Reader:   req.AudioData,
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	log.Printf("[speech] transcribed session=%s format=%s chars=%d", req.SessionID, format, len([]rune(text)))

	return &speech.ASRResponse{
		SessionID: req.SessionID,
		Text:      text,
		Language:  language,
		Duration:  s.now().Sub(started).Milliseconds(),
		CreatedAt: s.now(),
	}, nil
}

// Synthesize 文字转语音
func (s *Service) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	voice := req.Voice
	if voice == "" {
		voice = s.cfg.TTSVoice
	}
	speed := req.Speed
	if speed == 0 {
		speed = s.cfg.TTSSpeed
	}
	format := normalizeFormat(req.Format, "mp3")

	body, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.TTSModel),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormat(format),
		Speed:          float64(speed),
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer body.Close()

	audio, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}

	log.Printf("[speech] synthesized session=%s voice=%s bytes=%d", req.SessionID, voice, len(audio))
	return &speech.TTSResponse{
		SessionID: req.SessionID,
		AudioData: audio,
		Format:    format,
		CreatedAt: s.now(),
	}, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

func normalizeFormat(format, fallback string) string {
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if format == "" {
		return fallback
	}
	return format
}

func fileStem(sessionID string) string {
	if sessionID == "" {
		return "audio"
	}
	return sessionID
}
