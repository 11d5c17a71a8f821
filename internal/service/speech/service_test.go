package speech

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agora/backend/internal/config"
	"github.com/zhouzirui/agora/backend/internal/model/speech"
)

type fakeAudioClient struct {
	transcription openai.AudioRequest
	speechReq     openai.CreateSpeechRequest
	audio         []byte
	text          string
	err           error
	hadDeadline   bool
}

func (f *fakeAudioClient) CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	_, f.hadDeadline = ctx.Deadline()
	f.transcription = req
	if f.err != nil {
		return openai.AudioResponse{}, f.err
	}
	return openai.AudioResponse{Text: f.text}, nil
}

func (f *fakeAudioClient) CreateSpeech(ctx context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error) {
	_, f.hadDeadline = ctx.Deadline()
	f.speechReq = req
	if f.err != nil {
		return openai.RawResponse{}, f.err
	}
	return openai.RawResponse{ReadCloser: io.NopCloser(bytes.NewReader(f.audio))}, nil
}

func testConfig() config.SpeechConfig {
	return config.SpeechConfig{
		STTModel:    "whisper-1",
		STTLanguage: "zh",
		TTSModel:    "tts-1",
		TTSVoice:    "alloy",
		TTSSpeed:    1.0,
		Timeout:     5 * time.Second,
		Enabled:     true,
	}
}

func TestTranscribe(t *testing.T) {
	client := &fakeAudioClient{text: "  你好  "}
	svc := newServiceWithClient(client, testConfig())

	resp, err := svc.Transcribe(context.Background(), &speech.ASRRequest{
		SessionID: "s1",
		AudioData: bytes.NewReader([]byte{1, 2, 3}),
		Format:    ".WEBM",
	})
	require.NoError(t, err)

	assert.Equal(t, "你好", resp.Text)
	assert.Equal(t, "zh", resp.Language)
	assert.Equal(t, "s1.webm", client.transcription.FilePath)
	assert.Equal(t, "whisper-1", client.transcription.Model)
	assert.True(t, client.hadDeadline)
}

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	svc := newServiceWithClient(&fakeAudioClient{}, testConfig())

	_, err := svc.Transcribe(context.Background(), &speech.ASRRequest{})
	assert.ErrorIs(t, err, ErrEmptyAudio)
}

func TestTranscribeWrapsClientError(t *testing.T) {
	boom := errors.New("boom")
	svc := newServiceWithClient(&fakeAudioClient{err: boom}, testConfig())

	_, err := svc.Transcribe(context.Background(), &speech.ASRRequest{AudioData: bytes.NewReader([]byte{1})})
	assert.ErrorIs(t, err, boom)
}

func TestSynthesizeUsesDefaults(t *testing.T) {
	client := &fakeAudioClient{audio: []byte("mp3-bytes")}
	svc := newServiceWithClient(client, testConfig())

	resp, err := svc.Synthesize(context.Background(), &speech.TTSRequest{SessionID: "s1", Text: "你好"})
	require.NoError(t, err)

	assert.Equal(t, []byte("mp3-bytes"), resp.AudioData)
	assert.Equal(t, "mp3", resp.Format)
	assert.Equal(t, openai.SpeechVoice("alloy"), client.speechReq.Voice)
	assert.Equal(t, openai.SpeechModel("tts-1"), client.speechReq.Model)
	assert.InDelta(t, 1.0, client.speechReq.Speed, 0.001)
}

func TestSynthesizeVoiceOverride(t *testing.T) {
	client := &fakeAudioClient{audio: []byte("x")}
	svc := newServiceWithClient(client, testConfig())

	_, err := svc.Synthesize(context.Background(), &speech.TTSRequest{Text: "hi", Voice: "onyx", Speed: 1.5, Format: "wav"})
	require.NoError(t, err)
	assert.Equal(t, openai.SpeechVoice("onyx"), client.speechReq.Voice)
	assert.Equal(t, openai.SpeechResponseFormat("wav"), client.speechReq.ResponseFormat)
	assert.InDelta(t, 1.5, client.speechReq.Speed, 0.001)
}

func TestSynthesizeRejectsBlankText(t *testing.T) {
	svc := newServiceWithClient(&fakeAudioClient{}, testConfig())

	_, err := svc.Synthesize(context.Background(), &speech.TTSRequest{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyText)
}
