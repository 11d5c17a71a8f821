package conversation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agora/backend/internal/model/persona"
	"github.com/zhouzirui/agora/backend/internal/model/session"
	speechModel "github.com/zhouzirui/agora/backend/internal/model/speech"
	"github.com/zhouzirui/agora/backend/internal/service/ai"
	"github.com/zhouzirui/agora/backend/internal/service/state"
)

type fakeReplier struct {
	chunks []string
	err    error
	last   ai.Request
}

func (f *fakeReplier) Reply(_ context.Context, req ai.Request) (string, error) {
	f.last = req
	if f.err != nil {
		return "", f.err
	}
	var text string
	for _, c := range f.chunks {
		text += c
	}
	return text, nil
}

func (f *fakeReplier) StreamReply(ctx context.Context, req ai.Request, onDelta func(string)) (string, error) {
	text, err := f.Reply(ctx, req)
	if err != nil {
		return "", err
	}
	for _, c := range f.chunks {
		onDelta(c)
	}
	return text, nil
}

// blockingReplier holds each StreamReply open until release is closed.
type blockingReplier struct {
	started chan string
	release chan struct{}
}

func (b *blockingReplier) Reply(ctx context.Context, req ai.Request) (string, error) {
	return b.StreamReply(ctx, req, nil)
}

func (b *blockingReplier) StreamReply(ctx context.Context, req ai.Request, _ func(string)) (string, error) {
	b.started <- req.UserText
	select {
	case <-b.release:
		return "ok:" + req.UserText, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type fakeTranscriber struct {
	text  string
	err   error
	audio []byte
	req   *speechModel.ASRRequest
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req *speechModel.ASRRequest) (*speechModel.ASRResponse, error) {
	f.req = req
	f.audio, _ = io.ReadAll(req.AudioData)
	if f.err != nil {
		return nil, f.err
	}
	return &speechModel.ASRResponse{SessionID: req.SessionID, Text: f.text}, nil
}

type fakeSynthesizer struct {
	err error
	req *speechModel.TTSRequest
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, req *speechModel.TTSRequest) (*speechModel.TTSResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &speechModel.TTSResponse{AudioData: []byte("mp3:" + req.Text), Format: "mp3"}, nil
}

type fakeAudioStore struct {
	clips map[string][]byte
}

func (f *fakeAudioStore) Put(data []byte, _ string) string {
	if f.clips == nil {
		f.clips = map[string][]byte{}
	}
	id := "clip-1"
	f.clips[id] = data
	return id
}

func (f *fakeAudioStore) URL(id string) string { return "/api/audio/" + id }

func fixedID() func() string {
	return func() string { return "m1" }
}

func recordFields(store *state.Store) *[]session.Field {
	var fields []session.Field
	store.Observe(func(c session.Change) { fields = append(fields, c.Field) })
	return &fields
}

func TestHandleTextCommitsTurn(t *testing.T) {
	replier := &fakeReplier{chunks: []string{"你", "好"}}
	p := New(replier, WithIDGenerator(fixedID()))
	store := state.NewStore()
	store.PushMessage(session.ChatMessage{ID: "m0", UserText: "早", ReplyText: "早安"})

	var replies []string
	var sendingSeen bool
	store.Observe(func(c session.Change) {
		if c.Field == session.FieldReplyText {
			replies = append(replies, c.State.ReplyText)
		}
		if c.State.IsSending {
			sendingSeen = true
		}
	})

	turn, err := p.HandleText(context.Background(), "s1", store, "  在吗  ")
	require.NoError(t, err)

	assert.Equal(t, &Turn{MessageID: "m1", UserText: "在吗", ReplyText: "你好"}, turn)
	assert.Equal(t, []string{"", "你", "你好", "你好"}, replies)
	assert.True(t, sendingSeen)

	snap := store.Snapshot()
	assert.False(t, snap.IsSending)
	assert.Equal(t, "", snap.Error)
	assert.Equal(t, "你好", snap.ReplyText)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, session.ChatMessage{ID: "m1", UserText: "在吗", ReplyText: "你好"}, snap.Messages[1])

	assert.Equal(t, "socrates", replier.last.Role)
	assert.Equal(t, "s1", replier.last.SessionID)
	require.Len(t, replier.last.History, 1)
	assert.Equal(t, "m0", replier.last.History[0].ID)
}

func TestHandleTextEmptySetsError(t *testing.T) {
	p := New(&fakeReplier{})
	store := state.NewStore()

	_, err := p.HandleText(context.Background(), "s1", store, "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, ErrEmptyText.Error(), store.Error())
	assert.Empty(t, store.Messages())
}

func TestHandleTextReplyFailure(t *testing.T) {
	p := New(&fakeReplier{err: errors.New("upstream 500")}, WithIDGenerator(fixedID()))
	store := state.NewStore()

	_, err := p.HandleText(context.Background(), "s1", store, "hi")
	require.ErrorIs(t, err, ErrReplyFailed)

	snap := store.Snapshot()
	assert.Contains(t, snap.Error, "upstream 500")
	assert.False(t, snap.IsSending)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "", snap.Messages[0].ReplyText)
}

func TestHandleTextClearsPreviousError(t *testing.T) {
	p := New(&fakeReplier{chunks: []string{"ok"}})
	store := state.NewStore()
	store.SetError("net fail")

	_, err := p.HandleText(context.Background(), "s1", store, "retry")
	require.NoError(t, err)
	assert.Equal(t, "", store.Error())
}

func TestHandleTextSynthesizesAudio(t *testing.T) {
	synth := &fakeSynthesizer{}
	audio := &fakeAudioStore{}
	p := New(&fakeReplier{chunks: []string{"hello"}},
		WithIDGenerator(fixedID()),
		WithSynthesizer(synth, audio),
		WithPersonas(persona.NewMemoryStore(persona.Seed())),
	)
	store := state.NewStore(state.WithRole("storyteller"))

	turn, err := p.HandleText(context.Background(), "s1", store, "tell me")
	require.NoError(t, err)

	assert.Equal(t, "/api/audio/clip-1", turn.AudioURL)
	assert.Equal(t, []byte("mp3:hello"), turn.Audio)
	assert.Equal(t, "fable", synth.req.Voice)

	msg := store.Messages()[0]
	require.NotNil(t, msg.AudioURL)
	assert.Equal(t, "/api/audio/clip-1", *msg.AudioURL)
	assert.Equal(t, "hello", msg.ReplyText)
}

func TestHandleTextSynthesisFailureKeepsReply(t *testing.T) {
	p := New(&fakeReplier{chunks: []string{"hello"}},
		WithIDGenerator(fixedID()),
		WithSynthesizer(&fakeSynthesizer{err: errors.New("quota")}, &fakeAudioStore{}),
	)
	store := state.NewStore()

	turn, err := p.HandleText(context.Background(), "s1", store, "hi")
	require.ErrorIs(t, err, ErrSynthesisFailed)
	require.NotNil(t, turn)
	assert.Equal(t, "hello", turn.ReplyText)

	msg := store.Messages()[0]
	assert.Equal(t, "hello", msg.ReplyText)
	assert.Nil(t, msg.AudioURL)
	assert.Contains(t, store.Error(), "quota")
}

func TestHandleAudioTranscribesAndReplies(t *testing.T) {
	transcriber := &fakeTranscriber{text: "什么是美德"}
	p := New(&fakeReplier{chunks: []string{"你认为呢？"}}, WithIDGenerator(fixedID()), WithTranscriber(transcriber))
	store := state.NewStore()
	p.StartRecording(store)
	require.True(t, store.IsRecording())

	fields := recordFields(store)
	turn, err := p.HandleAudio(context.Background(), "s1", store, []byte{1, 2, 3}, "webm")
	require.NoError(t, err)

	assert.Equal(t, "什么是美德", turn.UserText)
	assert.Equal(t, []byte{1, 2, 3}, transcriber.audio)
	assert.Equal(t, "webm", transcriber.req.Format)

	snap := store.Snapshot()
	assert.False(t, snap.IsRecording)
	assert.False(t, snap.IsSending)
	assert.Equal(t, "什么是美德", snap.STTText)
	assert.Equal(t, "你认为呢？", snap.ReplyText)

	assert.Equal(t, session.FieldIsRecording, (*fields)[0])
	assert.Contains(t, *fields, session.FieldSTTText)
	assert.Equal(t, session.FieldIsSending, (*fields)[len(*fields)-1])
}

func TestHandleAudioWithoutTranscriber(t *testing.T) {
	p := New(&fakeReplier{})
	store := state.NewStore()
	store.SetRecording(true)

	_, err := p.HandleAudio(context.Background(), "s1", store, []byte{1}, "webm")
	assert.ErrorIs(t, err, ErrSpeechDisabled)
	assert.False(t, store.IsRecording())
	assert.Equal(t, ErrSpeechDisabled.Error(), store.Error())
	assert.False(t, p.SpeechEnabled())
}

func TestHandleAudioEmptyPayload(t *testing.T) {
	p := New(&fakeReplier{}, WithTranscriber(&fakeTranscriber{}))
	store := state.NewStore()

	_, err := p.HandleAudio(context.Background(), "s1", store, nil, "webm")
	assert.Error(t, err)
	assert.NotEmpty(t, store.Error())
}

func TestHandleAudioNoSpeech(t *testing.T) {
	p := New(&fakeReplier{}, WithTranscriber(&fakeTranscriber{text: "  "}))
	store := state.NewStore()

	_, err := p.HandleAudio(context.Background(), "s1", store, []byte{1}, "webm")
	assert.ErrorIs(t, err, ErrNoSpeech)
	assert.Empty(t, store.Messages())
	assert.False(t, store.IsSending())
}

func TestHandleAudioTranscriptionFailure(t *testing.T) {
	p := New(&fakeReplier{}, WithTranscriber(&fakeTranscriber{err: errors.New("bad codec")}))
	store := state.NewStore()

	_, err := p.HandleAudio(context.Background(), "s1", store, []byte{1}, "webm")
	assert.ErrorIs(t, err, ErrTranscribeFailed)
	assert.Contains(t, store.Error(), "bad codec")
}

func TestCancelRecording(t *testing.T) {
	p := New(&fakeReplier{})
	store := state.NewStore()
	p.StartRecording(store)
	p.CancelRecording(store)
	assert.False(t, store.IsRecording())
}

func TestConcurrentTurnsKeepSendingUntilLastFinishes(t *testing.T) {
	replier := &blockingReplier{started: make(chan string, 2), release: make(chan struct{})}
	p := New(replier)
	store := state.NewStore()

	finished := make(chan string, 2)
	for _, text := range []string{"slow", "fast"} {
		go func(text string) {
			_, err := p.HandleText(context.Background(), "s1", store, text)
			assert.NoError(t, err)
			finished <- text
		}(text)
	}
	for range 2 {
		select {
		case <-replier.started:
		case <-time.After(time.Second):
			t.Fatal("turn never reached the replier")
		}
	}
	require.True(t, store.IsSending())

	replier.release <- struct{}{}
	<-finished
	assert.True(t, store.IsSending(), "one turn is still streaming")

	replier.release <- struct{}{}
	<-finished
	assert.False(t, store.IsSending())
	assert.Empty(t, p.inflight)
	assert.Len(t, store.Messages(), 2)
}

func TestHandleTextCanceledIsNotAnError(t *testing.T) {
	replier := &blockingReplier{started: make(chan string, 1), release: make(chan struct{})}
	p := New(replier, WithIDGenerator(fixedID()))
	store := state.NewStore()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-replier.started
		cancel()
	}()

	turn, err := p.HandleText(ctx, "s1", store, "讲个故事")
	assert.Nil(t, turn)
	assert.ErrorIs(t, err, ErrCanceled)

	snap := store.Snapshot()
	assert.Equal(t, "", snap.Error)
	assert.False(t, snap.IsSending)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "", snap.Messages[0].ReplyText)
}
