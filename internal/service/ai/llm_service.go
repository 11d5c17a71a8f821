package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/agora/backend/internal/config"
	"github.com/zhouzirui/agora/backend/internal/model/persona"
	"github.com/zhouzirui/agora/backend/internal/model/session"
)

// Request describes one reply to generate.
type Request struct {
	SessionID string
	Role      string
	History   []session.ChatMessage
	UserText  string
}

// Replier produces assistant replies for a role.
type Replier interface {
	Reply(ctx context.Context, req Request) (string, error)
	// StreamReply calls onDelta with each new chunk and returns the full text.
	StreamReply(ctx context.Context, req Request, onDelta func(chunk string)) (string, error)
}

// Service generates persona replies through an eino chain over an Ark model.
type Service struct {
	chatModel model.ChatModel
	personas  persona.Store
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates a new AI service instance
func NewService(ctx context.Context, personas persona.Store, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, personas, cfg)
}

// NewServiceWithModel builds the chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, personas persona.Store, cfg config.AIConfig) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		personas:  personas,
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// StreamingEnabled 指示是否开启流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Reply runs the chain once and returns the whole answer.
func (s *Service) Reply(ctx context.Context, req Request) (string, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(req))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	log.Printf("[ai] generated reply session=%s role=%s length=%d", req.SessionID, req.Role, len(response.Content))
	return response.Content, nil
}

// StreamReply streams the answer chunk by chunk. With streaming disabled it
// falls back to a single Reply and reports it as one chunk.
func (s *Service) StreamReply(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	if !s.StreamingEnabled() {
		text, err := s.Reply(ctx, req)
		if err != nil {
			return "", err
		}
		if onDelta != nil && text != "" {
			onDelta(text)
		}
		return text, nil
	}

	stream, err := s.chain.Stream(ctx, s.buildChainInput(req))
	if err != nil {
		return "", fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return builder.String(), fmt.Errorf("failed to receive AI chunk: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		builder.WriteString(chunk.Content)
		if onDelta != nil {
			onDelta(chunk.Content)
		}
	}

	log.Printf("[ai] streamed reply session=%s role=%s length=%d", req.SessionID, req.Role, builder.Len())
	return builder.String(), nil
}

func (s *Service) buildChainInput(req Request) map[string]any {
	return map[string]any{
		"system":  buildSystemPrompt(resolvePersona(s.personas, req.Role)),
		"history": buildHistory(req.History),
		"query":   req.UserText,
	}
}
