package ai

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/zhouzirui/agora/backend/internal/model/persona"
	"github.com/zhouzirui/agora/backend/internal/model/session"
)

// historyLimit caps how many committed turns are replayed to the model.
const historyLimit = 10

// resolvePersona maps a role id to its persona. Unknown roles get a bare
// persona named after the role so the prompt still reads naturally.
func resolvePersona(personas persona.Store, role string) persona.Persona {
	if personas != nil {
		if p, ok := personas.FindByID(role); ok {
			return p
		}
	}
	return persona.Persona{ID: role, Name: role}
}

// buildSystemPrompt renders the role instructions for the chat model.
func buildSystemPrompt(p persona.Persona) string {
	var b strings.Builder
	if p.Title != "" {
		fmt.Fprintf(&b, "你是%s，%s。", p.Name, p.Title)
	} else {
		fmt.Fprintf(&b, "你是%s。", p.Name)
	}
	if p.Description != "" {
		b.WriteString(p.Description)
	}

	b.WriteString("\n\n角色设定：")
	if p.Tone != "" {
		fmt.Fprintf(&b, "\n- 语气：%s", p.Tone)
	}
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, "\n- 性格：%s", strings.Join(p.Traits, "、"))
	}
	if p.PromptHint != "" {
		fmt.Fprintf(&b, "\n- 提示：%s", p.PromptHint)
	}

	b.WriteString("\n\n回复会被转换成语音播放，请使用口语化的短句，不要使用 Markdown、列表或表情符号。")
	fmt.Fprintf(&b, "\n请始终保持%s的角色一致性。", p.Name)
	return b.String()
}

// buildHistory converts the most recent finished turns into model messages.
// Turns still waiting for a reply are skipped.
func buildHistory(messages []session.ChatMessage) []*schema.Message {
	finished := make([]session.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.UserText == "" || msg.ReplyText == "" {
			continue
		}
		finished = append(finished, msg)
	}

	if len(finished) > historyLimit {
		finished = finished[len(finished)-historyLimit:]
	}
	if len(finished) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(finished)*2)
	for _, msg := range finished {
		history = append(history,
			schema.UserMessage(msg.UserText),
			schema.AssistantMessage(msg.ReplyText, nil),
		)
	}
	return history
}
