package ai

import (
	"context"
	"fmt"
)

// roleReplies are offline canned answers keyed by role, used when no model
// credentials are configured. %s is replaced with the user's text.
var roleReplies = map[string]string{
	"socrates":     "有趣的问题。让我问你：%s 这个问题背后，你真正想了解的是什么？",
	"storyteller":  "让我为你讲一个故事。从前有一个勇敢的冒险者，他听到了'%s'，于是踏上了寻找答案的旅程...",
	"interviewer":  "这是一个很好的问题。基于你提到的'%s'，我想进一步了解你的想法。",
	"harry_potter": "哇！关于'%s'，这让我想起了在霍格沃茨的时光。你知道吗，魔法世界中有很多类似的奇妙现象！",
	"sherlock":     "从你提到的'%s'中，我观察到几个关键细节。让我分析一下这个情况...",
	"einstein":     "关于'%s'，这让我想起了相对论。你知道吗，时间和空间的关系比我们想象的要复杂得多。",
}

const genericReply = "我理解你说的'%s'。这是一个很有趣的话题，让我们继续探讨吧。"

// TemplateReplier answers from fixed per-role templates.
type TemplateReplier struct{}

// NewTemplateReplier returns the offline replier.
func NewTemplateReplier() *TemplateReplier {
	return &TemplateReplier{}
}

func (TemplateReplier) Reply(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	format, ok := roleReplies[req.Role]
	if !ok {
		format = genericReply
	}
	return fmt.Sprintf(format, req.UserText), nil
}

func (r TemplateReplier) StreamReply(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	text, err := r.Reply(ctx, req)
	if err != nil {
		return "", err
	}
	if onDelta != nil {
		onDelta(text)
	}
	return text, nil
}
