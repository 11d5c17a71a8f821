package session

// ChatMessage is one exchanged conversational turn shown in the transcript.
type ChatMessage struct {
	ID        string  `json:"id"`
	UserText  string  `json:"userText"`
	ReplyText string  `json:"replyText"`
	AudioURL  *string `json:"audioUrl,omitempty"`
}

// Clone returns a copy that shares no pointers with m.
func (m ChatMessage) Clone() ChatMessage {
	if m.AudioURL != nil {
		url := *m.AudioURL
		m.AudioURL = &url
	}
	return m
}

// MessagePatch carries one optional slot per mutable ChatMessage field.
// A nil slot leaves the field untouched. The ID is not patchable.
type MessagePatch struct {
	UserText  *string `json:"userText,omitempty"`
	ReplyText *string `json:"replyText,omitempty"`
	AudioURL  *string `json:"audioUrl,omitempty"`
}

// Apply overwrites the fields set in p and keeps the rest of m.
func (p MessagePatch) Apply(m ChatMessage) ChatMessage {
	if p.UserText != nil {
		m.UserText = *p.UserText
	}
	if p.ReplyText != nil {
		m.ReplyText = *p.ReplyText
	}
	if p.AudioURL != nil {
		url := *p.AudioURL
		m.AudioURL = &url
	}
	return m
}

// Empty reports whether the patch changes nothing.
func (p MessagePatch) Empty() bool {
	return p.UserText == nil && p.ReplyText == nil && p.AudioURL == nil
}

// Text is a helper for building patches inline.
func Text(s string) *string {
	return &s
}
