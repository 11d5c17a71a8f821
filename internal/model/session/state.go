package session

// DefaultRole is the persona selected when a session starts.
const DefaultRole = "socrates"

// State is the UI-facing record of a single conversation session.
type State struct {
	STTText     string        `json:"sttText"`
	ReplyText   string        `json:"replyText"`
	Role        string        `json:"role"`
	Messages    []ChatMessage `json:"messages"`
	IsRecording bool          `json:"isRecording"`
	IsSending   bool          `json:"isSending"`
	Error       string        `json:"error"`
}

// NewState returns the initial state for a fresh session.
func NewState(role string) State {
	return State{
		Role:     role,
		Messages: []ChatMessage{},
	}
}

// Clone deep-copies the state, including every message.
func (s State) Clone() State {
	messages := make([]ChatMessage, len(s.Messages))
	for i, msg := range s.Messages {
		messages[i] = msg.Clone()
	}
	s.Messages = messages
	return s
}

// Field names the part of State touched by a mutation.
type Field string

const (
	FieldSTTText     Field = "sttText"
	FieldReplyText   Field = "replyText"
	FieldRole        Field = "role"
	FieldMessages    Field = "messages"
	FieldIsRecording Field = "isRecording"
	FieldIsSending   Field = "isSending"
	FieldError       Field = "error"
)

// Change is delivered to observers after every mutation.
type Change struct {
	Field Field `json:"field"`
	State State `json:"state"`
}
