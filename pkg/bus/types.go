package bus

// InboundKind classifies what a channel received from the user.
type InboundKind string

const (
	InboundText     InboundKind = "text"
	InboundVoice    InboundKind = "voice"
	InboundAudio    InboundKind = "audio"
	InboundDocument InboundKind = "document"
	InboundCommand  InboundKind = "command"
)

// OutboundKind classifies what the channel should deliver back.
type OutboundKind string

const (
	OutboundText   OutboundKind = "text"
	OutboundPhoto  OutboundKind = "photo"
	OutboundVoice  OutboundKind = "voice"
	OutboundTyping OutboundKind = "typing"
)

// InboundMessage is a normalized user message published by a channel.
// FileName and FileBytes are set only for voice, audio and document kinds.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Kind      InboundKind
	FileName  string
	FileBytes []byte
	Metadata  map[string]string
}

// OutboundMessage is a reply addressed to a specific channel and chat.
type OutboundMessage struct {
	Channel    string
	ChatID     string
	Kind       OutboundKind
	Content    string
	ImageURL   string
	AudioBytes []byte
}

// ConversationID keys per-conversation state. Channel-scoped so the same
// numeric chat id on two platforms never collides.
func (m InboundMessage) ConversationID() string {
	return m.Channel + ":" + m.ChatID
}
