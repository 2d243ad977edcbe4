// ABOUTME: Frame types exchanged over user and operator channels
// ABOUTME: A closed set of variants, each serialized with its "type" discriminator

package protocol

import "encoding/json"

// FrameType is the wire discriminator carried in every frame's "type" field.
type FrameType string

// Inbound frame types.
const (
	TypeMessage  FrameType = "message"
	TypeTakeover FrameType = "takeover"
	TypeReply    FrameType = "reply"
	TypeResolve  FrameType = "resolve"
)

// Outbound frame types.
const (
	TypeAgentJoined   FrameType = "agent_joined"
	TypeAgentMessage  FrameType = "agent_message"
	TypeHumanAlert    FrameType = "human_alert"
	TypeError         FrameType = "error"
	TypeBotMessage    FrameType = "bot_message"
	TypeSessionClosed FrameType = "session_closed"
	TypeOK            FrameType = "ok"
	TypeUserMessage   FrameType = "user_message"
	TypeNewAlert      FrameType = "NEW_ALERT"
)

// Actions reported in OK frames.
const (
	ActionTakenOver = "taken_over"
	ActionResolved  = "resolved"
)

// Frame is implemented only by the types in this package.
type Frame interface {
	Type() FrameType
	frame()
}

// UserFrame is a frame a user channel may send.
type UserFrame interface {
	Frame
	userFrame()
}

// OperatorFrame is a frame an operator channel may send.
type OperatorFrame interface {
	Frame
	operatorFrame()
}

// Message is a user's chat turn.
type Message struct {
	Message string `json:"message"`
}

// Takeover asks to claim a pending conversation.
type Takeover struct {
	SessID int64 `json:"sess_id"`
}

// Reply is an operator's turn in a claimed conversation.
type Reply struct {
	SessID  int64  `json:"sess_id"`
	Message string `json:"message"`
}

// Resolve closes a claimed conversation.
type Resolve struct {
	SessID int64 `json:"sess_id"`
}

// AgentJoined tells the user an operator claimed the conversation.
type AgentJoined struct {
	AgentID int64  `json:"agent_id"`
	Message string `json:"message"`
}

// AgentMessage relays an operator's reply to the user.
type AgentMessage struct {
	Message string `json:"message"`
	AgentID int64  `json:"agent_id"`
}

// HumanAlert tells the user a human has been notified.
type HumanAlert struct {
	Message string `json:"message"`
}

// Error reports a failed request on either channel kind.
type Error struct {
	Message string `json:"message"`
}

// BotMessage carries the automated answer to a user turn.
type BotMessage struct {
	Message string `json:"message"`
}

// SessionClosed tells the user the operator resolved the conversation.
type SessionClosed struct {
	Message string `json:"message"`
}

// OK acknowledges an operator action.
type OK struct {
	Action string `json:"action"`
	SessID int64  `json:"sess_id"`
}

// UserMessage relays a user turn to the assigned operator.
type UserMessage struct {
	SessID  int64  `json:"sess_id"`
	Message string `json:"message"`
}

// NewAlert is broadcast to every operator when a conversation escalates.
type NewAlert struct {
	SessID    int64 `json:"sess_id"`
	SessionID int64 `json:"session_id"`
}

func (Message) Type() FrameType       { return TypeMessage }
func (Takeover) Type() FrameType      { return TypeTakeover }
func (Reply) Type() FrameType         { return TypeReply }
func (Resolve) Type() FrameType       { return TypeResolve }
func (AgentJoined) Type() FrameType   { return TypeAgentJoined }
func (AgentMessage) Type() FrameType  { return TypeAgentMessage }
func (HumanAlert) Type() FrameType    { return TypeHumanAlert }
func (Error) Type() FrameType         { return TypeError }
func (BotMessage) Type() FrameType    { return TypeBotMessage }
func (SessionClosed) Type() FrameType { return TypeSessionClosed }
func (OK) Type() FrameType            { return TypeOK }
func (UserMessage) Type() FrameType   { return TypeUserMessage }
func (NewAlert) Type() FrameType      { return TypeNewAlert }

func (Message) frame()       {}
func (Takeover) frame()      {}
func (Reply) frame()         {}
func (Resolve) frame()       {}
func (AgentJoined) frame()   {}
func (AgentMessage) frame()  {}
func (HumanAlert) frame()    {}
func (Error) frame()         {}
func (BotMessage) frame()    {}
func (SessionClosed) frame() {}
func (OK) frame()            {}
func (UserMessage) frame()   {}
func (NewAlert) frame()      {}

func (Message) userFrame() {}

func (Takeover) operatorFrame() {}
func (Reply) operatorFrame()    {}
func (Resolve) operatorFrame()  {}

// Encode serializes a frame with its type discriminator first.
func Encode(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	typ, err := json.Marshal(f.Type())
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+len(typ)+10)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}
