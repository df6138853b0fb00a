package gateway

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/gutche/yappin/module/chat/model"
)

// Wire events. Names match the client protocol the web app speaks.
const (
	EventCurrentUser      = "current user"
	EventActiveChats      = "active chats"
	EventUserConnected    = "user connected"
	EventUserDisconnected = "user disconnected"
	EventPrivateMessage   = "private message"
	EventError            = "error"
)

// Frame is the JSON envelope every websocket message travels in.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "unmarshal frame")
	}
	if f.Event == "" {
		return nil, errors.New("frame missing event")
	}
	return &f, nil
}

func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "marshal frame data")
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// PrivateMessageIn is the client's send-message request.
type PrivateMessageIn struct {
	Content   string `json:"content"`
	To        string `json:"to"`
	SentAt    int64  `json:"sent_at"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// CurrentUser is sent right after a successful handshake. Token is the
// reconnect token the client presents next time.
type CurrentUser struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// ActiveChat is one counterpart's entry in the hydration snapshot.
type ActiveChat struct {
	UserID          string          `json:"user_id"`
	Username        string          `json:"username"`
	Avatar          string          `json:"avatar,omitempty"`
	Connected       bool            `json:"connected"`
	Messages        []model.Message `json:"messages"`
	HasMoreMessages bool            `json:"hasMoreMessages"`
}

// PresenceOut announces a user's fleet-wide connect or disconnect.
type PresenceOut struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// ErrorOut is sent to the requesting connection only.
type ErrorOut struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
