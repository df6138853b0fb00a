package model

import "strings"

// UserIdentity is the authenticated identity attached to a connection.
// Owned by the external account subsystem; immutable input here.
type UserIdentity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// UserProfile is the read-only projection the profile collaborator serves.
type UserProfile struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Session is the per-reconnect-token record in the shared session store.
// It survives worker restarts; the Connected flag is last-write-wins.
type Session struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Connected bool   `json:"connected"`
}

// Message is a private message between two users. The cache copy and the
// durable copy share this shape; ConversationID is filled in once the
// durable store has accepted the message.
type Message struct {
	Content        string `json:"content"`
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
	SentAt         int64  `json:"sent_at"`
	ConversationID string `json:"conversation_id,omitempty"`
	MediaURL       string `json:"media_url,omitempty"`
	MediaType      string `json:"media_type,omitempty"`
}

const convPrefix = "dm:"

// escapeMember percent-encodes the separator and the escape character in
// a user id. Ids are opaque strings; one containing ":" must not shift
// the member boundary or collide with a different pair.
func escapeMember(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	return strings.ReplaceAll(s, ":", "%3A")
}

func unescapeMember(s string) string {
	s = strings.ReplaceAll(s, "%3A", ":")
	return strings.ReplaceAll(s, "%25", "%")
}

// ConversationID derives the conversation identifier for a participant
// pair. It is a pure commutative function: both sides compute the same
// value without negotiation, and the durable store uses it as the
// conversation key.
func ConversationID(a, b string) string {
	a, b = escapeMember(a), escapeMember(b)
	if b < a {
		a, b = b, a
	}
	return convPrefix + a + ":" + b
}

// ConversationMembers splits a conversation id back into its two
// participant ids. Returns false for malformed ids; a well-formed id
// holds exactly one separator between its escaped members.
func ConversationMembers(conversationID string) (string, string, bool) {
	rest, ok := strings.CutPrefix(conversationID, convPrefix)
	if !ok {
		return "", "", false
	}
	a, b, ok := strings.Cut(rest, ":")
	if !ok || a == "" || b == "" || strings.Contains(b, ":") {
		return "", "", false
	}
	return unescapeMember(a), unescapeMember(b), true
}

// Counterpart returns the other participant from userID's point of view.
func (m Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}
