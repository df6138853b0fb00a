package gateway

import (
	"context"

	"github.com/gutche/yappin/module/chat/model"
)

// DurableStore is the relational persistence collaborator. PersistMessage
// is synchronous and authoritative: a message the durable store rejected
// was never sent.
type DurableStore interface {
	PersistMessage(ctx context.Context, m model.Message) (string, error)
	LoadConversationPage(ctx context.Context, conversationID string, offset int) ([]model.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
	ConversationIDs(ctx context.Context, userID string) ([]string, error)
}

// ProfileDirectory is the read-only profile collaborator.
type ProfileDirectory interface {
	LookupUserProfile(ctx context.Context, userID string) (model.UserProfile, error)
}

// Authenticator is the external credential-auth collaborator, consulted
// only when a connection arrives without a resumable session.
type Authenticator interface {
	Authenticate(ctx context.Context, credentials string) (model.UserIdentity, error)
}
