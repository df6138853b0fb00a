package gateway

import (
	"context"
	"sort"

	"github.com/gutche/yappin/logger"
	"github.com/gutche/yappin/module/chat/model"
)

// activeChats builds the hydration snapshot: cache first, durable
// fallback when the ring holds less than a full page. The durable read
// for each conversation starts at that conversation's cached count, so
// the two sources concatenate with no gap and no duplicate. Store
// failures degrade to a smaller snapshot, never an error to the client.
func (s *Server) activeChats(ctx context.Context, userID string) []ActiveChat {
	cached, err := s.cache.RecentForUser(ctx, userID)
	if err != nil {
		logger.Warnf("[gateway] cache read user=%s: %v", userID, err)
		cached = nil
	}

	cachedByConv := make(map[string]int)
	for _, m := range cached {
		cachedByConv[m.ConversationID]++
	}

	var msgs []model.Message
	if len(cached) < s.opts.PageSize {
		convIDs, err := s.durable.ConversationIDs(ctx, userID)
		if err != nil {
			logger.Warnf("[gateway] conversation ids user=%s: %v", userID, err)
		}
		for _, conv := range convIDs {
			page, err := s.durable.LoadConversationPage(ctx, conv, cachedByConv[conv])
			if err != nil {
				logger.Warnf("[gateway] durable page conv=%s: %v", conv, err)
				continue
			}
			msgs = append(msgs, page...)
		}
	}
	msgs = append(msgs, cached...)
	if len(msgs) == 0 {
		return []ActiveChat{}
	}

	loadedByConv := make(map[string]int)
	for _, m := range msgs {
		loadedByConv[m.ConversationID]++
	}

	// group by counterpart, preserving first-seen order
	var order []string
	byUser := make(map[string]*ActiveChat)
	for _, m := range msgs {
		other := m.Counterpart(userID)
		chat, ok := byUser[other]
		if !ok {
			chat = &ActiveChat{UserID: other}
			byUser[other] = chat
			order = append(order, other)
		}
		chat.Messages = append(chat.Messages, m)
	}

	chats := make([]ActiveChat, 0, len(order))
	for _, other := range order {
		chat := byUser[other]
		sort.SliceStable(chat.Messages, func(i, j int) bool {
			return chat.Messages[i].SentAt < chat.Messages[j].SentAt
		})
		s.annotateChat(ctx, userID, chat, loadedByConv)
		chats = append(chats, *chat)
	}
	return chats
}

func (s *Server) annotateChat(ctx context.Context, userID string, chat *ActiveChat, loadedByConv map[string]int) {
	if prof, err := s.profiles.LookupUserProfile(ctx, chat.UserID); err != nil {
		logger.Warnf("[gateway] profile lookup user=%s: %v", chat.UserID, err)
	} else {
		chat.Username = prof.Username
		chat.Avatar = prof.Avatar
	}

	online, err := s.presence.IsOnline(ctx, chat.UserID)
	if err != nil {
		logger.Warnf("[gateway] presence lookup user=%s: %v", chat.UserID, err)
		online = false
	}
	chat.Connected = online

	conv := model.ConversationID(userID, chat.UserID)
	total, err := s.durable.CountMessages(ctx, conv)
	if err != nil {
		logger.Warnf("[gateway] message count conv=%s: %v", conv, err)
		return
	}
	chat.HasMoreMessages = total > loadedByConv[conv]
}
