package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/gutche/yappin/logger"
	"github.com/gutche/yappin/module/chat/model"
	"github.com/gutche/yappin/service/bus"
	"github.com/gutche/yappin/tools/errs"
	"github.com/gutche/yappin/tools/safe"
)

var (
	messagesSent         = metrics.NewCounter("yappin_messages_sent_total")
	durableWriteFailures = metrics.NewCounter("yappin_durable_write_failures_total")
	fanoutLocalFallbacks = metrics.NewCounter("yappin_fanout_local_fallbacks_total")
)

const hydrateTimeout = 10 * time.Second

const (
	presenceRetryAttempts = 5
	presenceRetryDelay    = 100 * time.Millisecond
)

// retryPresence re-attempts a failed presence transition off the hot
// path. A store blip during a connect or last-close must not strand the
// fleet-wide online set; the transition converges once the store answers
// again, bounded so a dead store doesn't accumulate goroutines.
func (s *Server) retryPresence(what string, op func(ctx context.Context) error) {
	safe.Go(func() {
		for attempt := 1; attempt <= presenceRetryAttempts; attempt++ {
			time.Sleep(presenceRetryDelay)
			ctx, cancel := s.storeCtx()
			err := op(ctx)
			cancel()
			if err == nil {
				return
			}
			logger.Warnf("[gateway] presence %s attempt %d: %v", what, attempt, err)
		}
		logger.Errorf("[gateway] presence %s gave up after %d attempts", what, presenceRetryAttempts)
	})
}

// announcePresence broadcasts a connect or disconnect edge reached from a
// retry, where the original request-scoped context is long gone.
func (s *Server) announcePresence(event string, client *Client) {
	ctx, cancel := s.storeCtx()
	defer cancel()
	out := PresenceOut{UserID: client.UserID}
	if event == EventUserConnected {
		out.Username = client.Username
	}
	s.broadcast(ctx, event, out, client.UserID)
}

// publishRoom fans an event out to every connection of the room's user,
// fleet-wide. A bus failure downgrades to local-only delivery: remote
// sockets miss the event (at-most-once, not retried), local ones don't.
func (s *Server) publishRoom(ctx context.Context, room, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		logger.Warnf("[gateway] marshal %s event: %v", event, err)
		return
	}
	env := bus.Envelope{Event: event, Data: raw}
	if err := s.bus.PublishRoom(ctx, room, env); err != nil {
		fanoutLocalFallbacks.Inc()
		logger.Warnf("[gateway] bus publish room=%s: %v, delivering locally", room, err)
		env.Room = room
		s.Deliver(env)
	}
}

func (s *Server) broadcast(ctx context.Context, event string, data any, excludeUser string) {
	raw, err := json.Marshal(data)
	if err != nil {
		logger.Warnf("[gateway] marshal %s event: %v", event, err)
		return
	}
	env := bus.Envelope{Event: event, Data: raw, ExcludeUser: excludeUser}
	if err := s.bus.Broadcast(ctx, env); err != nil {
		fanoutLocalFallbacks.Inc()
		logger.Warnf("[gateway] bus broadcast: %v, delivering locally", err)
		s.Deliver(env)
	}
}

// onConnected moves the connection from authenticated to active:
// registration, room join, session update, presence, and the async
// hydration snapshot.
func (s *Server) onConnected(client *Client) {
	s.conns.Add(client)
	go client.writePump()
	logger.Infof("[gateway %s] conn open conn=%s user=%s", s.opts.GatewayID, client.ConnID, client.UserID)

	if err := s.bus.JoinRoom(client.UserID); err != nil {
		logger.Warnf("[gateway] join room user=%s: %v", client.UserID, err)
	}

	ctx, cancel := s.storeCtx()
	defer cancel()

	rec := model.Session{UserID: client.UserID, Username: client.Username, Connected: true}
	if err := s.sessions.Save(ctx, client.Token, rec); err != nil {
		logger.Warnf("[gateway] session save user=%s: %v", client.UserID, err)
	}

	s.sendFrame(client, EventCurrentUser, CurrentUser{
		UserID:   client.UserID,
		Username: client.Username,
		Token:    client.Token,
	})

	// the connect event fires only on the offline -> online edge; the
	// store's atomic add reports the edge, so a second tab is silent and
	// two workers racing a first connect announce it exactly once
	wentOnline, err := s.presence.MarkOnline(ctx, client.UserID)
	if err != nil {
		logger.Warnf("[gateway] presence mark online user=%s: %v", client.UserID, err)
		s.retryPresence("mark online", func(rctx context.Context) error {
			went, rerr := s.presence.MarkOnline(rctx, client.UserID)
			if rerr != nil {
				return rerr
			}
			if went {
				s.announcePresence(EventUserConnected, client)
			}
			return nil
		})
	}
	if wentOnline {
		s.broadcast(ctx, EventUserConnected, PresenceOut{
			UserID:   client.UserID,
			Username: client.Username,
		}, client.UserID)
	}

	safe.Go(func() {
		hctx, hcancel := context.WithTimeout(context.Background(), hydrateTimeout)
		defer hcancel()
		chats := s.activeChats(hctx, client.UserID)
		s.sendFrame(client, EventActiveChats, chats)
	})
}

// handlePrivateMessage is the steady-state send path. The durable write
// comes first and is authoritative: on failure the sender gets an error
// and nothing is fanned out, so no recipient ever sees a message the
// durable store doesn't hold.
func (s *Server) handlePrivateMessage(client *Client, data json.RawMessage) {
	var in PrivateMessageIn
	if err := json.Unmarshal(data, &in); err != nil {
		s.sendFrame(client, EventError, ErrorOut{Code: errs.CodeBadRequest, Message: "malformed message"})
		return
	}
	if in.To == "" || in.To == client.UserID || (in.Content == "" && in.MediaURL == "") {
		s.sendFrame(client, EventError, ErrorOut{Code: errs.CodeBadRequest, Message: "invalid recipient or empty message"})
		return
	}
	if in.SentAt == 0 {
		in.SentAt = time.Now().UnixMilli()
	}

	msg := model.Message{
		Content:     in.Content,
		SenderID:    client.UserID,
		RecipientID: in.To,
		SentAt:      in.SentAt,
		MediaURL:    in.MediaURL,
		MediaType:   in.MediaType,
	}

	ctx, cancel := s.storeCtx()
	defer cancel()

	convID, err := s.durable.PersistMessage(ctx, msg)
	if err != nil {
		durableWriteFailures.Inc()
		logger.Errorf("[gateway] durable write from=%s to=%s: %v", client.UserID, in.To, err)
		s.sendFrame(client, EventError, ErrorOut{
			Code:    errs.CodeDurableWriteFailure,
			Message: "message could not be saved",
		})
		return
	}
	msg.ConversationID = convID
	messagesSent.Inc()

	// recipient's room and the sender's own, so other tabs of the
	// sender see their message too
	s.publishRoom(ctx, in.To, EventPrivateMessage, msg)
	s.publishRoom(ctx, client.UserID, EventPrivateMessage, msg)

	// cache append is fire-and-forget; the durable copy is already the
	// copy of record
	safe.Go(func() {
		cctx, ccancel := s.storeCtx()
		defer ccancel()
		if err := s.cache.Append(cctx, msg); err != nil {
			logger.Warnf("[gateway] cache append conv=%s: %v", convID, err)
		}
	})
}

// onDisconnected tears the connection down. Presence only flips offline
// when the fleet census reports zero remaining connections for the user;
// a store failure defers the transition and its broadcast to a bounded
// background retry instead of leaving the user online forever.
func (s *Server) onDisconnected(client *Client) {
	client.Close()
	localRemaining := s.conns.Remove(client.ConnID)
	if localRemaining == 0 {
		if err := s.bus.LeaveRoom(client.UserID); err != nil {
			logger.Warnf("[gateway] leave room user=%s: %v", client.UserID, err)
		}
	}
	logger.Debugf("[gateway %s] conn closed conn=%s user=%s", s.opts.GatewayID, client.ConnID, client.UserID)

	ctx, cancel := s.storeCtx()
	defer cancel()

	// this token's connection is gone whatever presence says next
	rec := model.Session{UserID: client.UserID, Username: client.Username, Connected: false}
	if err := s.sessions.Save(ctx, client.Token, rec); err != nil {
		logger.Warnf("[gateway] session save user=%s: %v", client.UserID, err)
	}

	liveCount := func(ctx context.Context, userID string) (int, error) {
		n, err := s.bus.LiveConnections(ctx, userID)
		if err != nil {
			// census unavailable: fall back to what this worker knows
			logger.Warnf("[gateway] fleet census user=%s: %v", userID, err)
			return s.conns.CountForUser(userID), nil
		}
		return n, nil
	}

	wentOffline, err := s.presence.MarkOfflineIfLast(ctx, client.UserID, liveCount)
	if err != nil {
		logger.Warnf("[gateway] presence offline user=%s: %v", client.UserID, err)
		s.retryPresence("mark offline", func(rctx context.Context) error {
			went, rerr := s.presence.MarkOfflineIfLast(rctx, client.UserID, liveCount)
			if rerr != nil {
				return rerr
			}
			if went {
				s.announcePresence(EventUserDisconnected, client)
			}
			return nil
		})
		return
	}
	if !wentOffline {
		return
	}

	s.broadcast(ctx, EventUserDisconnected, PresenceOut{UserID: client.UserID}, client.UserID)
}
