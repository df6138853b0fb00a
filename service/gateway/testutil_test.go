package gateway

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/gutche/yappin/module/chat/model"
	"github.com/gutche/yappin/service/storage"
)

// fakeDurable mimics the relational collaborator: per-conversation
// message lists in insertion order, pages counted back from the newest.
type fakeDurable struct {
	mu       sync.Mutex
	msgs     map[string][]model.Message
	profiles map[string]model.UserProfile
	fail     bool
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{
		msgs:     make(map[string][]model.Message),
		profiles: make(map[string]model.UserProfile),
	}
}

func (f *fakeDurable) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeDurable) seed(m model.Message) string {
	conv := model.ConversationID(m.SenderID, m.RecipientID)
	m.ConversationID = conv
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[conv] = append(f.msgs[conv], m)
	return conv
}

func (f *fakeDurable) PersistMessage(_ context.Context, m model.Message) (string, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return "", errors.New("durable store down")
	}
	return f.seed(m), nil
}

func (f *fakeDurable) LoadConversationPage(_ context.Context, conversationID string, offset int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("durable store down")
	}
	all := f.msgs[conversationID]
	end := len(all) - offset
	if end <= 0 {
		return nil, nil
	}
	start := end - fakePageSize
	if start < 0 {
		start = 0
	}
	page := make([]model.Message, end-start)
	copy(page, all[start:end])
	return page, nil
}

// fakePageSize mirrors the durable collaborator's page unit.
const fakePageSize = 20

// flakyPresence fails a set number of presence transitions before the
// wrapped directory recovers, simulating a transient store outage.
type flakyPresence struct {
	storage.PresenceDirectory

	mu          sync.Mutex
	failOnline  int
	failOffline int
}

func (p *flakyPresence) failNext(online, offline int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOnline = online
	p.failOffline = offline
}

func (p *flakyPresence) MarkOnline(ctx context.Context, userID string) (bool, error) {
	p.mu.Lock()
	if p.failOnline > 0 {
		p.failOnline--
		p.mu.Unlock()
		return false, errors.New("presence store down")
	}
	p.mu.Unlock()
	return p.PresenceDirectory.MarkOnline(ctx, userID)
}

func (p *flakyPresence) MarkOfflineIfLast(ctx context.Context, userID string, liveCount storage.LiveCountFunc) (bool, error) {
	p.mu.Lock()
	if p.failOffline > 0 {
		p.failOffline--
		p.mu.Unlock()
		return false, errors.New("presence store down")
	}
	p.mu.Unlock()
	return p.PresenceDirectory.MarkOfflineIfLast(ctx, userID, liveCount)
}

func (f *fakeDurable) CountMessages(_ context.Context, conversationID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("durable store down")
	}
	return len(f.msgs[conversationID]), nil
}

func (f *fakeDurable) ConversationIDs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("durable store down")
	}
	var ids []string
	for conv, msgs := range f.msgs {
		for _, m := range msgs {
			if m.SenderID == userID || m.RecipientID == userID {
				ids = append(ids, conv)
				break
			}
		}
	}
	return ids, nil
}

func (f *fakeDurable) LookupUserProfile(_ context.Context, userID string) (model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prof, ok := f.profiles[userID]; ok {
		return prof, nil
	}
	return model.UserProfile{}, errors.Errorf("user %s not found", userID)
}
