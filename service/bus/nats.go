package bus

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/gutche/yappin/logger"
)

const (
	roomSubjectPrefix = "yappin.room."
	broadcastSubject  = "yappin.fleet.broadcast"
	censusSubject     = "yappin.fleet.conns"
)

// NATSConfig mirrors the knobs the workers actually tune.
type NATSConfig struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
	// CensusWindow bounds how long a fleet connection census waits for
	// worker replies. A worker that misses the window under-counts, which
	// at worst flips presence offline one check round early.
	CensusWindow time.Duration
}

func (c *NATSConfig) norm() {
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.CensusWindow == 0 {
		c.CensusWindow = 250 * time.Millisecond
	}
}

// NATSBus is the fleet-shared bus variant. Rooms map to subjects; the
// census uses scatter-gather request/reply: every worker (this one
// included) answers with its local connection count for the user.
type NATSBus struct {
	cfg     NATSConfig
	nc      *nats.Conn
	deliver DeliverFunc

	mu    sync.Mutex
	rooms map[string]*nats.Subscription
}

func NewNATSBus(cfg NATSConfig, deliver DeliverFunc, localCount LocalCountFunc) (*NATSBus, error) {
	cfg.norm()
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("[bus] nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("[bus] nats reconnected: %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}

	b := &NATSBus{
		cfg:     cfg,
		nc:      nc,
		deliver: deliver,
		rooms:   make(map[string]*nats.Subscription),
	}

	// broadcast fan-in: every worker receives and delivers locally
	if _, err := nc.Subscribe(broadcastSubject, b.onEnvelope); err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "subscribe broadcast")
	}

	// census responder: deliberately not a queue group, every worker
	// replies and the requester sums the replies
	if _, err := nc.Subscribe(censusSubject, func(msg *nats.Msg) {
		user := string(msg.Data)
		n := localCount(user)
		_ = msg.Respond([]byte(strconv.Itoa(n)))
	}); err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "subscribe census")
	}

	return b, nil
}

func (b *NATSBus) onEnvelope(msg *nats.Msg) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		logger.Warnf("[bus] drop malformed envelope: %v", err)
		return
	}
	b.deliver(env)
}

func (b *NATSBus) JoinRoom(room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rooms[room]; ok {
		return nil
	}
	sub, err := b.nc.Subscribe(roomSubjectPrefix+room, b.onEnvelope)
	if err != nil {
		return errors.Wrapf(err, "join room %s", room)
	}
	b.rooms[room] = sub
	return nil
}

func (b *NATSBus) LeaveRoom(room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.rooms[room]
	if !ok {
		return nil
	}
	delete(b.rooms, room)
	if err := sub.Unsubscribe(); err != nil {
		return errors.Wrapf(err, "leave room %s", room)
	}
	return nil
}

func (b *NATSBus) PublishRoom(_ context.Context, room string, env Envelope) error {
	env.Room = room
	raw, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	if err := b.nc.Publish(roomSubjectPrefix+room, raw); err != nil {
		return errors.Wrapf(err, "publish room %s", room)
	}
	return nil
}

func (b *NATSBus) Broadcast(_ context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	if err := b.nc.Publish(broadcastSubject, raw); err != nil {
		return errors.Wrap(err, "publish broadcast")
	}
	return nil
}

func (b *NATSBus) LiveConnections(ctx context.Context, userID string) (int, error) {
	inbox := nats.NewInbox()
	sub, err := b.nc.SubscribeSync(inbox)
	if err != nil {
		return 0, errors.Wrap(err, "census inbox")
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := b.nc.PublishRequest(censusSubject, inbox, []byte(userID)); err != nil {
		return 0, errors.Wrap(err, "census request")
	}

	deadline := time.Now().Add(b.cfg.CensusWindow)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	total := 0
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return total, nil
		}
		msg, err := sub.NextMsg(remaining)
		if err != nil {
			// window elapsed; whatever gathered so far is the census
			return total, nil
		}
		n, convErr := strconv.Atoi(string(msg.Data))
		if convErr != nil {
			continue
		}
		total += n
	}
}

func (b *NATSBus) Close() error {
	b.mu.Lock()
	for room, sub := range b.rooms {
		_ = sub.Unsubscribe()
		delete(b.rooms, room)
	}
	b.mu.Unlock()
	return b.nc.Drain()
}
