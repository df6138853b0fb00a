package gateway

import (
	"sync"
)

// ConnManager is the worker-local connection registry: connID is the
// primary index, userID the secondary one. It answers this worker's share
// of the fleet census and fans payloads out to locally-held sockets.
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Client
	byUser map[string]map[string]*Client // userID -> connID -> client
}

func NewConnManager() *ConnManager {
	return &ConnManager{
		byConn: make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
	}
}

func (m *ConnManager) Add(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byConn[c.ConnID] = c
	if m.byUser[c.UserID] == nil {
		m.byUser[c.UserID] = make(map[string]*Client)
	}
	m.byUser[c.UserID][c.ConnID] = c
}

// Remove drops the connection and reports how many connections the user
// still holds on this worker.
func (m *ConnManager) Remove(connID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byConn[connID]
	if !ok {
		return 0
	}
	delete(m.byConn, connID)
	remaining := 0
	if mm := m.byUser[c.UserID]; mm != nil {
		delete(mm, connID)
		remaining = len(mm)
		if remaining == 0 {
			delete(m.byUser, c.UserID)
		}
	}
	return remaining
}

func (m *ConnManager) CountForUser(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID])
}

func (m *ConnManager) UserConns(userID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.byUser[userID]))
	for _, c := range m.byUser[userID] {
		out = append(out, c)
	}
	return out
}

// SendToUser delivers to every local connection of the user.
func (m *ConnManager) SendToUser(userID string, payload []byte) {
	for _, c := range m.UserConns(userID) {
		c.Enqueue(payload)
	}
}

// SendToAllExcept delivers to every local connection not owned by
// excludeUser.
func (m *ConnManager) SendToAllExcept(excludeUser string, payload []byte) {
	m.mu.RLock()
	targets := make([]*Client, 0, len(m.byConn))
	for _, c := range m.byConn {
		if c.UserID != excludeUser {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()
	for _, c := range targets {
		c.Enqueue(payload)
	}
}

func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Client, 0, len(m.byConn))
	for _, c := range m.byConn {
		conns = append(conns, c)
	}
	m.byConn = make(map[string]*Client)
	m.byUser = make(map[string]map[string]*Client)
	m.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
