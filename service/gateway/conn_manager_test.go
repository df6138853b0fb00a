package gateway

import "testing"

func newLocalClient(connID, userID string) *Client {
	c := NewClient(connID, nil, 8)
	c.UserID = userID
	return c
}

func TestConnManagerMultiDevice(t *testing.T) {
	m := NewConnManager()
	m.Add(newLocalClient("c1", "u1"))
	m.Add(newLocalClient("c2", "u1"))
	m.Add(newLocalClient("c3", "u2"))

	if n := m.CountForUser("u1"); n != 2 {
		t.Fatalf("CountForUser(u1) = %d, want 2", n)
	}
	if n := m.CountForUser("u2"); n != 1 {
		t.Fatalf("CountForUser(u2) = %d, want 1", n)
	}

	if remaining := m.Remove("c1"); remaining != 1 {
		t.Fatalf("Remove(c1) remaining = %d, want 1", remaining)
	}
	if remaining := m.Remove("c2"); remaining != 0 {
		t.Fatalf("Remove(c2) remaining = %d, want 0", remaining)
	}
	if n := m.CountForUser("u1"); n != 0 {
		t.Fatalf("CountForUser(u1) after removals = %d", n)
	}

	// removing an unknown conn is harmless
	if remaining := m.Remove("nope"); remaining != 0 {
		t.Fatalf("Remove(unknown) = %d", remaining)
	}
}

func TestConnManagerSendToUser(t *testing.T) {
	m := NewConnManager()
	a1 := newLocalClient("a1", "a")
	a2 := newLocalClient("a2", "a")
	b1 := newLocalClient("b1", "b")
	m.Add(a1)
	m.Add(a2)
	m.Add(b1)

	m.SendToUser("a", []byte("x"))

	for _, c := range []*Client{a1, a2} {
		select {
		case <-c.send:
		default:
			t.Fatalf("conn %s did not receive payload", c.ConnID)
		}
	}
	select {
	case <-b1.send:
		t.Fatal("conn b1 received a payload addressed to user a")
	default:
	}
}

func TestConnManagerSendToAllExcept(t *testing.T) {
	m := NewConnManager()
	a1 := newLocalClient("a1", "a")
	b1 := newLocalClient("b1", "b")
	b2 := newLocalClient("b2", "b")
	m.Add(a1)
	m.Add(b1)
	m.Add(b2)

	m.SendToAllExcept("b", []byte("x"))

	select {
	case <-a1.send:
	default:
		t.Fatal("conn a1 did not receive broadcast")
	}
	for _, c := range []*Client{b1, b2} {
		select {
		case <-c.send:
			t.Fatalf("excluded conn %s received broadcast", c.ConnID)
		default:
		}
	}
}
