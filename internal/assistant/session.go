package assistant

import "github.com/google/uuid"

// ConnectionStatus describes reachability of the chat endpoint.
type ConnectionStatus string

const (
	Connected    ConnectionStatus = "connected"
	Reconnecting ConnectionStatus = "reconnecting"
	Disconnected ConnectionStatus = "disconnected"
)

// Session binds the turns of a conversation together on the backend. A new
// token means a new session; the token itself is never edited.
type Session struct {
	Token      string
	Connection ConnectionStatus
}

func newSession() Session {
	return Session{Token: uuid.NewString(), Connection: Connected}
}

// Identity supplies the signed-in citizen, if any. An empty UserID means an
// anonymous session.
type Identity interface {
	UserID() string
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func() string

func (f IdentityFunc) UserID() string { return f() }
