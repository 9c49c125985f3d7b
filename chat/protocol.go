// Package chat defines the wire protocol of the example chat application.
package chat

// MsgID enumerates the chat protocol's message tags.
type MsgID uint32

const (
	// SetName carries the client's display name, sent once after connect.
	SetName MsgID = 0

	// Message carries one line of chat text from a client.
	Message MsgID = 1

	// ServerMessage carries text the server pushes to clients.
	ServerMessage MsgID = 3
)
