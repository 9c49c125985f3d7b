package server

import "github.com/mikapo/netframe"

// Handler consumes dispatched messages together with the originating
// connection id, so replies can be targeted.
type Handler[ID netframe.Tag] interface {
	HandleMessage(connID uint32, msg netframe.Message[ID])
}

// HandlerFunc is an adapter to allow ordinary functions as Handlers.
type HandlerFunc[ID netframe.Tag] func(connID uint32, msg netframe.Message[ID])

// HandleMessage calls f with the connection id and message.
func (f HandlerFunc[ID]) HandleMessage(connID uint32, msg netframe.Message[ID]) {
	f(connID, msg)
}
