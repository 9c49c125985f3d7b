// Package netframe provides asynchronous, typed, length-framed message
// delivery over TCP for building client/server applications.
//
// Features:
//   - Message framing: a fixed 9-byte header (id, size, control tag)
//     followed by a body written and read with a stack-ordered
//     Push/Extract API, with overflow- and underflow-checked size fields.
//   - Connection: per-socket read and write loops that turn the byte
//     stream into discrete messages and preserve per-connection FIFO
//     order; failures tear down only the affected connection.
//   - Deque: the generic single-lock concurrent queue used for every
//     cross-goroutine handoff, with a condition-signaled blocking pop.
//   - Runtime: owns the network-side goroutines, a job scheduler, and
//     the shared inbound queue of one endpoint.
//   - Client and server roles: see Client in this package and the server
//     subpackage. An optional challenge/response validation handshake
//     rejects unauthorized peers before normal traffic flows.
//
// Basic client:
//
//	type MsgID uint32
//	const Ping MsgID = 1
//
//	cli := netframe.NewClient[MsgID](nil)
//	if err := cli.Connect("localhost:9000"); err != nil {
//	    // handle error
//	}
//	msg := netframe.NewMessage(Ping)
//	_ = msg.PushString("hello")
//	_ = cli.Send(msg)
//	cli.Dispatch(func(m netframe.Message[MsgID]) {
//	    // handle received message
//	})
//
// Basic server:
//
//	srv := server.New[MsgID](":9000", nil)
//	if err := srv.Start(); err != nil {
//	    // handle error
//	}
//	defer srv.Stop()
//	srv.Dispatch(server.HandlerFunc[MsgID](func(id uint32, m netframe.Message[MsgID]) {
//	    // reply via srv.Send(id, ...) or srv.Broadcast(...)
//	}))
package netframe
