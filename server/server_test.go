package server_test

import (
	"sync"
	"testing"
	"time"

	"github.com/mikapo/netframe"
	"github.com/mikapo/netframe/server"
	"github.com/stretchr/testify/require"
)

type chatID uint32

const (
	idSetName chatID = iota
	idMessage
	idServerMessage
)

func startServer(t *testing.T, config *server.Config[chatID]) *server.Server[chatID] {
	t.Helper()

	srv := server.New("127.0.0.1:0", config)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	return srv
}

func connectClient(t *testing.T, srv *server.Server[chatID], config *netframe.ClientConfig) *netframe.Client[chatID] {
	t.Helper()

	cli := netframe.NewClient[chatID](config)
	require.NoError(t, cli.Connect(srv.Addr().String()))
	t.Cleanup(cli.Disconnect)

	return cli
}

func textMessage(t *testing.T, id chatID, text string) netframe.Message[chatID] {
	t.Helper()

	msg := netframe.NewMessage(id)
	require.NoError(t, msg.PushString(text))

	return msg
}

func TestBasicExchange(t *testing.T) {
	t.Parallel()

	srv := startServer(t, nil)
	cli := connectClient(t, srv, nil)

	sent := textMessage(t, idMessage, "hello")
	require.NoError(t, cli.Send(sent))

	var (
		gotID  uint32
		gotMsg netframe.Message[chatID]
	)
	n := srv.DispatchWait(server.HandlerFunc[chatID](func(connID uint32, msg netframe.Message[chatID]) {
		gotID = connID
		gotMsg = msg
	}))
	require.Equal(t, 1, n)

	// The reconstructed message matches the original structurally.
	require.NotZero(t, gotID)
	require.True(t, sent.Equal(&gotMsg))

	text, err := gotMsg.ExtractString()
	require.NoError(t, err)
	require.Equal(t, "hello", text)
}

func TestPerConnectionFIFO(t *testing.T) {
	t.Parallel()

	srv := startServer(t, nil)
	cli := connectClient(t, srv, nil)

	const count = 200
	for i := range count {
		msg := netframe.NewMessage(idMessage)
		require.NoError(t, msg.Push(uint32(i)))
		require.NoError(t, cli.Send(msg))
	}

	var got []uint32
	for len(got) < count {
		n := srv.DispatchWait(server.HandlerFunc[chatID](func(_ uint32, msg netframe.Message[chatID]) {
			var seq uint32
			require.NoError(t, msg.Extract(&seq))
			got = append(got, seq)
		}))
		require.NotZero(t, n)
	}

	for i := range count {
		require.Equal(t, uint32(i), got[i])
	}
}

func TestTargetedReply(t *testing.T) {
	t.Parallel()

	srv := startServer(t, nil)
	cli := connectClient(t, srv, nil)

	require.NoError(t, cli.Send(textMessage(t, idMessage, "ping")))

	srv.DispatchWait(server.HandlerFunc[chatID](func(connID uint32, _ netframe.Message[chatID]) {
		require.NoError(t, srv.Send(connID, textMessage(t, idServerMessage, "pong")))
	}))

	received := make([]string, 0, 1)
	n := cli.DispatchWait(func(msg netframe.Message[chatID]) {
		text, err := msg.ExtractString()
		require.NoError(t, err)
		received = append(received, text)
	})
	require.Equal(t, 1, n)
	require.Equal(t, []string{"pong"}, received)

	require.ErrorIs(t, srv.Send(9999, textMessage(t, idServerMessage, "nobody")), server.ErrUnknownConnection)
}

func TestNamingAndBroadcast(t *testing.T) {
	t.Parallel()

	// The direct-wired callback records names on the network goroutine so
	// the join broadcast happens before any later traffic is dispatched.
	var (
		mu    sync.Mutex
		names = make(map[uint32]string)
	)

	var srv *server.Server[chatID]
	config := &server.Config[chatID]{
		OnMessage: func(owned netframe.OwnedMessage[chatID]) {
			if owned.Msg.Header.ID != idSetName {
				srv.Runtime().Inbound().PushBack(owned)

				return
			}

			name, err := owned.Msg.ExtractString()
			if err != nil {
				owned.Conn.Disconnect()

				return
			}

			mu.Lock()
			names[owned.ConnID()] = name
			mu.Unlock()

			join := netframe.NewMessage(idServerMessage)
			_ = join.PushString(name + " joined")
			srv.Broadcast(join, owned.ConnID())
		},
	}
	srv = startServer(t, config)

	// Bob joins and names himself first, so alice's join broadcast has a
	// live recipient and bob's own broadcast had none.
	bob := connectClient(t, srv, nil)
	require.NoError(t, bob.Send(textMessage(t, idSetName, "bob")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(names) == 1
	}, 2*time.Second, 5*time.Millisecond)

	alice := connectClient(t, srv, nil)
	require.NoError(t, alice.Send(textMessage(t, idSetName, "alice")))

	var got []string
	n := bob.DispatchWait(func(msg netframe.Message[chatID]) {
		text, err := msg.ExtractString()
		require.NoError(t, err)
		got = append(got, text)
	})
	require.Equal(t, 1, n)
	require.Equal(t, []string{"alice joined"}, got)

	// The broadcast excluded alice's own connection.
	require.Zero(t, alice.Dispatch(func(netframe.Message[chatID]) {
		t.Error("alice received her own join broadcast")
	}))

	mu.Lock()
	require.Len(t, names, 2)
	mu.Unlock()
}

func TestAbruptDisconnect(t *testing.T) {
	t.Parallel()

	notes := make(chan netframe.Severity, 4)

	srv := startServer(t, nil)
	cli := connectClient(t, srv, &netframe.ClientConfig{
		OnNotify: func(severity netframe.Severity, _ string) {
			notes <- severity
		},
	})
	require.True(t, cli.IsConnected())

	// The connect notification arrives first.
	select {
	case sev := <-notes:
		require.Equal(t, netframe.SeverityInfo, sev)
	case <-time.After(2 * time.Second):
		t.Fatal("no connect notification")
	}

	// Server-side teardown must surface on the client within one read
	// cycle as a disconnect notification.
	srv.Stop()

	select {
	case <-notes:
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect notification")
	}

	require.Eventually(t, func() bool { return !cli.IsConnected() }, 2*time.Second, 5*time.Millisecond)

	require.ErrorIs(t, cli.Send(textMessage(t, idMessage, "too late")), netframe.ErrNotConnected)
}

func TestServerDoubleStartFails(t *testing.T) {
	t.Parallel()

	srv := startServer(t, nil)
	require.ErrorIs(t, srv.Start(), netframe.ErrAlreadyRunning)
}

func TestServerAddrBeforeStart(t *testing.T) {
	t.Parallel()

	srv := server.New[chatID]("127.0.0.1:0", nil)
	require.Nil(t, srv.Addr())
}

func TestServerCountTracksConnections(t *testing.T) {
	t.Parallel()

	srv := startServer(t, nil)

	a := connectClient(t, srv, nil)
	connectClient(t, srv, nil)

	require.Eventually(t, func() bool { return srv.Count() == 2 }, 2*time.Second, 5*time.Millisecond)

	a.Disconnect()

	require.Eventually(t, func() bool { return srv.Count() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestMaxConnsRefusesExcess(t *testing.T) {
	t.Parallel()

	srv := startServer(t, &server.Config[chatID]{MaxConns: 1})

	connectClient(t, srv, nil)
	require.Eventually(t, func() bool { return srv.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The second connection is accepted at the TCP level, then refused;
	// its client sees a disconnect rather than an admission.
	second := netframe.NewClient[chatID](nil)
	if err := second.Connect(srv.Addr().String()); err == nil {
		t.Cleanup(second.Disconnect)
	}

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, srv.Count())
}
