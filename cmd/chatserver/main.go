// Command chatserver runs the example chat server.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mikapo/netframe"
	"github.com/mikapo/netframe/chat"
	"github.com/mikapo/netframe/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "chatserver",
		Short:        "Framed-message TCP chat server",
		RunE:         run,
		SilenceUsage: true,
	}

	root.Flags().String("config", "", "path to TOML config file")
	root.Flags().String("listen", ":6000", "listen address")
	root.Flags().Int("max-conns", 0, "maximum concurrent connections, 0 for no limit")
	root.Flags().Bool("validate", false, "require the validation handshake")
	root.Flags().String("metrics-listen", "", "address for Prometheus metrics, empty to disable")
	root.Flags().String("log-level", "info", "log level")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := defaultSettings()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := loadSettings(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	// Flags override the file.
	if cmd.Flags().Changed("listen") {
		cfg.Listen, _ = cmd.Flags().GetString("listen")
	}
	if cmd.Flags().Changed("max-conns") {
		cfg.MaxConns, _ = cmd.Flags().GetInt("max-conns")
	}
	if cmd.Flags().Changed("validate") {
		cfg.Validation, _ = cmd.Flags().GetBool("validate")
	}
	if cmd.Flags().Changed("metrics-listen") {
		cfg.MetricsListen, _ = cmd.Flags().GetString("metrics-listen")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	cs := &chatServer{
		names:  make(map[uint32]string),
		logger: logger,
	}

	var metrics *server.Metrics
	if cfg.MetricsListen != "" {
		metrics = server.NewMetrics(prometheus.DefaultRegisterer)

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsListen, nil); err != nil {
				logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	cs.srv = server.New(cfg.Listen, &server.Config[chat.MsgID]{
		MaxConns:     cfg.MaxConns,
		Validation:   cfg.Validation,
		Logger:       &logger,
		Metrics:      metrics,
		OnMessage:    cs.onMessage,
		OnDisconnect: cs.onDisconnect,
	})

	if err := cs.srv.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sig
		logger.Info().Msg("shutting down")
		cs.srv.Stop()
	}()

	// Application loop: block for inbound traffic and dispatch it here.
	for cs.srv.DispatchWait(cs) > 0 {
	}

	return nil
}

func initLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, err
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).Level(lvl).With().Timestamp().Str("app", "chatserver").Logger(), nil
}

// chatServer holds the id -> display-name table and routes chat traffic.
type chatServer struct {
	srv    *server.Server[chat.MsgID]
	logger zerolog.Logger

	mu    sync.Mutex
	names map[uint32]string
}

// onMessage runs on the network goroutine. SetName is handled here so the
// name is recorded before anything else from that client is dispatched;
// everything else goes to the inbound queue for the application loop.
func (cs *chatServer) onMessage(owned netframe.OwnedMessage[chat.MsgID]) {
	if owned.Msg.Header.ID != chat.SetName {
		cs.srv.Runtime().Inbound().PushBack(owned)

		return
	}

	name, err := owned.Msg.ExtractString()
	if err != nil {
		cs.logger.Warn().Uint32("conn", owned.ConnID()).Err(err).Msg("bad set_name payload")
		owned.Conn.Disconnect()

		return
	}

	cs.mu.Lock()
	cs.names[owned.ConnID()] = name
	cs.mu.Unlock()

	cs.logger.Info().Uint32("conn", owned.ConnID()).Str("name", name).Msg("name set")
	cs.announce(name+" joined", owned.ConnID())
}

// HandleMessage is the Dispatch handler, running on the application loop.
func (cs *chatServer) HandleMessage(connID uint32, msg netframe.Message[chat.MsgID]) {
	if msg.Header.ID != chat.Message {
		return
	}

	text, err := msg.ExtractString()
	if err != nil {
		cs.logger.Warn().Uint32("conn", connID).Err(err).Msg("bad message payload")

		return
	}

	cs.announce(cs.name(connID)+": "+text, connID)
}

func (cs *chatServer) onDisconnect(connID uint32, _ error) {
	cs.mu.Lock()
	name, known := cs.names[connID]
	delete(cs.names, connID)
	cs.mu.Unlock()

	if known {
		cs.announce(name+" left", 0)
	}
}

func (cs *chatServer) announce(text string, exceptID uint32) {
	msg := netframe.NewMessage(chat.ServerMessage)
	if err := msg.PushString(text); err != nil {
		return
	}

	cs.srv.Broadcast(msg, exceptID)
}

func (cs *chatServer) name(connID uint32) string {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if name, ok := cs.names[connID]; ok {
		return name
	}

	return "anonymous"
}
