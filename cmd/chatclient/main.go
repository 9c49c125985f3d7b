// Command chatclient runs the example chat client.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mikapo/netframe"
	"github.com/mikapo/netframe/chat"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "chatclient",
		Short:        "Framed-message TCP chat client",
		RunE:         run,
		SilenceUsage: true,
	}

	root.Flags().String("addr", "", "server address, host:port (prompted if empty)")
	root.Flags().String("name", "", "display name (prompted if empty)")
	root.Flags().Bool("validate", false, "answer the server's validation handshake")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	stdin := bufio.NewReader(os.Stdin)

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = prompt(stdin, "Write server address (host:port): ")
	}

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = prompt(stdin, "Please enter your username: ")
	}

	validate, _ := cmd.Flags().GetBool("validate")

	// Chat output goes to stdout; keep the framework quiet below warnings.
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel)

	cli := netframe.NewClient[chat.MsgID](&netframe.ClientConfig{
		Validation: validate,
		Logger:     &logger,
		OnNotify: func(severity netframe.Severity, note string) {
			if severity == netframe.SeverityError {
				fmt.Fprintln(os.Stderr, note)
			}
		},
	})

	if err := cli.Connect(addr); err != nil {
		fmt.Println("failed to connect")

		return err
	}

	fmt.Println("Connected successfully")

	nameMsg := netframe.NewMessage(chat.SetName)
	if err := nameMsg.PushString(name); err != nil {
		return err
	}
	if err := cli.Send(nameMsg); err != nil {
		return err
	}

	// Input loop: one chat message per stdin line.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			msg := netframe.NewMessage(chat.Message)
			if err := msg.PushString(scanner.Text()); err != nil {
				continue
			}
			if err := cli.Send(msg); err != nil {
				return
			}
		}
	}()

	// Receive loop: DispatchWait returns zero once the connection is gone
	// and the backlog has drained.
	for cli.DispatchWait(printMessage) > 0 {
	}

	cli.Disconnect()
	fmt.Println("Lost connection to server")

	return nil
}

func printMessage(msg netframe.Message[chat.MsgID]) {
	if msg.Header.ID != chat.ServerMessage {
		return
	}

	if text, err := msg.ExtractString(); err == nil {
		fmt.Println(text)
	}
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)

	line, _ := r.ReadString('\n')

	return strings.TrimSpace(line)
}
