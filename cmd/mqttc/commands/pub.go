package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitalvas/mqttclient"
)

func newPubCmd() *cobra.Command {
	var (
		conn    connectFlags
		topic   string
		message string
		file    string
		qos     uint8
		retain  bool
		count   int
	)

	cmd := &cobra.Command{
		Use:   "pub",
		Short: "Publish a message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if topic == "" {
				return errors.New("--topic is required")
			}
			payload, err := readPayload(message, file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client, cleanup, err := dial(ctx, cmd, &conn)
			if err != nil {
				return err
			}
			defer cleanup()

			for i := 0; i < count; i++ {
				token := client.Publish(ctx, &mqttclient.Message{
					Topic:   topic,
					Payload: payload,
					QoS:     qos,
					Retain:  retain,
				})
				if err := token.Wait(ctx); err != nil {
					return fmt.Errorf("publish %d: %w", i+1, err)
				}
			}
			return nil
		},
	}

	conn.register(cmd.Flags())
	fs := cmd.Flags()
	fs.StringVarP(&topic, "topic", "t", "", "topic to publish to")
	fs.StringVarP(&message, "message", "m", "", "message payload")
	fs.StringVarP(&file, "file", "f", "", "read the payload from a file, - for stdin")
	fs.Uint8VarP(&qos, "qos", "q", 0, "QoS level 0, 1 or 2")
	fs.BoolVarP(&retain, "retain", "r", false, "set the retain flag")
	fs.IntVarP(&count, "count", "n", 1, "publish the message this many times")
	return cmd
}

func readPayload(message, file string) ([]byte, error) {
	switch {
	case file == "":
		return []byte(message), nil
	case message != "":
		return nil, errors.New("--message and --file are mutually exclusive")
	case file == "-":
		return io.ReadAll(os.Stdin)
	default:
		return os.ReadFile(file)
	}
}
